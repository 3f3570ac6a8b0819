package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pkg/errors"
)

// Migration flow:
// 1. preMigrate: if the database is not initialized, apply LATEST.sql for the driver.
// 2. seedCategories: insert the default memory categories when none exist.
//
// Schema files live at store/migration/{driver}/LATEST.sql.

//go:embed migration
var migrationFS embed.FS

// LatestSchemaFileName is the full schema applied to fresh installations.
const LatestSchemaFileName = "LATEST.sql"

// DefaultMemoryCategories are seeded into an empty memory_category table.
var DefaultMemoryCategories = []MemoryCategory{
	{Name: "Personal Information", Description: "User name, age, location, etc."},
	{Name: "Professional", Description: "User job, career, work preferences."},
	{Name: "Interests & Hobbies", Description: "User activities, passions, entertainment."},
	{Name: "Preferences", Description: "User communication style, format preferences."},
	{Name: "Goals & Aspirations", Description: "User short-term and long-term objectives."},
	{Name: "Relationships", Description: "Friends, family, colleagues mentioned by the user."},
	{Name: "Technical Skills", Description: "User programming languages, tools, expertise."},
	{Name: "Health & Lifestyle", Description: "User routines, health info if shared."},
	{Name: "Learning & Education", Description: "Courses or skills the user is developing."},
	{Name: "Miscellaneous", Description: "Everything else that doesn't fit in other categories."},
}

// Migrate initializes the schema when needed and seeds default data.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.preMigrate(ctx); err != nil {
		return errors.Wrap(err, "failed to pre-migrate")
	}
	if err := s.seedCategories(ctx); err != nil {
		return errors.Wrap(err, "failed to seed memory categories")
	}
	return nil
}

// preMigrate checks if the database is initialized and applies the latest schema if not.
func (s *Store) preMigrate(ctx context.Context) error {
	initialized, err := s.driver.IsInitialized(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to check if database is initialized")
	}
	if initialized {
		return nil
	}

	filePath := s.getMigrationBasePath() + LatestSchemaFileName
	bytes, err := migrationFS.ReadFile(filePath)
	if err != nil {
		return errors.Errorf("failed to read latest schema file: %s", err)
	}
	tx, err := s.driver.GetDB().BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to start transaction")
	}
	defer tx.Rollback()
	slog.Info("initializing new database with latest schema", slog.String("file", filePath))
	if err := s.execute(ctx, tx, string(bytes)); err != nil {
		return errors.Errorf("failed to execute SQL file %s, err %s", filePath, err)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	slog.Info("database initialized successfully", slog.String("driver", s.driver.Type()))
	return nil
}

func (s *Store) seedCategories(ctx context.Context) error {
	existing, err := s.driver.ListMemoryCategories(ctx, &FindMemoryCategory{})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for _, category := range DefaultMemoryCategories {
		category.Active = true
		if _, err := s.driver.CreateMemoryCategory(ctx, &category); err != nil {
			return errors.Wrapf(err, "failed to create category %q", category.Name)
		}
	}
	slog.Info("seeded memory categories", slog.Int("count", len(DefaultMemoryCategories)))
	return nil
}

func (s *Store) getMigrationBasePath() string {
	return fmt.Sprintf("migration/%s/", s.driver.Type())
}

// execute runs a schema script within a transaction.
// PostgreSQL rejects multiple statements in one ExecContext call, so the script is split first.
func (s *Store) execute(ctx context.Context, tx *sql.Tx, stmt string) error {
	if s.driver.Type() == "postgres" {
		return executeMultiStmt(ctx, tx, stmt)
	}
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return errors.Wrap(err, "failed to execute statement")
	}
	return nil
}

func executeMultiStmt(ctx context.Context, tx *sql.Tx, script string) error {
	for i, stmt := range splitSQL(script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "failed to execute statement %d: %s", i+1, stmt)
		}
	}
	return nil
}

// splitSQL splits a script into statements on semicolons outside single quotes.
// Comment lines are dropped.
func splitSQL(script string) []string {
	var statements []string
	var current strings.Builder
	inSingleQuote := false

	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if !inSingleQuote && (trimmed == "" || strings.HasPrefix(trimmed, "--")) {
			continue
		}
		for i := 0; i < len(line); i++ {
			ch := line[i]
			if ch == '\'' {
				inSingleQuote = !inSingleQuote
			}
			if ch == ';' && !inSingleQuote {
				if stmt := strings.TrimSpace(current.String()); stmt != "" {
					statements = append(statements, stmt)
				}
				current.Reset()
				continue
			}
			current.WriteByte(ch)
		}
		current.WriteByte('\n')
	}
	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		statements = append(statements, stmt)
	}
	return statements
}
