package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hrygo/calliope/store"
)

func (d *DB) CreateMemoryCategory(ctx context.Context, create *store.MemoryCategory) (*store.MemoryCategory, error) {
	stmt := `INSERT INTO memory_category (name, description, active) VALUES (` + placeholders(3) + `) RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt, create.Name, create.Description, create.Active).Scan(&create.ID); err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, fmt.Errorf("failed to create memory_category: %w", err)
	}
	return create, nil
}

func (d *DB) ListMemoryCategories(ctx context.Context, find *store.FindMemoryCategory) ([]*store.MemoryCategory, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.Name != nil {
		where, args = append(where, "name = "+placeholder(len(args)+1)), append(args, *find.Name)
	}
	if find.Active != nil {
		where, args = append(where, "active = "+placeholder(len(args)+1)), append(args, *find.Active)
	}

	query := `SELECT id, name, description, active FROM memory_category WHERE ` + strings.Join(where, " AND ") + ` ORDER BY name ASC`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list memory_categories: %w", err)
	}
	defer rows.Close()

	list := make([]*store.MemoryCategory, 0)
	for rows.Next() {
		c := &store.MemoryCategory{}
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.Active); err != nil {
			return nil, fmt.Errorf("failed to scan memory_category: %w", err)
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memory_categories: %w", err)
	}
	return list, nil
}

const memoryRecordColumns = `id, owner_id, category_id, title, content, importance_score, confidence_score, is_verified, is_active, source_type, created_ts, updated_ts, last_accessed_ts`

func (d *DB) CreateMemoryRecord(ctx context.Context, create *store.MemoryRecord, provenance *store.MemoryProvenance) (*store.MemoryRecord, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	fields := []string{"owner_id", "category_id", "title", "content", "importance_score", "confidence_score", "is_verified", "is_active", "source_type", "created_ts", "updated_ts", "last_accessed_ts"}
	args := []any{create.OwnerID, create.CategoryID, create.Title, create.Content, create.ImportanceScore, create.ConfidenceScore, create.IsVerified, create.IsActive, string(create.SourceType), create.CreatedTs, create.UpdatedTs, create.LastAccessedTs}
	stmt := `INSERT INTO memory_record (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := tx.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, fmt.Errorf("failed to create memory_record: %w", err)
	}

	if provenance != nil {
		provenance.MemoryID = create.ID
		fields := []string{"memory_id", "conversation_id", "turn_id", "source_type", "created_ts"}
		args := []any{provenance.MemoryID, provenance.ConversationID, provenance.TurnID, string(provenance.SourceType), provenance.CreatedTs}
		stmt := `INSERT INTO memory_provenance (` + strings.Join(fields, ", ") + `)
			VALUES (` + placeholders(len(args)) + `)
			RETURNING id`
		if err := tx.QueryRowContext(ctx, stmt, args...).Scan(&provenance.ID); err != nil {
			return nil, fmt.Errorf("failed to create memory_provenance: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit memory_record: %w", err)
	}
	return create, nil
}

func buildMemoryRecordWhere(find *store.FindMemoryRecord) ([]string, []any) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.OwnerID != nil {
		where, args = append(where, "owner_id = "+placeholder(len(args)+1)), append(args, *find.OwnerID)
	}
	if find.CategoryID != nil {
		where, args = append(where, "category_id = "+placeholder(len(args)+1)), append(args, *find.CategoryID)
	}
	if find.IsActive != nil {
		where, args = append(where, "is_active = "+placeholder(len(args)+1)), append(args, *find.IsActive)
	}
	if find.IsVerified != nil {
		where, args = append(where, "is_verified = "+placeholder(len(args)+1)), append(args, *find.IsVerified)
	}
	return where, args
}

func (d *DB) ListMemoryRecords(ctx context.Context, find *store.FindMemoryRecord) ([]*store.MemoryRecord, error) {
	where, args := buildMemoryRecordWhere(find)

	orderBy := "last_accessed_ts DESC, id DESC"
	if find.OrderBy == store.OrderByImportance {
		orderBy = "importance_score DESC, last_accessed_ts DESC, id DESC"
	}
	query := `SELECT ` + memoryRecordColumns + ` FROM memory_record WHERE ` + strings.Join(where, " AND ") + ` ORDER BY ` + orderBy
	if find.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", find.Limit)
		if find.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list memory_records: %w", err)
	}
	defer rows.Close()

	list := make([]*store.MemoryRecord, 0)
	for rows.Next() {
		r, err := scanMemoryRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory_record: %w", err)
		}
		list = append(list, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memory_records: %w", err)
	}
	return list, nil
}

func (d *DB) CountMemoryRecords(ctx context.Context, find *store.FindMemoryRecord) (int, error) {
	where, args := buildMemoryRecordWhere(find)
	var count int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_record WHERE `+strings.Join(where, " AND "), args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count memory_records: %w", err)
	}
	return count, nil
}

func (d *DB) UpdateMemoryRecord(ctx context.Context, update *store.UpdateMemoryRecord) (*store.MemoryRecord, error) {
	set, args := []string{}, []any{}

	if update.CategoryID != nil {
		set, args = append(set, "category_id = "+placeholder(len(args)+1)), append(args, *update.CategoryID)
	}
	if update.Title != nil {
		set, args = append(set, "title = "+placeholder(len(args)+1)), append(args, *update.Title)
	}
	if update.Content != nil {
		set, args = append(set, "content = "+placeholder(len(args)+1)), append(args, *update.Content)
	}
	if update.ImportanceScore != nil {
		set, args = append(set, "importance_score = "+placeholder(len(args)+1)), append(args, *update.ImportanceScore)
	}
	if update.ConfidenceScore != nil {
		set, args = append(set, "confidence_score = "+placeholder(len(args)+1)), append(args, *update.ConfidenceScore)
	}
	if update.IsVerified != nil {
		set, args = append(set, "is_verified = "+placeholder(len(args)+1)), append(args, *update.IsVerified)
	}
	if update.IsActive != nil {
		set, args = append(set, "is_active = "+placeholder(len(args)+1)), append(args, *update.IsActive)
	}
	if update.LastAccessedTs != nil {
		set, args = append(set, "last_accessed_ts = "+placeholder(len(args)+1)), append(args, *update.LastAccessedTs)
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, *update.UpdatedTs)
	}

	if len(set) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}

	args = append(args, update.ID)
	stmt := `UPDATE memory_record SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args)) + ` RETURNING ` + memoryRecordColumns
	r, err := scanMemoryRecord(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, fmt.Errorf("failed to update memory_record: %w", err)
	}
	return r, nil
}

func (d *DB) DeleteMemoryRecord(ctx context.Context, delete *store.DeleteMemoryRecord) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_provenance WHERE memory_id = `+placeholder(1), delete.ID); err != nil {
		return fmt.Errorf("failed to delete memory_provenance: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM memory_record WHERE id = `+placeholder(1), delete.ID)
	if err != nil {
		return fmt.Errorf("failed to delete memory_record: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return store.ErrNotFound
	}
	return tx.Commit()
}

func (d *DB) ListMemoryProvenances(ctx context.Context, find *store.FindMemoryProvenance) ([]*store.MemoryProvenance, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.MemoryID != nil {
		where, args = append(where, "memory_id = "+placeholder(len(args)+1)), append(args, *find.MemoryID)
	}
	if find.ConversationID != nil {
		where, args = append(where, "conversation_id = "+placeholder(len(args)+1)), append(args, *find.ConversationID)
	}

	query := `SELECT id, memory_id, conversation_id, turn_id, source_type, created_ts FROM memory_provenance WHERE ` + strings.Join(where, " AND ") + ` ORDER BY id ASC`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list memory_provenances: %w", err)
	}
	defer rows.Close()

	list := make([]*store.MemoryProvenance, 0)
	for rows.Next() {
		p := &store.MemoryProvenance{}
		var conversationID, turnID sql.NullInt32
		var sourceType string
		if err := rows.Scan(&p.ID, &p.MemoryID, &conversationID, &turnID, &sourceType, &p.CreatedTs); err != nil {
			return nil, fmt.Errorf("failed to scan memory_provenance: %w", err)
		}
		if conversationID.Valid {
			p.ConversationID = &conversationID.Int32
		}
		if turnID.Valid {
			p.TurnID = &turnID.Int32
		}
		p.SourceType = store.MemorySourceType(sourceType)
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memory_provenances: %w", err)
	}
	return list, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemoryRecord(row rowScanner) (*store.MemoryRecord, error) {
	r := &store.MemoryRecord{}
	var sourceType string
	if err := row.Scan(&r.ID, &r.OwnerID, &r.CategoryID, &r.Title, &r.Content, &r.ImportanceScore, &r.ConfidenceScore, &r.IsVerified, &r.IsActive, &sourceType, &r.CreatedTs, &r.UpdatedTs, &r.LastAccessedTs); err != nil {
		return nil, err
	}
	r.SourceType = store.MemorySourceType(sourceType)
	return r, nil
}
