package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/calliope/internal/profile"
	"github.com/hrygo/calliope/plugin/ai"
	"github.com/hrygo/calliope/plugin/ai/cache"
	"github.com/hrygo/calliope/server"
	"github.com/hrygo/calliope/server/retrieval"
	"github.com/hrygo/calliope/store"
	"github.com/hrygo/calliope/store/db"
)

const version = "0.1.0"

var (
	rootCmd = &cobra.Command{
		Use:   "calliope",
		Short: "A research assistant that answers from fresh web sources and remembers what matters.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveCmd.RunE(cmd, args)
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(_ *cobra.Command, _ []string) error {
			instanceProfile, err := loadProfile()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			storeInstance, err := openStore(ctx, instanceProfile)
			if err != nil {
				return err
			}

			s, err := server.NewServer(ctx, instanceProfile, storeInstance)
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}

			c := make(chan os.Signal, 1)
			// Trigger graceful shutdown on SIGINT or SIGTERM.
			signal.Notify(c, os.Interrupt, syscall.SIGTERM)

			if err := s.Start(ctx); err != nil {
				return fmt.Errorf("failed to start server: %w", err)
			}
			printGreetings(instanceProfile, s.Addr())

			<-c
			s.Shutdown(ctx)
			return nil
		},
	}

	contextCmd = &cobra.Command{
		Use:   "context [query]",
		Short: "Print the web context retrieved for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			instanceProfile, err := loadProfile()
			if err != nil {
				return err
			}
			k, err := cmd.Flags().GetInt("k")
			if err != nil {
				return err
			}

			aiConfig := ai.NewConfigFromProfile(instanceProfile)
			embedder, err := ai.NewEmbeddingService(&aiConfig.Embedding)
			if err != nil {
				slog.Warn("embedding service unavailable, results will not be reranked", "error", err)
				embedder = nil
			}
			searchCache, err := cache.NewService(cache.DefaultServiceConfig())
			if err != nil {
				return err
			}
			retriever := retrieval.NewWebRetrieverFromProfile(instanceProfile, embedder, searchCache)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			rctx := retriever.GetContext(ctx, strings.Join(args, " "), k)

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(rctx)
			}
			if rctx.IsEmpty() {
				fmt.Fprintln(cmd.OutOrStdout(), "No sources found.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), rctx.Context)
			fmt.Fprintln(cmd.OutOrStdout())
			for _, src := range rctx.Sources {
				fmt.Fprintf(cmd.OutOrStdout(), "[%d] %s - %s\n", src.ID, src.Title, src.URL)
			}
			return nil
		},
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema and seed memory categories",
		RunE: func(cmd *cobra.Command, _ []string) error {
			instanceProfile, err := loadProfile()
			if err != nil {
				return err
			}
			storeInstance, err := openStore(cmd.Context(), instanceProfile)
			if err != nil {
				return err
			}
			defer storeInstance.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "database migrated (%s)\n", instanceProfile.Driver)
			return nil
		},
	}
)

func loadProfile() (*profile.Profile, error) {
	instanceProfile := &profile.Profile{}
	instanceProfile.FromEnv()
	// Flags and CALLIOPE_* variables bound through viper take precedence.
	instanceProfile.Mode = viper.GetString("mode")
	instanceProfile.Addr = viper.GetString("addr")
	instanceProfile.Port = viper.GetInt("port")
	instanceProfile.Data = viper.GetString("data")
	instanceProfile.Driver = viper.GetString("driver")
	instanceProfile.DSN = viper.GetString("dsn")
	instanceProfile.Version = version
	if err := instanceProfile.Validate(); err != nil {
		return nil, err
	}
	return instanceProfile, nil
}

func openStore(ctx context.Context, instanceProfile *profile.Profile) (*store.Store, error) {
	dbDriver, err := db.NewDBDriver(instanceProfile)
	if err != nil {
		return nil, fmt.Errorf("failed to create db driver: %w", err)
	}
	storeInstance := store.New(dbDriver, instanceProfile)
	if err := storeInstance.Migrate(ctx); err != nil {
		storeInstance.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return storeInstance, nil
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 8081)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 8081, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver (sqlite or postgres)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")

	for _, name := range []string{"mode", "addr", "port", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("calliope")
	viper.AutomaticEnv()

	contextCmd.Flags().Int("k", 3, "number of sources to keep")
	contextCmd.Flags().Bool("json", false, "print the context as JSON")

	rootCmd.AddCommand(serveCmd, contextCmd, migrateCmd)
}

func printGreetings(p *profile.Profile, addr string) {
	fmt.Printf("Calliope %s started successfully!\n", p.Version)
	if p.IsDev() {
		fmt.Fprintf(os.Stderr, "Development mode is enabled\n")
		fmt.Fprintf(os.Stderr, "Database: %s (%s)\n", p.DSN, p.Driver)
	}
	fmt.Printf("Data directory: %s\n", p.Data)
	fmt.Printf("Server running at http://%s\n", addr)
	fmt.Printf("AI enabled: %v (%s)\n", p.IsAIEnabled(), p.AILLMProvider)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
