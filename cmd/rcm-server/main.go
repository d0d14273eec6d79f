package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/MohanthTulimilli/skill-palaver-medibot/internal/config"
	"github.com/MohanthTulimilli/skill-palaver-medibot/internal/domain/risk"
	"github.com/MohanthTulimilli/skill-palaver-medibot/internal/platform/db"
	"github.com/MohanthTulimilli/skill-palaver-medibot/internal/platform/inference"
	"github.com/MohanthTulimilli/skill-palaver-medibot/migrations"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "rcm-server",
		Short:        "Revenue cycle risk scoring API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(scoreCmd())
	return rootCmd
}

func newLogger(env string, out io.Writer) zerolog.Logger {
	if env == "development" {
		out = zerolog.ConsoleWriter{Out: out}
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the risk scoring API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// migrationFiles returns the embedded migrations unless dir overrides them.
func migrationFiles(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

// openStore loads config and connects for the database subcommands.
func openStore(cmd *cobra.Command) (*pgxpool.Pool, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger := newLogger(cfg.Env, cmd.ErrOrStderr())
	pool, err := db.NewPool(cmd.Context(), db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	return pool, logger, err
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the feature_snapshots schema of a tenant",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			pool, logger, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := db.NewMigrator(pool, migrationFiles(dir), logger).Up(cmd.Context(), schema)
			for _, m := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied  %s\n", m.Name)
			}
			if err != nil {
				return fmt.Errorf("migrate %s: %w", schema, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d migration(s) applied\n", schema, len(applied))
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show applied migrations and stored snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			pool, logger, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer pool.Close()

			report, err := db.NewMigrator(pool, migrationFiles(dir), logger).Report(cmd.Context(), schema)
			if err != nil {
				return fmt.Errorf("status of %s: %w", schema, err)
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}

	for _, c := range []*cobra.Command{upCmd, statusCmd} {
		c.Flags().String("schema", db.SchemaName("default"), "Tenant schema to operate on")
		c.Flags().String("dir", "", "Migrations directory (defaults to the embedded set)")
		cmd.AddCommand(c)
	}
	return cmd
}

func printReport(out io.Writer, r *db.SchemaReport) {
	fmt.Fprintf(out, "schema %s: %d pending\n", r.Schema, r.Pending())
	for _, m := range r.Migrations {
		state := "pending"
		if m.Applied() {
			state = "applied " + m.AppliedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(out, "  %03d %-36s %s\n", m.Version, m.Name, state)
	}

	if r.Snapshots == nil {
		fmt.Fprintln(out, "feature_snapshots: not created")
		return
	}
	domains := make([]string, 0, len(r.Snapshots))
	for d := range r.Snapshots {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	fmt.Fprintf(out, "feature_snapshots: %d domain(s)\n", len(domains))
	for _, d := range domains {
		fmt.Fprintf(out, "  %-12s %d\n", d, r.Snapshots[d])
	}
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Provision a tenant schema for scoring",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			if !db.ValidTenantID(name) {
				return fmt.Errorf("invalid tenant name %q: use letters, digits and underscores", name)
			}

			pool, logger, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer pool.Close()

			n, err := db.ProvisionTenant(cmd.Context(), pool, name, migrations.FS, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tenant %s provisioned in %s (%d migration(s) applied)\n", name, db.SchemaName(name), n)
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric and underscores)")

	cmd.AddCommand(createCmd)
	return cmd
}

// scoreCmd predicts one raw attribute bag without touching the database.
func scoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a single record offline and print the prediction",
		RunE: func(cmd *cobra.Command, args []string) error {
			domainFlag, _ := cmd.Flags().GetString("domain")
			file, _ := cmd.Flags().GetString("file")
			mlURL, _ := cmd.Flags().GetString("ml-url")

			d, err := risk.ParseDomain(domainFlag)
			if err != nil {
				return fmt.Errorf("--domain %q: %w", domainFlag, err)
			}

			cfg, err := config.LoadWithoutDatabase()
			if err != nil {
				return err
			}
			if mlURL == "" {
				mlURL = cfg.MLServiceURL
			}

			bag, err := readBag(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}

			logger := newLogger(cfg.Env, cmd.ErrOrStderr())
			client := inference.NewClient(mlURL, logger)
			svc := risk.NewService(nil, client, nil, nil, logger)

			p, err := svc.Predict(cmd.Context(), d, bag)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Domain risk.Domain `json:"domain"`
				risk.Prediction
			}{d, p})
		},
	}
	cmd.Flags().String("domain", "", "claim, invoice or appointment")
	cmd.Flags().String("file", "", "JSON attribute bag; '-' reads stdin, empty scores the defaults")
	cmd.Flags().String("ml-url", "", "Inference service base URL (defaults to ML_SERVICE_URL)")
	_ = cmd.MarkFlagRequired("domain")
	return cmd
}

// readBag loads a JSON object from path, or from stdin when path is "-".
// Numbers are kept as json.Number so they reach the inference service as
// written.
func readBag(stdin io.Reader, path string) (map[string]any, error) {
	var r io.Reader
	switch path {
	case "":
		return nil, nil
	case "-":
		r = stdin
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open attribute bag: %w", err)
		}
		defer f.Close()
		r = f
	}

	dec := json.NewDecoder(r)
	dec.UseNumber()
	var bag map[string]any
	if err := dec.Decode(&bag); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode attribute bag: %w", err)
	}
	return bag, nil
}
