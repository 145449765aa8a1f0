// Command importctl drives lead imports and merges from the command line.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rpattn/opscrm/internal/config"
	"github.com/rpattn/opscrm/internal/db"
	"github.com/rpattn/opscrm/internal/dedupe"
	"github.com/rpattn/opscrm/internal/domain"
	"github.com/rpattn/opscrm/internal/export"
	"github.com/rpattn/opscrm/internal/ingestion"
	"github.com/rpattn/opscrm/internal/logger"
	"github.com/rpattn/opscrm/internal/merge"
	"github.com/rpattn/opscrm/internal/repository"
	"github.com/rpattn/opscrm/internal/repository/memstore"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const (
	exitInternal   = 1
	exitValidation = 2
	exitNotFound   = 3
	exitConflict   = 4
)

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

func exitCodeFor(err error) int {
	var coded *exitError
	if errors.As(err, &coded) {
		return coded.code
	}
	switch domain.CodeOf(err) {
	case domain.CodeValidation:
		return exitValidation
	case domain.CodeNotFound:
		return exitNotFound
	case domain.CodeStateConflict:
		return exitConflict
	default:
		return exitInternal
	}
}

// globalOptions are shared by every subcommand.
type globalOptions struct {
	configPath string
	workspace  string
	user       string
	memory     bool
	logLevel   string

	workspaceID uuid.UUID
	userID      uuid.UUID
}

// app holds the wired services for one invocation.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	store   repository.Store
	imports *ingestion.Service
	merges  *merge.Service
	reports *export.Service
	close   func()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		cancel()
		os.Exit(exitCodeFor(err))
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "importctl",
		Short:         "Import, deduplicate and merge leads",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", ".", "Config file or directory")
	root.PersistentFlags().StringVar(&opts.workspace, "workspace", os.Getenv("OPSCRM_WORKSPACE_ID"), "Workspace UUID")
	root.PersistentFlags().StringVar(&opts.user, "user", os.Getenv("OPSCRM_USER_ID"), "Acting user UUID")
	root.PersistentFlags().BoolVar(&opts.memory, "memory", false, "Use an in-memory store instead of Postgres")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level")

	root.AddCommand(
		newMigrateCmd(opts),
		newImportCmd(opts),
		newRunsCmd(opts),
		newRowsCmd(opts),
		newResolveCmd(opts),
		newMergeCmd(opts),
		newReportCmd(opts),
	)
	return root
}

// parseScope validates the workspace and user flags.
func (o *globalOptions) parseScope() error {
	workspaceID, err := uuid.Parse(strings.TrimSpace(o.workspace))
	if err != nil {
		return withCode(exitValidation, fmt.Errorf("invalid --workspace: %w", err))
	}
	userID, err := uuid.Parse(strings.TrimSpace(o.user))
	if err != nil {
		return withCode(exitValidation, fmt.Errorf("invalid --user: %w", err))
	}
	o.workspaceID = workspaceID
	o.userID = userID
	return nil
}

// open loads configuration and wires the services against the selected store.
func (o *globalOptions) open(ctx context.Context) (context.Context, *app, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return ctx, nil, withCode(exitValidation, err)
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = o.logLevel
	logCfg.Format = "text"
	logCfg.Output = os.Stderr
	log := logger.New(logCfg).WithField(logger.FieldComponent, "importctl")
	ctx = log.WithContext(ctx)

	a := &app{cfg: cfg, log: log, close: func() {}}
	if o.memory {
		a.store = memstore.New()
	} else {
		conn, err := db.NewConnection(ctx, cfg.Database)
		if err != nil {
			return ctx, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.store = repository.NewPostgresStore(conn.Pool)
		a.close = conn.Close
	}

	classifier := dedupe.NewClassifier()
	if cfg.Matching.FuzzyThreshold > 0 {
		classifier = dedupe.NewClassifier(dedupe.WithSoftMatcher(dedupe.FuzzySoftMatcher{Threshold: cfg.Matching.FuzzyThreshold}))
	}
	a.imports = ingestion.NewService(a.store,
		ingestion.WithChunkSize(cfg.Import.ChunkSize),
		ingestion.WithPreviewLimit(cfg.Import.PreviewLimit),
		ingestion.WithClassifier(classifier),
	)
	a.merges = merge.NewService(a.store)
	a.reports = export.NewService(a.store)
	return ctx, a, nil
}

// withApp parses the scope, wires the services and runs fn.
func (o *globalOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	if err := o.parseScope(); err != nil {
		return err
	}
	ctx, a, err := o.open(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func newMigrateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return withCode(exitValidation, err)
			}
			logCfg := logger.DefaultConfig()
			logCfg.Level = "info"
			logCfg.Format = "text"
			logCfg.Output = os.Stderr
			return db.RunMigrations(cfg.Database, logger.New(logCfg))
		},
	}
}

func writeJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func parseUUIDArg(name, value string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil, withCode(exitValidation, fmt.Errorf("invalid %s: %w", name, err))
	}
	return id, nil
}

// parseChoices reads field=existing|incoming pairs.
func parseChoices(pairs []string) (domain.ChosenFields, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	chosen := make(domain.ChosenFields, len(pairs))
	for _, pair := range pairs {
		field, choice, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, withCode(exitValidation, fmt.Errorf("invalid --choose %q, want field=existing|incoming", pair))
		}
		chosen[domain.LeadField(strings.TrimSpace(field))] = domain.FieldChoice(strings.ToLower(strings.TrimSpace(choice)))
	}
	return chosen, nil
}
