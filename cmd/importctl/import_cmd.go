package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rpattn/opscrm/internal/domain"
	"github.com/rpattn/opscrm/internal/ingestion"
	"github.com/rpattn/opscrm/internal/repository"

	"github.com/spf13/cobra"
)

type importOptions struct {
	mappingFile    string
	mappings       []string
	idempotencyKey string
	dryRun         bool
}

func newImportCmd(global *globalOptions) *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Upload, map and execute a CSV or XLSX lead file",
		Long: `Upload a lead file, apply a column mapping and execute the import.

Without --mapping or --map the mapping guessed from the header row is used.
Use --dry-run to print the preview without executing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return global.withApp(cmd, func(ctx context.Context, a *app) error {
				return runImport(ctx, cmd, a, global, opts, args[0])
			})
		},
	}

	cmd.Flags().StringVar(&opts.mappingFile, "mapping", "", "JSON file with a header to field mapping")
	cmd.Flags().StringArrayVar(&opts.mappings, "map", nil, "Header=field pair, repeatable")
	cmd.Flags().StringVar(&opts.idempotencyKey, "idempotency-key", "", "Replay a previous upload with the same key")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Preview without executing")
	return cmd
}

func runImport(ctx context.Context, cmd *cobra.Command, a *app, global *globalOptions, opts importOptions, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return withCode(exitValidation, fmt.Errorf("read %s: %w", path, err))
	}

	started, err := a.imports.Start(ctx, ingestion.StartRequest{
		WorkspaceID:    global.workspaceID,
		UploadedBy:     global.userID,
		FileName:       filepath.Base(path),
		Data:           data,
		IdempotencyKey: opts.idempotencyKey,
	})
	if err != nil {
		return err
	}
	run := started.Run
	if run.Status != domain.ImportRunStatusMapping && run.Status != domain.ImportRunStatusPreviewReady {
		a.log.WithField("status", run.Status).Warn("Run was already started by an earlier upload")
		return writeJSON(cmd.OutOrStdout(), run.Summary())
	}

	mapping, err := loadMapping(opts, run.ColumnMapping)
	if err != nil {
		return err
	}
	if _, err := a.imports.Map(ctx, global.workspaceID, run.ID, mapping); err != nil {
		return err
	}

	preview, err := a.imports.Preview(ctx, global.workspaceID, run.ID, nil)
	if err != nil {
		return err
	}
	if opts.dryRun {
		return writeJSON(cmd.OutOrStdout(), preview)
	}
	if preview.InvalidRows > 0 {
		a.log.WithField("invalid_rows", preview.InvalidRows).Warn("Preview found invalid rows, they will be recorded as errors")
	}

	summary, err := a.imports.Execute(ctx, global.workspaceID, run.ID)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), summary)
}

func loadMapping(opts importOptions, guessed domain.ColumnMapping) (domain.ColumnMapping, error) {
	mapping := domain.ColumnMapping{}
	switch {
	case opts.mappingFile != "":
		raw, err := os.ReadFile(opts.mappingFile)
		if err != nil {
			return nil, withCode(exitValidation, fmt.Errorf("read mapping: %w", err))
		}
		if err := json.Unmarshal(raw, &mapping); err != nil {
			return nil, withCode(exitValidation, fmt.Errorf("decode mapping: %w", err))
		}
	case len(opts.mappings) == 0:
		for header, field := range guessed {
			mapping[header] = field
		}
	}
	for _, pair := range opts.mappings {
		header, field, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, withCode(exitValidation, fmt.Errorf("invalid --map %q, want Header=field", pair))
		}
		mapping[strings.TrimSpace(header)] = strings.TrimSpace(field)
	}
	return mapping, nil
}

func newRunsCmd(global *globalOptions) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "runs [RUN_ID]",
		Short: "List import runs or show one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return global.withApp(cmd, func(ctx context.Context, a *app) error {
				if len(args) == 1 {
					runID, err := parseUUIDArg("run id", args[0])
					if err != nil {
						return err
					}
					run, err := a.imports.GetRun(ctx, global.workspaceID, runID)
					if err != nil {
						return err
					}
					return writeJSON(cmd.OutOrStdout(), run)
				}
				runs, err := a.imports.ListRuns(ctx, global.workspaceID, limit, offset)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), runs)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "Runs to skip")
	return cmd
}

func newRowsCmd(global *globalOptions) *cobra.Command {
	var (
		statuses []string
		limit    int
		offset   int
	)

	cmd := &cobra.Command{
		Use:   "rows RUN_ID",
		Short: "List the rows of an import run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseUUIDArg("run id", args[0])
			if err != nil {
				return err
			}
			filter := repository.RowFilter{Limit: limit, Offset: offset}
			for _, status := range statuses {
				filter.Statuses = append(filter.Statuses, domain.ImportRowStatus(strings.ToUpper(strings.TrimSpace(status))))
			}
			return global.withApp(cmd, func(ctx context.Context, a *app) error {
				page, err := a.imports.ListRows(ctx, global.workspaceID, runID, filter)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), page)
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Only rows with these statuses")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "Rows to skip")
	return cmd
}
