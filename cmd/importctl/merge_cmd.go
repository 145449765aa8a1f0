package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rpattn/opscrm/internal/domain"
	"github.com/rpattn/opscrm/internal/export"
	"github.com/rpattn/opscrm/internal/merge"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newResolveCmd(global *globalOptions) *cobra.Command {
	var (
		action  string
		matched string
		choices []string
		reason  string
	)

	cmd := &cobra.Command{
		Use:   "resolve ROW_ID",
		Short: "Resolve a soft-duplicate row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rowID, err := parseUUIDArg("row id", args[0])
			if err != nil {
				return err
			}
			chosen, err := parseChoices(choices)
			if err != nil {
				return err
			}
			return global.withApp(cmd, func(ctx context.Context, a *app) error {
				req := merge.ResolveRequest{
					WorkspaceID:  global.workspaceID,
					UserID:       global.userID,
					RowID:        rowID,
					Action:       domain.ResolutionAction(strings.ToUpper(strings.TrimSpace(action))),
					ChosenFields: chosen,
					Reason:       reason,
				}
				if matched != "" {
					id, err := parseUUIDArg("--matched", matched)
					if err != nil {
						return err
					}
					req.MatchedLeadID = &id
				}
				result, err := a.merges.ResolveSoftDuplicate(ctx, req)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), result)
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "SKIP, CREATE, LINK_EXISTING or MERGE")
	cmd.Flags().StringVar(&matched, "matched", "", "Lead to link or merge into, defaults to the flagged match")
	cmd.Flags().StringArrayVar(&choices, "choose", nil, "field=existing|incoming, repeatable")
	cmd.Flags().StringVar(&reason, "reason", "", "Free-text reason")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func newMergeCmd(global *globalOptions) *cobra.Command {
	var (
		choices []string
		reason  string
		run     string
		logs    bool
	)

	cmd := &cobra.Command{
		Use:   "merge PRIMARY_LEAD_ID [MERGED_LEAD_ID]",
		Short: "Merge one lead into another, or list merge history with --logs",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			primaryID, err := parseUUIDArg("primary lead id", args[0])
			if err != nil {
				return err
			}
			if logs {
				return global.withApp(cmd, func(ctx context.Context, a *app) error {
					entries, err := a.merges.ListMergeLogs(ctx, global.workspaceID, primaryID)
					if err != nil {
						return err
					}
					views, err := merge.MergeLogViews(entries)
					if err != nil {
						return err
					}
					return writeJSON(cmd.OutOrStdout(), views)
				})
			}
			if len(args) != 2 {
				return withCode(exitValidation, fmt.Errorf("merged lead id is required"))
			}
			mergedID, err := parseUUIDArg("merged lead id", args[1])
			if err != nil {
				return err
			}
			chosen, err := parseChoices(choices)
			if err != nil {
				return err
			}
			var runID *uuid.UUID
			if run != "" {
				id, err := parseUUIDArg("--run", run)
				if err != nil {
					return err
				}
				runID = &id
			}
			return global.withApp(cmd, func(ctx context.Context, a *app) error {
				result, err := a.merges.MergeLeadRecords(ctx, merge.MergeRequest{
					WorkspaceID:   global.workspaceID,
					UserID:        global.userID,
					PrimaryLeadID: primaryID,
					MergedLeadID:  mergedID,
					ChosenFields:  chosen,
					Reason:        reason,
					ImportRunID:   runID,
				})
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), result)
			})
		},
	}
	cmd.Flags().StringArrayVar(&choices, "choose", nil, "field=existing|incoming, repeatable")
	cmd.Flags().StringVar(&reason, "reason", "", "Free-text reason")
	cmd.Flags().StringVar(&run, "run", "", "Import run that prompted the merge")
	cmd.Flags().BoolVar(&logs, "logs", false, "List merge history of PRIMARY_LEAD_ID")
	return cmd
}

func newReportCmd(global *globalOptions) *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "report RUN_ID",
		Short: "Write a CSV or XLSX report of an import run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseUUIDArg("run id", args[0])
			if err != nil {
				return err
			}
			reportFormat, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			return global.withApp(cmd, func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				if output != "" {
					file, err := os.Create(output)
					if err != nil {
						return fmt.Errorf("create %s: %w", output, err)
					}
					defer file.Close()
					out = file
				}
				report, err := a.reports.WriteReport(ctx, global.workspaceID, runID, reportFormat, out)
				if err != nil {
					return err
				}
				if output != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d rows to %s\n", report.RowsExported, output)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "csv", "csv or xlsx")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file, defaults to stdout")
	return cmd
}
