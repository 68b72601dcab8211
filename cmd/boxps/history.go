package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/isseis/go-boxps/internal/color"
	boxerrors "github.com/isseis/go-boxps/internal/runner/errors"
	"github.com/isseis/go-boxps/internal/runner/history"
	"github.com/isseis/go-boxps/internal/terminal"
)

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	Limit int  `short:"n" help:"Number of runs to show" default:"20"`
	JSON  bool `help:"Print entries as JSON lines"`
}

type historyLine struct {
	RunID           string `json:"run_id"`
	Script          string `json:"script"`
	SHA256          string `json:"sha256"`
	Status          string `json:"status"`
	ErrorKind       string `json:"error_kind,omitempty"`
	ExitCode        int    `json:"exit_code"`
	StartedAt       string `json:"started_at"`
	DurationMS      int64  `json:"duration_ms"`
	Report          string `json:"report,omitempty"`
	ReportDelivered bool   `json:"report_delivered"`
}

// Run prints recent runs.
func (h *HistoryCmd) Run(ctx context.Context, root *CLI) error {
	logger, cfg, err := root.setup()
	if err != nil {
		return err
	}
	defer logger.Close()

	if cfg.History.Path == "" {
		err := boxerrors.New(boxerrors.KindNoEnvVar, "history is disabled; set history.path or BOXPS_HISTORY")
		boxerrors.LogClassifiedError(logger.Logger, "Cannot list history", err)
		return err
	}

	store, err := history.Open(cfg.History.Path)
	if err != nil {
		boxerrors.LogClassifiedError(logger.Logger, "Cannot list history", err)
		return err
	}
	defer store.Close()

	entries, err := store.List(ctx, h.Limit)
	if err != nil {
		return err
	}

	if h.JSON {
		enc := json.NewEncoder(root.stdout)
		for _, e := range entries {
			if err := enc.Encode(toHistoryLine(e)); err != nil {
				return err
			}
		}
		return nil
	}

	useColor := root.Color && !root.NoColor
	if f, ok := root.stdout.(*os.File); ok {
		useColor = terminal.NewDetector(f, terminal.Options{ForceColor: root.Color, DisableColor: root.NoColor}).SupportsColor()
	}

	tw := tabwriter.NewWriter(root.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSTARTED\tSCRIPT\tSTATUS\tERROR\tEXIT\tREPORT")
	for _, e := range entries {
		report := e.ReportLocation
		if !e.ReportDelivered {
			report = "(not delivered)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			e.RunID, e.StartedAt.Format(time.DateTime), e.ScriptName,
			statusColor(e.Status).Enabled(useColor)(e.Status), e.ErrorKind, e.ExitCode, report)
	}
	return tw.Flush()
}

func toHistoryLine(e history.Entry) historyLine {
	return historyLine{
		RunID:           e.RunID,
		Script:          e.ScriptName,
		SHA256:          e.ScriptSHA256,
		Status:          e.Status,
		ErrorKind:       e.ErrorKind,
		ExitCode:        e.ExitCode,
		StartedAt:       e.StartedAt.Format(time.RFC3339),
		DurationMS:      e.Duration.Milliseconds(),
		Report:          e.ReportLocation,
		ReportDelivered: e.ReportDelivered,
	}
}

func statusColor(status string) color.Color {
	switch status {
	case "success":
		return color.Green
	case "timed_out":
		return color.Yellow
	case "env_failed", "invalid_input", "sandbox_failed":
		return color.Red
	default:
		return color.Gray
	}
}
