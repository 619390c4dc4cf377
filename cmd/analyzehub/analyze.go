package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"analyzehub/internal/gate"
	"analyzehub/internal/retry"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// errAnalysisFailed is returned after the failure was already printed.
var errAnalysisFailed = errors.New("analysis failed")

func newAnalyzeCommand(global *globalOptions) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "analyze <username>",
		Short: "Run one analysis with retry and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd.Context(), global, args[0], raw, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Print the result body without indentation")
	return cmd
}

// progressPrinter reports attempt loop events on the terminal and signals
// when the loop ends.
type progressPrinter struct {
	out  io.Writer
	done chan gate.Report
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{out: out, done: make(chan gate.Report, 1)}
}

func (p *progressPrinter) OnAttempt(req gate.AnalysisRequest) {
	fmt.Fprintf(p.out, "%s analyzing %s (attempt %d)\n", color.CyanString("→"), req.Target, req.Attempt)
}

func (p *progressPrinter) OnBackoff(req gate.AnalysisRequest, kind retry.ErrorKind, delay time.Duration) {
	fmt.Fprintf(p.out, "%s %s, retrying in %s\n", color.YellowString("!"), kind, delay)
}

func (p *progressPrinter) OnFinish(report gate.Report) {
	select {
	case p.done <- report:
	default:
	}
}

func runAnalyze(ctx context.Context, global *globalOptions, target string, raw bool, out, errOut io.Writer) error {
	progress := newProgressPrinter(errOut)
	a, err := newApp(global, progress)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.gate.Submit(target); err != nil {
		return err
	}

	var report gate.Report
	select {
	case <-ctx.Done():
		return ctx.Err()
	case report = <-progress.done:
	}

	if report.Canceled {
		return context.Canceled
	}
	if !report.Succeeded {
		fmt.Fprintf(errOut, "%s %s\n", color.RedString("✗"), report.Message)
		if report.RetryAfter > 0 {
			fmt.Fprintf(errOut, "  rate limited for %ds\n", report.RetryAfter)
		}
		return errAnalysisFailed
	}

	fmt.Fprintf(errOut, "%s %s analyzed in %d attempt(s), %s\n",
		color.GreenString("✓"), report.Request.Target, report.Attempts, report.Duration.Round(time.Millisecond))
	return printResult(out, a.hub.Read().Result, raw)
}

func printResult(out io.Writer, result json.RawMessage, raw bool) error {
	if len(result) == 0 {
		return nil
	}
	if raw {
		_, err := fmt.Fprintln(out, string(result))
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, result, "", "  "); err != nil {
		return fmt.Errorf("format result: %w", err)
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(out)
	return err
}
