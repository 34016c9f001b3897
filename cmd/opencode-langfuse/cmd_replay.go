package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/user/langfuse-hook/internal/hook"
)

var replayParallel int

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().IntVar(&replayParallel, "parallel", 1, "number of files replayed concurrently")
}

var replayCmd = &cobra.Command{
	Use:   "replay <file.jsonl>...",
	Short: "Feed recorded plugin payloads through the hook, one JSON object per line",
	Long: `replay runs every line of the given JSONL files through the same locked
load-apply-save path as the hook. Lines of one file are applied in order;
with --parallel, several files are replayed at once and serialize on the
state lock like concurrent hook invocations would. The master gate is
forced on; Langfuse credentials are still required.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		setupLogging(cfg)
		cfg.Enabled = true
		if !cfg.Active() {
			return errors.New("langfuse credentials are not configured")
		}

		g, ctx := errgroup.WithContext(cmd.Context())
		g.SetLimit(max(replayParallel, 1))
		for _, path := range args {
			g.Go(func() error {
				runner, err := hook.NewRunner(cfg, nil)
				if err != nil {
					return err
				}
				return replayFile(ctx, runner, path)
			})
		}
		return g.Wait()
	},
}

func replayFile(ctx context.Context, runner *hook.Runner, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxPayload)
	lines, failed := 0, 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		lines++
		if err := runner.Handle(ctx, line); err != nil {
			failed++
			slog.Warn("replay line failed", "file", path, "line", lines, "error", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read replay file %s: %w", path, err)
	}

	slog.Info("replay finished", "file", path, "lines", lines, "failed", failed)
	return nil
}
