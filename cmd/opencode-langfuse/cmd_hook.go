package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/user/langfuse-hook/internal/hook"
)

// maxPayload bounds a single stdin payload.
const maxPayload = 64 << 20

func init() {
	rootCmd.AddCommand(hookCmd)
}

var hookCmd = &cobra.Command{
	Use:                "hook",
	Short:              "Process one plugin event from stdin (always exits 0)",
	Args:               cobra.ArbitraryArgs,
	FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
	RunE:               runHook,
}

// hookInput is where the hook reads its payload.
var hookInput = os.Stdin

// runHook never fails the caller: every error ends up in the hook log.
func runHook(cmd *cobra.Command, args []string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("hook panic", "panic", p)
		}
		err = nil
	}()

	cfg, err := loadConfig()
	if err != nil {
		return nil
	}
	if !cfg.Active() {
		return nil
	}
	defer setupHookLogging(cfg).Close()

	if term.IsTerminal(int(hookInput.Fd())) {
		slog.Debug("stdin is a terminal, nothing to read")
		return nil
	}
	payload, err := io.ReadAll(io.LimitReader(hookInput, maxPayload))
	if err != nil {
		slog.Warn("read payload failed", "error", err)
		return nil
	}

	runner, err := hook.NewRunner(cfg, nil)
	if err != nil {
		slog.Warn("hook setup failed", "error", err)
		return nil
	}
	if err := runner.Handle(cmd.Context(), payload); err != nil {
		slog.Error("hook failed", "error", err)
	}
	return nil
}
