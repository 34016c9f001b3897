package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/user/langfuse-hook/internal/config"
)

var cfgPath string

// rootCmd tolerates unknown arguments and flags from the host.
var rootCmd = &cobra.Command{
	Use:   "opencode-langfuse",
	Short: "Reconstruct OpenCode turns from plugin events and trace them to Langfuse",
	Long: `opencode-langfuse reads one OpenCode plugin event per invocation on stdin,
folds it into a persisted state file and emits a Langfuse trace for every
completed turn. Running it without a subcommand is the same as "hook".`,
	SilenceUsage:       true,
	SilenceErrors:      true,
	Args:               cobra.ArbitraryArgs,
	FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
	RunE:               runHook,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (toml, jsonc or json)")
}

func main() {
	os.Exit(execute(os.Args[1:]))
}

// execute runs the command line and returns the exit code. The hook path
// always exits 0, whatever happened.
func execute(args []string) int {
	rootCmd.SetArgs(args)
	cmd, err := rootCmd.ExecuteC()
	if err == nil {
		return 0
	}
	if cmd == rootCmd || cmd == hookCmd {
		return 0
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return 1
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func logLevel(cfg *config.Config) slog.Level {
	if cfg.Debug {
		return slog.LevelDebug
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupLogging points the default logger at stderr for operator commands.
func setupLogging(cfg *config.Config) {
	var handler slog.Handler
	options := &slog.HandlerOptions{Level: logLevel(cfg)}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	slog.SetDefault(slog.New(handler))
}

// setupHookLogging appends to the hook log under the state directory. The
// hook never writes to stdout or stderr; if the log cannot be opened,
// records are discarded.
func setupHookLogging(cfg *config.Config) io.Closer {
	options := &slog.HandlerOptions{Level: logLevel(cfg)}
	if err := os.MkdirAll(cfg.StateDir, 0o755); err == nil {
		f, err := os.OpenFile(cfg.LogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err == nil {
			slog.SetDefault(slog.New(slog.NewTextHandler(f, options)))
			return f
		}
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, options)))
	return io.NopCloser(nil)
}
