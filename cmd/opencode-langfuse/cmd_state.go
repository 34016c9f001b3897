package main

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/user/langfuse-hook/internal/state"
)

var stateOutput string

func init() {
	rootCmd.AddCommand(stateCmd)
	stateCmd.AddCommand(stateShowCmd, stateStatsCmd, stateResetCmd)
	stateShowCmd.Flags().StringVarP(&stateOutput, "output", "o", "json", "output format: json or yaml")
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect or reset the persisted hook state",
}

// lockedState loads the state under the state lock, proceeding unlocked
// where locking is unsupported.
func lockedState(store *state.Store) (*state.State, error) {
	unlock, err := store.Lock()
	if err == nil {
		defer unlock()
	}
	return store.Load()
}

var stateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the state document",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		setupLogging(cfg)

		st, err := lockedState(state.NewStore(cfg.StateDir))
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal state: %w", err)
		}

		switch stateOutput {
		case "json":
			fmt.Fprintln(os.Stdout, string(data))
			return nil
		case "yaml":
			// Raw records are JSON; decode to plain values so they render as YAML maps.
			var doc any
			if err := json.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("decode state: %w", err)
			}
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			if err := enc.Encode(doc); err != nil {
				return fmt.Errorf("encode yaml: %w", err)
			}
			return enc.Close()
		default:
			return fmt.Errorf("unknown output format: %s", stateOutput)
		}
	},
}

var stateStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the size of every state map",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		setupLogging(cfg)

		store := state.NewStore(cfg.StateDir)
		st, err := lockedState(store)
		if err != nil {
			return err
		}

		stats := st.Stats()
		keys := make([]string, 0, len(stats))
		for k := range stats {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		fmt.Fprintf(os.Stdout, "State file: %s\n\n", store.Path())
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "MAP\tENTRIES")
		for _, k := range keys {
			fmt.Fprintf(w, "%s\t%d\n", k, stats[k])
		}
		return w.Flush()
	},
}

var stateResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the state file (emitted markers are lost)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		setupLogging(cfg)

		store := state.NewStore(cfg.StateDir)
		unlock, err := store.Lock()
		if err != nil {
			return fmt.Errorf("lock state: %w", err)
		}
		defer unlock()

		if err := store.Reset(); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "State %s cleared.\n", store.Path())
		return nil
	},
}
