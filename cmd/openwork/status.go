// SPDX-License-Identifier: MPL-2.0

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openwork/openwork/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show persisted daemon, engine, and workspace state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := buildConfig(cmd)
		if err != nil {
			return err
		}

		st := state.NewStore(cfg.StatePath()).Load()
		daemonLive := state.RecordLive(cmd.Context(), st.Daemon)
		engineLive := state.RecordLive(cmd.Context(), st.Engine)

		if cfg.JSON {
			out, err := json.MarshalIndent(map[string]any{
				"daemon":     st.Daemon,
				"daemonLive": daemonLive,
				"engine":     st.Engine,
				"engineLive": engineLive,
				"activeId":   st.ActiveID,
				"workspaces": st.Workspaces,
				"binaries":   st.Binaries,
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}

		printRecord("daemon", st.Daemon, daemonLive)
		printRecord("engine", st.Engine, engineLive)
		fmt.Printf("workspaces: %d (active %s)\n", len(st.Workspaces), orDash(st.ActiveID))
		for name, bin := range st.Binaries {
			fmt.Printf("binary %s: %s %s (%s)\n", name, bin.ActualVersion, bin.Path, bin.Source)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func printRecord(name string, rec *state.ProcessRecord, live bool) {
	switch {
	case rec == nil:
		fmt.Printf("%s: not running\n", name)
	case live:
		fmt.Printf("%s: %s pid %d (healthy)\n", name, activeStyle.Render("up"), rec.PID)
	default:
		fmt.Printf("%s: %s pid %d\n", name, dimStyle.Render("stale record"), rec.PID)
	}
}
