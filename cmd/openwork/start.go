// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openwork/openwork/internal/config"
	"github.com/openwork/openwork/internal/orchestrate"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the engine and app server for a workspace",
	RunE:  runStart,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start without interactive output (alias for start with plain logs)",
	RunE: func(cmd *cobra.Command, args []string) error {
		// serve is start with the human niceties off.
		if !cmd.Flags().Changed("color") {
			_ = cmd.Flags().Set("color", string(config.ColorNever))
		}
		return runStart(cmd, args)
	},
}

func init() {
	startCmd.Flags().Bool("detach", false, "return to the shell once healthy, leaving the run going")
	serveCmd.Flags().Bool("detach", false, "return to the shell once healthy, leaving the run going")
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(serveCmd)
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Detach, _ = cmd.Flags().GetBool("detach")

	log := newLogger(cfg)
	o := orchestrate.New(cfg, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := o.Start(ctx)
	if err != nil {
		log.Error("start failed", "error", err)
		o.Shutdown(context.Background())
		return err
	}

	if cfg.Detach {
		if err := o.Detach(); err != nil {
			return err
		}
		printDetachSummary(cfg, res)
		return nil
	}

	if code := o.Watch(ctx); code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}

// printDetachSummary tells the user where the detached run lives.
func printDetachSummary(cfg *config.Config, res *orchestrate.Result) {
	if cfg.JSON {
		out, _ := json.Marshal(map[string]any{
			"detached":      true,
			"workspaceId":   res.WorkspaceID,
			"opencodePort":  res.EnginePort,
			"openworkPort":  res.AppServerPort,
			"openworkToken": res.Token,
			"openworkUrl":   res.LANURL,
		})
		fmt.Println(string(out))
		return
	}
	fmt.Printf("detached: app server on port %d (workspace %s)\n", res.AppServerPort, res.WorkspaceID)
	fmt.Printf("logs: %s\n", cfg.DataDir+"/logs/")
}
