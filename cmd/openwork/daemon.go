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

	"github.com/openwork/openwork/internal/daemon"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the router daemon",
}

var daemonRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the router daemon in the foreground",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := buildConfig(cmd)
		if err != nil {
			return err
		}
		log := newLogger(cfg)
		d := daemon.New(cfg, log)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		go func() {
			<-ctx.Done()
			d.Stop(context.Background())
		}()

		return d.Start(ctx)
	},
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the router daemon in the background",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := buildConfig(cmd)
		if err != nil {
			return err
		}
		log := newLogger(cfg)

		client, err := daemon.Ensure(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		return printDaemonStatus(cmd.Context(), cfg.JSON, client)
	},
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the router daemon",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := buildConfig(cmd)
		if err != nil {
			return err
		}
		client := daemon.Connect(cmd.Context(), cfg)
		if client == nil {
			fmt.Println("daemon is not running")
			return nil
		}
		if err := client.Shutdown(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("daemon stopped")
		return nil
	},
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show router daemon status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := buildConfig(cmd)
		if err != nil {
			return err
		}
		client := daemon.Connect(cmd.Context(), cfg)
		if client == nil {
			if cfg.JSON {
				fmt.Println(`{"running":false}`)
				return nil
			}
			fmt.Println("daemon is not running")
			return nil
		}
		return printDaemonStatus(cmd.Context(), cfg.JSON, client)
	},
}

func init() {
	daemonCmd.AddCommand(daemonRunCmd, daemonStartCmd, daemonStopCmd, daemonStatusCmd)
	rootCmd.AddCommand(daemonCmd)
}

func printDaemonStatus(ctx context.Context, asJSON bool, client *daemon.Client) error {
	h, err := client.Health(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		out, err := json.MarshalIndent(h, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("daemon: %s\n", client.BaseURL())
	if h.Daemon != nil {
		fmt.Printf("  pid %d, started %s\n", h.Daemon.PID, h.Daemon.StartedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if h.Engine != nil {
		fmt.Printf("engine: pid %d on port %d\n", h.Engine.PID, h.Engine.Port)
	} else {
		fmt.Println("engine: not running")
	}
	fmt.Printf("workspaces: %d (active %s)\n", h.WorkspaceCount, orDash(h.ActiveID))
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
