// SPDX-License-Identifier: MPL-2.0

package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/openwork/openwork/internal/daemon"
	"github.com/openwork/openwork/internal/state"
)

var (
	activeStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#10B981"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

var workspaceCmd = &cobra.Command{
	Use:   "workspace",
	Short: "Manage workspaces routed through the daemon",
}

var workspaceAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Add (or re-activate) a local workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := buildConfig(cmd)
		if err != nil {
			return err
		}
		client, err := daemon.Ensure(cmd.Context(), cfg, newLogger(cfg))
		if err != nil {
			return err
		}

		path, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")

		ws, err := client.AddWorkspace(cmd.Context(), path, name)
		if err != nil {
			return err
		}
		return printWorkspace(cfg.JSON, ws)
	},
}

var workspaceAddRemoteCmd = &cobra.Command{
	Use:   "add-remote <base-url>",
	Short: "Add a remote workspace behind another app server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := buildConfig(cmd)
		if err != nil {
			return err
		}
		client, err := daemon.Ensure(cmd.Context(), cfg, newLogger(cfg))
		if err != nil {
			return err
		}

		directory, _ := cmd.Flags().GetString("directory")
		name, _ := cmd.Flags().GetString("name")

		ws, err := client.AddRemoteWorkspace(cmd.Context(), args[0], directory, name)
		if err != nil {
			return err
		}
		return printWorkspace(cfg.JSON, ws)
	},
}

var workspaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workspaces",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := buildConfig(cmd)
		if err != nil {
			return err
		}
		client, err := daemon.Ensure(cmd.Context(), cfg, newLogger(cfg))
		if err != nil {
			return err
		}

		list, err := client.Workspaces(cmd.Context())
		if err != nil {
			return err
		}

		if cfg.JSON {
			out, err := json.MarshalIndent(list, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}

		if len(list.Workspaces) == 0 {
			fmt.Println("no workspaces")
			return nil
		}
		for _, ws := range list.Workspaces {
			marker := "  "
			line := fmt.Sprintf("%s  %s  %s", ws.ID, ws.Name, workspaceTarget(ws))
			if ws.ID == list.ActiveID {
				marker = activeStyle.Render("* ")
				line = activeStyle.Render(line)
			} else {
				line = dimStyle.Render(line)
			}
			fmt.Println(marker + line)
		}
		return nil
	},
}

var workspaceSwitchCmd = &cobra.Command{
	Use:   "switch <id>",
	Short: "Activate a workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := buildConfig(cmd)
		if err != nil {
			return err
		}
		client, err := daemon.Ensure(cmd.Context(), cfg, newLogger(cfg))
		if err != nil {
			return err
		}

		ws, err := client.Activate(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printWorkspace(cfg.JSON, ws)
	},
}

var workspaceInfoCmd = &cobra.Command{
	Use:   "info <id>",
	Short: "Show one workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := buildConfig(cmd)
		if err != nil {
			return err
		}
		client, err := daemon.Ensure(cmd.Context(), cfg, newLogger(cfg))
		if err != nil {
			return err
		}

		ws, err := client.Workspace(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printWorkspace(cfg.JSON, ws)
	},
}

var workspacePathCmd = &cobra.Command{
	Use:   "path <id>",
	Short: "Show the engine's path info for a workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := buildConfig(cmd)
		if err != nil {
			return err
		}
		client, err := daemon.Ensure(cmd.Context(), cfg, newLogger(cfg))
		if err != nil {
			return err
		}

		raw, err := client.WorkspacePath(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(string(raw))
		return nil
	},
}

func init() {
	workspaceAddCmd.Flags().String("name", "", "workspace display name")
	workspaceAddRemoteCmd.Flags().String("directory", "", "directory on the remote app server")
	workspaceAddRemoteCmd.Flags().String("name", "", "workspace display name")

	workspaceCmd.AddCommand(
		workspaceAddCmd,
		workspaceAddRemoteCmd,
		workspaceListCmd,
		workspaceSwitchCmd,
		workspaceInfoCmd,
		workspacePathCmd,
	)
	rootCmd.AddCommand(workspaceCmd)
}

func workspaceTarget(ws state.Workspace) string {
	if ws.Type == state.WorkspaceRemote {
		target := ws.BaseURL
		if ws.Directory != "" {
			target += " (" + ws.Directory + ")"
		}
		return target
	}
	return ws.Path
}

func printWorkspace(asJSON bool, ws *state.Workspace) error {
	if asJSON {
		out, err := json.MarshalIndent(ws, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}
	fmt.Printf("%s  %s  %s\n", ws.ID, ws.Name, workspaceTarget(*ws))
	return nil
}
