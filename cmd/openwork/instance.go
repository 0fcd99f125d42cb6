// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openwork/openwork/internal/daemon"
)

var instanceCmd = &cobra.Command{
	Use:   "instance",
	Short: "Manage engine instances",
}

var instanceDisposeCmd = &cobra.Command{
	Use:   "dispose <workspace-id>",
	Short: "Drop the engine's in-memory state for a workspace",
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
		if err := client.DisposeInstance(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("disposed")
		return nil
	},
}

func init() {
	instanceCmd.AddCommand(instanceDisposeCmd)
	rootCmd.AddCommand(instanceCmd)
}
