// SPDX-License-Identifier: MPL-2.0

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/openwork/openwork/internal/config"
	"github.com/openwork/openwork/internal/netutil"
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "List and answer pending app-server approvals",
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending approvals",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := buildConfig(cmd)
		if err != nil {
			return err
		}
		body, err := appServerRequest(cfg, http.MethodGet, "/approvals", nil)
		if err != nil {
			return err
		}
		fmt.Println(string(body))
		return nil
	},
}

var approvalsReplyCmd = &cobra.Command{
	Use:   "reply <id>",
	Short: "Answer one approval",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := buildConfig(cmd)
		if err != nil {
			return err
		}
		deny, _ := cmd.Flags().GetBool("deny")

		payload, err := json.Marshal(map[string]bool{"approve": !deny})
		if err != nil {
			return err
		}
		body, err := appServerRequest(cfg, http.MethodPost, "/approvals/"+args[0]+"/reply", payload)
		if err != nil {
			return err
		}
		fmt.Println(string(body))
		return nil
	},
}

func init() {
	approvalsReplyCmd.Flags().Bool("deny", false, "deny instead of approve")
	approvalsCmd.AddCommand(approvalsListCmd, approvalsReplyCmd)
	rootCmd.AddCommand(approvalsCmd)
}

// appServerRequest calls the app server directly; its 200 semantics become
// the command's exit semantics.
func appServerRequest(cfg *config.Config, method, path string, payload []byte) ([]byte, error) {
	if cfg.AppServer.Port == 0 {
		return nil, fmt.Errorf("the app server port is required (--openwork-port)")
	}
	target := netutil.BaseURL(cfg.AppServer.Host, cfg.AppServer.Port) + path

	var body io.Reader = http.NoBody
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, target, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cfg.AppServer.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.AppServer.Token)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("app server %s: status %d: %s", path, resp.StatusCode, bytes.TrimSpace(data))
	}
	return data, nil
}
