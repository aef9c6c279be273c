// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Egbots Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// EngineStatus holds the probe results for a running engine.
type EngineStatus struct {
	Addr  string `json:"addr"`
	Alive bool   `json:"alive"`
	Ready bool   `json:"ready"`
	Error string `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	addr       string
	jsonOutput bool
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show health of a running engine",
		Long:  `Probe the liveness and readiness endpoints of a running egbots engine.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.addr, "addr", defaultMetricsAddr, "metrics/health HTTP address to probe")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")

	return cmd
}

func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	status := probe(cmd.Context(), cfg.addr)

	if cfg.jsonOutput {
		out, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		cmd.Println(string(out))
		return nil
	}

	cmd.Printf("engine %s\n", status.Addr)
	cmd.Printf("  alive: %v\n", status.Alive)
	cmd.Printf("  ready: %v\n", status.Ready)
	if status.Error != "" {
		cmd.Printf("  error: %s\n", status.Error)
	}
	return nil
}

// probe checks the liveness and readiness endpoints.
func probe(ctx context.Context, addr string) EngineStatus {
	status := EngineStatus{Addr: addr}
	client := &http.Client{Timeout: 2 * time.Second}

	alive, err := probeEndpoint(ctx, client, "http://"+addr+"/healthz/liveness")
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Alive = alive

	ready, err := probeEndpoint(ctx, client, "http://"+addr+"/healthz/readiness")
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Ready = ready
	return status
}

func probeEndpoint(ctx context.Context, client *http.Client, url string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}
