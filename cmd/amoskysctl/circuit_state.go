package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func newCircuitStateCommand() *cobra.Command {
	var healthAddr string

	cmd := &cobra.Command{
		Use:   "circuit-state",
		Short: "Query a running agent's circuit-breaker and queue health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get(fmt.Sprintf("http://%s/healthz", healthAddr))
			if err != nil {
				return fmt.Errorf("query %s: %w", healthAddr, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("%s returned status %d", healthAddr, resp.StatusCode)
			}

			var snapshot map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
				return fmt.Errorf("decode health snapshot: %w", err)
			}

			out, err := json.MarshalIndent(snapshot, "", "  ")
			if err != nil {
				return err
			}
			cmd.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&healthAddr, "health-addr", "127.0.0.1:9101", "agent health endpoint address (host:port)")
	return cmd
}
