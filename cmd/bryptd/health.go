package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/brypt-project/brypt/health"
)

var (
	healthURL      string
	healthJSONFlag bool
	healthTimeout  time.Duration
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe a running node's health endpoint",
	Long: `health issues an HTTP GET against a running node's health endpoint and
reports its aggregate status and every named check, exiting 1 when the node
reports anything other than healthy.`,
	Example: `  # Probe the default local health endpoint
  bryptd health --url http://127.0.0.1:8090/healthz

  # Print the raw JSON snapshot instead
  bryptd health --url http://127.0.0.1:8090/healthz --json`,
	RunE: runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().StringVarP(&healthURL, "url", "u", "http://127.0.0.1:8090/healthz", "health endpoint URL")
	healthCmd.Flags().BoolVar(&healthJSONFlag, "json", false, "print the raw JSON snapshot instead of a formatted summary")
	healthCmd.Flags().DurationVarP(&healthTimeout, "timeout", "t", 5*time.Second, "request timeout")
}

func runHealth(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: healthTimeout}
	resp, err := client.Get(healthURL)
	if err != nil {
		return fmt.Errorf("request %s: %w", healthURL, err)
	}
	defer resp.Body.Close()

	var snapshot health.NodeHealth
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if healthJSONFlag {
		if err := printSnapshotJSON(&snapshot); err != nil {
			return err
		}
	} else {
		printSnapshotSummary(&snapshot, healthURL)
	}

	if snapshot.Status != health.StatusHealthy {
		os.Exit(1)
	}
	return nil
}

func printSnapshotJSON(snapshot *health.NodeHealth) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func printSnapshotSummary(snapshot *health.NodeHealth, url string) {
	fmt.Println()
	fmt.Println("brypt node health")
	fmt.Printf("endpoint:  %s\n", url)
	fmt.Printf("status:    %s\n", snapshot.Status)
	fmt.Printf("timestamp: %s\n", snapshot.Timestamp.Format(time.RFC3339))
	fmt.Println()

	names := make([]string, 0, len(snapshot.Checks))
	for name := range snapshot.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		result := snapshot.Checks[name]
		marker := "✓"
		if result.Status != health.StatusHealthy {
			marker = "✗"
		}
		fmt.Printf("  %s %-12s %-10s %s\n", marker, name, result.Status, result.Message)
	}
	fmt.Println()
}
