package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/careflow/akimon/internal/metrics"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show service counters from the last persisted state",
	Long:  `Status reports message throughput, patient flow, and detection counts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := metrics.ReadStateFile()
		if err != nil {
			fmt.Println("No service state found. Is akimon running?")
			fmt.Printf("  (error: %v)\n", err)
			return nil
		}

		age := time.Since(snap.Timestamp)
		stale := ""
		if age > 10*time.Second {
			stale = fmt.Sprintf(" (stale, %s ago)", age.Truncate(time.Second))
		}

		fmt.Printf("Phase:         %s%s\n", snap.Phase, stale)
		fmt.Printf("Elapsed:       %.0fs\n", snap.ElapsedSec)
		fmt.Printf("Reconnections: %d\n", snap.Reconnections)
		fmt.Printf("Messages:      %d (%.1f/s)\n", snap.Messages, snap.MessagesPerSec)
		fmt.Printf("Admissions:    %d\n", snap.Admissions)
		fmt.Printf("Discharges:    %d\n", snap.Discharges)
		fmt.Printf("Blood tests:   %d (avg %.2f)\n", snap.BloodTests, snap.BloodTestAverage)
		fmt.Printf("Positive AKIs: %d (rate %.1f%%)\n", snap.PositiveAKIs, snap.PositiveAKIRate*100)
		fmt.Printf("Latency:       avg %.3fs, %d over 3s\n", snap.LatencyAvgSec, snap.LatencySlowMsg)
		fmt.Printf("Pager backlog: %d\n", snap.PagerBacklog)

		if snap.ErrorCount > 0 {
			fmt.Printf("Errors:        %d (last: %s)\n", snap.ErrorCount, snap.LastError)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
