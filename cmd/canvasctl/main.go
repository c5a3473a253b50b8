// Copyright (C) 2025 Webra (dev@webra.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// canvasctl is the operational CLI for the canvas service. It drives the
// service's HTTP admin surface; it never touches the database directly.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	authToken string
)

var rootCmd = &cobra.Command{
	Use:   "canvasctl",
	Short: "Operational CLI for the Webra canvas service",
	Long: `canvasctl talks to a running canvas service over HTTP.

Examples:
  canvasctl health                     # Liveness and backend reachability
  canvasctl sweep-locks                # Delete expired element locks now
  canvasctl flush-cache                # Drop all cached canvas snapshots
  canvasctl collaborators <projectId>  # Who is live in a project room`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server",
		envOr("CANVAS_SERVER_URL", "http://localhost:12240"),
		"Base URL of the canvas service")
	rootCmd.PersistentFlags().StringVar(&authToken, "token",
		os.Getenv("CANVAS_AUTH_TOKEN"),
		"Bearer token for authenticated endpoints")

	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(sweepLocksCmd)
	rootCmd.AddCommand(flushCacheCmd)
	rootCmd.AddCommand(collaboratorsCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
