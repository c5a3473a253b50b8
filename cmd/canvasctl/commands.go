// Copyright (C) 2025 Webra (dev@webra.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const requestTimeout = 15 * time.Second

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check service liveness and backend reachability",
	Run: func(cmd *cobra.Command, args []string) {
		body, status, err := call(http.MethodGet, "/health", nil)
		if err != nil {
			fail("health check failed: %v", err)
		}
		printJSON(body)
		if status != http.StatusOK {
			os.Exit(1)
		}
	},
}

var sweepLocksCmd = &cobra.Command{
	Use:   "sweep-locks",
	Short: "Delete all expired element locks immediately",
	Run: func(cmd *cobra.Command, args []string) {
		body, status, err := call(http.MethodPost, "/v1/admin/sweep-locks", nil)
		if err != nil {
			fail("sweep failed: %v", err)
		}
		if status != http.StatusOK {
			fail("sweep failed with status %d: %s", status, string(body))
		}
		printJSON(body)
	},
}

var flushCacheCmd = &cobra.Command{
	Use:   "flush-cache",
	Short: "Drop every cached canvas snapshot",
	Long: `Drops all cached canvas snapshots.

This is always safe: the database holds the truth and snapshots repopulate
on the next read. Use it after manual database surgery so stale snapshots
cannot serve.`,
	Run: func(cmd *cobra.Command, args []string) {
		body, status, err := call(http.MethodPost, "/v1/admin/flush-cache", nil)
		if err != nil {
			fail("flush failed: %v", err)
		}
		if status != http.StatusOK {
			fail("flush failed with status %d: %s", status, string(body))
		}
		printJSON(body)
	},
}

var collaboratorsCmd = &cobra.Command{
	Use:   "collaborators <projectId>",
	Short: "List live collaborators in a project room",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		body, status, err := call(http.MethodGet, "/v1/canvas/"+args[0]+"/collaborators", nil)
		if err != nil {
			fail("request failed: %v", err)
		}
		if status != http.StatusOK {
			fail("request failed with status %d: %s", status, string(body))
		}
		printJSON(body)
	},
}

// call issues one HTTP request against the configured server, attaching the
// bearer token when one is set.
func call(method, path string, payload any) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, serverURL+path, body)
	if err != nil {
		return nil, 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return data, resp.StatusCode, nil
}

// printJSON re-indents a JSON response for the terminal, falling back to
// raw output when the body is not JSON.
func printJSON(body []byte) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		fmt.Println(string(body))
		return
	}
	fmt.Println(pretty.String())
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
