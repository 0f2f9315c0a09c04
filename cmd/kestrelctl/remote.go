package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/opsgrade/kestrel/internal/snapshot"
	"github.com/spf13/cobra"
)

type remoteFlags struct {
	url     string
	taskID  string
	out     string
	timeout time.Duration
}

func addRemoteFlags(cmd *cobra.Command, f *remoteFlags) {
	flags := cmd.Flags()
	flags.StringVar(&f.url, "url", "http://localhost:8080", "Kestrel server base URL")
	flags.StringVar(&f.taskID, "task", "", "Task ID (required)")
	flags.DurationVar(&f.timeout, "timeout", 30*time.Second, "Request timeout")
	cmd.MarkFlagRequired("task")
}

func newExportCmd() *cobra.Command {
	f := &remoteFlags{}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a task snapshot from a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(f)
		},
	}

	addRemoteFlags(cmd, f)
	cmd.Flags().StringVar(&f.out, "out", "", "Output file path (default: stdout)")

	return cmd
}

func runExport(f *remoteFlags) error {
	body, status, err := doRequest(f, http.MethodGet, "/export", nil)
	if err != nil {
		return exitError(4, "export request failed: %v", err)
	}
	if status != http.StatusOK {
		return exitError(4, "export failed: status %d: %s", status, body)
	}

	// Round-trip through the document type to reject malformed payloads
	// before writing anything.
	doc, err := snapshot.Decode(bytes.NewReader(body))
	if err != nil {
		return exitError(5, "server returned an invalid snapshot: %v", err)
	}

	var buf bytes.Buffer
	if err := snapshot.Encode(&buf, doc); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if f.out != "" {
		if err := os.WriteFile(f.out, buf.Bytes(), 0644); err != nil {
			return fmt.Errorf("failed to write snapshot: %w", err)
		}
		fmt.Fprintf(os.Stderr, "exported %d tools, %d systems to %s\n", len(doc.Tools), len(doc.Systems), f.out)
		return nil
	}

	fmt.Print(buf.String())
	return nil
}

func newImportCmd() *cobra.Command {
	f := &remoteFlags{}

	cmd := &cobra.Command{
		Use:   "import <snapshot-file>",
		Short: "Import a task snapshot into a running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(args[0], f)
		},
	}

	addRemoteFlags(cmd, f)

	return cmd
}

func runImport(path string, f *remoteFlags) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return exitError(3, "failed to read snapshot: %v", err)
	}

	// Validate locally before sending.
	if _, err := snapshot.Decode(bytes.NewReader(data)); err != nil {
		return exitError(3, "invalid snapshot file: %v", err)
	}

	body, status, err := doRequest(f, http.MethodPost, "/import", data)
	if err != nil {
		return exitError(4, "import request failed: %v", err)
	}
	if status != http.StatusOK {
		return exitError(4, "import failed: status %d: %s", status, body)
	}

	fmt.Printf("%s\n", body)
	return nil
}

func doRequest(f *remoteFlags, method, path string, payload []byte) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, f.url+path, body)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("X-Task-ID", f.taskID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return data, resp.StatusCode, nil
}
