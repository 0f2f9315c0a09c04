package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/opsgrade/kestrel/internal/domain"
	"github.com/opsgrade/kestrel/internal/ruletable"
	"github.com/opsgrade/kestrel/internal/scoring"
	"github.com/opsgrade/kestrel/internal/snapshot"
	"github.com/spf13/cobra"
)

type scoreFlags struct {
	ruleTablePath string
	systemID      string
	out           string
}

func newScoreCmd() *cobra.Command {
	f := &scoreFlags{}

	cmd := &cobra.Command{
		Use:   "score <snapshot-file>",
		Short: "Score a snapshot offline, without a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScore(args[0], f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.ruleTablePath, "ruletable", "", "YAML rule table (default: compiled defaults)")
	flags.StringVar(&f.systemID, "system", "", "Score only this system (default: all)")
	flags.StringVar(&f.out, "out", "", "Output file path (default: stdout)")

	return cmd
}

func runScore(path string, f *scoreFlags) error {
	file, err := os.Open(path)
	if err != nil {
		return exitError(3, "failed to open snapshot: %v", err)
	}
	defer file.Close()

	doc, err := snapshot.Decode(file)
	if err != nil {
		return exitError(3, "invalid snapshot file: %v", err)
	}
	if doc.Version != snapshot.DocumentVersion {
		return exitError(3, "unsupported snapshot version %q", doc.Version)
	}

	var table *domain.RuleTable
	if f.ruleTablePath != "" {
		table, err = ruletable.Load(f.ruleTablePath)
		if err != nil {
			return exitError(3, "failed to load rule table: %v", err)
		}
	}

	var results []*domain.ScoreResult
	for _, sys := range doc.Systems {
		if f.systemID != "" && sys.ID != f.systemID {
			continue
		}
		domain.SanitizeSystem(sys)
		results = append(results, scoring.Score(sys, doc.Tools, table))
	}

	if f.systemID != "" && len(results) == 0 {
		return exitError(2, "system %q not found in snapshot", f.systemID)
	}

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	data = append(data, '\n')

	if f.out != "" {
		if err := os.WriteFile(f.out, data, 0644); err != nil {
			return fmt.Errorf("failed to write results: %w", err)
		}
		return nil
	}

	fmt.Print(string(data))
	return nil
}
