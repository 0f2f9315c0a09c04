package ruletable

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opsgrade/kestrel/internal/domain"
)

func writeTable(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp table: %v", err)
	}
	return path
}

func TestLoadValidTable(t *testing.T) {
	path := writeTable(t, `
version: 2025-q3
rules:
  standardization:
    basePoints: 10
    tiers:
      - threshold: 1.0
        deduction: 0
      - threshold: 0.7
        deduction: 3
      - threshold: 0
        deduction: 10
  documentation:
    perItem: 1
    cap: 5
  response:
    perItem: 2.5
`)

	table, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if table.Version != "2025-q3" {
		t.Errorf("expected version 2025-q3, got %s", table.Version)
	}

	std, ok := table.Rule(domain.RuleStandardization)
	if !ok {
		t.Fatal("standardization rule missing")
	}
	if std.BasePoints == nil || *std.BasePoints != 10 {
		t.Errorf("unexpected base points: %v", std.BasePoints)
	}
	if len(std.Tiers) != 3 || std.Tiers[1].Deduction != 3 {
		t.Errorf("unexpected tiers: %+v", std.Tiers)
	}

	doc, _ := table.Rule(domain.RuleDocumentation)
	if doc.Cap == nil || *doc.Cap != 5 {
		t.Errorf("unexpected documentation cap: %v", doc.Cap)
	}
	// Fields the file omits stay nil so the engine keeps its defaults.
	if doc.BasePoints != nil {
		t.Errorf("expected nil base points for documentation, got %v", *doc.BasePoints)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadRejectsMalformed(t *testing.T) {
	cases := []struct {
		name    string
		content string
		errPart string
	}{
		{"NoVersion", "rules: {}", "no version"},
		{"UnknownRule", "version: v1\nrules:\n  bogus: {}\n", "unknown rule"},
		{"NegativeBase", "version: v1\nrules:\n  ops_leads:\n    basePoints: -1\n", "negative base"},
		{"ThresholdAboveOne", "version: v1\nrules:\n  infrastructure:\n    tiers:\n      - threshold: 1.5\n        deduction: 0\n", "outside [0,1]"},
		{"NonDescendingTiers", "version: v1\nrules:\n  infrastructure:\n    tiers:\n      - threshold: 0.5\n        deduction: 3\n      - threshold: 0.7\n        deduction: 0\n", "strictly descend"},
		{"NotYAML", "version: [unclosed", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeTable(t, tc.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.errPart != "" && !strings.Contains(err.Error(), tc.errPart) {
				t.Errorf("expected error containing %q, got %v", tc.errPart, err)
			}
		})
	}
}

func TestValidateNilTable(t *testing.T) {
	if err := Validate(nil); err != nil {
		t.Errorf("nil table must validate: %v", err)
	}
}
