// Package snapshot serializes a task's full state (tool catalog plus all
// system configurations) to a single document for backup and migration.
// A round-tripped snapshot scores identically to the live data.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/opsgrade/kestrel/internal/domain"
	"github.com/opsgrade/kestrel/internal/repository"
)

// DocumentVersion is the current snapshot document format version.
const DocumentVersion = "1"

// Document is a full task snapshot.
type Document struct {
	Version     string                 `json:"version"`
	RuleVersion string                 `json:"ruleVersion,omitempty"`
	ExportedAt  time.Time              `json:"exportedAt"`
	Tools       []*domain.MonitorTool  `json:"tools"`
	Systems     []*domain.SystemConfig `json:"systems"`
}

// Summary reports what an import touched.
type Summary struct {
	Tools   int `json:"tools"`
	Systems int `json:"systems"`
}

// Export captures the task's full catalog and system set.
func Export(ctx context.Context, repo domain.Repository, taskID string, ruleVersion string) (*Document, error) {
	tools, err := repo.ListTools(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("export tools: %w", err)
	}
	systems, err := repo.ListSystems(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("export systems: %w", err)
	}

	return &Document{
		Version:     DocumentVersion,
		RuleVersion: ruleVersion,
		ExportedAt:  time.Now().UTC(),
		Tools:       tools,
		Systems:     systems,
	}, nil
}

// Import applies a snapshot document to a task. Tools are upserted;
// systems are sanitized and upserted against their currently stored
// update stamp so an import never trips the optimistic-concurrency check.
func Import(ctx context.Context, repo domain.Repository, taskID string, doc *Document) (*Summary, error) {
	if doc == nil {
		return nil, fmt.Errorf("snapshot document is required")
	}
	if doc.Version != DocumentVersion {
		return nil, fmt.Errorf("unsupported snapshot version %q", doc.Version)
	}

	summary := &Summary{}

	for _, tool := range doc.Tools {
		if err := repo.SaveTool(ctx, taskID, tool); err != nil {
			return nil, fmt.Errorf("import tool %s: %w", tool.ID, err)
		}
		summary.Tools++
	}

	for _, sys := range doc.Systems {
		domain.SanitizeSystem(sys)

		var expected time.Time
		existing, err := repo.GetSystem(ctx, taskID, sys.ID)
		switch {
		case err == nil:
			expected = existing.UpdatedAt
		case errors.Is(err, repository.ErrNotFound):
			// create
		default:
			return nil, fmt.Errorf("import system %s: %w", sys.ID, err)
		}

		if err := repo.SaveSystem(ctx, taskID, sys, expected); err != nil {
			return nil, fmt.Errorf("import system %s: %w", sys.ID, err)
		}
		summary.Systems++
	}

	return summary, nil
}

// Encode writes a document as indented JSON.
func Encode(w io.Writer, doc *Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// Decode reads a document from JSON.
func Decode(r io.Reader) (*Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &doc, nil
}
