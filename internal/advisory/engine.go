// Package advisory provides the CEL-Go based advisory evaluation engine.
// Advisories run after scoring: each one is a CEL expression over a
// computed score result, banded into findings. They never alter the score.
package advisory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opsgrade/kestrel/internal/domain"
)

// Engine is the CEL-based advisory evaluation engine.
type Engine struct {
	mu         sync.RWMutex
	env        *cel.Env
	compiled   map[string]*CompiledAdvisory
	maxWorkers int
}

// CompiledAdvisory holds a pre-compiled CEL program.
type CompiledAdvisory struct {
	Config  *domain.AdvisoryConfig
	Program cel.Program
}

// NewEngine creates a new advisory evaluation engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// CEL environment exposing the score result fields
	env, err := cel.NewEnv(
		cel.Variable("total", cel.DoubleType),
		cel.Variable("part1", cel.DoubleType),
		cel.Variable("part2", cel.DoubleType),
		cel.Variable("part3", cel.DoubleType),
		cel.Variable("part4", cel.DoubleType),
		cel.Variable("missing_caps", cel.IntType),
		cel.Variable("accuracy_rate", cel.DoubleType),
		cel.Variable("discovery_rate", cel.DoubleType),
		cel.Variable("standardization", cel.DoubleType),
		cel.Variable("package_level", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:        env,
		compiled:   make(map[string]*CompiledAdvisory),
		maxWorkers: maxWorkers,
	}, nil
}

// Validate compiles an advisory without mutating the loaded set.
func (e *Engine) Validate(cfg *domain.AdvisoryConfig) error {
	if cfg == nil {
		return fmt.Errorf("advisory config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compile(cfg)
	return err
}

// Load compiles and loads a single advisory into the engine.
func (e *Engine) Load(cfg *domain.AdvisoryConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compile(cfg)
	if err != nil {
		return err
	}

	e.compiled[cfg.ID] = compiled

	return nil
}

// Reload clears all existing advisories and loads new ones. This enables
// hot-reloading from the database after advisory CRUD.
func (e *Engine) Reload(configs []*domain.AdvisoryConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]*CompiledAdvisory)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compile(cfg)
		if err != nil {
			return err
		}
		next[cfg.ID] = compiled
	}

	e.compiled = next

	return nil
}

// EvaluateAll evaluates all loaded advisories against a score result in
// parallel.
func (e *Engine) EvaluateAll(ctx context.Context, taskID string, res *domain.ScoreResult) ([]domain.AdvisoryFinding, error) {
	e.mu.RLock()
	advisories := make([]*CompiledAdvisory, 0, len(e.compiled))
	for _, a := range e.compiled {
		advisories = append(advisories, a)
	}
	e.mu.RUnlock()

	if len(advisories) == 0 || res == nil {
		return nil, nil
	}

	activation := map[string]any{
		"total":           res.Total,
		"part1":           res.Part1,
		"part2":           res.Part2,
		"part3":           res.Part3,
		"part4":           res.Part4,
		"missing_caps":    int64(len(res.MissingCapabilities)),
		"accuracy_rate":   res.AccuracyRate,
		"discovery_rate":  res.DiscoveryRate,
		"standardization": res.Standardization,
		"package_level":   res.PackageLevel,
	}

	findings := make([]domain.AdvisoryFinding, len(advisories))
	var wg sync.WaitGroup

	sem := make(chan struct{}, e.maxWorkers)

	for i, a := range advisories {
		wg.Add(1)
		go func(idx int, ca *CompiledAdvisory) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			findings[idx] = e.evaluate(ca, activation, taskID, res.SystemID)
		}(i, a)
	}

	wg.Wait()

	return findings, nil
}

func (e *Engine) evaluate(a *CompiledAdvisory, activation map[string]any, taskID, systemID string) domain.AdvisoryFinding {
	start := time.Now()

	finding := domain.AdvisoryFinding{
		AdvisoryID: a.Config.ID,
		TaskID:     taskID,
		SystemID:   systemID,
	}

	out, _, err := a.Program.Eval(activation)
	if err != nil {
		finding.Outcome = domain.AdvisoryError
		finding.Reason = fmt.Sprintf("evaluation error: %v", err)
		finding.ProcessMs = time.Since(start).Milliseconds()
		return finding
	}

	value := toValue(out)
	finding.Value = value
	finding.Outcome, finding.Reason = matchBand(value, a.Config.Bands)
	finding.ProcessMs = time.Since(start).Milliseconds()

	return finding
}

// Count returns the number of loaded advisories.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = make(map[string]*CompiledAdvisory)
	return nil
}

// toValue converts a CEL value to a numeric band input.
func toValue(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// matchBand finds the matching band for a value. Bands are evaluated in
// order, lower inclusive, upper exclusive; a nil upper means infinity.
func matchBand(value float64, bands []domain.AdvisoryBand) (string, string) {
	for _, band := range bands {
		lower := 0.0
		hasUpper := band.UpperLimit != nil
		upper := float64(1e9)

		if band.LowerLimit != nil {
			lower = *band.LowerLimit
		}
		if hasUpper {
			upper = *band.UpperLimit
		}

		if value >= lower {
			if !hasUpper || value < upper {
				return band.Outcome, band.Reason
			}
			if value == upper && band.UpperLimit != nil {
				continue
			}
		}
	}

	return domain.AdvisoryOK, "no matching band"
}

func (e *Engine) compile(cfg *domain.AdvisoryConfig) (*CompiledAdvisory, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile advisory %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("advisory %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for advisory %s: %w", cfg.ID, err)
	}

	return &CompiledAdvisory{
		Config:  cfg,
		Program: program,
	}, nil
}
