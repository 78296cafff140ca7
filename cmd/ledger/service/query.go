package service

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/medgenius/ledger/common/models"
)

// QueryEvaluator filters records with CEL expressions. Used by the
// diagnostic list endpoint: expressions see each record as a `record`
// variable, e.g. `record.patient_id == "PAT-001"`.
//
// Compiled programs are cached per expression since the diagnostic views
// poll with the same filter repeatedly.
type QueryEvaluator struct {
	cache map[string]cel.Program
	mu    sync.RWMutex
}

// NewQueryEvaluator creates a query evaluator with caching
func NewQueryEvaluator() *QueryEvaluator {
	return &QueryEvaluator{
		cache: make(map[string]cel.Program),
	}
}

// Filter returns the records for which the expression evaluates to true
func (e *QueryEvaluator) Filter(records []models.Record, expr string) ([]models.Record, error) {
	prg, err := e.program(expr)
	if err != nil {
		return nil, err
	}

	var matched []models.Record
	for i := range records {
		ok, err := e.matches(prg, &records[i])
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, records[i])
		}
	}

	return matched, nil
}

func (e *QueryEvaluator) matches(prg cel.Program, r *models.Record) (bool, error) {
	// Round-trip through JSON so the expression sees the wire field names
	data, err := json.Marshal(r)
	if err != nil {
		return false, fmt.Errorf("marshal record: %w", err)
	}

	var view map[string]any
	if err := json.Unmarshal(data, &view); err != nil {
		return false, fmt.Errorf("unmarshal record view: %w", err)
	}

	out, _, err := prg.Eval(map[string]any{
		"record": view,
	})
	if err != nil {
		return false, fmt.Errorf("filter evaluation error: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter expression did not return boolean, got %T", out.Value())
	}

	return result, nil
}

func (e *QueryEvaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, exists := e.cache[expr]
	e.mu.RUnlock()

	if exists {
		return prg, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("record", cel.DynType),
		// JSON numbers surface as doubles; let filters compare them
		// against integer literals
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create filter env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid filter expression: %w", issues.Err())
	}

	prg, err = env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build filter program: %w", err)
	}

	e.mu.Lock()
	e.cache[expr] = prg
	e.mu.Unlock()

	return prg, nil
}
