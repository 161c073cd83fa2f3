package rules

import (
	"errors"
	"sort"
	"sync"

	"github.com/harun/sylva/internal/observability"
)

// Engine evaluates the active rule sets. Sets can be swapped while
// evaluations are running.
type Engine struct {
	mu   sync.RWMutex
	sets []*RuleSet
}

// NewEngine creates an engine over sets, which must already be compiled.
func NewEngine(sets ...*RuleSet) *Engine {
	e := &Engine{}
	e.Replace(sets)
	return e
}

// Replace swaps the active rule sets.
func (e *Engine) Replace(sets []*RuleSet) {
	sorted := append([]*RuleSet(nil), sets...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	e.mu.Lock()
	defer e.mu.Unlock()
	e.sets = sorted
}

// Sets returns the active rule sets ordered by id.
func (e *Engine) Sets() []*RuleSet {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*RuleSet(nil), e.sets...)
}

// RuleCount returns the number of active rules.
func (e *Engine) RuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for _, rs := range e.sets {
		n += len(rs.Rules)
	}
	return n
}

// Evaluate runs every rule against facts and returns the matches. Rules that
// fail to evaluate are skipped and reported together in the error.
func (e *Engine) Evaluate(facts Facts) ([]Finding, error) {
	return e.evaluate(e.Sets(), facts)
}

// EvaluateSet is Evaluate restricted to one rule set id.
func (e *Engine) EvaluateSet(id string, facts Facts) ([]Finding, error) {
	for _, rs := range e.Sets() {
		if rs.ID == id {
			return e.evaluate([]*RuleSet{rs}, facts)
		}
	}
	return nil, errors.New("unknown rule set " + id)
}

func (e *Engine) evaluate(sets []*RuleSet, facts Facts) ([]Finding, error) {
	var (
		findings []Finding
		errs     []error
	)
	for _, rs := range sets {
		for _, r := range rs.Rules {
			if r.expr == nil {
				errs = append(errs, &EvalError{RuleSet: rs.ID, Rule: r.ID, Err: errors.New("rule set not compiled")})
				continue
			}
			ok, err := r.expr.Match(facts)
			if err != nil {
				errs = append(errs, &EvalError{RuleSet: rs.ID, Rule: r.ID, Err: err})
				continue
			}
			if !ok {
				continue
			}
			msg := r.Message
			if msg == "" {
				msg = r.Description
			}
			findings = append(findings, Finding{
				RuleSet:  rs.ID,
				Rule:     r.ID,
				Severity: r.Severity,
				Message:  msg,
			})
			observability.RecordRuleFinding(rs.ID, string(r.Severity))
		}
	}
	return findings, errors.Join(errs...)
}
