package rules

import (
	"fmt"
	"strings"
)

// Severity ranks a finding.
type Severity string

const (
	SeverityInfo      Severity = "info"
	SeverityWarning   Severity = "warning"
	SeverityViolation Severity = "violation"
)

func (s Severity) valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityViolation:
		return true
	}
	return false
}

// Rule is one named condition. The rule fires when Condition is true.
type Rule struct {
	ID          string   `json:"id" yaml:"id"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Condition   string   `json:"condition" yaml:"condition"`
	Severity    Severity `json:"severity,omitempty" yaml:"severity,omitempty"`
	Message     string   `json:"message,omitempty" yaml:"message,omitempty"`

	expr *Expr
}

// RuleSet groups rules loaded from one file.
type RuleSet struct {
	ID          string `json:"id" yaml:"id"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Rules       []Rule `json:"rules" yaml:"rules"`

	// Source is the file the set was loaded from.
	Source string `json:"-" yaml:"-"`
}

// Compile validates the set and compiles every condition. Severity defaults
// to violation.
func (rs *RuleSet) Compile() error {
	if strings.TrimSpace(rs.ID) == "" {
		return fmt.Errorf("rule set %s: id is required", rs.Source)
	}

	seen := make(map[string]bool, len(rs.Rules))
	for i := range rs.Rules {
		r := &rs.Rules[i]
		if r.ID == "" {
			return fmt.Errorf("rule set %s: rule %d has no id", rs.ID, i)
		}
		if seen[r.ID] {
			return fmt.Errorf("rule set %s: duplicate rule id %s", rs.ID, r.ID)
		}
		seen[r.ID] = true

		if r.Severity == "" {
			r.Severity = SeverityViolation
		}
		if !r.Severity.valid() {
			return fmt.Errorf("rule set %s: rule %s: unknown severity %q", rs.ID, r.ID, r.Severity)
		}

		expr, err := Compile(r.Condition)
		if err != nil {
			return fmt.Errorf("rule set %s: rule %s: %w", rs.ID, r.ID, err)
		}
		r.expr = expr
	}
	return nil
}

// Finding is a rule whose condition matched.
type Finding struct {
	RuleSet  string   `json:"rule_set"`
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// EvalError reports a rule that could not be evaluated.
type EvalError struct {
	RuleSet string
	Rule    string
	Err     error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("rule %s/%s: %v", e.RuleSet, e.Rule, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }
