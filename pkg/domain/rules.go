package domain

import (
	"context"
	"fmt"
	"strings"
)

// Action indicates the type of modification performed.
type Action string

// Change actions captured for rule evaluation.
const (
	// ActionCreate indicates a project was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates a project was patched.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Change describes one pending project mutation. Before is nil on create,
// After is nil on delete.
type Change struct {
	Entity EntityType
	Action Action
	Fields []string
	Before *Project
	After  *Project
}

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock rejects the mutation before it reaches the remote store.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but lets the mutation through.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	var msgs []string
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			msgs = append(msgs, fmt.Sprintf("%s: %s", v.Rule, v.Message))
		}
	}
	if len(msgs) == 0 {
		return "mutation blocked by rules"
	}
	return "mutation blocked by rules: " + strings.Join(msgs, "; ")
}

// Is lets errors.Is match ErrValidation; a blocked mutation never reaches the remote.
func (e RuleViolationError) Is(target error) bool { return target == ErrValidation }

// RuleView provides read-only access to the locally cached projects, with
// the pending mutation already applied.
type RuleView interface {
	ListProjects() []Project
	FindProject(id string) (Project, bool)
}

// Rule defines an evaluation executed before a mutation is sent.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error)
}

// RulesEngine orchestrates rule evaluation.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine constructs an engine instance.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// Register appends a rule to the engine.
func (e *RulesEngine) Register(rule Rule) {
	e.rules = append(e.rules, rule)
}

// Rules returns the registered rule names in registration order.
func (e *RulesEngine) Rules() []string {
	out := make([]string, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r.Name())
	}
	return out
}

// Evaluate executes all registered rules and aggregates their results.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var combined Result
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, err
		}
		combined.Merge(res)
	}
	return combined, nil
}
