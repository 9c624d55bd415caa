package domain

import (
	"context"
	"fmt"
	"time"
)

// Severity grades a rule outcome.
type Severity string

// Rule severities.
const (
	// SeverityBlock rejects the save.
	SeverityBlock Severity = "block"
	// SeverityWarn records a problem that did not stop the save.
	SeverityWarn Severity = "warn"
	// SeverityLog is informational.
	SeverityLog Severity = "log"
)

// Violation is one rule outcome.
type Violation struct {
	Rule       string
	Severity   Severity
	Message    string
	Collection Collection
	EntityID   string
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

// Warnings returns the non-blocking violations.
func (r Result) Warnings() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityWarn {
			out = append(out, v)
		}
	}
	return out
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "save blocked by rules"
}

// RuleView provides read access to collections for rule evaluation.
type RuleView interface {
	FindPatient(ctx context.Context, id string) (Patient, bool, error)
	ListAppointments(ctx context.Context) ([]Appointment, error)
	ListPrescriptions(ctx context.Context) ([]Prescription, error)
}

// RuleTx lets a rule write derived records. Every write it performs is
// captured as a derived Change attributed to the rule.
type RuleTx interface {
	RuleView
	CreateAppointment(ctx context.Context, appt Appointment) (Appointment, error)
	CreatePrescription(ctx context.Context, rx Prescription) (Prescription, error)
	UpdatePrescription(ctx context.Context, id string, mutator func(*Prescription) error) (Prescription, error)
	LinkVisitPrescription(ctx context.Context, patientID, visitID, prescriptionID string) error
	Now() time.Time
}

// RuleScoper is implemented by transactions that attribute derived writes to
// the rule performing them.
type RuleScoper interface {
	ForRule(name string) RuleTx
}

func scopeTx(tx RuleTx, rule string) RuleTx {
	if s, ok := tx.(RuleScoper); ok {
		return s.ForRule(rule)
	}
	return tx
}

// Rule is a cross-entity side effect evaluated after a primary write.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, tx RuleTx, changes []Change) (Result, error)
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

// Rules returns the registered rules in evaluation order.
func (e *RulesEngine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Evaluate executes all registered rules and aggregates their results. A rule
// that fails does not stop the others: its error becomes a warning so the
// primary save still stands.
func (e *RulesEngine) Evaluate(ctx context.Context, tx RuleTx, changes []Change) Result {
	var combined Result
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, scopeTx(tx, rule.Name()), changes)
		if err != nil {
			combined.Violations = append(combined.Violations, Violation{
				Rule:     rule.Name(),
				Severity: SeverityWarn,
				Message:  fmt.Sprintf("%s: %v", rule.Name(), err),
			})
			continue
		}
		combined.Merge(res)
	}
	return combined
}
