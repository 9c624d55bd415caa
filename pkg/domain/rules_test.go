package domain

import (
	"context"
	"errors"
	"testing"
)

type staticRule struct {
	name string
	res  Result
	err  error
	hits *int
}

func (r staticRule) Name() string { return r.name }

func (r staticRule) Evaluate(context.Context, RuleTx, []Change) (Result, error) {
	if r.hits != nil {
		*r.hits++
	}
	return r.res, r.err
}

func TestRulesEngineDowngradesRuleErrors(t *testing.T) {
	hits := 0
	engine := NewRulesEngine()
	engine.Register(staticRule{name: "broken", err: errors.New("boom"), hits: &hits})
	engine.Register(staticRule{name: "ok", hits: &hits, res: Result{Violations: []Violation{{Rule: "ok", Severity: SeverityLog}}}})

	res := engine.Evaluate(context.Background(), nil, nil)
	if hits != 2 {
		t.Fatalf("expected every rule evaluated, got %d", hits)
	}
	if res.HasBlocking() {
		t.Fatalf("rule errors must not block")
	}
	warnings := res.Warnings()
	if len(warnings) != 1 || warnings[0].Rule != "broken" {
		t.Fatalf("unexpected warnings %+v", warnings)
	}
	if len(res.Violations) != 2 {
		t.Fatalf("expected merged violations, got %+v", res.Violations)
	}
	if len(engine.Rules()) != 2 {
		t.Fatalf("expected registered rules")
	}
}

func TestResultHasBlocking(t *testing.T) {
	var r Result
	r.Merge(Result{})
	if r.HasBlocking() {
		t.Fatalf("empty result blocking")
	}
	r.Merge(Result{Violations: []Violation{{Severity: SeverityBlock}}})
	if !r.HasBlocking() {
		t.Fatalf("expected blocking")
	}
	if (RuleViolationError{Result: r}).Error() == "" {
		t.Fatalf("expected message")
	}
}
