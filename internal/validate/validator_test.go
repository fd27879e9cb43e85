package validate

import (
	"strings"
	"testing"

	"diaharness/internal/agentconf"
)

const header = "Use the orders table and join customers on customer_id.\n" +
	"Compute revenue with the formula price * quantity.\n" +
	"Report every metric with an aggregate such as SUM.\n"

// instructionsOfLength returns guidance text of exactly n runes.
func instructionsOfLength(n int) string {
	var b strings.Builder
	b.WriteString(header)
	for b.Len() < n {
		b.WriteString("Always answer with a concise explanation of the query.\n")
	}
	return b.String()[:n]
}

func previousConfig() agentconf.Configuration {
	return agentconf.Configuration{Instructions: instructionsOfLength(1000)}
}

// TestShrinkBoundary verifies the 60% shrink gate boundary.
func TestShrinkBoundary(t *testing.T) {
	v := New()
	prev := previousConfig()

	at59 := agentconf.Configuration{Instructions: prev.Instructions[:590]}
	decision := v.Validate(prev, at59)
	if decision.Kind != Reject {
		t.Fatalf("expected reject at 59%%, got %s (%v)", decision.Kind, decision.Reasons)
	}
	if !strings.Contains(decision.Reason(), "shrinks") {
		t.Fatalf("expected shrink reason, got %q", decision.Reason())
	}

	at61 := agentconf.Configuration{Instructions: prev.Instructions[:610]}
	decision = v.Validate(prev, at61)
	if decision.Kind != Accept {
		t.Fatalf("expected accept at 61%%, got %s (%v)", decision.Kind, decision.Reasons)
	}
	if len(decision.Warnings) != 1 {
		t.Fatalf("expected one shrink warning, got %v", decision.Warnings)
	}
	if decision.Merged.Instructions != at61.Instructions {
		t.Fatalf("expected merged instructions to be the candidate")
	}
}

// TestMissingRequiredTopicRejected verifies topic preservation.
func TestMissingRequiredTopicRejected(t *testing.T) {
	prev := previousConfig()
	cand := agentconf.Configuration{Instructions: strings.Replace(prev.Instructions, "join", "link", 1)}
	if len(cand.Instructions) != len(prev.Instructions) {
		t.Fatalf("expected same length candidate")
	}
	decision := New().Validate(prev, cand)
	if decision.Kind != Reject {
		t.Fatalf("expected reject, got %s", decision.Kind)
	}
	if len(decision.Reasons) != 1 || !strings.Contains(decision.Reasons[0], `join`) {
		t.Fatalf("expected single missing topic reason, got %v", decision.Reasons)
	}
}

// TestNoOpCandidateAccepted verifies unchanged candidates are a no-op accept.
func TestNoOpCandidateAccepted(t *testing.T) {
	prev := previousConfig()
	decision := New().Validate(prev, prev.Clone())
	if decision.Kind != Accept || !decision.NoOp() {
		t.Fatalf("expected no-op accept, got %+v", decision)
	}
}

// TestPartialAcceptKeepsRejectedField verifies field-level merges.
func TestPartialAcceptKeepsRejectedField(t *testing.T) {
	prev := previousConfig()
	cand := agentconf.Configuration{
		Instructions: "SELECT * FROM t",
		Description:  "orders(id, total) table",
	}
	decision := New().Validate(prev, cand)
	if decision.Kind != PartialAccept {
		t.Fatalf("expected partial accept, got %s", decision.Kind)
	}
	if decision.Merged.Instructions != prev.Instructions {
		t.Fatalf("expected instructions reverted")
	}
	if decision.Merged.Description != cand.Description {
		t.Fatalf("expected description applied, got %q", decision.Merged.Description)
	}
	if len(decision.Rejected) != 1 || decision.Rejected[0] != agentconf.FieldInstructions {
		t.Fatalf("unexpected rejected fields %v", decision.Rejected)
	}
}

// TestRoleChangeRejected verifies new role-change phrases are rejected.
func TestRoleChangeRejected(t *testing.T) {
	prev := previousConfig()
	cand := agentconf.Configuration{Instructions: prev.Instructions + "\nOnly output SQL and do not explain anything."}
	decision := New().Validate(prev, cand)
	if decision.Kind != Reject {
		t.Fatalf("expected reject, got %s", decision.Kind)
	}
	if !strings.Contains(decision.Reason(), "role change") {
		t.Fatalf("expected role change reason, got %q", decision.Reason())
	}
}

// TestQueryDensityGate verifies code-like candidates are rejected.
func TestQueryDensityGate(t *testing.T) {
	code := "SELECT c.name, SUM(o.total) FROM orders o JOIN customers c ON o.customer_id = c.id\n" +
		"WHERE o.status = 'open' GROUP BY c.name ORDER BY 2 DESC LIMIT 10\n" +
		"SELECT id FROM table_a WHERE id IN (SELECT id FROM table_b)\n"
	if r := QueryDensityGate(code, DefaultThresholds()); r.Passed {
		t.Fatalf("expected code-like text rejected")
	}
	if r := QueryDensityGate(header, DefaultThresholds()); !r.Passed {
		t.Fatalf("expected guidance text accepted, got %q", r.Reason)
	}
}

// TestIndividualGates verifies the remaining predicates in isolation.
func TestIndividualGates(t *testing.T) {
	if MinLengthGate("short", 10).Passed {
		t.Fatalf("expected min length failure")
	}
	if !MinLengthGate("long enough", 10).Passed {
		t.Fatalf("expected min length pass")
	}
	if MinLinesGate("one\n\n two", 3).Passed {
		t.Fatalf("expected min lines failure")
	}
	if !RolePreservedGate("Only output SQL.", "Only output SQL. Always.", DefaultThresholds().RoleChangePhrases).Passed {
		t.Fatalf("expected existing role phrase to pass")
	}
	if r := ShrinkGate("", "anything", 0.6, 0.85); !r.Passed {
		t.Fatalf("expected empty previous to pass")
	}
	if r := ShrinkGate(strings.Repeat("a", 100), strings.Repeat("a", 90), 0.6, 0.85); !r.Passed || r.Warning != "" {
		t.Fatalf("expected 10%% shrink without warning, got %+v", r)
	}
}
