package review

import "testing"

func TestArbiter_HighConfidenceMinorFindings_Proceed(t *testing.T) {
	a := NewArbiter(0.7, 2)
	res := Result{
		Confidence: 0.9,
		Remediable: true,
		Findings:   []Finding{{Severity: SeverityMinor, Description: "naming nit"}},
	}
	if v := a.Decide(res, 0, 2, 3); v != Proceed {
		t.Errorf("expected Proceed, got %s", v)
	}
}

func TestArbiter_LowConfidenceRemediable_Fix(t *testing.T) {
	a := NewArbiter(0.7, 2)
	res := Result{
		Confidence: 0.5,
		Remediable: true,
		Findings:   []Finding{{Severity: SeverityMajor, Description: "missing validation"}},
	}
	if v := a.Decide(res, 0, 2, 3); v != Fix {
		t.Errorf("attempts=0/max=2: expected Fix, got %s", v)
	}
	if v := a.Decide(res, 1, 2, 2); v != Fix {
		t.Errorf("attempts=1/max=2: expected Fix, got %s", v)
	}
	if v := a.Decide(res, 2, 2, 1); v != FailPhase {
		t.Errorf("attempts=2/max=2: expected FailPhase, got %s", v)
	}
}

func TestArbiter_CriticalNotRemediable_FailPhaseImmediately(t *testing.T) {
	a := NewArbiter(0.7, 2)
	res := Result{
		Confidence: 0.5,
		Remediable: false,
		Findings:   []Finding{{Severity: SeverityCritical, Description: "credentials in source"}},
	}
	if v := a.Decide(res, 0, 2, 5); v != FailPhase {
		t.Errorf("expected FailPhase, got %s", v)
	}
}

func TestArbiter_HighConfidenceCriticalFinding_NoProceed(t *testing.T) {
	a := NewArbiter(0.7, 2)
	res := Result{
		Confidence: 0.95,
		Remediable: true,
		Findings:   []Finding{{Severity: SeverityCritical, Description: "sql injection"}},
	}
	if v := a.Decide(res, 0, 2, 3); v != Fix {
		t.Errorf("critical finding must not proceed; expected Fix, got %s", v)
	}
}

func TestArbiter_NoBudgetLeft_FailPhase(t *testing.T) {
	a := NewArbiter(0.7, 2)
	res := Result{
		Confidence: 0.5,
		Remediable: true,
		Findings:   []Finding{{Severity: SeverityMajor, Description: "broken test"}},
	}
	if v := a.Decide(res, 0, 2, 0); v != FailPhase {
		t.Errorf("remaining budget 0: expected FailPhase, got %s", v)
	}
}

func TestArbiter_ZeroMaxFallsBackToConfigured(t *testing.T) {
	a := NewArbiter(0.7, 3)
	res := Result{
		Confidence: 0.5,
		Remediable: true,
		Findings:   []Finding{{Severity: SeverityMajor, Description: "x"}},
	}
	if v := a.Decide(res, 2, 0, 1); v != Fix {
		t.Errorf("expected configured max 3 to apply, got %s", v)
	}
}
