package consensus

import (
	"encoding/json"
	"testing"
)

func numStep(n int64) StepValue { return StepValue{Num: &n} }

func TestClassifyStepNumeric(t *testing.T) {
	tests := []struct {
		code      int64
		label     string
		isCatchup bool
	}{
		{0, "New Height", false},
		{1, "Proposal", false},
		{3, "Prevote Wait", false},
		{6, "Commit", false},
		{8, "Finalize Commit", false},
		{10, "Catchup", true},
		{11, "Catchup Replay", true},
	}
	for _, tt := range tests {
		info := ClassifyStep(numStep(tt.code))
		if info.Code == nil || int64(*info.Code) != tt.code {
			t.Fatalf("code %d: got code %v", tt.code, info.Code)
		}
		if info.Label == nil || *info.Label != tt.label {
			t.Errorf("code %d: got label %v, want %q", tt.code, info.Label, tt.label)
		}
		if info.IsCatchup != tt.isCatchup {
			t.Errorf("code %d: IsCatchup = %v, want %v", tt.code, info.IsCatchup, tt.isCatchup)
		}
	}
}

func TestClassifyStepUnknownNumeric(t *testing.T) {
	info := ClassifyStep(numStep(42))
	if info.Label == nil || *info.Label != "Step 42" {
		t.Fatalf("got label %v, want Step 42", info.Label)
	}
	if !info.IsCatchup {
		t.Error("codes >= 10 should be flagged as catch-up")
	}

	info = ClassifyStep(numStep(9))
	if info.IsCatchup {
		t.Error("code 9 should not be flagged as catch-up")
	}
}

func TestClassifyStepFreeText(t *testing.T) {
	info := ClassifyStep(StepValue{Text: "RoundStepCatchupReplay"})
	if !info.IsCatchup {
		t.Error("catchup replay text should be flagged as catch-up")
	}

	info = ClassifyStep(StepValue{Text: "currently in Prevote Wait phase"})
	if info.Label == nil || *info.Label != "Prevote Wait" {
		t.Errorf("got label %v, want Prevote Wait", info.Label)
	}
	if info.Code == nil || *info.Code != StepPrevoteWait {
		t.Errorf("got code %v, want %d", info.Code, StepPrevoteWait)
	}

	info = ClassifyStep(StepValue{Text: "wrong last block received"})
	if info.Label == nil || *info.Label != "wrong last block received" {
		t.Errorf("unmatched text should become the label, got %v", info.Label)
	}
	if !info.IsCatchup {
		t.Error("catch-up indicator in unmatched text should set IsCatchup")
	}
	if info.Code != nil {
		t.Errorf("unmatched text should carry no code, got %d", *info.Code)
	}
}

func TestClassifyStepAbsent(t *testing.T) {
	info := ClassifyStep(StepValue{})
	if info.Code != nil || info.Label != nil || info.IsCatchup {
		t.Fatalf("absent step should classify empty, got %+v", info)
	}
	if info.Description != "step not yet reported" {
		t.Errorf("got description %q", info.Description)
	}
}

func TestStepFromJSON(t *testing.T) {
	v := StepFromJSON(json.RawMessage(`6`))
	if v.Num == nil || *v.Num != 6 {
		t.Fatalf("number: got %+v", v)
	}
	v = StepFromJSON(json.RawMessage(`"6"`))
	if v.Num == nil || *v.Num != 6 {
		t.Fatalf("quoted number: got %+v", v)
	}
	v = StepFromJSON(json.RawMessage(`"RoundStepCommit"`))
	if v.Num != nil || v.Text != "RoundStepCommit" {
		t.Fatalf("text: got %+v", v)
	}
	v = StepFromJSON(nil)
	if !v.Absent() {
		t.Fatalf("nil raw should be absent, got %+v", v)
	}
}
