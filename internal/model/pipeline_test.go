package model

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestPipeline_AdvanceStepMovesHeadToCompleted(t *testing.T) {
	p := NewPipeline("docs", "doc-1", "exec-1", []string{"extract", "partition"}, TagSet{})
	if err := p.AdvanceStep(); err != nil {
		t.Fatalf("AdvanceStep: %v", err)
	}
	if p.NextStep() != "partition" {
		t.Fatalf("NextStep() = %q, want partition", p.NextStep())
	}
	if len(p.CompletedSteps) != 1 || p.CompletedSteps[0] != "extract" {
		t.Fatalf("CompletedSteps = %v, want [extract]", p.CompletedSteps)
	}
	if err := p.CheckInvariant(); err != nil {
		t.Fatalf("CheckInvariant: %v", err)
	}
}

func TestPipeline_AdvanceStepErrorsWhenNoneRemain(t *testing.T) {
	p := NewPipeline("docs", "doc-1", "exec-1", []string{"extract"}, TagSet{})
	if err := p.AdvanceStep(); err != nil {
		t.Fatalf("first AdvanceStep: %v", err)
	}
	if err := p.AdvanceStep(); err == nil {
		t.Fatal("expected an error advancing past the last step")
	}
}

func TestPipeline_AddFileOverwritesByName(t *testing.T) {
	p := NewPipeline("docs", "doc-1", "exec-1", []string{"extract"}, TagSet{})
	p.AddFile(FileDescriptor{Name: "a.txt", Size: 10})
	p.AddFile(FileDescriptor{Name: "a.txt", Size: 20})
	if len(p.Files) != 1 {
		t.Fatalf("Files = %v, want exactly one entry", p.Files)
	}
	if p.Files[0].Size != 20 {
		t.Fatalf("Files[0].Size = %d, want 20 (later write wins)", p.Files[0].Size)
	}
}

func TestPipeline_ReadyOnlyWhenCompleted(t *testing.T) {
	p := NewPipeline("docs", "doc-1", "exec-1", []string{"extract"}, TagSet{})
	if p.Ready() {
		t.Fatal("a freshly created pipeline should not be ready")
	}
	p.Status = PipelineCompleted
	if !p.Ready() {
		t.Fatal("a completed pipeline should be ready")
	}
}

func TestPipeline_IncrementRetryIsMonotonicPerStep(t *testing.T) {
	p := NewPipeline("docs", "doc-1", "exec-1", []string{"extract"}, TagSet{})
	if got := p.IncrementRetry("extract"); got != 1 {
		t.Fatalf("first IncrementRetry = %d, want 1", got)
	}
	if got := p.IncrementRetry("extract"); got != 2 {
		t.Fatalf("second IncrementRetry = %d, want 2", got)
	}
	if got := p.IncrementRetry("partition"); got != 1 {
		t.Fatalf("IncrementRetry for a different step = %d, want 1", got)
	}
}

func TestPipeline_JSONRoundTripPreservesUnknownFields(t *testing.T) {
	p := NewPipeline("docs", "doc-1", "exec-1", []string{"extract"}, TagSet{})
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var withExtra map[string]json.RawMessage
	if err := json.Unmarshal(data, &withExtra); err != nil {
		t.Fatalf("Unmarshal to map: %v", err)
	}
	withExtra["futureField"] = json.RawMessage(`"some-value-from-a-newer-writer"`)
	data, err = json.Marshal(withExtra)
	if err != nil {
		t.Fatalf("Marshal map: %v", err)
	}

	var roundTripped Pipeline
	if err := json.Unmarshal(data, &roundTripped); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := roundTripped.Unknown["futureField"]; !ok {
		t.Fatal("futureField was dropped on round trip")
	}

	rewritten, err := json.Marshal(&roundTripped)
	if err != nil {
		t.Fatalf("re-Marshal: %v", err)
	}
	var final map[string]json.RawMessage
	if err := json.Unmarshal(rewritten, &final); err != nil {
		t.Fatalf("Unmarshal final: %v", err)
	}
	if _, ok := final["futureField"]; !ok {
		t.Fatal("futureField was dropped on a read-modify-write cycle")
	}
}

func TestPipeline_CheckInvariantDetectsMismatch(t *testing.T) {
	p := NewPipeline("docs", "doc-1", "exec-1", []string{"extract", "partition"}, TagSet{})
	p.CompletedSteps = []string{"partition"}
	if err := p.CheckInvariant(); err == nil {
		t.Fatal("expected CheckInvariant to catch a CompletedSteps/Steps mismatch")
	}
}

func TestPipeline_AppendLogRecordsErrorMessage(t *testing.T) {
	p := NewPipeline("docs", "doc-1", "exec-1", []string{"extract"}, TagSet{})
	p.AppendLog("extract", "failed", errors.New("boom"))
	if len(p.Logs) != 1 {
		t.Fatalf("Logs = %v, want 1 entry", p.Logs)
	}
	if p.Logs[0].Error != "boom" {
		t.Fatalf("Logs[0].Error = %q, want boom", p.Logs[0].Error)
	}
}
