package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// PipelineStatus is the lifecycle state of a Pipeline (§3).
type PipelineStatus string

const (
	PipelinePending    PipelineStatus = "pending"
	PipelineInProgress PipelineStatus = "in-progress"
	PipelineCompleted  PipelineStatus = "completed"
	PipelineFailed     PipelineStatus = "failed"
)

// CurrentPipelineSchema is stamped on every pipeline document this version
// writes; read paths upgrade documents missing it.
const CurrentPipelineSchema = "kernel-memory-pipeline/1"

// FileDescriptor is a file attached to a document (§3 File).
type FileDescriptor struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	MimeType    string `json:"mimeType"`
	Generated   bool   `json:"generated"`
	GeneratedBy string `json:"generatedBy,omitempty"`
}

// LogEntry is one append-only diagnostic entry produced by a handler (§3 logs).
type LogEntry struct {
	Step      string    `json:"step"`
	Message   string    `json:"message"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Pipeline is the persisted per-document state machine (§3, §6).
//
// Invariants (enforced by the orchestrator, not by this type):
//
//	I1: Steps == append(CompletedSteps, RemainingSteps...) at rest.
//	I2: state is written before the next step is enqueued.
//	I3: a handler's output files are visible in storage before CompletedSteps advances.
//	I4: Tags added at upload are immutable; tags added by handlers are append-only.
type Pipeline struct {
	Schema         string           `json:"schema"`
	Index          string           `json:"index"`
	DocumentID     string           `json:"documentId"`
	ExecutionID    string           `json:"executionId"`
	Files          []FileDescriptor `json:"files"`
	Tags           TagSet           `json:"tags"`
	Steps          []string         `json:"steps"`
	RemainingSteps []string         `json:"remainingSteps"`
	CompletedSteps []string         `json:"completedSteps"`
	Logs           []LogEntry       `json:"logs"`
	Status         PipelineStatus   `json:"status"`
	Retries        map[string]int   `json:"retries"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`

	// Unknown preserves any JSON fields this version doesn't recognize so a
	// read-modify-write round trip never silently drops data (§6).
	Unknown map[string]json.RawMessage `json:"-"`
}

// NewPipeline allocates a fresh pipeline document (the shape produced by
// Orchestrator.PrepareUpload).
func NewPipeline(index, documentID, executionID string, steps []string, tags TagSet) *Pipeline {
	stepsCopy := make([]string, len(steps))
	copy(stepsCopy, steps)
	remaining := make([]string, len(steps))
	copy(remaining, steps)

	now := time.Now().UTC()
	return &Pipeline{
		Schema:         CurrentPipelineSchema,
		Index:          index,
		DocumentID:     documentID,
		ExecutionID:    executionID,
		Tags:           tags.Clone(),
		Steps:          stepsCopy,
		RemainingSteps: remaining,
		CompletedSteps: nil,
		Status:         PipelinePending,
		Retries:        make(map[string]int),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Ready reports whether this pipeline is the "isReady" true state (§4.1, §7).
func (p *Pipeline) Ready() bool {
	return p.Status == PipelineCompleted
}

// NextStep returns the step at the head of RemainingSteps, or "" if none remain.
func (p *Pipeline) NextStep() string {
	if len(p.RemainingSteps) == 0 {
		return ""
	}
	return p.RemainingSteps[0]
}

// AdvanceStep moves the head of RemainingSteps to CompletedSteps. It is the
// orchestrator's sole mutator for step bookkeeping, preserving I1.
func (p *Pipeline) AdvanceStep() error {
	if len(p.RemainingSteps) == 0 {
		return fmt.Errorf("model.Pipeline.AdvanceStep: no remaining steps")
	}
	step := p.RemainingSteps[0]
	p.CompletedSteps = append(p.CompletedSteps, step)
	p.RemainingSteps = p.RemainingSteps[1:]
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// AppendLog records a diagnostic entry (append-only).
func (p *Pipeline) AppendLog(step, message string, err error) {
	entry := LogEntry{Step: step, Message: message, Timestamp: time.Now().UTC()}
	if err != nil {
		entry.Error = err.Error()
	}
	p.Logs = append(p.Logs, entry)
}

// AddFile appends a file descriptor, deduplicating by name (later writes win,
// matching "overwrite rather than duplicate" semantics for generated files).
func (p *Pipeline) AddFile(f FileDescriptor) {
	for i, existing := range p.Files {
		if existing.Name == f.Name {
			p.Files[i] = f
			return
		}
	}
	p.Files = append(p.Files, f)
}

// IncrementRetry bumps the monotonic retry counter for step and returns the new count.
func (p *Pipeline) IncrementRetry(step string) int {
	if p.Retries == nil {
		p.Retries = make(map[string]int)
	}
	p.Retries[step]++
	return p.Retries[step]
}

// CheckInvariant validates I1: Steps == CompletedSteps ++ RemainingSteps.
func (p *Pipeline) CheckInvariant() error {
	if len(p.CompletedSteps)+len(p.RemainingSteps) != len(p.Steps) {
		return fmt.Errorf("model.Pipeline.CheckInvariant: completed(%d)+remaining(%d) != steps(%d)",
			len(p.CompletedSteps), len(p.RemainingSteps), len(p.Steps))
	}
	for i, s := range p.CompletedSteps {
		if p.Steps[i] != s {
			return fmt.Errorf("model.Pipeline.CheckInvariant: completedSteps[%d]=%q does not match steps[%d]=%q", i, s, i, p.Steps[i])
		}
	}
	for i, s := range p.RemainingSteps {
		if p.Steps[len(p.CompletedSteps)+i] != s {
			return fmt.Errorf("model.Pipeline.CheckInvariant: remainingSteps[%d]=%q does not match steps", i, s)
		}
	}
	return nil
}

// pipelineWire is the JSON wire shape; it exists so MarshalJSON/UnmarshalJSON
// can splice Unknown back in without an extra indirection type visible to callers.
type pipelineWire Pipeline

// MarshalJSON writes the known fields plus any preserved unknown fields.
func (p *Pipeline) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal((*pipelineWire)(p))
	if err != nil {
		return nil, err
	}
	if len(p.Unknown) == 0 {
		return known, nil
	}

	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range p.Unknown {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON reads known fields and stashes anything else in Unknown (§6:
// "Unknown fields must be preserved on read-modify-write").
func (p *Pipeline) UnmarshalJSON(data []byte) error {
	var wire pipelineWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*p = Pipeline(wire)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	known := map[string]bool{
		"schema": true, "index": true, "documentId": true, "executionId": true,
		"files": true, "tags": true, "steps": true, "remainingSteps": true,
		"completedSteps": true, "logs": true, "status": true, "retries": true,
		"createdAt": true, "updatedAt": true,
	}
	unknown := make(map[string]json.RawMessage)
	for k, v := range raw {
		if !known[k] {
			unknown[k] = v
		}
	}
	if len(unknown) > 0 {
		p.Unknown = unknown
	}
	return nil
}
