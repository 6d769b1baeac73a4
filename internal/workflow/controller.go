// Package workflow implements the five-state compliance workflow: the
// persisted state record, the transition table, checkpoints and the
// best-effort status-document mirror. Policy decisions are delegated to the
// validation gateway; the controller only commits what the gateway allows.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/complianced/internal/gateway"
	"github.com/fyrsmithlabs/complianced/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/complianced/internal/workflow"

const (
	stateFileName  = ".compliance_state.json"
	checkpointsDir = ".compliance_checkpoints"
	statusDocPath  = "memory_bank/core/status.md"

	stateMarker  = "Current state:"
	eventsMarker = "Recent events:"
)

// ErrInvalidStateCode rejects state codes outside A..E.
var ErrInvalidStateCode = errors.New("invalid state code")

// stateDescriptions names each workflow state.
var stateDescriptions = map[string]string{
	"A": "Intake: load project context and clarify the task",
	"B": "Plan: produce the specification and await approval",
	"C": "Execute: implement the approved specification",
	"D": "Verify: audit the implementation",
	"E": "Close: complete the workflow and update context",
}

// validTransitions is the workflow table. D may fall back to C on a failed
// verification; E loops back to A.
var validTransitions = map[string][]string{
	"A": {"B"},
	"B": {"C"},
	"C": {"D"},
	"D": {"E", "C"},
	"E": {"A"},
}

// TransitionRecord is one append-only history entry.
type TransitionRecord struct {
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	Timestamp string `json:"timestamp"`
	Reason    string `json:"reason"`
}

// State is the persisted workflow record for one target directory.
type State struct {
	State               string             `json:"state"`
	PreviousState       string             `json:"previous_state,omitempty"`
	TransitionTimestamp string             `json:"transition_timestamp,omitempty"`
	TransitionReason    string             `json:"transition_reason,omitempty"`
	History             []TransitionRecord `json:"history,omitempty"`
}

// StatusReport is the read-only view of the current state.
type StatusReport struct {
	CurrentState   string   `json:"current_state"`
	Description    string   `json:"state_description"`
	PreviousState  string   `json:"previous_state,omitempty"`
	LastTransition string   `json:"last_transition,omitempty"`
	ValidNext      []string `json:"valid_next_states"`
}

// TransitionResult is the uniform outcome of a transition request. Success
// false with a message means validation failed; an error from the call
// means execution failed.
type TransitionResult struct {
	Success     bool            `json:"success"`
	FromState   string          `json:"from_state"`
	ToState     string          `json:"to_state"`
	Description string          `json:"state_description,omitempty"`
	Timestamp   string          `json:"timestamp,omitempty"`
	Forced      bool            `json:"forced,omitempty"`
	Message     string          `json:"message,omitempty"`
	Verdict     gateway.Verdict `json:"verdict,omitempty"`
}

// Checkpoint is an immutable snapshot of the workflow state.
type Checkpoint struct {
	CheckpointID string `json:"checkpoint_id"`
	State        string `json:"state"`
	Timestamp    string `json:"timestamp"`
	Note         string `json:"note"`
	StateData    State  `json:"state_data"`
	File         string `json:"checkpoint_file,omitempty"`
}

// Controller owns the persisted state and delegates policy to the gateway.
type Controller struct {
	gateway *gateway.Gateway
	logger  *logging.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// NewController builds a controller. logger may be nil.
func NewController(gw *gateway.Gateway, logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Controller{
		gateway: gw,
		logger:  logger.Named("workflow"),
		tracer:  otel.Tracer(instrumentationName),
		now:     time.Now,
	}
}

// ValidStateCode reports whether code is one of A..E.
func ValidStateCode(code string) bool {
	_, ok := stateDescriptions[code]
	return ok
}

// ReadState loads the persisted state, defaulting to A when no record
// exists yet.
func (c *Controller) ReadState(target string) (State, error) {
	data, err := os.ReadFile(filepath.Join(target, stateFileName))
	if os.IsNotExist(err) {
		return State{State: "A"}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("failed to read state file: %w", err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("failed to decode state file: %w", err)
	}
	if state.State == "" {
		state.State = "A"
	}
	return state, nil
}

// GetCurrentState returns the read-only status view.
func (c *Controller) GetCurrentState(target string) (StatusReport, error) {
	state, err := c.ReadState(target)
	if err != nil {
		return StatusReport{}, err
	}
	return StatusReport{
		CurrentState:   state.State,
		Description:    stateDescriptions[state.State],
		PreviousState:  state.PreviousState,
		LastTransition: state.TransitionTimestamp,
		ValidNext:      validTransitions[state.State],
	}, nil
}

// RequestTransition validates and, on success, commits a transition. On a
// validation failure no mutation occurs. force bypasses the transition
// table and the gateway checks but never the state-code check.
func (c *Controller) RequestTransition(ctx context.Context, target, to, from string, force bool, reason string) (TransitionResult, error) {
	ctx, span := c.tracer.Start(ctx, "workflow.transition",
		trace.WithAttributes(attribute.String("to", to), attribute.Bool("force", force)))
	defer span.End()

	if !ValidStateCode(to) {
		return TransitionResult{}, fmt.Errorf("%w: %q", ErrInvalidStateCode, to)
	}
	if from != "" && !ValidStateCode(from) {
		return TransitionResult{}, fmt.Errorf("%w: %q", ErrInvalidStateCode, from)
	}

	current, err := c.ReadState(target)
	if err != nil {
		return TransitionResult{}, err
	}
	if from == "" {
		from = current.State
	}

	result := TransitionResult{FromState: from, ToState: to, Forced: force}

	if !force {
		if !transitionAllowed(from, to) {
			result.Message = fmt.Sprintf("invalid transition %s -> %s; valid next states from %s: %v",
				from, to, from, validTransitions[from])
			return result, nil
		}
		verdict := c.gateway.Validate(ctx, target, from, to)
		result.Verdict = verdict
		if !verdict.Allowed {
			result.Message = verdict.Message
			return result, nil
		}
	} else {
		c.logger.Warn("forced transition",
			zap.String("from", from), zap.String("to", to), zap.String("reason", reason))
	}

	timestamp := c.now().Format(time.RFC3339)
	next := State{
		State:               to,
		PreviousState:       from,
		TransitionTimestamp: timestamp,
		TransitionReason:    reason,
		History: append(current.History, TransitionRecord{
			FromState: from,
			ToState:   to,
			Timestamp: timestamp,
			Reason:    reason,
		}),
	}
	if err := c.writeState(target, next); err != nil {
		return result, err
	}
	c.mirrorStatus(target, next)

	result.Success = true
	result.Description = stateDescriptions[to]
	result.Timestamp = timestamp
	c.logger.Info("transition committed",
		zap.String("from", from), zap.String("to", to), zap.String("reason", reason))
	return result, nil
}

// ValidateTransition runs the same checks as RequestTransition without
// committing anything.
func (c *Controller) ValidateTransition(ctx context.Context, target, to, from string, force bool) (TransitionResult, error) {
	if !ValidStateCode(to) {
		return TransitionResult{}, fmt.Errorf("%w: %q", ErrInvalidStateCode, to)
	}
	if from != "" && !ValidStateCode(from) {
		return TransitionResult{}, fmt.Errorf("%w: %q", ErrInvalidStateCode, from)
	}
	current, err := c.ReadState(target)
	if err != nil {
		return TransitionResult{}, err
	}
	if from == "" {
		from = current.State
	}

	result := TransitionResult{FromState: from, ToState: to, Forced: force}
	if force {
		result.Success = true
		result.Description = stateDescriptions[to]
		return result, nil
	}
	if !transitionAllowed(from, to) {
		result.Message = fmt.Sprintf("invalid transition %s -> %s; valid next states from %s: %v",
			from, to, from, validTransitions[from])
		return result, nil
	}
	verdict := c.gateway.Validate(ctx, target, from, to)
	result.Verdict = verdict
	result.Success = verdict.Allowed
	result.Message = verdict.Message
	if result.Success {
		result.Description = stateDescriptions[to]
	}
	return result, nil
}

// CreateCheckpoint snapshots the current state into a new immutable file.
// Checkpoint ids derive from the wall clock; a collision gets a numeric
// suffix rather than overwriting the earlier snapshot.
func (c *Controller) CreateCheckpoint(target, note string) (Checkpoint, error) {
	state, err := c.ReadState(target)
	if err != nil {
		return Checkpoint{}, err
	}

	dir := filepath.Join(target, checkpointsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Checkpoint{}, fmt.Errorf("failed to create checkpoints directory: %w", err)
	}

	now := c.now()
	id := now.Format("20060102_150405")
	file := filepath.Join(dir, id+".json")
	for n := 2; ; n++ {
		if _, err := os.Stat(file); os.IsNotExist(err) {
			break
		}
		id = fmt.Sprintf("%s_%d", now.Format("20060102_150405"), n)
		file = filepath.Join(dir, id+".json")
	}

	cp := Checkpoint{
		CheckpointID: id,
		State:        state.State,
		Timestamp:    now.Format(time.RFC3339),
		Note:         note,
		StateData:    state,
		File:         file,
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := os.WriteFile(file, data, 0o644); err != nil {
		return Checkpoint{}, fmt.Errorf("failed to write checkpoint: %w", err)
	}
	c.logger.Info("checkpoint created", zap.String("id", id), zap.String("state", state.State))
	return cp, nil
}

// writeState commits the record as one full-file overwrite.
func (c *Controller) writeState(target string, state State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(target, stateFileName), data, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

var stateMarkerPattern = regexp.MustCompile(`Current state:\s*\w+`)

// mirrorStatus substitutes the new state into the human-readable status
// document. Best-effort: a missing document or missing markers never fails
// the transition, but missing markers are logged so the drift is visible.
func (c *Controller) mirrorStatus(target string, state State) {
	path := filepath.Join(target, filepath.FromSlash(statusDocPath))
	content, err := os.ReadFile(path)
	if err != nil {
		c.logger.Debug("status document absent, mirror skipped", zap.String("path", statusDocPath))
		return
	}

	text := string(content)
	updated := false

	if stateMarkerPattern.MatchString(text) {
		text = stateMarkerPattern.ReplaceAllString(text, stateMarker+" "+state.State)
		updated = true
	}
	if strings.Contains(text, eventsMarker) {
		record := fmt.Sprintf("\n- %s: transition %s -> %s (%s)",
			state.TransitionTimestamp, state.PreviousState, state.State, state.TransitionReason)
		text = strings.Replace(text, eventsMarker, eventsMarker+record, 1)
		updated = true
	}

	if !updated {
		c.logger.Warn("status document has no recognized markers, mirror skipped",
			zap.String("path", statusDocPath))
		return
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		c.logger.Warn("failed to update status document", zap.Error(err))
	}
}

func transitionAllowed(from, to string) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
