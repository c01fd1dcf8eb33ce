package audit

import (
	"encoding/json"
	"fmt"
	"time"
)

// Action is the kind of mutating (or session) operation an event records.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionRead   Action = "READ"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
	ActionLogin  Action = "LOGIN"
	ActionLogout Action = "LOGOUT"
)

func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionLogin, ActionLogout:
		return true
	}
	return false
}

const (
	DescriptionMinLen = 3
	DescriptionMaxLen = 300

	// MaxMetadataBytes caps the serialized metadata payload so a single event
	// cannot balloon the message size.
	MaxMetadataBytes = 32 * 1024
)

// Event is one immutable audit fact describing a mutating action performed
// somewhere in the system. The JSON tags are the broker wire contract; new
// optional fields must only ever be added, so older consumers keep decoding.
type Event struct {
	Timestamp   time.Time      `json:"timestamp"`
	ActorID     string         `json:"user_id"`
	ServiceID   string         `json:"audited_service_id"`
	Action      Action         `json:"action"`
	Description string         `json:"description"`
	Entity      string         `json:"entity"`
	EntityID    string         `json:"entity_id"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	SourceIP    string         `json:"ip,omitempty"`
}

// ValidationError reports an event that must not reach the wire.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("audit: invalid event: %s %s", e.Field, e.Reason)
}

// DecodeError wraps any failure to turn wire bytes back into a valid Event.
// The consumer treats it as a poison message.
type DecodeError struct {
	cause error
}

func (e *DecodeError) Error() string { return "audit: decode failed: " + e.cause.Error() }
func (e *DecodeError) Unwrap() error { return e.cause }

func (e Event) Validate() error {
	if e.ActorID == "" {
		return &ValidationError{Field: "user_id", Reason: "is required"}
	}
	if e.ServiceID == "" {
		return &ValidationError{Field: "audited_service_id", Reason: "is required"}
	}
	if !e.Action.Valid() {
		return &ValidationError{Field: "action", Reason: fmt.Sprintf("%q is not a known action", e.Action)}
	}
	if n := len(e.Description); n < DescriptionMinLen || n > DescriptionMaxLen {
		return &ValidationError{Field: "description", Reason: fmt.Sprintf("length %d outside [%d,%d]", n, DescriptionMinLen, DescriptionMaxLen)}
	}
	if e.Entity == "" {
		return &ValidationError{Field: "entity", Reason: "is required"}
	}
	if e.EntityID == "" {
		return &ValidationError{Field: "entity_id", Reason: "is required"}
	}
	if e.Metadata != nil {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return &ValidationError{Field: "metadata", Reason: "is not JSON-serializable"}
		}
		if len(raw) > MaxMetadataBytes {
			return &ValidationError{Field: "metadata", Reason: fmt.Sprintf("serialized size %d exceeds cap %d", len(raw), MaxMetadataBytes)}
		}
	}
	return nil
}

// Encode validates the event and serializes it to the wire form.
// An invalid event fails here rather than producing a poison envelope.
func Encode(e Event) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("audit: marshal failed: %w", err)
	}
	return raw, nil
}

// Decode parses wire bytes into an Event. Unknown fields are ignored and
// absent optional fields decode as zero values, so envelopes produced by
// newer services remain readable. Malformed or contract-violating payloads
// return a DecodeError.
func Decode(raw []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return Event{}, &DecodeError{cause: err}
	}
	if err := e.Validate(); err != nil {
		return Event{}, &DecodeError{cause: err}
	}
	return e, nil
}
