package event

import (
	"encoding/json"
	"fmt"
)

// Type identifies the kind of change an update event describes. The set is
// closed: producers only ever emit these six, and Decode rejects anything
// else so a malformed record is caught at the stream boundary rather than
// flowing downstream as a zero value.
type Type int

const (
	TaskCreated Type = iota
	TaskUpdated
	TaskCompleted
	TaskDeleted
	TagAdded
	TagRemoved
)

var typeNames = map[Type]string{
	TaskCreated:   "task.created",
	TaskUpdated:   "task.updated",
	TaskCompleted: "task.completed",
	TaskDeleted:   "task.deleted",
	TagAdded:      "tag.added",
	TagRemoved:    "tag.removed",
}

var typeFromName = map[string]Type{
	"task.created":   TaskCreated,
	"task.updated":   TaskUpdated,
	"task.completed": TaskCompleted,
	"task.deleted":   TaskDeleted,
	"tag.added":      TagAdded,
	"tag.removed":    TagRemoved,
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "unknown"
}

func (t Type) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Type) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, ok := typeFromName[s]
	if !ok {
		return fmt.Errorf("unknown event type %q", s)
	}
	*t = v
	return nil
}

// Update is one immutable change to a task, as produced on the task-updates
// topic. Changes carries field-level deltas for updates; TaskData carries a
// full snapshot for creates and major updates. Version is the task's
// monotonically increasing version, used by clients for conflict and
// ordering detection. SourceDeviceID identifies the device that made the
// change so delivery can suppress the echo.
type Update struct {
	Type           Type           `json:"event_type"`
	TaskID         int64          `json:"task_id"`
	UserID         string         `json:"user_id"`
	Changes        map[string]any `json:"changes,omitempty"`
	TaskData       map[string]any `json:"task_data,omitempty"`
	Version        int64          `json:"version,omitempty"`
	SourceDeviceID string         `json:"source_device_id,omitempty"`
}

// Decode parses a raw stream record into an Update. It fails on unknown
// event types and on missing required fields; callers treat a Decode error
// as a poison record (log and skip), never as a reason to stop consuming.
func Decode(data []byte) (Update, error) {
	u := Update{Type: -1}
	if err := json.Unmarshal(data, &u); err != nil {
		return Update{}, err
	}
	if u.Type == -1 {
		return Update{}, fmt.Errorf("event missing event_type")
	}
	if u.UserID == "" {
		return Update{}, fmt.Errorf("event missing user_id")
	}
	if u.TaskID == 0 {
		return Update{}, fmt.Errorf("event missing task_id")
	}
	return u, nil
}

// Envelope is the cross-instance distribution message. The update-event
// fields are flattened alongside the routing fields so a relay can apply
// device exclusion without re-parsing the event body. UserID is repeated at
// the envelope level for the same reason.
type Envelope struct {
	Update
	UserID          string `json:"user_id"`
	ExcludeDeviceID string `json:"exclude_device_id,omitempty"`

	// Origin names the publishing instance. A subscriber that sees its own
	// Origin drops the envelope, since it already delivered locally before
	// publishing.
	Origin string `json:"origin,omitempty"`
}

// NewEnvelope wraps an update for the distribution bridge.
func NewEnvelope(userID string, u Update, excludeDeviceID string) Envelope {
	return Envelope{
		Update:          u,
		UserID:          userID,
		ExcludeDeviceID: excludeDeviceID,
	}
}

// DecodeEnvelope parses a bridge payload. Envelopes come from peer
// instances, so the same strictness as Decode applies.
func DecodeEnvelope(data []byte) (Envelope, error) {
	e := Envelope{Update: Update{Type: -1}}
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, err
	}
	if e.Update.Type == -1 {
		return Envelope{}, fmt.Errorf("envelope missing event_type")
	}
	if e.UserID == "" {
		return Envelope{}, fmt.Errorf("envelope missing user_id")
	}
	// The envelope-level user_id shadows the embedded field during
	// unmarshalling; restore it so the event body stays self-contained.
	e.Update.UserID = e.UserID
	return e, nil
}
