// Package event defines the envelope that flows through the apply pipeline.
//
// An Event is a closed tagged variant over three kinds:
//
//   - KindData: a decoded transaction-log record (or the error raised while
//     producing it) carrying the upstream sequence number of its source.
//   - KindBackupCompletion: a completed backup, identified by a URI.
//   - KindConsistencyCheck: the outcome of a consistency check.
//
// Notifications travel in the same stream as data events so they stay
// ordered after the data events that preceded them. They carry no seqno.
//
// Events are immutable once constructed and are compared by pointer
// identity: two events with equal payloads are still different events.
package event

import (
	"fmt"
	"time"
)

// Kind discriminates the event variant.
type Kind uint8

const (
	KindData Kind = iota + 1
	KindBackupCompletion
	KindConsistencyCheck
)

// String returns the concrete kind name used in diagnostics.
func (k Kind) String() string {
	switch k {
	case KindData:
		return "Data"
	case KindBackupCompletion:
		return "BackupCompletion"
	case KindConsistencyCheck:
		return "ConsistencyCheck"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// IsNotification reports whether the kind is one of the notification kinds.
func (k Kind) IsNotification() bool {
	return k == KindBackupCompletion || k == KindConsistencyCheck
}

// CheckOutcome is the result carried by a consistency-check notification.
type CheckOutcome struct {
	failed bool
	detail string
}

// Failed reports whether the check found a failure.
func (o CheckOutcome) Failed() bool { return o.failed }

// Detail returns the failure description; empty on success.
func (o CheckOutcome) Detail() string { return o.detail }

// Event is the immutable envelope passed from the decoder to the apply channels.
type Event struct {
	kind      Kind
	source    string
	seqno     uint64
	key       string
	timestamp time.Time
	payload   any
	err       error
	uri       string
	outcome   CheckOutcome
}

// NewData creates a data event. key is the shard key used by key-based
// partitioning (for row changes "schema.table"); it may be empty.
func NewData(source string, seqno uint64, key string, ts time.Time, payload any) *Event {
	return &Event{
		kind:      KindData,
		source:    source,
		seqno:     seqno,
		key:       key,
		timestamp: ts,
		payload:   payload,
	}
}

// NewError creates a data event whose payload is the error raised while
// producing the record at seqno.
func NewError(source string, seqno uint64, err error) *Event {
	return &Event{
		kind:      KindData,
		source:    source,
		seqno:     seqno,
		timestamp: time.Now(),
		err:       err,
	}
}

// NewBackupCompletion creates a notification for a completed backup.
func NewBackupCompletion(uri string) *Event {
	return &Event{
		kind:      KindBackupCompletion,
		timestamp: time.Now(),
		uri:       uri,
	}
}

// NewConsistencyCheckSuccess creates a notification for a passing consistency check.
func NewConsistencyCheckSuccess() *Event {
	return &Event{
		kind:      KindConsistencyCheck,
		timestamp: time.Now(),
	}
}

// NewConsistencyCheckFailure creates a notification for a failed consistency check.
func NewConsistencyCheckFailure(detail string) *Event {
	return &Event{
		kind:      KindConsistencyCheck,
		timestamp: time.Now(),
		outcome:   CheckOutcome{failed: true, detail: detail},
	}
}

func (e *Event) Kind() Kind           { return e.kind }
func (e *Event) Source() string       { return e.source }
func (e *Event) Timestamp() time.Time { return e.timestamp }

// Seqno returns the upstream sequence number. Only meaningful when HasSeqno is true.
func (e *Event) Seqno() uint64 { return e.seqno }

// HasSeqno reports whether the event carries a sequence number of its own.
func (e *Event) HasSeqno() bool { return e.kind == KindData }

// Key returns the shard key, or the source when no shard key was set.
func (e *Event) Key() string {
	if e.key == "" {
		return e.source
	}
	return e.key
}

// Payload returns the decoded record carried by a data event.
func (e *Event) Payload() any { return e.payload }

// Err returns the error payload of a data event produced from a failure.
func (e *Event) Err() error { return e.err }

// URI returns the backup artifact URI of a BackupCompletion notification.
func (e *Event) URI() string { return e.uri }

// Outcome returns the result of a ConsistencyCheck notification.
func (e *Event) Outcome() CheckOutcome { return e.outcome }

// WithPayload returns a new data event with the same identity fields and a
// replaced payload. Filters use it to transform events without mutating them.
func (e *Event) WithPayload(payload any) *Event {
	c := *e
	c.payload = payload
	return &c
}

// String reports the concrete kind rather than the envelope type.
func (e *Event) String() string {
	switch e.kind {
	case KindData:
		if e.err != nil {
			return fmt.Sprintf("Data{source=%s, seqno=%d, err=%v}", e.source, e.seqno, e.err)
		}
		return fmt.Sprintf("Data{source=%s, seqno=%d, key=%s}", e.source, e.seqno, e.Key())
	case KindBackupCompletion:
		return fmt.Sprintf("BackupCompletion{uri=%s}", e.uri)
	case KindConsistencyCheck:
		if e.outcome.failed {
			return fmt.Sprintf("ConsistencyCheck{failed: %s}", e.outcome.detail)
		}
		return "ConsistencyCheck{ok}"
	default:
		return e.kind.String()
	}
}
