package event

import "github.com/maxpert/burrow/encoding"

// Record is the serialized form of an Event written to sinks.
type Record struct {
	Kind      uint8  `msgpack:"kind"`
	Source    string `msgpack:"src,omitempty"`
	Seqno     uint64 `msgpack:"seq,omitempty"`
	Key       string `msgpack:"key,omitempty"`
	Timestamp int64  `msgpack:"ts"` // unix ms
	Payload   any    `msgpack:"payload,omitempty"`
	Error     string `msgpack:"err,omitempty"`
	URI       string `msgpack:"uri,omitempty"`
	Failed    bool   `msgpack:"failed,omitempty"`
	Detail    string `msgpack:"detail,omitempty"`
}

// ToRecord flattens the event into its wire form.
func (e *Event) ToRecord() Record {
	r := Record{
		Kind:      uint8(e.kind),
		Timestamp: e.timestamp.UnixMilli(),
	}

	switch e.kind {
	case KindData:
		r.Source = e.source
		r.Seqno = e.seqno
		r.Key = e.Key()
		r.Payload = e.payload
		if e.err != nil {
			r.Error = e.err.Error()
		}
	case KindBackupCompletion:
		r.URI = e.uri
	case KindConsistencyCheck:
		r.Failed = e.outcome.failed
		r.Detail = e.outcome.detail
	}

	return r
}

// Marshal encodes the event's record form with msgpack.
func (e *Event) Marshal() ([]byte, error) {
	r := e.ToRecord()
	return encoding.Marshal(&r)
}
