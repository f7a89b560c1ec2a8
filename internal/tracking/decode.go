package tracking

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidPayload = errors.New("payload must be a JSON object")

// Envelope is a decoded ingestion message: either one sample or a batch
// carried under "locations".
type Envelope struct {
	SessionID string
	Samples   []Sample
	Batch     bool
}

// DecodeEnvelope parses an ingestion message. Batch entries are decoded one
// by one; an entry that is not an object becomes an empty Sample, which the
// processor rejects as malformed, so it never takes the rest of the batch
// down with it. A wrongly typed field only loses that field.
func DecodeEnvelope(body []byte) (Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return Envelope{}, ErrInvalidPayload
	}

	var env Envelope
	if raw, ok := fields["session_id"]; ok {
		env.SessionID = decodeSessionID(raw)
	}

	if raw, ok := fields["locations"]; ok {
		var entries []json.RawMessage
		if err := json.Unmarshal(raw, &entries); err != nil {
			return Envelope{}, fmt.Errorf("locations must be an array: %w", ErrInvalidPayload)
		}
		env.Batch = true
		env.Samples = make([]Sample, 0, len(entries))
		for _, entry := range entries {
			env.Samples = append(env.Samples, decodeSample(entry))
		}
		return env, nil
	}

	env.Samples = []Sample{decodeSample(body)}
	return env, nil
}

// decodeSample keeps whatever fields decoded cleanly. A mode that is not a
// string counts as an unrecognized mode rather than a missing one.
func decodeSample(raw json.RawMessage) Sample {
	var s Sample
	err := json.Unmarshal(raw, &s)
	var typeErr *json.UnmarshalTypeError
	switch {
	case err == nil:
		return s
	case errors.As(err, &typeErr):
		if typeErr.Field == "mode" {
			s.Mode = string(ModeOther)
		}
		return s
	default:
		return Sample{}
	}
}

// decodeSessionID accepts the id as a JSON string or number.
func decodeSessionID(raw json.RawMessage) string {
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
