package molsearch

import (
	"bytes"
	"encoding/json"
)

// jobHandleKeys are the object keys known to carry the job identifier, in priority order.
var jobHandleKeys = []string{"job_name", "job_id", "id", "job", "result"}

// ParseJobHandle extracts the job identifier from a submission response.
//
// The response is not schema-stable. Accepted, in order:
//   - a bare JSON string, or a non-JSON text body;
//   - an object carrying a non-empty string under one of the known keys;
//   - otherwise the first non-empty string value of the object, in document order.
//
// Anything else is a *ShapeError carrying the raw body.
func ParseJobHandle(raw []byte) (JobHandle, error) {
	v, err := decodeJSON(raw)
	if err != nil {
		if text := bytes.TrimSpace(raw); len(text) > 0 {
			return JobHandle(text), nil
		}
		return "", &ShapeError{Op: "submit", Raw: raw}
	}

	switch t := v.(type) {
	case string:
		if t != "" {
			return JobHandle(t), nil
		}
	case map[string]any:
		for _, k := range jobHandleKeys {
			if s, ok := t[k].(string); ok && s != "" {
				return JobHandle(s), nil
			}
		}
		if s := firstStringInOrder(raw); s != "" {
			return JobHandle(s), nil
		}
	}
	return "", &ShapeError{Op: "submit", Raw: raw}
}

// firstStringInOrder walks the top-level object in document order, which a decoded map loses.
func firstStringInOrder(raw []byte) string {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return ""
	}
	for dec.More() {
		if _, err := dec.Token(); err != nil {
			return ""
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return ""
		}
		var s string
		if json.Unmarshal(value, &s) == nil && s != "" {
			return s
		}
	}
	return ""
}
