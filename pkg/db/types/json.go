package dbtypes

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSON stores raw JSON in a jsonb column. It binds as text so it survives the
// simple query protocol, which would otherwise send []byte as bytea.
type JSON json.RawMessage

func (j *JSON) Scan(src any) error {
	if src == nil {
		*j = nil
		return nil
	}

	switch v := src.(type) {
	case string:
		*j = append((*j)[:0], v...)
	case []byte:
		*j = append((*j)[:0], v...)
	default:
		return fmt.Errorf("JSON: unsupported Scan type %T", src)
	}
	return nil
}

func (j JSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	if !json.Valid(j) {
		return nil, fmt.Errorf("JSON: invalid document")
	}
	return string(j), nil
}

func (j JSON) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

func (j *JSON) UnmarshalJSON(data []byte) error {
	if j == nil {
		return fmt.Errorf("JSON: UnmarshalJSON on nil pointer")
	}
	*j = append((*j)[:0], data...)
	return nil
}

// Raw returns the document as json.RawMessage.
func (j JSON) Raw() json.RawMessage {
	return json.RawMessage(j)
}

// Equal reports whether both documents hold the same bytes after compaction.
func (j JSON) Equal(other JSON) bool {
	var a, b bytes.Buffer
	if err := json.Compact(&a, j); err != nil {
		return false
	}
	if err := json.Compact(&b, other); err != nil {
		return false
	}
	return bytes.Equal(a.Bytes(), b.Bytes())
}

// MustMarshal encodes v or returns an empty object when encoding fails.
func MustMarshal(v any) JSON {
	data, err := json.Marshal(v)
	if err != nil {
		return JSON("{}")
	}
	return JSON(data)
}
