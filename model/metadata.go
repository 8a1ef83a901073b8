package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strconv"

	"github.com/rifatrzn/tax-assistant/helper"
)

// Metadata is a free-form attribute bag stored as JSONB.
type Metadata map[string]interface{}

// Value implements the driver.Valuer interface for database storage
func (m Metadata) Value() (driver.Value, error) {
	return m.Marshal()
}

// Scan implements the sql.Scanner interface for database retrieval
func (m *Metadata) Scan(value interface{}) error {
	return m.Unmarshal(value)
}

// Marshal converts Metadata to JSON bytes
func (m Metadata) Marshal() ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Unmarshal accepts JSON bytes, a JSON string or Metadata.
func (m *Metadata) Unmarshal(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case Metadata:
		*m = v
		return nil
	case map[string]interface{}:
		*m = Metadata(v)
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return helper.NewError("metadata unmarshal", errors.New("type assertion to []byte failed"))
	}
}

// String returns the value under key formatted as a string, or "" when absent.
func (m Metadata) String(key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Int returns the integer under key. JSON numbers decode as float64 and
// numeric strings are parsed.
func (m Metadata) Int(key string) (int, bool) {
	switch v := m[key].(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case float32:
		return int(v), true
	case json.Number:
		i, err := v.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(v)
		return i, err == nil
	default:
		return 0, false
	}
}

// Clone returns a shallow copy.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	maps.Copy(out, m)
	return out
}

// Merge returns a copy of m overlaid with other.
func (m Metadata) Merge(other Metadata) Metadata {
	out := m.Clone()
	maps.Copy(out, other)
	return out
}
