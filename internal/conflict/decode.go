package conflict

import (
	"encoding/json"

	"github.com/fieldops/worksync/internal/models"
)

// StatusValue is the typed shape of a state-transition value.
type StatusValue struct {
	Status       models.Status `json:"status"`
	LastModified int64         `json:"last_modified"` // unix millis
}

// ProgressValue is the typed shape of a completion-percentage value.
type ProgressValue struct {
	Percentage float64 `json:"percentage"`
	Timestamp  int64   `json:"timestamp"` // unix millis
}

// decodeStatus extracts a StatusValue from the wire-level forms a value can
// arrive in. Missing or malformed fields yield ok=false rather than an
// error: detection treats that as insufficient information.
func decodeStatus(v interface{}) (StatusValue, bool) {
	switch t := v.(type) {
	case StatusValue:
		return t, t.Status != ""
	case *StatusValue:
		if t == nil {
			return StatusValue{}, false
		}
		return *t, t.Status != ""
	case json.RawMessage:
		return decodeStatusJSON(t)
	case []byte:
		return decodeStatusJSON(t)
	case map[string]interface{}:
		status, ok := t["status"].(string)
		if !ok || status == "" {
			return StatusValue{}, false
		}
		lastModified, ok := asInt64(mapField(t, "last_modified", "lastModified"))
		if !ok {
			return StatusValue{}, false
		}
		return StatusValue{Status: models.Status(status), LastModified: lastModified}, true
	default:
		return StatusValue{}, false
	}
}

func decodeStatusJSON(raw []byte) (StatusValue, bool) {
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return StatusValue{}, false
	}
	return decodeStatus(m)
}

// decodeProgress extracts a ProgressValue; same leniency as decodeStatus.
func decodeProgress(v interface{}) (ProgressValue, bool) {
	switch t := v.(type) {
	case ProgressValue:
		return t, true
	case *ProgressValue:
		if t == nil {
			return ProgressValue{}, false
		}
		return *t, true
	case json.RawMessage:
		return decodeProgressJSON(t)
	case []byte:
		return decodeProgressJSON(t)
	case map[string]interface{}:
		pct, ok := asFloat64(t["percentage"])
		if !ok {
			return ProgressValue{}, false
		}
		ts, ok := asInt64(t["timestamp"])
		if !ok {
			return ProgressValue{}, false
		}
		return ProgressValue{Percentage: pct, Timestamp: ts}, true
	default:
		return ProgressValue{}, false
	}
}

func decodeProgressJSON(raw []byte) (ProgressValue, bool) {
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return ProgressValue{}, false
	}
	return decodeProgress(m)
}

func mapField(m map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

func asFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
