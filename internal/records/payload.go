package records

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/servicetracker/internal/common"
)

// PayloadType is the template a payload was built from.
type PayloadType string

const (
	PayloadService  PayloadType = "service"
	PayloadGoal     PayloadType = "goal"
	PayloadBehavior PayloadType = "behavior"
)

// Fields is the structured projection of a scanned payload. Only these
// fields ever reach the record store.
type Fields struct {
	Version  int
	Type     PayloadType
	Student  string
	Service  string
	Duration *float64
	Event    string
	Score    *float64
	GoalID   string
	DeviceID string
	Created  string
}

// Record stamps the fields with a capture time and a device id.
func (f Fields) Record(timestamp, deviceID string) Record {
	if f.DeviceID != "" {
		deviceID = f.DeviceID
	}
	return Record{
		Timestamp:     timestamp,
		Student:       f.Student,
		Service:       f.Service,
		Duration:      f.Duration,
		Event:         f.Event,
		Score:         f.Score,
		GoalID:        f.GoalID,
		DeviceID:      deviceID,
		SchemaVersion: SchemaVersion,
	}
}

// Payload is either a StructuredPayload or a FreeformPayload.
type Payload interface {
	Structured() Fields
	isPayload()
}

// StructuredPayload is a payload whose keys are all known.
type StructuredPayload struct {
	Fields Fields
}

func (p StructuredPayload) Structured() Fields { return p.Fields }
func (StructuredPayload) isPayload()           {}

// FreeformPayload is an arbitrary JSON object, e.g. hand-written custom JSON
// with extra keys. Unknown keys are kept for display but never persisted.
type FreeformPayload struct {
	Values map[string]any
}

func (p FreeformPayload) Structured() Fields { return project(p.Values) }
func (FreeformPayload) isPayload()           {}

// Extra lists the keys that have no structured counterpart.
func (p FreeformPayload) Extra() []string {
	var out []string
	for k := range p.Values {
		if _, ok := knownKeys[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

var knownKeys = map[string]struct{}{
	"v": {}, "type": {}, "student": {}, "service": {}, "default_duration": {},
	"duration": {}, "event": {}, "score": {}, "Score": {}, "goal_id": {},
	"device_id": {}, "created": {},
}

// ParsePayload parses one scanned string. A leading '{' selects strict JSON,
// anything else is a comma-delimited student,service,duration,event,score
// [,goal_id,device_id] row parsed permissively.
func ParsePayload(s string) (Payload, []Warning, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") {
		return parseJSONPayload(s)
	}
	return parseDelimitedPayload(s)
}

func parseJSONPayload(s string) (Payload, []Warning, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", common.ErrMalformedPayload, err)
	}
	if dec.More() {
		return nil, nil, fmt.Errorf("%w: trailing data after object", common.ErrMalformedPayload)
	}
	if m == nil {
		return nil, nil, fmt.Errorf("%w: not an object", common.ErrMalformedPayload)
	}

	var warnings []Warning
	if v, ok := versionOf(m["v"]); !ok || v != SchemaVersion {
		warnings = append(warnings, Warning{Kind: WarnSchemaVersion, Field: "v", Value: displayValue(m["v"])})
	}

	for k := range m {
		if _, ok := knownKeys[k]; !ok {
			return FreeformPayload{Values: m}, warnings, nil
		}
	}
	return StructuredPayload{Fields: project(m)}, warnings, nil
}

func parseDelimitedPayload(s string) (Payload, []Warning, error) {
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	at := func(i int) string {
		if i < len(parts) {
			return parts[i]
		}
		return ""
	}
	f := Fields{
		Version:  SchemaVersion,
		Student:  at(0),
		Service:  at(1),
		Duration: ParseNumber(at(2)),
		Event:    at(3),
		Score:    ParseNumber(at(4)),
		GoalID:   at(5),
		DeviceID: at(6),
	}
	return StructuredPayload{Fields: f}, nil, nil
}

// project maps known keys onto Fields. Duration prefers default_duration and
// falls back to duration when the former is empty or zero; score likewise
// falls back to "Score".
func project(m map[string]any) Fields {
	v, _ := versionOf(m["v"])
	return Fields{
		Version:  v,
		Type:     PayloadType(stringOf(m["type"])),
		Student:  stringOf(m["student"]),
		Service:  stringOf(m["service"]),
		Duration: ParseNumber(stringOf(firstTruthy(m["default_duration"], m["duration"]))),
		Event:    stringOf(m["event"]),
		Score:    ParseNumber(stringOf(firstTruthy(m["score"], m["Score"]))),
		GoalID:   stringOf(m["goal_id"]),
		DeviceID: stringOf(m["device_id"]),
		Created:  stringOf(m["created"]),
	}
}

func versionOf(v any) (int, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	i, err := n.Int64()
	if err != nil {
		return 0, false
	}
	return int(i), true
}

func stringOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func displayValue(v any) string {
	if v == nil {
		return "none"
	}
	return stringOf(v)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case bool:
		return t
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	default:
		return true
	}
}

func firstTruthy(vs ...any) any {
	for _, v := range vs {
		if truthy(v) {
			return v
		}
	}
	return nil
}

// PayloadSpec describes a payload to be printed as a scannable code.
type PayloadSpec struct {
	Type            PayloadType
	Student         string
	Service         string
	DefaultDuration int
	Event           string
	GoalID          string
	Created         time.Time
}

type payloadV1 struct {
	V               int         `json:"v"`
	Type            PayloadType `json:"type"`
	Student         string      `json:"student"`
	Service         string      `json:"service"`
	DefaultDuration int         `json:"default_duration"`
	Event           string      `json:"event,omitempty"`
	Created         string      `json:"created"`
	GoalID          string      `json:"goal_id,omitempty"`
}

// BuildPayload renders spec as compact v1 JSON. Student is required; type
// defaults to service and duration to 30 minutes.
func BuildPayload(spec PayloadSpec) (string, error) {
	student := strings.TrimSpace(spec.Student)
	if student == "" {
		return "", fmt.Errorf("%w: student is required", common.ErrMalformedPayload)
	}
	if spec.Type == "" {
		spec.Type = PayloadService
	}
	if spec.DefaultDuration == 0 {
		spec.DefaultDuration = 30
	}
	if spec.Created.IsZero() {
		spec.Created = time.Now()
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(payloadV1{
		V:               SchemaVersion,
		Type:            spec.Type,
		Student:         student,
		Service:         strings.TrimSpace(spec.Service),
		DefaultDuration: spec.DefaultDuration,
		Event:           strings.TrimSpace(spec.Event),
		Created:         spec.Created.Format("2006-01-02T15:04:05"),
		GoalID:          strings.TrimSpace(spec.GoalID),
	})
	if err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
