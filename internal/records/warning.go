package records

import "fmt"

// WarningKind classifies a non-fatal validation issue.
type WarningKind int

const (
	// WarnSchemaVersion means the payload declared a version other than
	// SchemaVersion (or none at all).
	WarnSchemaVersion WarningKind = iota + 1
	// WarnNumber means a numeric cell did not parse and was dropped.
	WarnNumber
)

// Warning is a recoverable validation outcome. The value it was produced
// from is still processed with default mapping.
type Warning struct {
	Kind  WarningKind
	Field string
	Value string
}

func (w Warning) String() string {
	switch w.Kind {
	case WarnSchemaVersion:
		return fmt.Sprintf("payload uses schema version %s, some fields may not map correctly", w.Value)
	case WarnNumber:
		return fmt.Sprintf("%s %q is not a number, stored as empty", w.Field, w.Value)
	default:
		return fmt.Sprintf("warning on %s", w.Field)
	}
}
