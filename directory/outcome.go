package directory

import (
	"fmt"
)

// Method names how an identifier was (or was not) resolved
type Method string

const (
	MethodPrimary        Method = "primary"
	MethodBackup         Method = "backup"
	MethodDisplayName    Method = "displayname"
	MethodNameComponents Method = "name_components"
	MethodEmail          Method = "email"
	MethodFailed         Method = "failed"
	MethodError          Method = "error"
	MethodSkipped        Method = "skipped"
)

// AllMethods lists every method in reporting order
var AllMethods = []Method{
	MethodPrimary, MethodBackup, MethodDisplayName, MethodNameComponents,
	MethodEmail, MethodFailed, MethodError, MethodSkipped,
}

// Outcome is the result of resolving one identifier.
// It is one of Found, NotFound, Errored, or Skipped.
type Outcome interface {
	isOutcome()
}

// Found carries the resolved entry and the step that produced it
type Found struct {
	Entry Entry
	Via   Method
}

// NotFound means every step ran and none matched
type NotFound struct {
	Tried int
}

// Errored means the last attempted step failed with an error and nothing matched
type Errored struct {
	Err error
}

// Skipped means no lookup was attempted
type Skipped struct {
	Reason string
}

func (Found) isOutcome()    {}
func (NotFound) isOutcome() {}
func (Errored) isOutcome()  {}
func (Skipped) isOutcome()  {}

// MethodOf maps an outcome to its reporting method
func MethodOf(o Outcome) Method {
	switch v := o.(type) {
	case Found:
		return v.Via
	case NotFound:
		return MethodFailed
	case Errored:
		return MethodError
	case Skipped:
		return MethodSkipped
	default:
		panic(fmt.Sprintf("directory: unknown outcome %T", o))
	}
}

// EntryOf returns the entry of a Found outcome
func EntryOf(o Outcome) (Entry, bool) {
	if f, ok := o.(Found); ok {
		return f.Entry, true
	}
	return Entry{}, false
}
