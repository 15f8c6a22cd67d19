package include

import "fmt"

// AmbiguousDirectiveError is returned when an element carries more than one
// of the incl/from_zk/from_env directive attributes.
type AmbiguousDirectiveError struct {
	Tag string
}

func (e *AmbiguousDirectiveError) Error() string {
	return fmt.Sprintf("more than one directive attribute is set for element <%s>", e.Tag)
}

// MalformedIncludeError is returned for an <include> element that has
// children or lacks a directive attribute.
type MalformedIncludeError struct {
	Reason string
}

func (e *MalformedIncludeError) Error() string {
	return fmt.Sprintf("<include> %s", e.Reason)
}

// UnresolvedReferenceError reports a directive whose target could not be
// found. It is returned in strict mode; in lenient mode the same text is
// logged as a diagnostic instead.
type UnresolvedReferenceError struct {
	Directive string
	Target    string
}

func (e *UnresolvedReferenceError) Error() string {
	switch e.Directive {
	case "incl":
		return "include not found: " + e.Target
	case "from_zk":
		return "could not get coordination node: " + e.Target
	case "from_env":
		return "env variable is not set: " + e.Target
	default:
		return fmt.Sprintf("unresolved %s reference: %s", e.Directive, e.Target)
	}
}
