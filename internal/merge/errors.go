package merge

import (
	"errors"
	"fmt"
)

// ErrMergeConflict is returned when an overlay element carries both the
// `remove` and `replace` control attributes.
var ErrMergeConflict = errors.New("both remove and replace attributes set")

// RootMismatchError is returned when an overlay's root element does not
// correspond to the base document's root (the legacy/current synonym pair
// excepted).
type RootMismatchError struct {
	BaseTag    string
	OverlayTag string
}

func (e *RootMismatchError) Error() string {
	return fmt.Sprintf("root element <%s> doesn't correspond to the config file root; it must be <%s>",
		e.OverlayTag, e.BaseTag)
}
