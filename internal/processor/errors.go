package processor

import "fmt"

// FileMissingError is returned when the base configuration file does not
// exist on disk and no embedded fallback is registered for its path.
type FileMissingError struct {
	Path string
}

func (e *FileMissingError) Error() string {
	return fmt.Sprintf("configuration file %s doesn't exist and there is no embedded config", e.Path)
}
