package coordination

import "fmt"

// Value is the result of a coordination-service key lookup. A key that does
// not exist is reported with Exists=false rather than an error, so callers
// can distinguish "absent" from "service unreachable".
type Value struct {
	Exists bool
	Data   string
}

// Cache supplies values for from_zk include directives. Get fetches the value
// stored under key. If watch is non-nil the implementation arranges for a
// (non-blocking) signal on it when the key later changes; the caller owns the
// channel and the reload loop built on top of it.
//
// Implementations are expected to serve repeated Gets for the same key from a
// local cache between change notifications.
type Cache interface {
	Get(key string, watch chan<- struct{}) (Value, error)
}

// Error wraps a failure of the coordination service itself. It is the one
// error kind the processor treats as recoverable: a pipeline run that fails
// because of an *Error may fall back to the last preprocessed snapshot.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("coordination %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("coordination %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// MapCache is a static in-memory Cache. It never signals watches and never
// fails; it exists for tests and for embedding applications that already hold
// the values in memory.
type MapCache struct {
	Values map[string]string
}

func (c *MapCache) Get(key string, watch chan<- struct{}) (Value, error) {
	data, ok := c.Values[key]
	return Value{Exists: ok, Data: data}, nil
}
