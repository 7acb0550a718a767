package batch

import "fmt"

// PanicError wraps a panic raised while processing one record.
type PanicError struct {
	ID    int64
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("batch: record %d panicked: %v", e.ID, e.Value)
}
