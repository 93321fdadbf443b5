package deadline

import (
	"fmt"
	"time"
)

// TimeoutError is returned when an operation does not settle within its budget.
type TimeoutError struct {
	Name   string
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %dms", e.Name, e.Budget.Milliseconds())
}

func (e *TimeoutError) Timeout() bool {
	return true
}
