// Package system provides a real clock implementation.
package system

import "time"

// Clock implements harvest.Clock using time.Now.
type Clock struct {
	loc *time.Location
}

// New creates a Clock reporting UTC.
func New() *Clock {
	return &Clock{loc: time.UTC}
}

// NewLocal creates a Clock reporting the process's local zone, which is what
// the audit log and document timestamps are written in.
func NewLocal() *Clock {
	return &Clock{loc: time.Local}
}

// Now returns the current time.
func (c Clock) Now() time.Time {
	if c.loc == nil {
		return time.Now().UTC()
	}
	return time.Now().In(c.loc)
}
