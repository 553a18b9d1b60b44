// Package audit renders immutable transition records for flag assignment
// writes. The acting principal and clock are passed explicitly by callers
// rather than captured from ambient state, so batch pipelines, the HTTP
// surface and tests each stamp entries with their own identity and time.
package audit

import (
	"fmt"
	"time"
)

// Operations recorded against a flag assignment.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Context carries the acting principal and clock for one mutating call.
type Context struct {
	Actor string
	Now   func() time.Time
}

// System is the default context for pipeline-originated writes.
func System() Context {
	return Context{Actor: "pipeline"}
}

// Timestamp returns the context's current time in UTC. A nil clock falls
// back to the wall clock.
func (c Context) Timestamp() time.Time {
	if c.Now == nil {
		return time.Now().UTC()
	}
	return c.Now().UTC()
}

// RenderTransition builds the change description stored in one audit entry.
// old is nil for creates; updates always render the before/after pair, even
// when the value did not change, so the log reads as a full record of
// evaluations applied.
func RenderTransition(op string, old *bool, value bool, evidence, source string) string {
	switch op {
	case OpCreate:
		return fmt.Sprintf("create: value=%t; evidence=%s; source=%s", value, evidence, source)
	case OpUpdate:
		from := "?"
		if old != nil {
			from = fmt.Sprintf("%t", *old)
		}
		return fmt.Sprintf("update: value=%s -> %t; evidence=%s; source=%s", from, value, evidence, source)
	case OpDelete:
		return fmt.Sprintf("delete: value=%t; source=%s", value, source)
	default:
		return fmt.Sprintf("%s: value=%t; evidence=%s; source=%s", op, value, evidence, source)
	}
}
