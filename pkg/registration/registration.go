// Package registration turns an external "register" command plus the next
// unmatched face into a freshly enrolled identity.
package registration

import (
	"sync/atomic"

	"github.com/xanthein/cvservice/pkg/recognition"
)

// Trigger is the arm signal shared between the message bus callback and the
// processing loop.
type Trigger struct {
	armed atomic.Bool
}

// Arm requests one enrollment. Safe to call from any goroutine; arming an
// already armed trigger is a no-op.
func (t *Trigger) Arm() {
	t.armed.Store(true)
}

// Armed reports whether an enrollment is pending.
func (t *Trigger) Armed() bool {
	return t.armed.Load()
}

// Consume disarms the trigger and reports whether it was armed. Exactly one
// Consume succeeds per Arm.
func (t *Trigger) Consume() bool {
	return t.armed.CompareAndSwap(true, false)
}

// State is the controller state for the current frame.
type State int

const (
	StateIdle State = iota
	StateArmed
)

func (s State) String() string {
	if s == StateArmed {
		return "armed"
	}
	return "idle"
}

// Decision is what to do with one detected face.
type Decision int

const (
	// DecisionPresent reports a known identity.
	DecisionPresent Decision = iota
	// DecisionUnknown reports an unmatched face without enrolling it.
	DecisionUnknown
	// DecisionEnroll enrolls the face as a new identity.
	DecisionEnroll
)

func (d Decision) String() string {
	switch d {
	case DecisionPresent:
		return "present"
	case DecisionUnknown:
		return "unknown"
	case DecisionEnroll:
		return "enroll"
	}
	return "invalid"
}

// Controller decides, face by face in detection order, whether an unmatched
// face is enrolled.
type Controller struct {
	trigger *Trigger
	state   State
}

// NewController creates a controller driven by trigger.
func NewController(trigger *Trigger) *Controller {
	return &Controller{trigger: trigger}
}

// BeginFrame samples the trigger. Arms arriving later apply to the next frame.
func (c *Controller) BeginFrame() {
	if c.trigger.Armed() {
		c.state = StateArmed
	} else {
		c.state = StateIdle
	}
}

// State returns the state for the current frame.
func (c *Controller) State() State {
	return c.state
}

// Decide classifies one face. The first unknown face of an armed frame
// consumes the trigger and is enrolled; every later unknown face is reported.
func (c *Controller) Decide(match recognition.Result) Decision {
	if match.Known {
		return DecisionPresent
	}
	if c.state == StateArmed {
		c.state = StateIdle
		if c.trigger.Consume() {
			return DecisionEnroll
		}
	}
	return DecisionUnknown
}
