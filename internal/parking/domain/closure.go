package parking

// ClosedThreshold is the occupancy ratio at or above which a lot reports closed.
// The same ratio is used for entering and leaving the closed state.
const ClosedThreshold = 0.80

// ClosureState is the Open/Closed state of a lot or district.
type ClosureState int

const (
	StateOpen ClosureState = iota
	StateClosed
)

// String returns the state name.
func (s ClosureState) String() string {
	if s == StateClosed {
		return "closed"
	}
	return "open"
}

// Transition reports the closure edge crossed by a mutating call.
type Transition int

const (
	TransitionNone Transition = iota
	TransitionClosed
	TransitionReopened
)

// String returns the transition name.
func (t Transition) String() string {
	switch t {
	case TransitionClosed:
		return "closed"
	case TransitionReopened:
		return "reopened"
	default:
		return "none"
	}
}

// closureClock accrues closed minutes at every accepted event instead of sampling.
// accrue must run before the occupancy change and settle after it.
type closureClock struct {
	state  ClosureState
	since  int
	closed int
}

func (c *closureClock) accrue(minute int) {
	if c.state != StateClosed {
		return
	}
	c.closed += minute - c.since
	c.since = minute
}

func (c *closureClock) settle(closedNow bool, minute int) Transition {
	switch {
	case closedNow && c.state == StateOpen:
		c.state = StateClosed
		c.since = minute
		return TransitionClosed
	case !closedNow && c.state == StateClosed:
		c.state = StateOpen
		return TransitionReopened
	default:
		return TransitionNone
	}
}

// totalAt includes the ongoing closed interval up to minute.
func (c closureClock) totalAt(minute int) int {
	if c.state != StateClosed || minute < c.since {
		return c.closed
	}
	return c.closed + minute - c.since
}
