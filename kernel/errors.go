package kernel

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig marks invalid configuration values and invalid model wiring.
	ErrConfig = errors.New("configuration error")

	// ErrPhase is returned when a kernel entry point is called in the wrong
	// simulation phase.
	ErrPhase = errors.New("wrong simulation phase")

	// ErrUnmappedChannel is returned when a mapping names an inchannel that
	// was never registered.
	ErrUnmappedChannel = errors.New("unmapped channel")

	// ErrAborted is returned by Start when another participant aborted the run.
	ErrAborted = errors.New("simulation aborted")
)

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

func phaseErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPhase, fmt.Sprintf(format, args...))
}

// CausalityError reports a straggler: an event addressed to a point in
// virtual time that the receiver may already have passed. It is raised as a
// panic inside the scheduler and surfaces from Start as an error.
type CausalityError struct {
	Timeline uint32      // receiving timeline serial
	Gate     string      // stargate the event travelled on, if any
	Time     VirtualTime // event time
	Bound    VirtualTime // bound that was violated
}

func (e *CausalityError) Error() string {
	if e.Gate != "" {
		return fmt.Sprintf("straggler on %s: event at %s is behind bound %s", e.Gate, e.Time, e.Bound)
	}
	return fmt.Sprintf("straggler on timeline %d: event at %s is behind clock %s", e.Timeline, e.Time, e.Bound)
}

// InvariantError wraps a recovered internal panic that is not a
// CausalityError.
type InvariantError struct {
	Universe int
	Value    any
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("universe %d: internal invariant violated: %v", e.Universe, e.Value)
}

// recoveredError converts a recovered panic value into an error.
func recoveredError(universe int, r any) error {
	switch v := r.(type) {
	case *CausalityError:
		return v
	case error:
		var ce *CausalityError
		if errors.As(v, &ce) || errors.Is(v, ErrConfig) {
			return v
		}
		return &InvariantError{Universe: universe, Value: v}
	default:
		return &InvariantError{Universe: universe, Value: v}
	}
}
