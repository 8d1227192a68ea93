package request

import (
	"fmt"

	"github.com/xraph/bridge"
)

var transitions = map[Status][]Status{
	StatusPending:     {StatusDispatching, StatusFailed},
	StatusDispatching: {StatusPending, StatusProcessing, StatusFailed},
	StatusProcessing:  {StatusCompleted, StatusFailed},
}

// CanTransition reports whether a record may move from one status to
// another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", bridge.ErrInvalidTransition, from, to)
	}
	return nil
}
