package checkout

import "fmt"

// State tracks the progress of one finalization attempt.
type State string

const (
	StateDraft             State = "draft"
	StatePriced            State = "priced"
	StatePaymentAuthorized State = "payment_authorized"
	StateFulfilling        State = "fulfilling"
	StateCompleted         State = "completed"
	StateFailed            State = "failed"
)

var transitions = map[State][]State{
	StateDraft:             {StatePriced, StateFailed},
	StatePriced:            {StatePaymentAuthorized, StateFailed},
	StatePaymentAuthorized: {StateFulfilling, StateFailed},
	StateFulfilling:        {StateCompleted, StateFailed},
}

// CanAdvance reports whether to is a legal next state.
func (s State) CanAdvance(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type progress struct {
	state State
}

func newProgress() *progress {
	return &progress{state: StateDraft}
}

func (p *progress) advance(to State) error {
	if !p.state.CanAdvance(to) {
		return fmt.Errorf("checkout: illegal transition %s -> %s", p.state, to)
	}
	p.state = to
	return nil
}
