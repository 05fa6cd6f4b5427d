// Package payment defines payment status, the gateway contract the order
// engine calls, and a registry of configured gateways.
package payment

// Status is the payment axis of an order.
type Status string

const (
	StatusPending           Status = "pending"
	StatusAuthorized        Status = "authorized"
	StatusPaid              Status = "paid"
	StatusPartiallyRefunded Status = "partially_refunded"
	StatusRefunded          Status = "refunded"
	StatusVoided            Status = "voided"
)

var transitions = map[Status][]Status{
	StatusPending:           {StatusAuthorized, StatusPaid},
	StatusAuthorized:        {StatusPaid, StatusVoided},
	StatusPaid:              {StatusPartiallyRefunded, StatusRefunded},
	StatusPartiallyRefunded: {StatusPartiallyRefunded, StatusRefunded},
}

// CanTransitionTo reports whether s may move to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no capture, refund or void is allowed anymore.
func (s Status) IsTerminal() bool {
	return s == StatusRefunded || s == StatusVoided
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAuthorized, StatusPaid,
		StatusPartiallyRefunded, StatusRefunded, StatusVoided:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }
