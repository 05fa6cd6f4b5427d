package order

import (
	"strings"

	"github.com/go-faster/errors"
)

var (
	// ErrOrderNotFound is returned for an unknown or deleted order.
	ErrOrderNotFound = errors.New("order not found")
	// ErrNotEligible is returned when an operation is not allowed in the
	// order's current state.
	ErrNotEligible = errors.New("operation not allowed for order")
	// ErrInvalidTransition is returned for a status change the transition
	// table forbids.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrCartEmpty is returned when placing an order from an empty cart.
	ErrCartEmpty = errors.New("cart is empty")
)

// Errors is an ordered list of human-readable failures. It is returned by
// operator operations as a single error.
type Errors []string

func (e Errors) Error() string {
	return strings.Join(e, "; ")
}

// Err returns e as an error, or nil when empty.
func (e Errors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// Add appends messages.
func (e *Errors) Add(msg ...string) {
	*e = append(*e, msg...)
}

// AddErr appends the messages carried by err.
func (e *Errors) AddErr(err error) {
	if err != nil {
		*e = append(*e, Messages(err)...)
	}
}

// Messages flattens err into human-readable strings.
func Messages(err error) []string {
	if err == nil {
		return nil
	}
	var list Errors
	if errors.As(err, &list) {
		return append([]string(nil), list...)
	}
	var v *ValidationError
	if errors.As(err, &v) {
		return append([]string(nil), v.Errors...)
	}
	return []string{err.Error()}
}

// ValidationError lists every reason a request was rejected. Nothing was
// written when it is returned.
type ValidationError struct {
	Errors Errors
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Errors.Error()
}

// Stage tells where a placement failed.
type Stage string

const (
	StageValidation  Stage = "validation"
	StagePayment     Stage = "payment"
	StagePersistence Stage = "persistence"
	StageInternal    Stage = "internal"
)
