package orders

import "fmt"

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

type PaymentMethod string

const (
	MethodCard      PaymentMethod = "card"
	MethodPromptPay PaymentMethod = "promptpay"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:    {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed:  {StatusProcessing: true, StatusCompleted: true, StatusCancelled: true},
	StatusProcessing: {StatusCompleted: true, StatusCancelled: true},
	StatusCompleted:  {},
	StatusCancelled:  {},
}

var validPaymentNext = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentPending:  {PaymentPaid: true, PaymentFailed: true},
	PaymentPaid:     {PaymentRefunded: true},
	PaymentFailed:   {},
	PaymentRefunded: {},
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func (s Status) Terminal() bool { return s.Valid() && len(validNext[s]) == 0 }

func (p PaymentStatus) Valid() bool {
	_, ok := validPaymentNext[p]
	return ok
}

func (m PaymentMethod) Valid() bool { return m == MethodCard || m == MethodPromptPay }

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	return validPaymentNext[from][to]
}

// State pairs the fulfillment and payment lifecycles of one order.
type State struct {
	Status        Status        `json:"status"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
}

func (s State) String() string { return fmt.Sprintf("(%s,%s)", s.Status, s.PaymentStatus) }

var (
	StateNew       = State{StatusPending, PaymentPending}
	StatePaid      = State{StatusConfirmed, PaymentPaid}
	StateAbandoned = State{StatusCancelled, PaymentFailed}
)

// Event is an automated lifecycle trigger. Administrative overrides are not
// events; they go through Service.Override and bypass this table.
type Event string

const (
	EventPaymentSucceeded Event = "payment_succeeded"
	EventPaymentFailed    Event = "payment_failed"
	EventExpired          Event = "expired"
)

var automated = map[Event]struct{ from, to State }{
	EventPaymentSucceeded: {StateNew, StatePaid},
	EventPaymentFailed:    {StateNew, StateAbandoned},
	EventExpired:          {StateNew, StateAbandoned},
}

// Next returns the state reached from cur when ev fires. Both fields must
// move along their adjacency tables.
func Next(cur State, ev Event) (State, error) {
	t, ok := automated[ev]
	if !ok || cur != t.from {
		return cur, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, cur)
	}
	if t.to.Status != cur.Status && !CanTransition(cur.Status, t.to.Status) {
		return cur, fmt.Errorf("%w: status %s -> %s", ErrInvalidTransition, cur.Status, t.to.Status)
	}
	if t.to.PaymentStatus != cur.PaymentStatus && !CanTransitionPayment(cur.PaymentStatus, t.to.PaymentStatus) {
		return cur, fmt.Errorf("%w: payment %s -> %s", ErrInvalidTransition, cur.PaymentStatus, t.to.PaymentStatus)
	}
	return t.to, nil
}
