package orders

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusConfirmed, StatusProcessing, true},
		{StatusConfirmed, StatusCompleted, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusPending, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusPending, false},
		{Status("shipped"), StatusCompleted, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestCanTransitionPayment(t *testing.T) {
	assert.True(t, CanTransitionPayment(PaymentPending, PaymentPaid))
	assert.True(t, CanTransitionPayment(PaymentPending, PaymentFailed))
	assert.True(t, CanTransitionPayment(PaymentPaid, PaymentRefunded))
	assert.False(t, CanTransitionPayment(PaymentPaid, PaymentPending))
	assert.False(t, CanTransitionPayment(PaymentFailed, PaymentPaid))
	assert.False(t, CanTransitionPayment(PaymentRefunded, PaymentPaid))
}

func TestTerminalAndValid(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, Status("bogus").Valid())
	assert.False(t, Status("bogus").Terminal())
	assert.True(t, PaymentRefunded.Valid())
	assert.False(t, PaymentStatus("chargeback").Valid())
	assert.True(t, MethodPromptPay.Valid())
	assert.False(t, PaymentMethod("cash").Valid())
}

func TestNext(t *testing.T) {
	got, err := Next(StateNew, EventPaymentSucceeded)
	require.NoError(t, err)
	assert.Equal(t, StatePaid, got)

	got, err = Next(StateNew, EventPaymentFailed)
	require.NoError(t, err)
	assert.Equal(t, StateAbandoned, got)

	got, err = Next(StateNew, EventExpired)
	require.NoError(t, err)
	assert.Equal(t, StateAbandoned, got)
}

func TestNextRejects(t *testing.T) {
	cases := []struct {
		name string
		cur  State
		ev   Event
	}{
		{"already paid", StatePaid, EventPaymentSucceeded},
		{"cancelled cannot pay", StateAbandoned, EventPaymentSucceeded},
		{"paid cannot expire", StatePaid, EventExpired},
		{"unknown event", StateNew, Event("refund")},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := Next(c.cur, c.ev)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidTransition))
			assert.Equal(t, c.cur, got)
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "(pending,pending)", StateNew.String())
}
