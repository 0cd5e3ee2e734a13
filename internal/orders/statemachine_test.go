package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medmarkethq/medmarket-backend/pkg/enums"
	pkgerrors "github.com/medmarkethq/medmarket-backend/pkg/errors"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from    enums.OrderStatus
		to      enums.OrderStatus
		allowed bool
	}{
		{enums.OrderStatusPending, enums.OrderStatusConfirmed, true},
		{enums.OrderStatusPending, enums.OrderStatusCancelled, true},
		{enums.OrderStatusPending, enums.OrderStatusReadyForPickup, false},
		{enums.OrderStatusPending, enums.OrderStatusCompleted, false},
		{enums.OrderStatusConfirmed, enums.OrderStatusProcessing, true},
		{enums.OrderStatusConfirmed, enums.OrderStatusDelivered, false},
		{enums.OrderStatusProcessing, enums.OrderStatusReadyForPickup, true},
		{enums.OrderStatusProcessing, enums.OrderStatusOutForDelivery, true},
		{enums.OrderStatusProcessing, enums.OrderStatusPending, false},
		{enums.OrderStatusReadyForPickup, enums.OrderStatusCompleted, true},
		{enums.OrderStatusOutForDelivery, enums.OrderStatusDelivered, true},
		{enums.OrderStatusOutForDelivery, enums.OrderStatusCompleted, false},
		{enums.OrderStatusDelivered, enums.OrderStatusCompleted, true},
		{enums.OrderStatusDelivered, enums.OrderStatusCancelled, false},
		{enums.OrderStatusCompleted, enums.OrderStatusRefunded, true},
		{enums.OrderStatusCompleted, enums.OrderStatusProcessing, false},
		{enums.OrderStatusCancelled, enums.OrderStatusPending, false},
		{enums.OrderStatusRefunded, enums.OrderStatusCompleted, false},
	}

	for _, tc := range cases {
		assert.Equalf(t, tc.allowed, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestCancellable(t *testing.T) {
	t.Parallel()

	cancellable := []enums.OrderStatus{
		enums.OrderStatusPending,
		enums.OrderStatusConfirmed,
		enums.OrderStatusProcessing,
		enums.OrderStatusReadyForPickup,
		enums.OrderStatusOutForDelivery,
	}
	for _, status := range cancellable {
		assert.Truef(t, Cancellable(status), "%s should be cancellable", status)
	}

	final := []enums.OrderStatus{
		enums.OrderStatusDelivered,
		enums.OrderStatusCompleted,
		enums.OrderStatusCancelled,
		enums.OrderStatusRefunded,
	}
	for _, status := range final {
		assert.Falsef(t, Cancellable(status), "%s should not be cancellable", status)
	}
}

func TestGuardTransition(t *testing.T) {
	t.Parallel()

	require.NoError(t, guardTransition(enums.OrderStatusPending, enums.OrderStatusConfirmed))

	err := guardTransition(enums.OrderStatusCompleted, enums.OrderStatusProcessing)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	err = guardTransition(enums.OrderStatusPending, enums.OrderStatus("bogus"))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
