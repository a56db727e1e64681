package orders

import (
	"testing"

	"github.com/ariefcatur/go-storefront/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	for _, s := range Statuses {
		got, err := ParseStatus(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseStatus("Cancelled")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestUnorderedPolicyAllowsAnyMove(t *testing.T) {
	for _, from := range Statuses {
		for _, to := range Statuses {
			assert.True(t, PolicyUnordered.CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.False(t, PolicyUnordered.CanTransition(StatusPlaced, "Lost"))
}

func TestMonotonicPolicy(t *testing.T) {
	assert.True(t, PolicyMonotonic.CanTransition(StatusPlaced, StatusShipped))
	assert.True(t, PolicyMonotonic.CanTransition(StatusShipped, StatusShipped))
	assert.False(t, PolicyMonotonic.CanTransition(StatusDelivered, StatusPacking))

	err := PolicyMonotonic.Check(StatusDelivered, StatusPacking)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyUnordered, p)

	p, err = ParsePolicy("Monotonic")
	require.NoError(t, err)
	assert.Equal(t, PolicyMonotonic, p)

	_, err = ParsePolicy("strict")
	assert.Error(t, err)
}
