package stock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labreserve/service-booking/pkg/domain"
)

func TestApply_NeverNegative(t *testing.T) {
	qty := 3
	for _, delta := range []int{-1, -1, -2, -1, +1, -1, -5} {
		next, err := Apply("r1", qty, delta, nil)
		if qty+delta < 0 {
			require.Error(t, err)
			assert.True(t, domain.HasCode(err, domain.CodeInsufficientStock))
			assert.Equal(t, qty, next, "rejected adjustment leaves quantity unchanged")
			continue
		}
		require.NoError(t, err)
		qty = next
		assert.GreaterOrEqual(t, qty, 0)
	}
	assert.Equal(t, 0, qty)
}

func TestApply_RespectsTotal(t *testing.T) {
	total := 5
	_, err := Apply("r1", 4, 2, &total)
	assert.True(t, domain.HasCode(err, domain.CodeValidation))

	next, err := Apply("r1", 4, 1, &total)
	require.NoError(t, err)
	assert.Equal(t, 5, next)
}

func TestReason_IsValid(t *testing.T) {
	assert.True(t, ReasonPickUp.IsValid())
	assert.False(t, Reason("gift").IsValid())
}
