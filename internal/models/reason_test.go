package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReason(t *testing.T) {
	t.Run("accepts every enumerated code", func(t *testing.T) {
		for _, code := range []string{
			ReasonWithdrewConsent, ReasonDeviceLost, ReasonDeviceReplaced,
			ReasonSiteRequest, ReasonStudyExit,
		} {
			reason, err := ParseReason(code, "")
			require.NoError(t, err, code)
			assert.Equal(t, code, reason.Code)
		}
	})

	t.Run("other requires notes", func(t *testing.T) {
		_, err := ParseReason(ReasonOther, "")
		assert.ErrorIs(t, err, ErrBadRequest)

		reason, err := ParseReason(ReasonOther, "subject relocated mid-study")
		require.NoError(t, err)
		assert.Equal(t, "subject relocated mid-study", reason.Notes)
	})

	t.Run("rejects empty and unknown codes", func(t *testing.T) {
		_, err := ParseReason("", "")
		assert.ErrorIs(t, err, ErrBadRequest)

		_, err = ParseReason("device_broken", "")
		assert.ErrorIs(t, err, ErrBadRequest)
	})

	t.Run("trims surrounding whitespace", func(t *testing.T) {
		reason, err := ParseReason("  device_lost ", "  left on a train  ")
		require.NoError(t, err)
		assert.Equal(t, ReasonDeviceLost, reason.Code)
		assert.Equal(t, "left on a train", reason.Notes)
	})

	t.Run("renders justification text", func(t *testing.T) {
		reason, err := ParseReason(ReasonOther, "subject relocated")
		require.NoError(t, err)
		assert.Equal(t, "other: subject relocated", reason.String())

		reason, err = ParseReason(ReasonDeviceLost, "")
		require.NoError(t, err)
		assert.Equal(t, "device_lost", reason.String())
	})
}
