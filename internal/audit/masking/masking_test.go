package masking

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMaskSecret(t *testing.T) {
	require.Equal(t, "whsec_****abcd", MaskSecret("whsec_123456abcd"))
	require.Equal(t, "****", MaskSecret("abc"))
	require.Equal(t, "", MaskSecret("  "))
}

func TestMaskSensitive(t *testing.T) {
	out := MaskSensitive(map[string]any{
		"amount":       "80.00",
		"access_token": "APP_USR_1234567890",
		"nested": map[string]any{
			"signature": "deadbeefcafe",
		},
		"card_last4": 4242,
	})
	require.Equal(t, "80.00", out["amount"])
	require.Equal(t, "APP_USR_****7890", out["access_token"])
	require.Equal(t, "****cafe", out["nested"].(map[string]any)["signature"])
	require.Equal(t, "****", out["card_last4"])
}
