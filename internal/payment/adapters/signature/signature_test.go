package signature

import (
	"testing"
	"time"

	"github.com/smallbiznis/carehub/internal/payment/domain"
	"github.com/stretchr/testify/require"
)

func TestVerify(t *testing.T) {
	payload := []byte(`{"id":1}`)
	now := time.Unix(1_775_000_000, 0)
	header := Header("secret", payload, now.Unix())

	require.NoError(t, Verify(header, "secret", payload, now, 5*time.Minute))
	require.NoError(t, Verify(header, "secret", payload, now.Add(time.Hour), 0))

	cases := map[string]struct {
		header  string
		secret  string
		payload []byte
		now     time.Time
	}{
		"wrong secret":     {header, "other", payload, now},
		"tampered payload": {header, "secret", []byte(`{"id":2}`), now},
		"stale":            {header, "secret", payload, now.Add(6 * time.Minute)},
		"empty header":     {"", "secret", payload, now},
		"no signature":     {"t=1775000000", "secret", payload, now},
		"empty secret":     {header, "", payload, now},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := Verify(tc.header, tc.secret, tc.payload, tc.now, 5*time.Minute)
			require.ErrorIs(t, err, domain.ErrInvalidSignature)
		})
	}
}

func TestVerifyAcceptsAnyListedSignature(t *testing.T) {
	payload := []byte(`{}`)
	now := time.Unix(1_775_000_000, 0)
	valid := Header("secret", payload, now.Unix())
	header := "t=1775000000,v1=deadbeef," + valid[len("t=1775000000,"):]
	require.NoError(t, Verify(header, "secret", payload, now, time.Minute))
}
