package webhook

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"notification_id":"n-1"}`)

	sig := Sign("secret", body)
	require.Len(t, sig, 64)
	require.Equal(t, sig, Sign("secret", body))

	require.True(t, VerifySignature("secret", body, sig))
	require.False(t, VerifySignature("other-secret", body, sig))
	require.False(t, VerifySignature("secret", []byte(`{"tampered":true}`), sig))
	require.False(t, VerifySignature("secret", body, "not-hex"))
}
