package payment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "shhh-very-secret"

func TestSignDeterministic(t *testing.T) {
	params := map[string]string{
		"trade_no": "T-123",
		"result":   "SUCCESS",
		"amount":   "60000",
	}
	first := Sign(params, testSecret)
	second := Sign(params, testSecret)
	assert.Equal(t, first, second)
	assert.Len(t, first, 64) // hex sha256
}

func TestSignSkipsSignAndEmptyValues(t *testing.T) {
	base := map[string]string{
		"trade_no": "T-123",
		"result":   "SUCCESS",
	}
	noisy := map[string]string{
		"trade_no": "T-123",
		"result":   "SUCCESS",
		"sign":     "anything",
		"memo":     "",
	}
	assert.Equal(t, Sign(base, testSecret), Sign(noisy, testSecret))
}

func TestVerify(t *testing.T) {
	params := map[string]string{
		"trade_no": "T-123",
		"result":   "SUCCESS",
		"paid_at":  "2026-08-29T10:00:00Z",
	}
	params[SignParamKey] = Sign(params, testSecret)
	require.NoError(t, Verify(params, testSecret))

	// Field order on the wire must not matter; maps already model that,
	// but an uppercased hex signature must still verify.
	params[SignParamKey] = strings.ToUpper(params[SignParamKey])
	assert.NoError(t, Verify(params, testSecret))
}

func TestVerifyRejectsTamper(t *testing.T) {
	params := map[string]string{
		"trade_no": "T-123",
		"result":   "FAILED",
	}
	params[SignParamKey] = Sign(params, testSecret)
	params["result"] = "SUCCESS"
	assert.ErrorIs(t, Verify(params, testSecret), ErrInvalidSignature)
}

func TestVerifyRejectsMissingOrWrongSecret(t *testing.T) {
	params := map[string]string{"trade_no": "T-123"}
	assert.ErrorIs(t, Verify(params, testSecret), ErrInvalidSignature)

	params[SignParamKey] = Sign(params, "other-secret")
	assert.ErrorIs(t, Verify(params, testSecret), ErrInvalidSignature)
}
