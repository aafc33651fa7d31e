package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := New(KindInsufficientFunds, "Insufficient agent balance")
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.NotErrorIs(t, err, ErrWalletNotActive)

	wrapped := fmt.Errorf("cash in: %w", err)
	assert.ErrorIs(t, wrapped, ErrInsufficientFunds)
	assert.Equal(t, KindInsufficientFunds, KindOf(wrapped))
	assert.Equal(t, "Insufficient agent balance", Message(wrapped))
}

func TestKindOf_Untyped(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindStoreUnavailable, KindOf(errors.New("boom")))
	assert.Equal(t, "internal error", Message(errors.New("pq: connection refused")))
}

func TestWrap_KeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Wrap(KindStoreUnavailable, "internal error", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "dial tcp")
	assert.Equal(t, "internal error", Message(err))
}
