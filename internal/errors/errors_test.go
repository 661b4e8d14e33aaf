package errors

import (
	"fmt"
	"testing"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestErrInsufficientFunds(t *testing.T) {
	err := ErrInsufficientFunds(decimal.RequireFromString("0.4"))

	assert.Equal(t, 402, int(err.Code))
	assert.Equal(t, ReasonInsufficientFunds, err.Reason)
	assert.Equal(t, "0.40", err.Metadata["shortfall"])
	assert.Equal(t, "200101", err.Metadata["biz_code"])
}

func TestIsReason(t *testing.T) {
	wrapped := fmt.Errorf("purchase: %w", ErrOrderNotFound("a-1"))

	assert.True(t, IsReason(wrapped, ReasonOrderNotFound))
	assert.False(t, IsReason(wrapped, ReasonInvalidSignature))
	assert.False(t, IsReason(nil, ReasonOrderNotFound))
	assert.Equal(t, 404, kerrors.Code(wrapped))
}

func TestErrOrderCommitFailed(t *testing.T) {
	cause := fmt.Errorf("db down")
	err := ErrOrderCommitFailed("ext-9", "tok-1", cause)

	assert.Equal(t, "ext-9", err.Metadata["external_id"])
	assert.Equal(t, "tok-1", err.Metadata["order_token"])
	assert.Equal(t, "200305", err.Metadata["biz_code"])
	assert.ErrorIs(t, err, cause)
}
