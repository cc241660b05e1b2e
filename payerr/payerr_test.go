package payerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("submit: %w", New(KindDeadlineExpired, "deadline %d passed", 100))
	assert.True(t, errors.Is(err, ErrDeadlineExpired))
	assert.False(t, errors.Is(err, ErrNonceReused))
	assert.Equal(t, KindDeadlineExpired, KindOf(err))
	assert.Equal(t, KindOther, KindOf(errors.New("plain")))
	assert.Contains(t, err.Error(), "deadline 100 passed")
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Wrap(KindRegistryUnavailable, cause)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrRegistryUnavailable)
	assert.True(t, Retryable(KindOf(err)))
	assert.False(t, Retryable(KindSignerMismatch))
}

func TestCategoryOf(t *testing.T) {
	assert.Equal(t, CategoryInput, CategoryOf(KindInvalidAmount))
	assert.Equal(t, CategoryWallet, CategoryOf(KindUserRejectedSignature))
	assert.Equal(t, CategoryTimeout, CategoryOf(KindConfirmationTimeout))
	assert.Equal(t, CategoryContract, CategoryOf(Kind("Unknown")))
}

func TestClassifyRevertSelectors(t *testing.T) {
	nonce := selector("InvalidNonce()")
	err := ClassifyRevert("", nonce[:])
	assert.Equal(t, KindNonceReused, err.Kind)

	expired := selector("SignatureExpired(uint256)")
	data := append(expired[:], make([]byte, 32)...)
	assert.Equal(t, KindDeadlineExpired, ClassifyRevert("", data).Kind)

	signer := selector("InvalidSigner()")
	assert.Equal(t, KindSignerMismatch, ClassifyRevert("", signer[:]).Kind)
}

func TestClassifyRevertReasons(t *testing.T) {
	cases := map[string]Kind{
		"execution reverted: DEADLINE_EXPIRED": KindDeadlineExpired,
		"Payment already processed":            KindNonceReused,
		"InvalidSigner":                        KindSignerMismatch,
		"execution reverted: paused":           KindOther,
		"":                                     KindOther,
	}
	for reason, want := range cases {
		t.Run(reason, func(t *testing.T) {
			assert.Equal(t, want, ClassifyRevert(reason, nil).Kind)
		})
	}
}

func TestClassifyRevertKeepsUnknownReason(t *testing.T) {
	err := ClassifyRevert("router paused", nil)
	require.Equal(t, KindOther, err.Kind)
	assert.Equal(t, "router paused", err.Message)
}

func TestIsUserRejection(t *testing.T) {
	assert.True(t, IsUserRejection(ErrUserRejected))
	assert.True(t, IsUserRejection(fmt.Errorf("wallet: %w", ErrUserRejected)))
	assert.True(t, IsUserRejection(errors.New("MetaMask Tx Signature: User denied transaction signature.")))
	assert.True(t, IsUserRejection(errors.New("rpc error code 4001")))
	assert.False(t, IsUserRejection(errors.New("insufficient funds for gas")))
	assert.False(t, IsUserRejection(nil))
}

func TestClassifyWalletError(t *testing.T) {
	assert.Nil(t, ClassifyWalletError(nil, KindApprovalRejected, KindOther))

	err := ClassifyWalletError(ErrUserRejected, KindApprovalRejected, KindOther)
	assert.Equal(t, KindApprovalRejected, err.Kind)

	err = ClassifyWalletError(errors.New("nonce too low"), KindUserRejectedSubmission, KindOther)
	assert.Equal(t, KindOther, err.Kind)

	err = ClassifyWalletError(New(KindSigningUnavailable, "no key"), KindUserRejectedSignature, KindOther)
	assert.Equal(t, KindSigningUnavailable, err.Kind)
}

func TestClassifyRevertInsufficientIsContractFailure(t *testing.T) {
	for _, reason := range []string{"ERC20: insufficient allowance", "ERC20: transfer amount exceeds balance"} {
		err := ClassifyRevert(reason, nil)
		assert.Equal(t, KindOther, err.Kind, reason)
		assert.Equal(t, CategoryContract, CategoryOf(err.Kind), reason)
		assert.Equal(t, reason, err.Message)
	}
}
