package payerr

import (
	"encoding/hex"
	"errors"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

// customErrors maps 4-byte selectors of the settlement and permit contracts'
// custom errors to a kind.
var customErrors = map[[4]byte]Kind{
	selector("InvalidNonce()"):             KindNonceReused,
	selector("NonceAlreadyUsed()"):         KindNonceReused,
	selector("PaymentAlreadyProcessed()"):  KindNonceReused,
	selector("SignatureExpired(uint256)"):  KindDeadlineExpired,
	selector("DeadlineExpired()"):          KindDeadlineExpired,
	selector("InvalidSigner()"):            KindSignerMismatch,
	selector("InvalidSignature()"):         KindSignerMismatch,
	selector("InvalidSignatureLength()"):   KindSignerMismatch,
	selector("InvalidContractSignature()"): KindSignerMismatch,
}

// reasonRules are checked in order against lower-cased revert strings.
var reasonRules = []struct {
	pattern *regexp.Regexp
	kind    Kind
}{
	{regexp.MustCompile(`deadline_expired|signatureexpired|deadline expired|signature expired|expired`), KindDeadlineExpired},
	{regexp.MustCompile(`invalidnonce|nonce already used|already processed|payment id used`), KindNonceReused},
	{regexp.MustCompile(`invalidsigner|invalid signer|signer mismatch|invalidsignature|invalid signature|signer`), KindSignerMismatch},
}

var rejectionPatterns = []string{
	"user rejected",
	"user denied",
	"rejected by user",
	"request rejected",
	"code 4001",
	"code: 4001",
}

// ErrUserRejected is the canonical wallet-level refusal. Wallet
// implementations return it (or wrap it) when the user declines a prompt.
var ErrUserRejected = errors.New("user rejected the request")

// ClassifyRevert - maps a revert reason and/or raw revert data to a contract
// failure. Unrecognised reverts pass through as KindOther with the reason.
func ClassifyRevert(reason string, data []byte) *Error {
	if len(data) >= 4 {
		var sel [4]byte
		copy(sel[:], data[:4])
		if kind, ok := customErrors[sel]; ok {
			return &Error{Kind: kind, Message: firstNonEmpty(reason, "0x"+hex.EncodeToString(data[:4]))}
		}
		if unpacked, err := abi.UnpackRevert(data); err == nil && unpacked != "" {
			reason = unpacked
		}
	}
	lower := strings.ToLower(reason)
	for _, rule := range reasonRules {
		if rule.pattern.MatchString(lower) {
			return &Error{Kind: rule.kind, Message: reason}
		}
	}
	return &Error{Kind: KindOther, Message: truncate(firstNonEmpty(reason, "execution reverted"))}
}

// IsUserRejection - reports whether err is a wallet-level refusal.
func IsUserRejection(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUserRejected) {
		return true
	}
	lower := strings.ToLower(err.Error())
	for _, p := range rejectionPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// ClassifyWalletError - maps an error returned by a wallet prompt. A user
// refusal becomes rejected; anything else keeps its message under fallback.
func ClassifyWalletError(err error, rejected, fallback Kind) *Error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}
	if IsUserRejection(err) {
		return Wrap(rejected, err)
	}
	return Wrap(fallback, err)
}

func selector(signature string) [4]byte {
	var sel [4]byte
	copy(sel[:], crypto.Keccak256([]byte(signature))[:4])
	return sel
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func truncate(s string) string {
	if len(s) > 300 {
		return s[:300] + "..."
	}
	return s
}
