// Package payerr defines the structured error kinds surfaced by payment,
// allowance, signing and rate components.
package payerr

import (
	"errors"
	"fmt"
)

// Kind identifies a failure class.
type Kind string

const (
	KindInvalidAmount             Kind = "InvalidAmount"
	KindInvalidRecipient          Kind = "InvalidRecipient"
	KindWalletDisconnected        Kind = "WalletDisconnected"
	KindInsufficientBalance       Kind = "InsufficientBalance"
	KindApprovalRejected          Kind = "ApprovalRejected"
	KindApprovalTimeout           Kind = "ApprovalTimeout"
	KindApprovalReverted          Kind = "ApprovalReverted"
	KindUserRejectedSignature     Kind = "UserRejectedSignature"
	KindSigningUnavailable        Kind = "SigningUnavailable"
	KindUnexpectedSignatureFormat Kind = "UnexpectedSignatureFormat"
	KindUserRejectedSubmission    Kind = "UserRejectedSubmission"
	KindDeadlineExpired           Kind = "DeadlineExpired"
	KindNonceReused               Kind = "NonceReused"
	KindSignerMismatch            Kind = "SignerMismatch"
	KindConfirmationTimeout       Kind = "ConfirmationTimeout"
	KindNoRouteAvailable          Kind = "NoRouteAvailable"
	KindRegistryUnavailable       Kind = "RegistryUnavailable"
	KindAttemptInFlight           Kind = "AttemptInFlight"
	KindAttemptAbandoned          Kind = "AttemptAbandoned"
	KindOther                     Kind = "Other"
)

// Category groups kinds by how the caller is expected to react.
type Category string

const (
	CategoryInput    Category = "input"
	CategoryWallet   Category = "wallet"
	CategoryNetwork  Category = "network"
	CategoryContract Category = "contract"
	CategoryTimeout  Category = "timeout"
	CategoryState    Category = "state"
)

var categories = map[Kind]Category{
	KindInvalidAmount:             CategoryInput,
	KindInvalidRecipient:          CategoryInput,
	KindWalletDisconnected:        CategoryInput,
	KindInsufficientBalance:       CategoryInput,
	KindNoRouteAvailable:          CategoryInput,
	KindApprovalRejected:          CategoryWallet,
	KindUserRejectedSignature:     CategoryWallet,
	KindUserRejectedSubmission:    CategoryWallet,
	KindSigningUnavailable:        CategoryWallet,
	KindUnexpectedSignatureFormat: CategoryWallet,
	KindRegistryUnavailable:       CategoryNetwork,
	KindApprovalReverted:          CategoryContract,
	KindDeadlineExpired:           CategoryContract,
	KindNonceReused:               CategoryContract,
	KindSignerMismatch:            CategoryContract,
	KindOther:                     CategoryContract,
	KindApprovalTimeout:           CategoryTimeout,
	KindConfirmationTimeout:       CategoryTimeout,
	KindAttemptInFlight:           CategoryState,
	KindAttemptAbandoned:          CategoryState,
}

// CategoryOf returns the category of a kind. Unknown kinds are contract failures.
func CategoryOf(kind Kind) Category {
	if c, ok := categories[kind]; ok {
		return c
	}
	return CategoryContract
}

// Retryable reports whether automatic retry is allowed. Only network
// availability failures qualify; everything else needs a fresh attempt.
func Retryable(kind Kind) bool {
	return CategoryOf(kind) == CategoryNetwork
}

// Error is a classified failure with an optional human message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// New builds a classified error.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the kind of err, or KindOther for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOther
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidAmount             = &Error{Kind: KindInvalidAmount}
	ErrInvalidRecipient          = &Error{Kind: KindInvalidRecipient}
	ErrWalletDisconnected        = &Error{Kind: KindWalletDisconnected}
	ErrInsufficientBalance       = &Error{Kind: KindInsufficientBalance}
	ErrApprovalRejected          = &Error{Kind: KindApprovalRejected}
	ErrApprovalTimeout           = &Error{Kind: KindApprovalTimeout}
	ErrApprovalReverted          = &Error{Kind: KindApprovalReverted}
	ErrUserRejectedSignature     = &Error{Kind: KindUserRejectedSignature}
	ErrSigningUnavailable        = &Error{Kind: KindSigningUnavailable}
	ErrUnexpectedSignatureFormat = &Error{Kind: KindUnexpectedSignatureFormat}
	ErrUserRejectedSubmission    = &Error{Kind: KindUserRejectedSubmission}
	ErrDeadlineExpired           = &Error{Kind: KindDeadlineExpired}
	ErrNonceReused               = &Error{Kind: KindNonceReused}
	ErrSignerMismatch            = &Error{Kind: KindSignerMismatch}
	ErrConfirmationTimeout       = &Error{Kind: KindConfirmationTimeout}
	ErrNoRouteAvailable          = &Error{Kind: KindNoRouteAvailable}
	ErrRegistryUnavailable       = &Error{Kind: KindRegistryUnavailable}
	ErrAttemptInFlight           = &Error{Kind: KindAttemptInFlight}
	ErrAttemptAbandoned          = &Error{Kind: KindAttemptAbandoned}
	ErrOther                     = &Error{Kind: KindOther}
)
