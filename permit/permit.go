// Package permit builds and signs Permit2 PermitTransferFrom authorizations.
package permit

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"fxpay/payerr"
)

// DomainName is the Permit2 EIP-712 domain name.
const DomainName = "Permit2"

const (
	primaryType          = "PermitTransferFrom"
	tokenPermissionsType = "TokenPermissions"
)

var permitTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	primaryType: {
		{Name: "permitted", Type: tokenPermissionsType},
		{Name: "spender", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
	tokenPermissionsType: {
		{Name: "token", Type: "address"},
		{Name: "amount", Type: "uint256"},
	},
}

// Intent is a single payment attempt: move Amount of Token to Payee, valid
// until Deadline (unix seconds), under a unique Nonce.
type Intent struct {
	Payee    common.Address `json:"payee"`
	Token    common.Address `json:"token"`
	Amount   *big.Int       `json:"amount"`
	Deadline *big.Int       `json:"deadline"`
	Nonce    *big.Int       `json:"nonce"`
}

// Domain is the EIP-712 domain the verifying contract checks against.
type Domain struct {
	Name              string         `json:"name"`
	ChainID           uint64         `json:"chainId"`
	VerifyingContract common.Address `json:"verifyingContract"`
}

func (d Domain) typed() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              d.Name,
		ChainId:           math.NewHexOrDecimal256(int64(d.ChainID)),
		VerifyingContract: d.VerifyingContract.Hex(),
	}
}

// Separator returns the EIP-712 domain separator.
func (d Domain) Separator() (common.Hash, error) {
	td := apitypes.TypedData{Types: permitTypes, Domain: d.typed()}
	sep, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash domain: %w", err)
	}
	return common.BytesToHash(sep), nil
}

// Signer produces EIP-712 signatures; wallet.Wallet satisfies it.
type Signer interface {
	SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error)
}

// Builder binds authorizations to one Permit2 deployment and one spender.
type Builder struct {
	permit2 common.Address
	spender common.Address
}

// NewBuilder returns a builder. spender is the contract allowed to pull the
// funds; it is mandatory.
func NewBuilder(permit2, spender common.Address) (*Builder, error) {
	if permit2 == (common.Address{}) {
		return nil, fmt.Errorf("permit2 address required")
	}
	if spender == (common.Address{}) {
		return nil, fmt.Errorf("spender address required")
	}
	return &Builder{permit2: permit2, spender: spender}, nil
}

// Spender returns the bound spender.
func (b *Builder) Spender() common.Address { return b.spender }

// BuildDomain returns the Permit2 domain for chainID.
func (b *Builder) BuildDomain(chainID uint64) Domain {
	return Domain{Name: DomainName, ChainID: chainID, VerifyingContract: b.permit2}
}

// TypedData returns the full EIP-712 payload for intent.
func (b *Builder) TypedData(intent Intent, domain Domain) (apitypes.TypedData, error) {
	if err := validate(intent); err != nil {
		return apitypes.TypedData{}, err
	}
	if domain.ChainID == 0 {
		return apitypes.TypedData{}, fmt.Errorf("domain chain id required")
	}
	return apitypes.TypedData{
		Types:       permitTypes,
		PrimaryType: primaryType,
		Domain:      domain.typed(),
		Message: apitypes.TypedDataMessage{
			"permitted": map[string]interface{}{
				"token":  intent.Token.Hex(),
				"amount": new(big.Int).Set(intent.Amount),
			},
			"spender":  b.spender.Hex(),
			"nonce":    new(big.Int).Set(intent.Nonce),
			"deadline": new(big.Int).Set(intent.Deadline),
		},
	}, nil
}

// Digest returns keccak256(0x1901 || domainSeparator || hashStruct(message)).
func (b *Builder) Digest(intent Intent, domain Domain) (common.Hash, error) {
	td, err := b.TypedData(intent, domain)
	if err != nil {
		return common.Hash{}, err
	}
	digest, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash typed data: %w", err)
	}
	return common.BytesToHash(digest), nil
}

// SignedAuthorization is an intent plus the wallet's signature. FormatErr is
// set when the signature did not split into r, s and v in {27, 28}; the raw
// Signature is still what gets submitted.
type SignedAuthorization struct {
	Intent    Intent        `json:"intent"`
	Domain    Domain        `json:"domain"`
	Signature []byte        `json:"signature"`
	R         [32]byte      `json:"-"`
	S         [32]byte      `json:"-"`
	V         byte          `json:"v"`
	FormatErr *payerr.Error `json:"-"`
}

// Sign requests a signature over intent from signer.
func (b *Builder) Sign(ctx context.Context, signer Signer, intent Intent, domain Domain) (SignedAuthorization, error) {
	if signer == nil {
		return SignedAuthorization{}, payerr.New(payerr.KindSigningUnavailable, "no signer connected")
	}
	td, err := b.TypedData(intent, domain)
	if err != nil {
		return SignedAuthorization{}, err
	}
	sig, err := signer.SignTypedData(ctx, td)
	if err != nil {
		if ctx.Err() != nil {
			return SignedAuthorization{}, ctx.Err()
		}
		return SignedAuthorization{}, classifySignError(err)
	}

	auth := SignedAuthorization{
		Intent:    intent,
		Domain:    domain,
		Signature: append([]byte(nil), sig...),
	}
	r, s, v, splitErr := SplitSignature(sig)
	if splitErr != nil {
		auth.FormatErr = splitErr
	} else {
		auth.R, auth.S, auth.V = r, s, v
	}
	return auth, nil
}

// SplitSignature splits a 65 byte signature into r, s and v, requiring v
// to be 27 or 28.
func SplitSignature(sig []byte) (r, s [32]byte, v byte, err *payerr.Error) {
	if len(sig) != crypto.SignatureLength {
		return r, s, 0, payerr.New(payerr.KindUnexpectedSignatureFormat, "signature length %d, want %d", len(sig), crypto.SignatureLength)
	}
	copy(r[:], sig[:32])
	copy(s[:], sig[32:64])
	v = sig[64]
	if v != 27 && v != 28 {
		return r, s, v, payerr.New(payerr.KindUnexpectedSignatureFormat, "signature v=%d, want 27 or 28", v)
	}
	return r, s, v, nil
}

// Recover returns the address that produced sig over intent.
func (b *Builder) Recover(intent Intent, domain Domain, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature length %d", len(sig))
	}
	digest, err := b.Digest(intent, domain)
	if err != nil {
		return common.Address{}, err
	}
	normalized := append([]byte(nil), sig...)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func validate(intent Intent) error {
	switch {
	case intent.Token == (common.Address{}):
		return fmt.Errorf("token address required")
	case intent.Amount == nil || intent.Amount.Sign() <= 0:
		return payerr.New(payerr.KindInvalidAmount, "amount must be positive")
	case intent.Nonce == nil || intent.Nonce.Sign() < 0:
		return fmt.Errorf("nonce required")
	case intent.Deadline == nil || intent.Deadline.Sign() <= 0:
		return fmt.Errorf("deadline required")
	}
	return nil
}

var unsupportedPatterns = []string{
	"not supported",
	"unsupported method",
	"does not support",
	"method not found",
	"code 4200",
}

func classifySignError(err error) *payerr.Error {
	lower := strings.ToLower(err.Error())
	for _, p := range unsupportedPatterns {
		if strings.Contains(lower, p) {
			return payerr.Wrap(payerr.KindSigningUnavailable, err)
		}
	}
	return payerr.ClassifyWalletError(err, payerr.KindUserRejectedSignature, payerr.KindOther)
}
