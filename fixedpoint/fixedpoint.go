// Package fixedpoint converts between human decimal amounts and integer
// fixed-point magnitudes used by token contracts.
package fixedpoint

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"github.com/holiman/uint256"
)

// MaxDecimals is the largest precision accepted by the converter.
const MaxDecimals = 77

// ErrInvalidAmount is returned for amounts that are not finite, negative, or
// do not fit into an unsigned 256-bit word.
var ErrInvalidAmount = errors.New("invalid amount")

var decimalPattern = regexp.MustCompile(`^([0-9]+(\.[0-9]+)?|\.[0-9]+)$`)

// MaxUint256 returns a fresh copy of 2^256 - 1.
func MaxUint256() *big.Int {
	return new(uint256.Int).SetAllOne().ToBig()
}

// TokenAmount is an immutable raw magnitude paired with its decimal precision.
type TokenAmount struct {
	raw      *big.Int
	decimals uint8
}

// NewTokenAmount wraps a raw on-chain magnitude. Negative values and values
// wider than 256 bits are rejected.
func NewTokenAmount(raw *big.Int, decimals uint8) (TokenAmount, error) {
	if raw == nil || raw.Sign() < 0 {
		return TokenAmount{}, fmt.Errorf("%w: negative or missing magnitude", ErrInvalidAmount)
	}
	if _, overflow := uint256.FromBig(raw); overflow {
		return TokenAmount{}, fmt.Errorf("%w: exceeds uint256", ErrInvalidAmount)
	}
	return TokenAmount{raw: new(big.Int).Set(raw), decimals: decimals}, nil
}

// ParseTokenAmount builds a TokenAmount from user input.
func ParseTokenAmount(human string, decimals uint8) (TokenAmount, error) {
	raw, err := ToRaw(human, decimals)
	if err != nil {
		return TokenAmount{}, err
	}
	return TokenAmount{raw: raw, decimals: decimals}, nil
}

// Raw returns a copy of the integer magnitude.
func (a TokenAmount) Raw() *big.Int {
	if a.raw == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.raw)
}

// Decimals returns the precision.
func (a TokenAmount) Decimals() uint8 { return a.decimals }

// IsZero reports whether the magnitude is zero.
func (a TokenAmount) IsZero() bool { return a.raw == nil || a.raw.Sign() == 0 }

// Cmp compares raw magnitudes. Precision must match for the comparison to be meaningful.
func (a TokenAmount) Cmp(other TokenAmount) int { return a.Raw().Cmp(other.Raw()) }

// Rat returns the exact human value.
func (a TokenAmount) Rat() *big.Rat {
	return new(big.Rat).SetFrac(a.Raw(), pow10(a.decimals))
}

// String renders the exact human value without trailing zeros.
func (a TokenAmount) String() string {
	return trimZeros(a.Rat().FloatString(int(a.decimals)))
}

// ToRaw parses a decimal string and returns floor(value * 10^decimals).
func ToRaw(human string, decimals uint8) (*big.Int, error) {
	value, err := ParseDecimal(human)
	if err != nil {
		return nil, err
	}
	return scaleFloor(value, decimals)
}

// FloatToRaw is ToRaw for float inputs. The float is rendered with its
// shortest exact decimal representation before scaling.
func FloatToRaw(human float64, decimals uint8) (*big.Int, error) {
	if math.IsNaN(human) || math.IsInf(human, 0) {
		return nil, fmt.Errorf("%w: not finite", ErrInvalidAmount)
	}
	return ToRaw(strconv.FormatFloat(human, 'f', -1, 64), decimals)
}

// RatToRaw scales an exact rational amount, flooring the result.
func RatToRaw(value *big.Rat, decimals uint8) (*big.Int, error) {
	if value == nil {
		return nil, fmt.Errorf("%w: missing value", ErrInvalidAmount)
	}
	return scaleFloor(value, decimals)
}

// ToHuman converts a raw magnitude into a display value rounded to two places.
func ToHuman(raw *big.Int, decimals uint8) float64 {
	return ToHumanPlaces(raw, decimals, 2)
}

// ToHumanPlaces is ToHuman with an explicit number of display places.
func ToHumanPlaces(raw *big.Int, decimals uint8, places int) float64 {
	if raw == nil {
		return 0
	}
	value := new(big.Rat).SetFrac(raw, pow10(decimals))
	f, _ := strconv.ParseFloat(value.FloatString(places), 64)
	return f
}

// FormatRate renders an FX rate with the given places (rates need 4-6).
func FormatRate(raw *big.Int, decimals uint8, places int) string {
	if raw == nil {
		return ""
	}
	return new(big.Rat).SetFrac(raw, pow10(decimals)).FloatString(places)
}

// ParseDecimal parses a non-negative plain decimal string exactly.
func ParseDecimal(human string) (*big.Rat, error) {
	trimmed := strings.TrimSpace(human)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	if strings.HasPrefix(trimmed, "-") {
		return nil, fmt.Errorf("%w: negative %q", ErrInvalidAmount, human)
	}
	if !decimalPattern.MatchString(trimmed) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, human)
	}
	if strings.HasPrefix(trimmed, ".") {
		trimmed = "0" + trimmed
	}
	value, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, human)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative %q", ErrInvalidAmount, human)
	}
	return value, nil
}

func scaleFloor(value *big.Rat, decimals uint8) (*big.Int, error) {
	if decimals > MaxDecimals {
		return nil, fmt.Errorf("%w: precision %d too large", ErrInvalidAmount, decimals)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative", ErrInvalidAmount)
	}
	scaled := new(big.Rat).Mul(value, new(big.Rat).SetInt(pow10(decimals)))
	raw := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	if _, overflow := uint256.FromBig(raw); overflow {
		return nil, fmt.Errorf("%w: exceeds uint256", ErrInvalidAmount)
	}
	return raw, nil
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

func trimZeros(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
