package units

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	clierr "github.com/ggonzalez94/polygon-agent/internal/errors"
)

// Decimals used by MATIC/POL, ETH and every amount the agent scales from text.
const Decimals = 18

var (
	digitsPattern  = regexp.MustCompile(`^\d+$`)
	decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)
)

// ParseBigIntString parses a base-unit integer string. Only plain decimal
// digits are accepted: no sign, no exponent, no separators.
func ParseBigIntString(s string) (*big.Int, error) {
	if !digitsPattern.MatchString(s) {
		return nil, clierr.Validation("invalid integer amount %q", s)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, clierr.Validation("invalid integer amount %q", s)
	}
	return v, nil
}

// ParsePositiveBigInt is ParseBigIntString that also rejects zero.
func ParsePositiveBigInt(s string) (*big.Int, error) {
	v, err := ParseBigIntString(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	if v.Sign() <= 0 {
		return nil, clierr.Validation("amount must be greater than zero")
	}
	return v, nil
}

// ToBaseUnits converts a human decimal amount such as "1.25" into base units.
// Precision beyond the token decimals is rejected rather than truncated.
func ToBaseUnits(amount string, decimals int) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if decimals < 0 {
		return nil, clierr.Validation("decimals must be >= 0")
	}
	if !decimalPattern.MatchString(amount) {
		return nil, clierr.Validation("amount must be in decimal form like 1.23, got %q", amount)
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, clierr.Validation("invalid decimal amount %q", amount)
	}
	if -d.Exponent() > int32(decimals) {
		return nil, clierr.Validation("decimal precision exceeds token decimals (%d)", decimals)
	}
	return d.Shift(int32(decimals)).BigInt(), nil
}

// FromBaseUnits formats base units as a trimmed decimal string.
func FromBaseUnits(v *big.Int, decimals int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -int32(decimals)).String()
}

// FormatEther renders wei with the given symbol, for user-facing text.
func FormatEther(v *big.Int, symbol string) string {
	out := FromBaseUnits(v, Decimals)
	if symbol == "" {
		return out
	}
	return fmt.Sprintf("%s %s", out, symbol)
}

// GweiToWei converts a gwei string from a gas oracle ("12.5") into wei.
func GweiToWei(gwei string) (*big.Int, error) {
	gwei = strings.TrimSpace(gwei)
	if gwei == "" {
		return nil, fmt.Errorf("empty gwei value")
	}
	d, err := decimal.NewFromString(gwei)
	if err != nil {
		return nil, fmt.Errorf("parse gwei %q: %w", gwei, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("negative gwei value %q", gwei)
	}
	return d.Shift(9).Truncate(0).BigInt(), nil
}

// ApplyMultiplier scales v by a decimal factor, rounding down.
func ApplyMultiplier(v *big.Int, factor float64) *big.Int {
	if v == nil {
		return nil
	}
	return decimal.NewFromBigInt(v, 0).Mul(decimal.NewFromFloat(factor)).Truncate(0).BigInt()
}

// ApplyMultiplierUint64 is ApplyMultiplier for gas limits.
func ApplyMultiplierUint64(v uint64, factor float64) uint64 {
	scaled := ApplyMultiplier(new(big.Int).SetUint64(v), factor)
	if !scaled.IsUint64() {
		return v
	}
	return scaled.Uint64()
}
