package errors

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var haveWantPattern = regexp.MustCompile(`have\s+(\d+)\s+want\s+(\d+)`)

// implausibleShortfallWei is one million whole tokens at 18 decimals. A gap
// this large almost always means an amount was scaled twice upstream.
var implausibleShortfallWei = new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil)

// InsufficientFunds is the parsed form of a provider "have X want Y" rejection.
type InsufficientFunds struct {
	Have      *big.Int
	Want      *big.Int
	Shortfall *big.Int
}

// ParseInsufficientFunds extracts have/want amounts from provider error text.
func ParseInsufficientFunds(text string) (InsufficientFunds, bool) {
	m := haveWantPattern.FindStringSubmatch(text)
	if len(m) != 3 {
		return InsufficientFunds{}, false
	}
	have, ok := new(big.Int).SetString(m[1], 10)
	if !ok {
		return InsufficientFunds{}, false
	}
	want, ok := new(big.Int).SetString(m[2], 10)
	if !ok {
		return InsufficientFunds{}, false
	}
	shortfall := new(big.Int).Sub(want, have)
	if shortfall.Sign() < 0 {
		shortfall.SetInt64(0)
	}
	return InsufficientFunds{Have: have, Want: want, Shortfall: shortfall}, true
}

// FormatInsufficientFunds renders a human-readable shortfall message for err.
// The boolean is false when err is not an insufficient-funds failure.
func FormatInsufficientFunds(err error, symbol string) (string, bool) {
	if !IsInsufficientFunds(err) {
		return "", false
	}
	if strings.TrimSpace(symbol) == "" {
		symbol = "ETH"
	}
	parsed, ok := ParseInsufficientFunds(err.Error())
	if !ok {
		return fmt.Sprintf("Insufficient %s balance to pay for this transaction: %s", symbol, err.Error()), true
	}
	msg := fmt.Sprintf(
		"Insufficient %s balance: have %s %s, need %s %s (short by %s %s).",
		symbol, formatWei(parsed.Have), symbol, formatWei(parsed.Want), symbol, formatWei(parsed.Shortfall), symbol,
	)
	if parsed.Shortfall.Cmp(implausibleShortfallWei) > 0 {
		msg += " Warning: the required amount is implausibly large; the requested amount may have been converted to base units twice."
	}
	return msg, true
}

func formatWei(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -18).Truncate(6).String()
}
