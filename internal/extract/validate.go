package extract

import (
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"github.com/ggonzalez94/polygon-agent/internal/units"
)

var (
	addressPattern         = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	hexDataPattern         = regexp.MustCompile(`^0x([0-9a-fA-F]{2})*$`)
	heimdallAddressPattern = regexp.MustCompile(`^heimdall(valoper)?1[0-9a-z]+$`)
	unitAmountPattern      = regexp.MustCompile(`(?i)^([0-9]+(?:\.[0-9]+)?)\s*(matic|pol|eth|ether|tokens?)$`)
	weiAmountPattern       = regexp.MustCompile(`(?i)^([0-9]+)\s*wei$`)
)

// IsAddress reports whether s is 0x followed by 40 hex characters.
func IsAddress(s string) bool {
	return addressPattern.MatchString(strings.TrimSpace(s))
}

// IsHeimdallAddress accepts heimdall account and validator operator addresses.
func IsHeimdallAddress(s string) bool {
	return heimdallAddressPattern.MatchString(strings.TrimSpace(s))
}

func normalizeAddress(raw string) (string, bool) {
	if !IsAddress(raw) {
		return raw, false
	}
	return strings.TrimSpace(raw), true
}

func normalizeHeimdallAddress(raw string) (string, bool) {
	clean := strings.ToLower(strings.TrimSpace(raw))
	return clean, IsHeimdallAddress(clean)
}

// normalizePositiveID accepts "5", "#5" and "validator 5".
func normalizePositiveID(raw string) (string, bool) {
	clean := strings.TrimSpace(raw)
	clean = strings.TrimPrefix(clean, "#")
	if i := strings.LastIndexAny(clean, " #"); i >= 0 {
		clean = clean[i+1:]
	}
	n, err := strconv.ParseUint(clean, 10, 64)
	if err != nil || n == 0 {
		return raw, false
	}
	return strconv.FormatUint(n, 10), true
}

// normalizeAmountWei accepts base-unit integers and unit-suffixed amounts such
// as "10 MATIC", which are scaled by 18 decimals.
func normalizeAmountWei(raw string) (string, bool) {
	clean := strings.TrimSpace(strings.ReplaceAll(raw, ",", ""))
	if v, err := units.ParsePositiveBigInt(clean); err == nil {
		return v.String(), true
	}
	if m := weiAmountPattern.FindStringSubmatch(clean); len(m) == 2 {
		if v, err := units.ParsePositiveBigInt(m[1]); err == nil {
			return v.String(), true
		}
	}
	if m := unitAmountPattern.FindStringSubmatch(clean); len(m) == 3 {
		v, err := units.ToBaseUnits(m[1], units.Decimals)
		if err == nil && v.Sign() > 0 {
			return v.String(), true
		}
	}
	return raw, false
}

func normalizeUint(raw string) (string, bool) {
	n, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return raw, false
	}
	return strconv.FormatUint(n, 10), true
}

func normalizeBigUint(raw string) (string, bool) {
	v, err := units.ParseBigIntString(strings.TrimSpace(raw))
	if err != nil {
		return raw, false
	}
	return v.String(), true
}

func normalizeText(raw string) (string, bool) {
	clean := strings.TrimSpace(raw)
	return clean, clean != ""
}

// normalizeToken accepts an L1 token address or the native-ether keyword.
func normalizeToken(raw string) (string, bool) {
	clean := strings.TrimSpace(raw)
	switch strings.ToLower(clean) {
	case "eth", "ether", "native":
		return NativeToken, true
	}
	return normalizeAddress(clean)
}

// NativeToken marks a bridge deposit of L1 ether.
const NativeToken = "ETH"

func normalizeList(each func(string) (string, bool)) func(string) (string, bool) {
	return func(raw string) (string, bool) {
		parts := strings.Split(raw, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			v, ok := each(strings.TrimSpace(p))
			if !ok {
				return raw, false
			}
			out = append(out, v)
		}
		return strings.Join(out, ","), len(out) > 0
	}
}

// normalizeChain maps chain words to a layer: "l1" or "l2".
func normalizeChain(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "ethereum", "eth", "sepolia", "l1", "mainnet":
		return "l1", true
	case "polygon", "matic", "pol", "amoy", "l2":
		return "l2", true
	}
	return raw, false
}

func normalizeHexData(raw string) (string, bool) {
	clean := strings.TrimSpace(raw)
	return clean, hexDataPattern.MatchString(clean)
}

func normalizeSupport(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "0", "against", "no":
		return "0", true
	case "1", "for", "yes":
		return "1", true
	case "2", "abstain":
		return "2", true
	}
	return raw, false
}

func normalizeHeimdallOption(raw string) (string, bool) {
	clean := strings.ToUpper(strings.TrimSpace(raw))
	clean = strings.TrimPrefix(clean, "VOTE_OPTION_")
	clean = strings.ReplaceAll(clean, " ", "_")
	switch clean {
	case "YES", "NO", "ABSTAIN", "NO_WITH_VETO":
		return clean, true
	case "VETO":
		return "NO_WITH_VETO", true
	}
	return raw, false
}

func mustBig(s string) *big.Int {
	v, _ := new(big.Int).SetString(s, 10)
	return v
}
