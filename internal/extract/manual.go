package extract

import (
	"context"
	"regexp"
	"strings"
)

const (
	groupedNumber = `\d{1,3}(?:,\d{3})+|\d+`
	// numberEnd rejects a match that stops inside a longer number, while a
	// sentence-ending period or comma is fine.
	numberEnd = `(?:$|[^\w.,]|[.,](?:$|[^\d]))`
)

var (
	validatorIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)validator\s*(?:id|number|no\.?)?\s*[:#]?\s*(\d+)\b`),
		regexp.MustCompile(`(?i)\bid\s*[:#]?\s*(\d+)\b`),
		regexp.MustCompile(`#(\d+)\b`),
	}
	// Numbers must start at a boundary that is not part of another number, so
	// "1,500" or ".5" never match as "500" or "5".
	unitAmountInText  = regexp.MustCompile(`(?i)(?:^|[^\w.,])((?:` + groupedNumber + `)(?:\.\d+)?|\.\d+)\s*(matic|pol|ether|eth|tokens?)\b`)
	weiAmountInText   = regexp.MustCompile(`(?i)(?:^|[^\w.,])(` + groupedNumber + `)\s*wei\b`)
	keyedAmountInText = regexp.MustCompile(`(?i)\bamount(?:\s*wei)?\s*[:=]\s*(` + groupedNumber + `)` + numberEnd)
	addressInText     = regexp.MustCompile(`\b0x[0-9a-fA-F]{40}\b`)
	nativeEthInText   = regexp.MustCompile(`(?i)\b(eth|ether)\b`)
	heimdallInText    = regexp.MustCompile(`\bheimdall(?:valoper)?1[0-9a-z]+\b`)
	blockInText       = regexp.MustCompile(`(?i)block\s*(?:number|no\.?|height)?\s*[:#]?\s*(` + groupedNumber + `)` + numberEnd)
	proposalInText    = regexp.MustCompile(`(?i)proposal\s*(?:id|number|no\.?)?\s*[:#]?\s*(\d+)\b`)
	supportInText     = regexp.MustCompile(`(?i)\b(for|against|abstain)\b`)
	optionInText      = regexp.MustCompile(`(?i)\b(no[ _]with[ _]veto|veto|yes|no|abstain)\b`)
	reasonInText      = regexp.MustCompile(`(?i)reason\s*[:=]\s*"?([^"\n]+)"?`)
	descriptionInText = regexp.MustCompile(`(?i)description\s*[:=]\s*"?([^"\n]+)"?`)
	hexDataInText     = regexp.MustCompile(`\b0x(?:[0-9a-fA-F]{2}){4,}\b`)
	chainInText       = regexp.MustCompile(`(?i)\b(ethereum|polygon|sepolia|amoy|l1|l2|mainnet)\b`)
)

// Manual extracts fields with regular expressions only.
type Manual struct{}

func (Manual) Name() string { return "manual" }

func (Manual) Kind() Kind { return KindManual }

func (Manual) Extract(_ context.Context, req Request) (Fields, error) {
	fields := Fields{}
	for _, f := range req.Spec.Fields {
		if f.Manual == nil {
			continue
		}
		if v, ok := f.Manual(req.Text); ok {
			fields[f.Name] = v
		}
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}

func firstGroup(patterns ...*regexp.Regexp) func(string) (string, bool) {
	return func(text string) (string, bool) {
		for _, p := range patterns {
			if m := p.FindStringSubmatch(text); len(m) >= 2 && strings.TrimSpace(m[1]) != "" {
				return strings.TrimSpace(m[1]), true
			}
		}
		return "", false
	}
}

func manualValidatorID(text string) (string, bool) {
	return firstGroup(validatorIDPatterns...)(text)
}

// manualAmountWei prefers unit-suffixed amounts, then explicit wei, then an
// "amount: N" pair. Bare numbers are never taken as amounts.
func manualAmountWei(text string) (string, bool) {
	if m := unitAmountInText.FindStringSubmatch(text); len(m) == 3 {
		amount := m[1]
		if strings.HasPrefix(amount, ".") {
			amount = "0" + amount
		}
		return normalizeAmountWei(amount + " " + m[2])
	}
	if m := weiAmountInText.FindStringSubmatch(text); len(m) == 2 {
		return normalizeAmountWei(m[1])
	}
	if m := keyedAmountInText.FindStringSubmatch(text); len(m) == 2 {
		return normalizeAmountWei(m[1])
	}
	return "", false
}

func manualBlockNumber(text string) (string, bool) {
	if m := blockInText.FindStringSubmatch(text); len(m) == 2 {
		return strings.ReplaceAll(m[1], ",", ""), true
	}
	return "", false
}

// manualBridgeToken takes the first of two addresses. With at most one
// address and ETH named in the text it picks native ether, leaving the
// address to the recipient.
func manualBridgeToken(text string) (string, bool) {
	all := addressInText.FindAllString(text, -1)
	switch {
	case len(all) >= 2:
		return all[0], true
	case nativeEthInText.MatchString(text):
		return NativeToken, true
	case len(all) == 1:
		return all[0], true
	}
	return "", false
}

// manualBridgeRecipient takes the second address when a token address is
// present, or the only address when bridging native ether.
func manualBridgeRecipient(text string) (string, bool) {
	all := addressInText.FindAllString(text, -1)
	switch {
	case len(all) >= 2:
		return all[1], true
	case len(all) == 1 && nativeEthInText.MatchString(text):
		return all[0], true
	}
	return "", false
}

func manualAllAddresses(text string) (string, bool) {
	all := addressInText.FindAllString(text, -1)
	if len(all) == 0 {
		return "", false
	}
	return strings.Join(all, ","), true
}

func manualHexData(text string) (string, bool) {
	var out []string
	for _, m := range hexDataInText.FindAllString(text, -1) {
		if !addressInText.MatchString(m) || len(m) != 42 {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return "", false
	}
	return strings.Join(out, ","), true
}

func manualHeimdallAddress(text string) (string, bool) {
	if m := heimdallInText.FindString(strings.ToLower(text)); m != "" {
		return m, true
	}
	return "", false
}

func manualFirstAddress(text string) (string, bool) {
	if m := addressInText.FindString(text); m != "" {
		return m, true
	}
	return "", false
}

var (
	manualChain       = firstGroup(chainInText)
	manualProposalID  = firstGroup(proposalInText)
	manualSupport     = firstGroup(supportInText)
	manualReason      = firstGroup(reasonInText)
	manualDescription = firstGroup(descriptionInText)
)

func manualHeimdallOption(text string) (string, bool) {
	if m := optionInText.FindStringSubmatch(text); len(m) == 2 {
		return normalizeHeimdallOption(m[1])
	}
	return "", false
}
