package extract

import (
	"fmt"
	"strings"
)

// Number of earlier conversation turns included in prompts.
const recentTurns = 6

// BuildPrompt embeds the field list and recent conversation into an
// extraction prompt. fenced asks for the object inside a ```json block.
func BuildPrompt(req Request, fenced bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Extract the parameters of a Polygon %q request from the conversation below.\n", req.Spec.Name)
	if req.Spec.Description != "" {
		b.WriteString(req.Spec.Description)
		b.WriteString("\n")
	}
	b.WriteString("\nFields:\n")
	for _, f := range req.Spec.Fields {
		need := "optional"
		if f.Required {
			need = "required"
		}
		fmt.Fprintf(&b, "- %s (%s): %s\n", f.Name, need, f.Description)
	}
	b.WriteString("\nRules:\n")
	b.WriteString("- Amounts ending in Wei are integers in the smallest unit (1 MATIC = 1000000000000000000).\n")
	b.WriteString("- Addresses are 0x followed by 40 hex characters.\n")
	b.WriteString("- Never invent a value. If a required value is missing or ambiguous, return {\"error\": \"<what is missing>\"}.\n")

	recent := req.Recent
	if len(recent) > recentTurns {
		recent = recent[len(recent)-recentTurns:]
	}
	if len(recent) > 0 {
		b.WriteString("\nRecent conversation:\n")
		for _, turn := range recent {
			b.WriteString(strings.TrimSpace(turn))
			b.WriteString("\n")
		}
	}
	b.WriteString("\nLatest message:\n")
	b.WriteString(strings.TrimSpace(req.Text))
	b.WriteString("\n\n")
	if fenced {
		b.WriteString("Reply with the JSON object inside a ```json fenced block.")
	} else {
		b.WriteString("Reply with a single JSON object.")
	}
	return b.String()
}
