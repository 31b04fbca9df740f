package policy

import (
	"fmt"
	"strings"

	clierr "github.com/ggonzalez94/polygon-agent/internal/errors"
)

// CheckCommandAllowed enforces the --enable-commands allowlist. An entry
// allows that command path and every subcommand below it, so "history"
// covers "history list" and "history show".
func CheckCommandAllowed(allowlist []string, commandPath string) error {
	if len(allowlist) == 0 {
		return nil
	}
	path := normalize(commandPath)
	for _, allowed := range allowlist {
		entry := normalize(allowed)
		if entry == "" {
			continue
		}
		if entry == path || strings.HasPrefix(path, entry+" ") {
			return nil
		}
	}
	return clierr.New(clierr.CodeBlocked, fmt.Sprintf("command %q blocked by --enable-commands policy", path))
}

func normalize(v string) string {
	return strings.Join(strings.Fields(strings.ToLower(v)), " ")
}
