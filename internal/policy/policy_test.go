package policy

import "testing"

func TestCheckCommandAllowed(t *testing.T) {
	if err := CheckCommandAllowed(nil, "actions run"); err != nil {
		t.Fatalf("unexpected error with empty allowlist: %v", err)
	}
	if err := CheckCommandAllowed([]string{"validator info", " Actions   RUN "}, "actions run"); err != nil {
		t.Fatalf("expected command to be allowed: %v", err)
	}
	if err := CheckCommandAllowed([]string{"validator info"}, "actions run"); err == nil {
		t.Fatal("expected command to be blocked")
	}
}

func TestCheckCommandAllowedCoversSubcommands(t *testing.T) {
	if err := CheckCommandAllowed([]string{"history"}, "history show"); err != nil {
		t.Fatalf("expected parent entry to allow subcommand: %v", err)
	}
	if err := CheckCommandAllowed([]string{"history list"}, "history"); err == nil {
		t.Fatal("expected subcommand entry not to allow its parent")
	}
	if err := CheckCommandAllowed([]string{"action"}, "actions run"); err == nil {
		t.Fatal("expected prefix match to respect word boundaries")
	}
}
