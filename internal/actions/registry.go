package actions

import "strings"

// All returns every action in a stable order.
func All() []Action {
	return []Action{
		Delegate(),
		Undelegate(),
		WithdrawRewards(),
		RestakeRewards(),
		BridgeDeposit(),
		ValidatorInfo(),
		DelegatorInfo(),
		CheckpointStatus(),
		LastCheckpoint(),
		GasEstimates(),
		Balance(),
		GovernancePropose(),
		GovernanceVote(),
		HeimdallVote(),
		HeimdallTransfer(),
	}
}

// Find matches an action by name or simile, ignoring case and treating
// spaces and dashes as underscores.
func Find(list []Action, name string) (Action, bool) {
	key := canonical(name)
	for _, a := range list {
		if canonical(a.Name()) == key {
			return a, true
		}
	}
	for _, a := range list {
		for _, s := range a.Similes() {
			if canonical(s) == key {
				return a, true
			}
		}
	}
	return nil, false
}

func canonical(name string) string {
	name = strings.ToUpper(strings.TrimSpace(name))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(name)
}
