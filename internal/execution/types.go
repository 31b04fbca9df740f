package execution

import "time"

type ActionStatus string

type StepStatus string

type StepType string

const (
	ActionStatusRunning   ActionStatus = "running"
	ActionStatusCompleted ActionStatus = "completed"
	ActionStatusFailed    ActionStatus = "failed"
)

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusSubmitted StepStatus = "submitted"
	StepStatusConfirmed StepStatus = "confirmed"
	StepStatusFailed    StepStatus = "failed"
)

const (
	StepTypeApprovalReset   StepType = "approval_reset"
	StepTypeApproval        StepType = "approval"
	StepTypeDelegate        StepType = "delegate"
	StepTypeUndelegate      StepType = "undelegate"
	StepTypeWithdrawRewards StepType = "withdraw_rewards"
	StepTypeBridgeDeposit   StepType = "bridge_deposit"
	StepTypePropose         StepType = "governance_propose"
	StepTypeVote            StepType = "governance_vote"
)

// Protocol names recorded in the action journal.
const (
	ProtocolDelegate        = "delegate"
	ProtocolUndelegate      = "undelegate"
	ProtocolWithdrawRewards = "withdraw_rewards"
	ProtocolRestakeRewards  = "restake_rewards"
	ProtocolBridgeDeposit   = "bridge_deposit"
	ProtocolPropose         = "governance_propose"
	ProtocolVote            = "governance_vote"
)

// ActionStep is one transaction of a protocol run.
type ActionStep struct {
	StepID   string     `json:"step_id"`
	Type     StepType   `json:"type"`
	Status   StepStatus `json:"status"`
	Chain    string     `json:"chain"`
	Target   string     `json:"target"`
	Method   string     `json:"method"`
	Value    string     `json:"value"`
	GasLimit uint64     `json:"gas_limit,omitempty"`
	TxHash   string     `json:"tx_hash,omitempty"`
	// Waited is true when the protocol blocked on this step's receipt.
	Waited bool   `json:"waited"`
	Error  string `json:"error,omitempty"`
}

// Action is the journal record of one protocol run.
type Action struct {
	ActionID    string            `json:"action_id"`
	Protocol    string            `json:"protocol"`
	Status      ActionStatus      `json:"status"`
	Chain       string            `json:"chain"`
	FromAddress string            `json:"from_address,omitempty"`
	Params      map[string]string `json:"params,omitempty"`
	CreatedAt   string            `json:"created_at"`
	UpdatedAt   string            `json:"updated_at"`
	Steps       []ActionStep      `json:"steps"`
	Error       string            `json:"error,omitempty"`
}

func NewAction(actionID, protocol, chain string) Action {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return Action{
		ActionID:  actionID,
		Protocol:  protocol,
		Status:    ActionStatusRunning,
		Chain:     chain,
		CreatedAt: now,
		UpdatedAt: now,
		Params:    map[string]string{},
		Steps:     []ActionStep{},
	}
}

func (a *Action) Touch() {
	a.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
}

// LastTxHash is the hash of the most recent submitted step.
func (a Action) LastTxHash() string {
	for i := len(a.Steps) - 1; i >= 0; i-- {
		if a.Steps[i].TxHash != "" {
			return a.Steps[i].TxHash
		}
	}
	return ""
}
