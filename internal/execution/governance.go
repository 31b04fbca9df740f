package execution

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	clierr "github.com/ggonzalez94/polygon-agent/internal/errors"
	"github.com/ggonzalez94/polygon-agent/internal/registry"
	"github.com/ggonzalez94/polygon-agent/internal/wallet"
)

// Vote support values of the OpenZeppelin Governor counting module.
const (
	VoteAgainst uint8 = 0
	VoteFor     uint8 = 1
	VoteAbstain uint8 = 2
)

var proposalStates = []string{"Pending", "Active", "Canceled", "Defeated", "Succeeded", "Queued", "Expired", "Executed"}

type ProposeRequest struct {
	Targets   []string
	Values    []*big.Int
	Calldatas []string
	// Description is hashed into the proposal id and must match at execution.
	Description string
}

type VoteRequest struct {
	ProposalID *big.Int
	Support    uint8
	Reason     string
}

// governor resolves the L2 governor from options, then from contract
// overrides of the L2 chain.
func (o *Orchestrator) governor() (common.Address, error) {
	raw := strings.TrimSpace(o.opts.GovernorAddress)
	if raw == "" {
		raw = strings.TrimSpace(o.opts.ContractOverrides[o.wallet.L2()][registry.ContractGovernor])
	}
	if raw == "" {
		return common.Address{}, clierr.New(clierr.CodeConfiguration, fmt.Sprintf("governor address is not configured for %s", o.wallet.L2()))
	}
	addr, err := parseAddress("governor", raw)
	if err != nil {
		return common.Address{}, clierr.Wrap(clierr.CodeConfiguration, "invalid configured governor address", err)
	}
	return addr, nil
}

func validateProposal(req ProposeRequest) ([]common.Address, []*big.Int, [][]byte, error) {
	n := len(req.Targets)
	if n == 0 {
		return nil, nil, nil, clierr.Validation("proposal needs at least one target")
	}
	if len(req.Values) != n || len(req.Calldatas) != n {
		return nil, nil, nil, clierr.Validation("targets, values and calldatas must have the same length (%d, %d, %d)", n, len(req.Values), len(req.Calldatas))
	}
	if strings.TrimSpace(req.Description) == "" {
		return nil, nil, nil, clierr.Validation("proposal description is required")
	}
	targets := make([]common.Address, n)
	values := make([]*big.Int, n)
	calldatas := make([][]byte, n)
	for i := 0; i < n; i++ {
		addr, err := parseAddress(fmt.Sprintf("target %d", i), req.Targets[i])
		if err != nil {
			return nil, nil, nil, err
		}
		targets[i] = addr
		values[i] = new(big.Int)
		if req.Values[i] != nil {
			if req.Values[i].Sign() < 0 {
				return nil, nil, nil, clierr.Validation("value %d must not be negative", i)
			}
			values[i].Set(req.Values[i])
		}
		raw := strings.TrimSpace(req.Calldatas[i])
		if raw == "" || raw == "0x" {
			calldatas[i] = []byte{}
			continue
		}
		if !strings.HasPrefix(raw, "0x") {
			raw = "0x" + raw
		}
		data, err := hexutil.Decode(raw)
		if err != nil {
			return nil, nil, nil, clierr.Validation("calldata %d is not valid hex: %v", i, err)
		}
		calldatas[i] = data
	}
	return targets, values, calldatas, nil
}

// Propose submits a governor proposal on L2 and returns after broadcast.
func (o *Orchestrator) Propose(ctx context.Context, req ProposeRequest) (TxResult, error) {
	targets, values, calldatas, err := validateProposal(req)
	if err != nil {
		return TxResult{}, err
	}
	governor, err := o.governor()
	if err != nil {
		return TxResult{}, err
	}
	ctx, r := o.begin(ctx, ProtocolPropose, o.wallet.L2(), map[string]string{
		"governor":    governor.Hex(),
		"targets":     strconv.Itoa(len(targets)),
		"description": req.Description,
	})
	res, err := func() (TxResult, error) {
		c, err := o.wallet.Client(ctx, o.wallet.L2(), wallet.RoleWrite)
		if err != nil {
			return TxResult{}, err
		}
		sent, err := o.send(ctx, r, c, txRequest{
			Step:   StepTypePropose,
			To:     governor,
			ABI:    &governorABI,
			Method: "propose",
			Args:   []any{targets, values, calldatas, req.Description},
		})
		if err != nil {
			return TxResult{}, err
		}
		return r.result(c, sent, nil), nil
	}()
	return res, r.finish(err)
}

// Vote casts a vote on L2, with a reason when one is given.
func (o *Orchestrator) Vote(ctx context.Context, req VoteRequest) (TxResult, error) {
	if req.ProposalID == nil || req.ProposalID.Sign() <= 0 {
		return TxResult{}, clierr.Validation("proposal id must be a positive integer")
	}
	if req.Support > VoteAbstain {
		return TxResult{}, clierr.Validation("support must be 0 (against), 1 (for) or 2 (abstain), got %d", req.Support)
	}
	governor, err := o.governor()
	if err != nil {
		return TxResult{}, err
	}
	params := map[string]string{
		"governor":    governor.Hex(),
		"proposal_id": req.ProposalID.String(),
		"support":     strconv.Itoa(int(req.Support)),
	}
	method := "castVote"
	args := []any{req.ProposalID, req.Support}
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		method = "castVoteWithReason"
		args = append(args, reason)
		params["reason"] = reason
	}
	ctx, r := o.begin(ctx, ProtocolVote, o.wallet.L2(), params)
	res, err := func() (TxResult, error) {
		c, err := o.wallet.Client(ctx, o.wallet.L2(), wallet.RoleWrite)
		if err != nil {
			return TxResult{}, err
		}
		sent, err := o.send(ctx, r, c, txRequest{
			Step:   StepTypeVote,
			To:     governor,
			ABI:    &governorABI,
			Method: method,
			Args:   args,
		})
		if err != nil {
			return TxResult{}, err
		}
		return r.result(c, sent, nil), nil
	}()
	return res, r.finish(err)
}

// ProposalState reads the governor state of a proposal by name.
func (o *Orchestrator) ProposalState(ctx context.Context, proposalID *big.Int) (string, error) {
	if proposalID == nil || proposalID.Sign() <= 0 {
		return "", clierr.Validation("proposal id must be a positive integer")
	}
	governor, err := o.governor()
	if err != nil {
		return "", err
	}
	c, err := o.wallet.Client(ctx, o.wallet.L2(), wallet.RoleRead)
	if err != nil {
		return "", err
	}
	state, err := callBig(ctx, c, governor, governorABI, "state", proposalID)
	if err != nil {
		return "", err
	}
	if !state.IsInt64() || state.Int64() >= int64(len(proposalStates)) {
		return "", clierr.Contract(governor.Hex(), "state", fmt.Sprintf("unknown proposal state %s", state), nil)
	}
	return proposalStates[state.Int64()], nil
}
