package actions

import (
	"context"
	"fmt"

	"github.com/ggonzalez94/polygon-agent/internal/execution"
	"github.com/ggonzalez94/polygon-agent/internal/extract"
)

var supportNames = map[uint8]string{
	execution.VoteAgainst: "against",
	execution.VoteFor:     "for",
	execution.VoteAbstain: "abstain",
}

func GovernancePropose() Action {
	return &action{
		name:        "GOVERNANCE_PROPOSE",
		similes:     []string{"CREATE_PROPOSAL", "SUBMIT_PROPOSAL", "PROPOSE_GOVERNANCE"},
		description: "Submits a proposal to the Polygon governor contract.",
		needsWallet: true,
		handle: func(ctx context.Context, rt Runtime, msg Message) (Result, error) {
			p, err := params(ctx, rt, extract.Propose, msg)
			if err != nil {
				return Result{}, err
			}
			orch, err := orchestrator(rt)
			if err != nil {
				return Result{}, err
			}
			res, err := orch.Propose(ctx, execution.ProposeRequest{
				Targets:     p.Targets,
				Values:      p.Values,
				Calldatas:   p.Calldatas,
				Description: p.Description,
			})
			if err != nil {
				return Result{}, err
			}
			text := fmt.Sprintf("Proposal with %d action(s) submitted to the governor. %s", len(p.Targets), txLine(res))
			return success(text, res)
		},
	}
}

func GovernanceVote() Action {
	return &action{
		name:        "GOVERNANCE_VOTE",
		similes:     []string{"CAST_VOTE", "VOTE_ON_PROPOSAL", "VOTE_GOVERNANCE"},
		description: "Casts a vote (for, against or abstain) on a Polygon governor proposal.",
		needsWallet: true,
		handle: func(ctx context.Context, rt Runtime, msg Message) (Result, error) {
			p, err := params(ctx, rt, extract.Vote, msg)
			if err != nil {
				return Result{}, err
			}
			orch, err := orchestrator(rt)
			if err != nil {
				return Result{}, err
			}
			res, err := orch.Vote(ctx, execution.VoteRequest{
				ProposalID: p.ProposalID,
				Support:    p.Support,
				Reason:     p.Reason,
			})
			if err != nil {
				return Result{}, err
			}
			text := fmt.Sprintf("Vote %s on proposal %s submitted. %s", supportNames[p.Support], p.ProposalID, txLine(res))
			return success(text, res)
		},
	}
}
