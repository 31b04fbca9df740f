package actions

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ggonzalez94/polygon-agent/internal/config"
	clierr "github.com/ggonzalez94/polygon-agent/internal/errors"
	"github.com/ggonzalez94/polygon-agent/internal/extract"
	"github.com/ggonzalez94/polygon-agent/internal/service"
)

// HeimdallService is provided by the host under service.TypeHeimdall.
type HeimdallService interface {
	service.Service
	Vote(ctx context.Context, proposalID uint64, option string) (string, error)
	Transfer(ctx context.Context, recipient string, amount *big.Int, denom string) (string, error)
}

func heimdall(rt Runtime) (HeimdallService, error) {
	svc, ok := rt.GetService(service.TypeHeimdall)
	if !ok {
		return nil, clierr.Service("heimdall service is not registered", nil)
	}
	h, ok := svc.(HeimdallService)
	if !ok {
		return nil, clierr.Service(fmt.Sprintf("service %q does not support heimdall transactions", svc.Type()), nil)
	}
	return h, nil
}

func HeimdallVote() Action {
	return &action{
		name:        "HEIMDALL_VOTE",
		similes:     []string{"VOTE_HEIMDALL_PROPOSAL", "HEIMDALL_GOVERNANCE_VOTE"},
		description: "Votes on a Heimdall governance proposal.",
		requires:    []string{config.KeyHeimdallRPCURL},
		needsWallet: true,
		handle: func(ctx context.Context, rt Runtime, msg Message) (Result, error) {
			p, err := params(ctx, rt, extract.HeimdallVote, msg)
			if err != nil {
				return Result{}, err
			}
			h, err := heimdall(rt)
			if err != nil {
				return Result{}, err
			}
			hash, err := h.Vote(ctx, p.ProposalID, p.Option)
			if err != nil {
				return Result{}, err
			}
			return success(fmt.Sprintf("Voted %s on Heimdall proposal %d. Transaction: %s", p.Option, p.ProposalID, hash),
				map[string]any{"proposal_id": p.ProposalID, "option": p.Option, "tx_hash": hash})
		},
	}
}

func HeimdallTransfer() Action {
	return &action{
		name:        "HEIMDALL_TRANSFER",
		similes:     []string{"TRANSFER_HEIMDALL", "SEND_HEIMDALL_TOKENS"},
		description: "Transfers tokens to another address on Heimdall.",
		requires:    []string{config.KeyHeimdallRPCURL},
		needsWallet: true,
		handle: func(ctx context.Context, rt Runtime, msg Message) (Result, error) {
			p, err := params(ctx, rt, extract.HeimdallTransfer, msg)
			if err != nil {
				return Result{}, err
			}
			h, err := heimdall(rt)
			if err != nil {
				return Result{}, err
			}
			hash, err := h.Transfer(ctx, p.RecipientAddress, p.Amount, p.Denom)
			if err != nil {
				return Result{}, err
			}
			return success(fmt.Sprintf("Transferred %s %s to %s on Heimdall. Transaction: %s", p.Amount, p.Denom, p.RecipientAddress, hash),
				map[string]any{"recipient": p.RecipientAddress, "amount": p.Amount.String(), "denom": p.Denom, "tx_hash": hash})
		},
	}
}
