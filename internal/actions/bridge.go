package actions

import (
	"context"
	"fmt"

	"github.com/ggonzalez94/polygon-agent/internal/execution"
	"github.com/ggonzalez94/polygon-agent/internal/extract"
	"github.com/ggonzalez94/polygon-agent/internal/units"
)

func BridgeDeposit() Action {
	return &action{
		name:        "BRIDGE_DEPOSIT_POLYGON",
		similes:     []string{"DEPOSIT_TO_POLYGON", "BRIDGE_TO_POLYGON", "POS_BRIDGE_DEPOSIT"},
		description: "Deposits ETH or an ERC20 token from Ethereum into Polygon through the PoS bridge.",
		needsWallet: true,
		handle: func(ctx context.Context, rt Runtime, msg Message) (Result, error) {
			p, err := params(ctx, rt, extract.Bridge, msg)
			if err != nil {
				return Result{}, err
			}
			orch, err := orchestrator(rt)
			if err != nil {
				return Result{}, err
			}
			res, err := orch.BridgeDeposit(ctx, execution.BridgeRequest{
				TokenAddressL1: p.TokenAddressL1,
				Native:         p.Native(),
				AmountWei:      p.AmountWei,
				RecipientL2:    p.RecipientAddressL2,
			})
			if err != nil {
				return Result{}, err
			}
			asset := "ETH"
			if !p.Native() {
				asset = "token " + p.TokenAddressL1
			}
			recipient := p.RecipientAddressL2
			if recipient == "" {
				recipient = "your wallet"
			}
			text := fmt.Sprintf("Bridge deposit of %s %s to %s on Polygon submitted. Funds arrive after the next state sync. %s",
				units.FromBaseUnits(p.AmountWei, units.Decimals), asset, recipient, txLine(res))
			return success(text, res)
		},
	}
}
