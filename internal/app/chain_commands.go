package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ggonzalez94/polygon-agent/internal/config"
	clierr "github.com/ggonzalez94/polygon-agent/internal/errors"
	"github.com/ggonzalez94/polygon-agent/internal/model"
	"github.com/ggonzalez94/polygon-agent/internal/units"
	"github.com/ggonzalez94/polygon-agent/internal/wallet"
)

func (s *runtimeState) newChainsCommand() *cobra.Command {
	root := &cobra.Command{Use: "chains", Short: "Configured chains"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List the L1 and L2 chains for the selected network (no RPC calls)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := wallet.ConfigFromSettings(s.settings)
			if err != nil {
				return err
			}
			w, err := wallet.Configure(cfg, nil)
			if err != nil {
				return err
			}
			defer w.Close()
			items := make([]model.ChainInfo, 0, 2)
			for _, c := range w.Chains() {
				items = append(items, model.ChainInfo{
					Name:         c.Name,
					ChainID:      c.ChainID,
					Layer:        string(c.Layer),
					NativeSymbol: c.NativeCurrency.Symbol,
					ExplorerURL:  c.ExplorerURL,
					CustomRPC:    strings.TrimSpace(c.CustomRPCURL) != "",
				})
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items, nil, cacheMetaBypass(), nil)
		},
	}
	root.AddCommand(list)
	return root
}

func (s *runtimeState) newValidatorCommand() *cobra.Command {
	root := &cobra.Command{Use: "validator", Short: "Validator queries"}
	var validatorID uint64
	info := &cobra.Command{
		Use:   "info",
		Short: "Read a validator's stake, commission and share contract from StakeManager",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if validatorID == 0 {
				return clierr.New(clierr.CodeUsage, "--id must be a positive integer")
			}
			polygon, err := s.ensurePolygon(cmd.Context())
			if err != nil {
				return err
			}
			orch := polygon.Orchestrator()
			path := trimRootPath(cmd.CommandPath())
			key := cacheKey(path, map[string]any{"network": s.settings.Network, "validator_id": validatorID})
			return s.runCachedCommand(cmd.Context(), path, key, time.Minute, func(ctx context.Context) (any, []model.ProviderStatus, []string, error) {
				start := time.Now()
				v, err := orch.GetValidatorInfo(ctx, validatorID)
				status := providerStatus(orch.Wallet().L1(), start, err)
				if err != nil {
					return nil, status, nil, err
				}
				if v == nil {
					return nil, status, []string{fmt.Sprintf("validator %d was not found", validatorID)}, nil
				}
				return v, status, v.Warnings, nil
			})
		},
	}
	info.Flags().Uint64Var(&validatorID, "id", 0, "Validator id")
	_ = info.MarkFlagRequired("id")
	root.AddCommand(info)
	return root
}

func (s *runtimeState) newDelegatorCommand() *cobra.Command {
	root := &cobra.Command{Use: "delegator", Short: "Delegator queries for the configured wallet"}
	var validatorID uint64
	info := &cobra.Command{
		Use:   "info",
		Short: "Read the wallet's delegated stake and pending rewards with a validator",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if validatorID == 0 {
				return clierr.New(clierr.CodeUsage, "--validator-id must be a positive integer")
			}
			polygon, err := s.ensurePolygon(cmd.Context())
			if err != nil {
				return err
			}
			orch := polygon.Orchestrator()
			ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.Timeout)
			defer cancel()
			start := time.Now()
			d, err := orch.GetDelegatorInfo(ctx, validatorID)
			status := providerStatus(orch.Wallet().L1(), start, err)
			s.captureCommandDiagnostics(nil, status)
			if err != nil {
				return err
			}
			if d == nil {
				return clierr.Validation("validator %d was not found", validatorID)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), d, d.Warnings, cacheMetaBypass(), status)
		},
	}
	info.Flags().Uint64Var(&validatorID, "validator-id", 0, "Validator id")
	_ = info.MarkFlagRequired("validator-id")
	root.AddCommand(info)
	return root
}

func (s *runtimeState) newCheckpointCommand() *cobra.Command {
	root := &cobra.Command{Use: "checkpoint", Short: "L2 checkpoint queries"}

	last := &cobra.Command{
		Use:   "last",
		Short: "Last L2 block covered by a checkpoint on L1",
		RunE: func(cmd *cobra.Command, _ []string) error {
			polygon, err := s.ensurePolygon(cmd.Context())
			if err != nil {
				return err
			}
			orch := polygon.Orchestrator()
			path := trimRootPath(cmd.CommandPath())
			key := cacheKey(path, map[string]any{"network": s.settings.Network})
			return s.runCachedCommand(cmd.Context(), path, key, 30*time.Second, func(ctx context.Context) (any, []model.ProviderStatus, []string, error) {
				start := time.Now()
				block, err := orch.GetLastCheckpointedBlock(ctx)
				status := providerStatus(orch.Wallet().L1(), start, err)
				if err != nil {
					return nil, status, nil, err
				}
				return map[string]any{"last_checkpointed_block": block}, status, nil, nil
			})
		},
	}

	var block uint64
	status := &cobra.Command{
		Use:   "status",
		Short: "Check whether an L2 block is checkpointed on L1",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if block == 0 {
				return clierr.New(clierr.CodeUsage, "--block must be a positive integer")
			}
			polygon, err := s.ensurePolygon(cmd.Context())
			if err != nil {
				return err
			}
			orch := polygon.Orchestrator()
			ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.Timeout)
			defer cancel()
			start := time.Now()
			st, err := orch.IsBlockCheckpointed(ctx, block)
			providers := providerStatus(orch.Wallet().L1(), start, err)
			s.captureCommandDiagnostics(nil, providers)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), st, nil, cacheMetaBypass(), providers)
		},
	}
	status.Flags().Uint64Var(&block, "block", 0, "L2 block number")
	_ = status.MarkFlagRequired("block")

	root.AddCommand(last)
	root.AddCommand(status)
	return root
}

func (s *runtimeState) newGasCommand() *cobra.Command {
	root := &cobra.Command{Use: "gas", Short: "Fee data"}
	var chain string
	estimates := &cobra.Command{
		Use:   "estimates",
		Short: "Priority fee tiers from the gas oracle, or the node gas price as fallback",
		RunE: func(cmd *cobra.Command, _ []string) error {
			polygon, err := s.ensurePolygon(cmd.Context())
			if err != nil {
				return err
			}
			orch := polygon.Orchestrator()
			target := s.resolveChain(polygon.Wallet(), chain)
			ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.Timeout)
			defer cancel()
			start := time.Now()
			est, err := orch.GasEstimates(ctx, target)
			providers := providerStatus(target, start, err)
			s.captureCommandDiagnostics(nil, providers)
			if err != nil {
				return err
			}
			var warnings []string
			if est.IsFallback() {
				warnings = append(warnings, "gas oracle unavailable; reporting node gas price")
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), est, warnings, cacheMetaBypass(), providers)
		},
	}
	estimates.Flags().StringVar(&chain, "chain", "l1", "Chain: l1, l2 or a chain name")
	root.AddCommand(estimates)
	return root
}

func (s *runtimeState) newBalanceCommand() *cobra.Command {
	var chain, token, owner string
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Native or ERC20 balance of the wallet or --owner",
		RunE: func(cmd *cobra.Command, _ []string) error {
			polygon, err := s.ensurePolygon(cmd.Context())
			if err != nil {
				return err
			}
			orch := polygon.Orchestrator()
			target := s.resolveChain(polygon.Wallet(), chain)
			ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.Timeout)
			defer cancel()
			start := time.Now()
			var data any
			if strings.TrimSpace(token) == "" {
				data, err = orch.NativeBalance(ctx, target, owner)
			} else {
				data, err = orch.TokenBalance(ctx, target, token, owner)
			}
			providers := providerStatus(target, start, err)
			s.captureCommandDiagnostics(nil, providers)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, cacheMetaBypass(), providers)
		},
	}
	cmd.Flags().StringVar(&chain, "chain", "l1", "Chain: l1, l2 or a chain name")
	cmd.Flags().StringVar(&token, "token", "", "ERC20 token address (native balance when empty)")
	cmd.Flags().StringVar(&owner, "owner", "", "Address to read (defaults to the wallet)")
	return cmd
}

func (s *runtimeState) newGovernanceCommand() *cobra.Command {
	root := &cobra.Command{Use: "governance", Short: "L2 governor queries"}
	var proposalID string
	state := &cobra.Command{
		Use:   "state",
		Short: "Read a proposal's state from the governor at " + config.KeyGovernorAddress,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := units.ParsePositiveBigInt(proposalID)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "parse --proposal-id", err)
			}
			polygon, err := s.ensurePolygon(cmd.Context())
			if err != nil {
				return err
			}
			orch := polygon.Orchestrator()
			ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.Timeout)
			defer cancel()
			start := time.Now()
			st, err := orch.ProposalState(ctx, id)
			providers := providerStatus(orch.Wallet().L2(), start, err)
			s.captureCommandDiagnostics(nil, providers)
			if err != nil {
				return err
			}
			data := map[string]any{"proposal_id": id.String(), "state": st}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, cacheMetaBypass(), providers)
		},
	}
	state.Flags().StringVar(&proposalID, "proposal-id", "", "Governor proposal id")
	_ = state.MarkFlagRequired("proposal-id")
	root.AddCommand(state)
	return root
}

// resolveChain maps l1 and l2 to the configured chain names. Anything else
// is passed through to the wallet lookup.
func (s *runtimeState) resolveChain(w *wallet.Context, chain string) string {
	switch strings.ToLower(strings.TrimSpace(chain)) {
	case "", "l1":
		return w.L1()
	case "l2":
		return w.L2()
	}
	return strings.ToLower(strings.TrimSpace(chain))
}
