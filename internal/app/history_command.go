package app

import (
	"strings"

	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/polygon-agent/internal/errors"
	"github.com/ggonzalez94/polygon-agent/internal/execution"
)

func (s *runtimeState) newHistoryCommand() *cobra.Command {
	root := &cobra.Command{Use: "history", Short: "Journal of executed staking, bridge and governance actions"}

	var listStatus, listProtocol string
	var listLimit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded actions, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := s.ensureActionStore(); err != nil {
				return err
			}
			items, err := s.actionStore.List(execution.ListFilter{
				Status:   strings.ToLower(strings.TrimSpace(listStatus)),
				Protocol: strings.ToLower(strings.TrimSpace(listProtocol)),
				Limit:    listLimit,
			})
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list actions", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items, nil, cacheMetaBypass(), nil)
		},
	}
	list.Flags().StringVar(&listStatus, "status", "", "Filter by status (running|completed|failed)")
	list.Flags().StringVar(&listProtocol, "protocol", "", "Filter by protocol, e.g. delegate or bridge_deposit")
	list.Flags().IntVar(&listLimit, "limit", 20, "Maximum actions to return")

	var showActionID string
	show := &cobra.Command{
		Use:   "show",
		Short: "Show one recorded action with its steps",
		RunE: func(cmd *cobra.Command, _ []string) error {
			actionID := strings.TrimSpace(showActionID)
			if actionID == "" {
				return clierr.New(clierr.CodeUsage, "--action-id is required")
			}
			if err := s.ensureActionStore(); err != nil {
				return err
			}
			action, err := s.actionStore.Get(actionID)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load action", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), action, nil, cacheMetaBypass(), nil)
		},
	}
	show.Flags().StringVar(&showActionID, "action-id", "", "Action identifier")

	root.AddCommand(list)
	root.AddCommand(show)
	return root
}
