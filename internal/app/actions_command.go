package app

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/ggonzalez94/polygon-agent/internal/actions"
	"github.com/ggonzalez94/polygon-agent/internal/agent"
	clierr "github.com/ggonzalez94/polygon-agent/internal/errors"
	"github.com/ggonzalez94/polygon-agent/internal/logger"
	"github.com/ggonzalez94/polygon-agent/internal/model"
)

func (s *runtimeState) newActionsCommand() *cobra.Command {
	root := &cobra.Command{Use: "actions", Short: "Agent action commands"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List agent actions and whether current settings enable them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt := agent.New(s.settings, nil, nil)
			items := make([]model.ActionInfo, 0, len(rt.Actions()))
			for _, a := range rt.Actions() {
				items = append(items, model.ActionInfo{
					Name:        a.Name(),
					Similes:     a.Similes(),
					Description: a.Description(),
					Enabled:     a.Validate(rt),
				})
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items, nil, cacheMetaBypass(), nil)
		},
	}

	var text string
	run := &cobra.Command{
		Use:   "run <action>",
		Short: "Run an agent action against a natural-language request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(text) == "" {
				return clierr.New(clierr.CodeUsage, "--text is required")
			}
			if _, ok := actions.Find(actions.All(), args[0]); !ok {
				return clierr.New(clierr.CodeUsage, "unknown action: "+args[0])
			}
			if _, err := s.ensurePolygon(cmd.Context()); err != nil {
				return err
			}
			log := logger.Named("app")
			res, err := s.agent.Run(cmd.Context(), args[0], text, func(r actions.Result) {
				log.Debug("action callback", "actions", strings.Join(r.Actions, ","), "success", r.Success)
			})
			if err != nil {
				return err
			}
			if !res.Success {
				if cause := res.Err(); cause != nil {
					return cause
				}
				return clierr.New(clierr.CodeInternal, res.Error)
			}
			name := args[0]
			if len(res.Actions) > 0 {
				name = res.Actions[0]
			}
			payload := model.ActionRun{Action: name, Text: res.Text, Data: res.Data, Actions: res.Actions}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), payload, nil, cacheMetaBypass(), nil)
		},
	}
	run.Flags().StringVar(&text, "text", "", "Request text, e.g. \"delegate 10 POL to validator 5\"")

	root.AddCommand(list)
	root.AddCommand(run)
	return root
}
