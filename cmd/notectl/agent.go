package main

import (
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jun/secondbrain/internal/extension"
	"github.com/jun/secondbrain/internal/login"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the background agent",
	Long: `Run the background agent. It holds the session, answers CHECK_AUTH,
LOGIN, LOGOUT, OPEN_TAB and PING requests from tabs over NATS and tells every
registered tab when the signed-in state changes.

Examples:
  # Start the agent against a local NATS server
  notectl agent

  # Ask it from another terminal
  notectl ext CHECK_AUTH`,
	Args: cobra.NoArgs,
	RunE: runAgent,
}

func runAgent(cmd *cobra.Command, _ []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.close()
	ctx := cmd.Context()

	if user, err := c.flow.Restore(ctx); err == nil {
		c.log.Info("session restored", zap.String("user_id", user.ID))
	} else if !errors.Is(err, login.ErrNoSession) {
		return err
	}

	nc, err := nats.Connect(c.cfg.NATSURL, nats.Name("notectl-agent"))
	if err != nil {
		return fmt.Errorf("connect nats %s: %w", c.cfg.NATSURL, err)
	}
	defer nc.Drain()

	bg := extension.NewBackground(c.api.Session(), c.flow, extension.WithBackgroundLogger(c.log))
	tr := extension.NewNATSTransport(nc, bg, c.hub, extension.WithTransportLogger(c.log))
	if err := tr.Start(ctx); err != nil {
		return err
	}
	defer tr.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "agent listening on %s\n", extension.RequestSubject)
	<-ctx.Done()
	c.log.Info("agent stopping", zap.Int("tabs", c.hub.Len()))
	return nil
}
