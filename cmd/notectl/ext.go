package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/jun/secondbrain/internal/config"
	"github.com/jun/secondbrain/internal/extension"
)

var (
	extWatch   bool
	extTimeout time.Duration
)

func init() {
	extCmd.Flags().BoolVar(&extWatch, "watch", false, "Stay registered and print broadcasts")
	extCmd.Flags().DurationVar(&extTimeout, "timeout", 5*time.Second, "Request timeout")
}

var extCmd = &cobra.Command{
	Use:   "ext <type> [url]",
	Short: "Send a message to the agent as a tab would",
	Long: `Send one message to the running agent and print its JSON answer.

Examples:
  notectl ext CHECK_AUTH
  notectl ext LOGIN http://localhost:8080/api/auth/login
  notectl ext OPEN_TAB https://example.com/notes/1
  notectl ext PING --watch`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runExt,
}

func runExt(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	msg := extension.Message{Type: extension.Kind(strings.ToUpper(args[0]))}
	if len(args) == 2 {
		msg.URL = args[1]
	}

	nc, err := nats.Connect(cfg.NATSURL, nats.Name("notectl-tab"))
	if err != nil {
		return fmt.Errorf("connect nats %s: %w", cfg.NATSURL, err)
	}
	defer nc.Close()

	out := cmd.OutOrStdout()
	ctx, cancel := context.WithTimeout(cmd.Context(), extTimeout)
	defer cancel()

	tab, err := extension.ConnectTab(ctx, nc, uuid.NewString(), func(m extension.Message) {
		fmt.Fprintf(out, "<- %s\n", m.Type)
	})
	if err != nil {
		return err
	}
	defer tab.Close()

	resp, err := tab.Send(ctx, msg)
	if err != nil {
		return err
	}
	data, _ := json.Marshal(resp)
	fmt.Fprintln(out, string(data))

	if extWatch {
		<-cmd.Context().Done()
	}
	return nil
}
