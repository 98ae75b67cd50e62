// Package main implements notectl, the secondbrain client: sign in, edit
// drafts with autosave, and run the background agent tabs talk to.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jun/secondbrain/internal/apiclient"
	"github.com/jun/secondbrain/internal/config"
	"github.com/jun/secondbrain/internal/extension"
	"github.com/jun/secondbrain/internal/logging"
	"github.com/jun/secondbrain/internal/login"
	"github.com/jun/secondbrain/internal/session"
)

var (
	// configPath is the YAML config file
	configPath string
	// version information
	version = "dev"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "notectl",
	Short: "secondbrain client",
	Long: `notectl signs in to the secondbrain backend, edits note drafts with
autosave and runs the background agent that browser tabs talk to.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("SECONDBRAIN_CONFIG"), "config file")
	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd, editCmd, draftsCmd, agentCmd, extCmd)
}

// client is what every subcommand works with.
type client struct {
	cfg  *config.Config
	log  *zap.Logger
	api  *apiclient.Client
	flow *login.Flow
	hub  *extension.Hub
}

func newClient() (*client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	hub := extension.NewHub(log)
	api, err := apiclient.New(cfg.APIBaseURL, session.NewStore(),
		apiclient.WithTimeout(cfg.RequestTimeout),
		apiclient.WithLogger(log),
		apiclient.WithCookieFile(cfg.CookieFile),
		apiclient.WithAuthChangedHook(hub.NotifyAuthChanged),
		apiclient.WithSessionLostHook(func() {
			fmt.Fprintln(os.Stderr, "session expired, run `notectl login`")
		}),
	)
	if err != nil {
		return nil, err
	}

	return &client{
		cfg:  cfg,
		log:  log,
		api:  api,
		flow: login.NewFlow(api, login.WithLogger(log), login.WithAuthChanged(hub.NotifyAuthChanged)),
		hub:  hub,
	}, nil
}

func (c *client) close() {
	c.log.Sync()
}
