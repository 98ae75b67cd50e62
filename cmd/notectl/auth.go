package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jun/secondbrain/internal/login"
	"github.com/jun/secondbrain/internal/model"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with Google",
	Long: `Open the Google consent page in a browser and wait for the backend to
hand back a login code. The refresh cookie is kept for later commands.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the session",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	Args:  cobra.NoArgs,
	RunE:  runWhoami,
}

func runLogin(cmd *cobra.Command, _ []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.close()

	fmt.Fprintln(cmd.OutOrStdout(), "Opening the browser to sign in...")
	user, err := c.flow.Interactive(cmd.Context())
	if errors.Is(err, login.ErrOAuthCancelled) {
		return fmt.Errorf("login cancelled")
	}
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	printUser(cmd, user)
	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.close()

	c.flow.Logout(cmd.Context())
	fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
	return nil
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.close()

	user, err := c.flow.Restore(cmd.Context())
	if err != nil {
		return errNotSignedIn
	}
	printUser(cmd, user)
	return nil
}

var errNotSignedIn = errors.New("not signed in, run `notectl login`")

func printUser(cmd *cobra.Command, u *model.User) {
	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s <%s>\n", u.Name, u.Email)
}
