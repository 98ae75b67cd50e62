package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jun/secondbrain/internal/model"
	"github.com/jun/secondbrain/internal/offline"
)

var draftsResend bool

func init() {
	draftsCmd.Flags().BoolVar(&draftsResend, "resend", false, "Send every stored draft to the server and forget the ones that land")
}

var draftsCmd = &cobra.Command{
	Use:   "drafts",
	Short: "List drafts stuck on this device",
	Long: `List drafts whose autosave could not reach the server. They are kept on
disk until a later save succeeds. Opening one with "notectl edit <id>" picks
the device copy up again; --resend sends them all without opening them.`,
	Args: cobra.NoArgs,
	RunE: runDrafts,
}

func runDrafts(cmd *cobra.Command, _ []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.close()

	store, err := offline.NewStore(c.cfg.OfflineDir)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if !draftsResend {
		return listDrafts(store, out)
	}
	if _, err := c.flow.Restore(cmd.Context()); err != nil {
		return errNotSignedIn
	}
	return resendDrafts(cmd.Context(), store, c.api, out)
}

func listDrafts(store *offline.Store, out io.Writer) error {
	recs, err := store.List()
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(out, "No unsent drafts.")
		return nil
	}
	for _, r := range recs {
		fmt.Fprintf(out, "%s  %s  v%d  %q\n", r.DraftID, r.Time().Local().Format("2006-01-02 15:04:05"), r.Version, r.Title)
	}
	return nil
}

type draftSaver interface {
	SaveDraft(ctx context.Context, d model.DraftRequest) (*model.Draft, error)
}

// resendDrafts saves every stored record and deletes the ones the server
// accepted. It keeps going past failures and returns how many were left.
func resendDrafts(ctx context.Context, store *offline.Store, api draftSaver, out io.Writer) error {
	recs, err := store.List()
	if err != nil {
		return err
	}

	var failed int
	for _, r := range recs {
		saved, err := api.SaveDraft(ctx, model.DraftRequest{
			NoteID:  r.DraftID,
			Title:   r.Title,
			Content: r.Content,
			Version: r.Version,
		})
		if err != nil {
			failed++
			fmt.Fprintf(out, "%s  failed: %v\n", r.DraftID, err)
			continue
		}
		if err := store.Delete(r.DraftID); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s  sent (version %d)\n", r.DraftID, saved.Version)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d drafts could not be sent", failed, len(recs))
	}
	return nil
}
