package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jun/secondbrain/internal/apiclient"
	"github.com/jun/secondbrain/internal/autosave"
	"github.com/jun/secondbrain/internal/offline"
)

var editTitle string

func init() {
	editCmd.Flags().StringVar(&editTitle, "title", "", "Set the draft title before editing")
}

var editCmd = &cobra.Command{
	Use:   "edit [draft-id]",
	Short: "Edit a draft with autosave",
	Long: `Edit a draft line by line. Every line read from stdin is appended to
the content and autosaved. Lines starting with ':' are commands:

  :title <text>   replace the title
  :show           print the draft and its save state
  :w              save pending edits now
  :save           promote the draft to a note now
  :delete         delete the draft and quit
  :q              quit

Quitting, end of input and Ctrl-C all flush the draft with a beacon.
Without a draft id a new draft is started.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEdit,
}

func runEdit(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.close()
	ctx := cmd.Context()

	if _, err := c.flow.Restore(ctx); err != nil {
		return errNotSignedIn
	}

	draftID := uuid.NewString()
	if len(args) == 1 {
		draftID = args[0]
	}

	fallback, err := offline.NewStore(c.cfg.OfflineDir)
	if err != nil {
		return err
	}
	beacon := apiclient.NewBeacon(c.api, c.cfg.RequestTimeout)
	out := cmd.OutOrStdout()

	coord, err := autosave.New(c.api, c.api, beacon, fallback,
		autosave.WithLogger(c.log),
		autosave.WithPolicy(autosave.Policy{
			Debounce:      c.cfg.AutosaveDebounce,
			BatchSize:     c.cfg.AutosaveBatchSize,
			BatchInterval: c.cfg.AutosaveBatchInterval,
		}),
		autosave.WithPromotedHook(func(_, noteID string) {
			fmt.Fprintf(out, "[saved as note %s]\n", noteID)
		}),
	)
	if err != nil {
		return err
	}

	if err := coord.Open(ctx, draftID); err != nil {
		c.log.Warn("draft could not be loaded, starting empty", zap.String("draft_id", draftID), zap.Error(err))
	}
	if editTitle != "" {
		if err := coord.SetTitle(editTitle); err != nil {
			return err
		}
	}
	printSnapshot(out, coord.Snapshot())

	err = runEditor(ctx, cmd.InOrStdin(), out, coord)

	coord.Close()
	if !beacon.Drain(c.cfg.BeaconGrace) {
		c.log.Warn("exiting with an undelivered beacon", zap.String("draft_id", draftID))
	}
	return err
}

// editor is the part of autosave.Coordinator the edit loop drives.
type editor interface {
	SetTitle(title string) error
	SetContent(content string) error
	Flush(ctx context.Context) error
	Promote(ctx context.Context) (string, error)
	Delete(ctx context.Context) error
	Snapshot() autosave.Snapshot
}

// runEditor feeds lines from in to ed until :q, :delete, end of input or ctx
// is done.
func runEditor(ctx context.Context, in io.Reader, out io.Writer, ed editor) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case line, ok = <-lines:
			if !ok {
				return nil
			}
		}

		cmd, arg, _ := strings.Cut(line, " ")
		switch cmd {
		case ":q":
			return nil
		case ":title":
			if err := ed.SetTitle(arg); err != nil {
				return err
			}
		case ":show":
			printSnapshot(out, ed.Snapshot())
		case ":w":
			if err := ed.Flush(ctx); err != nil {
				fmt.Fprintf(out, "[write failed: %v]\n", err)
			} else {
				fmt.Fprintln(out, "[written]")
			}
		case ":save":
			noteID, err := ed.Promote(ctx)
			switch {
			case errors.Is(err, autosave.ErrPromotionSkipped):
				fmt.Fprintln(out, "[a note needs a title and content]")
			case err != nil:
				fmt.Fprintf(out, "[save failed: %v]\n", err)
			default:
				fmt.Fprintf(out, "[promoted to note %s]\n", noteID)
			}
		case ":delete":
			if err := ed.Delete(ctx); err != nil {
				return err
			}
			fmt.Fprintln(out, "[draft deleted]")
			return nil
		default:
			content := ed.Snapshot().Content + line + "\n"
			if err := ed.SetContent(content); err != nil {
				return err
			}
		}
	}
}

func printSnapshot(w io.Writer, s autosave.Snapshot) {
	fmt.Fprintf(w, "draft %s (version %d, %s, %d saves since last promotion)\n", s.DraftID, s.Version, s.State, s.ChangeCount)
	if s.Title != "" {
		fmt.Fprintf(w, "# %s\n", s.Title)
	}
	if s.Content != "" {
		fmt.Fprint(w, s.Content)
	}
}

var _ editor = (*autosave.Coordinator)(nil)
