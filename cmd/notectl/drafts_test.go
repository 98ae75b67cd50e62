package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jun/secondbrain/internal/model"
	"github.com/jun/secondbrain/internal/offline"
)

type fakeSaver struct {
	reqs []model.DraftRequest
	fail map[string]error
}

func (s *fakeSaver) SaveDraft(_ context.Context, d model.DraftRequest) (*model.Draft, error) {
	s.reqs = append(s.reqs, d)
	if err := s.fail[d.NoteID]; err != nil {
		return nil, err
	}
	return &model.Draft{NoteID: d.NoteID, Title: d.Title, Content: d.Content, Version: d.Version + 1}, nil
}

func newDraftStore(t *testing.T, recs ...offline.Record) *offline.Store {
	t.Helper()
	store, err := offline.NewStore(t.TempDir())
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, store.Put(r))
	}
	return store
}

func TestListDrafts(t *testing.T) {
	now := time.Now()
	store := newDraftStore(t,
		offline.NewRecord("older", "Shopping", "milk", 2, now.Add(-time.Hour)),
		offline.NewRecord("newer", "Ideas", "more", 5, now),
	)
	var out bytes.Buffer

	require.NoError(t, listDrafts(store, &out))

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), "newer")
	assert.Contains(t, string(lines[0]), `v5  "Ideas"`)
	assert.Contains(t, string(lines[1]), "older")
}

func TestListDrafts_Empty(t *testing.T) {
	var out bytes.Buffer

	require.NoError(t, listDrafts(newDraftStore(t), &out))

	assert.Equal(t, "No unsent drafts.\n", out.String())
}

func TestResendDrafts(t *testing.T) {
	now := time.Now()
	store := newDraftStore(t,
		offline.NewRecord("ok", "T", "sent content", 3, now),
		offline.NewRecord("stuck", "T", "still offline", 1, now.Add(-time.Minute)),
	)
	api := &fakeSaver{fail: map[string]error{"stuck": errors.New("redis down")}}
	var out bytes.Buffer

	err := resendDrafts(context.Background(), store, api, &out)

	require.EqualError(t, err, "1 of 2 drafts could not be sent")
	require.Len(t, api.reqs, 2)
	assert.Equal(t, model.DraftRequest{NoteID: "ok", Title: "T", Content: "sent content", Version: 3}, api.reqs[0])
	assert.Contains(t, out.String(), "ok  sent (version 4)")
	assert.Contains(t, out.String(), "stuck  failed: redis down")

	_, err = store.Get("ok")
	assert.ErrorIs(t, err, offline.ErrNotFound)
	rec, err := store.Get("stuck")
	require.NoError(t, err)
	assert.Equal(t, "still offline", rec.Content)
}

func TestResendDrafts_NothingStored(t *testing.T) {
	api := &fakeSaver{}

	require.NoError(t, resendDrafts(context.Background(), newDraftStore(t), api, &bytes.Buffer{}))

	assert.Empty(t, api.reqs)
}
