// Package autosave keeps an open draft safe while it is being edited. Edits
// are debounced into the fast store, promoted to the durable store in
// batches, and handed to a beacon when the editor goes away.
package autosave

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jun/secondbrain/internal/apiclient"
	"github.com/jun/secondbrain/internal/metrics"
	"github.com/jun/secondbrain/internal/model"
	"github.com/jun/secondbrain/internal/offline"
)

var (
	// ErrSaveFailed wraps a fast-store write failure. The draft has been
	// written to the fallback store instead.
	ErrSaveFailed = errors.New("draft save failed")
	// ErrPromotionSkipped is returned when the title or content is blank.
	ErrPromotionSkipped = errors.New("promotion skipped: title and content required")
	// ErrClosed is returned once the coordinator has been closed.
	ErrClosed = errors.New("autosave coordinator closed")
	// ErrNoDraft is returned when no draft is open.
	ErrNoDraft = errors.New("no draft open")
)

const ioTimeout = 10 * time.Second

// FastStore is the low-latency draft tier.
type FastStore interface {
	SaveDraft(ctx context.Context, d model.DraftRequest) (*model.Draft, error)
	GetDraft(ctx context.Context, id string) (*model.Draft, error)
	DeleteDraft(ctx context.Context, id string) error
}

// DurableStore promotes the fast-store copy of a draft to a permanent note.
type DurableStore interface {
	SaveToDatabase(ctx context.Context, id string) (noteID string, err error)
}

// Beacon delivers a teardown flush without waiting for the outcome.
type Beacon interface {
	Send(draftID, title, content string)
}

// Fallback keeps unsent drafts on the device.
type Fallback interface {
	Put(rec offline.Record) error
	Get(id string) (offline.Record, error)
	Delete(id string) error
}

// State of the open draft.
type State int

const (
	Idle State = iota
	PendingFastSave
	PromotingToDurable
	TeardownFlush
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PendingFastSave:
		return "pending_fast_save"
	case PromotingToDurable:
		return "promoting_to_durable"
	case TeardownFlush:
		return "teardown_flush"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Snapshot is a copy of the coordinator's view of the open draft.
type Snapshot struct {
	DraftID      string
	Title        string
	Content      string
	Version      int64
	LastModified time.Time
	ChangeCount  int
	State        State
}

// Coordinator owns the buffer of one open draft at a time.
type Coordinator struct {
	fast       FastStore
	durable    DurableStore
	beacon     Beacon
	fallback   Fallback
	clock      Clock
	policy     Policy
	log        *zap.Logger
	onPromoted func(draftID, noteID string)

	// saveMu orders fast-store writes and promotions.
	saveMu sync.Mutex

	mu              sync.Mutex
	state           State
	draftID         string
	title           string
	content         string
	version         int64
	lastModified    time.Time
	changeCount     int
	lastDurableSave time.Time
	dirty           bool
	// gen changes whenever the open draft changes; results of I/O started
	// under an older gen are dropped.
	gen   uint64
	seq   uint64
	timer Timer
}

type Option func(*Coordinator)

func WithPolicy(p Policy) Option {
	return func(c *Coordinator) { c.policy = p }
}

func WithClock(clk Clock) Option {
	return func(c *Coordinator) { c.clock = clk }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// WithPromotedHook runs fn after every successful promotion.
func WithPromotedHook(fn func(draftID, noteID string)) Option {
	return func(c *Coordinator) { c.onPromoted = fn }
}

func New(fast FastStore, durable DurableStore, beacon Beacon, fallback Fallback, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		fast:     fast,
		durable:  durable,
		beacon:   beacon,
		fallback: fallback,
		clock:    realClock{},
		policy:   DefaultPolicy(),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.policy.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Open makes draftID the active draft. Unflushed edits of the previous draft
// are discarded and its pending save cancelled before anything is loaded.
// A load error leaves an empty buffer open for draftID.
func (c *Coordinator) Open(ctx context.Context, draftID string) error {
	if draftID == "" {
		return ErrNoDraft
	}

	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.stopTimerLocked()
	c.gen++
	gen := c.gen
	c.draftID = draftID
	c.title, c.content = "", ""
	c.version = 1
	c.lastModified = time.Time{}
	c.changeCount = 0
	c.lastDurableSave = c.clock.Now()
	c.dirty = false
	c.state = Idle
	c.mu.Unlock()

	loaded, err := c.load(ctx, draftID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.dirty || loaded == nil {
		return err
	}
	c.title, c.content = loaded.Title, loaded.Content
	c.version = loaded.Version
	c.lastModified = loaded.LastModified
	return err
}

// load returns the freshest known copy of the draft. A device record only
// exists while its edits are unsent, so it wins unless the fast store has
// since moved past the version those edits were based on.
func (c *Coordinator) load(ctx context.Context, draftID string) (*model.Draft, error) {
	ctx, cancel := context.WithTimeout(ctx, ioTimeout)
	defer cancel()

	remote, fastErr := c.fast.GetDraft(ctx, draftID)
	if fastErr != nil && !errors.Is(fastErr, apiclient.ErrNotFound) {
		c.log.Warn("load draft from fast store failed", zap.String("draft_id", draftID), zap.Error(fastErr))
	}

	var local *model.Draft
	if rec, err := c.fallback.Get(draftID); err == nil {
		local = &model.Draft{
			NoteID:       rec.DraftID,
			Title:        rec.Title,
			Content:      rec.Content,
			Version:      rec.Version,
			LastModified: rec.Time(),
		}
	} else if !errors.Is(err, offline.ErrNotFound) {
		c.log.Warn("load draft from fallback failed", zap.String("draft_id", draftID), zap.Error(err))
	}

	switch {
	case local != nil && (remote == nil || local.Version >= remote.Version):
		c.log.Info("recovered unsent draft from device", zap.String("draft_id", draftID))
		return local, nil
	case remote != nil:
		if local != nil {
			c.log.Warn("device draft is behind the fast store, dropping it",
				zap.String("draft_id", draftID), zap.Int64("device_version", local.Version), zap.Int64("version", remote.Version))
		}
		return remote, nil
	case fastErr != nil && !errors.Is(fastErr, apiclient.ErrNotFound):
		return nil, fmt.Errorf("load draft %s: %w", draftID, fastErr)
	default:
		return nil, nil
	}
}

// SetTitle replaces the title and re-arms the debounce.
func (c *Coordinator) SetTitle(title string) error {
	return c.edit(func() { c.title = title })
}

// SetContent replaces the content and re-arms the debounce.
func (c *Coordinator) SetContent(content string) error {
	return c.edit(func() { c.content = content })
}

func (c *Coordinator) edit(apply func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed || c.state == TeardownFlush {
		return ErrClosed
	}
	if c.draftID == "" {
		return ErrNoDraft
	}
	apply()
	c.dirty = true
	c.armLocked()
	return nil
}

func (c *Coordinator) armLocked() {
	c.stopTimerLocked()
	c.seq++
	gen, seq := c.gen, c.seq
	c.timer = c.clock.AfterFunc(c.policy.Debounce, func() { c.fire(gen, seq) })
	c.state = PendingFastSave
}

func (c *Coordinator) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.seq++
}

// fire runs when the debounce expires. Superseded timers do nothing.
func (c *Coordinator) fire(gen, seq uint64) {
	c.mu.Lock()
	if gen != c.gen || seq != c.seq || c.state == Closed {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
	defer cancel()
	if err := c.save(ctx, gen, true); err != nil && !errors.Is(err, ErrSaveFailed) {
		c.log.Warn("autosave failed", zap.Error(err))
	}
}

// Flush writes pending edits to the fast store now instead of waiting for
// the debounce. Promotion follows if a batch is due.
func (c *Coordinator) Flush(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.draftID == "" {
		c.mu.Unlock()
		return ErrNoDraft
	}
	c.stopTimerLocked()
	gen := c.gen
	c.mu.Unlock()

	return c.save(ctx, gen, true)
}

// save writes the current buffer to the fast store. The buffer is read
// after saveMu is held so a queued save never sends an older snapshot.
func (c *Coordinator) save(ctx context.Context, gen uint64, mayPromote bool) error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return nil
	}
	req := model.DraftRequest{NoteID: c.draftID, Title: c.title, Content: c.content, Version: c.version}
	if isBlank(req.Title) && isBlank(req.Content) {
		c.settleLocked()
		c.mu.Unlock()
		return nil
	}
	c.dirty = false
	c.mu.Unlock()

	saved, err := c.fast.SaveDraft(ctx, req)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		c.dirty = true
		c.settleLocked()
		c.mu.Unlock()

		c.log.Warn("fast-store save failed, keeping draft on device", zap.String("draft_id", req.NoteID), zap.Error(err))
		if ferr := c.fallback.Put(offline.NewRecord(req.NoteID, req.Title, req.Content, req.Version, c.clock.Now())); ferr != nil {
			c.log.Error("fallback save failed", zap.String("draft_id", req.NoteID), zap.Error(ferr))
		}
		return fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}

	c.version = saved.Version
	c.lastModified = saved.LastModified
	c.changeCount++
	due := mayPromote && c.policy.due(c.changeCount, c.clock.Now().Sub(c.lastDurableSave))
	if !due {
		c.settleLocked()
	}
	c.mu.Unlock()

	if err := c.fallback.Delete(req.NoteID); err != nil {
		c.log.Warn("clear fallback draft failed", zap.String("draft_id", req.NoteID), zap.Error(err))
	}

	if !due {
		return nil
	}
	if _, err := c.promoteLocked(ctx, gen, "batch"); err != nil && !errors.Is(err, ErrPromotionSkipped) {
		return err
	}
	return nil
}

// Promote flushes pending edits and moves the draft to the durable store.
func (c *Coordinator) Promote(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	if c.draftID == "" {
		c.mu.Unlock()
		return "", ErrNoDraft
	}
	pending := c.dirty
	c.stopTimerLocked()
	gen := c.gen
	c.mu.Unlock()

	if pending {
		if err := c.save(ctx, gen, false); err != nil {
			return "", err
		}
	}

	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	return c.promoteLocked(ctx, gen, "manual")
}

// promoteLocked runs with saveMu held.
func (c *Coordinator) promoteLocked(ctx context.Context, gen uint64, source string) (string, error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return "", nil
	}
	draftID, title, content := c.draftID, c.title, c.content
	if isBlank(title) || isBlank(content) {
		c.settleLocked()
		c.mu.Unlock()
		metrics.Promotions.WithLabelValues(source, "skipped").Inc()
		return "", ErrPromotionSkipped
	}
	c.state = PromotingToDurable
	c.mu.Unlock()

	noteID, err := c.durable.SaveToDatabase(ctx, draftID)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return "", nil
	}
	if err != nil {
		c.settleLocked()
		c.mu.Unlock()
		metrics.Promotions.WithLabelValues(source, "error").Inc()
		c.log.Warn("promotion failed", zap.String("draft_id", draftID), zap.Error(err))
		return "", fmt.Errorf("promote draft %s: %w", draftID, err)
	}
	c.changeCount = 0
	c.lastDurableSave = c.clock.Now()
	c.settleLocked()
	c.mu.Unlock()

	metrics.Promotions.WithLabelValues(source, "success").Inc()
	c.log.Info("draft promoted", zap.String("draft_id", draftID), zap.String("note_id", noteID), zap.String("source", source))

	if err := c.fast.DeleteDraft(ctx, draftID); err != nil && !errors.Is(err, apiclient.ErrNotFound) {
		c.log.Warn("delete promoted draft failed", zap.String("draft_id", draftID), zap.Error(err))
	}
	if err := c.fallback.Delete(draftID); err != nil {
		c.log.Warn("clear fallback draft failed", zap.String("draft_id", draftID), zap.Error(err))
	}
	if c.onPromoted != nil {
		c.onPromoted(draftID, noteID)
	}
	return noteID, nil
}

// settleLocked returns to Idle unless another debounce is already armed.
func (c *Coordinator) settleLocked() {
	if c.state == Closed || c.state == TeardownFlush {
		return
	}
	if c.timer != nil {
		c.state = PendingFastSave
	} else {
		c.state = Idle
	}
}

// Delete removes the open draft from the fast store and the device and
// leaves an empty buffer.
func (c *Coordinator) Delete(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return ErrClosed
	}
	draftID := c.draftID
	if draftID == "" {
		c.mu.Unlock()
		return ErrNoDraft
	}
	c.stopTimerLocked()
	c.gen++
	c.title, c.content = "", ""
	c.version = 1
	c.changeCount = 0
	c.dirty = false
	c.state = Idle
	c.mu.Unlock()

	if err := c.fallback.Delete(draftID); err != nil {
		c.log.Warn("clear fallback draft failed", zap.String("draft_id", draftID), zap.Error(err))
	}
	if err := c.fast.DeleteDraft(ctx, draftID); err != nil && !errors.Is(err, apiclient.ErrNotFound) {
		return fmt.Errorf("delete draft %s: %w", draftID, err)
	}
	return nil
}

// Close is the teardown flush. The latest buffer goes to the beacon without
// waiting and the coordinator refuses further use.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return
	}
	c.stopTimerLocked()
	c.gen++
	c.state = TeardownFlush
	draftID, title, content := c.draftID, c.title, c.content
	c.mu.Unlock()

	if draftID != "" && !isBlank(title) && !isBlank(content) {
		c.beacon.Send(draftID, title, content)
	}

	c.mu.Lock()
	c.state = Closed
	c.mu.Unlock()
}

// Snapshot returns a copy of the open draft's state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		DraftID:      c.draftID,
		Title:        c.title,
		Content:      c.content,
		Version:      c.version,
		LastModified: c.lastModified,
		ChangeCount:  c.changeCount,
		State:        c.state,
	}
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
