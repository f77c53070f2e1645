package intake

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultDraftTTL = 30 * time.Minute

// PipelineFactory builds the pipeline of a new draft, wiring the draft's change callback.
type PipelineFactory func(onChange ChangeFunc) *Pipeline

// Draft is one open review form. It owns a pipeline and keeps the last ordered set the
// pipeline reported, which is what the form submits.
type Draft struct {
	ID       string
	pipeline *Pipeline

	mu       sync.RWMutex
	images   []ImageFile
	lastUsed time.Time
}

// Pipeline returns the draft's intake pipeline
func (d *Draft) Pipeline() *Pipeline {
	return d.pipeline
}

// Images returns the ordered set the draft received with the latest change notification
func (d *Draft) Images() []ImageFile {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.images)
}

func (d *Draft) setImages(images []ImageFile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.images = images
}

func (d *Draft) touch(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastUsed = now
}

func (d *Draft) idleSince() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastUsed
}

// Drafts tracks the open drafts and tears down the ones left idle past the TTL.
type Drafts struct {
	factory PipelineFactory
	ttl     time.Duration
	now     func() time.Time

	mu     sync.Mutex
	drafts map[string]*Draft
}

func NewDrafts(factory PipelineFactory, ttl time.Duration) *Drafts {
	if ttl <= 0 {
		ttl = DefaultDraftTTL
	}
	return &Drafts{
		factory: factory,
		ttl:     ttl,
		now:     time.Now,
		drafts:  make(map[string]*Draft),
	}
}

// Create opens a new draft
func (d *Drafts) Create() *Draft {
	draft := &Draft{ID: uuid.NewString(), lastUsed: d.now()}
	draft.pipeline = d.factory(draft.setImages)

	d.mu.Lock()
	d.drafts[draft.ID] = draft
	d.mu.Unlock()

	slog.Debug("draft created", "draft_id", draft.ID)
	return draft
}

// Get returns an open draft and marks it as used
func (d *Drafts) Get(id string) (*Draft, bool) {
	d.mu.Lock()
	draft, ok := d.drafts[id]
	d.mu.Unlock()
	if !ok {
		return nil, false
	}
	draft.touch(d.now())
	return draft, true
}

// Discard closes the draft's pipeline, releasing its previews. Unknown ids report false.
func (d *Drafts) Discard(id string) (bool, error) {
	d.mu.Lock()
	draft, ok := d.drafts[id]
	delete(d.drafts, id)
	d.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, draft.pipeline.Close()
}

// Len returns the number of open drafts
func (d *Drafts) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.drafts)
}

// Sweep discards every draft idle for longer than the TTL and returns how many were removed
func (d *Drafts) Sweep() int {
	cutoff := d.now().Add(-d.ttl)

	d.mu.Lock()
	var expired []*Draft
	for id, draft := range d.drafts {
		if draft.idleSince().Before(cutoff) {
			expired = append(expired, draft)
			delete(d.drafts, id)
		}
	}
	d.mu.Unlock()

	for _, draft := range expired {
		if err := draft.pipeline.Close(); err != nil {
			slog.Error("failed to close expired draft", "draft_id", draft.ID, "error", err)
		}
	}
	if len(expired) > 0 {
		slog.Info("expired drafts discarded", "count", len(expired))
	}
	return len(expired)
}

// Run sweeps expired drafts every interval until ctx is done, then closes all remaining drafts.
func (d *Drafts) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := d.Close(); err != nil {
				slog.Error("failed to close drafts on shutdown", "error", err)
			}
			return
		case <-ticker.C:
			d.Sweep()
		}
	}
}

// Close discards every open draft
func (d *Drafts) Close() error {
	d.mu.Lock()
	drafts := d.drafts
	d.drafts = make(map[string]*Draft)
	d.mu.Unlock()

	var errs []error
	for _, draft := range drafts {
		if err := draft.pipeline.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
