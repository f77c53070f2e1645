package intake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	_ "image/jpeg"
	_ "image/png"
)

const (
	DefaultMaxImages     = 3
	DefaultDecodeTimeout = 10 * time.Second
	DefaultContentType   = "image/jpeg"
)

// Processor turns an uploaded file into the encoded payload held by the pipeline.
// commandstructure.CommandInvoker and every image command satisfy it.
type Processor interface {
	Execute(imageData []byte) ([]byte, error)
}

// ChangeFunc receives the complete ordered set after every successful add or remove.
type ChangeFunc func(images []ImageFile)

// Options configures a Pipeline. Zero values fall back to the defaults.
type Options struct {
	MaxImages     int
	DecodeTimeout time.Duration
	// Concurrency bounds the number of files processed at once within one batch; 0 means unbounded
	Concurrency int
	ContentType string
	Previews    *PreviewRegistry
	OnChange    ChangeFunc
}

// Pipeline holds the ordered image set of one form. It is safe for concurrent use;
// concurrent batches reserve capacity up front so the limit holds while they are in flight.
type Pipeline struct {
	processor     Processor
	maxImages     int
	decodeTimeout time.Duration
	concurrency   int
	contentType   string
	previews      *PreviewRegistry
	onChange      ChangeFunc
	newID         func() string

	mu       sync.Mutex
	notifyMu sync.Mutex
	images   []ImageFile
	handles  []Preview
	pending  int
	closed   bool
}

// NewPipeline creates an empty pipeline. Without a PreviewRegistry in the options the
// pipeline keeps a private one.
func NewPipeline(processor Processor, opts Options) *Pipeline {
	if opts.MaxImages <= 0 {
		opts.MaxImages = DefaultMaxImages
	}
	if opts.DecodeTimeout <= 0 {
		opts.DecodeTimeout = DefaultDecodeTimeout
	}
	if opts.ContentType == "" {
		opts.ContentType = DefaultContentType
	}
	if opts.Previews == nil {
		opts.Previews = NewPreviewRegistry("")
	}
	return &Pipeline{
		processor:     processor,
		maxImages:     opts.MaxImages,
		decodeTimeout: opts.DecodeTimeout,
		concurrency:   opts.Concurrency,
		contentType:   opts.ContentType,
		previews:      opts.Previews,
		onChange:      opts.OnChange,
		newID:         uuid.NewString,
	}
}

// MaxImages returns the configured maximum set size
func (p *Pipeline) MaxImages() int {
	return p.maxImages
}

// Images returns a copy of the current ordered set
func (p *Pipeline) Images() []ImageFile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.images)
}

// Previews returns the preview handles, index-aligned with Images
func (p *Pipeline) Previews() []Preview {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.handles)
}

// Snapshot is a consistent view of a pipeline taken under a single lock
type Snapshot struct {
	Images    []ImageFile
	Previews  []Preview
	Remaining int
}

// Snapshot returns the ordered set, its preview handles and the remaining capacity together
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		Images:    slices.Clone(p.images),
		Previews:  slices.Clone(p.handles),
		Remaining: p.maxImages - len(p.images) - p.pending,
	}
}

// Remaining returns how many more images fit, taking in-flight batches into account
func (p *Pipeline) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxImages - len(p.images) - p.pending
}

// AddBatch processes all files concurrently and appends the results in submission order.
// A batch that does not fit is rejected whole with a *LimitError. Files that fail to
// process are reported in a *BatchError while the rest of the batch is still committed.
// The returned slice is the complete ordered set after the commit.
func (p *Pipeline) AddBatch(ctx context.Context, files []RawFile) ([]ImageFile, error) {
	if len(files) == 0 {
		return p.Images(), nil
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if len(p.images)+p.pending+len(files) > p.maxImages {
		err := &LimitError{Current: len(p.images), Pending: p.pending, Requested: len(files), Max: p.maxImages}
		p.mu.Unlock()
		return nil, err
	}
	p.pending += len(files)
	p.mu.Unlock()

	results, failures := p.processBatch(ctx, files)
	batchErr := newBatchError(failures)

	p.mu.Lock()
	p.pending -= len(files)
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if len(results) == 0 {
		snapshot := slices.Clone(p.images)
		p.mu.Unlock()
		return snapshot, batchErr
	}

	handles := slices.Clone(p.handles)
	for i, img := range results {
		preview, err := p.previews.Acquire(img.ID, img.Data, img.ContentType)
		if err != nil {
			for _, acquired := range results[:i] {
				_ = p.previews.Release(acquired.ID)
			}
			p.mu.Unlock()
			return nil, fmt.Errorf("failed to acquire preview: %w", err)
		}
		handles = append(handles, preview)
	}
	p.images = reindex(append(slices.Clone(p.images), results...))
	p.handles = handles
	snapshot := slices.Clone(p.images)

	p.notifyMu.Lock()
	p.mu.Unlock()
	p.notify(snapshot)
	p.notifyMu.Unlock()

	slog.Debug("intake batch committed",
		"added", len(results),
		"failed", len(failures),
		"count", len(snapshot))

	return snapshot, batchErr
}

// Remove drops the image with the given id and releases its preview. It reports
// whether an image was removed; unknown ids are a no-op.
func (p *Pipeline) Remove(id string) (bool, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false, ErrClosed
	}
	idx := slices.IndexFunc(p.images, func(img ImageFile) bool { return img.ID == id })
	if idx < 0 {
		p.mu.Unlock()
		return false, nil
	}

	if err := p.previews.Release(id); err != nil {
		slog.Error("intake: preview handle missing on removal", "image_id", id, "error", err)
	}
	p.images = reindex(slices.Delete(slices.Clone(p.images), idx, idx+1))
	p.handles = slices.Delete(slices.Clone(p.handles), idx, idx+1)
	snapshot := slices.Clone(p.images)

	p.notifyMu.Lock()
	p.mu.Unlock()
	p.notify(snapshot)
	p.notifyMu.Unlock()

	return true, nil
}

// Close tears the pipeline down and releases every outstanding preview. Calling Close
// more than once is a no-op.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for _, img := range p.images {
		if err := p.previews.Release(img.ID); err != nil {
			errs = append(errs, err)
		}
	}
	p.images = nil
	p.handles = nil
	return errors.Join(errs...)
}

func (p *Pipeline) notify(images []ImageFile) {
	if p.onChange != nil {
		p.onChange(images)
	}
}

func (p *Pipeline) processBatch(ctx context.Context, files []RawFile) ([]ImageFile, []DecodeFailure) {
	outcomes := make([]ImageFile, len(files))
	errs := make([]error, len(files))

	var g errgroup.Group
	if p.concurrency > 0 {
		g.SetLimit(p.concurrency)
	}
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			outcomes[i], errs[i] = p.processFile(ctx, file)
			// failures are collected per file so one bad file never cancels its siblings
			return nil
		})
	}
	_ = g.Wait()

	var results []ImageFile
	var failures []DecodeFailure
	for i, err := range errs {
		if err != nil {
			slog.Warn("intake: failed to process file",
				"index", i,
				"filename", files[i].Filename,
				"error", err)
			failures = append(failures, DecodeFailure{Index: i, Filename: files[i].Filename, Err: err})
			continue
		}
		results = append(results, outcomes[i])
	}
	return results, failures
}

type processOutcome struct {
	data []byte
	err  error
}

func (p *Pipeline) processFile(ctx context.Context, file RawFile) (ImageFile, error) {
	if err := ctx.Err(); err != nil {
		return ImageFile{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, p.decodeTimeout)
	defer cancel()

	done := make(chan processOutcome, 1)
	go func() {
		data, err := p.processor.Execute(file.Data)
		done <- processOutcome{data: data, err: err}
	}()

	var outcome processOutcome
	select {
	case <-ctx.Done():
		return ImageFile{}, fmt.Errorf("processing aborted: %w", ctx.Err())
	case outcome = <-done:
	}
	if outcome.err != nil {
		return ImageFile{}, outcome.err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(outcome.data))
	if err != nil {
		return ImageFile{}, fmt.Errorf("processed image is unreadable: %w", err)
	}

	return ImageFile{
		ID:          p.newID(),
		Filename:    file.Filename,
		ContentType: p.contentType,
		Width:       cfg.Width,
		Height:      cfg.Height,
		Data:        outcome.data,
	}, nil
}

func newBatchError(failures []DecodeFailure) error {
	if len(failures) == 0 {
		return nil
	}
	return &BatchError{Failures: failures}
}
