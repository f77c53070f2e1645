package intake

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Preview is a revocable handle on an image payload used to render a thumbnail
// before the form is submitted.
type Preview struct {
	ImageID string
	Token   string
	URL     string
}

type previewEntry struct {
	token       string
	data        []byte
	contentType string
}

// PreviewRegistry is the ownership table of preview handles, keyed by image id.
// Every handle is acquired once and released once.
type PreviewRegistry struct {
	mu       sync.RWMutex
	basePath string
	byImage  map[string]*previewEntry
	byToken  map[string]*previewEntry
}

// NewPreviewRegistry creates a registry whose preview URLs are basePath + "/" + token.
func NewPreviewRegistry(basePath string) *PreviewRegistry {
	return &PreviewRegistry{
		basePath: strings.TrimRight(basePath, "/"),
		byImage:  make(map[string]*previewEntry),
		byToken:  make(map[string]*previewEntry),
	}
}

// Acquire registers a preview for the given image.
func (r *PreviewRegistry) Acquire(imageID string, data []byte, contentType string) (Preview, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byImage[imageID]; exists {
		return Preview{}, fmt.Errorf("preview for image %s is already held", imageID)
	}
	entry := &previewEntry{
		token:       uuid.NewString(),
		data:        data,
		contentType: contentType,
	}
	r.byImage[imageID] = entry
	r.byToken[entry.token] = entry

	return Preview{ImageID: imageID, Token: entry.token, URL: r.basePath + "/" + entry.token}, nil
}

// Release drops the preview of the given image. Releasing twice returns ErrPreviewNotHeld.
func (r *PreviewRegistry) Release(imageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.byImage[imageID]
	if !exists {
		return fmt.Errorf("release %s: %w", imageID, ErrPreviewNotHeld)
	}
	delete(r.byImage, imageID)
	delete(r.byToken, entry.token)
	return nil
}

// Open returns the payload behind a preview token.
func (r *PreviewRegistry) Open(token string) ([]byte, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.byToken[token]
	if !exists {
		return nil, "", false
	}
	return entry.data, entry.contentType, true
}

// Outstanding returns the number of handles that have not been released.
func (r *PreviewRegistry) Outstanding() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byImage)
}
