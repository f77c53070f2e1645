package intake

// RawFile is one file as received from a file-picker selection or a drop gesture.
type RawFile struct {
	Filename string
	Data     []byte
}

// ImageFile is one processed image held by a pipeline. Values are never mutated
// after they have been handed out; every change produces a fresh slice.
type ImageFile struct {
	ID          string
	Order       int
	IsMain      bool
	Filename    string
	ContentType string
	Width       int
	Height      int
	Data        []byte
}

// reindex returns a copy of images with Order and IsMain derived from slice position.
func reindex(images []ImageFile) []ImageFile {
	out := make([]ImageFile, len(images))
	for i, img := range images {
		img.Order = i
		img.IsMain = i == 0
		out[i] = img
	}
	return out
}
