package common

import (
	"fmt"
	"io"
	"mime/multipart"

	"github.com/jo-hoe/petitmarche/internal/intake"
)

// ReadUploadedFiles reads multipart file parts into memory in submission order
func ReadUploadedFiles(headers []*multipart.FileHeader) ([]intake.RawFile, error) {
	files := make([]intake.RawFile, 0, len(headers))
	for _, header := range headers {
		data, err := readFileHeader(header)
		if err != nil {
			return nil, fmt.Errorf("failed to read uploaded file %s: %w", header.Filename, err)
		}
		files = append(files, intake.RawFile{Filename: header.Filename, Data: data})
	}
	return files, nil
}

func readFileHeader(header *multipart.FileHeader) ([]byte, error) {
	src, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = src.Close()
	}()
	return io.ReadAll(src)
}
