package biz

import (
	"fmt"
	"os"
)

// ImageSource supplies the image under analysis.
type ImageSource interface {
	Bytes() ([]byte, error)
	// PublicURL is where URL-only engines can fetch the image, or "".
	PublicURL() string
}

// BytesSource is an in-memory image.
type BytesSource struct {
	Data []byte
	URL  string
}

func (s BytesSource) Bytes() ([]byte, error) {
	return s.Data, nil
}

func (s BytesSource) PublicURL() string {
	return s.URL
}

// FileSource reads the image from a local file on each call.
type FileSource struct {
	Path string
	URL  string
}

func (s FileSource) Bytes() ([]byte, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image file: %w", err)
	}
	return data, nil
}

func (s FileSource) PublicURL() string {
	return s.URL
}
