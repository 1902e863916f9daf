package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/mpataki/nourishbot/internal/llm"
)

// MaxImageBytes bounds how much of an image is read.
const MaxImageBytes = 20 << 20

// LoadImage reads an image from a local path or an http(s) URL and checks
// that its content really is an image.
func LoadImage(ctx context.Context, ref string) (llm.Image, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return llm.Image{}, fmt.Errorf("image reference is empty")
	}

	var (
		data []byte
		err  error
	)
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		data, err = fetchImage(ctx, ref)
	} else {
		data, err = readImage(ref)
	}
	if err != nil {
		return llm.Image{}, err
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return llm.Image{}, fmt.Errorf("%s is not an image (detected %s)", ref, mt.String())
	}

	return llm.Image{MediaType: mediaType(mt), Data: data}, nil
}

// mediaType drops parameters such as charset from the detected type.
func mediaType(mt *mimetype.MIME) string {
	s := mt.String()
	if i := strings.Index(s, ";"); i >= 0 {
		s = s[:i]
	}
	return s
}

func readImage(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) > MaxImageBytes {
		return nil, fmt.Errorf("image %s exceeds %d bytes", path, MaxImageBytes)
	}
	return data, nil
}

func fetchImage(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build image request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch image: %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image body: %w", err)
	}
	if len(data) > MaxImageBytes {
		return nil, fmt.Errorf("image %s exceeds %d bytes", url, MaxImageBytes)
	}
	return data, nil
}
