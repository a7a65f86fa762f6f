// Package render fetches rendered images from the Pijaz render server.
package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pijaz/pijaz-go/core"
)

// commandRender names render server failures in errors and logs.
const commandRender = "render-image"

// URLGenerator produces a render URL for one request. *core.Product is the
// standard implementation.
type URLGenerator interface {
	GenerateURL(ctx context.Context, additional map[string]any) (string, error)
}

// Image is a rendered image as returned by the render server.
// The caller must close Body.
type Image struct {
	ContentType   string
	ContentLength int64 // -1 when unknown
	Body          io.ReadCloser
}

// Fetcher downloads rendered images.
type Fetcher struct {
	client *http.Client
	log    zerolog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets the HTTP client used for the render server.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(f *Fetcher) {
		f.log = l
	}
}

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: http.DefaultClient,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.log = f.log.With().Str("component", "render").Logger()
	return f
}

// Fetch requests the image at url. A non-2xx status is returned as an error
// wrapping core.ErrTransport.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, core.TransportError(commandRender, 0, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		msg := strings.TrimSpace(string(body))
		if msg == "" || strings.HasPrefix(msg, "<") {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &core.CommandError{
			Command: commandRender,
			Status:  resp.StatusCode,
			Message: msg,
			Err:     core.ErrTransport,
		}
	}

	f.log.Debug().Int("status", resp.StatusCode).Str("content_type", resp.Header.Get("Content-Type")).
		Int64("content_length", resp.ContentLength).Msg("render fetched")

	return &Image{
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		Body:          resp.Body,
	}, nil
}

// FetchProduct generates a URL for product and fetches it.
func (f *Fetcher) FetchProduct(ctx context.Context, product URLGenerator, params map[string]any) (*Image, error) {
	u, err := product.GenerateURL(ctx, params)
	if err != nil {
		return nil, err
	}
	return f.Fetch(ctx, u)
}

// SaveToFile renders product and writes the image to path, returning the
// number of bytes written. The file is replaced atomically; on failure any
// existing file at path is left as it was.
func (f *Fetcher) SaveToFile(ctx context.Context, product URLGenerator, path string, params map[string]any) (int64, error) {
	img, err := f.FetchProduct(ctx, product, params)
	if err != nil {
		return 0, err
	}
	defer img.Body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, img.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpName)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, fmt.Errorf("write %s: %w", path, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("write %s: %w", path, err)
	}

	f.log.Debug().Str("path", path).Int64("bytes", n).Msg("render saved")
	return n, nil
}

// Serve renders product and streams the image to w with the render
// server's content type. Nothing is written to w when an error is returned
// before streaming starts.
func (f *Fetcher) Serve(ctx context.Context, w http.ResponseWriter, product URLGenerator, params map[string]any) error {
	img, err := f.FetchProduct(ctx, product, params)
	if err != nil {
		return err
	}
	defer img.Body.Close()

	if img.ContentType != "" {
		w.Header().Set("Content-Type", img.ContentType)
	}
	if img.ContentLength >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(img.ContentLength, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, img.Body); err != nil {
		return &streamError{err: err}
	}
	return nil
}

// streamError marks a failure after the response header was sent.
type streamError struct{ err error }

func (e *streamError) Error() string { return "stream render: " + e.err.Error() }
func (e *streamError) Unwrap() error { return e.err }

// IsStreamError reports whether err happened after Serve started writing
// the response, i.e. when no error response can be sent anymore.
func IsStreamError(err error) bool {
	var se *streamError
	return errors.As(err, &se)
}
