// Package feed fetches the product-transaction seed batch.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"salesinsight/internal/core"
)

// DefaultURL is the public seed dataset.
const DefaultURL = "https://s3.amazonaws.com/roxiler.com/product_transaction.json"

// maxBodyBytes caps the size of a fetched batch.
const maxBodyBytes = 32 << 20

// RawRecord is one loosely typed feed object. Numbers decode as json.Number.
type RawRecord map[string]any

// Fetcher supplies a raw batch.
type Fetcher interface {
	Fetch(ctx context.Context) ([]RawRecord, error)
}

// Client fetches the batch over HTTP. It never retries.
type Client struct {
	url        string
	httpClient *http.Client
}

func NewClient(url string, timeout time.Duration) *Client {
	if url == "" {
		url = DefaultURL
	}
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Fetch downloads and decodes the batch. Every failure is a core.ErrFetch.
func (c *Client) Fetch(ctx context.Context) ([]RawRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, core.Wrap(core.ErrFetch, "fetch feed", fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, core.Wrap(core.ErrFetch, "fetch feed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, core.Wrap(core.ErrFetch, "fetch feed", fmt.Errorf("unexpected status %d from %s", resp.StatusCode, c.url))
	}

	records, err := Decode(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Fetched seed feed",
		"url", c.url,
		"records", len(records),
		"duration_ms", time.Since(start).Milliseconds())
	return records, nil
}

// Decode reads a JSON array of objects.
func Decode(r io.Reader) ([]RawRecord, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var records []RawRecord
	if err := dec.Decode(&records); err != nil {
		return nil, core.Wrap(core.ErrFetch, "decode feed", fmt.Errorf("feed is not an array of records: %w", err))
	}
	if records == nil {
		return nil, core.Wrap(core.ErrFetch, "decode feed", fmt.Errorf("feed body is null"))
	}
	for i, rec := range records {
		if rec == nil {
			return nil, core.Wrap(core.ErrFetch, "decode feed", fmt.Errorf("element %d is not an object", i))
		}
	}
	return records, nil
}

// LoadFile reads a batch saved on disk in the feed format.
func LoadFile(path string) ([]RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, core.Wrap(core.ErrFetch, "load feed file", err)
	}
	defer f.Close()
	return Decode(f)
}

// FileFetcher serves a batch from a local file.
type FileFetcher struct {
	Path string
}

func (f FileFetcher) Fetch(_ context.Context) ([]RawRecord, error) {
	return LoadFile(f.Path)
}
