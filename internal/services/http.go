package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/codyseavey/zec-tracker/internal/metrics"
)

const defaultFetchTimeout = 10 * time.Second

// getJSON performs a GET and decodes a 2xx JSON body into out. Any non-2xx status is
// an error; the caller decides how to degrade.
func getJSON(ctx context.Context, client *http.Client, source, reqURL string, out any) error {
	start := time.Now()
	defer func() {
		metrics.FetchDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, defaultFetchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%s returned status %d: %s", source, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", source, err)
	}
	return nil
}

// fetchFailed records a fetch that degraded to no data
func fetchFailed(source string, err error) {
	metrics.FetchFailuresTotal.WithLabelValues(source).Inc()
	log.Printf("Fetch %s: %v", source, err)
}
