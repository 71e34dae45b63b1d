package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const maxResponseBytes = 4 << 20

// getJSON issues a GET and decodes a 200 response into out.
func getJSON(ctx context.Context, client *http.Client, provider, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return transportError(ctx, provider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return transportError(ctx, provider, err)
	}

	if resp.StatusCode != http.StatusOK {
		return statusError(provider, resp.StatusCode, resp.Header, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return ErrInvalidResponse.WithCause(fmt.Errorf("failed to parse %s response: %w", provider, err))
	}
	return nil
}
