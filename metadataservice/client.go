package metadataservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/keyshard/keyshard/interfaces"
)

// Client is an HTTP client for a remote metadata service. It implements
// interfaces.MetadataService.
type Client struct {
	BaseURL string
	Client  *http.Client
}

// NewClient creates a client for the metadata service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{BaseURL: baseURL, Client: http.DefaultClient}
}

// Fetch returns the account record, or ErrAccountNotFound.
func (c *Client) Fetch(ctx context.Context, oauthKey string) (*interfaces.AccountMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/metadata/%s", c.BaseURL, oauthKey), nil)
	if err != nil {
		return nil, fmt.Errorf("could not initialize request: %w", err)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrCollaboratorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, interfaces.ErrAccountNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read metadata response: %w", err)
	}

	var md interfaces.AccountMetadata
	if err := json.Unmarshal(body, &md); err != nil {
		return nil, fmt.Errorf("could not parse metadata response: %w", err)
	}
	return &md, nil
}

// Update overwrites the account record.
func (c *Client) Update(ctx context.Context, oauthKey string, md *interfaces.AccountMetadata) error {
	payload, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("could not serialize account metadata: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		fmt.Sprintf("%s/api/metadata/%s", c.BaseURL, oauthKey), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("could not initialize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrCollaboratorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("metadata service returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) httpClient() *http.Client {
	if c.Client == nil {
		return http.DefaultClient
	}
	return c.Client
}

var _ interfaces.MetadataService = (*Client)(nil)
