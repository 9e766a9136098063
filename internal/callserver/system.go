package callserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// SystemClient appends system messages to conversations through the API's
// internal endpoint. Implements callsession.SystemMessenger.
type SystemClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewSystemClient(apiURL string) *SystemClient {
	return &SystemClient{
		baseURL:    strings.TrimSuffix(apiURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *SystemClient) PostSystem(ctx context.Context, conversationID, content string) error {
	body, err := json.Marshal(map[string]string{
		"conversation_id": conversationID,
		"content":         content,
	})
	if err != nil {
		return fmt.Errorf("systemClient.PostSystem marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/system-message", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("systemClient.PostSystem request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if secret := strings.TrimSpace(os.Getenv("INTERNAL_SECRET")); secret != "" {
		req.Header.Set("X-Internal-Secret", secret)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("systemClient.PostSystem do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("systemClient.PostSystem: %d", resp.StatusCode)
	}
	return nil
}
