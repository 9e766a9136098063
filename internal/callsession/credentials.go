package callsession

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/xgaming627/chatter-nexus/internal/logger"
)

// Credential is what a participant needs to join a media room.
type Credential struct {
	Token     string `json:"token"`
	ServerURL string `json:"server_url"`
}

// CredentialIssuer exchanges a room/participant pair for a join credential.
type CredentialIssuer interface {
	Issue(ctx context.Context, roomName, participantName string) (*Credential, error)
}

// HTTPIssuer calls the external token-issuance endpoint.
type HTTPIssuer struct {
	url    string
	client *http.Client
}

func NewHTTPIssuer(url string) *HTTPIssuer {
	return &HTTPIssuer{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (i *HTTPIssuer) Issue(ctx context.Context, roomName, participantName string) (*Credential, error) {
	defer logger.DeferLogDuration("callsession.Issue", time.Now())()

	body, err := json.Marshal(map[string]string{
		"room_name":        roomName,
		"participant_name": participantName,
	})
	if err != nil {
		return nil, fmt.Errorf("issuer.Issue marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("issuer.Issue request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("issuer.Issue do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("issuer.Issue: endpoint returned %d", resp.StatusCode)
	}

	var cred Credential
	if err := json.NewDecoder(resp.Body).Decode(&cred); err != nil {
		return nil, fmt.Errorf("issuer.Issue decode: %w", err)
	}
	if cred.Token == "" || cred.ServerURL == "" {
		return nil, fmt.Errorf("issuer.Issue: incomplete credential")
	}
	return &cred, nil
}
