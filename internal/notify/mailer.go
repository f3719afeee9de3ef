package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Mailer delivers challenge codes through an HTTP mail API.
type Mailer struct {
	apiURL     string
	apiKey     string
	from       string
	httpClient *http.Client
}

type mailerResponse struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func NewMailer(apiURL, apiKey, from string) (*Mailer, error) {
	apiURL = strings.TrimSpace(apiURL)
	parsed, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("parse mail api url: %w", err)
	}
	if parsed.Scheme != "https" || parsed.Host == "" {
		return nil, fmt.Errorf("mail api url must be https")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("missing mail api key")
	}
	if strings.TrimSpace(from) == "" {
		from = "no-reply@condogate.app"
	}

	return &Mailer{
		apiURL: apiURL,
		apiKey: strings.TrimSpace(apiKey),
		from:   from,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}, nil
}

func (m *Mailer) SendCode(ctx context.Context, email, code string) error {
	payload := map[string]string{
		"from":    m.from,
		"to":      email,
		"subject": "Your verification code",
		"text":    fmt.Sprintf("Your verification code is %s. It expires in a few minutes.", code),
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode mail payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mail request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read mail response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var parsedResp mailerResponse
		if err := json.Unmarshal(body, &parsedResp); err == nil && parsedResp.Error != nil && parsedResp.Error.Message != "" {
			return fmt.Errorf("mail delivery failed: %s", parsedResp.Error.Message)
		}
		return fmt.Errorf("mail delivery failed with status %d", resp.StatusCode)
	}

	return nil
}
