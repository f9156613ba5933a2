package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const defaultGraphURL = "https://graph.facebook.com/v17.0"

// Client sends messages and fetches media through the Graph API.
type Client struct {
	graphURL      string
	token         string
	phoneNumberID string
	httpClient    *http.Client
}

// NewClient creates a WhatsApp client for one business phone number.
func NewClient(token, phoneNumberID string) *Client {
	return &Client{
		graphURL:      defaultGraphURL,
		token:         token,
		phoneNumberID: phoneNumberID,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
	}
}

// NewClientWithBaseURL is NewClient with the Graph endpoint overridden.
// Used by tests pointing at an httptest server.
func NewClientWithBaseURL(token, phoneNumberID, baseURL string) *Client {
	c := NewClient(token, phoneNumberID)
	c.graphURL = baseURL
	return c
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, to, body string) error {
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": body},
	}
	return c.post(ctx, payload)
}

// SendButtons sends an interactive button message. At least one button is
// required by the platform.
func (c *Client) SendButtons(ctx context.Context, to, body string, buttons []Button) error {
	if len(buttons) == 0 {
		return fmt.Errorf("at least one button is required")
	}

	actions := make([]map[string]interface{}, 0, len(buttons))
	for _, b := range buttons {
		actions = append(actions, map[string]interface{}{
			"type":  "reply",
			"reply": map[string]string{"id": b.ID, "title": b.Title},
		})
	}

	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "interactive",
		"interactive": map[string]interface{}{
			"type":   "button",
			"body":   map[string]string{"text": body},
			"action": map[string]interface{}{"buttons": actions},
		},
	}
	return c.post(ctx, payload)
}

func (c *Client) post(ctx context.Context, payload map[string]interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.graphURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("graph API returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// DownloadMedia resolves a media id to its content URL and writes the bytes
// to destPath. Two round trips: metadata lookup, then the content fetch.
func (c *Client) DownloadMedia(ctx context.Context, mediaID, destPath string) error {
	infoURL := fmt.Sprintf("%s/%s", c.graphURL, mediaID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, infoURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create media info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch media info: %w", err)
	}
	defer resp.Body.Close()

	var info struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return fmt.Errorf("failed to decode media info: %w", err)
	}
	if info.URL == "" {
		return fmt.Errorf("media %s has no download URL", mediaID)
	}

	contentReq, err := http.NewRequestWithContext(ctx, http.MethodGet, info.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create media content request: %w", err)
	}
	contentReq.Header.Set("Authorization", "Bearer "+c.token)

	contentResp, err := c.httpClient.Do(contentReq)
	if err != nil {
		return fmt.Errorf("failed to fetch media content: %w", err)
	}
	defer contentResp.Body.Close()

	if contentResp.StatusCode != http.StatusOK {
		return fmt.Errorf("media download returned status %d", contentResp.StatusCode)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, contentResp.Body); err != nil {
		return fmt.Errorf("failed to write media to disk: %w", err)
	}
	return nil
}
