package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrInvalidAPIKey is wrapped by validation failures the backend attributes to the key.
var ErrInvalidAPIKey = errors.New("invalid API key")

// APIKeyValidator checks a generation backend key before the server starts
// taking traffic.
type APIKeyValidator interface {
	ValidateAPIKey(ctx context.Context, apiKey string) error
}

type openAIKeyValidator struct {
	client  *http.Client
	baseURL string
}

// NewOpenAIKeyValidator validates keys against baseURL's model listing.
func NewOpenAIKeyValidator(baseURL string) APIKeyValidator {
	return &openAIKeyValidator{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// ValidateAPIKey lists models with apiKey; a 401 means the key is invalid.
func (v *openAIKeyValidator) ValidateAPIKey(ctx context.Context, apiKey string) error {
	if apiKey == "" {
		return fmt.Errorf("API key cannot be empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("failed to create validation request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to validate API key: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var errorResp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
	if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error.Message != "" {
		msg = errorResp.Error.Message
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", ErrInvalidAPIKey, msg)
	}
	return fmt.Errorf("API key validation failed: %s", msg)
}
