// Package synthesis provides the HTTP client for the voice-cloning TTS
// collaborator.
//
// The collaborator accepts a multipart request carrying the target script
// text, the reference voice sample and the normalized transcript of that
// sample, and returns synthesized speech audio.
package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/book-expert/video-service/internal/core"
)

// API endpoints and paths.
const (
	apiSynthesize = "/v1/synthesize"
	apiHealth     = "/health"
)

// Multipart form field names.
const (
	formFieldText           = "text"
	formFieldAudio          = "audio"
	formFieldTextNormalized = "text_normalized"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
)

// Static errors.
var (
	ErrTextEmpty           = errors.New("text cannot be empty")
	ErrReferenceAudioEmpty = errors.New("reference audio cannot be empty")
	ErrEmptyAudioResponse  = errors.New("received empty audio data")
)

// errorResponse represents a structured error body from the collaborator.
type errorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// Client is an HTTP client for the TTS collaborator. It implements
// core.SpeechSynthesizer.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates and configures a client for the TTS collaborator. The
// baseURL should include the protocol and port (e.g. "http://localhost:8000").
// The timeout is the ordinary bounded HTTP timeout for synthesis calls.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Synthesize sends a multipart synthesis request and returns the raw audio
// bytes. A non-2xx response or transport failure is reported as an upstream
// service error.
func (c *Client) Synthesize(ctx context.Context, scriptText string, voice core.VoiceAsset) ([]byte, error) {
	if scriptText == "" {
		return nil, ErrTextEmpty
	}

	if len(voice.Audio) == 0 {
		return nil, ErrReferenceAudioEmpty
	}

	body, contentType, err := buildSynthesisForm(scriptText, voice)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiSynthesize, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesis request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentType)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: request to TTS service at %s failed: %w",
			core.ErrUpstream, c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, parseErrorResponse(resp)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read audio response: %w", core.ErrUpstream, err)
	}

	if len(audioData) == 0 {
		return nil, fmt.Errorf("%w: %w", core.ErrUpstream, ErrEmptyAudioResponse)
	}

	return audioData, nil
}

// HealthCheck verifies that the TTS collaborator is reachable and healthy.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

// buildSynthesisForm encodes the multipart request body per the collaborator
// contract: text, audio (reference wav bytes), text_normalized.
func buildSynthesisForm(scriptText string, voice core.VoiceAsset) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	err := writer.WriteField(formFieldText, scriptText)
	if err != nil {
		return nil, "", fmt.Errorf("failed to write text field: %w", err)
	}

	part, err := writer.CreateFormFile(formFieldAudio, voice.ID+".wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create audio form file: %w", err)
	}

	_, err = part.Write(voice.Audio)
	if err != nil {
		return nil, "", fmt.Errorf("failed to copy reference audio: %w", err)
	}

	err = writer.WriteField(formFieldTextNormalized, voice.TextNormalized)
	if err != nil {
		return nil, "", fmt.Errorf("failed to write text_normalized field: %w", err)
	}

	err = writer.Close()
	if err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return body, writer.FormDataContentType(), nil
}

// parseErrorResponse decodes a structured JSON error from the collaborator,
// falling back to the raw body so diagnostics are never lost.
func parseErrorResponse(resp *http.Response) error {
	var errResp errorResponse

	err := json.NewDecoder(resp.Body).Decode(&errResp)
	if err == nil && errResp.Detail != "" {
		return fmt.Errorf("%w: TTS service error (%s): %s (code: %s)",
			core.ErrUpstream, resp.Status, errResp.Detail, errResp.ErrorCode)
	}

	body, _ := io.ReadAll(resp.Body)

	return fmt.Errorf("%w: TTS service returned non-OK status: %s, body: %s",
		core.ErrUpstream, resp.Status, string(body))
}
