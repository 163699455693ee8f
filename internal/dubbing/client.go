// Package dubbing provides the HTTP client for the video dubbing
// collaborator.
//
// The collaborator accepts a multipart request carrying synthesized speech
// audio and a reference avatar video, and returns the final lip-synced video.
// Dubbing is long-running (observed up to tens of minutes), so the client is
// configured with a generous timeout distinct from ordinary request timeouts,
// and deadline exhaustion is reported as a timeout rather than a generic
// upstream failure.
package dubbing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"time"

	"github.com/book-expert/video-service/internal/core"
)

// API endpoints and paths.
const (
	apiDub    = "/v1/dub"
	apiHealth = "/health"
)

// Multipart form field names.
const (
	formFieldReferenceAudio = "reference_audio"
	formFieldReferenceVideo = "reference_video"
)

const headerContentType = "Content-Type"

// Static errors.
var (
	ErrAudioEmpty         = errors.New("synthesized audio cannot be empty")
	ErrAvatarVideoEmpty   = errors.New("reference video cannot be empty")
	ErrEmptyVideoResponse = errors.New("received empty video data")
)

type errorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// Client is an HTTP client for the dubbing collaborator. It implements
// core.VideoDubber.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates and configures a client for the dubbing collaborator.
// The timeout must accommodate the collaborator's full processing latency.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Dub sends a multipart dubbing request and returns the final video bytes.
func (c *Client) Dub(ctx context.Context, audio []byte, avatar core.AvatarAsset) ([]byte, error) {
	if len(audio) == 0 {
		return nil, ErrAudioEmpty
	}

	if len(avatar.Video) == 0 {
		return nil, ErrAvatarVideoEmpty
	}

	body, contentType, err := buildDubbingForm(audio, avatar)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiDub, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create dubbing request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentType)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: dubbing call to %s exceeded its allowance: %w",
				core.ErrUpstreamTimeout, c.baseURL, err)
		}

		return nil, fmt.Errorf("%w: request to dubbing service at %s failed: %w",
			core.ErrUpstream, c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, parseErrorResponse(resp)
	}

	videoData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read video response: %w", core.ErrUpstream, err)
	}

	if len(videoData) == 0 {
		return nil, fmt.Errorf("%w: %w", core.ErrUpstream, ErrEmptyVideoResponse)
	}

	return videoData, nil
}

// HealthCheck verifies that the dubbing collaborator is reachable and
// healthy.
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

// buildDubbingForm encodes the multipart request body per the collaborator
// contract: reference_audio, reference_video.
func buildDubbingForm(audio []byte, avatar core.AvatarAsset) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	audioPart, err := writer.CreateFormFile(formFieldReferenceAudio, "speech.wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create audio form file: %w", err)
	}

	_, err = audioPart.Write(audio)
	if err != nil {
		return nil, "", fmt.Errorf("failed to copy synthesized audio: %w", err)
	}

	videoPart, err := writer.CreateFormFile(formFieldReferenceVideo, avatar.ID+".mp4")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create video form file: %w", err)
	}

	_, err = videoPart.Write(avatar.Video)
	if err != nil {
		return nil, "", fmt.Errorf("failed to copy reference video: %w", err)
	}

	err = writer.Close()
	if err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return body, writer.FormDataContentType(), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

func parseErrorResponse(resp *http.Response) error {
	var errResp errorResponse

	err := json.NewDecoder(resp.Body).Decode(&errResp)
	if err == nil && errResp.Detail != "" {
		return fmt.Errorf("%w: dubbing service error (%s): %s (code: %s)",
			core.ErrUpstream, resp.Status, errResp.Detail, errResp.ErrorCode)
	}

	body, _ := io.ReadAll(resp.Body)

	return fmt.Errorf("%w: dubbing service returned non-OK status: %s, body: %s",
		core.ErrUpstream, resp.Status, string(body))
}
