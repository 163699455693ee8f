// main package for the video-client, a small CLI that submits a generation
// job and polls until it reaches a terminal state.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

// Flag names.
const (
	flagServer    = "server"
	flagRequester = "requester"
	flagScript    = "script"
	flagVoice     = "voice"
	flagAvatar    = "avatar"
	flagOutput    = "output"
	flagInterval  = "interval"
)

// Flag descriptions.
const (
	flagServerDesc    = "Base URL of the video-service API"
	flagRequesterDesc = "Requester id to submit under"
	flagScriptDesc    = "Script text to speak"
	flagVoiceDesc     = "Voice asset id"
	flagAvatarDesc    = "Avatar asset id"
	flagOutputDesc    = "Output file path (.mp4)"
	flagIntervalDesc  = "Poll interval"
)

// Defaults.
const (
	defaultServer       = "http://localhost:8080"
	defaultOutput       = "output.mp4"
	defaultPollInterval = 5 * time.Second
	requestTimeout      = 30 * time.Second
	filePermissions     = 0o600
)

// Poll statuses as returned by the status endpoint.
const (
	statusNotFound   = "not_found"
	statusProcessing = "processing"
	statusFailed     = "failed"
	statusCompleted  = "completed"
)

// Static errors.
var (
	ErrScriptRequired = errors.New("--script is required")
	ErrVoiceRequired  = errors.New("--voice is required")
	ErrAvatarRequired = errors.New("--avatar is required")
	ErrJobFailed      = errors.New("job failed")
	ErrJobVanished    = errors.New("job reported not_found after submission")
)

type appFlags struct {
	server    string
	requester string
	script    string
	voice     string
	avatar    string
	output    string
	interval  time.Duration
}

type submitRequest struct {
	RequesterID   string `json:"requesterId"`
	ScriptText    string `json:"scriptText"`
	VoiceAssetID  string `json:"voiceAssetId"`
	AvatarAssetID string `json:"avatarAssetId"`
}

type submitResponse struct {
	JobID string `json:"jobId"`
	Error string `json:"error"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Video   string `json:"video"`
}

func main() {
	err := run()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	flags := parseFlags()

	err := validateFlags(flags)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: requestTimeout}

	jobID, err := submit(client, flags)
	if err != nil {
		return err
	}

	fmt.Printf("Submitted job %s, polling every %s...\n", jobID, flags.interval)

	video, err := pollUntilDone(client, flags, jobID)
	if err != nil {
		return err
	}

	writeErr := os.WriteFile(flags.output, video, filePermissions)
	if writeErr != nil {
		return fmt.Errorf("failed to write video file: %w", writeErr)
	}

	fmt.Printf("Wrote %d bytes to %s\n", len(video), flags.output)

	return nil
}

func parseFlags() appFlags {
	var flags appFlags

	flag.StringVar(&flags.server, flagServer, defaultServer, flagServerDesc)
	flag.StringVar(&flags.requester, flagRequester, "cli", flagRequesterDesc)
	flag.StringVar(&flags.script, flagScript, "", flagScriptDesc)
	flag.StringVar(&flags.voice, flagVoice, "", flagVoiceDesc)
	flag.StringVar(&flags.avatar, flagAvatar, "", flagAvatarDesc)
	flag.StringVar(&flags.output, flagOutput, defaultOutput, flagOutputDesc)
	flag.DurationVar(&flags.interval, flagInterval, defaultPollInterval, flagIntervalDesc)
	flag.Parse()

	return flags
}

func validateFlags(flags appFlags) error {
	if flags.script == "" {
		return ErrScriptRequired
	}

	if flags.voice == "" {
		return ErrVoiceRequired
	}

	if flags.avatar == "" {
		return ErrAvatarRequired
	}

	return nil
}

func submit(client *http.Client, flags appFlags) (string, error) {
	payload, err := json.Marshal(submitRequest{
		RequesterID:   flags.requester,
		ScriptText:    flags.script,
		VoiceAssetID:  flags.voice,
		AvatarAssetID: flags.avatar,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal submission: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, flags.server+"/jobs", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create submission request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("submission failed: %w", err)
	}
	defer resp.Body.Close()

	var submitResp submitResponse

	decodeErr := json.NewDecoder(resp.Body).Decode(&submitResp)
	if decodeErr != nil {
		return "", fmt.Errorf("failed to decode submission response: %w", decodeErr)
	}

	if resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("submission rejected with status %s: %s", resp.Status, submitResp.Error)
	}

	return submitResp.JobID, nil
}

func pollUntilDone(client *http.Client, flags appFlags, jobID string) ([]byte, error) {
	for {
		status, err := pollOnce(client, flags.server, jobID)
		if err != nil {
			return nil, err
		}

		switch status.Status {
		case statusProcessing:
			time.Sleep(flags.interval)
		case statusCompleted:
			video, decodeErr := base64.StdEncoding.DecodeString(status.Video)
			if decodeErr != nil {
				return nil, fmt.Errorf("failed to decode video payload: %w", decodeErr)
			}

			return video, nil
		case statusFailed:
			return nil, fmt.Errorf("%w: %s", ErrJobFailed, status.Message)
		case statusNotFound:
			return nil, ErrJobVanished
		default:
			return nil, fmt.Errorf("unknown poll status '%s'", status.Status)
		}
	}
}

func pollOnce(client *http.Client, server, jobID string) (statusResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, fmt.Sprintf("%s/jobs/%s/status", server, jobID), http.NoBody)
	if err != nil {
		return statusResponse{}, fmt.Errorf("failed to create status request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return statusResponse{}, fmt.Errorf("status poll failed: %w", err)
	}
	defer resp.Body.Close()

	var status statusResponse

	decodeErr := json.NewDecoder(resp.Body).Decode(&status)
	if decodeErr != nil {
		return statusResponse{}, fmt.Errorf("failed to decode status response: %w", decodeErr)
	}

	return status, nil
}
