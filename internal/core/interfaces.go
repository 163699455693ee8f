package core

import (
	"context"
	"io"
)

// JobStore is the durable queue and state store for jobs. Enqueue makes a
// queued job visible to exactly one worker; state updates are atomic whole-
// record snapshots, so a concurrent Get never observes a half-written
// transition.
type JobStore interface {
	// Enqueue persists the job record and makes it available for dequeue.
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks until a job is available or ctx is done. A dequeued
	// job is delivered to exactly one caller.
	Dequeue(ctx context.Context) (Job, error)
	// Get returns the current job record, or ErrJobNotFound.
	Get(ctx context.Context, jobID string) (Job, error)
	// SetActive marks the job as being processed.
	SetActive(ctx context.Context, jobID string) error
	// SetCompleted records the terminal completed state with its result.
	SetCompleted(ctx context.Context, jobID, fileID string) error
	// SetFailed records the terminal failed state with stage attribution.
	SetFailed(ctx context.Context, jobID string, stage Stage, message string) error
}

// BlobStore is write-once chunked storage for large binary outputs. A file
// id returned by Write is only valid once the write fully completed.
type BlobStore interface {
	Write(ctx context.Context, ownerID, filename string, data io.Reader) (string, error)
	Read(ctx context.Context, fileID string) (io.ReadCloser, error)
	Stat(ctx context.Context, fileID string) (BlobInfo, error)
}

// AssetResolver looks up reference assets across the predefined and
// user-owned namespaces, in that order.
type AssetResolver interface {
	ResolveVoice(ctx context.Context, assetID string) (VoiceAsset, error)
	ResolveAvatar(ctx context.Context, assetID string) (AvatarAsset, error)
}

// SpeechSynthesizer produces speech audio from script text and a reference
// voice.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, scriptText string, voice VoiceAsset) ([]byte, error)
}

// VideoDubber produces a lip-synced video from synthesized audio and a
// reference avatar video. Implementations must tolerate processing latency
// up to their configured long timeout.
type VideoDubber interface {
	Dub(ctx context.Context, audio []byte, avatar AvatarAsset) ([]byte, error)
}
