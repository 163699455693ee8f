// Package core defines the domain types and interfaces for the video service.
package core

import "time"

// State is the lifecycle state of a job. Transitions are one-directional:
// queued -> active -> completed or failed. A terminal state is never left.
type State string

// Job lifecycle states.
const (
	StateQueued    State = "queued"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Valid reports whether the state is one of the known lifecycle states.
func (s State) Valid() bool {
	switch s {
	case StateQueued, StateActive, StateCompleted, StateFailed:
		return true
	default:
		return false
	}
}

// Stage identifies a pipeline stage for error attribution. Failed jobs record
// the stage at which processing stopped.
type Stage string

// Pipeline stages, in execution order.
const (
	StageResolveAssets Stage = "resolve_assets"
	StageSynthesize    Stage = "tts"
	StageDub           Stage = "dub"
	StagePersist       Stage = "persist"
)

// JobPayload is the immutable request content captured at submission time.
type JobPayload struct {
	RequesterID   string `json:"requester_id"`
	ScriptText    string `json:"script_text"`
	VoiceAssetID  string `json:"voice_asset_id"`
	AvatarAssetID string `json:"avatar_asset_id"`
}

// Job is one queued video-generation request and its lifecycle record.
// ResultFileID is set only for completed jobs; ErrorStage and ErrorMessage
// only for failed ones.
type Job struct {
	ID           string     `json:"id"`
	Payload      JobPayload `json:"payload"`
	State        State      `json:"state"`
	ResultFileID string     `json:"result_file_id,omitempty"`
	ErrorStage   Stage      `json:"error_stage,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    time.Time  `json:"started_at,omitzero"`
	FinishedAt   time.Time  `json:"finished_at,omitzero"`
}

// VoiceAsset is a reference voice sample plus the normalized transcript of
// that sample, as required by the synthesis collaborator.
type VoiceAsset struct {
	ID             string
	Audio          []byte
	TextNormalized string
}

// AvatarAsset is a reference face/avatar video used by the dubbing
// collaborator.
type AvatarAsset struct {
	ID    string
	Video []byte
}

// BlobInfo describes a stored blob without its byte content.
type BlobInfo struct {
	FileID    string
	Filename  string
	OwnerID   string
	Size      uint64
	Trashed   bool
	TrashedAt time.Time
}
