// Package worker provides the long-running process that drives queued jobs
// through the generation pipeline.
//
// Each job runs the stages strictly in order: resolve assets, synthesize
// voice, dub video, persist the result. A failure at any stage is terminal
// for the whole job; no stage is retried and no intermediate output is
// cached. With a concurrency factor N, up to N jobs are in flight at once,
// each independently sequential internally.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"golang.org/x/sync/errgroup"

	"github.com/book-expert/video-service/internal/core"
)

const resolveTimeout = 30 * time.Second

// Timeouts configures the per-external-call allowances. Synthesis uses an
// ordinary bounded timeout; dubbing gets a much longer one.
type Timeouts struct {
	Synthesis time.Duration
	Dubbing   time.Duration
}

// Worker dequeues jobs one at a time per slot and processes each to a
// terminal state. Pipeline errors are recorded on the job, never propagated
// as crashes.
type Worker struct {
	jobs        core.JobStore
	blobs       core.BlobStore
	assets      core.AssetResolver
	synthesizer core.SpeechSynthesizer
	dubber      core.VideoDubber
	timeouts    Timeouts
	concurrency int
	log         *logger.Logger
}

// New creates a Worker. Concurrency values below one are raised to one.
func New(
	jobs core.JobStore,
	blobs core.BlobStore,
	assetStore core.AssetResolver,
	synthesizer core.SpeechSynthesizer,
	dubber core.VideoDubber,
	timeouts Timeouts,
	concurrency int,
	log *logger.Logger,
) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}

	return &Worker{
		jobs:        jobs,
		blobs:       blobs,
		assets:      assetStore,
		synthesizer: synthesizer,
		dubber:      dubber,
		timeouts:    timeouts,
		concurrency: concurrency,
		log:         log,
	}
}

// Run blocks, processing jobs until ctx is done. Each of the configured
// slots dequeues and fully processes one job before returning for the next.
func (w *Worker) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	for slot := range w.concurrency {
		group.Go(func() error {
			return w.runSlot(groupCtx, slot)
		})
	}

	err := group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("worker pool stopped: %w", err)
	}

	return nil
}

func (w *Worker) runSlot(ctx context.Context, slot int) error {
	for {
		job, err := w.jobs.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			return fmt.Errorf("slot %d dequeue failed: %w", slot, err)
		}

		w.processJob(ctx, job)
	}
}

// processJob drives one job to a terminal state. Once dequeued a job always
// reaches completed or failed; there is no mid-flight abort path.
func (w *Worker) processJob(ctx context.Context, job core.Job) {
	w.log.Info("Processing job %s", job.ID)

	activeErr := w.jobs.SetActive(ctx, job.ID)
	if activeErr != nil {
		w.log.Error("Failed to mark job %s active: %v", job.ID, activeErr)

		return
	}

	fileID, stageErr := w.runPipeline(ctx, job)
	if stageErr != nil {
		w.log.Error("Job %s failed at stage %s: %v", job.ID, stageErr.Stage, stageErr.Err)

		failErr := w.jobs.SetFailed(ctx, job.ID, stageErr.Stage, stageErr.Err.Error())
		if failErr != nil {
			w.log.Error("Failed to record failure for job %s: %v", job.ID, failErr)
		}

		return
	}

	completeErr := w.jobs.SetCompleted(ctx, job.ID, fileID)
	if completeErr != nil {
		w.log.Error("Failed to record completion for job %s: %v", job.ID, completeErr)

		return
	}

	w.log.Info("Job %s completed with file %s", job.ID, fileID)
}

// runPipeline executes the stages in order and returns the persisted file id
// or the first stage failure. Synthesis always precedes dubbing; a failed
// synthesis never invokes the dubbing collaborator.
func (w *Worker) runPipeline(ctx context.Context, job core.Job) (string, *core.StageError) {
	voice, avatar, resolveErr := w.resolveAssets(ctx, job.Payload)
	if resolveErr != nil {
		return "", core.NewStageError(core.StageResolveAssets, resolveErr)
	}

	audio, synthErr := w.synthesizeVoice(ctx, job.Payload.ScriptText, voice)
	if synthErr != nil {
		return "", core.NewStageError(core.StageSynthesize, synthErr)
	}

	video, dubErr := w.dubVideo(ctx, audio, avatar)
	if dubErr != nil {
		return "", core.NewStageError(core.StageDub, dubErr)
	}

	fileID, persistErr := w.persistVideo(ctx, job, video)
	if persistErr != nil {
		return "", core.NewStageError(core.StagePersist, persistErr)
	}

	return fileID, nil
}

func (w *Worker) resolveAssets(ctx context.Context, payload core.JobPayload) (core.VoiceAsset, core.AvatarAsset, error) {
	resolveCtx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	voice, err := w.assets.ResolveVoice(resolveCtx, payload.VoiceAssetID)
	if err != nil {
		return core.VoiceAsset{}, core.AvatarAsset{}, err
	}

	avatar, err := w.assets.ResolveAvatar(resolveCtx, payload.AvatarAssetID)
	if err != nil {
		return core.VoiceAsset{}, core.AvatarAsset{}, err
	}

	return voice, avatar, nil
}

func (w *Worker) synthesizeVoice(ctx context.Context, scriptText string, voice core.VoiceAsset) ([]byte, error) {
	synthCtx, cancel := context.WithTimeout(ctx, w.timeouts.Synthesis)
	defer cancel()

	audio, err := w.synthesizer.Synthesize(synthCtx, scriptText, voice)
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize speech: %w", err)
	}

	return audio, nil
}

func (w *Worker) dubVideo(ctx context.Context, audio []byte, avatar core.AvatarAsset) ([]byte, error) {
	dubCtx, cancel := context.WithTimeout(ctx, w.timeouts.Dubbing)
	defer cancel()

	video, err := w.dubber.Dub(dubCtx, audio, avatar)
	if err != nil {
		return nil, fmt.Errorf("failed to dub video: %w", err)
	}

	return video, nil
}

func (w *Worker) persistVideo(ctx context.Context, job core.Job, video []byte) (string, error) {
	filename := fmt.Sprintf("generated-%s.mp4", job.ID)

	fileID, err := w.blobs.Write(ctx, job.Payload.RequesterID, filename, bytes.NewReader(video))
	if err != nil {
		return "", fmt.Errorf("failed to persist generated video: %w", err)
	}

	return fileID, nil
}
