// Package api_test tests the submission and status endpoints.
package api_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/video-service/internal/api"
	"github.com/book-expert/video-service/internal/core"
)

// fakeJobStore records enqueued jobs and serves reads from memory.
type fakeJobStore struct {
	mu       sync.Mutex
	jobs     map[string]core.Job
	enqueued []core.Job
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]core.Job)}
}

func (f *fakeJobStore) Enqueue(_ context.Context, job core.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.jobs[job.ID] = job
	f.enqueued = append(f.enqueued, job)

	return nil
}

func (f *fakeJobStore) Dequeue(ctx context.Context) (core.Job, error) {
	<-ctx.Done()

	return core.Job{}, ctx.Err()
}

func (f *fakeJobStore) Get(_ context.Context, jobID string) (core.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[jobID]
	if !ok {
		return core.Job{}, core.ErrJobNotFound
	}

	return job, nil
}

func (f *fakeJobStore) SetActive(_ context.Context, jobID string) error {
	return f.setState(jobID, core.StateActive)
}

func (f *fakeJobStore) SetCompleted(_ context.Context, jobID, fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	job := f.jobs[jobID]
	job.State = core.StateCompleted
	job.ResultFileID = fileID
	f.jobs[jobID] = job

	return nil
}

func (f *fakeJobStore) SetFailed(_ context.Context, jobID string, stage core.Stage, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	job := f.jobs[jobID]
	job.State = core.StateFailed
	job.ErrorStage = stage
	job.ErrorMessage = message
	f.jobs[jobID] = job

	return nil
}

func (f *fakeJobStore) setState(jobID string, state core.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	job := f.jobs[jobID]
	job.State = state
	f.jobs[jobID] = job

	return nil
}

var errBlobMissing = errors.New("blob missing")

// fakeBlobStore serves blobs from a fixed map.
type fakeBlobStore struct {
	blobs map[string][]byte
}

func (f *fakeBlobStore) Write(_ context.Context, _, _ string, data io.Reader) (string, error) {
	_, err := io.ReadAll(data)

	return "unused", err
}

func (f *fakeBlobStore) Read(_ context.Context, fileID string) (io.ReadCloser, error) {
	content, ok := f.blobs[fileID]
	if !ok {
		return nil, errBlobMissing
	}

	return io.NopCloser(bytes.NewReader(content)), nil
}

func (f *fakeBlobStore) Stat(_ context.Context, fileID string) (core.BlobInfo, error) {
	content, ok := f.blobs[fileID]
	if !ok {
		return core.BlobInfo{}, errBlobMissing
	}

	return core.BlobInfo{FileID: fileID, Size: uint64(len(content))}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeJobStore, *fakeBlobStore) {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "api-test.log")
	require.NoError(t, err)

	jobs := newFakeJobStore()
	blobs := &fakeBlobStore{blobs: make(map[string][]byte)}

	server := httptest.NewServer(api.NewServer(jobs, blobs, testLogger).Handler())
	t.Cleanup(server.Close)

	return server, jobs, blobs
}

func submitBody() string {
	return `{
		"requesterId": "user-1",
		"scriptText": "Hello world",
		"voiceAssetId": "v1",
		"avatarAssetId": "a1"
	}`
}

func postJob(t *testing.T, server *httptest.Server, body string) (*http.Response, api.SubmitResponse) {
	t.Helper()

	resp, err := http.Post(server.URL+"/jobs", "application/json", strings.NewReader(body))
	require.NoError(t, err)

	var submitResp api.SubmitResponse

	decodeErr := json.NewDecoder(resp.Body).Decode(&submitResp)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, decodeErr)

	return resp, submitResp
}

func getStatus(t *testing.T, server *httptest.Server, jobID string) api.StatusResponse {
	t.Helper()

	resp, err := http.Get(server.URL + "/jobs/" + jobID + "/status")
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status api.StatusResponse

	decodeErr := json.NewDecoder(resp.Body).Decode(&status)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, decodeErr)

	return status
}

func TestSubmitEnqueuesQueuedJob(t *testing.T) {
	t.Parallel()

	server, jobs, _ := newTestServer(t)

	resp, submitResp := postJob(t, server, submitBody())

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NotEmpty(t, submitResp.JobID)

	job, err := jobs.Get(context.Background(), submitResp.JobID)
	require.NoError(t, err)
	assert.Equal(t, core.StateQueued, job.State)
	assert.Equal(t, "user-1", job.Payload.RequesterID)
	assert.Equal(t, "Hello world", job.Payload.ScriptText)
	assert.Equal(t, "v1", job.Payload.VoiceAssetID)
	assert.Equal(t, "a1", job.Payload.AvatarAssetID)
	assert.False(t, job.CreatedAt.IsZero())
}

func TestSubmitIsVisibleToImmediatePoll(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)

	_, submitResp := postJob(t, server, submitBody())

	status := getStatus(t, server, submitResp.JobID)
	assert.Equal(t, "processing", status.Status)
}

func TestSubmitDoesNotResolveAssets(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)

	// A nonexistent asset id is syntactically fine; it only fails later,
	// inside the worker.
	body := `{
		"requesterId": "user-1",
		"scriptText": "Hello",
		"voiceAssetId": "does-not-exist-anywhere",
		"avatarAssetId": "a1"
	}`

	resp, submitResp := postJob(t, server, body)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.NotEmpty(t, submitResp.JobID)
}

func TestSubmitValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
	}{
		{
			name: "empty script",
			body: `{"requesterId":"u","scriptText":"","voiceAssetId":"v1","avatarAssetId":"a1"}`,
		},
		{
			name: "whitespace script",
			body: `{"requesterId":"u","scriptText":"   ","voiceAssetId":"v1","avatarAssetId":"a1"}`,
		},
		{
			name: "empty requester",
			body: `{"requesterId":"","scriptText":"hi","voiceAssetId":"v1","avatarAssetId":"a1"}`,
		},
		{
			name: "malformed voice id",
			body: `{"requesterId":"u","scriptText":"hi","voiceAssetId":"../etc","avatarAssetId":"a1"}`,
		},
		{
			name: "malformed avatar id",
			body: `{"requesterId":"u","scriptText":"hi","voiceAssetId":"v1","avatarAssetId":"bad id"}`,
		},
		{
			name: "missing avatar id",
			body: `{"requesterId":"u","scriptText":"hi","voiceAssetId":"v1"}`,
		},
	}

	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			server, jobs, _ := newTestServer(t)

			resp, err := http.Post(server.URL+"/jobs", "application/json", strings.NewReader(testCase.body))
			require.NoError(t, err)
			require.NoError(t, resp.Body.Close())

			assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
			assert.Empty(t, jobs.enqueued, "nothing may be enqueued on validation failure")
		})
	}
}

func TestSubmitRejectsMalformedBody(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)

	resp, err := http.Post(server.URL+"/jobs", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusUnknownJob(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)

	status := getStatus(t, server, "never-submitted")
	assert.Equal(t, "not_found", status.Status)
	assert.Empty(t, status.Message)
	assert.Empty(t, status.Video)
}

func TestStatusProcessingStates(t *testing.T) {
	t.Parallel()

	server, jobs, _ := newTestServer(t)

	_, submitResp := postJob(t, server, submitBody())

	assert.Equal(t, "processing", getStatus(t, server, submitResp.JobID).Status)

	require.NoError(t, jobs.SetActive(context.Background(), submitResp.JobID))
	assert.Equal(t, "processing", getStatus(t, server, submitResp.JobID).Status)
}

func TestStatusFailedCarriesMessage(t *testing.T) {
	t.Parallel()

	server, jobs, _ := newTestServer(t)

	_, submitResp := postJob(t, server, submitBody())

	require.NoError(t, jobs.SetFailed(
		context.Background(), submitResp.JobID, core.StageSynthesize, "tts unreachable"))

	status := getStatus(t, server, submitResp.JobID)
	assert.Equal(t, "failed", status.Status)
	assert.Equal(t, "tts unreachable", status.Message)
	assert.Empty(t, status.Video)
}

func TestStatusCompletedReturnsExactVideoBytes(t *testing.T) {
	t.Parallel()

	server, jobs, blobs := newTestServer(t)

	_, submitResp := postJob(t, server, submitBody())

	videoBytes := []byte{0x00, 0x00, 0x00, 0x20, 0x66, 0x74, 0x79, 0x70, 0xFF, 0xFE}
	blobs.blobs["file-1"] = videoBytes
	require.NoError(t, jobs.SetCompleted(context.Background(), submitResp.JobID, "file-1"))

	status := getStatus(t, server, submitResp.JobID)
	require.Equal(t, "completed", status.Status)
	require.NotEmpty(t, status.Video)

	decoded, err := base64.StdEncoding.DecodeString(status.Video)
	require.NoError(t, err)
	assert.Equal(t, videoBytes, decoded)
}

func TestStatusCompletedWithUnreadableBlobDegradesToFailed(t *testing.T) {
	t.Parallel()

	server, jobs, _ := newTestServer(t)

	_, submitResp := postJob(t, server, submitBody())
	require.NoError(t, jobs.SetCompleted(context.Background(), submitResp.JobID, "gone"))

	status := getStatus(t, server, submitResp.JobID)
	assert.Equal(t, "failed", status.Status)
	assert.NotEmpty(t, status.Message)
}

func TestConcurrentSubmissionsGetDistinctJobIDs(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)

	const submissions = 10

	ids := make(chan string, submissions)

	var waitGroup sync.WaitGroup

	for range submissions {
		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()

			_, submitResp := postJob(t, server, submitBody())
			ids <- submitResp.JobID
		}()
	}

	waitGroup.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		require.NotEmpty(t, id)
		assert.False(t, seen[id], "job id %s issued twice", id)
		seen[id] = true
	}
}

func TestStatusRejectsUnknownSubresource(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/jobs/some-id/result")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
