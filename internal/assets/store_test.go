// Package assets_test tests asset resolution across namespaces.
package assets_test

import (
	"context"
	"testing"

	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/video-service/internal/assets"
	"github.com/book-expert/video-service/internal/core"
)

func startTestStore(t *testing.T) *assets.Store {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)
	t.Cleanup(natsServer.Shutdown)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	require.NoError(t, err)
	t.Cleanup(natsConnection.Close)

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	store, err := assets.New(jetstreamContext, assets.Buckets{
		PredefinedVoice:  "VOICES_PREDEFINED",
		UserVoice:        "VOICES_USER",
		PredefinedAvatar: "AVATARS_PREDEFINED",
		UserAvatar:       "AVATARS_USER",
	})
	require.NoError(t, err)

	return store
}

func TestResolveVoiceFromPredefinedNamespace(t *testing.T) {
	t.Parallel()

	store := startTestStore(t)
	ctx := context.Background()

	err := store.PutVoice(ctx, assets.NamespacePredefined, "v1", "", []byte("wav bytes"), "hello there")
	require.NoError(t, err)

	voice, err := store.ResolveVoice(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "v1", voice.ID)
	assert.Equal(t, []byte("wav bytes"), voice.Audio)
	assert.Equal(t, "hello there", voice.TextNormalized)
}

func TestResolveVoiceFallsBackToUserNamespace(t *testing.T) {
	t.Parallel()

	store := startTestStore(t)
	ctx := context.Background()

	err := store.PutVoice(ctx, assets.NamespaceUser, "my-voice", "user-1", []byte("user wav"), "custom text")
	require.NoError(t, err)

	voice, err := store.ResolveVoice(ctx, "my-voice")
	require.NoError(t, err)
	assert.Equal(t, []byte("user wav"), voice.Audio)
	assert.Equal(t, "custom text", voice.TextNormalized)
}

func TestResolveVoicePredefinedWinsOnCollision(t *testing.T) {
	t.Parallel()

	store := startTestStore(t)
	ctx := context.Background()

	// Ids are not guaranteed unique across namespaces; the fixed lookup
	// order makes the predefined copy win.
	require.NoError(t, store.PutVoice(
		ctx, assets.NamespacePredefined, "shared-id", "", []byte("predefined"), "p"))
	require.NoError(t, store.PutVoice(
		ctx, assets.NamespaceUser, "shared-id", "user-1", []byte("user-owned"), "u"))

	voice, err := store.ResolveVoice(ctx, "shared-id")
	require.NoError(t, err)
	assert.Equal(t, []byte("predefined"), voice.Audio)
}

func TestResolveVoiceAbsentInBothNamespaces(t *testing.T) {
	t.Parallel()

	store := startTestStore(t)

	_, err := store.ResolveVoice(context.Background(), "missing")
	require.ErrorIs(t, err, core.ErrAssetNotFound)
}

func TestResolveAvatar(t *testing.T) {
	t.Parallel()

	store := startTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutAvatar(
		ctx, assets.NamespacePredefined, "a1", "", []byte("mp4 bytes")))

	avatar, err := store.ResolveAvatar(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "a1", avatar.ID)
	assert.Equal(t, []byte("mp4 bytes"), avatar.Video)
}

func TestResolveAvatarUserNamespace(t *testing.T) {
	t.Parallel()

	store := startTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutAvatar(
		ctx, assets.NamespaceUser, "face-2", "user-2", []byte("user mp4")))

	avatar, err := store.ResolveAvatar(ctx, "face-2")
	require.NoError(t, err)
	assert.Equal(t, []byte("user mp4"), avatar.Video)
}

func TestResolveAvatarAbsent(t *testing.T) {
	t.Parallel()

	store := startTestStore(t)

	_, err := store.ResolveAvatar(context.Background(), "missing")
	require.ErrorIs(t, err, core.ErrAssetNotFound)
}

func TestVoiceAndAvatarNamespacesAreDisjoint(t *testing.T) {
	t.Parallel()

	store := startTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutVoice(
		ctx, assets.NamespacePredefined, "same-id", "", []byte("wav"), "t"))

	// A voice id does not resolve as an avatar.
	_, err := store.ResolveAvatar(ctx, "same-id")
	require.ErrorIs(t, err, core.ErrAssetNotFound)
}
