// Package assets provides lookup of reference voice and avatar assets.
//
// Assets live in two disjoint namespaces: predefined (shared) and user-owned.
// Resolution tries an explicit ordered list of providers, predefined first,
// then user-owned; the first hit wins. Ids are not assumed unique across the
// namespaces. The pipeline only reads assets; the put operations mirror what
// the out-of-scope upload flows write.
package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/book-expert/video-service/internal/core"
)

// Namespace identifies which lookup namespace an asset belongs to.
type Namespace string

// Lookup namespaces, in resolution order.
const (
	NamespacePredefined Namespace = "predefined"
	NamespaceUser       Namespace = "user"
)

// metaTextNormalized carries the normalized transcript of a voice sample.
const metaTextNormalized = "text_normalized"

// metaOwnerID carries the owning requester for user-namespace assets.
const metaOwnerID = "owner_id"

// Buckets names the object store buckets backing the four asset namespaces.
type Buckets struct {
	PredefinedVoice  string
	UserVoice        string
	PredefinedAvatar string
	UserAvatar       string
}

// provider is one namespace's backing bucket.
type provider struct {
	namespace Namespace
	store     nats.ObjectStore
}

// Store implements core.AssetResolver over ordered object store providers.
type Store struct {
	voices  []provider
	avatars []provider
}

// New creates a Store, creating or binding each namespace bucket.
func New(jetstreamContext nats.JetStreamContext, buckets Buckets) (*Store, error) {
	voicePredefined, err := createOrBindBucket(jetstreamContext, buckets.PredefinedVoice)
	if err != nil {
		return nil, err
	}

	voiceUser, err := createOrBindBucket(jetstreamContext, buckets.UserVoice)
	if err != nil {
		return nil, err
	}

	avatarPredefined, err := createOrBindBucket(jetstreamContext, buckets.PredefinedAvatar)
	if err != nil {
		return nil, err
	}

	avatarUser, err := createOrBindBucket(jetstreamContext, buckets.UserAvatar)
	if err != nil {
		return nil, err
	}

	return &Store{
		voices: []provider{
			{namespace: NamespacePredefined, store: voicePredefined},
			{namespace: NamespaceUser, store: voiceUser},
		},
		avatars: []provider{
			{namespace: NamespacePredefined, store: avatarPredefined},
			{namespace: NamespaceUser, store: avatarUser},
		},
	}, nil
}

func createOrBindBucket(jetstreamContext nats.JetStreamContext, bucketName string) (nats.ObjectStore, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Asset storage for the %s bucket.", bucketName),
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if errors.Is(err, jetstream.ErrBucketExists) {
			store, err = jetstreamContext.ObjectStore(bucketName)
			if err != nil {
				return nil, fmt.Errorf("failed to bind to existing asset bucket '%s': %w", bucketName, err)
			}
		} else {
			return nil, fmt.Errorf("failed to create asset bucket '%s': %w", bucketName, err)
		}
	}

	return store, nil
}

// ResolveVoice looks up a voice asset, predefined namespace first, then
// user-owned.
func (s *Store) ResolveVoice(_ context.Context, assetID string) (core.VoiceAsset, error) {
	for _, prov := range s.voices {
		audio, info, err := getWithInfo(prov.store, assetID)
		if err != nil {
			if errors.Is(err, nats.ErrObjectNotFound) {
				continue
			}

			return core.VoiceAsset{}, fmt.Errorf(
				"failed to read voice asset '%s' from namespace '%s': %w",
				assetID, prov.namespace, err)
		}

		return core.VoiceAsset{
			ID:             assetID,
			Audio:          audio,
			TextNormalized: info.Metadata[metaTextNormalized],
		}, nil
	}

	return core.VoiceAsset{}, fmt.Errorf("%w: voice '%s'", core.ErrAssetNotFound, assetID)
}

// ResolveAvatar looks up an avatar asset, predefined namespace first, then
// user-owned.
func (s *Store) ResolveAvatar(_ context.Context, assetID string) (core.AvatarAsset, error) {
	for _, prov := range s.avatars {
		video, _, err := getWithInfo(prov.store, assetID)
		if err != nil {
			if errors.Is(err, nats.ErrObjectNotFound) {
				continue
			}

			return core.AvatarAsset{}, fmt.Errorf(
				"failed to read avatar asset '%s' from namespace '%s': %w",
				assetID, prov.namespace, err)
		}

		return core.AvatarAsset{ID: assetID, Video: video}, nil
	}

	return core.AvatarAsset{}, fmt.Errorf("%w: avatar '%s'", core.ErrAssetNotFound, assetID)
}

// PutVoice stores a voice sample and its normalized transcript in the given
// namespace. ownerID is recorded for user-namespace assets and ignored for
// predefined ones.
func (s *Store) PutVoice(
	_ context.Context,
	namespace Namespace,
	assetID, ownerID string,
	audio []byte,
	textNormalized string,
) error {
	prov, err := findProvider(s.voices, namespace)
	if err != nil {
		return err
	}

	meta := map[string]string{metaTextNormalized: textNormalized}
	if namespace == NamespaceUser {
		meta[metaOwnerID] = ownerID
	}

	return putObject(prov.store, assetID, meta, audio)
}

// PutAvatar stores an avatar reference video in the given namespace.
func (s *Store) PutAvatar(
	_ context.Context,
	namespace Namespace,
	assetID, ownerID string,
	video []byte,
) error {
	prov, err := findProvider(s.avatars, namespace)
	if err != nil {
		return err
	}

	meta := make(map[string]string)
	if namespace == NamespaceUser {
		meta[metaOwnerID] = ownerID
	}

	return putObject(prov.store, assetID, meta, video)
}

func findProvider(providers []provider, namespace Namespace) (provider, error) {
	for _, prov := range providers {
		if prov.namespace == namespace {
			return prov, nil
		}
	}

	return provider{}, fmt.Errorf("unknown asset namespace '%s'", namespace)
}

func putObject(store nats.ObjectStore, assetID string, meta map[string]string, data []byte) error {
	_, err := store.Put(&nats.ObjectMeta{
		Name:     assetID,
		Metadata: meta,
	}, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to put asset '%s': %w", assetID, err)
	}

	return nil
}

func getWithInfo(store nats.ObjectStore, assetID string) ([]byte, *nats.ObjectInfo, error) {
	obj, err := store.Get(assetID)
	if err != nil {
		return nil, nil, err
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, nil, fmt.Errorf("failed to read asset '%s': %w", assetID, readErr)
	}

	if closeErr != nil {
		return nil, nil, fmt.Errorf("failed to close asset '%s': %w", assetID, closeErr)
	}

	info, infoErr := store.GetInfo(assetID)
	if infoErr != nil {
		return nil, nil, fmt.Errorf("failed to stat asset '%s': %w", assetID, infoErr)
	}

	return data, info, nil
}
