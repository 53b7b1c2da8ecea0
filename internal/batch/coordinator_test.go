package batch_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Cadence/internal/batch"
	"github.com/hbomb79/Cadence/internal/event"
	"github.com/hbomb79/Cadence/internal/ingest"
	"github.com/hbomb79/Cadence/internal/objectstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "0123456789abcdef0123456789abcdef-test"
	testDigest = "sha256:BA7816BF8F01CFEA414140DE5DAE2223B00361A396177A9CB410FF61F20015AD"
)

type fakeStore struct {
	mu      sync.Mutex
	batches map[uuid.UUID]*batch.UploadBatch
	objects []*ingest.MediaObject
}

func newFakeStore() *fakeStore {
	return &fakeStore{batches: make(map[uuid.UUID]*batch.UploadBatch)}
}

func (store *fakeStore) CreateBatch(_ context.Context, b *batch.UploadBatch) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	b.CreatedAt = time.Now()
	store.batches[b.ID] = b
	return nil
}

func (store *fakeStore) GetBatch(_ context.Context, id uuid.UUID) (*batch.UploadBatch, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	if b, ok := store.batches[id]; ok {
		return b, nil
	}
	return nil, batch.ErrBatchNotFound
}

func (store *fakeStore) CreateMediaObject(_ context.Context, obj *ingest.MediaObject) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.objects = append(store.objects, obj)
	return nil
}

func (store *fakeStore) ListMediaObjectsForBatch(_ context.Context, batchID uuid.UUID) ([]*ingest.MediaObject, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	var results []*ingest.MediaObject
	for _, obj := range store.objects {
		if obj.BatchID == batchID {
			results = append(results, obj)
		}
	}
	return results, nil
}

func newCoordinator(t *testing.T, store *fakeStore, bus event.EventDispatcher) *batch.Coordinator {
	objects, err := objectstore.NewLocalStore(objectstore.LocalConfig{
		RootDir:       t.TempDir(),
		PublicBaseURL: "http://cadence.test/api/cadence/v1/uploads",
		SigningSecret: testSecret,
	}, 10*time.Minute)
	require.NoError(t, err)

	return batch.New(objects, store, bus)
}

func Test_RequestMediaSlot_GrantsUploadForObjectKey(t *testing.T) {
	store := newFakeStore()
	bus := event.New()
	updates := make(event.HandlerChannel, 4)
	bus.RegisterHandlerChannel(updates, event.BATCH_UPDATE)
	coordinator := newCoordinator(t, store, bus)

	owner := uuid.New()
	b, err := coordinator.CreateBatch(context.Background(), owner, true)
	require.NoError(t, err)

	slot, err := coordinator.RequestMediaSlot(context.Background(), owner, b.ID, batch.SlotRequest{
		Kind:           ingest.AudioKind,
		DeclaredSize:   3,
		DeclaredDigest: testDigest,
		Mime:           "audio/flac",
	})
	require.NoError(t, err)

	obj := slot.MediaObject
	assert.Equal(t, ingest.Uploading, obj.State)
	assert.Equal(t, b.ID, obj.BatchID)
	assert.Equal(t, batch.ObjectKey(b.ID, obj.ID), obj.ObjectKey)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", obj.DeclaredDigest)
	assert.True(t, obj.Private)
	assert.True(t, strings.Contains(slot.UploadURL, obj.ObjectKey), "grant URL %q is not bound to %q", slot.UploadURL, obj.ObjectKey)
	assert.Equal(t, "PUT", slot.Method)
	assert.True(t, slot.ExpiresAt.After(time.Now()))
	assert.Equal(t, event.HandlerEvent{Event: event.BATCH_UPDATE, Payload: b.ID}, <-updates)

	members, err := store.ListMediaObjectsForBatch(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func Test_RequestMediaSlot_RejectsInvalidRequests(t *testing.T) {
	store := newFakeStore()
	coordinator := newCoordinator(t, store, event.New())
	owner := uuid.New()
	b, err := coordinator.CreateBatch(context.Background(), owner, false)
	require.NoError(t, err)

	valid := batch.SlotRequest{Kind: ingest.ArtworkKind, DeclaredSize: 10, DeclaredDigest: testDigest, Mime: "image/png"}
	tests := []struct {
		summary string
		mutate  func(*batch.SlotRequest)
	}{
		{"unknown kind", func(r *batch.SlotRequest) { r.Kind = "video" }},
		{"zero size", func(r *batch.SlotRequest) { r.DeclaredSize = 0 }},
		{"negative size", func(r *batch.SlotRequest) { r.DeclaredSize = -4 }},
		{"digest not hex", func(r *batch.SlotRequest) { r.DeclaredDigest = strings.Repeat("z", 64) }},
		{"digest too short", func(r *batch.SlotRequest) { r.DeclaredDigest = "abcd" }},
	}

	for _, test := range tests {
		t.Run(test.summary, func(t *testing.T) {
			request := valid
			test.mutate(&request)

			_, err := coordinator.RequestMediaSlot(context.Background(), owner, b.ID, request)
			assert.ErrorIs(t, err, batch.ErrInvalidSlot)
		})
	}

	assert.Empty(t, store.objects)
}

func Test_RequestMediaSlot_RequiresBatchOwner(t *testing.T) {
	store := newFakeStore()
	coordinator := newCoordinator(t, store, event.New())
	b, err := coordinator.CreateBatch(context.Background(), uuid.New(), false)
	require.NoError(t, err)

	request := batch.SlotRequest{Kind: ingest.AudioKind, DeclaredSize: 10, DeclaredDigest: testDigest, Mime: "audio/mpeg"}
	_, err = coordinator.RequestMediaSlot(context.Background(), uuid.New(), b.ID, request)
	assert.ErrorIs(t, err, batch.ErrNotBatchOwner)

	_, err = coordinator.RequestMediaSlot(context.Background(), uuid.New(), uuid.New(), request)
	assert.ErrorIs(t, err, batch.ErrBatchNotFound)
	assert.Empty(t, store.objects)
}

func Test_GetBatchStatus_AggregatesMembers(t *testing.T) {
	store := newFakeStore()
	coordinator := newCoordinator(t, store, event.New())
	owner := uuid.New()
	b, err := coordinator.CreateBatch(context.Background(), owner, false)
	require.NoError(t, err)

	status, err := coordinator.GetBatchStatus(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, batch.InProgress, status.Status)

	var slots []*batch.MediaSlot
	for _, kind := range []ingest.Kind{ingest.AudioKind, ingest.ArtworkKind} {
		slot, err := coordinator.RequestMediaSlot(context.Background(), owner, b.ID, batch.SlotRequest{Kind: kind, DeclaredSize: 1, DeclaredDigest: testDigest})
		require.NoError(t, err)
		slots = append(slots, slot)
	}

	slots[0].MediaObject.State = ingest.Ready
	slots[1].MediaObject.State = ingest.Ready
	status, err = coordinator.GetBatchStatus(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, batch.Ready, status.Status)
	assert.Len(t, status.Members, 2)

	slots[1].MediaObject.State = ingest.Failed
	status, err = coordinator.GetBatchStatus(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, batch.Failed, status.Status)

	_, err = coordinator.GetBatchStatus(context.Background(), uuid.New())
	assert.ErrorIs(t, err, batch.ErrBatchNotFound)
}
