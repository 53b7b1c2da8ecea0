package ingest_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Cadence/internal/catalog"
	"github.com/hbomb79/Cadence/internal/extract"
	"github.com/hbomb79/Cadence/internal/ingest"
	"github.com/hbomb79/Cadence/internal/objectstore"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef-test"

// fakeStore is an in-memory implementation of the ingest services data store,
// which honours the same compare-and-swap semantics as the SQL store.
type fakeStore struct {
	mu          sync.Mutex
	objects     map[uuid.UUID]*ingest.MediaObject
	tracks      map[string]uuid.UUID
	artwork     map[uuid.UUID]string
	derived     []*ingest.DerivedAsset
	ingestCalls atomic.Int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects: make(map[uuid.UUID]*ingest.MediaObject),
		tracks:  make(map[string]uuid.UUID),
		artwork: make(map[uuid.UUID]string),
	}
}

func (store *fakeStore) put(obj *ingest.MediaObject) {
	store.mu.Lock()
	defer store.mu.Unlock()

	cp := *obj
	store.objects[obj.ID] = &cp
}

func (store *fakeStore) GetMediaObject(_ context.Context, id uuid.UUID) (*ingest.MediaObject, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	obj, ok := store.objects[id]
	if !ok {
		return nil, ingest.ErrMediaObjectNotFound
	}

	cp := *obj
	return &cp, nil
}

func (store *fakeStore) TransitionMediaObject(_ context.Context, transition ingest.Transition) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	return store.transition(transition)
}

func (store *fakeStore) transition(transition ingest.Transition) error {
	obj, ok := store.objects[transition.ID]
	if !ok || obj.State != transition.From || !transition.From.CanTransitionTo(transition.To) {
		return fmt.Errorf("%w: fake refused %s -> %s", ingest.ErrTransitionRejected, transition.From, transition.To)
	}

	obj.State = transition.To
	obj.TransitionedAt = time.Now()
	if transition.MimeType != nil {
		mime := *transition.MimeType
		obj.MimeType = &mime
	}
	if transition.ObjectKey != nil {
		obj.ObjectKey = *transition.ObjectKey
	}
	if transition.Trouble != nil {
		kind, message := string(transition.Trouble.Kind()), transition.Trouble.Unwrap().Error()
		obj.ErrorKind, obj.ErrorMessage = &kind, &message
	}

	return nil
}

func (store *fakeStore) ListStrandedMediaObjects(_ context.Context, state ingest.State, olderThan time.Duration) ([]*ingest.MediaObject, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	var results []*ingest.MediaObject
	for _, obj := range store.objects {
		if obj.State == state && time.Since(obj.TransitionedAt) > olderThan {
			cp := *obj
			results = append(results, &cp)
		}
	}

	return results, nil
}

func (store *fakeStore) IngestAudio(_ context.Context, obj *ingest.MediaObject, meta *extract.Metadata) (uuid.UUID, error) {
	store.ingestCalls.Add(1)
	store.mu.Lock()
	defer store.mu.Unlock()

	key := catalog.NaturalKey(meta)
	trackID, ok := store.tracks[key]
	if !ok {
		trackID = uuid.New()
	}

	if err := store.transition(ingest.Transition{ID: obj.ID, From: ingest.Validated, To: ingest.Ingested}); err != nil {
		return uuid.Nil, err
	}

	store.tracks[key] = trackID
	store.objects[obj.ID].TrackID = &trackID
	return trackID, nil
}

func (store *fakeStore) IngestArtwork(_ context.Context, obj *ingest.MediaObject) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	return store.transition(ingest.Transition{ID: obj.ID, From: ingest.Validated, To: ingest.Ingested})
}

func (store *fakeStore) AttachTrackArtwork(_ context.Context, trackID uuid.UUID, objectKey string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if _, ok := store.artwork[trackID]; !ok {
		store.artwork[trackID] = objectKey
	}
	return nil
}

func (store *fakeStore) SaveDerivedAsset(_ context.Context, asset *ingest.DerivedAsset) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.derived = append(store.derived, asset)
	return nil
}

func (store *fakeStore) ListDerivedAssets(_ context.Context, mediaObjectID uuid.UUID) ([]*ingest.DerivedAsset, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	var assets []*ingest.DerivedAsset
	for _, asset := range store.derived {
		if asset.MediaObjectID == mediaObjectID {
			assets = append(assets, asset)
		}
	}
	return assets, nil
}

func (store *fakeStore) derivedAssets() []*ingest.DerivedAsset {
	store.mu.Lock()
	defer store.mu.Unlock()

	return append([]*ingest.DerivedAsset(nil), store.derived...)
}

func (store *fakeStore) artworkFor(trackID uuid.UUID) (string, bool) {
	store.mu.Lock()
	defer store.mu.Unlock()

	key, ok := store.artwork[trackID]
	return key, ok
}

// flakyStore wraps an object store, failing Stat with a transient error while
// unavailable is set. Setting copyOnSeal makes Seal copy the object to a new
// key, as versioned backends do, and replacedBeforeSeal reports the content as
// changed since it was digested.
type flakyStore struct {
	objectstore.Store
	unavailable        atomic.Bool
	copyOnSeal         atomic.Bool
	replacedBeforeSeal atomic.Bool
}

func (store *flakyStore) Seal(ctx context.Context, key string, version string) (string, error) {
	if store.replacedBeforeSeal.Load() {
		return "", objectstore.ErrObjectChanged
	}
	if !store.copyOnSeal.Load() {
		return store.Store.Seal(ctx, key, version)
	}

	res, err := store.Store.FetchRange(ctx, key, 0, 0)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	sealed := key + ".sealed"
	if err := store.Store.Put(ctx, sealed, res.Body, res.Length, ""); err != nil {
		return "", err
	}

	return sealed, nil
}

func (store *flakyStore) Stat(ctx context.Context, key string) (*objectstore.ObjectInfo, error) {
	if store.unavailable.Load() {
		return nil, &objectstore.TransientError{Op: "stat", Err: fmt.Errorf("connection refused")}
	}

	return store.Store.Stat(ctx, key)
}

func newObjectStore(t *testing.T) *flakyStore {
	store, err := objectstore.NewLocalStore(objectstore.LocalConfig{
		RootDir:       t.TempDir(),
		PublicBaseURL: "http://cadence.test/uploads",
		SigningSecret: testSecret,
	}, time.Minute)
	require.NoError(t, err)

	return &flakyStore{Store: store}
}

func testConfig() ingest.Config {
	return ingest.Config{
		StepTimeout:            5 * time.Second,
		SweepInterval:          time.Hour,
		StrandedAfter:          time.Minute,
		PostProcessParallelism: 1,
		ThumbnailSize:          300,
		MaxArtworkBytes:        1024 * 1024,
	}
}

// newMediaObject returns a media object in the UPLOADING state, whose declared
// size and digest describe the content provided.
func newMediaObject(kind ingest.Kind, content []byte) *ingest.MediaObject {
	id := uuid.New()
	batchID := uuid.New()
	digest := sha256.Sum256(content)

	mime := "audio/flac"
	if kind == ingest.ArtworkKind {
		mime = "image/png"
	}

	return &ingest.MediaObject{
		ID:             id,
		BatchID:        batchID,
		Kind:           kind,
		ObjectKey:      fmt.Sprintf("media/%s/%s", batchID, id),
		DeclaredSize:   int64(len(content)),
		DeclaredDigest: hex.EncodeToString(digest[:]),
		DeclaredMime:   mime,
		State:          ingest.Uploading,
		CreatedAt:      time.Now(),
		TransitionedAt: time.Now(),
		OwnerID:        uuid.New(),
	}
}

func upload(t *testing.T, store objectstore.Store, obj *ingest.MediaObject, content []byte) {
	require.NoError(t, store.Put(context.Background(), obj.ObjectKey, bytes.NewReader(content), int64(len(content)), obj.DeclaredMime))
}

// flacContent is enough of a FLAC stream for the content to be sniffed as audio/flac.
// The extractor is mocked, so the remainder of the stream is not parsed.
func flacContent() []byte {
	return append([]byte("fLaC\x00\x00\x00\x22"), bytes.Repeat([]byte{0x10}, 256)...)
}

func pngContent(t *testing.T, width, height int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0x80, A: 0xff})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testMetadata() *extract.Metadata {
	return &extract.Metadata{
		Format:   extract.FLAC,
		Title:    "Heroes",
		Artist:   "David Bowie",
		Album:    "Heroes",
		Duration: 371 * time.Second,
		Bitrate:  900,
	}
}
