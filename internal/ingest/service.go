package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/hbomb79/Cadence/internal/event"
	"github.com/hbomb79/Cadence/internal/extract"
	"github.com/hbomb79/Cadence/internal/metrics"
	"github.com/hbomb79/Cadence/internal/objectstore"
	"github.com/hbomb79/Cadence/pkg/logger"
	tsync "github.com/hbomb79/Cadence/pkg/sync"
	"github.com/hbomb79/Cadence/pkg/worker"
)

// sniffLength is the number of leading bytes used to detect the MIME type of an object
const sniffLength = 3072

var (
	log = logger.Get("IngestServ")

	ErrServiceStopped = errors.New("ingest service has stopped")
)

type (
	extractor interface {
		ExtractMetadata(src extract.Source, mime string) (*extract.Metadata, error)
		ExtractPicture(src extract.Source, mime string) (*extract.Picture, error)
	}

	dataStore interface {
		GetMediaObject(ctx context.Context, id uuid.UUID) (*MediaObject, error)
		TransitionMediaObject(ctx context.Context, transition Transition) error
		ListStrandedMediaObjects(ctx context.Context, state State, olderThan time.Duration) ([]*MediaObject, error)

		// IngestAudio must, in a single transaction, reconcile the metadata in to the
		// catalog, link the object to the resulting track and transition the object
		// from VALIDATED to INGESTED.
		IngestAudio(ctx context.Context, obj *MediaObject, meta *extract.Metadata) (uuid.UUID, error)

		// IngestArtwork must, in a single transaction, attach the artwork to the albums
		// of any ingested audio in the same batch and transition the object from
		// VALIDATED to INGESTED.
		IngestArtwork(ctx context.Context, obj *MediaObject) error

		AttachTrackArtwork(ctx context.Context, trackID uuid.UUID, objectKey string) error
		SaveDerivedAsset(ctx context.Context, asset *DerivedAsset) error
		ListDerivedAssets(ctx context.Context, mediaObjectID uuid.UUID) ([]*DerivedAsset, error)
	}

	// ingestCall is a single in-flight drive of a media object. Concurrent triggers
	// for the same object wait on, and share the result of, the same call.
	ingestCall struct {
		done chan struct{}
		obj  *MediaObject
		err  error
	}

	// ingestService drives media objects through the ingestion state machine:
	//  - Confirming the upload has landed in the object store
	//  - Validating the size, digest and sniffed MIME type against those declared
	//  - Extracting metadata from audio and reconciling it in to the catalog
	//  - Promoting the object to READY and queueing best-effort post-processing
	// All transitions are persisted as a compare-and-swap, so any number of Cadence
	// processes may drive the same object without corrupting its state.
	ingestService struct {
		*sync.Mutex
		extractor extractor
		objects   objectstore.Store
		dataStore dataStore
		eventBus  event.EventDispatcher
		config    Config

		inflight       tsync.TypedSyncMap[uuid.UUID, *ingestCall]
		running        sync.WaitGroup
		stopped        bool
		postProcessing []*MediaObject
		workerPool     *worker.WorkerPool
	}
)

func New(config Config, extractor extractor, objects objectstore.Store, store dataStore, eventBus event.EventDispatcher) (*ingestService, error) {
	if config.StepTimeout <= 0 {
		return nil, fmt.Errorf("ingest step timeout must be positive, found %s", config.StepTimeout)
	}
	if config.SweepInterval <= 0 {
		return nil, fmt.Errorf("ingest sweep interval must be positive, found %s", config.SweepInterval)
	}

	service := &ingestService{
		Mutex:          &sync.Mutex{},
		extractor:      extractor,
		objects:        objects,
		dataStore:      store,
		eventBus:       eventBus,
		config:         config,
		postProcessing: make([]*MediaObject, 0),
		workerPool:     worker.NewWorkerPool(),
	}

	for i := 0; i < max(config.PostProcessParallelism, 1); i++ {
		label := fmt.Sprintf("postprocess-worker-%d", i)
		service.workerPool.PushWorker(worker.NewWorker(label, service.PerformPostProcess))
	}

	return service, nil
}

// Run starts the post-processing workers and periodically sweeps for media objects
// which have been stranded in INGESTED (for example, because the process driving them
// exited before promoting them). When the context is cancelled, Run waits for in-flight
// ingestions and post-processing to finish before returning.
func (service *ingestService) Run(ctx context.Context) error {
	if err := service.workerPool.Start(); err != nil {
		return err
	}

	sweepTicker := time.NewTicker(service.config.SweepInterval)
	defer sweepTicker.Stop()

	service.SweepStranded(ctx)
	for {
		select {
		case <-sweepTicker.C:
			service.SweepStranded(ctx)
		case <-ctx.Done():
			service.Lock()
			service.stopped = true
			service.Unlock()

			log.Emit(logger.STOP, "Waiting for in-flight ingestions to finish...\n")
			service.running.Wait()
			service.workerPool.Close()
			return nil
		}
	}
}

// GetStatus returns the current state of the media object
func (service *ingestService) GetStatus(ctx context.Context, id uuid.UUID) (*MediaObject, error) {
	return service.dataStore.GetMediaObject(ctx, id)
}

// GetDerivedAssets returns the assets produced by post-processing the media object.
// Post-processing is best-effort, so a READY object may have none.
func (service *ingestService) GetDerivedAssets(ctx context.Context, id uuid.UUID) ([]*DerivedAsset, error) {
	if _, err := service.dataStore.GetMediaObject(ctx, id); err != nil {
		return nil, err
	}

	return service.dataStore.ListDerivedAssets(ctx, id)
}

// SignalUploaded informs the service that the client believes the upload for the
// media object has completed. The signal is not trusted; the object store is consulted
// to confirm the object exists (with a non-zero size) before the object moves to
// UPLOADED. If the object is not yet present, the state is left untouched and a
// retryable OBJECT_NOT_YET_PRESENT trouble is returned.
//
// Signalling an object which has already moved past UPLOADING is a no-op.
func (service *ingestService) SignalUploaded(ctx context.Context, id uuid.UUID) (*MediaObject, error) {
	obj, err := service.dataStore.GetMediaObject(ctx, id)
	if err != nil {
		return nil, err
	}
	if obj.State != Uploading {
		return obj, nil
	}

	if err := service.confirmUpload(ctx, obj); err != nil && !errors.Is(err, ErrTransitionRejected) {
		if trouble := classifyTrouble(err); trouble != nil {
			metrics.IngestTroubles.WithLabelValues(string(trouble.Kind())).Inc()
			return obj, trouble
		}
		return obj, err
	}

	return service.refresh(ctx, obj)
}

// TriggerIngest drives the media object through as many steps of the state machine
// as possible. Calling this for an object which is INGESTED, READY or FAILED performs
// no work and returns the current state.
//
// The ingestion runs detached from the context provided, so a caller which gives up
// waiting (e.g. a cancelled HTTP request) does not abort a step midway through; the
// caller instead receives the context error and may poll the status later.
func (service *ingestService) TriggerIngest(ctx context.Context, id uuid.UUID) (*MediaObject, error) {
	return service.drive(ctx, id, false)
}

// SweepStranded promotes all media objects which have been INGESTED for longer than
// the configured threshold.
func (service *ingestService) SweepStranded(ctx context.Context) {
	stranded, err := service.dataStore.ListStrandedMediaObjects(ctx, Ingested, service.config.StrandedAfter)
	if err != nil {
		log.Errorf("Failed to list stranded media objects: %v\n", err)
		return
	}

	for _, obj := range stranded {
		log.Emit(logger.NEW, "Promoting stranded %s\n", obj)
		if _, err := service.drive(ctx, obj.ID, true); err != nil {
			log.Warnf("Failed to promote stranded %s: %v\n", obj, err)
			continue
		}
		metrics.StrandedPromotions.Inc()
	}
}

// drive runs the state machine for the media object in a detached goroutine, sharing
// the run with any other concurrent callers for the same object.
func (service *ingestService) drive(ctx context.Context, id uuid.UUID, resumeIngested bool) (*MediaObject, error) {
	call := &ingestCall{done: make(chan struct{})}
	if existing, loaded := service.inflight.LoadOrStore(id, call); loaded {
		return service.await(ctx, existing)
	}

	service.Lock()
	if service.stopped {
		service.Unlock()
		service.inflight.Delete(id)
		close(call.done)
		return nil, ErrServiceStopped
	}
	service.running.Add(1)
	service.Unlock()
	metrics.IngestsInFlight.Set(float64(service.inflight.Len()))

	go func(ctx context.Context) {
		defer service.running.Done()
		defer close(call.done)
		defer func() {
			service.inflight.Delete(id)
			metrics.IngestsInFlight.Set(float64(service.inflight.Len()))
		}()

		call.obj, call.err = service.run(ctx, id, resumeIngested)
	}(context.WithoutCancel(ctx))

	return service.await(ctx, call)
}

func (service *ingestService) await(ctx context.Context, call *ingestCall) (*MediaObject, error) {
	select {
	case <-call.done:
		if call.obj == nil && call.err == nil {
			return nil, ErrServiceStopped
		}
		return call.obj, call.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run repeatedly performs the step for the objects current state until the object
// reaches a terminal state, or a step returns a retryable trouble. The object is
// re-read after every step, so a transition rejected because another actor moved
// the object simply resumes from wherever the object now is.
func (service *ingestService) run(ctx context.Context, id uuid.UUID, resumeIngested bool) (*MediaObject, error) {
	obj, err := service.dataStore.GetMediaObject(ctx, id)
	if err != nil {
		return nil, err
	}
	if obj.State.IsTerminal() || (obj.State == Ingested && !resumeIngested) {
		return obj, nil
	}

	for !obj.State.IsTerminal() {
		stepErr := service.step(ctx, obj)

		next, err := service.refresh(ctx, obj)
		if err != nil {
			return obj, err
		}

		if errors.Is(stepErr, ErrTransitionRejected) {
			if next.State == obj.State {
				return next, stepErr
			}
			log.Debugf("Transition of %s rejected, object has since moved to %s\n", obj, next.State)
		} else if stepErr != nil {
			return service.handleTrouble(ctx, next, stepErr)
		}

		obj = next
	}

	return obj, nil
}

// step performs the single transition out of the objects current state
func (service *ingestService) step(ctx context.Context, obj *MediaObject) error {
	ctx, cancel := context.WithTimeout(ctx, service.config.StepTimeout)
	defer cancel()
	defer func(start time.Time) {
		metrics.IngestStepDuration.WithLabelValues(string(obj.State)).Observe(time.Since(start).Seconds())
	}(time.Now())

	switch obj.State {
	case Uploading:
		return service.confirmUpload(ctx, obj)
	case Uploaded:
		return service.validate(ctx, obj)
	case Validated:
		return service.ingest(ctx, obj)
	case Ingested:
		return service.promote(ctx, obj)
	default:
		return fmt.Errorf("%w: no step exists for state %s", ErrTransitionRejected, obj.State)
	}
}

// confirmUpload moves the object from UPLOADING to UPLOADED once the object store
// confirms the object exists with a non-zero size.
func (service *ingestService) confirmUpload(ctx context.Context, obj *MediaObject) error {
	info, err := service.objects.Stat(ctx, obj.ObjectKey)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", obj, err)
	}
	if !info.Exists {
		return newTroublef(OBJECT_NOT_YET_PRESENT, "no object exists at key %q", obj.ObjectKey)
	} else if info.Size == 0 {
		return newTroublef(OBJECT_NOT_YET_PRESENT, "object at key %q is empty", obj.ObjectKey)
	}

	return service.transition(ctx, obj, Transition{ID: obj.ID, From: Uploading, To: Uploaded})
}

// validate verifies the uploaded object against the values declared when the media
// slot was requested. The digested version of the object is then sealed, so that
// content uploaded after this point is never served, and the MIME type is sniffed
// from the leading bytes of the sealed object and must match the kind of the object.
func (service *ingestService) validate(ctx context.Context, obj *MediaObject) error {
	info, err := service.objects.Digest(ctx, obj.ObjectKey)
	if errors.Is(err, objectstore.ErrObjectNotFound) {
		return newTroublef(INTEGRITY_MISMATCH, "object at key %q no longer exists", obj.ObjectKey)
	} else if err != nil {
		return fmt.Errorf("failed to digest %s: %w", obj, err)
	}

	if info.Size != obj.DeclaredSize {
		return newTroublef(INTEGRITY_MISMATCH, "object size %d does not match declared size %d", info.Size, obj.DeclaredSize)
	}
	if info.Digest != objectstore.NormalizeDigest(obj.DeclaredDigest) {
		return newTroublef(INTEGRITY_MISMATCH, "object digest %s does not match declared digest %s", info.Digest, obj.DeclaredDigest)
	}

	sealedKey, err := service.objects.Seal(ctx, obj.ObjectKey, info.Version)
	if errors.Is(err, objectstore.ErrObjectChanged) || errors.Is(err, objectstore.ErrObjectNotFound) {
		return newTroublef(INTEGRITY_MISMATCH, "object at key %q changed while being validated", obj.ObjectKey)
	} else if err != nil {
		return fmt.Errorf("failed to seal %s: %w", obj, err)
	}

	mime, err := service.sniff(ctx, obj, sealedKey)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(mime, obj.Kind.ExpectedMimePrefix()) {
		return newTroublef(INTEGRITY_MISMATCH, "detected content type %s is not valid for %s objects", mime, obj.Kind)
	}

	return service.transition(ctx, obj, Transition{ID: obj.ID, From: Uploaded, To: Validated, MimeType: &mime, ObjectKey: &sealedKey})
}

func (service *ingestService) sniff(ctx context.Context, obj *MediaObject, key string) (string, error) {
	res, err := service.objects.FetchRange(ctx, key, 0, sniffLength)
	if err != nil {
		return "", fmt.Errorf("failed to fetch leading bytes of %s: %w", obj, err)
	}
	defer res.Body.Close()

	head, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read leading bytes of %s: %w", obj, err)
	}

	return mimetype.Detect(head).String(), nil
}

// ingest attaches the validated object to the catalog, moving it to INGESTED
func (service *ingestService) ingest(ctx context.Context, obj *MediaObject) error {
	if obj.Kind == ArtworkKind {
		return service.dataStore.IngestArtwork(ctx, obj)
	}

	meta, err := service.extractor.ExtractMetadata(service.sourceFor(ctx, obj), obj.mime())
	if err != nil {
		return fmt.Errorf("failed to extract metadata from %s: %w", obj, err)
	}

	log.Debugf("Extracted metadata from %s: %q by %q (%s)\n", obj, meta.Title, meta.Artist, meta.Duration)
	trackID, err := service.dataStore.IngestAudio(ctx, obj, meta)
	if err != nil {
		return err
	}

	log.Emit(logger.SUCCESS, "Ingested %s as track %s\n", obj, trackID)
	return nil
}

// promote moves the object from INGESTED to READY, and queues the object for
// best-effort post-processing.
func (service *ingestService) promote(ctx context.Context, obj *MediaObject) error {
	if err := service.transition(ctx, obj, Transition{ID: obj.ID, From: Ingested, To: Ready}); err != nil {
		return err
	}

	if obj.Kind == AudioKind && obj.TrackID != nil {
		service.eventBus.Dispatch(event.TRACK_READY, *obj.TrackID)
	}
	ready := *obj
	ready.State = Ready
	service.queuePostProcess(&ready)
	return nil
}

// handleTrouble inspects an error returned from a step. Terminal troubles move the
// object to FAILED, recording the trouble against it; any other error is returned to
// the caller with the objects state untouched.
func (service *ingestService) handleTrouble(ctx context.Context, obj *MediaObject, err error) (*MediaObject, error) {
	trouble := classifyTrouble(err)
	if trouble == nil {
		log.Errorf("Ingestion of %s failed unexpectedly: %v\n", obj, err)
		return obj, err
	}

	metrics.IngestTroubles.WithLabelValues(string(trouble.Kind())).Inc()
	if !trouble.IsTerminal() {
		log.Warnf("Ingestion of %s encountered retryable trouble: %v\n", obj, trouble)
		return obj, trouble
	}

	log.Emit(logger.REMOVE, "Ingestion of %s failed: %v\n", obj, trouble)
	failure := Transition{ID: obj.ID, From: obj.State, To: Failed, Trouble: trouble}
	if err := service.transition(ctx, obj, failure); err != nil && !errors.Is(err, ErrTransitionRejected) {
		return obj, fmt.Errorf("failed to record failure of %s: %w", obj, err)
	}

	return service.refresh(ctx, obj)
}

func (service *ingestService) transition(ctx context.Context, obj *MediaObject, transition Transition) error {
	if err := service.dataStore.TransitionMediaObject(ctx, transition); err != nil {
		return err
	}

	metrics.MediaObjectTransitions.WithLabelValues(string(obj.Kind), string(transition.To)).Inc()
	return nil
}

// refresh re-reads the object, dispatching update events if its state has changed
func (service *ingestService) refresh(ctx context.Context, obj *MediaObject) (*MediaObject, error) {
	next, err := service.dataStore.GetMediaObject(ctx, obj.ID)
	if err != nil {
		return nil, err
	}

	if next.State != obj.State {
		service.eventBus.Dispatch(event.MEDIA_OBJECT_UPDATE, next.ID)
		service.eventBus.Dispatch(event.BATCH_UPDATE, next.BatchID)
	}

	return next, nil
}

func (service *ingestService) sourceFor(ctx context.Context, obj *MediaObject) *objectstore.RangeReader {
	return objectstore.NewRangeReader(ctx, service.objects, obj.ObjectKey, obj.DeclaredSize)
}

// mime returns the sniffed MIME type of the object, falling back to the
// declared type if the object has not yet been validated.
func (obj *MediaObject) mime() string {
	if obj.MimeType != nil {
		return *obj.MimeType
	}

	return obj.DeclaredMime
}
