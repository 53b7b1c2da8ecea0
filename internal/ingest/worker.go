package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"

	"github.com/google/uuid"
	"github.com/hbomb79/Cadence/internal/extract"
	"github.com/hbomb79/Cadence/internal/metrics"
	"github.com/hbomb79/Cadence/pkg/logger"
	"github.com/hbomb79/Cadence/pkg/worker"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	thumbnailQuality = 85

	// maxArtworkPixels bounds the decoded size of artwork, so a small but
	// maliciously crafted image cannot exhaust memory when decoded.
	maxArtworkPixels = 64 * 1024 * 1024
)

var errArtworkTooLarge = errors.New("artwork exceeds the maximum size for thumbnail generation")

// PerformPostProcess is the worker function for the services WorkerPool. It claims
// the first media object queued for post-processing, and performs the best-effort
// processing for its kind. Failures are logged and otherwise ignored, as a READY
// object must never move back out of READY.
func (service *ingestService) PerformPostProcess(w worker.Worker) (bool, error) {
	obj := service.claimPostProcess()
	if obj == nil {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), service.config.StepTimeout)
	defer cancel()

	var err error
	switch obj.Kind {
	case ArtworkKind:
		err = service.generateThumbnail(ctx, obj)
	case AudioKind:
		err = service.extractEmbeddedCover(ctx, obj)
	}

	if err != nil {
		log.Warnf("Worker %s failed to post-process %s: %v\n", w.Label(), obj, err)
		metrics.PostProcessResults.WithLabelValues(string(obj.Kind), "failed").Inc()
	} else {
		metrics.PostProcessResults.WithLabelValues(string(obj.Kind), "ok").Inc()
	}

	return true, nil
}

// generateThumbnail decodes the artwork and stores a JPEG thumbnail, scaled to fit
// within the configured thumbnail size.
func (service *ingestService) generateThumbnail(ctx context.Context, obj *MediaObject) error {
	if service.config.MaxArtworkBytes > 0 && obj.DeclaredSize > service.config.MaxArtworkBytes {
		return errArtworkTooLarge
	}

	res, err := service.objects.FetchRange(ctx, obj.ObjectKey, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to fetch artwork: %w", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("failed to read artwork: %w", err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to decode artwork header: %w", err)
	}
	if cfg.Width*cfg.Height > maxArtworkPixels {
		return errArtworkTooLarge
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to decode artwork: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaleToFit(src, service.config.ThumbnailSize), &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		return fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	return service.storeDerivedAsset(ctx, obj, ThumbnailAsset, obj.ThumbnailKey(), &buf, "image/jpeg")
}

// extractEmbeddedCover extracts the picture embedded in an audio container (if any),
// and attaches it to the album of the objects track when the album has no artwork.
func (service *ingestService) extractEmbeddedCover(ctx context.Context, obj *MediaObject) error {
	if obj.TrackID == nil {
		return nil
	}

	pic, err := service.extractor.ExtractPicture(service.sourceFor(ctx, obj), obj.mime())
	if errors.Is(err, extract.ErrNoPicture) {
		log.Verbosef("%s has no embedded cover\n", obj)
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to extract embedded cover: %w", err)
	}

	key := obj.EmbeddedCoverKey()
	if err := service.storeDerivedAsset(ctx, obj, EmbeddedCoverAsset, key, bytes.NewBuffer(pic.Data), pic.MIMEType); err != nil {
		return err
	}

	return service.dataStore.AttachTrackArtwork(ctx, *obj.TrackID, key)
}

func (service *ingestService) storeDerivedAsset(ctx context.Context, obj *MediaObject, kind string, key string, body *bytes.Buffer, contentType string) error {
	if err := service.objects.Put(ctx, key, body, int64(body.Len()), contentType); err != nil {
		return fmt.Errorf("failed to store %s: %w", kind, err)
	}

	asset := &DerivedAsset{ID: uuid.New(), MediaObjectID: obj.ID, Kind: kind, ObjectKey: key}
	if err := service.dataStore.SaveDerivedAsset(ctx, asset); err != nil {
		return fmt.Errorf("failed to save %s: %w", kind, err)
	}

	log.Emit(logger.SUCCESS, "Stored %s for %s at %q\n", kind, obj, key)
	return nil
}

// queuePostProcess adds the object to the post-processing queue and wakes the
// worker pool. If the pool has not been started, the object is processed once it is.
func (service *ingestService) queuePostProcess(obj *MediaObject) {
	service.Lock()
	service.postProcessing = append(service.postProcessing, obj)
	service.Unlock()

	if err := service.workerPool.WakeupWorkers(); err != nil {
		log.Verbosef("Post-processing of %s deferred: %v\n", obj, err)
	}
}

// claimPostProcess removes and returns the first object queued for post-processing,
// or nil if the queue is empty.
//
// Note: This function takes ownership of the mutex, and releases it when returning
func (service *ingestService) claimPostProcess() *MediaObject {
	service.Lock()
	defer service.Unlock()

	if len(service.postProcessing) == 0 {
		return nil
	}

	obj := service.postProcessing[0]
	service.postProcessing = service.postProcessing[1:]
	return obj
}

// scaleToFit scales the image down (preserving the aspect ratio) so that neither
// dimension exceeds the size provided. Images already within the bounds are only
// re-drawn, never enlarged.
func scaleToFit(src image.Image, size int) image.Image {
	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if size > 0 && (width > size || height > size) {
		if width >= height {
			height = max(height*size/width, 1)
			width = size
		} else {
			width = max(width*size/height, 1)
			height = size
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return dst
}
