package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/hbomb79/Cadence/internal/catalog"
	"github.com/hbomb79/Cadence/internal/identity"
	"github.com/hbomb79/Cadence/internal/metrics"
	"github.com/hbomb79/Cadence/internal/objectstore"
	"github.com/hbomb79/Cadence/pkg/logger"
)

const defaultContentType = "application/octet-stream"

var log = logger.Get("StreamService")

type (
	assetStore interface {
		GetStreamableAsset(ctx context.Context, trackID uuid.UUID) (*catalog.StreamableAsset, error)
	}

	rangeFetcher interface {
		FetchRange(ctx context.Context, key string, offset int64, length int64) (*objectstore.RangeResult, error)
	}

	// Response is the outcome of a streaming request. The body is nil for any
	// response which carries no content (403, 404 and 416), and otherwise must be
	// closed by the caller (Write does this automatically).
	Response struct {
		Status int
		Header http.Header
		Body   io.ReadCloser
	}

	// streamService serves READY tracks to entitled principals, honouring HTTP
	// range requests so clients can seek. Streaming is a pure read path; no
	// catalog or ingestion state is modified.
	streamService struct {
		assets      assetStore
		entitlement Entitlement
		objects     rangeFetcher
	}

	// streamBody stops reading from the store once the request context is
	// cancelled, and records the bytes served.
	streamBody struct {
		ctx  context.Context
		body io.ReadCloser
	}
)

func New(assets assetStore, entitlement Entitlement, objects rangeFetcher) *streamService {
	return &streamService{assets: assets, entitlement: entitlement, objects: objects}
}

// Serve resolves the track to its streamable asset, checks the principal is entitled
// to the track, and then fetches the (optionally ranged) content from the store.
//
// Tracks which do not exist, and tracks which are not yet READY, are both reported as
// not found. Entitlement is checked before the store is consulted, so a principal
// which is not entitled never causes a read. A malformed Range header is ignored and
// the full object is served.
func (service *streamService) Serve(ctx context.Context, trackID uuid.UUID, principal *identity.Principal, rangeHeader string) (*Response, error) {
	asset, err := service.assets.GetStreamableAsset(ctx, trackID)
	if errors.Is(err, catalog.ErrAssetNotReady) || errors.Is(err, catalog.ErrTrackNotFound) {
		return service.respond(http.StatusNotFound, newHeader(), nil), nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to resolve streamable asset for track %s: %w", trackID, err)
	}

	entitled, err := service.entitlement.IsEntitled(ctx, principal, trackID)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate entitlement for track %s: %w", trackID, err)
	}
	if !entitled {
		return service.respond(http.StatusForbidden, newHeader(), nil), nil
	}

	header := newHeader()
	byteRange, err := ParseRange(rangeHeader, asset.Size)
	if errors.Is(err, ErrUnsatisfiableRange) {
		header.Set("Content-Range", fmt.Sprintf("bytes */%d", asset.Size))
		return service.respond(http.StatusRequestedRangeNotSatisfiable, header, nil), nil
	} else if err != nil {
		log.Debugf("Ignoring malformed range %q for track %s\n", rangeHeader, trackID)
		byteRange = nil
	}

	var offset, length int64
	if byteRange != nil {
		offset, length = byteRange.Start, byteRange.Length()
	}

	res, err := service.objects.FetchRange(ctx, asset.ObjectKey, offset, length)
	if errors.Is(err, objectstore.ErrInvalidRange) {
		header.Set("Content-Range", fmt.Sprintf("bytes */%d", asset.Size))
		return service.respond(http.StatusRequestedRangeNotSatisfiable, header, nil), nil
	} else if errors.Is(err, objectstore.ErrObjectNotFound) {
		log.Warnf("Object %q for READY track %s is missing from the store\n", asset.ObjectKey, trackID)
		return service.respond(http.StatusNotFound, newHeader(), nil), nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to fetch content for track %s: %w", trackID, err)
	}

	contentType := defaultContentType
	if asset.MimeType != nil {
		contentType = *asset.MimeType
	}
	header.Set("Content-Type", contentType)
	header.Set("Content-Length", strconv.FormatInt(res.Length, 10))

	status := http.StatusOK
	if byteRange != nil {
		status = http.StatusPartialContent
		served := ByteRange{Start: res.Offset, End: res.Offset + res.Length - 1}
		header.Set("Content-Range", served.ContentRange(res.TotalSize))
	}

	return service.respond(status, header, &streamBody{ctx: ctx, body: res.Body}), nil
}

func (service *streamService) respond(status int, header http.Header, body io.ReadCloser) *Response {
	metrics.StreamResponses.WithLabelValues(strconv.Itoa(status)).Inc()
	return &Response{Status: status, Header: header, Body: body}
}

// Write sends the response to the client, closing the body once complete. The
// number of body bytes written is returned.
func (response *Response) Write(w http.ResponseWriter) (int64, error) {
	for key, values := range response.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(response.Status)

	if response.Body == nil {
		return 0, nil
	}
	defer response.Body.Close()

	return io.Copy(w, response.Body)
}

func (body *streamBody) Read(p []byte) (int, error) {
	if err := body.ctx.Err(); err != nil {
		return 0, err
	}

	n, err := body.body.Read(p)
	metrics.StreamBytes.Add(float64(n))
	return n, err
}

func (body *streamBody) Close() error { return body.body.Close() }

func newHeader() http.Header {
	header := make(http.Header)
	header.Set("Accept-Ranges", "bytes")
	return header
}
