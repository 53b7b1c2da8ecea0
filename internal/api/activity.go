package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Cadence/internal/api/batches"
	"github.com/hbomb79/Cadence/internal/api/medias"
	"github.com/hbomb79/Cadence/internal/catalog"
	"github.com/hbomb79/Cadence/internal/http/websocket"
	"github.com/mitchellh/mapstructure"
)

const (
	TITLE_MEDIA_OBJECT_UPDATE = "MEDIA_OBJECT_UPDATE"
	TITLE_BATCH_UPDATE        = "BATCH_UPDATE"
	TITLE_TRACK_READY         = "TRACK_READY"

	COMMAND_BATCH_STATUS = "BATCH_STATUS"

	broadcastTimeout = 10 * time.Second
)

type (
	MediaObjectUpdate struct {
		MediaObjectID uuid.UUID   `json:"media_object_id"`
		MediaObject   *medias.Dto `json:"media_object"`
	}

	BatchUpdate struct {
		BatchID uuid.UUID         `json:"batch_id"`
		Batch   *batches.BatchDto `json:"batch"`
	}

	TrackReady struct {
		TrackID uuid.UUID `json:"track_id"`
	}

	batchStatusArgs struct {
		BatchID string `mapstructure:"batch_id"`
	}

	accessStore interface {
		GetTrackAccess(ctx context.Context, trackID uuid.UUID) (*catalog.TrackAccess, error)
	}

	// broadcaster relays updates to the clients connected to the activity socket.
	// Updates for media objects and batches are only sent to the user which owns
	// them, and tracks which become ready are announced to everyone unless private.
	broadcaster struct {
		socketHub    *websocket.SocketHub
		mediaService medias.Service
		batchService batches.Service
		accessStore  accessStore
	}
)

func newBroadcaster(socketHub *websocket.SocketHub, mediaService medias.Service, batchService batches.Service, accessStore accessStore) *broadcaster {
	b := &broadcaster{socketHub, mediaService, batchService, accessStore}
	socketHub.BindCommand(COMMAND_BATCH_STATUS, b.handleBatchStatusCommand)

	return b
}

func (hub *broadcaster) BroadcastMediaObjectUpdate(id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
	defer cancel()

	obj, err := hub.mediaService.GetStatus(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to fetch media object %s for broadcast: %w", id, err)
	}

	hub.broadcast(TITLE_MEDIA_OBJECT_UPDATE, MediaObjectUpdate{MediaObjectID: id, MediaObject: medias.NewDto(obj)}, &obj.OwnerID)
	return nil
}

func (hub *broadcaster) BroadcastBatchUpdate(id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
	defer cancel()

	status, err := hub.batchService.GetBatchStatus(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to fetch batch %s for broadcast: %w", id, err)
	}

	hub.broadcast(TITLE_BATCH_UPDATE, BatchUpdate{BatchID: id, Batch: batches.NewDto(status)}, &status.Batch.CreatorID)
	return nil
}

func (hub *broadcaster) BroadcastTrackReady(id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
	defer cancel()

	access, err := hub.accessStore.GetTrackAccess(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to fetch track %s for broadcast: %w", id, err)
	}

	var audience *uuid.UUID
	if access.Private {
		audience = &access.OwnerID
	}

	hub.broadcast(TITLE_TRACK_READY, TrackReady{TrackID: id}, audience)
	return nil
}

func (hub *broadcaster) broadcast(title string, update any, audience *uuid.UUID) {
	hub.socketHub.Send(&websocket.SocketMessage{
		Title:    title,
		Body:     map[string]interface{}{"update": update},
		Type:     websocket.Update,
		Audience: audience,
	})
}

// handleBatchStatusCommand replies with the current status of the batch named by the
// 'batch_id' argument, provided the connected user owns it.
func (hub *broadcaster) handleBatchStatusCommand(socket *websocket.SocketHub, origin websocket.Origin, message *websocket.SocketMessage) error {
	var args batchStatusArgs
	if err := mapstructure.WeakDecode(message.Body, &args); err != nil || args.BatchID == "" {
		return errors.New("command requires a 'batch_id' argument")
	}
	batchID, err := uuid.Parse(args.BatchID)
	if err != nil {
		return errors.New("'batch_id' is not a valid UUID")
	}

	ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
	defer cancel()

	status, err := hub.batchService.GetBatchStatus(ctx, batchID)
	if err != nil || (status.Batch.CreatorID != origin.Identity.UserID && !origin.Identity.Admin) {
		return fmt.Errorf("batch %s not found", batchID)
	}

	socket.Send(message.FormReply(origin.ConnectionID, "COMMAND_SUCCESS", map[string]interface{}{"batch": batches.NewDto(status)}, websocket.Response))
	return nil
}
