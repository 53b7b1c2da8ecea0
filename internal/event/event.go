// A collection of event names and common methods used to handle the events, typically
// redirecting the handling to a service method or other method via the `Handler` interface.
package event

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/hbomb79/Cadence/pkg/logger"
)

var log = logger.Get("Activity")

// Events emitted by the ingestion pipeline which are of interest to other parts of
// Cadence (e.g. the activity socket, which relays them to connected clients).
type (
	Event         string
	Payload       any
	HandlerMethod func(Event, Payload)

	HandlerChannel chan HandlerEvent
	HandlerEvent   struct {
		Event   Event
		Payload Payload
	}

	EventDispatcher interface {
		Dispatch(Event, Payload)
	}

	EventHandler interface {
		RegisterAsyncHandlerFunction(Event, HandlerMethod)
		RegisterHandlerFunction(Event, HandlerMethod)
		RegisterHandlerChannel(HandlerChannel, ...Event)
	}

	EventCoordinator interface {
		EventDispatcher
		EventHandler
	}

	eventHandler struct {
		mu           sync.RWMutex
		fnHandlers   map[Event][]handlerMethod
		chanHandlers map[Event][]HandlerChannel
	}

	handlerMethod struct {
		handle HandlerMethod
		async  bool
	}
)

const (
	// MEDIA_OBJECT_UPDATE is dispatched with the media object ID whenever a media
	// object transitions between states.
	MEDIA_OBJECT_UPDATE Event = "media:update"

	// BATCH_UPDATE is dispatched with the batch ID whenever the membership or
	// aggregate status of an upload batch may have changed.
	BATCH_UPDATE Event = "batch:update"

	// TRACK_READY is dispatched with the track ID when a track gains a streamable asset.
	TRACK_READY Event = "track:ready"
)

// uuidPayloadEvents are the events whose payload must be the ID of the resource
// which changed.
var uuidPayloadEvents = map[Event]struct{}{
	MEDIA_OBJECT_UPDATE: {},
	BATCH_UPDATE:        {},
	TRACK_READY:         {},
}

func New() EventCoordinator {
	return &eventHandler{
		fnHandlers:   make(map[Event][]handlerMethod),
		chanHandlers: make(map[Event][]HandlerChannel),
	}
}

// RegisterHandlerChannel delivers every future dispatch of the given events on the
// channel. A full channel blocks the dispatcher, so consumers should buffer it.
func (handler *eventHandler) RegisterHandlerChannel(handle HandlerChannel, events ...Event) {
	handler.mu.Lock()
	defer handler.mu.Unlock()
	for _, event := range events {
		handler.chanHandlers[event] = append(handler.chanHandlers[event], handle)
	}
}

// RegisterHandlerFunction calls the handle inline with every dispatch of the event.
// The handle must return quickly.
func (handler *eventHandler) RegisterHandlerFunction(event Event, handle HandlerMethod) {
	handler.registerHandlerMethod(event, handlerMethod{handle, false})
}

// RegisterAsyncHandlerFunction calls the handle in its own goroutine for every
// dispatch of the event.
func (handler *eventHandler) RegisterAsyncHandlerFunction(event Event, handle HandlerMethod) {
	handler.registerHandlerMethod(event, handlerMethod{handle, true})
}

func (handler *eventHandler) registerHandlerMethod(event Event, handle handlerMethod) {
	handler.mu.Lock()
	defer handler.mu.Unlock()
	handler.fnHandlers[event] = append(handler.fnHandlers[event], handle)
}

// Dispatch delivers the payload to every handler registered for the event. Payloads
// which are not valid for the event are logged and dropped.
func (handler *eventHandler) Dispatch(event Event, payload Payload) {
	if err := validatePayload(event, payload); err != nil {
		log.Errorf("Dropping %s dispatch: %v\n", event, err)
		return
	}

	handler.mu.RLock()
	fnHandles := handler.fnHandlers[event]
	chanHandles := handler.chanHandlers[event]
	handler.mu.RUnlock()

	for _, handle := range fnHandles {
		if handle.async {
			go handle.handle(event, payload)
		} else {
			handle.handle(event, payload)
		}
	}

	message := HandlerEvent{Event: event, Payload: payload}
	for _, handle := range chanHandles {
		handle <- message
	}
}

func validatePayload(event Event, payload Payload) error {
	if _, ok := uuidPayloadEvents[event]; !ok {
		return fmt.Errorf("event %q is not recognised", event)
	}

	if _, ok := payload.(uuid.UUID); !ok {
		return fmt.Errorf("illegal payload (type %T), expected uuid.UUID", payload)
	}

	return nil
}
