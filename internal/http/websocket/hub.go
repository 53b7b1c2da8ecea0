package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hbomb79/Cadence/pkg/logger"
)

var (
	socketLogger = logger.Get("WebSocket")

	ErrHubOffline = errors.New("socket hub is not running")
)

type (
	// Origin identifies the connection a command was received from
	Origin struct {
		ConnectionID uuid.UUID
		Identity     ClientIdentity
	}

	SocketHandler func(*SocketHub, Origin, *SocketMessage) error

	receivedMessage struct {
		origin  uuid.UUID
		message *SocketMessage
	}

	// SocketHub is the struct responsible for managing
	// the websocket upgrading, connecting, pushing and
	// receiving of messages.
	SocketHub struct {
		handlers     map[string]SocketHandler
		upgrader     *websocket.Upgrader
		clients      []*socketClient
		registerCh   chan *socketClient
		deregisterCh chan *socketClient
		sendCh       chan *SocketMessage
		receiveCh    chan *receivedMessage
		doneCh       chan struct{}
		running      atomic.Bool
	}
)

// Returns a new SocketHub with the channels,
// maps and slices initialised to sane starting
// values
func New() *SocketHub {
	return &SocketHub{
		handlers: make(map[string]SocketHandler),
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		sendCh:       make(chan *SocketMessage),
		receiveCh:    make(chan *receivedMessage),
		registerCh:   make(chan *socketClient),
		deregisterCh: make(chan *socketClient),
		doneCh:       make(chan struct{}),
	}
}

// Binds a provided command title to a socket handler. Commands must be bound
// before the hub is started.
func (hub *SocketHub) BindCommand(command string, handler SocketHandler) *SocketHub {
	hub.handlers[command] = handler
	return hub
}

// Start runs the socket hub by listening on all related channels for incoming
// clients and messages, until the context provided is cancelled. A hub cannot
// be restarted once stopped.
func (hub *SocketHub) Start(ctx context.Context) {
	if ctx.Err() != nil {
		socketLogger.Emit(logger.STOP, "Refusing to start socket hub as provided context is already cancelled\n")
		return
	} else if !hub.running.CompareAndSwap(false, true) {
		socketLogger.Emit(logger.WARNING, "Attempting to start socketHub when already running! Ignoring request.\n")
		return
	}
	socketLogger.Emit(logger.INFO, "Opening SocketHub!\n")

	defer hub.close()
	for {
		select {
		case message := <-hub.sendCh:
			hub.deliver(message)
		case recv := <-hub.receiveCh:
			if _, client := hub.findClient(recv.origin); client != nil {
				go hub.handleMessage(Origin{ConnectionID: client.id, Identity: client.identity}, recv.message)
			}
		case client := <-hub.registerCh:
			if idx, _ := hub.findClient(client.id); idx > -1 {
				socketLogger.Emit(logger.ERROR, "Attempted to register client that is already registered (duplicate uuid)! Illegal!\n")
				client.Close()
				break
			}

			hub.clients = append(hub.clients, client)
			socketLogger.Emit(logger.NEW, "Registered new client {%v} for user %s\n", client.id, client.identity.UserID)
		case client := <-hub.deregisterCh:
			if idx, _ := hub.findClient(client.id); idx != -1 {
				hub.clients = append(hub.clients[:idx], hub.clients[idx+1:]...)
				socketLogger.Emit(logger.REMOVE, "Deregistered client {%v}\n", client.id)
				break
			}

			socketLogger.Emit(logger.WARNING, "Attempted to deregister unknown client {%v}\n", client.id)
		case <-ctx.Done():
			socketLogger.Emit(logger.REMOVE, "Shutting down socket hub! Closing all clients.\n")
			return
		}
	}
}

// Send queues a message for delivery. Messages are dropped if the hub is not
// running (see Start).
func (hub *SocketHub) Send(message *SocketMessage) {
	if !hub.running.Load() {
		socketLogger.Emit(logger.VERBOSE, "Dropping message %q as the socket hub is offline\n", message.Title)
		return
	}

	select {
	case hub.sendCh <- message:
	case <-hub.doneCh:
	}
}

// UpgradeToSocket upgrades a given HTTP request to a websocket for the identity
// provided, and then blocks until the client disconnects.
func (hub *SocketHub) UpgradeToSocket(w http.ResponseWriter, r *http.Request, identity ClientIdentity) error {
	if !hub.running.Load() {
		return ErrHubOffline
	}

	sock, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := &socketClient{id: uuid.New(), identity: identity, socket: sock}
	select {
	case hub.registerCh <- client:
	case <-hub.doneCh:
		client.Close()
		return ErrHubOffline
	}

	hub.Send(&SocketMessage{
		Title:  "CONNECTION_ESTABLISHED",
		Body:   map[string]interface{}{"client": client.id},
		Target: &client.id,
		Type:   Welcome,
	})

	// Ensure the client is deregistered once it's read loop closes, which occurs
	// when either the client disconnected or an error occurred.
	defer func() {
		select {
		case hub.deregisterCh <- client:
		case <-hub.doneCh:
		}
		client.Close()
	}()

	if err := client.Read(hub.receiveCh, hub.doneCh); err != nil {
		socketLogger.Emit(logger.DEBUG, "Client {%v} closed: %v\n", client.id, err)
	}

	return nil
}

// close disconnects and forgets all connected clients
func (hub *SocketHub) close() {
	hub.running.Store(false)
	close(hub.doneCh)
	for _, client := range hub.clients {
		client.Close()
	}

	hub.clients = nil
	socketLogger.Emit(logger.STOP, "Socket hub is now closed!\n")
}

// handleMessage forwards a received command to the bound handler if one exists,
// replying with an error message if the handler fails or no handler is bound.
func (hub *SocketHub) handleMessage(origin Origin, command *SocketMessage) {
	replyWithError := func(err string) {
		hub.Send(command.FormReply(origin.ConnectionID, "COMMAND_FAILURE", map[string]interface{}{"command": command.Title, "error": err}, ErrorResponse))
	}

	if command.Type != Command {
		socketLogger.Emit(logger.WARNING, "SocketHub received a message from client {%v} of type {%v}, only commands can be sent to the server!\n", origin.ConnectionID, command.Type)
		replyWithError("Only commands are accepted")
		return
	}

	handler, ok := hub.handlers[command.Title]
	if !ok {
		socketLogger.Emit(logger.WARNING, "No handler found for command '%v'\n", command.Title)
		replyWithError("Unknown command")
		return
	}

	if err := handler(hub, origin, command); err != nil {
		socketLogger.Emit(logger.ERROR, "Handler for command '%v' returned error - %v\n", command.Title, err)
		replyWithError(err.Error())
	}
}

// deliver sends the message to every client it is addressed to. A client which
// cannot be written to is closed, which causes its read loop to deregister it.
func (hub *SocketHub) deliver(message *SocketMessage) {
	for _, client := range hub.clients {
		if !client.accepts(message) {
			continue
		}

		if err := client.SendMessage(message); err != nil {
			socketLogger.Emit(logger.WARNING, "Failed to send message to client {%v}: %v\n", client.id, err)
			client.Close()
		}
	}
}

// findClient returns the index and client with the matching id, or
// (-1, nil) if no such client is registered.
func (hub *SocketHub) findClient(id uuid.UUID) (int, *socketClient) {
	for idx, client := range hub.clients {
		if client.id == id {
			return idx, client
		}
	}

	return -1, nil
}
