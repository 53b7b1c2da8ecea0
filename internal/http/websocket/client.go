package websocket

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// ClientIdentity is the authenticated user behind a socket connection
type ClientIdentity struct {
	UserID uuid.UUID
	Admin  bool
}

type socketClient struct {
	id       uuid.UUID
	identity ClientIdentity
	socket   *websocket.Conn
}

func (client *socketClient) SendMessage(message *SocketMessage) error {
	if err := client.socket.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}

	return client.socket.WriteJSON(message)
}

// accepts returns true if this client should receive the message provided
func (client *socketClient) accepts(message *SocketMessage) bool {
	if message.Target != nil {
		return *message.Target == client.id
	}
	if message.Audience != nil {
		return client.identity.Admin || *message.Audience == client.identity.UserID
	}

	return true
}

// Read starts a read-loop on the clients websocket connection, emitting
// all received messages on the channel provided. If the connection
// experiences an error, or the JSON unmarshalling fails, this error will be returned
// and consequently the read loop will close. It is the responsibility of the caller
// to de-register the client once the connection closes.
func (client *socketClient) Read(receiveCh chan<- *receivedMessage, doneCh <-chan struct{}) error {
	for {
		var recv SocketMessage
		if err := client.socket.ReadJSON(&recv); err != nil {
			return err
		}

		select {
		case receiveCh <- &receivedMessage{origin: client.id, message: &recv}:
		case <-doneCh:
			return ErrHubOffline
		}
	}
}

func (client *socketClient) Close() {
	client.socket.Close()
}
