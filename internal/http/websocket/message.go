package websocket

import (
	"github.com/google/uuid"
)

type socketMessageType int

const (
	Update socketMessageType = iota
	Command
	Response
	ErrorResponse
	Welcome
)

// SocketMessage is the JSON envelope for all messages exchanged over the socket.
// Audience restricts delivery of a message to the clients authenticated as that
// user (and administrators); messages without an audience are sent to every
// connected client. Target restricts delivery to a single connection.
type SocketMessage struct {
	Title    string                 `json:"title"`
	Body     map[string]interface{} `json:"arguments"`
	Id       int                    `json:"id"`
	Type     socketMessageType      `json:"type"`
	Audience *uuid.UUID             `json:"-"`
	Target   *uuid.UUID             `json:"-"`
}

// FormReply returns a new message addressed to the connection the given message
// was received from, carrying the same ID so the client can pair the two.
func (message *SocketMessage) FormReply(origin uuid.UUID, replyTitle string, replyBody map[string]interface{}, replyType socketMessageType) *SocketMessage {
	return &SocketMessage{
		Title:  replyTitle,
		Body:   replyBody,
		Type:   replyType,
		Id:     message.Id,
		Target: &origin,
	}
}
