// Package hub provides a thread-safe websocket broadcast hub
// using the idiomatic Go channel-based fan-out pattern.
package hub

import "github.com/gofiber/contrib/websocket"

// MessageType indicates the websocket message format
type MessageType int

const (
	// TextMessage is a UTF-8 message, usually JSON.
	TextMessage MessageType = iota
	// BinaryMessage is raw binary data (e.g., JPEG frames)
	BinaryMessage
)

const (
	closeMessage = websocket.CloseMessage
	pingMessage  = websocket.PingMessage
)

// wsType maps to the websocket frame opcode.
func (t MessageType) wsType() int {
	if t == BinaryMessage {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

func fromWSType(opcode int) (MessageType, bool) {
	switch opcode {
	case websocket.TextMessage:
		return TextMessage, true
	case websocket.BinaryMessage:
		return BinaryMessage, true
	}
	return 0, false
}

// Message represents a message to be broadcast to clients
type Message struct {
	Type MessageType
	Data []byte
}

// NewTextMessage creates a text message from pre-encoded bytes
func NewTextMessage(data []byte) Message {
	return Message{Type: TextMessage, Data: data}
}
