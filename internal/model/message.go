package model

import (
	"time"
)

// Origin tells who authored a message.
type Origin int

const (
	OriginClient Origin = iota
	OriginServer
)

func (o Origin) String() string {
	if o == OriginServer {
		return "server"
	}
	return "client"
}

// IsFromServer reports whether the message was generated by the relay.
func (o Origin) IsFromServer() bool {
	return o == OriginServer
}

// Message is one immutable entry of the message log, used for history
// responses.
type Message struct {
	ID           int64     `json:"id"`
	Content      string    `json:"content"`
	UserID       int64     `json:"userId"`
	IsFromServer bool      `json:"isFromServer"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Origin returns the origin tag of m.
func (m Message) Origin() Origin {
	if m.IsFromServer {
		return OriginServer
	}
	return OriginClient
}

// InboundFrame is the payload a client sends over the websocket. Pointers
// distinguish a missing field from a zero value.
type InboundFrame struct {
	UserID  *int64  `json:"userId"`
	Content *string `json:"content"`
}

// OutboundFrame is the payload the relay delivers back over the websocket.
type OutboundFrame struct {
	Content      string `json:"content"`
	UserID       int64  `json:"userId"`
	IsFromServer bool   `json:"isFromServer"`
}
