package hub

import "time"

// EventType names the server-to-client notifications emitted by the hub.
type EventType string

const (
	EventReceiveMessage   EventType = "ReceiveMessage"
	EventUserJoined       EventType = "UserJoined"
	EventUserLeft         EventType = "UserLeft"
	EventUserConnected    EventType = "UserConnected"
	EventUserDisconnected EventType = "UserDisconnected"
	EventError            EventType = "Error"
)

// MessagePayload is the fully-formed message broadcast to room members.
type MessagePayload struct {
	User           string    `json:"user"`
	Message        string    `json:"message"`
	Timestamp      time.Time `json:"timestamp"`
	SentimentScore float64   `json:"sentimentScore"`
	SentimentLabel string    `json:"sentimentLabel"`
	MessageID      string    `json:"messageId"`
	SenderID       string    `json:"senderId"`
}

// Event is a single outbound notification. Text carries the payload for
// presence and error events; Message is set only for ReceiveMessage.
type Event struct {
	Type    EventType       `json:"type"`
	Text    string          `json:"text,omitempty"`
	Message *MessagePayload `json:"message,omitempty"`
}

// Command is a client-to-server invocation decoded from the wire. An empty
// Room on a send addresses the default room, "general".
type Command struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Room    string `json:"room,omitempty"`
}

// Client-invocable operation names.
const (
	CommandSendMessage = "SendMessage"
	CommandJoinRoom    = "JoinRoom"
	CommandLeaveRoom   = "LeaveRoom"
)
