package domain

import "fmt"

// Sender identifies who authored a chat message.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderAI    Sender = "ai"
	SenderStaff Sender = "staff"
)

// Valid reports whether s is one of the known senders.
func (s Sender) Valid() bool {
	switch s {
	case SenderUser, SenderAI, SenderStaff:
		return true
	}
	return false
}

// DeliveryStatus tracks a staff message from send to read. It only moves forward.
type DeliveryStatus string

const (
	StatusNone      DeliveryStatus = ""
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
)

func (s DeliveryStatus) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// Before reports whether s comes strictly earlier than other in the delivery lifecycle.
func (s DeliveryStatus) Before(other DeliveryStatus) bool {
	return s.rank() < other.rank()
}

// Typing says which party is currently composing a message.
type Typing string

const (
	TypingNone Typing = "none"
	TypingUser Typing = "user"
	TypingAI   Typing = "ai"
)

// ParseTyping accepts "none", "user" or "ai". The empty string means none.
func ParseTyping(s string) (Typing, error) {
	switch Typing(s) {
	case TypingNone, "":
		return TypingNone, nil
	case TypingUser:
		return TypingUser, nil
	case TypingAI:
		return TypingAI, nil
	}
	return TypingNone, fmt.Errorf("%w: unknown typing party %q", ErrInvalidValue, s)
}

// Next returns the following state of the none -> user -> ai -> none cycle.
func (t Typing) Next() Typing {
	switch t {
	case TypingNone:
		return TypingUser
	case TypingUser:
		return TypingAI
	}
	return TypingNone
}

// Message is one entry of a conversation timeline.
type Message struct {
	ID           string         `json:"id" yaml:"id"`
	Content      string         `json:"content" yaml:"content"`
	Sender       Sender         `json:"sender" yaml:"sender"`
	SenderName   string         `json:"senderName" yaml:"senderName"`
	Timestamp    string         `json:"timestamp" yaml:"timestamp"`
	Status       DeliveryStatus `json:"status,omitempty" yaml:"status,omitempty"`
	IsEscalation bool           `json:"isEscalation,omitempty" yaml:"isEscalation,omitempty"`
}

// TimestampLayout renders message times as "h:mm AM/PM".
const TimestampLayout = "3:04 PM"
