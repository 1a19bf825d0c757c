package supportsync

import "time"

// Event is the normalized form of one webhook delivery. It is one of
// ConversationEvent, MessageEvent or UnhandledEvent.
type Event interface {
	EventName() string
}

type ConversationEvent struct {
	Name         string
	Conversation Conversation
}

type MessageEvent struct {
	Name         string
	Conversation Conversation
	Message      Message
}

// UnhandledEvent is routed to the no-op path.
type UnhandledEvent struct {
	Name string
}

func (e ConversationEvent) EventName() string { return e.Name }
func (e MessageEvent) EventName() string      { return e.Name }
func (e UnhandledEvent) EventName() string    { return e.Name }

// Party describes a contact, agent or bot as sent by the platform.
type Party struct {
	ID                   string
	Type                 string
	Name                 string
	Email                string
	Phone                string
	Identifier           string
	CustomAttributes     map[string]interface{}
	AdditionalAttributes map[string]interface{}
}

// IsAgent is true for platform users (agents) as opposed to contacts.
func (p Party) IsAgent() bool {
	return p.Type == "user" || p.Type == "agent"
}

type Conversation struct {
	ID                   string `validate:"required"`
	InboxID              string
	AccountID            string
	Status               string
	Priority             string
	Contact              Party
	Assignee             *Party
	AdditionalAttributes map[string]interface{}
	CustomAttributes     map[string]interface{}
	// UpdatedAt is zero when the payload carries no timestamp.
	UpdatedAt time.Time
}

// Message types as normalized from the platform's string or integer codes.
const (
	MessageTypeIncoming = "incoming"
	MessageTypeOutgoing = "outgoing"
	MessageTypeActivity = "activity"
	MessageTypeTemplate = "template"
)

type Message struct {
	ID          string `validate:"required"`
	Type        string
	ContentType string
	Content     string
	Private     bool
	Sender      *Party
	Attachments []Attachment
	CreatedAt   time.Time
	// Raw is the message envelope snapshot without its nested conversation.
	Raw map[string]interface{}
}

// IsIncoming classifies direction: incoming is the customer side, everything else is the agent side.
func (m Message) IsIncoming() bool {
	return m.Type == MessageTypeIncoming
}

type Attachment struct {
	ID       string
	FileType string
	FileName string
	MimeType string
	Size     int64
	DataURL  string
	ThumbURL string
}
