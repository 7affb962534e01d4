package delivery

import "context"

// TrashEmoji is the reaction that retracts a response.
const TrashEmoji = "🗑"

// ImageName is the file name of rendered attachments.
const ImageName = "latex.png"

// Attachment is a file posted with a message.
type Attachment struct {
	Name string
	Data []byte
}

// Message is an outgoing message. Text and Attachment may both be set.
type Message struct {
	Text       string
	Attachment *Attachment
}

// Origin is the context a request arrived in: a command invocation or a plain chat message.
//
// Send and Reply return the ID of the created message. Errors are classified with
// domain.ErrForbidden and domain.ErrNotFound.
type Origin interface {
	AuthorID() string
	AuthorIsBot() bool
	ChannelID() string
	// SourceID is the ID of the triggering message.
	SourceID() string
	Send(ctx context.Context, msg Message) (string, error)
	Reply(ctx context.Context, msg Message) (string, error)
}

// Platform acts on messages that were already posted.
type Platform interface {
	Edit(ctx context.Context, channelID, messageID string, msg Message) error
	Delete(ctx context.Context, channelID, messageID string) error
	React(ctx context.Context, channelID, messageID, emoji string) error
}

// Reaction is a user reacting to a message.
type Reaction struct {
	UserID    string
	UserIsBot bool
	Emoji     string
	ChannelID string
	MessageID string
}
