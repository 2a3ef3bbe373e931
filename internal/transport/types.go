package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// ChatPermissions is the subset of default-member permissions the bot
// reads and rewrites when silencing a chat.
type ChatPermissions struct {
	CanSendMessages bool `json:"can_send_messages"`
	CanSendMedia    bool `json:"can_send_media"`
	CanSendOther    bool `json:"can_send_other"`
	CanAddPreviews  bool `json:"can_add_previews"`
}

// Muted reports whether the permission set blocks all member messaging.
func (p ChatPermissions) Muted() bool {
	return !p.CanSendMessages && !p.CanSendMedia && !p.CanSendOther && !p.CanAddPreviews
}

// ChatModerator is an optional capability adapters can implement to read
// and rewrite the default member permissions of a group chat.
type ChatModerator interface {
	ChatPermissions(ctx context.Context, chatID int64) (ChatPermissions, error)
	SetChatPermissions(ctx context.Context, chatID int64, p ChatPermissions) error
}

// ChatTitler is an optional capability for resolving a human-readable
// chat title (used in notifier reports and alerts).
type ChatTitler interface {
	ChatTitle(ctx context.Context, chatID int64) (string, error)
}
