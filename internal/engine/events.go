package engine

import (
	"encoding/json"
	"time"

	"github.com/fathima-sithara/chat-platform/internal/models"
)

// Envelope is the inbound wire shape: a type tag plus a payload the handler
// decodes.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound event types.
const (
	EvJoin              = "join"
	EvStartChat         = "startChat"
	EvStartGroupChat    = "startGroupChat"
	EvRenameChat        = "renameChat"
	EvGetMessageHistory = "getMessageHistory"
	EvDirectMessage     = "directMessage"
	EvMessage           = "message" // legacy room path
	EvAddReaction       = "addReaction"
	EvMarkMessageRead   = "markMessageAsRead"
	EvMarkAllRead       = "markAllMessagesAsRead"
	EvUpdateUnreadCount = "updateUnreadCount"
	EvDeleteMessage     = "deleteMessage"
	EvEditMessage       = "editMessage"
	EvUpdateStatus      = "updateStatus"
)

// Outbound event names.
const (
	OutMessageSent       = "messageSent"
	OutMessageHistory    = "messageHistory"
	OutMessageRead       = "messageRead"
	OutUnreadCountUpdate = "unreadCountUpdate"
	OutMessageReaction   = "messageReaction"
	OutMessageDeleted    = "messageDeleted"
	OutMessageEdited     = "messageEdited"
	OutStatusUpdate      = "participantStatusUpdate"
	OutChatRenamed       = "chatRenamed"
)

// Deletion modes.
const (
	DeleteForEveryone = "forEveryone"
	DeleteForMe       = "forMe"
)

type joinPayload struct {
	UserID    string `json:"userId,omitempty"`
	TenantID  string `json:"tenantId,omitempty"`
	PushToken string `json:"pushToken,omitempty"`
}

type startChatPayload struct {
	UserID  string `json:"userId"`
	Contact string `json:"contact"`
}

type startGroupChatPayload struct {
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
}

type renameChatPayload struct {
	ChatID string `json:"chatId"`
	Name   string `json:"name"`
}

type historyPayload struct {
	ChatID string `json:"chatId"`
	Page   int64  `json:"page"`
	Limit  int64  `json:"limit"`
}

type directMessagePayload struct {
	ChatID      string             `json:"chatId"`
	Content     string             `json:"content"`
	Type        models.MessageType `json:"type"`
	Attachments []string           `json:"attachments,omitempty"`
	ReplyTo     string             `json:"replyTo,omitempty"`
}

type legacyMessagePayload struct {
	Content string `json:"content"`
	RoomID  string `json:"roomId"`
}

type reactionPayload struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	Emoji     string `json:"emoji"`
}

type markReadPayload struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId,omitempty"`
}

type markAllReadPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId,omitempty"`
}

type unreadCountPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId,omitempty"`
}

type deletePayload struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	UserID    string `json:"userId,omitempty"`
	Mode      string `json:"mode"`
}

type statusPayload struct {
	Status models.Presence `json:"status"`
	UserID string          `json:"userId,omitempty"`
}

type editPayload struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	Content   string `json:"content"`
}

// Outbound payloads.

type messageSentEvent struct {
	Message *models.Message `json:"message"`
	ChatID  string          `json:"chatId"`
}

type messageHistoryEvent struct {
	Messages    []*models.Message `json:"messages"`
	HasMore     bool              `json:"hasMore"`
	Total       int64             `json:"total"`
	CurrentPage int64             `json:"currentPage"`
}

type messageReadEvent struct {
	MessageID string          `json:"messageId"`
	ChatID    string          `json:"chatId"`
	UserID    string          `json:"userId"`
	ReadAt    time.Time       `json:"readAt"`
	User      *models.UserRef `json:"user,omitempty"`
}

type unreadCountEvent struct {
	ChatID string `json:"chatId"`
	Count  int64  `json:"count"`
}

type messageReactionEvent struct {
	MessageID string           `json:"messageId"`
	ChatID    string           `json:"chatId"`
	Reaction  *models.Reaction `json:"reaction"` // null on removal
	UserID    string           `json:"userId"`
}

type messageDeletedEvent struct {
	ChatID      string          `json:"chatId"`
	MessageID   string          `json:"messageId"`
	LastMessage *models.Message `json:"lastMessage"`
	Mode        string          `json:"mode"`
}

type messageEditedEvent struct {
	MessageID string    `json:"messageId"`
	ChatID    string    `json:"chatId"`
	Content   string    `json:"content"`
	UserID    string    `json:"userId"`
	EditedAt  time.Time `json:"editedAt"`
}

type chatRenamedEvent struct {
	ChatID string `json:"chatId"`
	Name   string `json:"name"`
	UserID string `json:"userId"`
}

type statusUpdateEvent struct {
	ParticipantID string          `json:"participantId"`
	Status        models.Presence `json:"status"`
	Active        bool            `json:"active"`
}
