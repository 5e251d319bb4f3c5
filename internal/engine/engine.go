package engine

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-platform/internal/apperr"
	"github.com/fathima-sithara/chat-platform/internal/events"
	"github.com/fathima-sithara/chat-platform/internal/identity"
	"github.com/fathima-sithara/chat-platform/internal/models"
	"github.com/fathima-sithara/chat-platform/internal/ws"
)

// Engine mutates chat documents and fans derived events out to every live
// handle of every affected participant. One handler invocation per inbound
// event; per-event failures are logged at this boundary and never re-raised
// to the transport.
type Engine struct {
	stores StoreResolver
	hub    *ws.Hub
	ids    identity.Resolver
	pub    *events.Publisher
	log    *zap.SugaredLogger
}

func New(stores StoreResolver, hub *ws.Hub, ids identity.Resolver, pub *events.Publisher, log *zap.SugaredLogger) *Engine {
	return &Engine{stores: stores, hub: hub, ids: ids, pub: pub, log: log}
}

// HandleEvent dispatches one inbound frame from a joined session. Unknown
// types are ignored.
func (e *Engine) HandleEvent(ctx context.Context, s *ws.Session, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		e.log.Debugw("invalid frame", "conn", s.ID, "err", err)
		return
	}
	if !s.Joined() {
		e.log.Warnw("event before join", "conn", s.ID, "type", env.Type)
		return
	}

	var err error
	switch env.Type {
	case EvStartChat:
		err = e.startChat(ctx, s, env.Payload)
	case EvStartGroupChat:
		err = e.startGroupChat(ctx, s, env.Payload)
	case EvRenameChat:
		err = e.renameChat(ctx, s, env.Payload)
	case EvGetMessageHistory:
		err = e.messageHistory(ctx, s, env.Payload)
	case EvDirectMessage:
		err = e.directMessage(ctx, s, env.Payload)
	case EvMessage:
		err = e.legacyMessage(ctx, s, env.Payload)
	case EvAddReaction:
		err = e.addReaction(ctx, s, env.Payload)
	case EvMarkMessageRead:
		err = e.markMessageRead(ctx, s, env.Payload)
	case EvMarkAllRead:
		err = e.markAllRead(ctx, s, env.Payload)
	case EvUpdateUnreadCount:
		err = e.updateUnreadCount(ctx, s, env.Payload)
	case EvDeleteMessage:
		err = e.deleteMessage(ctx, s, env.Payload)
	case EvEditMessage:
		err = e.editMessage(ctx, s, env.Payload)
	case EvUpdateStatus:
		err = e.updateStatus(ctx, s, env.Payload)
	default:
		e.log.Debugw("unknown event", "conn", s.ID, "type", env.Type)
	}
	if err != nil {
		e.log.Errorw("event failed", "conn", s.ID, "user", s.UserID, "type", env.Type, "err", err)
	}
}

// Join completes the session's transition to Joined: the handle is added to
// the participant's live set and subscribed to every chat room the
// participant belongs to.
func (e *Engine) Join(ctx context.Context, s *ws.Session, raw []byte) error {
	var p joinPayload
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &p)
	}

	st, err := e.stores.Stores(ctx, s.TenantID)
	if err != nil {
		return err
	}
	if err := st.Participants.Upsert(ctx, &models.Participant{
		ID:         s.UserID,
		Active:     true,
		LastSeenAt: time.Now().UTC(),
	}); err != nil {
		return err
	}
	if p.PushToken != "" {
		if err := st.Participants.AddPushToken(ctx, s.UserID, p.PushToken); err != nil {
			e.log.Warnw("push token", "user", s.UserID, "err", err)
		}
	}

	s.SetState(ws.StateJoined)
	e.hub.Add(s)

	chats, err := st.Chats.ListForParticipant(ctx, s.UserID)
	if err != nil {
		return err
	}
	for _, ch := range chats {
		e.hub.JoinRoom(ch.ID, s)
	}

	// announce presence to chat peers; background sync, fails silently
	e.broadcastStatus(ctx, st, s.UserID, e.currentStatus(ctx, st, s.UserID), true)
	e.log.Infow("participant joined", "user", s.UserID, "tenant", s.TenantID,
		"handles", e.hub.HandleCount(s.UserID))
	return nil
}

// Disconnect removes the handle; the participant goes inactive only when the
// last handle is gone.
func (e *Engine) Disconnect(ctx context.Context, s *ws.Session) {
	wasJoined := s.Joined()
	s.SetState(ws.StateDisconnected)
	if !wasJoined {
		return
	}
	last := e.hub.Remove(s)
	if !last {
		return
	}
	st, err := e.stores.Stores(ctx, s.TenantID)
	if err != nil {
		e.log.Warnw("disconnect", "user", s.UserID, "err", err)
		return
	}
	if err := st.Participants.SetActive(ctx, s.UserID, false); err != nil {
		e.log.Warnw("disconnect", "user", s.UserID, "err", err)
	}
	e.broadcastStatus(ctx, st, s.UserID, e.currentStatus(ctx, st, s.UserID), false)
}

func (e *Engine) startChat(ctx context.Context, s *ws.Session, raw []byte) error {
	var p startChatPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	st, err := e.stores.Stores(ctx, s.TenantID)
	if err != nil {
		return err
	}
	ch, created, err := st.Chats.CreateDirect(ctx, s.UserID, p.Contact)
	if err != nil {
		return err
	}
	// subscribe every live handle of both participants to the room
	for _, uid := range ch.Participants {
		for _, sess := range e.hub.SessionsOf(uid) {
			e.hub.JoinRoom(ch.ID, sess)
		}
	}
	if created {
		e.log.Infow("chat created", "chat", ch.ID, "tenant", s.TenantID)
	}
	s.Push(ws.EncodeFrame("chatStarted", ch))
	return nil
}

// startGroupChat creates a named group chat with the caller plus the listed
// participants and announces it to everyone already online.
func (e *Engine) startGroupChat(ctx context.Context, s *ws.Session, raw []byte) error {
	var p startGroupChatPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	st, err := e.stores.Stores(ctx, s.TenantID)
	if err != nil {
		return err
	}
	members := []string{s.UserID}
	for _, id := range p.Participants {
		if id != "" && !contains(members, id) {
			members = append(members, id)
		}
	}
	ch := &models.Chat{Type: models.ChatGroup, Name: p.Name, Participants: members}
	if err := st.Chats.Create(ctx, ch); err != nil {
		return err
	}
	for _, uid := range ch.Participants {
		for _, sess := range e.hub.SessionsOf(uid) {
			e.hub.JoinRoom(ch.ID, sess)
		}
	}
	e.log.Infow("group chat created", "chat", ch.ID, "tenant", s.TenantID, "members", len(members))
	e.hub.SendToRoom(ch.ID, ws.EncodeFrame("chatStarted", ch))
	return nil
}

// renameChat sets the group's display name. Participants only.
func (e *Engine) renameChat(ctx context.Context, s *ws.Session, raw []byte) error {
	var p renameChatPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	st, err := e.stores.Stores(ctx, s.TenantID)
	if err != nil {
		return err
	}
	ch, err := st.Chats.Get(ctx, p.ChatID)
	if err != nil {
		return err
	}
	if !contains(ch.Participants, s.UserID) {
		return apperr.ErrNotAuthorized
	}
	if err := st.Chats.Rename(ctx, p.ChatID, p.Name); err != nil {
		return err
	}
	e.hub.SendToRoom(p.ChatID, ws.EncodeFrame(OutChatRenamed, chatRenamedEvent{
		ChatID: p.ChatID, Name: p.Name, UserID: s.UserID,
	}))
	return nil
}

// messageHistory is request/response style: on failure the requester gets an
// empty result rather than an error frame.
func (e *Engine) messageHistory(ctx context.Context, s *ws.Session, raw []byte) error {
	var p historyPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = 50
	}
	empty := messageHistoryEvent{Messages: []*models.Message{}, CurrentPage: p.Page}

	st, err := e.stores.Stores(ctx, s.TenantID)
	if err != nil {
		s.Push(ws.EncodeFrame(OutMessageHistory, empty))
		return err
	}
	msgs, total, err := st.Messages.History(ctx, p.ChatID, s.UserID, p.Page, p.Limit)
	if err != nil {
		s.Push(ws.EncodeFrame(OutMessageHistory, empty))
		return err
	}
	identity.Hydrate(ctx, e.ids, s.TenantID, msgs)
	if msgs == nil {
		msgs = []*models.Message{}
	}
	s.Push(ws.EncodeFrame(OutMessageHistory, messageHistoryEvent{
		Messages:    msgs,
		HasMore:     p.Page*p.Limit < total,
		Total:       total,
		CurrentPage: p.Page,
	}))
	return nil
}

func (e *Engine) directMessage(ctx context.Context, s *ws.Session, raw []byte) error {
	var p directMessagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	if p.Type == "" {
		p.Type = models.MessageText
	}
	return e.send(ctx, s, &models.Message{
		ChatID:      p.ChatID,
		SenderID:    s.UserID,
		Content:     p.Content,
		Type:        p.Type,
		Attachments: p.Attachments,
		ReplyTo:     p.ReplyTo,
	})
}

// legacyMessage is the old room path: content plus a room id, text only.
func (e *Engine) legacyMessage(ctx context.Context, s *ws.Session, raw []byte) error {
	var p legacyMessagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	return e.send(ctx, s, &models.Message{
		ChatID:   p.RoomID,
		SenderID: s.UserID,
		Content:  p.Content,
		Type:     models.MessageText,
	})
}

// send is the delivery protocol: persist with an empty viewer set, advance
// the chat's last-message pointer, then decide read state per recipient.
// Room presence counts as read; anyone else gets an unread-count push. The
// membership check and the viewer-set write are one atomic decision per
// recipient — a recipient joining the room microseconds after the check
// stays unread until their next read event.
func (e *Engine) send(ctx context.Context, s *ws.Session, m *models.Message) error {
	st, err := e.stores.Stores(ctx, s.TenantID)
	if err != nil {
		return err
	}
	ch, err := st.Chats.Get(ctx, m.ChatID)
	if err != nil {
		return err
	}
	if !contains(ch.Participants, s.UserID) {
		return apperr.ErrNotAuthorized
	}
	if err := st.Messages.Insert(ctx, m); err != nil {
		return err
	}
	if err := st.Chats.SetLastMessage(ctx, ch.ID, m); err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, pid := range ch.Participants {
		if pid == s.UserID {
			continue
		}
		if e.hub.IsSubscribed(pid, ch.ID) {
			added, err := st.Messages.AddViewer(ctx, m.ID, pid)
			if err != nil {
				e.log.Warnw("auto-read", "message", m.ID, "user", pid, "err", err)
				continue
			}
			if added {
				m.Viewers = append(m.Viewers, pid)
				e.sendToParticipants(ch.Participants, ws.EncodeFrame(OutMessageRead, messageReadEvent{
					MessageID: m.ID, ChatID: ch.ID, UserID: pid, ReadAt: now,
				}))
			}
		} else {
			e.pushUnreadCount(ctx, st, ch.ID, pid)
		}
	}

	identity.Hydrate(ctx, e.ids, s.TenantID, []*models.Message{m})
	frame := ws.EncodeFrame(OutMessageSent, messageSentEvent{Message: m, ChatID: ch.ID})
	e.sendToParticipants(ch.Participants, frame)

	e.pub.MessageSent(ctx, s.TenantID, m)
	return nil
}

func (e *Engine) addReaction(ctx context.Context, s *ws.Session, raw []byte) error {
	var p reactionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	st, err := e.stores.Stores(ctx, s.TenantID)
	if err != nil {
		return err
	}
	var reaction *models.Reaction
	if p.Emoji == "" {
		if err := st.Messages.RemoveReaction(ctx, p.MessageID, s.UserID); err != nil {
			return err
		}
	} else {
		reaction, err = st.Messages.SetReaction(ctx, p.MessageID, s.UserID, p.Emoji)
		if err != nil {
			return err
		}
	}
	ch, err := st.Chats.Get(ctx, p.ChatID)
	if err != nil {
		return err
	}
	e.sendToParticipants(ch.Participants, ws.EncodeFrame(OutMessageReaction, messageReactionEvent{
		MessageID: p.MessageID, ChatID: p.ChatID, Reaction: reaction, UserID: s.UserID,
	}))
	return nil
}

// markMessageRead is idempotent: only a net-new viewer addition triggers
// persistence, recompute and fan-out.
func (e *Engine) markMessageRead(ctx context.Context, s *ws.Session, raw []byte) error {
	var p markReadPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	st, err := e.stores.Stores(ctx, s.TenantID)
	if err != nil {
		return err
	}
	added, err := st.Messages.AddViewer(ctx, p.MessageID, s.UserID)
	if err != nil {
		return err
	}
	if !added {
		return nil
	}
	ch, err := st.Chats.Get(ctx, p.ChatID)
	if err != nil {
		return err
	}
	e.sendToParticipants(ch.Participants, ws.EncodeFrame(OutMessageRead, messageReadEvent{
		MessageID: p.MessageID, ChatID: p.ChatID, UserID: s.UserID, ReadAt: time.Now().UTC(),
		User: e.lookupOne(ctx, s.TenantID, s.UserID),
	}))
	e.pushUnreadCount(ctx, st, p.ChatID, s.UserID)
	return nil
}

func (e *Engine) markAllRead(ctx context.Context, s *ws.Session, raw []byte) error {
	var p markAllReadPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	st, err := e.stores.Stores(ctx, s.TenantID)
	if err != nil {
		return err
	}
	ids, err := st.Messages.MarkAllRead(ctx, p.ChatID, s.UserID)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		ch, err := st.Chats.Get(ctx, p.ChatID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		user := e.lookupOne(ctx, s.TenantID, s.UserID)
		for _, id := range ids {
			e.sendToParticipants(ch.Participants, ws.EncodeFrame(OutMessageRead, messageReadEvent{
				MessageID: id, ChatID: p.ChatID, UserID: s.UserID, ReadAt: now, User: user,
			}))
		}
	}
	e.pushUnreadCount(ctx, st, p.ChatID, s.UserID)
	return nil
}

func (e *Engine) updateUnreadCount(ctx context.Context, s *ws.Session, raw []byte) error {
	var p unreadCountPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	st, err := e.stores.Stores(ctx, s.TenantID)
	if err != nil {
		return err
	}
	e.pushUnreadCount(ctx, st, p.ChatID, s.UserID)
	return nil
}

func (e *Engine) deleteMessage(ctx context.Context, s *ws.Session, raw []byte) error {
	var p deletePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	st, err := e.stores.Stores(ctx, s.TenantID)
	if err != nil {
		return err
	}
	msg, err := st.Messages.Get(ctx, p.MessageID)
	if err != nil {
		return err
	}
	ch, err := st.Chats.Get(ctx, p.ChatID)
	if err != nil {
		return err
	}

	switch p.Mode {
	case DeleteForEveryone:
		return e.deleteForEveryone(ctx, st, s, ch, msg)
	case DeleteForMe:
		return e.deleteForMe(ctx, st, s, ch, msg)
	default:
		e.log.Warnw("unknown delete mode", "mode", p.Mode)
		return nil
	}
}

// deleteForEveryone physically removes the message. Sender only. Each
// participant's event carries their own recomputed last-visible message.
func (e *Engine) deleteForEveryone(ctx context.Context, st *Stores, s *ws.Session, ch *models.Chat, msg *models.Message) error {
	if msg.SenderID != s.UserID {
		return apperr.ErrNotAuthorized
	}
	if err := st.Messages.Delete(ctx, msg.ID); err != nil {
		return err
	}
	if ch.LastMessage != nil && ch.LastMessage.ID == msg.ID {
		latest, err := st.Messages.LastVisible(ctx, ch.ID, "")
		if err != nil {
			return err
		}
		if err := st.Chats.SetLastMessage(ctx, ch.ID, latest); err != nil {
			return err
		}
	}
	for _, pid := range ch.Participants {
		last, err := st.Messages.LastVisible(ctx, ch.ID, pid)
		if err != nil {
			e.log.Warnw("last visible", "chat", ch.ID, "user", pid, "err", err)
			continue
		}
		e.hub.SendToUser(pid, ws.EncodeFrame(OutMessageDeleted, messageDeletedEvent{
			ChatID: ch.ID, MessageID: msg.ID, LastMessage: last, Mode: DeleteForEveryone,
		}))
		e.pushUnreadCount(ctx, st, ch.ID, pid)
	}
	return nil
}

// deleteForMe hides the message from the deleting participant only. When the
// sender hides their own latest message, the chat pointer advances to their
// next visible message.
func (e *Engine) deleteForMe(ctx context.Context, st *Stores, s *ws.Session, ch *models.Chat, msg *models.Message) error {
	if err := st.Messages.HideFor(ctx, msg.ID, s.UserID); err != nil {
		return err
	}
	last, err := st.Messages.LastVisible(ctx, ch.ID, s.UserID)
	if err != nil {
		return err
	}
	if s.UserID == msg.SenderID && ch.LastMessage != nil && ch.LastMessage.ID == msg.ID {
		if err := st.Chats.SetLastMessage(ctx, ch.ID, last); err != nil {
			return err
		}
	}
	e.hub.SendToUser(s.UserID, ws.EncodeFrame(OutMessageDeleted, messageDeletedEvent{
		ChatID: ch.ID, MessageID: msg.ID, LastMessage: last, Mode: DeleteForMe,
	}))
	return nil
}

// editMessage re-encrypts the body in place. Sender only.
func (e *Engine) editMessage(ctx context.Context, s *ws.Session, raw []byte) error {
	var p editPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	st, err := e.stores.Stores(ctx, s.TenantID)
	if err != nil {
		return err
	}
	msg, err := st.Messages.Get(ctx, p.MessageID)
	if err != nil {
		return err
	}
	if msg.SenderID != s.UserID {
		return apperr.ErrNotAuthorized
	}
	if err := st.Messages.SetContent(ctx, p.MessageID, p.Content); err != nil {
		return err
	}
	ch, err := st.Chats.Get(ctx, p.ChatID)
	if err != nil {
		return err
	}
	e.sendToParticipants(ch.Participants, ws.EncodeFrame(OutMessageEdited, messageEditedEvent{
		MessageID: p.MessageID, ChatID: p.ChatID, Content: p.Content,
		UserID: s.UserID, EditedAt: time.Now().UTC(),
	}))
	return nil
}

func (e *Engine) updateStatus(ctx context.Context, s *ws.Session, raw []byte) error {
	var p statusPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	st, err := e.stores.Stores(ctx, s.TenantID)
	if err != nil {
		return err
	}
	if err := st.Participants.SetStatus(ctx, s.UserID, p.Status); err != nil {
		return err
	}
	e.broadcastStatus(ctx, st, s.UserID, p.Status, true)
	return nil
}

// pushUnreadCount recomputes the participant's unread count for the chat and
// pushes it to all their live handles. Background sync, fails silently.
func (e *Engine) pushUnreadCount(ctx context.Context, st *Stores, chatID, participantID string) {
	count, err := st.Messages.UnreadCount(ctx, chatID, participantID)
	if err != nil {
		e.log.Warnw("unread count", "chat", chatID, "user", participantID, "err", err)
		return
	}
	e.hub.SendToUser(participantID, ws.EncodeFrame(OutUnreadCountUpdate, unreadCountEvent{
		ChatID: chatID, Count: count,
	}))
}

// broadcastStatus fans a presence change out to the peers of every chat the
// participant belongs to.
func (e *Engine) broadcastStatus(ctx context.Context, st *Stores, userID string, status models.Presence, active bool) {
	chats, err := st.Chats.ListForParticipant(ctx, userID)
	if err != nil {
		e.log.Warnw("status broadcast", "user", userID, "err", err)
		return
	}
	frame := ws.EncodeFrame(OutStatusUpdate, statusUpdateEvent{
		ParticipantID: userID, Status: status, Active: active,
	})
	seen := map[string]bool{userID: true}
	for _, ch := range chats {
		for _, pid := range ch.Participants {
			if !seen[pid] {
				seen[pid] = true
				e.hub.SendToUser(pid, frame)
			}
		}
	}
}

func (e *Engine) currentStatus(ctx context.Context, st *Stores, userID string) models.Presence {
	p, err := st.Participants.Get(ctx, userID)
	if err != nil || p.Status == "" {
		return models.PresenceOnline
	}
	return p.Status
}

func (e *Engine) sendToParticipants(participants []string, frame []byte) {
	for _, pid := range participants {
		e.hub.SendToUser(pid, frame)
	}
}

func (e *Engine) lookupOne(ctx context.Context, tenantID, userID string) *models.UserRef {
	users, err := e.ids.Lookup(ctx, tenantID, []string{userID})
	if err != nil {
		return nil
	}
	return users[userID]
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
