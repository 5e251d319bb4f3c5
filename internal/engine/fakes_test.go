package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fathima-sithara/chat-platform/internal/apperr"
	"github.com/fathima-sithara/chat-platform/internal/identity"
	"github.com/fathima-sithara/chat-platform/internal/models"
)

// In-memory stores mirroring the repository semantics, shared by the engine
// tests.

type memStores struct {
	chats        *memChats
	messages     *memMessages
	participants *memParticipants
}

func newMemStores() *memStores {
	return &memStores{
		chats:        &memChats{chats: map[string]*models.Chat{}},
		messages:     &memMessages{msgs: map[string]*models.Message{}},
		participants: &memParticipants{parts: map[string]*models.Participant{}},
	}
}

func (m *memStores) Stores(context.Context, string) (*Stores, error) {
	return &Stores{Chats: m.chats, Messages: m.messages, Participants: m.participants}, nil
}

type memChats struct {
	mu    sync.Mutex
	seq   int
	chats map[string]*models.Chat
}

func (c *memChats) nextID() string {
	c.seq++
	return fmt.Sprintf("chat-%d", c.seq)
}

func (c *memChats) seed(id string, participants ...string) *models.Chat {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := &models.Chat{ID: id, Type: models.ChatGroup, Participants: participants, CreatedAt: time.Now()}
	c.chats[id] = ch
	return ch
}

func (c *memChats) CreateDirect(_ context.Context, a, b string) (*models.Chat, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pair := []string{a, b}
	sort.Strings(pair)
	key := strings.Join(pair, ":")
	for _, ch := range c.chats {
		if ch.Type == models.ChatDirect && ch.PairKey == key {
			return ch, false, nil
		}
	}
	ch := &models.Chat{
		ID:           c.nextID(),
		Type:         models.ChatDirect,
		Participants: []string{a, b},
		PairKey:      key,
		CreatedAt:    time.Now(),
	}
	c.chats[ch.ID] = ch
	return ch, true, nil
}

func (c *memChats) Create(_ context.Context, ch *models.Chat) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch.ID == "" {
		ch.ID = c.nextID()
	}
	c.chats[ch.ID] = ch
	return nil
}

func (c *memChats) Get(_ context.Context, id string) (*models.Chat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.chats[id]
	if !ok {
		return nil, fmt.Errorf("%w: chat %s", apperr.ErrNotFound, id)
	}
	return ch, nil
}

func (c *memChats) Rename(_ context.Context, chatID, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.chats[chatID]
	if !ok {
		return fmt.Errorf("%w: chat %s", apperr.ErrNotFound, chatID)
	}
	ch.Name = name
	return nil
}

func (c *memChats) SetLastMessage(_ context.Context, chatID string, m *models.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.chats[chatID]
	if !ok {
		return fmt.Errorf("%w: chat %s", apperr.ErrNotFound, chatID)
	}
	if m == nil {
		ch.LastMessage = nil
		return nil
	}
	cp := *m
	ch.LastMessage = &cp
	return nil
}

func (c *memChats) ListForParticipant(_ context.Context, participantID string) ([]*models.Chat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*models.Chat
	for _, ch := range c.chats {
		for _, p := range ch.Participants {
			if p == participantID {
				out = append(out, ch)
				break
			}
		}
	}
	return out, nil
}

type memMessages struct {
	mu     sync.Mutex
	seq    int
	order  []string
	msgs   map[string]*models.Message
	writes int // persisted mutations, for idempotence assertions
}

func (s *memMessages) Insert(_ context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if m.ID == "" {
		m.ID = fmt.Sprintf("msg-%d", s.seq)
	}
	m.CreatedAt = time.Now().Add(time.Duration(s.seq) * time.Millisecond)
	m.UpdatedAt = m.CreatedAt
	if m.Viewers == nil {
		m.Viewers = []string{}
	}
	cp := *m
	s.msgs[m.ID] = &cp
	s.order = append(s.order, m.ID)
	s.writes++
	return nil
}

func (s *memMessages) Get(_ context.Context, id string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok {
		return nil, fmt.Errorf("%w: message %s", apperr.ErrNotFound, id)
	}
	cp := *m
	return &cp, nil
}

func (s *memMessages) History(_ context.Context, chatID, viewerID string, page, limit int64) ([]*models.Message, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var visible []*models.Message
	for _, id := range s.order {
		m, ok := s.msgs[id]
		if !ok || m.ChatID != chatID || m.HiddenFor(viewerID) {
			continue
		}
		cp := *m
		visible = append(visible, &cp)
	}
	total := int64(len(visible))
	start := (page - 1) * limit
	if start >= total {
		return nil, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return visible[start:end], total, nil
}

func (s *memMessages) AddViewer(_ context.Context, messageID, participantID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[messageID]
	if !ok {
		return false, fmt.Errorf("%w: message %s", apperr.ErrNotFound, messageID)
	}
	if m.ViewedBy(participantID) {
		return false, nil
	}
	m.Viewers = append(m.Viewers, participantID)
	m.UpdatedAt = time.Now()
	s.writes++
	return true, nil
}

func (s *memMessages) MarkAllRead(ctx context.Context, chatID, participantID string) ([]string, error) {
	s.mu.Lock()
	var unread []string
	for _, id := range s.order {
		m, ok := s.msgs[id]
		if ok && m.ChatID == chatID && m.SenderID != participantID &&
			!m.ViewedBy(participantID) && !m.HiddenFor(participantID) {
			unread = append(unread, id)
		}
	}
	s.mu.Unlock()
	for _, id := range unread {
		if _, err := s.AddViewer(ctx, id, participantID); err != nil {
			return nil, err
		}
	}
	return unread, nil
}

func (s *memMessages) SetReaction(_ context.Context, messageID, participantID, emoji string) (*models.Reaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[messageID]
	if !ok {
		return nil, fmt.Errorf("%w: message %s", apperr.ErrNotFound, messageID)
	}
	m.Reactions = removeReaction(m.Reactions, participantID)
	r := models.Reaction{ParticipantID: participantID, Emoji: emoji, ReactedAt: time.Now()}
	m.Reactions = append(m.Reactions, r)
	s.writes++
	return &r, nil
}

func (s *memMessages) RemoveReaction(_ context.Context, messageID, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[messageID]
	if !ok {
		return fmt.Errorf("%w: message %s", apperr.ErrNotFound, messageID)
	}
	m.Reactions = removeReaction(m.Reactions, participantID)
	s.writes++
	return nil
}

func removeReaction(rs []models.Reaction, participantID string) []models.Reaction {
	out := rs[:0]
	for _, r := range rs {
		if r.ParticipantID != participantID {
			out = append(out, r)
		}
	}
	return out
}

func (s *memMessages) HideFor(_ context.Context, messageID, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[messageID]
	if !ok {
		return fmt.Errorf("%w: message %s", apperr.ErrNotFound, messageID)
	}
	if !m.HiddenFor(participantID) {
		m.Hidden = append(m.Hidden, models.VisibilityCursor{ParticipantID: participantID, DeletedAt: time.Now()})
		s.writes++
	}
	return nil
}

func (s *memMessages) Delete(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.msgs[messageID]; !ok {
		return fmt.Errorf("%w: message %s", apperr.ErrNotFound, messageID)
	}
	delete(s.msgs, messageID)
	s.writes++
	return nil
}

func (s *memMessages) UnreadCount(_ context.Context, chatID, participantID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.msgs {
		if m.ChatID == chatID && m.SenderID != participantID &&
			!m.ViewedBy(participantID) && !m.HiddenFor(participantID) {
			n++
		}
	}
	return n, nil
}

func (s *memMessages) LastVisible(_ context.Context, chatID, participantID string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		m, ok := s.msgs[s.order[i]]
		if ok && m.ChatID == chatID && !m.HiddenFor(participantID) {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memMessages) SetContent(_ context.Context, messageID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[messageID]
	if !ok {
		return fmt.Errorf("%w: message %s", apperr.ErrNotFound, messageID)
	}
	m.Content = content
	m.Edited = true
	m.UpdatedAt = time.Now()
	s.writes++
	return nil
}

type memParticipants struct {
	mu    sync.Mutex
	parts map[string]*models.Participant
}

func (p *memParticipants) Upsert(_ context.Context, part *models.Participant) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	existing, ok := p.parts[part.ID]
	if ok {
		existing.Active = part.Active
		existing.LastSeenAt = part.LastSeenAt
		if part.Status != "" {
			existing.Status = part.Status
		}
		return nil
	}
	cp := *part
	if cp.Status == "" {
		cp.Status = models.PresenceOnline
	}
	p.parts[part.ID] = &cp
	return nil
}

func (p *memParticipants) Get(_ context.Context, id string) (*models.Participant, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	part, ok := p.parts[id]
	if !ok {
		return nil, fmt.Errorf("%w: participant %s", apperr.ErrNotFound, id)
	}
	cp := *part
	return &cp, nil
}

func (p *memParticipants) SetActive(_ context.Context, id string, active bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if part, ok := p.parts[id]; ok {
		part.Active = active
	}
	return nil
}

func (p *memParticipants) SetStatus(_ context.Context, id string, status models.Presence) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if part, ok := p.parts[id]; ok {
		part.Status = status
	}
	return nil
}

func (p *memParticipants) AddPushToken(_ context.Context, id, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if part, ok := p.parts[id]; ok {
		part.PushTokens = append(part.PushTokens, token)
	}
	return nil
}

// stubIdentity resolves every user to a fixed display name.
type stubIdentity struct{}

func (stubIdentity) VerifyToken(context.Context, string) (*identity.Claims, error) {
	return nil, apperr.ErrAuthenticationFailed
}

func (stubIdentity) Lookup(_ context.Context, _ string, ids []string) (map[string]*models.UserRef, error) {
	out := make(map[string]*models.UserRef, len(ids))
	for _, id := range ids {
		out[id] = &models.UserRef{ID: id, Name: "user " + id}
	}
	return out, nil
}
