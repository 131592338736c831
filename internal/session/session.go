// Package session orchestrates a chat conversation: it owns the transient
// message sequence for the open thread, mirrors terminal state into the
// store, and coordinates the concurrent title and reply-stream requests.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatrelay/internal/chat"
	"chatrelay/internal/upstream"
)

// Store is the durable side of the session: whole-record reads and writes
// over threads and settings.
type Store interface {
	ListChats() ([]chat.Chat, error)
	GetChat(id string) (*chat.Chat, error)
	PutChat(c *chat.Chat) error
	DeleteChat(id string) error
	Settings() (chat.Settings, error)
	PutSettings(s chat.Settings) error
}

// Relay is the client-facing API of the relay server.
type Relay interface {
	StreamChat(ctx context.Context, model string, messages []upstream.Message) (<-chan upstream.Event, <-chan error)
	Title(ctx context.Context, prompt string) (string, error)
}

// DisplayMessage is one entry of the transient in-memory sequence. Content
// of the rendering assistant message is appended to in stream order while
// deltas arrive.
type DisplayMessage struct {
	ID        string
	Role      string
	Content   string
	Timestamp time.Time
}

type Session struct {
	store Store
	relay Relay

	mu         sync.Mutex
	onDelta    func(delta string)
	model      string
	selected   string
	messages   []DisplayMessage
	loading    bool
	titleReady bool
	loadGen    int

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(store Store, relay Relay, model string) *Session {
	return &Session{
		store: store,
		relay: relay,
		model: model,
		locks: make(map[string]*sync.Mutex),
	}
}

// lockFor serializes read-modify-write cycles per thread so a slow title
// merge cannot clobber a concurrent reply persistence.
func (s *Session) lockFor(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Session) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// TitleReady reports whether the thread header may be shown. It is held
// back while the first message's title generation is still unresolved.
func (s *Session) TitleReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.titleReady
}

func (s *Session) SetModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = model
}

// SetOnDelta registers an observer called once per assistant delta, in
// arrival order, while a reply streams.
func (s *Session) SetOnDelta(fn func(delta string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDelta = fn
}

// Messages returns a snapshot of the transient sequence.
func (s *Session) Messages() []DisplayMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DisplayMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Session) Chats() ([]chat.Chat, error) {
	return s.store.ListChats()
}

// CreateChat persists a fresh thread with the default title and no history.
func (s *Session) CreateChat() (*chat.Chat, error) {
	c, err := chat.NewChat("")
	if err != nil {
		return nil, err
	}
	if err := s.store.PutChat(c); err != nil {
		return nil, err
	}
	return c, nil
}

// SelectChat switches the open thread and rebuilds the transient sequence
// from its persisted history. A later switch invalidates an in-flight load:
// the stale result is discarded, never applied to the wrong thread.
func (s *Session) SelectChat(id string) error {
	s.mu.Lock()
	s.loadGen++
	gen := s.loadGen
	s.selected = id
	s.messages = nil
	s.titleReady = false
	s.mu.Unlock()

	if id == "" {
		return nil
	}

	c, err := s.store.GetChat(id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.loadGen || s.selected != id {
		return nil
	}
	if err != nil {
		return err
	}
	if c == nil {
		return nil
	}
	msgs := make([]DisplayMessage, 0, len(c.History))
	for i, m := range c.History {
		msgs = append(msgs, DisplayMessage{
			ID:        fmt.Sprintf("%s-%d", c.ID, i),
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: chat.ParseISO(m.Timestamp),
		})
	}
	s.messages = msgs
	s.titleReady = c.Messages > 0
	return nil
}

// DeleteChat removes a thread; deleting the open thread clears the selection.
func (s *Session) DeleteChat(id string) error {
	if err := s.store.DeleteChat(id); err != nil {
		return err
	}
	s.mu.Lock()
	if s.selected == id {
		s.loadGen++
		s.selected = ""
		s.messages = nil
		s.titleReady = false
	}
	s.mu.Unlock()
	return nil
}

// SendMessage runs one full send: ensure a thread exists, persist the user
// turn, request a title when this is the thread's first message, stream the
// assistant reply into the transient sequence, and persist the assistant
// turn. The title request and the reply stream run concurrently; both are
// joined before SendMessage returns.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	s.mu.Lock()
	id := s.selected
	model := s.model
	s.mu.Unlock()

	if id == "" {
		c, err := s.CreateChat()
		if err != nil {
			log.Printf("[Session] create chat: %v", err)
			return err
		}
		s.mu.Lock()
		s.loadGen++
		s.selected = c.ID
		s.messages = nil
		s.titleReady = false
		s.mu.Unlock()
		id = c.ID
	}

	// Optimistic append: the user turn shows before anything is persisted.
	s.mu.Lock()
	s.messages = append(s.messages, DisplayMessage{
		ID:        uuid.NewString(),
		Role:      chat.RoleUser,
		Content:   text,
		Timestamp: time.Now(),
	})
	s.loading = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
	}()

	// Persist the user turn. The first-message check reads the persisted
	// count inside the same critical section, so two rapid sends cannot
	// both observe an empty thread.
	lock := s.lockFor(id)
	lock.Lock()
	persisted, err := s.store.GetChat(id)
	if err == nil && persisted == nil {
		err = fmt.Errorf("session: thread %s not found", id)
	}
	if err != nil {
		lock.Unlock()
		log.Printf("[Session] load thread: %v", err)
		return err
	}
	first := persisted.Messages == 0
	persisted.History = append(persisted.History, chat.ChatMessage{
		Role:      chat.RoleUser,
		Content:   text,
		Timestamp: chat.NowISO(),
	})
	persisted.Messages++
	persisted.Timestamp = chat.NowISO()
	err = s.store.PutChat(persisted)
	lock.Unlock()
	if err != nil {
		log.Printf("[Session] persist user turn: %v", err)
		return err
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	if first {
		s.mu.Lock()
		s.titleReady = false
		s.mu.Unlock()
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.generateTitle(ctx, id, text)
		}()
	} else {
		s.mu.Lock()
		s.titleReady = true
		s.mu.Unlock()
	}

	// Context for the reply is the transient sequence including the new
	// user turn.
	s.mu.Lock()
	ctxMsgs := make([]upstream.Message, 0, len(s.messages))
	for _, m := range s.messages {
		ctxMsgs = append(ctxMsgs, upstream.Message{Role: m.Role, Content: m.Content})
	}
	assistantID := uuid.NewString()
	s.messages = append(s.messages, DisplayMessage{
		ID:        assistantID,
		Role:      chat.RoleAssistant,
		Content:   "",
		Timestamp: time.Now(),
	})
	s.mu.Unlock()

	events, errs := s.relay.StreamChat(ctx, model, ctxMsgs)

	var b strings.Builder
	done := false
	for ev := range events {
		if ev.Type == upstream.EventDone {
			done = true
			break
		}
		if ev.Type == upstream.EventDelta {
			b.WriteString(ev.Content)
			s.appendContent(assistantID, ev.Content)
			s.mu.Lock()
			fn := s.onDelta
			s.mu.Unlock()
			if fn != nil {
				fn(ev.Content)
			}
		}
	}
	select {
	case err := <-errs:
		if err != nil {
			log.Printf("[Session] reply stream: %v", err)
			return err
		}
	default:
	}
	// A stream that ends without done was cut off. The partial reply stays
	// visible in the transient sequence but is never persisted as a
	// completed turn.
	if !done {
		err := errors.New("session: reply stream ended without done")
		log.Printf("[Session] %v", err)
		return err
	}

	// Persist the assistant turn. An empty reply still touches the record
	// (count and timestamp advance) but appends nothing to history.
	reply := b.String()
	lock.Lock()
	cur, err := s.store.GetChat(id)
	if err == nil && cur == nil {
		err = fmt.Errorf("session: thread %s not found", id)
	}
	if err == nil {
		if reply != "" {
			cur.History = append(cur.History, chat.ChatMessage{
				Role:      chat.RoleAssistant,
				Content:   reply,
				Timestamp: chat.NowISO(),
			})
		}
		cur.Messages++
		cur.Timestamp = chat.NowISO()
		err = s.store.PutChat(cur)
	}
	lock.Unlock()
	if err != nil {
		log.Printf("[Session] persist assistant turn: %v", err)
		return err
	}
	return nil
}

// generateTitle merges only the title field into the thread record; history
// and count are left to the concurrently persisting reply. Failure keeps
// the default title. The header gate is released either way.
func (s *Session) generateTitle(ctx context.Context, id, prompt string) {
	defer func() {
		s.mu.Lock()
		s.titleReady = true
		s.mu.Unlock()
	}()

	title, err := s.relay.Title(ctx, prompt)
	if err != nil {
		log.Printf("[Session] title generation: %v", err)
		return
	}
	if title == "" {
		title = chat.DefaultTitle
	}

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	cur, err := s.store.GetChat(id)
	if err != nil || cur == nil {
		log.Printf("[Session] title merge load: %v", err)
		return
	}
	cur.Title = title
	if err := s.store.PutChat(cur); err != nil {
		log.Printf("[Session] title merge save: %v", err)
	}
}

func (s *Session) appendContent(id, delta string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i].Content += delta
			return
		}
	}
}

func (s *Session) Settings() (chat.Settings, error) {
	return s.store.Settings()
}

func (s *Session) SaveSettings(settings chat.Settings) error {
	return s.store.PutSettings(settings)
}

// ToggleIntegration flips one integration flag and persists the record.
func (s *Session) ToggleIntegration(key string) error {
	settings, err := s.store.Settings()
	if err != nil {
		return err
	}
	if settings.EnabledIntegrations == nil {
		settings.EnabledIntegrations = map[string]bool{}
	}
	settings.EnabledIntegrations[key] = !settings.EnabledIntegrations[key]
	return s.store.PutSettings(settings)
}
