package chat

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultTitle is the title every new thread starts with and the fallback
// when title generation fails.
const DefaultTitle = "New Chat"

// Chat is one persisted conversation thread. Timestamp is the last-touched
// instant and the sole sort key when listing. Messages is an advisory count;
// History is authoritative for rendering.
type Chat struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Timestamp string        `json:"timestamp"`
	Messages  int           `json:"messages"`
	History   []ChatMessage `json:"history"`
}

// ChatMessage is one turn of a conversation. Timestamp is set at persistence
// time, not at generation time.
type ChatMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

type Settings struct {
	ID                  string          `json:"id"`
	Notifications       bool            `json:"notifications"`
	MessagePreview      bool            `json:"messagePreview"`
	SaveChatHistory     bool            `json:"saveChatHistory"`
	EnabledIntegrations map[string]bool `json:"enabledIntegrations"`
}

// SettingsID keys the singleton settings record.
const SettingsID = "user-settings"

func DefaultSettings() Settings {
	return Settings{
		ID:              SettingsID,
		Notifications:   true,
		MessagePreview:  true,
		SaveChatHistory: true,
		EnabledIntegrations: map[string]bool{
			"webSearch": false,
			"github":    false,
			"supabase":  false,
			"stripe":    false,
			"netlify":   false,
		},
	}
}

// NewChatID returns a time-ordered unique thread identifier.
func NewChatID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NowISO is the timestamp format persisted on threads and turns.
func NowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// ParseISO parses a persisted timestamp; zero time on failure so threads
// with unreadable timestamps sort last instead of breaking the list.
func ParseISO(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func NewChat(title string) (*Chat, error) {
	if title == "" {
		title = DefaultTitle
	}
	id, err := NewChatID()
	if err != nil {
		return nil, err
	}
	return &Chat{
		ID:        id,
		Title:     title,
		Timestamp: NowISO(),
		Messages:  0,
		History:   []ChatMessage{},
	}, nil
}
