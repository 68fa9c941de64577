package store

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Entry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags"`
	Folder    string    `json:"folder,omitempty"`
	Favorite  bool      `json:"favorite"`
	FilePath  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EntryFilter narrows List and TextSearch. Zero values mean "no constraint".
type EntryFilter struct {
	DateFrom     time.Time
	DateTo       time.Time
	Tags         []string
	Folder       string
	FavoriteOnly bool
	Limit        int
	Offset       int
}

// TextHit is an entry matched by keyword search, scored by the fraction of keywords found.
type TextHit struct {
	Entry Entry   `json:"entry"`
	Score float64 `json:"score"`
}

// ChunkRecord is a persisted chunk row. Embedding is the raw blob, nil while pending.
type ChunkRecord struct {
	ID         int64
	EntryID    string
	ChunkIndex int
	Text       string
	Start      int
	End        int
	Embedding  []byte
	Dims       int
}

type Persona struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	SystemPrompt string    `json:"system_prompt"`
	CreatedAt    time.Time `json:"created_at"`
}

type ChatSession struct {
	ID             string     `json:"id"`
	Title          *string    `json:"title"`
	PersonaID      *string    `json:"persona_id,omitempty"`
	ContextSummary *string    `json:"context_summary,omitempty"`
	DateFrom       *time.Time `json:"date_from,omitempty"`
	DateTo         *time.Time `json:"date_to,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type ChatMessage struct {
	ID         string           `json:"id"`
	SessionID  string           `json:"session_id"`
	Role       string           `json:"role"` // "user" or "assistant"
	Content    string           `json:"content"`
	TokenCount int              `json:"token_count"`
	CreatedAt  time.Time        `json:"created_at"`
	References []EntryReference `json:"references,omitempty"`
}

// EntryReference is a retrieved passage cited by a chat message.
type EntryReference struct {
	EntryID    string    `json:"entry_id"`
	ChunkIndex *int      `json:"chunk_index,omitempty"`
	Score      float64   `json:"score"`
	Title      string    `json:"title"`
	Snippet    string    `json:"snippet"`
	EntryDate  time.Time `json:"entry_date"`
}

// EstimateTokens approximates the token count of text as len/4.
func EstimateTokens(text string) int {
	return len(text) / 4
}
