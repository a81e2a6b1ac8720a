package flowrun

import "context"

// ChatMessage is one prompt message handed to the LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest describes a simple or structured LLM call.
type GenerateRequest struct {
	Profile     string         `json:"profile,omitempty"`
	Model       string         `json:"model,omitempty"`
	Messages    []ChatMessage  `json:"messages"`
	MaxTokens   int            `json:"maxTokens,omitempty"`
	Temperature float32        `json:"temperature,omitempty"`
	Schema      map[string]any `json:"schema,omitempty"`
}

// PromptOptions controls how host chat context is turned into messages.
type PromptOptions struct {
	System           string `json:"system,omitempty"`
	User             string `json:"user,omitempty"`
	IncludeHistory   bool   `json:"includeHistory,omitempty"`
	HistoryDepth     int    `json:"historyDepth,omitempty"`
	IncludeCharacter bool   `json:"includeCharacter,omitempty"`
}

// Character is the host's character card.
type Character struct {
	Name        string         `json:"name"`
	Avatar      string         `json:"avatar,omitempty"`
	Description string         `json:"description,omitempty"`
	Personality string         `json:"personality,omitempty"`
	Scenario    string         `json:"scenario,omitempty"`
	FirstMes    string         `json:"first_mes,omitempty"`
	MesExample  string         `json:"mes_example,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Extensions  map[string]any `json:"extensions,omitempty"`
}

// LorebookEntry is one world-info entry.
type LorebookEntry struct {
	UID      int      `json:"uid"`
	Keys     []string `json:"key"`
	Content  string   `json:"content"`
	Comment  string   `json:"comment,omitempty"`
	Disabled bool     `json:"disable,omitempty"`
}

// Lorebook is a named set of world-info entries.
type Lorebook struct {
	Name    string          `json:"name"`
	Entries []LorebookEntry `json:"entries"`
}

// VarScope selects which variable store a variable lives in.
type VarScope string

const (
	ScopeLocal     VarScope = "local"
	ScopeGlobal    VarScope = "global"
	ScopeExecution VarScope = "execution"
)

// Prompts builds message lists from the host chat state.
type Prompts interface {
	BuildMessages(ctx context.Context, opts PromptOptions) ([]ChatMessage, error)
}

// LLM issues model requests. GenerateStream calls onChunk once per delta.
type LLM interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	GenerateStructured(ctx context.Context, req GenerateRequest) (map[string]any, error)
	GenerateStream(ctx context.Context, req GenerateRequest, onChunk func(chunk string) error) (string, error)
}

type Characters interface {
	CreateCharacter(ctx context.Context, c Character) (Character, error)
	SaveCharacter(ctx context.Context, c Character) error
	GetCharacter(ctx context.Context, name string) (Character, error)
}

type Lorebooks interface {
	CreateLorebook(ctx context.Context, name string) (Lorebook, error)
	GetLorebook(ctx context.Context, name string) (Lorebook, error)
	ApplyEntry(ctx context.Context, book string, entry LorebookEntry) (LorebookEntry, error)
}

type Chat interface {
	SendMessage(ctx context.Context, role, text string) (int, error)
	EditMessage(ctx context.Context, id int, text string) error
	DeleteMessage(ctx context.Context, id int) error
	HideMessage(ctx context.Context, id int, hidden bool) error
}

type Slash interface {
	ExecuteSlash(ctx context.Context, command string) (string, error)
}

// Vars reads and writes local and global variables. Execution-scoped
// variables live in ExecutionContext.Variables instead.
type Vars interface {
	GetVar(ctx context.Context, scope VarScope, name string) (any, error)
	SetVar(ctx context.Context, scope VarScope, name string, value any) error
}

type Dialogs interface {
	PromptUser(ctx context.Context, message, defaultValue string) (string, error)
	ConfirmUser(ctx context.Context, message string) (bool, error)
}

// Notifier surfaces run outcomes to the end user.
type Notifier interface {
	Notify(ctx context.Context, level, message string) error
}

// CapabilityBag is the set of host operations available to node executors.
// The engine passes it through and never implements host behaviour itself.
type CapabilityBag interface {
	Prompts
	LLM
	Characters
	Lorebooks
	Chat
	Slash
	Vars
	Dialogs
	Notifier
}
