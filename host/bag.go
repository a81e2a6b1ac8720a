// Package host provides an in-memory CapabilityBag for embedding the engine
// outside a chat frontend: the demo server, tests and scripted runs.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"

	flowrun "flowrun"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
)

// SlashHandler executes one slash command; args is everything after the
// command name.
type SlashHandler func(ctx context.Context, args string) (string, error)

// DialogHandler answers interactive prompts. A Bag without one cannot ask
// the user anything.
type DialogHandler interface {
	Prompt(ctx context.Context, message, defaultValue string) (string, error)
	Confirm(ctx context.Context, message string) (bool, error)
}

// Message is one chat line kept by the Bag.
type Message struct {
	ID     int       `json:"id"`
	Role   string    `json:"role"`
	Text   string    `json:"text"`
	Hidden bool      `json:"hidden,omitempty"`
	SentAt time.Time `json:"sentAt"`
}

// Notice is a user-facing notification raised by the engine.
type Notice struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Bag implements flowrun.CapabilityBag in memory. The LLM group talks to
// OpenAI when a client is configured and returns canned responses otherwise.
type Bag struct {
	client *openai.Client
	model  string
	logger *slog.Logger

	mu         sync.RWMutex
	messages   []Message
	nextID     int
	characters map[string]flowrun.Character
	active     string
	lorebooks  map[string]*flowrun.Lorebook
	locals     map[string]any
	globals    map[string]any
	slash      map[string]SlashHandler
	dialogs    DialogHandler
	notices    []Notice
}

// Option configures a Bag.
type Option func(*Bag)

// WithOpenAI routes LLM calls through client. An empty model uses
// DefaultModel.
func WithOpenAI(client *openai.Client, model string) Option {
	return func(b *Bag) {
		b.client = client
		if model != "" {
			b.model = model
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Bag) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func WithDialogs(h DialogHandler) Option {
	return func(b *Bag) { b.dialogs = h }
}

// DefaultModel is used when neither the request nor the Bag names one.
const DefaultModel = openai.GPT4oMini

func New(opts ...Option) *Bag {
	b := &Bag{
		model:      DefaultModel,
		logger:     slog.Default(),
		nextID:     1,
		characters: make(map[string]flowrun.Character),
		lorebooks:  make(map[string]*flowrun.Lorebook),
		locals:     make(map[string]any),
		globals:    make(map[string]any),
		slash:      make(map[string]SlashHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.RegisterSlash("echo", func(_ context.Context, args string) (string, error) { return args, nil })
	return b
}

var _ flowrun.CapabilityBag = (*Bag)(nil)

// BuildMessages assembles system prompt, character card, recent chat and the
// user prompt into one message list.
func (b *Bag) BuildMessages(_ context.Context, opts flowrun.PromptOptions) ([]flowrun.ChatMessage, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []flowrun.ChatMessage
	system := opts.System
	if opts.IncludeCharacter && b.active != "" {
		c := b.characters[b.active]
		card := strings.TrimSpace(strings.Join([]string{c.Description, c.Personality, c.Scenario}, "\n"))
		if card != "" {
			system = strings.TrimSpace(system + "\n\n" + card)
		}
	}
	if system != "" {
		out = append(out, flowrun.ChatMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	if opts.IncludeHistory {
		var visible []Message
		for _, m := range b.messages {
			if !m.Hidden {
				visible = append(visible, m)
			}
		}
		if opts.HistoryDepth > 0 && len(visible) > opts.HistoryDepth {
			visible = visible[len(visible)-opts.HistoryDepth:]
		}
		for _, m := range visible {
			out = append(out, flowrun.ChatMessage{Role: m.Role, Content: m.Text})
		}
	}

	if opts.User != "" {
		out = append(out, flowrun.ChatMessage{Role: openai.ChatMessageRoleUser, Content: opts.User})
	}
	if len(out) == 0 {
		return nil, errors.New("prompt is empty")
	}
	return out, nil
}

func (b *Bag) CreateCharacter(_ context.Context, c flowrun.Character) (flowrun.Character, error) {
	if c.Name == "" {
		return flowrun.Character{}, errors.New("character name is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.characters[c.Name]; ok {
		return flowrun.Character{}, fmt.Errorf("character %q: %w", c.Name, ErrExists)
	}
	b.characters[c.Name] = c
	if b.active == "" {
		b.active = c.Name
	}
	return c, nil
}

func (b *Bag) SaveCharacter(_ context.Context, c flowrun.Character) error {
	if c.Name == "" {
		return errors.New("character name is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.characters[c.Name] = c
	return nil
}

func (b *Bag) GetCharacter(_ context.Context, name string) (flowrun.Character, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if name == "" {
		name = b.active
	}
	c, ok := b.characters[name]
	if !ok {
		return flowrun.Character{}, fmt.Errorf("character %q: %w", name, ErrNotFound)
	}
	return c, nil
}

// SelectCharacter makes name the character used by BuildMessages.
func (b *Bag) SelectCharacter(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.characters[name]; !ok {
		return fmt.Errorf("character %q: %w", name, ErrNotFound)
	}
	b.active = name
	return nil
}

func (b *Bag) CreateLorebook(_ context.Context, name string) (flowrun.Lorebook, error) {
	if name == "" {
		return flowrun.Lorebook{}, errors.New("lorebook name is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.lorebooks[name]; ok {
		return flowrun.Lorebook{}, fmt.Errorf("lorebook %q: %w", name, ErrExists)
	}
	book := &flowrun.Lorebook{Name: name, Entries: []flowrun.LorebookEntry{}}
	b.lorebooks[name] = book
	return *book, nil
}

func (b *Bag) GetLorebook(_ context.Context, name string) (flowrun.Lorebook, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	book, ok := b.lorebooks[name]
	if !ok {
		return flowrun.Lorebook{}, fmt.Errorf("lorebook %q: %w", name, ErrNotFound)
	}
	out := *book
	out.Entries = append([]flowrun.LorebookEntry(nil), book.Entries...)
	return out, nil
}

// ApplyEntry inserts entry, or replaces the entry with the same UID. A zero
// UID allocates the next free one.
func (b *Bag) ApplyEntry(_ context.Context, name string, entry flowrun.LorebookEntry) (flowrun.LorebookEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	book, ok := b.lorebooks[name]
	if !ok {
		return flowrun.LorebookEntry{}, fmt.Errorf("lorebook %q: %w", name, ErrNotFound)
	}
	if entry.UID == 0 {
		for _, e := range book.Entries {
			if e.UID >= entry.UID {
				entry.UID = e.UID + 1
			}
		}
		if entry.UID == 0 {
			entry.UID = 1
		}
		book.Entries = append(book.Entries, entry)
		return entry, nil
	}
	for i, e := range book.Entries {
		if e.UID == entry.UID {
			book.Entries[i] = entry
			return entry, nil
		}
	}
	book.Entries = append(book.Entries, entry)
	sort.Slice(book.Entries, func(i, j int) bool { return book.Entries[i].UID < book.Entries[j].UID })
	return entry, nil
}

func (b *Bag) SendMessage(_ context.Context, role, text string) (int, error) {
	if role == "" {
		role = openai.ChatMessageRoleUser
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.messages = append(b.messages, Message{ID: id, Role: role, Text: text, SentAt: time.Now()})
	return id, nil
}

func (b *Bag) EditMessage(_ context.Context, id int, text string) error {
	return b.updateMessage(id, func(m *Message) { m.Text = text })
}

func (b *Bag) HideMessage(_ context.Context, id int, hidden bool) error {
	return b.updateMessage(id, func(m *Message) { m.Hidden = hidden })
}

func (b *Bag) DeleteMessage(_ context.Context, id int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, m := range b.messages {
		if m.ID == id {
			b.messages = append(b.messages[:i], b.messages[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("message %d: %w", id, ErrNotFound)
}

func (b *Bag) updateMessage(id int, fn func(*Message)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.messages {
		if b.messages[i].ID == id {
			fn(&b.messages[i])
			return nil
		}
	}
	return fmt.Errorf("message %d: %w", id, ErrNotFound)
}

// Messages returns a copy of the chat log.
func (b *Bag) Messages() []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Message(nil), b.messages...)
}

// RegisterSlash installs or replaces a slash command handler.
func (b *Bag) RegisterSlash(name string, h SlashHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.slash[strings.TrimPrefix(name, "/")] = h
}

// ExecuteSlash runs "/name args".
func (b *Bag) ExecuteSlash(ctx context.Context, command string) (string, error) {
	command = strings.TrimSpace(command)
	if !strings.HasPrefix(command, "/") {
		return "", fmt.Errorf("not a slash command: %q", command)
	}
	name, args, _ := strings.Cut(command[1:], " ")

	b.mu.RLock()
	h, ok := b.slash[name]
	b.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("slash command /%s: %w", name, ErrNotFound)
	}
	return h(ctx, strings.TrimSpace(args))
}

func (b *Bag) GetVar(_ context.Context, scope flowrun.VarScope, name string) (any, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	store, err := b.varStore(scope)
	if err != nil {
		return nil, err
	}
	return store[name], nil
}

func (b *Bag) SetVar(_ context.Context, scope flowrun.VarScope, name string, value any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	store, err := b.varStore(scope)
	if err != nil {
		return err
	}
	store[name] = value
	return nil
}

func (b *Bag) varStore(scope flowrun.VarScope) (map[string]any, error) {
	switch scope {
	case flowrun.ScopeLocal:
		return b.locals, nil
	case flowrun.ScopeGlobal:
		return b.globals, nil
	}
	return nil, fmt.Errorf("variable scope %q is not held by the host", scope)
}

func (b *Bag) PromptUser(ctx context.Context, message, defaultValue string) (string, error) {
	if b.dialogs == nil {
		return defaultValue, fmt.Errorf("prompt user: %w", flowrun.ErrUnsupported)
	}
	return b.dialogs.Prompt(ctx, message, defaultValue)
}

func (b *Bag) ConfirmUser(ctx context.Context, message string) (bool, error) {
	if b.dialogs == nil {
		return false, fmt.Errorf("confirm user: %w", flowrun.ErrUnsupported)
	}
	return b.dialogs.Confirm(ctx, message)
}

func (b *Bag) Notify(_ context.Context, level, message string) error {
	b.mu.Lock()
	b.notices = append(b.notices, Notice{Level: level, Message: message, At: time.Now()})
	b.mu.Unlock()

	switch level {
	case "error":
		b.logger.Error(message)
	case "warning":
		b.logger.Warn(message)
	default:
		b.logger.Info(message)
	}
	return nil
}

// Notices returns every notification raised so far.
func (b *Bag) Notices() []Notice {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Notice(nil), b.notices...)
}
