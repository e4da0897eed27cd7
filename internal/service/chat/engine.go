package chat

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/heritage-guide/backend/internal/model/chat"
)

// Greeting opens every conversation and is the only message left after Clear.
const Greeting = "Hello! How can I assist you today? If you're looking for information about cultural heritage sites or programs, feel free to ask!"

// DefaultReplyDelay is how long the bot "types" before answering.
const DefaultReplyDelay = 1500 * time.Millisecond

// ErrEmptyInput is returned by Submit for blank text. The log is untouched.
var ErrEmptyInput = errors.New("message text is empty")

// Scheduler runs fn once after d.
type Scheduler func(d time.Duration, fn func())

// ReplyListener receives every bot reply appended to the log.
type ReplyListener func(chat.Message)

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithReplyDelay overrides DefaultReplyDelay.
func WithReplyDelay(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d >= 0 {
			e.delay = d
		}
	}
}

// WithScheduler replaces time.AfterFunc.
func WithScheduler(s Scheduler) EngineOption {
	return func(e *Engine) {
		if s != nil {
			e.schedule = s
		}
	}
}

// WithDiscardStaleReplies drops replies scheduled before the last Clear
// instead of appending them to the fresh conversation.
func WithDiscardStaleReplies(discard bool) EngineOption {
	return func(e *Engine) {
		e.discardStale = discard
	}
}

// WithClock sets the timestamp source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator sets the message id source.
func WithIDGenerator(newID func() string) EngineOption {
	return func(e *Engine) {
		if newID != nil {
			e.newID = newID
		}
	}
}

// WithReplyListener registers fn for delivered replies.
func WithReplyListener(fn ReplyListener) EngineOption {
	return func(e *Engine) {
		e.onReply = fn
	}
}

// WithChangeListener registers fn for state changes made by scheduled replies,
// including discarded ones.
func WithChangeListener(fn func()) EngineOption {
	return func(e *Engine) {
		e.onChange = fn
	}
}

// EngineState is a copy of the conversation state.
type EngineState struct {
	Messages []chat.Message `json:"messages"`
	Draft    string         `json:"draft"`
	IsTyping bool           `json:"isTyping"`
}

// Engine owns the message log of one widget session and answers each user
// message with a canned reply after a fixed delay.
//
// Replies are never cancelled. A reply scheduled before Clear still lands in
// the new conversation unless WithDiscardStaleReplies is set.
type Engine struct {
	sessionID    string
	delay        time.Duration
	schedule     Scheduler
	discardStale bool
	now          func() time.Time
	newID        func() string
	onReply      ReplyListener
	onChange     func()

	mu       sync.Mutex
	messages []chat.Message
	draft    string
	// pending counts outstanding replies scheduled in the current epoch.
	pending int
	epoch   uint64
}

// NewEngine creates an engine whose log holds only the greeting.
func NewEngine(sessionID string, opts ...EngineOption) *Engine {
	e := &Engine{
		sessionID: sessionID,
		delay:     DefaultReplyDelay,
		schedule: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.messages = []chat.Message{e.newMessage(chat.SenderBot, Greeting)}
	return e
}

// SetDraft records the text currently in the input box.
func (e *Engine) SetDraft(text string) {
	e.mu.Lock()
	e.draft = text
	e.mu.Unlock()
}

// Submit appends a user message and schedules its reply. Blank input returns
// ErrEmptyInput with no state change.
func (e *Engine) Submit(text string) (chat.Message, error) {
	if strings.TrimSpace(text) == "" {
		return chat.Message{}, ErrEmptyInput
	}

	e.mu.Lock()
	msg := e.newMessage(chat.SenderUser, text)
	e.messages = append(e.messages, msg)
	e.draft = ""
	e.pending++
	epoch := e.epoch
	e.mu.Unlock()

	e.schedule(e.delay, func() { e.deliver(epoch, text) })
	return msg, nil
}

func (e *Engine) deliver(epoch uint64, userText string) {
	reply := Classify(userText)

	e.mu.Lock()
	stale := epoch != e.epoch
	if !stale {
		e.pending--
	}
	if stale && e.discardStale {
		e.mu.Unlock()
		if e.onChange != nil {
			e.onChange()
		}
		return
	}
	msg := e.newMessage(chat.SenderBot, reply)
	e.messages = append(e.messages, msg)
	e.mu.Unlock()

	if e.onReply != nil {
		e.onReply(msg)
	}
	if e.onChange != nil {
		e.onChange()
	}
}

// Clear resets the log to a single fresh greeting and ends the typing state.
func (e *Engine) Clear() {
	e.mu.Lock()
	e.messages = []chat.Message{e.newMessage(chat.SenderBot, Greeting)}
	e.pending = 0
	e.epoch++
	e.mu.Unlock()
}

// Messages returns a copy of the log.
func (e *Engine) Messages() []chat.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]chat.Message(nil), e.messages...)
}

// Message looks up a message by id.
func (e *Engine) Message(id string) (chat.Message, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, msg := range e.messages {
		if msg.ID == id {
			return msg, true
		}
	}
	return chat.Message{}, false
}

// IsTyping reports whether a reply of the current conversation is outstanding.
func (e *Engine) IsTyping() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending > 0
}

// Snapshot returns the log, draft and typing flag under one lock.
func (e *Engine) Snapshot() EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EngineState{
		Messages: append([]chat.Message(nil), e.messages...),
		Draft:    e.draft,
		IsTyping: e.pending > 0,
	}
}

func (e *Engine) newMessage(sender chat.Sender, text string) chat.Message {
	return chat.Message{
		ID:        e.newID(),
		SessionID: e.sessionID,
		Sender:    sender,
		Text:      text,
		CreatedAt: e.now(),
	}
}
