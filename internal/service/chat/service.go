package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/heritage-guide/backend/internal/model/chat"
	"github.com/zhouzirui/heritage-guide/backend/internal/model/voice"
	speechsvc "github.com/zhouzirui/heritage-guide/backend/internal/service/speech"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrMessageNotFound = errors.New("message not found")
)

// View is what the display surface renders for one session.
type View struct {
	SessionID string                  `json:"sessionId"`
	Messages  []chat.Message          `json:"messages"`
	Draft     string                  `json:"draft"`
	IsTyping  bool                    `json:"isTyping"`
	Playback  speechsvc.PlaybackState `json:"playback"`
}

// Option configures a Service.
type Option func(*Service)

// WithEngineOptions applies opts to every conversation engine.
func WithEngineOptions(opts ...EngineOption) Option {
	return func(s *Service) {
		s.engineOpts = append(s.engineOpts, opts...)
	}
}

// WithTTSEnabled sets the read-aloud toggle of new sessions.
func WithTTSEnabled(enabled bool) Option {
	return func(s *Service) {
		s.ttsEnabled = enabled
	}
}

// WithMaxPlayback bounds every playback of every session.
func WithMaxPlayback(d time.Duration) Option {
	return func(s *Service) {
		s.maxPlayback = d
	}
}

// WithSessionTTL sets how long an unobserved session may stay idle before
// Sweep closes it. Zero disables expiry.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.ttl = ttl
	}
}

// WithNow sets the clock used for activity tracking.
func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service keeps the live widget sessions in memory. Nothing survives a restart.
type Service struct {
	synth       speechsvc.Synthesizer
	voices      voice.Store
	engineOpts  []EngineOption
	ttsEnabled  bool
	maxPlayback time.Duration
	ttl         time.Duration
	now         func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Conversation
}

// NewService creates the session registry.
func NewService(synth speechsvc.Synthesizer, voices voice.Store, opts ...Option) *Service {
	s := &Service{
		synth:    synth,
		voices:   voices,
		now:      func() time.Time { return time.Now().UTC() },
		sessions: make(map[string]*Conversation),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Voices exposes the supported voice set.
func (s *Service) Voices() voice.Store {
	return s.voices
}

// CreateSession opens a conversation. An empty voice code selects the default.
func (s *Service) CreateSession(_ context.Context, voiceCode string) (*Conversation, error) {
	v := s.voices.Default()
	if voiceCode != "" {
		found, ok := s.voices.FindByCode(voiceCode)
		if !ok {
			return nil, fmt.Errorf("%w: %q", speechsvc.ErrInvalidVoiceSelection, voiceCode)
		}
		v = found
	}

	now := s.now()
	conv := &Conversation{
		session: chat.Session{
			ID:           uuid.NewString(),
			VoiceCode:    v.Code,
			CreatedAt:    now,
			LastActiveAt: now,
		},
		now:         s.now,
		subscribers: make(map[int]chan View),
	}

	engineOpts := append([]EngineOption{
		WithReplyListener(conv.autoSpeak),
		WithChangeListener(conv.publish),
	}, s.engineOpts...)
	conv.engine = NewEngine(conv.session.ID, engineOpts...)

	playerOpts := []speechsvc.ControllerOption{
		speechsvc.WithEnabled(s.ttsEnabled),
		speechsvc.WithVoice(v.Code),
		speechsvc.WithStateListener(func(speechsvc.PlaybackState) { conv.publish() }),
	}
	if s.maxPlayback > 0 {
		playerOpts = append(playerOpts, speechsvc.WithMaxPlayback(s.maxPlayback))
	}
	conv.player = speechsvc.NewController(conv.session.ID, s.synth, s.voices, playerOpts...)

	s.mu.Lock()
	s.sessions[conv.session.ID] = conv
	s.mu.Unlock()

	log.Printf("[chat] session created id=%s voice=%s", conv.session.ID, v.Code)
	return conv, nil
}

// Get returns a live conversation and marks it active.
func (s *Service) Get(_ context.Context, sessionID string) (*Conversation, error) {
	s.mu.RLock()
	conv, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	conv.touch()
	return conv, nil
}

// Close ends a session: playback stops and subscribers are released.
func (s *Service) Close(sessionID string) error {
	s.mu.Lock()
	conv, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	conv.close()
	log.Printf("[chat] session closed id=%s", sessionID)
	return nil
}

// CloseAll ends every session.
func (s *Service) CloseAll() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Conversation)
	s.mu.Unlock()

	for _, conv := range sessions {
		conv.close()
	}
}

// Len reports the number of live sessions.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep closes sessions idle for longer than the TTL that nobody is watching.
// It returns the number of sessions closed.
func (s *Service) Sweep(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}

	var expired []*Conversation
	s.mu.Lock()
	for id, conv := range s.sessions {
		if conv.watched() || now.Sub(conv.lastActive()) < s.ttl {
			continue
		}
		delete(s.sessions, id)
		expired = append(expired, conv)
	}
	s.mu.Unlock()

	for _, conv := range expired {
		conv.close()
		log.Printf("[chat] session expired id=%s", conv.ID())
	}
	return len(expired)
}

// StartReaper sweeps every interval until ctx is done.
func (s *Service) StartReaper(ctx context.Context, interval time.Duration) {
	if s.ttl <= 0 || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Sweep(s.now()); n > 0 {
					log.Printf("[chat] reaper closed %d idle sessions, %d remaining", n, s.Len())
				}
			}
		}
	}()
}

// Conversation is one widget session: the message engine and the playback
// controller, composed so that every delivered bot reply is offered to the
// controller for automatic read-aloud.
type Conversation struct {
	session chat.Session
	engine  *Engine
	player  *speechsvc.Controller
	now     func() time.Time

	mu          sync.Mutex
	subscribers map[int]chan View
	nextSubID   int
	sinks       []*attachedSink
	active      time.Time
	closed      bool
}

// ID returns the session id.
func (c *Conversation) ID() string {
	return c.session.ID
}

// Session returns the session record.
func (c *Conversation) Session() chat.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	session := c.session
	session.LastActiveAt = c.lastActiveLocked()
	return session
}

// Submit sends user text. Blank text returns ErrEmptyInput.
func (c *Conversation) Submit(text string) (chat.Message, error) {
	c.touch()
	msg, err := c.engine.Submit(text)
	if err != nil {
		return chat.Message{}, err
	}
	c.publish()
	return msg, nil
}

// SetDraft mirrors the input box.
func (c *Conversation) SetDraft(text string) {
	c.touch()
	c.engine.SetDraft(text)
	c.publish()
}

// Clear resets the message log. Playback is not affected.
func (c *Conversation) Clear() {
	c.touch()
	c.engine.Clear()
	c.publish()
}

// SetTTSEnabled flips automatic read-aloud.
func (c *Conversation) SetTTSEnabled(enabled bool) {
	c.touch()
	c.player.SetEnabled(enabled)
}

// SelectVoice changes the voice of later playback and the session record.
func (c *Conversation) SelectVoice(code string) error {
	c.touch()
	if err := c.player.SelectVoice(code); err != nil {
		return err
	}
	c.mu.Lock()
	c.session.VoiceCode = c.player.Voice().Code
	c.mu.Unlock()
	return nil
}

// Play reads a bot message aloud regardless of the read-aloud toggle.
func (c *Conversation) Play(ctx context.Context, messageID string) error {
	c.touch()
	msg, ok := c.engine.Message(messageID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}
	if msg.Sender != chat.SenderBot {
		return fmt.Errorf("%w: %s is not a bot message", ErrMessageNotFound, messageID)
	}
	return c.player.Speak(ctx, speechsvc.SpeakRequest{
		Text:      msg.Text,
		MessageID: msg.ID,
		Trigger:   speechsvc.TriggerManual,
	})
}

// StopPlayback halts the current playback, if any.
func (c *Conversation) StopPlayback() {
	c.touch()
	c.player.Stop()
}

// attachedSink gives every attachment its own identity, so the same page
// attaching twice still detaches one entry at a time.
type attachedSink struct {
	speechsvc.Sink
}

// AttachSink routes later audio to sink, typically a connected page. The most
// recently attached sink plays. detach removes exactly this attachment: a
// playback running on it is stopped and audio moves to the newest remaining
// sink, or back to simulated timing when none is left.
func (c *Conversation) AttachSink(sink speechsvc.Sink) (detach func()) {
	entry := &attachedSink{Sink: sink}

	c.mu.Lock()
	c.sinks = append(c.sinks, entry)
	c.player.SetSink(entry)
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { c.detachSink(entry) })
	}
}

func (c *Conversation) detachSink(entry *attachedSink) {
	c.mu.Lock()
	for i, s := range c.sinks {
		if s == entry {
			c.sinks = append(c.sinks[:i], c.sinks[i+1:]...)
			break
		}
	}
	if n := len(c.sinks); n > 0 {
		c.player.SetSink(c.sinks[n-1])
	} else {
		c.player.SetSink(nil)
	}
	c.active = c.now()
	c.mu.Unlock()

	c.player.StopSink(entry)
}

// View returns the current state for rendering.
func (c *Conversation) View() View {
	state := c.engine.Snapshot()
	return View{
		SessionID: c.session.ID,
		Messages:  state.Messages,
		Draft:     state.Draft,
		IsTyping:  state.IsTyping,
		Playback:  c.player.State(),
	}
}

// Subscribe returns a channel holding the latest view. A slow reader only
// misses intermediate views. The channel is closed by cancel or when the
// session ends.
func (c *Conversation) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)

	// 首个视图与注册在同一临界区内完成，不会错过并发的 publish
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	ch <- c.View()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = ch
	c.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subscribers[id]; ok {
				delete(c.subscribers, id)
				close(sub)
				c.active = c.now()
			}
		})
	}
	return ch, cancel
}

func (c *Conversation) autoSpeak(msg chat.Message) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed || c.player.IsPlaying() {
		return
	}

	err := c.player.Speak(context.Background(), speechsvc.SpeakRequest{
		Text:      msg.Text,
		MessageID: msg.ID,
		Trigger:   speechsvc.TriggerAuto,
	})
	if err != nil && !errors.Is(err, speechsvc.ErrPlaybackBusy) && !errors.Is(err, speechsvc.ErrControllerClosed) {
		log.Printf("[chat] auto playback session=%s message=%s: %v", c.session.ID, msg.ID, err)
	}
}

// publish pushes the current view to every subscriber. Views are built and
// sent under c.mu so a stale view never replaces a newer one.
func (c *Conversation) publish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || len(c.subscribers) == 0 {
		return
	}
	view := c.View()
	for _, ch := range c.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- view
	}
}

func (c *Conversation) touch() {
	c.mu.Lock()
	c.active = c.now()
	c.mu.Unlock()
}

func (c *Conversation) lastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActiveLocked()
}

func (c *Conversation) lastActiveLocked() time.Time {
	if c.active.IsZero() {
		return c.session.LastActiveAt
	}
	return c.active
}

func (c *Conversation) watched() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscribers) > 0 || len(c.sinks) > 0
}

func (c *Conversation) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for id, ch := range c.subscribers {
		delete(c.subscribers, id)
		close(ch)
	}
	c.mu.Unlock()

	c.player.Close()
}
