package speech

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/zhouzirui/heritage-guide/backend/internal/model/speech"
	"github.com/zhouzirui/heritage-guide/backend/internal/model/voice"
)

// DefaultMaxPlayback bounds one synthesize+play cycle so a silent client can
// never leave a session stuck in the playing state.
const DefaultMaxPlayback = 2 * time.Minute

// Trigger tells the controller who asked for playback.
type Trigger int

const (
	// TriggerAuto is the post-reply path, gated by the TTS toggle.
	TriggerAuto Trigger = iota
	// TriggerManual is the per-message "Listen" control, which ignores the toggle.
	TriggerManual
)

// SpeakRequest asks for one bot message to be read aloud.
type SpeakRequest struct {
	Text      string
	MessageID string
	Trigger   Trigger
}

// PlaybackState is the display-facing view of the controller.
type PlaybackState struct {
	TTSEnabled bool        `json:"ttsEnabled"`
	IsPlaying  bool        `json:"isPlaying"`
	MessageID  string      `json:"messageId,omitempty"`
	Voice      voice.Voice `json:"voice"`
	LastError  string      `json:"lastError,omitempty"`
}

// StateListener is notified after every playback state transition. It is
// called without the controller lock held.
type StateListener func(PlaybackState)

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithSink sets the initial audio sink.
func WithSink(sink Sink) ControllerOption {
	return func(c *Controller) {
		if sink != nil {
			c.sink = sink
		}
	}
}

// WithEnabled sets the initial TTS toggle.
func WithEnabled(enabled bool) ControllerOption {
	return func(c *Controller) {
		c.enabled = enabled
	}
}

// WithVoice selects the initial voice. Unknown codes keep the store default.
func WithVoice(code string) ControllerOption {
	return func(c *Controller) {
		if v, ok := c.voices.FindByCode(code); ok {
			c.active = v
		}
	}
}

// WithMaxPlayback overrides DefaultMaxPlayback.
func WithMaxPlayback(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.maxPlayback = d
		}
	}
}

// WithStateListener registers the state listener.
func WithStateListener(fn StateListener) ControllerOption {
	return func(c *Controller) {
		c.listener = fn
	}
}

// Controller tracks whether a session is reading a message aloud and drives
// the synthesizer and sink for each request. At most one playback is active;
// each carries a generation number so completions of stopped or superseded
// requests are ignored.
type Controller struct {
	sessionID   string
	synth       Synthesizer
	voices      voice.Store
	maxPlayback time.Duration

	mu         sync.Mutex
	sink       Sink
	playSink   Sink
	enabled    bool
	active     voice.Voice
	playing    bool
	messageID  string
	generation uint64
	cancel     context.CancelFunc
	lastErr    error
	listener   StateListener
	closed     bool
}

// NewController creates a playback controller for one widget session.
func NewController(sessionID string, synth Synthesizer, voices voice.Store, opts ...ControllerOption) *Controller {
	c := &Controller{
		sessionID:   sessionID,
		synth:       synth,
		voices:      voices,
		maxPlayback: DefaultMaxPlayback,
		sink:        TimedSink{},
		active:      voices.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetEnabled flips the automatic read-aloud toggle. In-flight playback is
// left alone.
func (c *Controller) SetEnabled(enabled bool) {
	c.mu.Lock()
	if c.enabled == enabled {
		c.mu.Unlock()
		return
	}
	c.enabled = enabled
	state, listener := c.stateLocked(), c.listener
	c.mu.Unlock()

	notify(listener, state)
}

// Enabled reports the automatic read-aloud toggle.
func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// SelectVoice changes the voice used by subsequent requests.
func (c *Controller) SelectVoice(code string) error {
	v, ok := c.voices.FindByCode(code)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidVoiceSelection, code)
	}

	c.mu.Lock()
	c.active = v
	state, listener := c.stateLocked(), c.listener
	c.mu.Unlock()

	notify(listener, state)
	return nil
}

// Voice returns the active voice.
func (c *Controller) Voice() voice.Voice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// IsPlaying reports whether a request is being synthesized or played.
func (c *Controller) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

// SetSink swaps the audio sink for later requests. A nil sink restores the
// timed sink.
func (c *Controller) SetSink(sink Sink) {
	if sink == nil {
		sink = TimedSink{}
	}
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
}

// Speak dispatches req asynchronously. Automatic requests are dropped while
// TTS is disabled. A request made while another is playing is rejected with
// ErrPlaybackBusy rather than queued. Failures after dispatch never surface
// here; they are logged and recorded in State().LastError.
func (c *Controller) Speak(ctx context.Context, req SpeakRequest) error {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return ErrEmptyText
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	if req.Trigger == TriggerAuto && !c.enabled {
		c.mu.Unlock()
		return nil
	}
	if c.playing {
		c.mu.Unlock()
		return ErrPlaybackBusy
	}

	// Detach from the caller: an HTTP request ending must not stop playback.
	playCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.maxPlayback)
	c.generation++
	gen := c.generation
	c.cancel = cancel
	c.playing = true
	c.messageID = req.MessageID
	c.lastErr = nil
	c.playSink = c.sink
	v, sink := c.active, c.sink
	state, listener := c.stateLocked(), c.listener
	c.mu.Unlock()

	notify(listener, state)

	go func() {
		err := c.play(playCtx, gen, v, sink, req.MessageID, text)
		c.finish(gen, err)
	}()
	return nil
}

func (c *Controller) play(ctx context.Context, gen uint64, v voice.Voice, sink Sink, messageID, text string) error {
	resp, err := c.synth.Synthesize(ctx, &speech.TTSRequest{
		SessionID: c.sessionID,
		MessageID: messageID,
		Text:      text,
		Voice:     v.VoiceID,
		Language:  v.Code,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPlaybackFailed, err)
	}
	if resp == nil || len(resp.AudioData) == 0 {
		return fmt.Errorf("%w: provider returned no audio", ErrPlaybackFailed)
	}

	clip := Clip{
		Token:     gen,
		MessageID: messageID,
		Audio:     resp.AudioData,
		Format:    resp.Format,
		Duration:  resp.PlaybackDuration(),
	}
	if err := sink.Play(ctx, clip); err != nil {
		return fmt.Errorf("%w: %w", ErrPlaybackFailed, err)
	}
	return nil
}

// finish settles request gen. Only the current generation may clear the
// playing flag; Stop already settled anything older.
func (c *Controller) finish(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.generation || !c.playing {
		c.mu.Unlock()
		return
	}
	c.playing = false
	c.messageID = ""
	c.playSink = nil
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if err != nil {
		c.lastErr = err
	}
	state, listener := c.stateLocked(), c.listener
	c.mu.Unlock()

	if err != nil {
		log.Printf("[tts] PlaybackFailed session=%s generation=%d: %v", c.sessionID, gen, err)
	}
	notify(listener, state)
}

// Stop halts the active playback. Calling it while idle does nothing.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.playing {
		c.mu.Unlock()
		return
	}
	c.stopLocked()
	state, listener := c.stateLocked(), c.listener
	c.mu.Unlock()

	notify(listener, state)
}

// StopSink halts the active playback only when it is being played on sink.
// sink must hold a comparable value, such as a pointer.
func (c *Controller) StopSink(sink Sink) {
	c.mu.Lock()
	if !c.playing || c.playSink != sink {
		c.mu.Unlock()
		return
	}
	c.stopLocked()
	state, listener := c.stateLocked(), c.listener
	c.mu.Unlock()

	notify(listener, state)
}

func (c *Controller) stopLocked() {
	c.generation++
	c.playing = false
	c.messageID = ""
	c.playSink = nil
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// Close stops playback and rejects further requests.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.playing {
		c.stopLocked()
	}
	c.closed = true
	c.listener = nil
}

// State returns a snapshot of the playback state.
func (c *Controller) State() PlaybackState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() PlaybackState {
	state := PlaybackState{
		TTSEnabled: c.enabled,
		IsPlaying:  c.playing,
		MessageID:  c.messageID,
		Voice:      c.active,
	}
	if c.lastErr != nil {
		state.LastError = c.lastErr.Error()
	}
	return state
}

func notify(listener StateListener, state PlaybackState) {
	if listener != nil {
		listener(state)
	}
}

// IsPlaybackFailure reports whether err came from a failed synthesis or playback.
func IsPlaybackFailure(err error) bool {
	return errors.Is(err, ErrPlaybackFailed)
}
