package speech

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/heritage-guide/backend/internal/model/speech"
)

// stubSampleRate and stubMsPerChar shape the silent clip: roughly natural
// speech pacing at 16 kHz mono PCM16.
const (
	stubSampleRate = 16000
	stubMsPerChar  = 20
)

// StubSynthesizer stands in for a real provider. It logs the request it would
// have sent and returns silence long enough to pace playback like speech.
type StubSynthesizer struct{}

// NewStubSynthesizer returns a provider that never performs network I/O.
func NewStubSynthesizer() *StubSynthesizer {
	return &StubSynthesizer{}
}

// Synthesize logs the intended request and returns a silent PCM clip.
func (s *StubSynthesizer) Synthesize(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log.Printf("[tts] stub: would synthesize session=%s voice=%s language=%s chars=%d",
		req.SessionID, req.Voice, req.Language, len([]rune(req.Text)))

	durationMs := int64(len([]rune(req.Text))) * stubMsPerChar
	samples := stubSampleRate * durationMs / 1000

	return &speech.TTSResponse{
		SessionID: req.SessionID,
		AudioData: make([]byte, samples*2),
		Duration:  durationMs,
		Format:    "pcm",
		RequestID: uuid.NewString(),
		CreatedAt: time.Now(),
	}, nil
}
