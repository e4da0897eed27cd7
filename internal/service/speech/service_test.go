package speech

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zhouzirui/heritage-guide/backend/internal/model/speech"
)

type captureSynth struct {
	last     *speech.TTSRequest
	deadline time.Time
	err      error
}

func (c *captureSynth) Synthesize(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	copied := *req
	c.last = &copied
	c.deadline, _ = ctx.Deadline()
	if c.err != nil {
		return nil, c.err
	}
	return &speech.TTSResponse{SessionID: req.SessionID, AudioData: []byte{1}}, nil
}

func TestServiceFillsDefaults(t *testing.T) {
	capture := &captureSynth{}
	svc := NewServiceWithProvider(&speech.SpeechConfig{
		TTSVoice:    "en_female_amy_jupiter_bigtts",
		TTSSpeed:    1.2,
		TTSVolume:   0.8,
		TTSLanguage: "en-US",
	}, capture, "capture")

	if _, err := svc.Synthesize(context.Background(), &speech.TTSRequest{Text: "hi"}); err != nil {
		t.Fatalf("Synthesize err: %v", err)
	}

	got := capture.last
	if got.Voice != "en_female_amy_jupiter_bigtts" || got.Speed != 1.2 || got.Volume != 0.8 || got.Language != "en-US" {
		t.Fatalf("defaults not applied: %+v", got)
	}
}

func TestServiceResolvesAlias(t *testing.T) {
	capture := &captureSynth{}
	svc := NewServiceWithProvider(&speech.SpeechConfig{TTSVoice: "fallback"}, capture, "capture")

	if _, err := svc.Synthesize(context.Background(), &speech.TTSRequest{Text: "hi", Voice: "heritage-uk"}); err != nil {
		t.Fatalf("Synthesize err: %v", err)
	}
	if capture.last.Voice != "en_male_glen_emo_v2_mars_bigtts" {
		t.Fatalf("alias not resolved: %s", capture.last.Voice)
	}

	if _, err := svc.Synthesize(context.Background(), &speech.TTSRequest{Text: "hi", Voice: "default"}); err != nil {
		t.Fatalf("Synthesize err: %v", err)
	}
	if capture.last.Voice != "fallback" {
		t.Fatalf("default alias should fall back to configured voice, got %s", capture.last.Voice)
	}
}

func TestServiceAppliesTimeout(t *testing.T) {
	capture := &captureSynth{}
	svc := NewServiceWithProvider(&speech.SpeechConfig{Timeout: 5}, capture, "capture")

	start := time.Now()
	if _, err := svc.Synthesize(context.Background(), &speech.TTSRequest{Text: "hi"}); err != nil {
		t.Fatalf("Synthesize err: %v", err)
	}
	if capture.deadline.IsZero() {
		t.Fatal("expected a deadline on the provider context")
	}
	if remaining := capture.deadline.Sub(start); remaining > 6*time.Second || remaining < 4*time.Second {
		t.Fatalf("unexpected deadline distance %v", remaining)
	}
}

func TestServiceRejectsEmptyText(t *testing.T) {
	svc := NewServiceWithProvider(nil, &captureSynth{}, "capture")

	if _, err := svc.Synthesize(context.Background(), &speech.TTSRequest{Text: "  "}); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
	if _, err := svc.Synthesize(context.Background(), nil); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText for nil request, got %v", err)
	}
}

func TestServiceWrapsProviderError(t *testing.T) {
	boom := errors.New("boom")
	svc := NewServiceWithProvider(nil, &captureSynth{err: boom}, "capture")

	_, err := svc.Synthesize(context.Background(), &speech.TTSRequest{Text: "hi"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped provider error, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "capture synthesize:") {
		t.Fatalf("unexpected error text: %v", err)
	}
}

func TestNewServiceSelectsProvider(t *testing.T) {
	if got := NewService(&speech.SpeechConfig{}).Provider(); got != "stub" {
		t.Fatalf("expected stub without credentials, got %s", got)
	}
	if got := NewService(nil).Provider(); got != "stub" {
		t.Fatalf("expected stub for nil config, got %s", got)
	}
	if got := NewService(&speech.SpeechConfig{AppID: "app", AccessToken: "token"}).Provider(); got != "volcengine" {
		t.Fatalf("expected volcengine with credentials, got %s", got)
	}
}
