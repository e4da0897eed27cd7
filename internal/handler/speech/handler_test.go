package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	speechmodel "github.com/zhouzirui/heritage-guide/backend/internal/model/speech"
	"github.com/zhouzirui/heritage-guide/backend/internal/model/voice"
	chatservice "github.com/zhouzirui/heritage-guide/backend/internal/service/chat"
	speechsvc "github.com/zhouzirui/heritage-guide/backend/internal/service/speech"
)

type fakeSpeechService struct {
	synthSession  string
	synthVoice    string
	synthLanguage string
	err           error
	empty         bool
}

func (f *fakeSpeechService) Synthesize(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	f.synthSession = req.SessionID
	f.synthVoice = req.Voice
	f.synthLanguage = req.Language
	if f.err != nil {
		return nil, f.err
	}
	if f.empty {
		return &speechmodel.TTSResponse{SessionID: req.SessionID}, nil
	}
	return &speechmodel.TTSResponse{SessionID: req.SessionID, AudioData: []byte("audio"), Format: "mp3", Duration: 1200}, nil
}

func (f *fakeSpeechService) Provider() string { return "fake" }

func setupSpeechRouter(fakeSvc *fakeSpeechService) (*chi.Mux, *chatservice.Service) {
	voices := voice.NewMemoryStore(voice.Seed(), voice.DefaultCode)
	chatSvc := chatservice.NewService(speechsvc.NewStubSynthesizer(), voices)
	r := chi.NewRouter()
	New(fakeSvc, chatSvc, voices).RegisterRoutes(r)
	return r, chatSvc
}

func postSynthesize(r http.Handler, body any) *httptest.ResponseRecorder {
	buf, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/speech/synthesize", bytes.NewReader(buf))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestSynthesizeWithVoiceCode(t *testing.T) {
	fakeSvc := &fakeSpeechService{}
	r, _ := setupSpeechRouter(fakeSvc)

	rr := postSynthesize(r, map[string]string{"text": "bonjour", "voice": "fr-FR"})

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "audio/mp3" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if rr.Header().Get("X-Audio-Duration-Ms") != "1200" {
		t.Fatalf("missing duration header")
	}
	if rr.Body.String() != "audio" {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
	if fakeSvc.synthVoice != "multi_female_sophie_conversation_wvae_bigtts" || fakeSvc.synthLanguage != "fr-FR" {
		t.Fatalf("unexpected voice %s/%s", fakeSvc.synthVoice, fakeSvc.synthLanguage)
	}
	if fakeSvc.synthSession != "default" {
		t.Fatalf("expected default session, got %s", fakeSvc.synthSession)
	}
}

func TestSynthesizeUsesSessionVoice(t *testing.T) {
	fakeSvc := &fakeSpeechService{}
	r, chatSvc := setupSpeechRouter(fakeSvc)

	conv, err := chatSvc.CreateSession(context.Background(), "en-GB")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	rr := postSynthesize(r, map[string]string{"text": "hello", "sessionId": conv.ID()})

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if fakeSvc.synthSession != conv.ID() {
		t.Fatalf("expected session %s, got %s", conv.ID(), fakeSvc.synthSession)
	}
	if fakeSvc.synthVoice != "en_male_glen_emo_v2_mars_bigtts" {
		t.Fatalf("expected session voice, got %s", fakeSvc.synthVoice)
	}
}

func TestSynthesizeValidation(t *testing.T) {
	cases := []struct {
		name string
		body any
		svc  *fakeSpeechService
		want int
	}{
		{name: "missing text", body: map[string]string{"voice": "en-US"}, svc: &fakeSpeechService{}, want: http.StatusBadRequest},
		{name: "unknown voice", body: map[string]string{"text": "hi", "voice": "xx"}, svc: &fakeSpeechService{}, want: http.StatusBadRequest},
		{name: "provider failure", body: map[string]string{"text": "hi"}, svc: &fakeSpeechService{err: errors.New("down")}, want: http.StatusBadGateway},
		{name: "empty audio", body: map[string]string{"text": "hi"}, svc: &fakeSpeechService{empty: true}, want: http.StatusBadGateway},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, _ := setupSpeechRouter(tc.svc)
			if rr := postSynthesize(r, tc.body); rr.Code != tc.want {
				t.Fatalf("status = %d, want %d", rr.Code, tc.want)
			}
		})
	}
}

func TestHealthReportsProvider(t *testing.T) {
	r, _ := setupSpeechRouter(&fakeSpeechService{})

	req := httptest.NewRequest(http.MethodGet, "/speech/health", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if rr.Code != http.StatusOK || body["provider"] != "fake" || body["status"] != "healthy" {
		t.Fatalf("unexpected health response %d %v", rr.Code, body)
	}
}
