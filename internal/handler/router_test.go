package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zhouzirui/heritage-guide/backend/internal/model/speech"
	"github.com/zhouzirui/heritage-guide/backend/internal/model/voice"
	chatService "github.com/zhouzirui/heritage-guide/backend/internal/service/chat"
	speechService "github.com/zhouzirui/heritage-guide/backend/internal/service/speech"
)

func newTestRouter(withSpeech bool) http.Handler {
	voices := voice.NewMemoryStore(voice.Seed(), voice.DefaultCode)
	synth := speechService.NewService(&speech.SpeechConfig{})
	chatSvc := chatService.NewService(synth, voices)
	if !withSpeech {
		return NewRouter(voices, chatSvc, nil, []string{"https://museum.example"})
	}
	return NewRouter(voices, chatSvc, synth, []string{"https://museum.example"})
}

func TestRouterServesWidgetAPI(t *testing.T) {
	r := newTestRouter(true)

	req := httptest.NewRequest(http.MethodPost, "/api/session", bytes.NewReader([]byte(`{"voice":"es-ES"}`)))
	req.Header.Set("Origin", "https://museum.example")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "https://museum.example" {
		t.Fatal("CORS header missing")
	}

	var view chatService.View
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode err: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/session/"+view.SessionID, nil)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/voices", nil)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for voices, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/speech/health", nil)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for speech health, got %d", rr.Code)
	}
}

func TestRouterWithoutSpeech(t *testing.T) {
	r := newTestRouter(false)

	req := httptest.NewRequest(http.MethodGet, "/api/speech/health", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(true)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}
