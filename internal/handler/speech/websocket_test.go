package speech

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/heritage-guide/backend/internal/model/voice"
	chatservice "github.com/zhouzirui/heritage-guide/backend/internal/service/chat"
	speechsvc "github.com/zhouzirui/heritage-guide/backend/internal/service/speech"
)

func boolPtr(v bool) *bool { return &v }

type wireMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

func newWidgetServer(t *testing.T, opts ...chatservice.Option) (*httptest.Server, *chatservice.Service) {
	t.Helper()
	base := []chatservice.Option{chatservice.WithEngineOptions(chatservice.WithReplyDelay(5 * time.Millisecond))}
	chatSvc := chatservice.NewService(speechsvc.NewStubSynthesizer(), voice.NewMemoryStore(voice.Seed(), voice.DefaultCode), append(base, opts...)...)

	r := chi.NewRouter()
	NewWebSocketHandler(chatSvc, []string{"*"}).RegisterWebSocketRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, chatSvc
}

func dialWidget(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial err: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil skips messages until one of type msgType arrives and match accepts it.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string, match func(json.RawMessage) bool) json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg wireMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", msgType, err)
		}
		if msg.Type == msgType && (match == nil || match(msg.Data)) {
			return msg.Data
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, msgType string, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal err: %v", err)
	}
	if err := conn.WriteJSON(map[string]any{"type": msgType, "data": json.RawMessage(payload)}); err != nil {
		t.Fatalf("write err: %v", err)
	}
}

func decodeView(t *testing.T, raw json.RawMessage) chatservice.View {
	t.Helper()
	var view chatservice.View
	if err := json.Unmarshal(raw, &view); err != nil {
		t.Fatalf("decode view err: %v", err)
	}
	return view
}

func TestWidgetConversationWithPlayback(t *testing.T) {
	srv, chatSvc := newWidgetServer(t, chatservice.WithTTSEnabled(true))
	conv, _ := chatSvc.CreateSession(context.Background(), "")
	conn := dialWidget(t, srv, conv.ID())

	first := decodeView(t, readUntil(t, conn, "state", nil))
	if len(first.Messages) != 1 {
		t.Fatalf("unexpected initial view: %+v", first)
	}

	send(t, conn, "text", TextMessage{Text: "hello"})

	raw := readUntil(t, conn, "audio", nil)
	var audio AudioMessage
	if err := json.Unmarshal(raw, &audio); err != nil {
		t.Fatalf("decode audio err: %v", err)
	}
	if audio.AudioData == "" || audio.Format != "pcm" || audio.MessageID == "" {
		t.Fatalf("unexpected audio message: %+v", audio)
	}
	if !conv.View().Playback.IsPlaying {
		t.Fatal("playback must wait for the page receipt")
	}

	send(t, conn, "playback", PlaybackMessage{Token: audio.Token, Event: "ended"})

	readUntil(t, conn, "state", func(raw json.RawMessage) bool {
		view := decodeView(t, raw)
		return len(view.Messages) == 3 && !view.Playback.IsPlaying
	})
	if lastErr := conv.View().Playback.LastError; lastErr != "" {
		t.Fatalf("unexpected playback error %q", lastErr)
	}
}

func TestWidgetStopSendsAudioStop(t *testing.T) {
	srv, chatSvc := newWidgetServer(t)
	conv, _ := chatSvc.CreateSession(context.Background(), "")
	conn := dialWidget(t, srv, conv.ID())
	readUntil(t, conn, "state", nil)

	send(t, conn, "play", PlayMessage{MessageID: conv.View().Messages[0].ID})
	readUntil(t, conn, "audio", nil)

	send(t, conn, "stop", nil)
	readUntil(t, conn, "audio_stop", nil)

	if conv.View().Playback.IsPlaying {
		t.Fatal("stop must clear playing")
	}
}

func TestWidgetConfigAndErrors(t *testing.T) {
	srv, chatSvc := newWidgetServer(t)
	conv, _ := chatSvc.CreateSession(context.Background(), "")
	conn := dialWidget(t, srv, conv.ID())
	readUntil(t, conn, "state", nil)

	send(t, conn, "config", ConfigMessage{TTSEnabled: boolPtr(true), Voice: "zh-CN"})
	readUntil(t, conn, "state", func(raw json.RawMessage) bool {
		view := decodeView(t, raw)
		return view.Playback.TTSEnabled && view.Playback.Voice.Code == "zh-CN"
	})

	send(t, conn, "config", ConfigMessage{Voice: "tlh-KL"})
	readUntil(t, conn, "error", nil)

	send(t, conn, "bogus", nil)
	raw := readUntil(t, conn, "error", nil)
	if !strings.Contains(string(raw), "unsupported message type") {
		t.Fatalf("unexpected error payload %s", raw)
	}
}

func TestWidgetClosesWithSession(t *testing.T) {
	srv, chatSvc := newWidgetServer(t)
	conv, _ := chatSvc.CreateSession(context.Background(), "")
	conn := dialWidget(t, srv, conv.ID())
	readUntil(t, conn, "state", nil)

	if err := chatSvc.Close(conv.ID()); err != nil {
		t.Fatalf("Close err: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code != websocket.CloseNormalClosure {
				t.Fatalf("unexpected close code %d", closeErr.Code)
			}
			return
		}
	}
}

func TestWidgetUnknownSession(t *testing.T) {
	srv, _ := newWidgetServer(t)

	resp, err := http.Get(srv.URL + "/ws/missing")
	if err != nil {
		t.Fatalf("request err: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestSettlePlayback(t *testing.T) {
	sink := newWSSink(nil)
	result := make(chan error, 1)
	sink.waiting[7] = result

	if err := settlePlayback(sink, PlaybackMessage{Token: 7, Event: "error", Message: "decode"}); err != nil {
		t.Fatalf("settlePlayback err: %v", err)
	}
	if err := <-result; err == nil || !strings.Contains(err.Error(), "decode") {
		t.Fatalf("expected client error, got %v", err)
	}

	if err := settlePlayback(sink, PlaybackMessage{Token: 99, Event: "ended"}); err != nil {
		t.Fatalf("stale receipt must not fail, got %v", err)
	}
	if err := settlePlayback(sink, PlaybackMessage{Token: 7, Event: "paused"}); err == nil {
		t.Fatal("expected error for unknown event")
	}
}
