package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/heritage-guide/backend/internal/middleware"
	chatservice "github.com/zhouzirui/heritage-guide/backend/internal/service/chat"
	speechsvc "github.com/zhouzirui/heritage-guide/backend/internal/service/speech"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
)

var errConnectionClosed = errors.New("widget connection closed")

// WebSocketHandler 挂件实时通道：推送会话视图与朗读音频，接收用户操作
type WebSocketHandler struct {
	chatSvc  *chatservice.Service
	upgrader websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(chatSvc *chatservice.Service, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		chatSvc: chatSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin:     middleware.OriginChecker(allowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterWebSocketRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// TextMessage 文本消息，用于 text 与 draft
type TextMessage struct {
	Text string `json:"text"`
}

// ConfigMessage 配置消息
type ConfigMessage struct {
	TTSEnabled *bool  `json:"ttsEnabled,omitempty"`
	Voice      string `json:"voice"`
}

// PlayMessage 手动朗读请求
type PlayMessage struct {
	MessageID string `json:"messageId"`
}

// PlaybackMessage 页面播放进度回执
type PlaybackMessage struct {
	Token   uint64 `json:"token"`
	Event   string `json:"event"`
	Message string `json:"message,omitempty"`
}

// AudioMessage 下发给页面的音频
type AudioMessage struct {
	Token      uint64 `json:"token"`
	MessageID  string `json:"messageId"`
	Format     string `json:"format"`
	AudioData  string `json:"audioData"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// wsClient 串行化对连接的写入，gorilla 连接只允许一个并发写者
type wsClient struct {
	conn      *websocket.Conn
	sessionID string
	mu        sync.Mutex
}

func (c *wsClient) send(msgType string, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(outgoingMessage{
		Type:      msgType,
		SessionID: c.sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

func (c *wsClient) sendError(message string) {
	if err := c.send("error", map[string]string{"message": message}); err != nil {
		log.Printf("[websocket] write error failed: %v", err)
	}
}

func (c *wsClient) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// wsSink 把音频交给页面播放，直到页面回执 ended 或播放被取消
type wsSink struct {
	client *wsClient
	done   chan struct{}

	mu      sync.Mutex
	waiting map[uint64]chan error
}

func newWSSink(client *wsClient) *wsSink {
	return &wsSink{
		client:  client,
		done:    make(chan struct{}),
		waiting: make(map[uint64]chan error),
	}
}

// Play 实现 speechsvc.Sink
func (s *wsSink) Play(ctx context.Context, clip speechsvc.Clip) error {
	result := make(chan error, 1)
	s.mu.Lock()
	s.waiting[clip.Token] = result
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.waiting, clip.Token)
		s.mu.Unlock()
	}()

	err := s.client.send("audio", AudioMessage{
		Token:      clip.Token,
		MessageID:  clip.MessageID,
		Format:     clip.Format,
		AudioData:  base64.StdEncoding.EncodeToString(clip.Audio),
		DurationMs: clip.Duration.Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("send audio: %w", err)
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		if sendErr := s.client.send("audio_stop", map[string]uint64{"token": clip.Token}); sendErr != nil {
			log.Printf("[websocket] write audio_stop failed: %v", sendErr)
		}
		return ctx.Err()
	case <-s.done:
		return errConnectionClosed
	}
}

// settle 结束等待中的播放，未知 token 返回 false
func (s *wsSink) settle(token uint64, err error) bool {
	s.mu.Lock()
	result, ok := s.waiting[token]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case result <- err:
	default:
	}
	return true
}

func (s *wsSink) close() {
	close(s.done)
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "sessionID is required", http.StatusBadRequest)
		return
	}

	conv, err := h.chatSvc.Get(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[websocket] new connection for session: %s", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	client := &wsClient{conn: conn, sessionID: sessionID}
	sink := newWSSink(client)
	detach := conv.AttachSink(sink)
	defer func() {
		detach()
		sink.close()
		log.Printf("[websocket] connection closed for session: %s", sessionID)
	}()

	views, unsubscribe := conv.Subscribe()
	defer unsubscribe()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go h.pingLoop(ctx, client)
	go h.pushViews(ctx, cancel, client, views)

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[websocket] read error: %v", err)
			}
			return
		}

		conn.SetReadDeadline(time.Now().Add(pongWait))

		if msg.SessionID != "" && msg.SessionID != sessionID {
			client.sendError("session mismatch")
			continue
		}

		if err := h.handleMessage(ctx, conv, sink, &msg); err != nil {
			client.sendError(err.Error())
		}
	}
}

// pushViews 转发会话视图，会话被关闭时断开连接
func (h *WebSocketHandler) pushViews(ctx context.Context, cancel context.CancelFunc, client *wsClient, views <-chan chatservice.View) {
	for {
		select {
		case <-ctx.Done():
			return
		case view, ok := <-views:
			if !ok {
				client.mu.Lock()
				client.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(writeWait))
				client.mu.Unlock()
				client.conn.Close()
				cancel()
				return
			}
			if err := client.send("state", view); err != nil {
				log.Printf("[websocket] write state failed: %v", err)
				return
			}
		}
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, conv *chatservice.Conversation, sink *wsSink, msg *inboundMessage) error {
	switch msg.Type {
	case "text":
		var payload TextMessage
		if err := decodeData(msg.Data, &payload); err != nil {
			return errors.New("invalid text payload")
		}
		if _, err := conv.Submit(payload.Text); err != nil && !errors.Is(err, chatservice.ErrEmptyInput) {
			return err
		}
	case "draft":
		var payload TextMessage
		if err := decodeData(msg.Data, &payload); err != nil {
			return errors.New("invalid draft payload")
		}
		conv.SetDraft(payload.Text)
	case "clear":
		conv.Clear()
	case "config":
		var payload ConfigMessage
		if err := decodeData(msg.Data, &payload); err != nil {
			return errors.New("invalid config payload")
		}
		return applyConfig(conv, payload)
	case "play":
		var payload PlayMessage
		if err := decodeData(msg.Data, &payload); err != nil {
			return errors.New("invalid play payload")
		}
		return conv.Play(ctx, payload.MessageID)
	case "stop":
		conv.StopPlayback()
	case "playback":
		var payload PlaybackMessage
		if err := decodeData(msg.Data, &payload); err != nil {
			return errors.New("invalid playback payload")
		}
		return settlePlayback(sink, payload)
	default:
		return fmt.Errorf("unsupported message type: %s", msg.Type)
	}
	return nil
}

func decodeData(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// applyConfig 先切换 voice，失败时不改动开关
func applyConfig(conv *chatservice.Conversation, cfg ConfigMessage) error {
	if cfg.Voice != "" {
		if err := conv.SelectVoice(cfg.Voice); err != nil {
			return err
		}
	}
	if cfg.TTSEnabled != nil {
		conv.SetTTSEnabled(*cfg.TTSEnabled)
	}
	return nil
}

func settlePlayback(sink *wsSink, payload PlaybackMessage) error {
	var result error
	switch payload.Event {
	case "ended":
	case "error":
		result = fmt.Errorf("client playback error: %s", payload.Message)
	default:
		return fmt.Errorf("unsupported playback event: %s", payload.Event)
	}
	if !sink.settle(payload.Token, result) {
		// 已被停止或超时的播放，回执晚到属正常情况
		log.Printf("[websocket] stale playback receipt token=%d event=%s", payload.Token, payload.Event)
	}
	return nil
}

// pingLoop 定期发送ping消息
func (h *WebSocketHandler) pingLoop(ctx context.Context, client *wsClient) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := client.ping(); err != nil {
				return
			}
		}
	}
}
