package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/heritage-guide/backend/internal/model/speech"
)

const defaultTTSEndpoint = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"

var errResourceMismatch = errors.New("resource ID is mismatched with speaker related resource")

// VolcengineTTSClient 火山引擎TTS WebSocket客户端
type VolcengineTTSClient struct {
	config   *speech.SpeechConfig
	dialer   *websocket.Dialer
	endpoint string
}

// NewVolcengineTTSClient 创建火山引擎TTS客户端
func NewVolcengineTTSClient(config *speech.SpeechConfig) *VolcengineTTSClient {
	endpoint := strings.TrimSpace(config.BaseURL)
	if endpoint == "" {
		endpoint = defaultTTSEndpoint
	}
	return &VolcengineTTSClient{
		config:   config,
		endpoint: endpoint,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 30 * time.Second,
		},
	}
}

type ttsServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
	Addition struct {
		Duration string `json:"duration,omitempty"`
	} `json:"addition,omitempty"`
}

type volcengineTTSRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string                   `json:"speaker"`
		Text        string                   `json:"text"`
		AudioParams volcengineTTSAudioParams `json:"audio_params"`
		Language    string                   `json:"language,omitempty"`
	} `json:"req_params"`
}

type volcengineTTSAudioParams struct {
	Format      string  `json:"format"`
	SampleRate  int     `json:"sample_rate"`
	SpeedRatio  float32 `json:"speed_ratio,omitempty"`
	VolumeRatio float32 `json:"volume_ratio,omitempty"`
}

// Synthesize 依次尝试 speaker 与资源 ID 组合，直到服务端接受
func (c *VolcengineTTSClient) Synthesize(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}

	appKey, accessKey, err := resolveCredentials(c.config)
	if err != nil {
		return nil, err
	}

	speakers := resolveTTSSpeakerCandidates(req.Voice, c.config.TTSVoice)
	if len(speakers) == 0 {
		return nil, errors.New("no TTS speaker configured")
	}

	var lastErr error
	for _, speaker := range speakers {
		for _, resourceID := range resolveTTSResourceCandidates(speaker) {
			resp, err := c.synthesizeOnce(ctx, req, appKey, accessKey, speaker, resourceID)
			if err == nil {
				return resp, nil
			}
			if !errors.Is(err, errResourceMismatch) {
				return nil, err
			}
			log.Printf("[tts] speaker %s resource %s mismatch, trying next candidate", speaker, resourceID)
			lastErr = err
		}
	}
	return nil, fmt.Errorf("no compatible resource for speakers %v: %w", speakers, lastErr)
}

func (c *VolcengineTTSClient) synthesizeOnce(ctx context.Context, req *speech.TTSRequest, appKey, accessKey, speaker, resourceID string) (*speech.TTSResponse, error) {
	connectID := uuid.NewString()

	header := http.Header{}
	header.Set("X-Api-App-Key", appKey)
	header.Set("X-Api-Access-Key", accessKey)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := c.dialer.DialContext(ctx, c.endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("connect TTS websocket: %w", err)
	}
	defer conn.Close()

	if resp != nil {
		if logID := resp.Header.Get("X-Tt-Logid"); logID != "" {
			log.Printf("[tts] connected logid=%s", logID)
		}
	}

	// ReadMessage 不感知 ctx，取消时关闭连接以打断阻塞读取
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	payload, err := json.Marshal(c.buildRequest(req, speaker))
	if err != nil {
		return nil, fmt.Errorf("marshal TTS request: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, encodeFrame(newClientRequestFrame(payload))); err != nil {
		return nil, fmt.Errorf("send TTS request: %w", err)
	}

	var (
		audio    bytes.Buffer
		reqID    string
		duration int64
	)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("read TTS response: %w", err)
		}

		f, err := decodeFrame(data)
		if err != nil {
			return nil, fmt.Errorf("decode TTS frame: %w", err)
		}
		body, err := f.body()
		if err != nil {
			return nil, fmt.Errorf("decompress TTS frame: %w", err)
		}

		var serverMsg ttsServerMessage
		switch f.kind {
		case frameError:
			if strings.Contains(string(body), errResourceMismatch.Error()) {
				return nil, fmt.Errorf("TTS error %d: %w", f.errorCode, errResourceMismatch)
			}
			return nil, fmt.Errorf("TTS error %d: %s", f.errorCode, string(body))

		case frameAudioOnlyResponse:
			audio.Write(body)

		case frameFullServerResponse:
			if len(body) > 0 {
				if err := json.Unmarshal(body, &serverMsg); err != nil {
					log.Printf("[tts] unreadable server payload: %v", err)
				} else {
					if serverMsg.Code != 0 && serverMsg.Code != 3000 {
						return nil, fmt.Errorf("TTS API error %d: %s", serverMsg.Code, serverMsg.Message)
					}
					if serverMsg.ReqID != "" {
						reqID = serverMsg.ReqID
					}
					if ms, err := strconv.ParseInt(serverMsg.Addition.Duration, 10, 64); err == nil {
						duration = ms
					}
					if serverMsg.Data != "" {
						chunk, err := base64.StdEncoding.DecodeString(serverMsg.Data)
						if err != nil {
							return nil, fmt.Errorf("decode base64 audio chunk: %w", err)
						}
						audio.Write(chunk)
					}
				}
			}

		default:
			log.Printf("[tts] unexpected frame type: %d", f.kind)
			continue
		}

		finished := (f.hasEvent() && f.event == eventSessionFinished) || f.isLast() || serverMsg.Sequence < 0
		if !finished {
			continue
		}
		if audio.Len() == 0 {
			return nil, errors.New("TTS audio is empty")
		}
		if reqID == "" {
			reqID = connectID
		}
		return &speech.TTSResponse{
			SessionID: req.SessionID,
			AudioData: audio.Bytes(),
			Duration:  duration,
			Format:    "mp3",
			RequestID: reqID,
			CreatedAt: time.Now(),
		}, nil
	}
}

// buildRequest 构建符合火山引擎API格式的TTS请求
func (c *VolcengineTTSClient) buildRequest(req *speech.TTSRequest, speaker string) *volcengineTTSRequest {
	out := &volcengineTTSRequest{}

	out.User.UID = strings.TrimSpace(req.SessionID)
	if out.User.UID == "" {
		out.User.UID = uuid.NewString()
	}

	out.ReqParams.Speaker = speaker
	out.ReqParams.Text = req.Text
	out.ReqParams.Language = strings.TrimSpace(req.Language)

	// 合成端只输出 mp3，浏览器可直接播放
	out.ReqParams.AudioParams.Format = "mp3"
	out.ReqParams.AudioParams.SampleRate = 24000
	if req.Speed > 0 && req.Speed != 1.0 {
		out.ReqParams.AudioParams.SpeedRatio = req.Speed
	}
	if req.Volume > 0 && req.Volume != 1.0 {
		out.ReqParams.AudioParams.VolumeRatio = req.Volume
	}
	return out
}

// resolveCredentials 返回规范化后的 AppID 与 AccessToken
func resolveCredentials(cfg *speech.SpeechConfig) (string, string, error) {
	appID := strings.TrimSpace(cfg.AppID)
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		token = strings.TrimSpace(cfg.APIKey)
	}
	if appID == "" || token == "" {
		return "", "", errors.New("volcengine speech credentials missing AppID or AccessToken")
	}
	return appID, token, nil
}

func resolveTTSResourceCandidates(speaker string) []string {
	const (
		defaultResource = "volc.service_type.10029"
		megaResource    = "volc.megatts.default"
		seedResource    = "seed-tts-2.0"
	)

	speaker = strings.TrimSpace(speaker)
	if strings.HasPrefix(speaker, "S_") {
		return []string{megaResource}
	}

	normalized := strings.ToLower(speaker)
	for _, hint := range []string{"bigtts", "seed", "megatts", "uranus", "venus", "jupiter", "mars"} {
		if strings.Contains(normalized, hint) {
			return []string{seedResource, defaultResource}
		}
	}
	return []string{defaultResource, seedResource}
}

// resolveTTSSpeakerCandidates 去重后返回请求 speaker 与兜底 speaker
func resolveTTSSpeakerCandidates(requested, fallback string) []string {
	var candidates []string
	for _, s := range []string{NormalizeVoiceAlias(requested), NormalizeVoiceAlias(fallback)} {
		if s == "" {
			continue
		}
		duplicate := false
		for _, existing := range candidates {
			if strings.EqualFold(existing, s) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			candidates = append(candidates, s)
		}
	}
	return candidates
}
