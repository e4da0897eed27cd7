package speech

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zhouzirui/heritage-guide/backend/internal/model/speech"
)

// Synthesizer is the speech-synthesis capability consumed by the playback
// controller. Implementations must honour ctx cancellation.
type Synthesizer interface {
	Synthesize(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error)
}

// Service 语音服务核心业务逻辑：补全默认参数并转发给具体的合成实现
type Service struct {
	config   *speech.SpeechConfig
	provider Synthesizer
	name     string
}

// NewService 根据配置创建语音服务，凭证齐全时使用火山引擎，否则退化为 stub
func NewService(config *speech.SpeechConfig) *Service {
	if config == nil {
		config = &speech.SpeechConfig{}
	}
	if _, _, err := resolveCredentials(config); err == nil {
		return NewServiceWithProvider(config, NewVolcengineTTSClient(config), "volcengine")
	}
	return NewServiceWithProvider(config, NewStubSynthesizer(), "stub")
}

// NewServiceWithProvider 使用指定实现创建语音服务
func NewServiceWithProvider(config *speech.SpeechConfig, provider Synthesizer, name string) *Service {
	if config == nil {
		config = &speech.SpeechConfig{}
	}
	return &Service{config: config, provider: provider, name: name}
}

// Provider 返回当前使用的合成实现名称
func (s *Service) Provider() string {
	return s.name
}

// Synthesize 文字转语音
func (s *Service) Synthesize(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	if req == nil || strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}

	prepared := *req
	prepared.Voice = NormalizeVoiceAlias(prepared.Voice)
	if prepared.Voice == "" {
		prepared.Voice = strings.TrimSpace(s.config.TTSVoice)
	}
	if prepared.Speed <= 0 {
		prepared.Speed = s.config.TTSSpeed
	}
	if prepared.Volume <= 0 {
		prepared.Volume = s.config.TTSVolume
	}
	if strings.TrimSpace(prepared.Language) == "" {
		prepared.Language = s.config.TTSLanguage
	}

	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.config.Timeout)*time.Second)
		defer cancel()
	}

	resp, err := s.provider.Synthesize(ctx, &prepared)
	if err != nil {
		return nil, fmt.Errorf("%s synthesize: %w", s.name, err)
	}
	return resp, nil
}

var voiceAliases = map[string]string{
	"default":     "",
	"en_default":  "en_female_amy_jupiter_bigtts",
	"heritage":    "en_female_amy_jupiter_bigtts",
	"heritage-uk": "en_male_glen_emo_v2_mars_bigtts",
	"zh_default":  "zh_female_vv_uranus_bigtts",
	"heritage-zh": "zh_female_vv_venus_bigtts",
}

// NormalizeVoiceAlias 将友好别名映射为火山引擎 speaker id，未知值原样返回
func NormalizeVoiceAlias(alias string) string {
	trimmed := strings.TrimSpace(alias)
	if mapped, ok := voiceAliases[strings.ToLower(trimmed)]; ok {
		return mapped
	}
	return trimmed
}
