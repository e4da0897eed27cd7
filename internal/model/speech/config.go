package speech

// SpeechConfig 语音合成服务配置
type SpeechConfig struct {
	// Volcengine 凭证
	AppID       string `json:"appId"`
	AccessToken string `json:"accessToken"`
	APIKey      string `json:"apiKey,omitempty"` // 兼容旧配置的 API Key
	BaseURL     string `json:"baseUrl"`          // 为空时使用官方 WebSocket 地址

	// TTS 默认参数
	TTSVoice    string  `json:"ttsVoice"`
	TTSSpeed    float32 `json:"ttsSpeed"`
	TTSVolume   float32 `json:"ttsVolume"`
	TTSLanguage string  `json:"ttsLanguage"`

	Timeout int `json:"timeout"` // seconds
}
