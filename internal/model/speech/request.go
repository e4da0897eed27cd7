package speech

// TTSRequest 语音合成请求
type TTSRequest struct {
	SessionID string  `json:"sessionId"`
	MessageID string  `json:"messageId,omitempty"`
	Text      string  `json:"text"`
	Voice     string  `json:"voice"`    // provider speaker id
	Speed     float32 `json:"speed"`    // 语速倍率 0.5-2.0
	Volume    float32 `json:"volume"`   // 音量 0.0-1.0
	Format    string  `json:"format"`   // mp3, pcm
	Language  string  `json:"language"` // en-US, zh-CN, etc.
}
