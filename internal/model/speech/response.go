package speech

import "time"

// TTSResponse 语音合成响应
type TTSResponse struct {
	SessionID string    `json:"sessionId"`
	AudioData []byte    `json:"-"`
	Duration  int64     `json:"duration"` // milliseconds, 0 when the provider does not report it
	Format    string    `json:"format"`
	RequestID string    `json:"requestId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// PlaybackDuration returns Duration as a time.Duration.
func (r *TTSResponse) PlaybackDuration() time.Duration {
	return time.Duration(r.Duration) * time.Millisecond
}
