package chat

import "time"

// Session captures a transient anonymous widget session. It lives only as long
// as the page view that opened it.
type Session struct {
	ID           string    `json:"id"`
	VoiceCode    string    `json:"voice"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}
