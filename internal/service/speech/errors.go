package speech

import "errors"

var (
	// ErrInvalidVoiceSelection is returned when a voice code is not in the supported set.
	ErrInvalidVoiceSelection = errors.New("voice is not supported")
	// ErrPlaybackFailed wraps any synthesis or playback failure.
	ErrPlaybackFailed = errors.New("playback failed")
	// ErrPlaybackBusy rejects a request made while another playback is active.
	ErrPlaybackBusy = errors.New("playback already in progress")
	// ErrEmptyText rejects blank speak requests.
	ErrEmptyText = errors.New("text is required")
	// ErrControllerClosed is returned after the owning session was torn down.
	ErrControllerClosed = errors.New("playback controller closed")
)
