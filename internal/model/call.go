package model

import "time"

type CallStatus string

const (
	CallStatusRinging  CallStatus = "ringing"
	CallStatusAccepted CallStatus = "accepted"
	CallStatusDeclined CallStatus = "declined"
	CallStatusTimedOut CallStatus = "timed_out"
)

// CallNotification is the one-shot ring row. Once status leaves ringing the
// row is inert: no further transitions are applied.
type CallNotification struct {
	ID             string     `json:"id"`
	CallerID       string     `json:"caller_id"`
	ReceiverID     string     `json:"receiver_id"`
	ConversationID string     `json:"conversation_id"`
	RoomName       string     `json:"room_name"`
	IsVideoCall    bool       `json:"is_video_call"`
	Status         CallStatus `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ParticipantState is the per-participant control state inside an active
// media session. Cross-participant consistency is delegated to the media
// provider's roster; this is the locally mirrored copy.
type ParticipantState struct {
	IsMuted         bool `json:"is_muted"`
	IsCameraOff     bool `json:"is_camera_off"`
	IsScreenSharing bool `json:"is_screen_sharing"`
	IsSpeaking      bool `json:"is_speaking"`
}
