package core

// ConnectionID is assigned by the signaling server to every live websocket connection
type ConnectionID string

// RoomID is an opaque meeting code
type RoomID string

// Participant is a member of a room as seen by everybody in it
type Participant struct {
	ConnectionID    ConnectionID `json:"connectionId"`
	DisplayName     string       `json:"displayName"`
	IsMuted         bool         `json:"isMuted"`
	IsVideoOff      bool         `json:"isVideoOff"`
	IsScreenSharing bool         `json:"isScreenSharing"`
}

// MediaState is the set of local media flags a participant advertises
type MediaState struct {
	IsMuted         bool `json:"isMuted"`
	IsVideoOff      bool `json:"isVideoOff"`
	IsScreenSharing bool `json:"isScreenSharing"`
}
