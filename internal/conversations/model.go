package conversations

import "time"

// Conversation is one speaker/listener pairing. The speaker side stays
// anonymous everywhere; only the row itself knows both identifiers.
type Conversation struct {
	ID         string     `gorm:"column:id;primaryKey;size:190;not null"`
	SpeakerID  string     `gorm:"column:speaker_id;size:190;not null;index"`
	ListenerID string     `gorm:"column:listener_id;size:190;not null;index"`
	Topic      string     `gorm:"column:topic;type:text;not null"`
	IsActive   bool       `gorm:"column:is_active;not null;default:true"`
	StartedAt  time.Time  `gorm:"column:started_at;not null"`
	EndedAt    *time.Time `gorm:"column:ended_at"`
}

// TableName provides the explicit table binding for GORM.
func (Conversation) TableName() string {
	return "conversations"
}

// Info is the participant-facing view of a conversation. The counterpart
// label is the listener's display name for the speaker and the anonymous
// speaker label for the listener.
type Info struct {
	ID               string     `json:"id"`
	Topic            string     `json:"topic"`
	IsActive         bool       `json:"is_active"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	Role             string     `json:"role"`
	CounterpartLabel string     `json:"counterpart_label"`
}

const (
	// RoleSpeaker marks the anonymous side of a conversation.
	RoleSpeaker = "speaker"
	// RoleListener marks the supporting side of a conversation.
	RoleListener = "listener"

	anonymousSpeakerLabel = "Anonymous Speaker"
)
