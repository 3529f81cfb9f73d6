package conversations

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/harborlabs/harbor/backend/internal/chat"
)

var (
	// ErrMissingDatabase is returned when a service is built without a database.
	ErrMissingDatabase = errors.New("conversations: database handle is required")
	// ErrMissingAnnouncer is returned when a service is built without a sender.
	ErrMissingAnnouncer = errors.New("conversations: announcer is required")
	// ErrInvalidParticipants rejects creations with missing or identical sides.
	ErrInvalidParticipants = errors.New("conversations: speaker and listener must be distinct non-empty ids")
	// ErrEmptyTopic rejects creations without a topic.
	ErrEmptyTopic = errors.New("conversations: topic must not be empty")
	// ErrNotFound marks a conversation id with no backing row.
	ErrNotFound = errors.New("conversations: not found")
	// ErrNotParticipant marks a request by a user outside the conversation.
	ErrNotParticipant = errors.New("conversations: requester is not a participant")
)

// ServiceConfig describes the dependencies of the conversation registry.
type ServiceConfig struct {
	Database  *gorm.DB
	Announcer *chat.Sender
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Service owns the conversation registry: pairings are created here, ended
// here, and consulted here for listener authorization.
type Service struct {
	db        *gorm.DB
	announcer *chat.Sender
	clock     func() time.Time
	logger    *zap.Logger
}

// NewService validates the configuration and builds the registry service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, ErrMissingDatabase
	}
	if cfg.Announcer == nil {
		return nil, ErrMissingAnnouncer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, announcer: cfg.Announcer, clock: clock, logger: logger}, nil
}

// Create records a new pairing and announces it on the realtime channel so
// the listener's feed picks it up. A failed announcement does not undo the
// pairing; the row is the source of truth.
func (s *Service) Create(ctx context.Context, speakerID, listenerID, topic string) (Conversation, error) {
	speakerID = strings.TrimSpace(speakerID)
	listenerID = strings.TrimSpace(listenerID)
	if speakerID == "" || listenerID == "" || speakerID == listenerID {
		return Conversation{}, ErrInvalidParticipants
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Conversation{}, ErrEmptyTopic
	}

	conversation := Conversation{
		ID:         uuid.NewString(),
		SpeakerID:  speakerID,
		ListenerID: listenerID,
		Topic:      topic,
		IsActive:   true,
		StartedAt:  s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&conversation).Error; err != nil {
		return Conversation{}, err
	}

	if _, err := s.announcer.AnnounceConnection(ctx, conversation.ID, topic); err != nil {
		s.logger.Warn("connection announcement failed",
			zap.String("conversation_id", conversation.ID),
			zap.Error(err))
	}
	return conversation, nil
}

// Info returns the participant-facing view of a conversation. The speaker's
// identity is never exposed: the listener only ever sees the anonymous label.
func (s *Service) Info(ctx context.Context, conversationID, requesterID string) (Info, error) {
	conversation, err := s.load(ctx, conversationID)
	if err != nil {
		return Info{}, err
	}

	info := Info{
		ID:        conversation.ID,
		Topic:     conversation.Topic,
		IsActive:  conversation.IsActive,
		StartedAt: conversation.StartedAt,
		EndedAt:   conversation.EndedAt,
	}
	switch requesterID {
	case conversation.SpeakerID:
		info.Role = RoleSpeaker
		info.CounterpartLabel = conversation.ListenerID
	case conversation.ListenerID:
		info.Role = RoleListener
		info.CounterpartLabel = anonymousSpeakerLabel
	default:
		return Info{}, ErrNotParticipant
	}
	return info, nil
}

// End marks a conversation inactive and publishes the end-of-session
// sentinel. Ending an already ended conversation is a no-op, so the sentinel
// goes out at most once per conversation.
func (s *Service) End(ctx context.Context, conversationID, requesterID string) error {
	conversation, err := s.load(ctx, conversationID)
	if err != nil {
		return err
	}
	if requesterID != conversation.SpeakerID && requesterID != conversation.ListenerID {
		return ErrNotParticipant
	}
	if !conversation.IsActive {
		return nil
	}

	endedAt := s.clock().UTC()
	update := s.db.WithContext(ctx).
		Model(&Conversation{}).
		Where("id = ? AND is_active = ?", conversation.ID, true).
		Updates(map[string]interface{}{"is_active": false, "ended_at": endedAt})
	if update.Error != nil {
		return update.Error
	}
	if update.RowsAffected == 0 {
		// Lost the race to a concurrent End; the winner sent the sentinel.
		return nil
	}

	if _, err := s.announcer.AnnounceSessionEnd(ctx, conversation.ID); err != nil {
		s.logger.Warn("session end announcement failed",
			zap.String("conversation_id", conversation.ID),
			zap.Error(err))
	}
	return nil
}

// IsListener reports whether the user is the listener of the conversation.
// Unknown conversations answer false without error.
func (s *Service) IsListener(ctx context.Context, conversationID, userID string) (bool, error) {
	conversation, err := s.load(ctx, conversationID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return conversation.ListenerID == userID, nil
}

func (s *Service) load(ctx context.Context, conversationID string) (Conversation, error) {
	var conversation Conversation
	err := s.db.WithContext(ctx).Where("id = ?", conversationID).Take(&conversation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	return conversation, nil
}
