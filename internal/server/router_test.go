package server

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"github.com/harborlabs/harbor/backend/internal/auth"
	"github.com/harborlabs/harbor/backend/internal/chat"
	"github.com/harborlabs/harbor/backend/internal/conversations"
	"github.com/harborlabs/harbor/backend/internal/presence"
	"github.com/harborlabs/harbor/backend/internal/realtime"
)

var testSessionSecret = []byte("test-session-secret")

type serverFixture struct {
	handler http.Handler
	issuer  *auth.TokenIssuer
	broker  *realtime.Broker
	store   *presence.MemoryStore
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: testSessionSecret,
		Issuer:        "harbor-id",
		CookieName:    "harbor_session",
	})
	if err != nil {
		t.Fatalf("failed to construct session validator: %v", err)
	}

	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "harbor-auth",
		Audience:      "harbor-api",
		TokenTTL:      time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to construct token issuer: %v", err)
	}

	store := presence.NewMemoryStore()
	tracker, err := presence.NewTracker(presence.TrackerConfig{
		Store:            store,
		OfflineThreshold: 3 * time.Minute,
		CleanupInterval:  30 * time.Second,
		CacheMaxAge:      10 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to construct presence tracker: %v", err)
	}

	broker := realtime.NewBroker()
	sender, err := chat.NewSender(broker, "messages", nil)
	if err != nil {
		t.Fatalf("failed to construct sender: %v", err)
	}

	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&conversations.Conversation{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	conversationService, err := conversations.NewService(conversations.ServiceConfig{
		Database:  db,
		Announcer: sender,
	})
	if err != nil {
		t.Fatalf("failed to construct conversation service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Sessions:      validator,
		TokenManager:  issuer,
		Presence:      tracker,
		Messages:      sender,
		Conversations: conversationService,
		Stream:        broker,
		Channel:       "messages",
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	return &serverFixture{handler: handler, issuer: issuer, broker: broker, store: store}
}

func mintSessionToken(t *testing.T, userID string) string {
	t.Helper()
	claims := auth.SessionClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    "harbor-id",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSessionSecret)
	if err != nil {
		t.Fatalf("failed to mint session token: %v", err)
	}
	return signed
}

func (f *serverFixture) apiToken(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := f.issuer.IssueAPIToken(context.Background(), auth.SessionClaims{UserID: userID})
	if err != nil {
		t.Fatalf("failed to issue api token: %v", err)
	}
	return token
}
