package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/jun/secondbrain/internal/crypto"
	"github.com/jun/secondbrain/internal/model"
)

func testAuthService() *AuthService {
	return NewAuthService(
		&oauth2.Config{
			ClientID:     "test-client-id",
			ClientSecret: "test-client-secret",
			RedirectURL:  "http://localhost:8080/api/auth/callback",
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://accounts.example.com/o/oauth2/auth",
				TokenURL: "https://accounts.example.com/o/oauth2/token",
			},
		},
		nil, // No DynamoDB client, uses in-memory fallback
		"test-tokens-table",
		crypto.NewLocalEncryptor(),
	)
}

var alice = &model.User{ID: "user1", Name: "Alice", Email: "alice@example.com"}

func TestAuthService_SaveAndGetProfile(t *testing.T) {
	s := testAuthService()
	ctx := context.Background()

	token := &oauth2.Token{
		AccessToken:  "access-123",
		RefreshToken: "refresh-456",
		Expiry:       time.Now().Add(1 * time.Hour),
	}

	if err := s.SaveProfile(ctx, alice, token); err != nil {
		t.Fatalf("SaveProfile failed: %v", err)
	}

	saved, err := s.GetProfile(ctx, "user1")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if saved.UserID != "user1" || saved.Email != "alice@example.com" || saved.Name != "Alice" {
		t.Errorf("unexpected profile: %+v", saved)
	}
	if saved.EncryptedRefreshToken == "" || saved.EncryptedRefreshToken == "refresh-456" {
		t.Errorf("refresh token stored unencrypted: %q", saved.EncryptedRefreshToken)
	}

	plain, err := crypto.NewLocalEncryptor().Decrypt(ctx, saved.EncryptedRefreshToken)
	if err != nil || plain != "refresh-456" {
		t.Errorf("decrypted token = %q, %v", plain, err)
	}
}

func TestAuthService_GetProfile_NotFound(t *testing.T) {
	s := testAuthService()

	_, err := s.GetProfile(context.Background(), "nonexistent-user")
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestAuthService_SaveProfile_EmptyRefreshTokenKeepsPrevious(t *testing.T) {
	s := testAuthService()
	ctx := context.Background()

	s.SaveProfile(ctx, alice, &oauth2.Token{RefreshToken: "original-refresh"})
	first, _ := s.GetProfile(ctx, "user1")

	renamed := &model.User{ID: "user1", Name: "Alice B.", Email: "alice@example.com"}
	if err := s.SaveProfile(ctx, renamed, &oauth2.Token{AccessToken: "new-access"}); err != nil {
		t.Fatalf("SaveProfile failed: %v", err)
	}

	saved, _ := s.GetProfile(ctx, "user1")
	if saved.EncryptedRefreshToken != first.EncryptedRefreshToken {
		t.Errorf("expected original refresh token to be preserved, got %q", saved.EncryptedRefreshToken)
	}
	if saved.Name != "Alice B." {
		t.Errorf("expected name to be updated, got %q", saved.Name)
	}
}

func TestAuthService_GenerateAuthURL(t *testing.T) {
	s := testAuthService()

	url := s.GenerateAuthURL("test-state")
	if !strings.Contains(url, "state=test-state") {
		t.Errorf("expected URL to contain state, got %q", url)
	}
	if !strings.Contains(url, "client_id=test-client-id") {
		t.Errorf("expected URL to contain client ID, got %q", url)
	}
	if !strings.Contains(url, "access_type=offline") {
		t.Errorf("expected offline access, got %q", url)
	}
}
