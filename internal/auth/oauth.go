package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/oauth2"
	googleoauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/jun/secondbrain/internal/crypto"
	"github.com/jun/secondbrain/internal/model"
)

// ErrUserNotFound is returned when no profile exists for a user id.
var ErrUserNotFound = errors.New("user not found")

// AuthService runs the Google OAuth2 flow and keeps user profiles together
// with their encrypted Google refresh token.
type AuthService struct {
	oauthConfig  *oauth2.Config
	dynamoClient *dynamodb.Client
	tableName    string
	encryptor    crypto.Encryptor

	// In-memory fallback when dynamoClient is nil
	profiles map[string]model.UserToken
	mu       sync.RWMutex
}

// NewAuthService creates an AuthService. A nil dynamoClient keeps profiles in memory.
func NewAuthService(oauthConfig *oauth2.Config, dynamoClient *dynamodb.Client, tableName string, encryptor crypto.Encryptor) *AuthService {
	return &AuthService{
		oauthConfig:  oauthConfig,
		dynamoClient: dynamoClient,
		tableName:    tableName,
		encryptor:    encryptor,
		profiles:     make(map[string]model.UserToken),
	}
}

// GenerateAuthURL returns the Google consent page URL carrying state.
func (s *AuthService) GenerateAuthURL(state string) string {
	return s.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// ExchangeCode exchanges a Google authorization code for a token.
func (s *AuthService) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := s.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange google code: %w", err)
	}
	return tok, nil
}

// FetchUserInfo reads the Google profile of the token owner.
func (s *AuthService) FetchUserInfo(ctx context.Context, token *oauth2.Token) (*model.User, error) {
	svc, err := googleoauth2.NewService(ctx, option.WithTokenSource(s.oauthConfig.TokenSource(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("create oauth2 service: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get userinfo: %w", err)
	}
	return &model.User{ID: info.Id, Name: info.Name, Email: info.Email}, nil
}

// SaveProfile stores the user's profile. Google only returns a refresh token
// on first consent, so an empty one keeps the previously stored value.
func (s *AuthService) SaveProfile(ctx context.Context, user *model.User, token *oauth2.Token) error {
	profile := model.UserToken{
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.Name,
		UpdatedAt: time.Now(),
	}

	if token != nil && token.RefreshToken != "" {
		encrypted, err := s.encryptor.Encrypt(ctx, token.RefreshToken)
		if err != nil {
			return fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		profile.EncryptedRefreshToken = encrypted
	} else if existing, err := s.GetProfile(ctx, user.ID); err == nil {
		profile.EncryptedRefreshToken = existing.EncryptedRefreshToken
	}

	if s.dynamoClient == nil {
		s.mu.Lock()
		s.profiles[user.ID] = profile
		s.mu.Unlock()
		return nil
	}

	item, err := attributevalue.MarshalMap(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal user profile: %w", err)
	}

	_, err = s.dynamoClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save profile to DynamoDB: %w", err)
	}
	return nil
}

// GetProfile returns the stored profile or ErrUserNotFound.
func (s *AuthService) GetProfile(ctx context.Context, userID string) (*model.UserToken, error) {
	if s.dynamoClient == nil {
		s.mu.RLock()
		p, ok := s.profiles[userID]
		s.mu.RUnlock()
		if !ok {
			return nil, ErrUserNotFound
		}
		return &p, nil
	}

	out, err := s.dynamoClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get item from DynamoDB: %w", err)
	}
	if out.Item == nil {
		return nil, ErrUserNotFound
	}

	var profile model.UserToken
	if err := attributevalue.UnmarshalMap(out.Item, &profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user profile: %w", err)
	}
	return &profile, nil
}
