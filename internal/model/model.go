package model

import "time"

// UserToken represents the user's Google OAuth2 token and profile stored in DynamoDB.
type UserToken struct {
	UserID                string    `json:"user_id" dynamodbav:"user_id"`
	Email                 string    `json:"email" dynamodbav:"email"`
	Name                  string    `json:"name" dynamodbav:"name"`
	EncryptedRefreshToken string    `json:"encrypted_refresh_token" dynamodbav:"encrypted_refresh_token"`
	UpdatedAt             time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// LoginCode is a one-time code handed to the client after a successful OAuth callback.
// It is exchanged once for an access token through POST /auth/token.
type LoginCode struct {
	Code      string `json:"code" dynamodbav:"code"`
	UserID    string `json:"user_id" dynamodbav:"user_id"`
	ExpiresAt int64  `json:"expires_at" dynamodbav:"expires_at"` // TTL (Unix timestamp)
}

// User is the public profile returned by GET /users/me.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Draft is an in-progress note held in the fast store.
type Draft struct {
	NoteID       string    `json:"noteId"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	Version      int64     `json:"version"`
	LastModified time.Time `json:"lastModified"`
}

// DraftRequest is the body of POST /drafts.
type DraftRequest struct {
	NoteID  string `json:"noteId"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Version int64  `json:"version"`
}

// DraftPayload is the body a teardown beacon posts to /notes/from-draft/{id}.
type DraftPayload struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Note is a finalized note in the durable store.
type Note struct {
	ID          string    `json:"id" dynamodbav:"id"`
	UserID      string    `json:"userId" dynamodbav:"user_id"`
	Title       string    `json:"title" dynamodbav:"title"`
	Content     string    `json:"content" dynamodbav:"content"`
	ContentHTML string    `json:"contentHtml,omitempty" dynamodbav:"content_html"`
	CreatedAt   time.Time `json:"createdAt" dynamodbav:"created_at"`
}

// TokenResponse is the data part of a successful token exchange or refresh.
type TokenResponse struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresIn   int64  `json:"expiresIn"`
}

// BaseResponse is the envelope every /api endpoint answers with.
type BaseResponse[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    *T     `json:"data,omitempty"`
}
