package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/jun/secondbrain/internal/auth"
	"github.com/jun/secondbrain/internal/authcode"
	"github.com/jun/secondbrain/internal/logging"
	"github.com/jun/secondbrain/internal/metrics"
	"github.com/jun/secondbrain/internal/model"
)

const (
	refreshCookieName = "refreshToken"
	stateCookieName   = "oauth_state"
	stateCookieMaxAge = 10 * 60
)

// OAuthProvider is the Google side of the login flow.
type OAuthProvider interface {
	GenerateAuthURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error)
	FetchUserInfo(ctx context.Context, token *oauth2.Token) (*model.User, error)
}

// ProfileStore keeps user profiles.
type ProfileStore interface {
	SaveProfile(ctx context.Context, user *model.User, token *oauth2.Token) error
	GetProfile(ctx context.Context, userID string) (*model.UserToken, error)
}

// RefreshRegistry tracks live refresh tokens.
type RefreshRegistry interface {
	Register(ctx context.Context, userID, tokenID string, ttl time.Duration) error
	Validate(ctx context.Context, userID, tokenID string) error
	Revoke(ctx context.Context, userID, tokenID string) error
}

// AuthHandler serves /auth/* and /users/me.
type AuthHandler struct {
	oauth       OAuthProvider
	profiles    ProfileStore
	codes       authcode.Store
	issuer      *auth.Issuer
	registry    RefreshRegistry
	frontendURL string
	devMode     bool
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(oauth OAuthProvider, profiles ProfileStore, codes authcode.Store, issuer *auth.Issuer, registry RefreshRegistry, frontendURL string, devMode bool) *AuthHandler {
	return &AuthHandler{
		oauth:       oauth,
		profiles:    profiles,
		codes:       codes,
		issuer:      issuer,
		registry:    registry,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		devMode:     devMode,
	}
}

// Login starts the Google OAuth2 flow. The caller's redirect_uri travels in
// the state parameter; a nonce cookie binds the state to this browser.
func (h *AuthHandler) Login(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	redirectURI := req.QueryStringParameters["redirect_uri"]
	if redirectURI == "" {
		redirectURI = h.frontendURL + "/auth/callback"
	}
	if !h.allowedRedirect(redirectURI) {
		logging.FromContext(ctx).Warn("login rejected redirect_uri", zap.String("redirect_uri", redirectURI))
		return failure(http.StatusBadRequest, "redirect_uri is not allowed"), nil
	}

	nonce := uuid.NewString()
	state := nonce + "." + base64.RawURLEncoding.EncodeToString([]byte(redirectURI))

	return withCookies(redirect(h.oauth.GenerateAuthURL(state)), &http.Cookie{
		Name:     stateCookieName,
		Value:    nonce,
		Path:     "/",
		MaxAge:   stateCookieMaxAge,
		HttpOnly: true,
		Secure:   !h.devMode,
		SameSite: http.SameSiteLaxMode,
	}), nil
}

// Callback handles Google's redirect. On success it hands a one-time login
// code to the redirect_uri chosen at Login.
func (h *AuthHandler) Callback(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	log := logging.FromContext(ctx)

	redirectURI, ok := h.verifyState(req)
	if !ok {
		log.Warn("oauth callback with invalid state")
		return failure(http.StatusBadRequest, "Invalid state"), nil
	}
	clearState := &http.Cookie{Name: stateCookieName, Value: "", Path: "/", MaxAge: -1, HttpOnly: true, Secure: !h.devMode}

	if errParam := req.QueryStringParameters["error"]; errParam != "" {
		return withCookies(redirect(appendQuery(redirectURI, "error", errParam)), clearState), nil
	}

	code := req.QueryStringParameters["code"]
	if code == "" {
		return failure(http.StatusBadRequest, "Missing code"), nil
	}

	token, err := h.oauth.ExchangeCode(ctx, code)
	if err != nil {
		log.Error("exchange code failed", zap.Error(err))
		return failure(http.StatusInternalServerError, "Failed to exchange code"), nil
	}

	user, err := h.oauth.FetchUserInfo(ctx, token)
	if err != nil {
		log.Error("fetch userinfo failed", zap.Error(err))
		return failure(http.StatusInternalServerError, "Failed to get user info"), nil
	}

	// The login still works without a stored profile; /users/me then falls
	// back to the token claims.
	if err := h.profiles.SaveProfile(ctx, user, token); err != nil {
		log.Warn("save profile failed", zap.String("user_id", user.ID), zap.Error(err))
	}

	loginCode, err := h.codes.Issue(ctx, user.ID)
	if err != nil {
		log.Error("issue login code failed", zap.Error(err))
		return failure(http.StatusInternalServerError, "Failed to issue login code"), nil
	}

	log.Info("oauth login succeeded", zap.String("user_id", user.ID))
	return withCookies(redirect(appendQuery(redirectURI, "code", loginCode)), clearState), nil
}

// Token exchanges a one-time login code for an access token (body) and a
// refresh token (HttpOnly cookie).
func (h *AuthHandler) Token(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	log := logging.FromContext(ctx)

	userID, err := h.codes.Consume(ctx, req.QueryStringParameters["code"])
	if err != nil {
		if errors.Is(err, authcode.ErrInvalidCode) {
			return failure(http.StatusUnauthorized, "Invalid or expired code"), nil
		}
		log.Error("consume login code failed", zap.Error(err))
		return failure(http.StatusInternalServerError, "Failed to exchange code"), nil
	}

	user := &model.User{ID: userID}
	if p, err := h.profiles.GetProfile(ctx, userID); err == nil {
		user.Email, user.Name = p.Email, p.Name
	}

	access, err := h.issuer.IssueAccess(user)
	if err != nil {
		log.Error("issue access token failed", zap.Error(err))
		return failure(http.StatusInternalServerError, "Failed to issue token"), nil
	}
	refresh, tokenID, err := h.issuer.IssueRefresh(user)
	if err != nil {
		log.Error("issue refresh token failed", zap.Error(err))
		return failure(http.StatusInternalServerError, "Failed to issue token"), nil
	}
	if err := h.registry.Register(ctx, userID, tokenID, h.issuer.RefreshTTL()); err != nil {
		log.Error("register refresh token failed", zap.String("user_id", userID), zap.Error(err))
		return failure(http.StatusInternalServerError, "Failed to issue token"), nil
	}

	return withCookies(success(http.StatusOK, h.tokenResponse(access)), h.refreshCookie(refresh)), nil
}

// Refresh mints a new access token from the refresh cookie.
func (h *AuthHandler) Refresh(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	log := logging.FromContext(ctx)

	raw := getCookie(req, refreshCookieName)
	if raw == "" {
		metrics.TokenRefreshes.WithLabelValues("server", "error").Inc()
		return unauthorized(), nil
	}

	claims, err := h.issuer.Parse(raw, auth.TokenTypeRefresh)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("server", "error").Inc()
		log.Info("refresh with invalid token", zap.Error(err))
		return unauthorized(), nil
	}

	if err := h.registry.Validate(ctx, claims.Subject, claims.ID); err != nil {
		metrics.TokenRefreshes.WithLabelValues("server", "error").Inc()
		if !errors.Is(err, auth.ErrRefreshRevoked) {
			log.Error("validate refresh token failed", zap.Error(err))
			return failure(http.StatusInternalServerError, "Failed to refresh token"), nil
		}
		return unauthorized(), nil
	}

	access, err := h.issuer.IssueAccess(claims.User())
	if err != nil {
		log.Error("issue access token failed", zap.Error(err))
		return failure(http.StatusInternalServerError, "Failed to refresh token"), nil
	}

	metrics.TokenRefreshes.WithLabelValues("server", "success").Inc()
	return success(http.StatusOK, h.tokenResponse(access)), nil
}

// Logout revokes the refresh token, if any, and clears the cookie. It always
// answers 200 so a client can finish its local cleanup.
func (h *AuthHandler) Logout(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if raw := getCookie(req, refreshCookieName); raw != "" {
		if claims, err := h.issuer.Parse(raw, auth.TokenTypeRefresh); err == nil {
			if err := h.registry.Revoke(ctx, claims.Subject, claims.ID); err != nil {
				logging.FromContext(ctx).Warn("revoke refresh token failed", zap.Error(err))
			}
		}
	}

	cleared := h.refreshCookie("")
	cleared.MaxAge = -1
	return withCookies(success[struct{}](http.StatusOK, nil), cleared), nil
}

// Me returns the caller's profile.
func (h *AuthHandler) Me(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	claims, err := Authenticate(req, h.issuer)
	if err != nil {
		return unauthorized(), nil
	}

	user := claims.User()
	profile, err := h.profiles.GetProfile(ctx, claims.Subject)
	switch {
	case err == nil:
		user.Email, user.Name = profile.Email, profile.Name
	case errors.Is(err, auth.ErrUserNotFound):
	default:
		logging.FromContext(ctx).Error("get profile failed", zap.Error(err))
		return failure(http.StatusInternalServerError, "Failed to get user profile"), nil
	}

	return jsonResponse(http.StatusOK, user), nil
}

func (h *AuthHandler) tokenResponse(access string) *model.TokenResponse {
	return &model.TokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int64(h.issuer.AccessTTL().Seconds()),
	}
}

func (h *AuthHandler) refreshCookie(value string) *http.Cookie {
	// Production serves the frontend and API from different origins.
	sameSite := http.SameSiteNoneMode
	if h.devMode {
		sameSite = http.SameSiteLaxMode
	}
	return &http.Cookie{
		Name:     refreshCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(h.issuer.RefreshTTL().Seconds()),
		HttpOnly: true,
		Secure:   !h.devMode,
		SameSite: sameSite,
	}
}

func (h *AuthHandler) verifyState(req events.APIGatewayProxyRequest) (string, bool) {
	nonce, encoded, ok := strings.Cut(req.QueryStringParameters["state"], ".")
	if !ok || nonce == "" || nonce != getCookie(req, stateCookieName) {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", false
	}
	redirectURI := string(raw)
	return redirectURI, h.allowedRedirect(redirectURI)
}

// allowedRedirect accepts the frontend, loopback listeners (notectl) and
// extension identity redirects.
func (h *AuthHandler) allowedRedirect(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	if front, err := url.Parse(h.frontendURL); err == nil && u.Scheme == front.Scheme && u.Host == front.Host {
		return true
	}
	switch u.Hostname() {
	case "127.0.0.1", "localhost", "::1":
		return u.Scheme == "http"
	}
	return u.Scheme == "https" && strings.HasSuffix(u.Hostname(), ".chromiumapp.org")
}

func appendQuery(raw, key, value string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
