package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/jun/secondbrain/internal/auth"
	"github.com/jun/secondbrain/internal/authcode"
	"github.com/jun/secondbrain/internal/config"
	"github.com/jun/secondbrain/internal/crypto"
	"github.com/jun/secondbrain/internal/draftstore"
	"github.com/jun/secondbrain/internal/handler"
	"github.com/jun/secondbrain/internal/logging"
	"github.com/jun/secondbrain/internal/markdown"
	"github.com/jun/secondbrain/internal/metrics"
	"github.com/jun/secondbrain/internal/notestore"
	"github.com/jun/secondbrain/internal/secret"
)

// App holds the dependencies for the Lambda function.
type App struct {
	authHandler  *handler.AuthHandler
	draftHandler *handler.DraftHandler
	noteHandler  *handler.NoteHandler

	logger           *zap.Logger
	frontendURL      string
	devMode          bool
	apiGatewaySecret string

	closers []func()
}

// NewApp initializes the application dependencies.
func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	// DEV_MODE without a local AWS endpoint (LocalStack) keeps tables in memory.
	var dynamoClient *dynamodb.Client
	if !cfg.DevMode || awsCfg.BaseEndpoint != nil {
		dynamoClient = dynamodb.NewFromConfig(awsCfg)
	} else {
		logger.Info("using in-memory tables (DEV_MODE=true, no AWS endpoint)")
	}

	var encryptor crypto.Encryptor
	var resolver secret.Resolver
	if cfg.DevMode {
		encryptor = crypto.NewLocalEncryptor()
		resolver = secret.NewEnvResolver()
		logger.Info("using local encryptor and env secrets (DEV_MODE=true)")
	} else {
		encryptor = crypto.NewKMSService(kms.NewFromConfig(awsCfg), cfg.KMSKeyID)
		resolver = secret.NewSSMResolver(ssm.NewFromConfig(awsCfg))
	}

	secrets, err := secret.Load(ctx, resolver, secret.Params{
		JWTSecret:          cfg.JWTSecretParam,
		GoogleClientSecret: cfg.GoogleClientSecretParam,
		APIGatewaySecret:   cfg.APIGatewaySecretParam,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve secrets: %w", err)
	}

	a := &App{
		logger:           logger,
		frontendURL:      cfg.FrontendURL,
		devMode:          cfg.DevMode,
		apiGatewaySecret: secrets.APIGatewaySecret,
	}

	rdb := draftstore.Connect(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	a.closers = append(a.closers, func() { rdb.Close() })
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		a.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}

	renderer := markdown.NewRenderer()
	var notes notestore.Repository
	switch cfg.NoteStore {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		repo, err := notestore.NewPostgresRepository(ctx, pool, renderer)
		if err != nil {
			a.Close()
			return nil, err
		}
		notes = repo
	default:
		notes = notestore.NewDynamoRepository(dynamoClient, cfg.NotesTable, renderer)
	}

	var codes authcode.Store
	if dynamoClient != nil {
		codes = authcode.NewDynamoStore(dynamoClient, cfg.LoginCodesTable, cfg.LoginCodeTTL)
	} else {
		codes = authcode.NewMemoryStore(cfg.LoginCodeTTL)
	}

	oauthConfig := &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: secrets.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		Scopes: []string{
			"openid",
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		},
		Endpoint: google.Endpoint,
	}

	authService := auth.NewAuthService(oauthConfig, dynamoClient, cfg.UserTokensTable, encryptor)
	issuer := auth.NewIssuer(secrets.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	registry := auth.NewRefreshRegistry(rdb)
	drafts := draftstore.NewRedisStore(rdb, cfg.DraftTTL)

	a.authHandler = handler.NewAuthHandler(authService, authService, codes, issuer, registry, cfg.FrontendURL, cfg.DevMode)
	a.draftHandler = handler.NewDraftHandler(drafts, issuer)
	a.noteHandler = handler.NewNoteHandler(drafts, notes, issuer)

	logger.Info("application initialized",
		zap.Bool("dev_mode", cfg.DevMode),
		zap.String("note_store", cfg.NoteStore),
		zap.Bool("in_memory_tables", dynamoClient == nil),
	)
	return a, nil
}

// Close releases the Redis and Postgres connections.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// HandleRequest routes API Gateway requests to the appropriate handler.
func (a *App) HandleRequest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	method := req.HTTPMethod
	// Strip /api prefix if present (for CloudFront proxying)
	path := strings.TrimPrefix(req.Path, "/api")

	requestID := req.RequestContext.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	log := a.logger.With(zap.String("request_id", requestID), zap.String("method", method), zap.String("path", path))
	ctx = logging.ToContext(ctx, log)

	start := time.Now()
	route, resp := a.route(ctx, method, path, req)
	resp = a.corsResponse(resp)

	metrics.Requests.WithLabelValues(route, fmt.Sprint(resp.StatusCode)).Inc()
	log.Debug("request handled", zap.Int("status", resp.StatusCode), zap.Duration("duration", time.Since(start)))
	return resp, nil
}

func (a *App) route(ctx context.Context, method, path string, req events.APIGatewayProxyRequest) (string, events.APIGatewayProxyResponse) {
	// CORS Preflight
	if method == http.MethodOptions {
		return "preflight", events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}
	}

	// Only CloudFront knows the origin secret.
	if !a.devMode && !a.originVerified(req) {
		logging.FromContext(ctx).Warn("missing or invalid X-Origin-Verify header")
		return "forbidden", events.APIGatewayProxyResponse{
			StatusCode: http.StatusForbidden,
			Body:       "Forbidden: Access denied",
		}
	}

	if req.PathParameters == nil {
		req.PathParameters = make(map[string]string)
	}

	switch {
	case path == "/auth/login" && method == http.MethodGet:
		return "auth_login", must(ctx)(a.authHandler.Login(ctx, req))
	case path == "/auth/callback" && method == http.MethodGet:
		return "auth_callback", must(ctx)(a.authHandler.Callback(ctx, req))
	case path == "/auth/token" && method == http.MethodPost:
		return "auth_token", must(ctx)(a.authHandler.Token(ctx, req))
	case path == "/auth/refresh" && method == http.MethodPost:
		return "auth_refresh", must(ctx)(a.authHandler.Refresh(ctx, req))
	case path == "/auth/logout" && method == http.MethodPost:
		return "auth_logout", must(ctx)(a.authHandler.Logout(ctx, req))
	case path == "/users/me" && method == http.MethodGet:
		return "users_me", must(ctx)(a.authHandler.Me(ctx, req))
	case path == "/drafts" && method == http.MethodPost:
		return "drafts_save", must(ctx)(a.draftHandler.SaveDraft(ctx, req))
	}

	if id, ok := pathID(path, "/drafts/"); ok {
		req.PathParameters["id"] = id
		switch method {
		case http.MethodGet:
			return "drafts_get", must(ctx)(a.draftHandler.GetDraft(ctx, req))
		case http.MethodDelete:
			return "drafts_delete", must(ctx)(a.draftHandler.DeleteDraft(ctx, req))
		}
	}

	if id, ok := pathID(path, "/notes/from-draft/"); ok {
		if method == http.MethodPost {
			req.PathParameters["id"] = id
			return "notes_promote", must(ctx)(a.noteHandler.PromoteDraft(ctx, req))
		}
	} else if id, ok := pathID(path, "/notes/"); ok && method == http.MethodGet {
		req.PathParameters["id"] = id
		return "notes_get", must(ctx)(a.noteHandler.GetNote(ctx, req))
	}

	return "not_found", events.APIGatewayProxyResponse{
		StatusCode: http.StatusNotFound,
		Body:       fmt.Sprintf("Not Found: %s %s", method, path),
	}
}

// pathID extracts the single segment following prefix.
func pathID(path, prefix string) (string, bool) {
	id, ok := strings.CutPrefix(path, prefix)
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

func (a *App) originVerified(req events.APIGatewayProxyRequest) bool {
	for k, v := range req.Headers {
		if strings.EqualFold(k, "X-Origin-Verify") {
			return v == a.apiGatewaySecret
		}
	}
	return a.apiGatewaySecret == ""
}

// corsResponse adds CORS headers to an API Gateway response.
func (a *App) corsResponse(resp events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	resp.Headers["Access-Control-Allow-Origin"] = a.frontendURL
	resp.Headers["Access-Control-Allow-Credentials"] = "true"
	resp.Headers["Access-Control-Allow-Methods"] = "GET,POST,DELETE,OPTIONS"
	resp.Headers["Access-Control-Allow-Headers"] = "Content-Type,Authorization"
	return resp
}

// must unwraps a handler response, turning an error into a 500.
func must(ctx context.Context) func(events.APIGatewayProxyResponse, error) events.APIGatewayProxyResponse {
	return func(resp events.APIGatewayProxyResponse, err error) events.APIGatewayProxyResponse {
		if err != nil {
			logging.FromContext(ctx).Error("handler error", zap.Error(err))
			return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Internal Server Error"}
		}
		return resp
	}
}
