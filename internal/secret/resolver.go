// Package secret resolves backend secrets from SSM Parameter Store in
// production and from environment variables in DEV_MODE.
package secret

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// minJWTSecretLen is the HS256 key size floor (256 bits).
const minJWTSecretLen = 32

// SSMClient is the subset of *ssm.Client methods used by SSMResolver.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Resolver retrieves secret values by parameter name.
type Resolver interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SSMResolver fetches SecureString parameters.
type SSMResolver struct {
	client SSMClient
}

func NewSSMResolver(client SSMClient) *SSMResolver {
	return &SSMResolver{client: client}
}

func (r *SSMResolver) GetSecret(ctx context.Context, name string) (string, error) {
	out, err := r.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("ssm get parameter %q: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("ssm parameter %q has no value", name)
	}
	return *out.Parameter.Value, nil
}

// EnvResolver maps a parameter path to an environment variable by taking the
// last segment, uppercasing it and replacing hyphens with underscores:
// "/secondbrain/jwt-secret" reads JWT_SECRET.
type EnvResolver struct{}

func NewEnvResolver() *EnvResolver {
	return &EnvResolver{}
}

func (r *EnvResolver) GetSecret(_ context.Context, name string) (string, error) {
	envName := paramNameToEnvVar(name)
	val := os.Getenv(envName)
	if val == "" {
		return "", fmt.Errorf("environment variable %q (from param %q) is not set", envName, name)
	}
	return val, nil
}

func paramNameToEnvVar(name string) string {
	parts := strings.Split(name, "/")
	last := parts[len(parts)-1]
	return strings.ToUpper(strings.ReplaceAll(last, "-", "_"))
}

// Params names the parameters the backend needs.
type Params struct {
	JWTSecret          string
	GoogleClientSecret string
	APIGatewaySecret   string // optional
}

// Bundle holds resolved secret values.
type Bundle struct {
	JWTSecret          []byte
	GoogleClientSecret string
	APIGatewaySecret   string
}

// Load resolves every parameter in p. The JWT secret must be at least 32
// bytes; the API Gateway secret may be absent.
func Load(ctx context.Context, r Resolver, p Params) (*Bundle, error) {
	jwtSecret, err := r.GetSecret(ctx, p.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("jwt secret: %w", err)
	}
	if len(jwtSecret) < minJWTSecretLen {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes, got %d", minJWTSecretLen, len(jwtSecret))
	}

	clientSecret, err := r.GetSecret(ctx, p.GoogleClientSecret)
	if err != nil {
		return nil, fmt.Errorf("google client secret: %w", err)
	}

	b := &Bundle{
		JWTSecret:          []byte(jwtSecret),
		GoogleClientSecret: clientSecret,
	}
	if p.APIGatewaySecret != "" {
		// Not configured everywhere; a missing value disables the check.
		if v, err := r.GetSecret(ctx, p.APIGatewaySecret); err == nil {
			b.APIGatewaySecret = v
		}
	}
	return b, nil
}
