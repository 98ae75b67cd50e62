// Package crypto protects the Google refresh tokens stored in user profiles.
package crypto

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// Encryptor encrypts and decrypts short secrets.
type Encryptor interface {
	Encrypt(ctx context.Context, plaintext string) (string, error)
	Decrypt(ctx context.Context, ciphertext string) (string, error)
}

// KMSClient is the subset of *kms.Client used by KMSService.
type KMSClient interface {
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// KMSService implements Encryptor with an AWS KMS key.
type KMSService struct {
	client KMSClient
	keyID  string
}

// NewKMSService creates a KMSService.
// keyID can be a key ID, key ARN, or alias name (e.g. "alias/secondbrain-token-key").
func NewKMSService(client KMSClient, keyID string) *KMSService {
	return &KMSService{
		client: client,
		keyID:  keyID,
	}
}

// Encrypt returns the base64 encoded ciphertext of plaintext.
func (s *KMSService) Encrypt(ctx context.Context, plaintext string) (string, error) {
	result, err := s.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(s.keyID),
		Plaintext: []byte(plaintext),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encrypt data: %w", err)
	}

	return base64.StdEncoding.EncodeToString(result.CiphertextBlob), nil
}

// Decrypt reverses Encrypt.
func (s *KMSService) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	result, err := s.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: decoded,
		KeyId:          aws.String(s.keyID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to decrypt data: %w", err)
	}

	return string(result.Plaintext), nil
}

const localPrefix = "local:"

// LocalEncryptor is used in DEV_MODE where no KMS key exists. It only
// encodes; nothing it produces is secret.
type LocalEncryptor struct{}

func NewLocalEncryptor() *LocalEncryptor {
	return &LocalEncryptor{}
}

func (LocalEncryptor) Encrypt(_ context.Context, plaintext string) (string, error) {
	return localPrefix + base64.StdEncoding.EncodeToString([]byte(plaintext)), nil
}

func (LocalEncryptor) Decrypt(_ context.Context, ciphertext string) (string, error) {
	encoded, ok := strings.CutPrefix(ciphertext, localPrefix)
	if !ok {
		return "", fmt.Errorf("ciphertext was not produced by the local encryptor")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	return string(raw), nil
}
