package service

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"log/slog"
	"regexp"
	"strings"

	"github.com/mintair/mintair-cloud/internal/apperror"
	"github.com/mintair/mintair-cloud/internal/model"
	"github.com/mintair/mintair-cloud/internal/repository"
)

// publicKeyPattern accepts OpenSSH public keys for the algorithms the fleet
// supports: type, base64 blob, optional comment.
var publicKeyPattern = regexp.MustCompile(
	`^(ssh-(rsa|ed25519)|ecdsa-sha2-nistp(256|384|521))\s+[A-Za-z0-9+/=]+(?:\s+.+)?$`)

// MaxSSHKeyNameLength bounds key display names.
const MaxSSHKeyNameLength = 64

// SSHKeyService manages uploaded public keys.
type SSHKeyService struct {
	keys   repository.SSHKeyRepository
	logger *slog.Logger
}

func NewSSHKeyService(keys repository.SSHKeyRepository, logger *slog.Logger) *SSHKeyService {
	return &SSHKeyService{keys: keys, logger: logger}
}

// fingerprint computes the OpenSSH-style SHA256 fingerprint of the key blob.
func fingerprint(publicKey string) (string, error) {
	fields := strings.Fields(publicKey)
	if len(fields) < 2 {
		return "", apperror.ValidationFailed("publicKey", "This does not look like an OpenSSH public key.")
	}
	blob, err := base64.StdEncoding.DecodeString(fields[1])
	if err != nil {
		return "", apperror.ValidationFailed("publicKey", "The key material is not valid base64.")
	}
	sum := sha256.Sum256(blob)
	return "SHA256:" + strings.TrimRight(base64.StdEncoding.EncodeToString(sum[:]), "="), nil
}

// Add validates and stores a public key. The same key (by fingerprint) can
// only be added once per user.
func (s *SSHKeyService) Add(ctx context.Context, userID, name, publicKey string) (*model.SSHKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperror.ValidationFailed("name", "Key name is required.")
	}
	if len(name) > MaxSSHKeyNameLength {
		return nil, apperror.ValidationFailed("name", "Key name is too long.")
	}

	publicKey = strings.TrimSpace(publicKey)
	if !publicKeyPattern.MatchString(publicKey) {
		return nil, apperror.ValidationFailed("publicKey",
			"Supported key types are ssh-rsa, ssh-ed25519, and ecdsa-sha2-nistp256/384/521.")
	}

	fp, err := fingerprint(publicKey)
	if err != nil {
		return nil, err
	}

	exists, err := s.keys.SSHKeyFingerprintExists(ctx, userID, fp)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperror.Conflict("You have already added this SSH key.")
	}

	key := &model.SSHKey{
		UserID:      userID,
		Name:        name,
		PublicKey:   publicKey,
		Fingerprint: fp,
	}
	if err := s.keys.CreateSSHKey(ctx, key); err != nil {
		return nil, err
	}

	s.logger.Info("ssh key added",
		slog.String("user_id", userID), slog.String("fingerprint", fp))
	return key, nil
}

func (s *SSHKeyService) List(ctx context.Context, userID string) ([]*model.SSHKey, error) {
	return s.keys.ListSSHKeys(ctx, userID)
}

func (s *SSHKeyService) Get(ctx context.Context, userID, id string) (*model.SSHKey, error) {
	return s.keys.GetSSHKey(ctx, userID, id)
}

// Rename changes a key's display name. The key material is immutable;
// replacing it means deleting and re-adding.
func (s *SSHKeyService) Rename(ctx context.Context, userID, id, name string) (*model.SSHKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperror.ValidationFailed("name", "Key name is required.")
	}
	if len(name) > MaxSSHKeyNameLength {
		return nil, apperror.ValidationFailed("name", "Key name is too long.")
	}
	if err := s.keys.RenameSSHKey(ctx, userID, id, name); err != nil {
		return nil, err
	}
	return s.keys.GetSSHKey(ctx, userID, id)
}

// Delete removes a key. Instances that referenced it keep running; the
// database nulls their reference.
func (s *SSHKeyService) Delete(ctx context.Context, userID, id string) error {
	return s.keys.DeleteSSHKey(ctx, userID, id)
}
