package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"remoteauth/pkg/oauth"
)

// DefaultStorageDir is the default credentials root relative to the home directory.
const DefaultStorageDir = ".config/remoteauth/credentials"

const (
	dirMode  fs.FileMode = 0o700
	fileMode fs.FileMode = 0o600
)

// FileStore keeps credentials as files under {root}/{serverID}/.
//
// SECURITY: This store handles sensitive OAuth credentials.
//   - Partition directories are created with 0700 permissions
//   - Records are written with 0600 permissions
//   - Token, secret and verifier values are NEVER logged
//   - Writes go to a temp file that is renamed into place, so readers in this
//     or another process see either the old or the new record
type FileStore struct {
	// mu serializes writers within the process; rename handles the rest.
	mu     sync.Mutex
	root   string
	logger *slog.Logger
}

var _ Store = (*FileStore)(nil)

// FileStoreConfig configures the file store.
type FileStoreConfig struct {
	// Root is the credentials root. Defaults to ~/.config/remoteauth/credentials.
	Root string

	// Logger receives audit records. Defaults to slog.Default().
	Logger *slog.Logger
}

// NewFileStore creates a file store. The root is created lazily on first write.
func NewFileStore(cfg FileStoreConfig) (*FileStore, error) {
	root := cfg.Root
	if root == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		root = filepath.Join(homeDir, DefaultStorageDir)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &FileStore{root: root, logger: logger}, nil
}

// Root returns the credentials root directory.
func (s *FileStore) Root() string {
	return s.root
}

// PartitionDir returns the directory holding the records of serverID.
func (s *FileStore) PartitionDir(serverID string) string {
	return filepath.Join(s.root, serverID)
}

// Tokens returns the stored token set, or nil when there is none.
func (s *FileStore) Tokens(_ context.Context, serverID string) (*oauth.TokenSet, error) {
	var tokens oauth.TokenSet
	found, err := s.readJSON(serverID, RecordTokens, &tokens)
	if err != nil || !found {
		return nil, err
	}
	return &tokens, nil
}

// SaveTokens persists the token set.
func (s *FileStore) SaveTokens(_ context.Context, serverID string, tokens *oauth.TokenSet) error {
	if tokens == nil {
		return storageError("save", RecordTokens, errors.New("nil token set"))
	}
	if err := s.writeJSON(serverID, RecordTokens, tokens); err != nil {
		return err
	}
	s.logger.Info("SECURITY_AUDIT: OAuth tokens stored",
		"event", "tokens_stored",
		"server_id", serverID,
		"expires_at", tokens.ExpiresAt,
		"has_refresh_token", tokens.RefreshToken != "")
	return nil
}

// DeleteTokens removes the token set.
func (s *FileStore) DeleteTokens(_ context.Context, serverID string) error {
	return s.remove(serverID, RecordTokens)
}

// ClientInformation returns the stored client identity, or nil when there is none.
func (s *FileStore) ClientInformation(_ context.Context, serverID string) (*oauth.ClientInformation, error) {
	var info oauth.ClientInformation
	found, err := s.readJSON(serverID, RecordClient, &info)
	if err != nil || !found {
		return nil, err
	}
	return &info, nil
}

// SaveClientInformation persists the client identity.
func (s *FileStore) SaveClientInformation(_ context.Context, serverID string, info *oauth.ClientInformation) error {
	if info == nil {
		return storageError("save", RecordClient, errors.New("nil client information"))
	}
	if err := s.writeJSON(serverID, RecordClient, info); err != nil {
		return err
	}
	s.logger.Info("SECURITY_AUDIT: OAuth client information stored",
		"event", "client_stored",
		"server_id", serverID,
		"client_id", info.ClientID,
		"has_client_secret", info.ClientSecret != "")
	return nil
}

// DeleteClientInformation removes the client identity.
func (s *FileStore) DeleteClientInformation(_ context.Context, serverID string) error {
	return s.remove(serverID, RecordClient)
}

// CodeVerifier returns the stored PKCE verifier, or "" when there is none.
func (s *FileStore) CodeVerifier(_ context.Context, serverID string) (string, error) {
	data, err := s.read(serverID, RecordVerifier)
	if err != nil || data == nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// SaveCodeVerifier persists the PKCE verifier.
func (s *FileStore) SaveCodeVerifier(_ context.Context, serverID string, verifier string) error {
	if verifier == "" {
		return storageError("save", RecordVerifier, errors.New("empty code verifier"))
	}
	if err := s.write(serverID, RecordVerifier, []byte(verifier)); err != nil {
		return err
	}
	s.logger.Debug("SECURITY_AUDIT: PKCE verifier stored",
		"event", "verifier_stored",
		"server_id", serverID)
	return nil
}

// DeleteCodeVerifier removes the PKCE verifier.
func (s *FileStore) DeleteCodeVerifier(_ context.Context, serverID string) error {
	return s.remove(serverID, RecordVerifier)
}

func (s *FileStore) recordPath(serverID string, kind RecordKind) string {
	return filepath.Join(s.root, serverID, kind.FileName())
}

// read returns nil data and a nil error when the record is absent.
func (s *FileStore) read(serverID string, kind RecordKind) ([]byte, error) {
	if err := validateServerID(serverID); err != nil {
		return nil, storageError("read", kind, err)
	}

	// #nosec G304 -- path is built from a validated server id and a fixed file name
	data, err := os.ReadFile(s.recordPath(serverID, kind))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("read", kind, err)
	}
	return data, nil
}

func (s *FileStore) readJSON(serverID string, kind RecordKind, v any) (bool, error) {
	data, err := s.read(serverID, kind)
	if err != nil || data == nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, storageError("decode", kind, err)
	}
	return true, nil
}

func (s *FileStore) writeJSON(serverID string, kind RecordKind, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return storageError("encode", kind, err)
	}
	return s.write(serverID, kind, data)
}

// write replaces the record atomically: temp file in the partition, fsync,
// rename over the target.
func (s *FileStore) write(serverID string, kind RecordKind, data []byte) error {
	if err := validateServerID(serverID); err != nil {
		return storageError("write", kind, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.PartitionDir(serverID)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return storageError("write", kind, fmt.Errorf("failed to create partition: %w", err))
	}

	tmp, err := os.CreateTemp(dir, "."+kind.FileName()+".tmp-*")
	if err != nil {
		return storageError("write", kind, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(fileMode); err != nil {
		_ = tmp.Close()
		return storageError("write", kind, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return storageError("write", kind, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return storageError("write", kind, err)
	}
	if err := tmp.Close(); err != nil {
		return storageError("write", kind, err)
	}
	if err := os.Rename(tmpName, s.recordPath(serverID, kind)); err != nil {
		s.logger.Warn("SECURITY_AUDIT: OAuth credential write failed",
			"event", "record_write_failed",
			"server_id", serverID,
			"record", kind.String(),
			"error", err.Error())
		return storageError("write", kind, err)
	}
	committed = true
	return nil
}

func (s *FileStore) remove(serverID string, kind RecordKind) error {
	if err := validateServerID(serverID); err != nil {
		return storageError("delete", kind, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.recordPath(serverID, kind))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		s.logger.Warn("SECURITY_AUDIT: OAuth credential deletion failed",
			"event", "record_delete_failed",
			"server_id", serverID,
			"record", kind.String(),
			"error", err.Error())
		return storageError("delete", kind, err)
	}

	s.logger.Info("SECURITY_AUDIT: OAuth credential deleted",
		"event", "record_deleted",
		"server_id", serverID,
		"record", kind.String())
	return nil
}
