package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"remoteauth/pkg/oauth"
)

// RecordKind identifies one of the three independent records kept per server.
type RecordKind int

const (
	// RecordTokens is the persisted token set.
	RecordTokens RecordKind = iota
	// RecordClient is the static or registered client identity.
	RecordClient
	// RecordVerifier is the PKCE verifier of the in-flight attempt.
	RecordVerifier
)

// String returns the record name used in logs.
func (k RecordKind) String() string {
	switch k {
	case RecordTokens:
		return "tokens"
	case RecordClient:
		return "client_info"
	case RecordVerifier:
		return "code_verifier"
	default:
		return "unknown"
	}
}

// FileName returns the file holding the record inside a server partition.
func (k RecordKind) FileName() string {
	switch k {
	case RecordTokens:
		return "tokens.json"
	case RecordClient:
		return "client_info.json"
	case RecordVerifier:
		return "code_verifier.txt"
	default:
		return ""
	}
}

// RecordKindForFile maps a partition file name back to its record kind.
func RecordKindForFile(name string) (RecordKind, bool) {
	for _, k := range []RecordKind{RecordTokens, RecordClient, RecordVerifier} {
		if k.FileName() == name {
			return k, true
		}
	}
	return 0, false
}

// Store persists credentials per server identity.
//
// Getters return a nil value and a nil error when the record does not exist;
// a missing record is the normal first-run state. Savers overwrite atomically.
// Deleters are idempotent.
type Store interface {
	Tokens(ctx context.Context, serverID string) (*oauth.TokenSet, error)
	SaveTokens(ctx context.Context, serverID string, tokens *oauth.TokenSet) error
	DeleteTokens(ctx context.Context, serverID string) error

	ClientInformation(ctx context.Context, serverID string) (*oauth.ClientInformation, error)
	SaveClientInformation(ctx context.Context, serverID string, info *oauth.ClientInformation) error
	DeleteClientInformation(ctx context.Context, serverID string) error

	CodeVerifier(ctx context.Context, serverID string) (string, error)
	SaveCodeVerifier(ctx context.Context, serverID string, verifier string) error
	DeleteCodeVerifier(ctx context.Context, serverID string) error
}

// storageError wraps err as a classified storage failure.
func storageError(op string, kind RecordKind, err error) error {
	return oauth.NewError(oauth.KindStorage, fmt.Sprintf("%s %s", op, kind), err)
}

// validateServerID rejects ids that could escape the storage root.
func validateServerID(serverID string) error {
	if serverID == "" {
		return errors.New("empty server id")
	}
	if strings.ContainsAny(serverID, `/\`) || serverID == "." || serverID == ".." {
		return fmt.Errorf("invalid server id %q", serverID)
	}
	return nil
}
