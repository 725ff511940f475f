package auth

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/PASBarbari/Trascendence-sub000/internal/config"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMissingCredentials = errors.New("missing credentials")
)

// Identity is what a verified credential proves about a relay client.
type Identity struct {
	RoomID string
	PeerID string
}

// Verifier checks a credential for a specific room.
type Verifier interface {
	Verify(credential, roomID string) (Identity, error)
}

func NewVerifier(cfg config.RelayConfig) (Verifier, error) {
	switch cfg.AuthMode {
	case config.AuthModeNone:
		return noneVerifier{}, nil
	case config.AuthModeJWT:
		return NewJWTVerifier(cfg.JWTSecret), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.AuthMode)
	}
}

type noneVerifier struct{}

func (noneVerifier) Verify(_, roomID string) (Identity, error) {
	return Identity{RoomID: roomID}, nil
}

// CredentialFromQuery extracts the credential a browser or peer passes in the
// WebSocket URL, where headers cannot be set.
func CredentialFromQuery(mode config.AuthMode, q url.Values) (string, error) {
	switch mode {
	case config.AuthModeNone:
		return "", nil
	case config.AuthModeJWT:
		if token := q.Get("token"); token != "" {
			return token, nil
		}
		return "", ErrMissingCredentials
	default:
		return "", fmt.Errorf("unsupported auth mode %q", mode)
	}
}
