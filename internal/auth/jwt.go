package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrUnsupportedJWT = errors.New("unsupported jwt")

const (
	DefaultRoomTokenTTL = time.Hour
	// maxJWTLen bounds the work done on attacker-supplied query strings.
	maxJWTLen   = 8 * 1024
	tokenIssuer = "pong-signal-relay"
)

// RoomClaims admit one peer to one room. The peer id travels as the subject.
type RoomClaims struct {
	Room string `json:"room"`
	jwt.RegisteredClaims
}

// IssueRoomToken mints an HS256 token for peerID in roomID.
func IssueRoomToken(secret, roomID, peerID string, now time.Time, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("auth: empty jwt secret")
	}
	if roomID == "" {
		return "", errors.New("auth: empty room id")
	}
	if ttl <= 0 {
		ttl = DefaultRoomTokenTTL
	}
	claims := RoomClaims{
		Room: roomID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   peerID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

type jwtVerifier struct {
	secret []byte
	now    func() time.Time
}

func NewJWTVerifier(secret string) Verifier {
	return jwtVerifier{
		secret: []byte(secret),
		now:    time.Now,
	}
}

func (v jwtVerifier) Verify(token, roomID string) (Identity, error) {
	claims, err := v.parse(token)
	if err != nil {
		return Identity{}, err
	}
	if claims.Room != roomID {
		return Identity{}, fmt.Errorf("%w: token is for another room", ErrInvalidCredentials)
	}
	return Identity{RoomID: claims.Room, PeerID: claims.Subject}, nil
}

func (v jwtVerifier) parse(token string) (*RoomClaims, error) {
	if token == "" {
		return nil, ErrMissingCredentials
	}
	if len(token) > maxJWTLen {
		return nil, ErrInvalidCredentials
	}

	claims := &RoomClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	switch {
	case err != nil && otherAlgorithm(parsed):
		return nil, ErrUnsupportedJWT
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	case !parsed.Valid:
		return nil, ErrInvalidCredentials
	}
	if claims.Room == "" {
		return nil, fmt.Errorf("%w: missing room claim", ErrInvalidCredentials)
	}
	return claims, nil
}

// otherAlgorithm reports whether t parsed far enough to name an algorithm
// other than HS256.
func otherAlgorithm(t *jwt.Token) bool {
	if t == nil {
		return false
	}
	alg, _ := t.Header["alg"].(string)
	return alg != "" && alg != jwt.SigningMethodHS256.Alg()
}
