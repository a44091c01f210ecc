package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"disputedesk/ticket"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

var (
	// ErrInvalidToken signals a token that is malformed, expired or badly signed.
	ErrInvalidToken = errors.New("identity: invalid token")
	// ErrMissingSecret signals an issuer built without a signing key.
	ErrMissingSecret = errors.New("identity: jwt secret is empty")
)

// DefaultTTL is how long issued tokens stay valid.
const DefaultTTL = 24 * time.Hour

// Issuer signs and verifies the HS256 tokens that carry caller identity.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string) *Issuer {
	return &Issuer{
		secret: []byte(secret),
		ttl:    DefaultTTL,
		now:    time.Now,
	}
}

func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

func (i *Issuer) WithTTL(ttl time.Duration) *Issuer {
	if ttl > 0 {
		i.ttl = ttl
	}
	return i
}

// Issue creates a token for userID. Admin identities carry role "admin".
func (i *Issuer) Issue(userID string, admin bool) (string, error) {
	if len(i.secret) == 0 {
		return "", ErrMissingSecret
	}
	if userID == "" {
		return "", fmt.Errorf("identity: empty user id")
	}
	role := RoleUser
	if admin {
		role = RoleAdmin
	}
	now := i.now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"role":    string(role),
		"exp":     now.Add(i.ttl).Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("identity: sign token: %w", err)
	}
	return signed, nil
}

// Verify validates tokenString and returns the identity it carries.
func (i *Issuer) Verify(tokenString string) (ticket.Identity, error) {
	if len(i.secret) == 0 {
		return ticket.Identity{}, ErrMissingSecret
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		return ticket.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return ticket.Identity{}, ErrInvalidToken
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return ticket.Identity{}, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	roleStr, _ := claims["role"].(string)
	switch Role(roleStr) {
	case RoleUser, RoleAdmin:
	default:
		return ticket.Identity{}, fmt.Errorf("%w: invalid role %q", ErrInvalidToken, roleStr)
	}
	return ticket.Identity{ID: userID, Admin: Role(roleStr) == RoleAdmin}, nil
}
