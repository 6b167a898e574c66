package relay

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tutorsync/pkg/types"
)

// ServiceRole marks backend tokens allowed to publish events.
const ServiceRole types.Role = "SERVICE"

// Claims is the access token body issued by the auth service.
type Claims struct {
	UserID       string     `json:"userId"`
	Username     string     `json:"username"`
	FirstName    string     `json:"firstName"`
	LastName     string     `json:"lastName"`
	Role         types.Role `json:"role"`
	UniversityID string     `json:"universityId,omitempty"`
	jwt.RegisteredClaims
}

// User converts the claims into the profile attached to a connection.
func (c *Claims) User() *types.User {
	return &types.User{
		ID:           c.UserID,
		Username:     c.Username,
		FirstName:    c.FirstName,
		LastName:     c.LastName,
		Role:         c.Role,
		UniversityID: c.UniversityID,
	}
}

// Authenticator verifies HS256 access tokens.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Verify checks signature and expiry and returns the token's user.
func (a *Authenticator) Verify(tokenString string) (*types.User, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims.User(), nil
}

// Issue signs a token for user valid for ttl. The relay never issues
// tokens to clients; this serves tooling and tests.
func (a *Authenticator) Issue(user types.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:       user.ID,
		Username:     user.Username,
		FirstName:    user.FirstName,
		LastName:     user.LastName,
		Role:         user.Role,
		UniversityID: user.UniversityID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   user.ID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// IssueService signs a token the backend presents to publish events.
func (a *Authenticator) IssueService(name string, ttl time.Duration) (string, error) {
	return a.Issue(types.User{ID: name, Username: name, Role: ServiceRole}, ttl)
}

// authFailureMessage is the authStatus error text for err. Clients key
// their refresh logic on these exact strings.
func authFailureMessage(err error) string {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return MsgTokenExpired
	case errors.Is(err, ErrAuthTimeout):
		return MsgAuthTimeout
	default:
		return MsgInvalidToken
	}
}
