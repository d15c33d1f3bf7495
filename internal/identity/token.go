package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/linnemanlabs/watchpost/internal/alert"
	"github.com/oklog/ulid/v2"
)

const issuer = "watchpost"

var ErrInvalidToken = errors.New("invalid token")

// Claims are the JWT claims identifying an agent. Subject is the agent id.
type Claims struct {
	StationID string `json:"station_id"`
	jwt.RegisteredClaims
}

// Manager issues and verifies HS256 identity tokens.
type Manager struct {
	signingKey []byte
	ttl        time.Duration
	now        func() time.Time
}

// NewManager creates a Manager. Tokens it issues expire after ttl.
func NewManager(signingKey string, ttl time.Duration) *Manager {
	return &Manager{signingKey: []byte(signingKey), ttl: ttl, now: time.Now}
}

// Issue signs a token for id.
func (m *Manager) Issue(id Identity) (string, error) {
	if id.Station == "" || id.Agent == "" {
		return "", fmt.Errorf("issue token: station and agent are required")
	}
	now := m.now().UTC()
	claims := Claims{
		StationID: string(id.Station),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   string(id.Agent),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        ulid.Make().String(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.signingKey)
}

// Verify parses and validates a token and returns the identity it carries.
func (m *Manager) Verify(token string) (Identity, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.StationID == "" || claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing station or agent", ErrInvalidToken)
	}
	return Identity{
		Station: alert.StationID(claims.StationID),
		Agent:   alert.AgentID(claims.Subject),
		TokenID: claims.ID,
	}, nil
}
