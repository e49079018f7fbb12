package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"qms/walkin-queue/internal/access"
	"qms/walkin-queue/internal/clock"
	"qms/walkin-queue/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the bearer token payload; the subject carries the user id.
type Claims struct {
	Role        string `json:"role"`
	WindowLabel string `json:"window_label,omitempty"`
	QueueType   string `json:"operator_queue_type,omitempty"`
	jwt.RegisteredClaims
}

// Provider mints and verifies HS256 access tokens.
type Provider struct {
	secret []byte
	issuer string
	ttl    time.Duration
	clock  clock.Clock
}

func NewProvider(secret, issuer string, ttl time.Duration, clk clock.Clock) (*Provider, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Provider{secret: []byte(secret), issuer: issuer, ttl: ttl, clock: clk}, nil
}

func (p *Provider) Mint(pr access.Principal) (string, time.Time, error) {
	if pr.UserID == "" {
		return "", time.Time{}, errors.New("user id is required")
	}
	if !access.KnownRole(pr.Role) {
		return "", time.Time{}, fmt.Errorf("unknown role %q", pr.Role)
	}
	now := p.clock.Now()
	exp := now.Add(p.ttl)
	claims := Claims{
		Role:        pr.Role,
		WindowLabel: pr.WindowLabel,
		QueueType:   string(pr.QueueType),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   pr.UserID,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (p *Provider) Verify(raw string) (access.Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.clock.Now),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, opts...)
	if err != nil {
		return access.Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return access.Principal{}, ErrInvalidToken
	}
	if claims.Subject == "" || !access.KnownRole(claims.Role) {
		return access.Principal{}, fmt.Errorf("%w: missing subject or role", ErrInvalidToken)
	}

	pr := access.Principal{
		UserID:      claims.Subject,
		Role:        claims.Role,
		WindowLabel: claims.WindowLabel,
	}
	if claims.QueueType != "" {
		qt, ok := models.ParseQueueType(claims.QueueType)
		if !ok {
			return access.Principal{}, fmt.Errorf("%w: unknown lane %q", ErrInvalidToken, claims.QueueType)
		}
		pr.QueueType = qt
	}
	return pr, nil
}
