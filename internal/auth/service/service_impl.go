package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/smallbiznis/balancebook/internal/auth/domain"
	"github.com/smallbiznis/balancebook/internal/clock"
	"github.com/smallbiznis/balancebook/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const bearerPrefix = "bearer "

// DevActorEmail is the identity used for every request while auth is
// disabled.
const DevActorEmail = "dev@localhost"

// Claims is the token payload. Email falls back to the subject.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type Params struct {
	fx.In

	Cfg   config.Config
	Log   *zap.Logger
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	cfg    config.Config
	secret []byte
	log    *zap.Logger
	clock  clock.Clock
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		cfg:    p.Cfg,
		secret: []byte(p.Cfg.AuthJWTSecret),
		log:    p.Log.Named("auth.service"),
		clock:  clk,
	}
}

func (s *Service) Authenticate(ctx context.Context, header string) (domain.Actor, error) {
	if s.cfg.AuthDisabled {
		return domain.Actor{Email: DevActorEmail, Role: domain.RoleAdmin}, nil
	}
	if len(s.secret) == 0 {
		return domain.Actor{}, domain.ErrNotConfigured
	}

	header = strings.TrimSpace(header)
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return domain.Actor{}, domain.ErrMissingToken
	}
	raw := strings.TrimSpace(header[len(bearerPrefix):])
	if raw == "" {
		return domain.Actor{}, domain.ErrMissingToken
	}

	claims, err := s.parse(raw)
	if err != nil {
		return domain.Actor{}, err
	}

	email := strings.ToLower(strings.TrimSpace(claims.Email))
	if email == "" {
		email = strings.ToLower(strings.TrimSpace(claims.Subject))
	}
	if email == "" {
		return domain.Actor{}, domain.ErrInvalidToken
	}
	if !s.cfg.IsAuthorized(email) {
		s.log.Info("rejected unauthorized email", zap.String("email", email))
		return domain.Actor{}, domain.ErrNotAuthorized
	}

	role := domain.RoleStaff
	if s.cfg.IsAdmin(email) {
		role = domain.RoleAdmin
	}
	return domain.Actor{Email: email, Role: role}, nil
}

func (s *Service) parse(raw string) (*Claims, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &Claims{}
	_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		var verr *jwt.ValidationError
		if errors.As(err, &verr) && verr.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, domain.ErrTokenExpired
		}
		return nil, domain.ErrInvalidToken
	}
	if s.cfg.AuthJWTIssuer != "" && !claims.VerifyIssuer(s.cfg.AuthJWTIssuer, true) {
		return nil, domain.ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) Issue(email string, ttl time.Duration) (string, error) {
	if len(s.secret) == 0 {
		return "", domain.ErrNotConfigured
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", domain.ErrInvalidToken
	}
	now := s.clock.Now()
	claims := &Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			Issuer:    s.cfg.AuthJWTIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
