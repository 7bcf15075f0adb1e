package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"comedores/internal/logger"
	"comedores/internal/models"
	"comedores/internal/repositories"
	"comedores/internal/utils"
)

type Claims struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

type AuthConfig struct {
	Secret     []byte
	TokenTTL   time.Duration
	BcryptCost int
}

type AuthService struct {
	store repositories.AccountStore
	clock utils.Clock
	cfg   AuthConfig
	log   *zap.Logger
}

type LoginResult struct {
	User          *models.User
	AccessToken   string
	ExpiresAt     time.Time
	EmailVerified bool
}

func NewAuthService(store repositories.AccountStore, clock utils.Clock, cfg AuthConfig, log *zap.Logger) *AuthService {
	if clock == nil {
		clock = utils.RealClock{}
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 15 * time.Minute
	}
	return &AuthService{store: store, clock: clock, cfg: cfg, log: log.Named("auth")}
}

func (s *AuthService) HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("bcrypt generate: %w", err)
	}
	return string(b), nil
}

func (s *AuthService) CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func (s *AuthService) IssueAccessToken(user *models.User) (string, time.Time, error) {
	now := s.clock.Now()
	exp := now.Add(s.cfg.TokenTTL)
	claims := &Claims{
		UserID: user.ID,
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, exp, nil
}

func (s *AuthService) ParseAccessToken(raw string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	token, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return s.cfg.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("parse access token: invalid")
	}
	return claims, nil
}

// Login does not require a verified email; the response says whether it is.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = utils.NormalizeEmail(email)
	log := s.log.With(zap.String("op", "Login"), zap.String("email", logger.MaskEmail(email)))

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		log.Error("user lookup failed", zap.Error(err))
		return nil, fmt.Errorf("login: %w", err)
	}
	if user == nil || !s.CheckPassword(user.PasswordHash, password) {
		log.Info("invalid credentials")
		return nil, ErrInvalidCredentials
	}

	v, err := s.store.GetVerification(ctx, user.ID)
	if err != nil {
		log.Error("verification lookup failed", zap.Error(err))
		return nil, fmt.Errorf("login: %w", err)
	}

	token, exp, err := s.IssueAccessToken(user)
	if err != nil {
		log.Error("token issue failed", zap.Error(err))
		return nil, err
	}
	verified := v != nil && v.EmailVerified
	log.Info("login ok", zap.Int64("user_id", user.ID), zap.Bool("email_verified", verified))
	return &LoginResult{User: user, AccessToken: token, ExpiresAt: exp, EmailVerified: verified}, nil
}
