// Package services contains server-side business logic: accounts and access
// tokens in UserService, protected file workflows in FileService.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/geocrypt/internal/common"
	"github.com/dmitrijs2005/geocrypt/internal/cryptox"
	"github.com/dmitrijs2005/geocrypt/internal/server/auth"
	"github.com/dmitrijs2005/geocrypt/internal/server/config"
	"github.com/dmitrijs2005/geocrypt/internal/server/models"
	"github.com/dmitrijs2005/geocrypt/internal/server/repositories/repomanager"
)

const (
	MaxUserNameLength = 64
	MinPasswordLength = 8
)

type UserService struct {
	db                          *sql.DB
	repomanager                 repomanager.RepositoryManager
	jwtSecret                   []byte
	accessTokenValidityDuration time.Duration
}

func NewUserService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config) *UserService {
	return &UserService{
		db:                          db,
		repomanager:                 m,
		jwtSecret:                   []byte(cfg.SecretKey),
		accessTokenValidityDuration: cfg.AccessTokenValidityDuration,
	}
}

// Register creates an account. The password is kept only as an Argon2id
// verifier under a fresh salt.
func (s *UserService) Register(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || len(username) > MaxUserNameLength {
		return nil, fmt.Errorf("%w: username must be 1-%d characters", common.ErrorValidation, MaxUserNameLength)
	}
	if len(password) < MinPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", common.ErrorValidation, MinPasswordLength)
	}

	salt := common.GenerateRandByteArray(cryptox.SaltSize)
	user := &models.User{
		UserName: username,
		Salt:     salt,
		Verifier: cryptox.PasswordVerifier([]byte(password), salt),
	}

	u, err := s.repomanager.Users(s.db).Create(ctx, user)
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}
	return u, nil
}

// Login checks the password and returns a signed access token. Unknown
// users cost the same Argon2id work as a wrong password.
func (s *UserService) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.repomanager.Users(s.db).GetUserByLogin(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			_ = cryptox.PasswordVerifier([]byte(password), common.GenerateRandByteArray(cryptox.SaltSize))
			return "", common.ErrorUnauthorized
		}
		return "", common.ErrorInternal
	}

	candidate := cryptox.PasswordVerifier([]byte(password), user.Salt)
	if !cryptox.CheckVerifier(user.Verifier, candidate) {
		return "", common.ErrorUnauthorized
	}

	token, err := auth.GenerateToken(user.ID, s.jwtSecret, s.accessTokenValidityDuration)
	if err != nil {
		return "", common.ErrorInternal
	}
	return token, nil
}

// Authenticate resolves a bearer token to a user id.
func (s *UserService) Authenticate(token string) (string, error) {
	id, err := auth.GetUserIDFromToken(token, s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("%w: %w", common.ErrorUnauthorized, err)
	}
	return id, nil
}
