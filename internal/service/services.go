package service

import (
	"github.com/dom/authsvc/internal/config"
	"github.com/dom/authsvc/internal/logging"
	"github.com/dom/authsvc/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

type Services struct {
	Auth   *AuthService
	Tokens *TokenService
}

func NewServices(repos *repository.Repositories, cfg *config.Config, log logging.Logger, opts ...TokenOption) *Services {
	tokens := NewTokenService([]byte(cfg.JWTSecret), cfg.JWTExpiration, cfg.JWTIssuer, opts...)
	hasher := NewBcryptHasher(bcrypt.DefaultCost)

	return &Services{
		Auth:   NewAuthService(repos.User, hasher, tokens, log),
		Tokens: tokens,
	}
}
