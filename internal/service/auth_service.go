package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"sproutmarket/internal/apperr"
	"sproutmarket/internal/config"
	"sproutmarket/internal/infrastructure/cache"
	"sproutmarket/internal/infrastructure/identity"
	"sproutmarket/internal/model"
	"sproutmarket/internal/repository"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"
)

type AuthService struct {
	cfg         *config.Config
	provider    identity.Provider
	redisClient *redis.Client
	userRepo    *repository.UserRepository
}

func NewAuthService(db *gorm.DB, redisClient *redis.Client, provider identity.Provider, cfg *config.Config) *AuthService {
	return &AuthService{
		cfg:         cfg,
		provider:    provider,
		redisClient: redisClient,
		userRepo:    repository.NewUserRepository(db),
	}
}

type RegisterRequest struct {
	Username    string `json:"username" binding:"required,min=3,max=150"`
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=8"`
	FirstName   string `json:"first_name" binding:"max=150"`
	LastName    string `json:"last_name" binding:"max=150"`
	PhoneNumber string `json:"phone_number" binding:"max=20"`
	City        string `json:"city" binding:"max=100"`
	State       string `json:"state" binding:"max=100"`
}

type LoginResponse struct {
	Tokens *identity.Tokens `json:"tokens"`
	User   *model.User      `json:"user"`
}

// identityError 身份服务错误转换为业务错误
func identityError(err error) error {
	switch {
	case errors.Is(err, identity.ErrNotAuthorized), errors.Is(err, identity.ErrUserNotFound):
		return ErrInvalidCredential
	case errors.Is(err, identity.ErrUserExists):
		return ErrUserExists
	case errors.Is(err, identity.ErrCodeMismatch):
		return ErrCodeMismatch
	case errors.Is(err, identity.ErrNotConfirmed):
		return ErrEmailNotVerified
	case errors.Is(err, identity.ErrInvalidInput):
		return apperr.Validation("password", err.Error())
	}
	return apperr.External("identity", err)
}

func (s *AuthService) Register(ctx context.Context, req *RegisterRequest) (*model.User, error) {
	if _, err := s.provider.SignUp(ctx, identity.SignUpInput{
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		PhoneNumber: req.PhoneNumber,
	}); err != nil {
		return nil, identityError(err)
	}

	user := &model.User{
		Username:    req.Username,
		Email:       req.Email,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		PhoneNumber: req.PhoneNumber,
		City:        req.City,
		State:       req.State,
	}
	user, err := s.userRepo.GetOrCreate(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("创建本地用户失败: %w", err)
	}

	log.Printf("[Auth] 用户注册: userID=%d, username=%s", user.ID, user.Username)
	return user, nil
}

func (s *AuthService) VerifyEmail(ctx context.Context, username, code string) error {
	if err := s.provider.ConfirmSignUp(ctx, username, code); err != nil {
		return identityError(err)
	}
	user, err := s.userRepo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil
		}
		return err
	}
	return s.userRepo.UpdateFields(ctx, nil, user.ID, map[string]interface{}{"is_email_verified": true})
}

func (s *AuthService) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	tokens, err := s.provider.SignIn(ctx, username, password)
	if err != nil {
		return nil, identityError(err)
	}
	user, err := s.resolve(ctx, tokens.AccessToken)
	if err != nil {
		return nil, err
	}
	return &LoginResponse{Tokens: tokens, User: user}, nil
}

// Authenticate 访问令牌换本地用户，命中缓存时不请求身份服务
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*model.User, error) {
	if accessToken == "" {
		return nil, ErrNotAuthenticated
	}
	key := cache.TokenKey(digest(accessToken))

	if s.redisClient != nil {
		if raw, err := s.redisClient.Get(ctx, key).Result(); err == nil {
			if id, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
				user, uerr := s.userRepo.GetByID(ctx, nil, id)
				if uerr == nil {
					return user, nil
				}
				if !errors.Is(uerr, repository.ErrUserNotFound) {
					return nil, uerr
				}
			}
		} else if !errors.Is(err, redis.Nil) {
			log.Printf("[Auth] 读取令牌缓存失败: %v", err)
		}
	}

	user, err := s.resolve(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	if s.redisClient != nil {
		if ttl := s.cacheTTL(accessToken); ttl > 0 {
			if err := s.redisClient.Set(ctx, key, user.ID, ttl).Err(); err != nil {
				log.Printf("[Auth] 写入令牌缓存失败: %v", err)
			}
		}
	}
	return user, nil
}

// resolve 向身份服务查询令牌所属用户并同步到本地
func (s *AuthService) resolve(ctx context.Context, accessToken string) (*model.User, error) {
	profile, err := s.provider.GetUser(ctx, accessToken)
	if err != nil {
		if errors.Is(err, identity.ErrNotAuthorized) || errors.Is(err, identity.ErrUserNotFound) {
			return nil, ErrNotAuthenticated
		}
		return nil, apperr.External("identity", err)
	}

	user, err := s.userRepo.GetOrCreate(ctx, &model.User{
		Username:        profile.Username,
		Email:           profile.Email(),
		FirstName:       profile.Attributes["given_name"],
		LastName:        profile.Attributes["family_name"],
		PhoneNumber:     profile.Attributes["phone_number"],
		IsEmailVerified: profile.EmailVerified(),
	})
	if err != nil {
		return nil, fmt.Errorf("同步本地用户失败: %w", err)
	}

	if profile.EmailVerified() && !user.IsEmailVerified {
		if err := s.userRepo.UpdateFields(ctx, nil, user.ID, map[string]interface{}{"is_email_verified": true}); err != nil {
			return nil, err
		}
		user.IsEmailVerified = true
	}
	return user, nil
}

// cacheTTL 不超过令牌自身的过期时间
func (s *AuthService) cacheTTL(accessToken string) time.Duration {
	ttl := s.cfg.Auth.TokenCacheTTL
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return ttl
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return ttl
	}
	if left := time.Until(exp.Time); left < ttl {
		return left
	}
	return ttl
}

func (s *AuthService) ForgotPassword(ctx context.Context, username string) error {
	if err := s.provider.ForgotPassword(ctx, username); err != nil {
		return identityError(err)
	}
	return nil
}

func (s *AuthService) ConfirmForgotPassword(ctx context.Context, username, code, newPassword string) error {
	if err := s.provider.ConfirmForgotPassword(ctx, username, code, newPassword); err != nil {
		return identityError(err)
	}
	return nil
}

// Logout 全局登出并清除令牌缓存
func (s *AuthService) Logout(ctx context.Context, accessToken string) error {
	if s.redisClient != nil {
		if err := s.redisClient.Del(ctx, cache.TokenKey(digest(accessToken))).Err(); err != nil {
			log.Printf("[Auth] 删除令牌缓存失败: %v", err)
		}
	}
	if err := s.provider.SignOut(ctx, accessToken); err != nil {
		return identityError(err)
	}
	return nil
}

func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
