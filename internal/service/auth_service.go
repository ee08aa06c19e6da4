package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/anzac2cdo/roster-api/internal/models"
	appErrors "github.com/anzac2cdo/roster-api/pkg/errors"
	"github.com/anzac2cdo/roster-api/pkg/sessionguard"
)

type authPersonnelRepository interface {
	FindByLogin(ctx context.Context, identifier string) (*models.Personnel, error)
	FindByID(ctx context.Context, id string) (*models.Personnel, error)
	UpdatePassword(ctx context.Context, id, passwordHash, salt string, changedAt time.Time) error
	CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error
	FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error
	RevokeAllRefreshTokens(ctx context.Context, personnelID string) (int64, error)
}

type identityAuthorizer interface {
	RequireAuth(ctx context.Context, identityRef string) (*models.Personnel, error)
	ResolveRoles(ctx context.Context, personnelID string) ([]models.RoleName, error)
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	AccessTokenSecret  string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	Issuer             string
	Audience           []string
	SingleSession      bool
}

// AuthService provides authentication use cases.
type AuthService struct {
	repo      authPersonnelRepository
	authz     identityAuthorizer
	audit     auditWriter
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(repo authPersonnelRepository, authz identityAuthorizer, audit auditWriter, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AuthService{repo: repo, authz: authz, audit: audit, validator: validate, logger: logger, config: config}
}

// Login authenticates by call sign or email and returns issued tokens.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	p, err := s.repo.FindByLogin(ctx, req.Identifier)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch identity")
	}
	if !p.HasSystemAccess() {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}
	if p.LoginDisabled() {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "")
	}
	if !checkPassword(p, req.Password) {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	if s.config.SingleSession {
		if _, err := s.repo.RevokeAllRefreshTokens(ctx, p.ID); err != nil {
			s.logger.Warn("failed to revoke previous refresh tokens", zap.Error(err))
		}
	}

	accessToken, issuedAt, err := s.generateAccessToken(p)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}
	refresh, err := s.issueRefreshToken(ctx, p.ID, req.IP, req.UserAgent)
	if err != nil {
		return nil, err
	}

	roles, err := s.authz.ResolveRoles(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	// A fresh sign-in may be signed out again if the identity goes stale.
	sessionguard.Installed().Forget(p.ID)

	recordAudit(WithRequestMeta(ctx, RequestMeta{IP: req.IP, UserAgent: req.UserAgent}), s.audit, s.logger, auditEntry{
		ActorID:    p.ID,
		Action:     models.AuditActionLogin,
		Resource:   "auth",
		ResourceID: p.ID,
		New:        map[string]string{"status": "success"},
	})

	return &models.LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refresh.Token,
		ExpiresIn:    int64(s.config.AccessTokenExpiry.Seconds()),
		IssuedAt:     issuedAt,
		User:         userInfo(p, roles),
	}, nil
}

// RefreshToken exchanges a refresh token for a new token pair.
func (s *AuthService) RefreshToken(ctx context.Context, req models.RefreshTokenRequest) (*models.RefreshTokenResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}

	stored, err := s.repo.FindRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch refresh token")
	}
	if stored.Revoked || time.Now().UTC().After(stored.ExpiresAt) {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token is expired or revoked")
	}

	p, err := s.authz.RequireAuth(ctx, stored.PersonnelID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.RevokeRefreshToken(ctx, stored.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to revoke used refresh token", zap.Error(err))
	}

	accessToken, issuedAt, err := s.generateAccessToken(p)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate access token")
	}
	refresh, err := s.issueRefreshToken(ctx, p.ID, req.IP, req.UserAgent)
	if err != nil {
		return nil, err
	}

	return &models.RefreshTokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refresh.Token,
		ExpiresIn:    int64(s.config.AccessTokenExpiry.Seconds()),
		IssuedAt:     issuedAt,
	}, nil
}

// Logout revokes the provided refresh token.
func (s *AuthService) Logout(ctx context.Context, refreshToken, personnelID string) error {
	stored, err := s.repo.FindRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrUnauthorized, "refresh token not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load refresh token")
	}
	if stored.PersonnelID != personnelID {
		return appErrors.Clone(appErrors.ErrForbidden, "token does not belong to caller")
	}
	if err := s.repo.RevokeRefreshToken(ctx, stored.ID, time.Now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke refresh token")
	}

	recordAudit(ctx, s.audit, s.logger, auditEntry{
		ActorID:    personnelID,
		Action:     models.AuditActionLogout,
		Resource:   "auth",
		ResourceID: personnelID,
	})
	return nil
}

// ChangePassword replaces the caller's password and ends their other sessions.
func (s *AuthService) ChangePassword(ctx context.Context, personnelID string, req models.ChangePasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid change password payload")
	}

	p, err := s.authz.RequireAuth(ctx, personnelID)
	if err != nil {
		return err
	}
	if !checkPassword(p, req.OldPassword) {
		return appErrors.Clone(appErrors.ErrForbidden, "old password does not match")
	}

	hash, salt, err := HashPassword(req.NewPassword)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	if err := s.repo.UpdatePassword(ctx, p.ID, hash, salt, time.Now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update password")
	}
	if _, err := s.repo.RevokeAllRefreshTokens(ctx, p.ID); err != nil {
		s.logger.Warn("failed to revoke refresh tokens after password change", zap.Error(err))
	}

	recordAudit(ctx, s.audit, s.logger, auditEntry{
		ActorID:    p.ID,
		Action:     models.AuditActionPasswordChange,
		Resource:   "auth",
		ResourceID: p.ID,
	})
	return nil
}

// Me describes the caller after re-checking that the identity may use the system.
func (s *AuthService) Me(ctx context.Context, personnelID string) (*models.UserInfo, error) {
	p, err := s.authz.RequireAuth(ctx, personnelID)
	if err != nil {
		return nil, err
	}
	roles, err := s.authz.ResolveRoles(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	info := userInfo(p, roles)
	return &info, nil
}

// ValidateToken parses and validates an access token returning the claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.AccessTokenSecret), nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid || claims.PersonnelID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	return claims, nil
}

// HashPassword returns a bcrypt hash over salt+password and the generated salt.
func HashPassword(password string) (hash, salt string, err error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	salt = base64.RawStdEncoding.EncodeToString(buf)
	h, err := bcrypt.GenerateFromPassword([]byte(salt+password), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}
	return string(h), salt, nil
}

func checkPassword(p *models.Personnel, password string) bool {
	if !p.HasSystemAccess() {
		return false
	}
	salt := ""
	if p.PasswordSalt != nil {
		salt = *p.PasswordSalt
	}
	return bcrypt.CompareHashAndPassword([]byte(*p.PasswordHash), []byte(salt+password)) == nil
}

func userInfo(p *models.Personnel, roles []models.RoleName) models.UserInfo {
	highest, _ := models.HighestRole(roles)
	if roles == nil {
		roles = []models.RoleName{}
	}
	return models.UserInfo{
		ID:                    p.ID,
		CallSign:              p.CallSign,
		Email:                 p.Email,
		Roles:                 roles,
		HighestRole:           highest,
		RequirePasswordChange: p.RequirePasswordChange != nil && *p.RequirePasswordChange,
	}
}

func (s *AuthService) issueRefreshToken(ctx context.Context, personnelID, ip, userAgent string) (*models.RefreshToken, error) {
	value, err := generateRefreshTokenString()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}
	now := time.Now().UTC()
	token := &models.RefreshToken{
		ID:          uuid.NewString(),
		PersonnelID: personnelID,
		Token:       value,
		ExpiresAt:   now.Add(s.config.RefreshTokenExpiry),
		CreatedAt:   now,
		IPAddress:   ip,
		UserAgent:   userAgent,
	}
	if err := s.repo.CreateRefreshToken(ctx, token); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist refresh token")
	}
	return token, nil
}

func (s *AuthService) generateAccessToken(p *models.Personnel) (string, time.Time, error) {
	issuedAt := time.Now().UTC()
	claims := &models.JWTClaims{
		PersonnelID: p.ID,
		CallSign:    p.CallSign,
		IssuedAtMs:  issuedAt.UnixMilli(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.config.Issuer,
			Subject:   p.ID,
			Audience:  s.config.Audience,
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.config.AccessTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.AccessTokenSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, issuedAt, nil
}

func generateRefreshTokenString() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
