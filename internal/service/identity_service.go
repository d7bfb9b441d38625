package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/psds-microservice/presence-service/internal/errs"
	"github.com/psds-microservice/presence-service/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// IdentityService verifies handshake credentials: cookie sessions against the
// user_sessions table, bearer tokens as HMAC JWTs.
type IdentityService struct {
	db        *gorm.DB
	jwtSecret []byte
	log       *zap.Logger
}

// NewIdentityService creates the verifier.
func NewIdentityService(db *gorm.DB, jwtSecret string, log *zap.Logger) *IdentityService {
	return &IdentityService{db: db, jwtSecret: []byte(jwtSecret), log: log}
}

var _ IdentityVerifier = (*IdentityService)(nil)

type sessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// VerifySession resolves exactly one credential, cookie preferred.
func (s *IdentityService) VerifySession(ctx context.Context, cred Credential) (*SessionIdentity, error) {
	switch {
	case cred.Cookie != "":
		return s.verifyCookie(ctx, cred.Cookie)
	case cred.Bearer != "":
		return s.verifyBearer(cred.Bearer)
	default:
		return nil, errs.ErrNoSession
	}
}

func (s *IdentityService) verifyCookie(ctx context.Context, token string) (*SessionIdentity, error) {
	var sess model.UserSession
	err := s.db.WithContext(ctx).Where("token = ?", token).First(&sess).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrNoSession
		}
		return nil, fmt.Errorf("session lookup: %w", err)
	}
	if time.Now().After(sess.ExpiresAt) {
		return nil, errs.ErrNoSession
	}
	return &SessionIdentity{UserID: sess.UserID, SessionID: sess.ID}, nil
}

func (s *IdentityService) verifyBearer(tokenString string) (*SessionIdentity, error) {
	if len(s.jwtSecret) == 0 {
		return nil, errs.ErrNoSession
	}
	token, err := jwt.ParseWithClaims(tokenString, &sessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, errs.ErrNoSession
	}
	claims, ok := token.Claims.(*sessionClaims)
	if !ok || claims.Subject == "" {
		return nil, errs.ErrNoSession
	}
	return &SessionIdentity{UserID: claims.Subject, SessionID: claims.SessionID}, nil
}
