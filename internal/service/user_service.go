package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/psds-microservice/presence-service/internal/errs"
	"github.com/psds-microservice/presence-service/internal/model"
	"gorm.io/gorm"
)

// UserService is the gorm-backed user directory.
type UserService struct {
	db *gorm.DB
}

// NewUserService creates the directory.
func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

var _ UserDirectory = (*UserService)(nil)

// GetUserByID returns the account record, or errs.ErrUserNotFound.
func (s *UserService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrUserNotFound
		}
		return nil, fmt.Errorf("user lookup: %w", err)
	}
	return &user, nil
}
