// Package repo implements the data persistence layer for the side-store
// models, backed by GORM. This file provides the persisted variant of the
// apply-suppression marker, so the one-shot-per-conversation gate survives
// process restarts.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vpetrov/go-avito-relay/internal/domain"
)

// ErrDuplicate indicates that a suppression marker already exists for the
// given (account, chat_id) pair.
var ErrDuplicate = errors.New("duplicate")

// CreateSuppression inserts a marker and returns ErrDuplicate on unique
// violation. First writer wins; there is no update path.
func CreateSuppression(ctx context.Context, db *gorm.DB, account, chatID string) (*domain.Suppression, error) {
	rec := &domain.Suppression{
		ID:        uuid.NewString(),
		Account:   account,
		ChatID:    chatID,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// SuppressionStore adapts the persisted markers to the classifier's
// SuppressionSet interface.
type SuppressionStore struct {
	DB *gorm.DB
}

// MarkApplied records the marker; the insert's unique index makes exactly
// one concurrent caller the creator.
func (s *SuppressionStore) MarkApplied(ctx context.Context, account, chatID string) (bool, error) {
	_, err := CreateSuppression(ctx, s.DB, account, chatID)
	if errors.Is(err, ErrDuplicate) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
