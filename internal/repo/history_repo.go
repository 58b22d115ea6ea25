// Package repo implements the data persistence layer for the side-store
// models, backed by GORM. This file provides the chat-history cache: a
// capped, TTL'd, newest-first list of non-system messages per
// (account, chat) pair.
//
// Semantics mirror the Redis list this store replaces: each saved entry is
// prepended conceptually (newest-first reads), the list is trimmed to a
// fixed cap, and entries expire after a TTL. Trimming and TTL purging happen
// opportunistically on write so no background job is required.
//
// Error semantics:
//   - ErrNotFound is never returned from history reads; an unknown
//     conversation simply yields an empty slice, matching the original
//     behavior of "no history yet".
//   - On DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vpetrov/go-avito-relay/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist. It aliases
// gorm.ErrRecordNotFound for consistency across the service layer.
var ErrNotFound = gorm.ErrRecordNotFound

// SaveHistory inserts one chat message into the history cache, purges
// expired rows for the conversation, and trims the list to max entries
// (oldest dropped first). System messages must be filtered by the caller;
// this function stores whatever it is given.
func SaveHistory(ctx context.Context, db *gorm.DB, ev domain.Event, max int, ttl time.Duration) error {
	now := time.Now().UTC()
	entry := &domain.HistoryEntry{
		ID:        uuid.NewString(),
		Account:   ev.Account,
		ChatID:    ev.ChatID,
		AuthorID:  ev.AuthorID,
		Type:      ev.Type,
		Text:      ev.Text,
		ItemID:    ev.ItemID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(entry).Error; err != nil {
			return err
		}

		// Drop expired rows for this conversation.
		if err := tx.
			Where("account = ? AND chat_id = ? AND expires_at <= ?", ev.Account, ev.ChatID, now).
			Delete(&domain.HistoryEntry{}).Error; err != nil {
			return err
		}

		// Trim to the cap, oldest first.
		var victims []string
		if err := tx.Model(&domain.HistoryEntry{}).
			Where("account = ? AND chat_id = ?", ev.Account, ev.ChatID).
			Order("created_at desc, id desc").
			Offset(max).
			Pluck("id", &victims).Error; err != nil {
			return err
		}
		if len(victims) > 0 {
			if err := tx.Where("id IN ?", victims).Delete(&domain.HistoryEntry{}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ListHistory returns up to limit cached messages for the conversation,
// newest first, excluding expired entries. An unknown conversation yields an
// empty slice, not an error.
func ListHistory(ctx context.Context, db *gorm.DB, account, chatID string, limit int) ([]domain.HistoryEntry, error) {
	out := []domain.HistoryEntry{}
	err := db.WithContext(ctx).
		Where("account = ? AND chat_id = ? AND expires_at > ?", account, chatID, time.Now().UTC()).
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}
