// Package domain defines the core data types of the relay: the durable Task
// handed to reply workers, the raw webhook event envelope, and the GORM-mapped
// side-store models (chat history, persisted suppression markers).
package domain

import (
	"time"
)

// TaskKind distinguishes why a task was enqueued.
type TaskKind string

const (
	// KindApply marks a task created from a system "candidate applied" event.
	KindApply TaskKind = "apply"
	// KindMessage marks a task created from a plain user message.
	KindMessage TaskKind = "message"
)

// Task is one durable unit of work derived from a single conversation event.
// It is persisted as an individual JSON file by the task store; the pair
// (Account, ID) is globally unique and both are encoded in the file name.
//
// The record content is fixed at creation time. State (free/claimed/absent)
// lives entirely in the file name and its lock suffix, never inside the JSON.
type Task struct {
	ID        string    `json:"id"`
	Account   string    `json:"account"`
	ChatID    string    `json:"chat_id"`
	ReplyText string    `json:"reply_text"`
	MessageID string    `json:"message_id,omitempty"`
	ItemID    string    `json:"item_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Kind      TaskKind  `json:"kind"`
}

// Event is the normalized inbound chat event extracted from an Avito-style
// webhook payload (payload.value in the raw body). It is the classifier input
// and the shape appended to the raw event log.
type Event struct {
	Account   string `json:"account"`
	ChatID    string `json:"chat_id"`
	AuthorID  string `json:"author_id,omitempty"`
	Type      string `json:"type,omitempty"`
	Text      string `json:"text"`
	MessageID string `json:"message_id,omitempty"`
	ItemID    string `json:"item_id,omitempty"`
}

// HistoryEntry is one cached chat message in the capped, TTL'd per-conversation
// history side-store. System messages are never stored here.
//
// Fields:
//   - ID: surrogate UUID primary key.
//   - Account / ChatID: conversation key; indexed together for list queries.
//   - AuthorID / Type / Text / ItemID: message payload as received.
//   - CreatedAt: receive time, used for newest-first ordering and the cap.
//   - ExpiresAt: TTL horizon; expired rows are purged opportunistically on write.
type HistoryEntry struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Account   string    `json:"account"    gorm:"type:varchar(64);not null;index:idx_hist_chat,priority:1"`
	ChatID    string    `json:"chat_id"    gorm:"type:varchar(64);not null;index:idx_hist_chat,priority:2"`
	AuthorID  string    `json:"author_id"  gorm:"type:varchar(64)"`
	Type      string    `json:"type"       gorm:"type:varchar(32)"`
	Text      string    `json:"text"       gorm:"type:text"`
	ItemID    string    `json:"item_id"    gorm:"type:varchar(64)"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_hist_chat,priority:3"`
	ExpiresAt time.Time `json:"-"          gorm:"index"`
}

// TableName returns the database table name for HistoryEntry.
func (HistoryEntry) TableName() string { return "history_entries" }

// Suppression is the persisted variant of the one-shot-per-conversation
// apply-task marker. The (account, chat_id) pair is unique; an insert conflict
// means "already marked" and is not an error at the service level.
type Suppression struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Account   string    `json:"account"    gorm:"type:varchar(64);not null;uniqueIndex:ux_suppress_chat"`
	ChatID    string    `json:"chat_id"    gorm:"type:varchar(64);not null;uniqueIndex:ux_suppress_chat"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Suppression.
func (Suppression) TableName() string { return "suppressions" }
