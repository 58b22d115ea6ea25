// Webhook and history HTTP handlers.
//
// This file exposes the ingest surface:
//   - POST /webhook/:account       (ingest one platform event)
//   - GET  /history/:account/:chat (recent cached messages for a conversation)
//
// Handlers are transport-thin: they read the request, call application
// services, and translate results into HTTP responses. The webhook handler in
// particular acknowledges unconditionally once past auth; the platform treats
// any non-2xx as a delivery failure and retries, and a retry storm of events
// we cannot classify helps nobody.
package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/vpetrov/go-avito-relay/internal/classify"
	"github.com/vpetrov/go-avito-relay/internal/domain"
	"github.com/vpetrov/go-avito-relay/internal/http/middleware"
	"github.com/vpetrov/go-avito-relay/internal/repo"
	"github.com/vpetrov/go-avito-relay/internal/services"
	"github.com/vpetrov/go-avito-relay/internal/utils"
)

//
// Service contracts (context-aware)
//

// WebhookService defines the ingest pipeline consumed by HTTP handlers.
//
// Implementations must be safe for concurrent use; Ingest never fails, it
// reports what it decided.
type WebhookService interface {
	// Ingest records, classifies, and possibly enqueues one raw event body.
	Ingest(ctx context.Context, account string, body []byte) (classify.Outcome, *domain.Task)
}

// QueueService defines the worker-facing queue operations.
//
// Implementations must be safe for concurrent use and honor the provided
// context for cancellation.
type QueueService interface {
	// Claim hands out one free task; nil task with nil error means no work.
	Claim(ctx context.Context, account string, scanLimit int) (*domain.Task, string, error)
	// Done closes a claimed task unconditionally.
	Done(ctx context.Context, lockID string) error
	// Requeue makes a claimed task claimable again.
	Requeue(ctx context.Context, lockID string) error
	// ConfirmAndClose closes a claimed task only when reply evidence exists.
	ConfirmAndClose(ctx context.Context, lockID, chatID, author string) error
}

// TaskStore is the read-only store surface used by the debug endpoints.
type TaskStore interface {
	List(ctx context.Context) (free, claimed []string, err error)
	ReadFile(ctx context.Context, name string) (*domain.Task, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for webhook ingest, conversation
// history, and the worker task queue. It depends on abstract service
// interfaces to keep transport concerns separate from queue logic.
type Handlers struct {
	webhookSvc WebhookService
	queueSvc   QueueService
	store      TaskStore

	// db backs history reads; nil disables the history endpoint gracefully.
	db           *gorm.DB
	historyLimit int
}

// New constructs a Handlers instance bound to the given services.
func New(webhookSvc WebhookService, queueSvc QueueService, store TaskStore, db *gorm.DB, historyLimit int) *Handlers {
	if historyLimit < 1 {
		historyLimit = 100
	}
	return &Handlers{
		webhookSvc:   webhookSvc,
		queueSvc:     queueSvc,
		store:        store,
		db:           db,
		historyLimit: historyLimit,
	}
}

//
// Handlers
//

// Webhook ingests one platform event for the account in the path.
//
// Responds 200 {"ok": true} regardless of what the pipeline decided; auth
// failures are rejected upstream by middleware with 403. The classifier
// outcome is logged per request for traceability.
func (h *Handlers) Webhook(c *gin.Context) {
	account := c.Param("account")

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		// Oversized or torn body. Still acknowledge: a retry would carry
		// the same payload.
		middleware.LoggerFrom(c).Warn().Err(err).Msg("webhook body read failed")
		ok(c, http.StatusOK, gin.H{"ok": true})
		return
	}

	outcome, task := h.webhookSvc.Ingest(c.Request.Context(), account, body)

	ev := middleware.LoggerFrom(c).Info().Str("outcome", outcome.String())
	if task != nil {
		ev = ev.Str("task_id", task.ID).Str("kind", string(task.Kind))
	}
	ev.Msg("webhook ingested")

	ok(c, http.StatusOK, gin.H{"ok": true})
}

// HistoryResponse wraps the cached messages of one conversation.
type HistoryResponse struct {
	OK      bool                  `json:"ok"`
	Count   int                   `json:"count"`
	History []domain.HistoryEntry `json:"history"`
}

// History returns the most recent cached messages for a conversation, newest
// first. An unknown conversation yields an empty list, not a 404; with the
// history store disabled the endpoint reports an empty list as well.
func (h *Handlers) History(c *gin.Context) {
	account := c.Param("account")
	chatID := c.Param("chat")

	if h.db == nil {
		ok(c, http.StatusOK, HistoryResponse{OK: true, History: []domain.HistoryEntry{}})
		return
	}

	limit := utils.AtoiDefault(c.Query("limit"), h.historyLimit)
	if limit < 1 || limit > h.historyLimit {
		limit = h.historyLimit
	}

	entries, err := repo.ListHistory(c.Request.Context(), h.db, account, chatID, limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "history unavailable")
		return
	}
	ok(c, http.StatusOK, HistoryResponse{OK: true, Count: len(entries), History: entries})
}

// compile-time checks that the concrete services satisfy the contracts.
var (
	_ WebhookService = (*services.WebhookService)(nil)
	_ QueueService   = (*services.QueueService)(nil)
)
