// Task queue HTTP handlers.
//
// This file exposes the worker-facing queue endpoints:
//   - GET/POST /tasks/claim     (claim one task; GET kept for curl ergonomics)
//   - POST     /tasks/done      (unconditional completion)
//   - POST     /tasks/requeue   (return a claimed task to the queue)
//   - POST     /tasks/doneSafe  (completion gated on observed reply evidence)
//   - GET      /tasks/debug     (list free and claimed record names)
//   - GET      /tasks/read      (dump one record by file name)
//
// All endpoints sit behind the worker-key middleware. Parameters ride in the
// query string, matching how the deployed reply agents already call the API.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vpetrov/go-avito-relay/internal/domain"
	"github.com/vpetrov/go-avito-relay/internal/services"
	"github.com/vpetrov/go-avito-relay/internal/utils"
)

// ClaimResponse is the JSON shape of a claim attempt.
//
// Has is false when the scan window held no claimable work; that is a normal
// empty-queue answer, not an error. LockID must be presented back verbatim on
// done, requeue, and doneSafe.
type ClaimResponse struct {
	Has    bool         `json:"has"`
	LockID string       `json:"lock_id,omitempty"`
	Task   *domain.Task `json:"task,omitempty"`
}

// Claim hands out at most one free task to the calling worker.
//
// Query parameters:
//   - account: optional; restrict the scan to one account's tasks
//   - limit:   optional; cap the number of candidates attempted
func (h *Handlers) Claim(c *gin.Context) {
	account := strings.TrimSpace(c.Query("account"))
	limit := utils.AtoiDefault(c.Query("limit"), 0)

	task, lock, err := h.queueSvc.Claim(c.Request.Context(), account, limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeClaimFailed, "claim failed")
		return
	}
	if task == nil {
		ok(c, http.StatusOK, ClaimResponse{Has: false})
		return
	}
	ok(c, http.StatusOK, ClaimResponse{Has: true, LockID: lock, Task: task})
}

// Done removes a claimed task permanently.
//
// A lock that no longer exists yields 404; workers doing idempotent teardown
// may ignore it, the task is gone either way.
func (h *Handlers) Done(c *gin.Context) {
	lock := c.Query("lock")
	if err := h.queueSvc.Done(c.Request.Context(), lock); err != nil {
		failQueueErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"ok": true})
}

// Requeue returns a claimed task to the free state with its content intact.
func (h *Handlers) Requeue(c *gin.Context) {
	lock := c.Query("lock")
	if err := h.queueSvc.Requeue(c.Request.Context(), lock); err != nil {
		failQueueErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"ok": true})
}

// DoneSafe removes a claimed task only when the raw event log shows the
// expected reply: a plain text message in `chat` authored by `author`,
// observed no earlier than the claim.
//
// Responses:
//   - 204: evidence found, task removed
//   - 428: no evidence yet; the worker should send (or re-send) and retry
//   - 422: chat or author missing from the request
func (h *Handlers) DoneSafe(c *gin.Context) {
	lock := c.Query("lock")
	chatID := strings.TrimSpace(c.Query("chat"))
	author := strings.TrimSpace(c.Query("author"))
	if chatID == "" || author == "" {
		fail(c, http.StatusUnprocessableEntity, ErrCodeMissingParam, "chat and author are required")
		return
	}

	err := h.queueSvc.ConfirmAndClose(c.Request.Context(), lock, chatID, author)
	switch {
	case err == nil:
		noContent(c)
	case errors.Is(err, services.ErrNotConfirmed):
		fail(c, http.StatusPreconditionRequired, ErrCodeNotConfirmed, "reply not observed yet")
	default:
		failQueueErr(c, err)
	}
}

// DebugListResponse lists the record names currently in the store.
type DebugListResponse struct {
	Free    []string `json:"free"`
	Claimed []string `json:"claimed"`
}

// Debug lists free and claimed record names, sorted. Operator tooling only;
// it never mutates state.
func (h *Handlers) Debug(c *gin.Context) {
	free, claimed, err := h.store.List(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "store unavailable")
		return
	}
	ok(c, http.StatusOK, DebugListResponse{Free: free, Claimed: claimed})
}

// ReadTask dumps one task record (free or claimed) by its exact file name,
// as listed by Debug.
func (h *Handlers) ReadTask(c *gin.Context) {
	name := c.Query("file")
	if strings.TrimSpace(name) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "file is required")
		return
	}
	task, err := h.store.ReadFile(c.Request.Context(), name)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "task not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "read failed")
		return
	}
	ok(c, http.StatusOK, task)
}

// failQueueErr maps the queue error vocabulary onto HTTP statuses shared by
// done, requeue, and doneSafe.
func failQueueErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidLock):
		fail(c, http.StatusBadRequest, ErrCodeInvalidLock, "malformed lock id")
	case errors.Is(err, services.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "task not found")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "queue operation failed")
	}
}
