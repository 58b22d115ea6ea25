// Package services – QueueService
//
// This file implements the queue operations exposed to reply workers: claim,
// done, requeue, and the stricter confirmed completion. The service is a thin
// policy layer over the task store; all state transitions happen in the
// store's rename-based CAS, the service adds the confirmation heuristic and
// metrics.
package services

import (
	"context"
	"strings"
	"time"

	"github.com/vpetrov/go-avito-relay/internal/domain"
	"github.com/vpetrov/go-avito-relay/internal/eventlog"
	"github.com/vpetrov/go-avito-relay/internal/taskstore"
)

// QueueService exposes the worker-facing queue operations.
type QueueService struct {
	// Store is the durable task queue.
	Store *taskstore.Store

	// Events is the raw webhook log scanned for confirmation evidence.
	Events *eventlog.Log

	// ConfirmWindow is how many recent log segments ConfirmAndClose scans.
	ConfirmWindow int

	// DefaultScanLimit bounds a claim scan when the caller does not specify
	// a limit.
	DefaultScanLimit int
}

// Claim hands out one free task, newest first, within the scan window.
// A nil task with nil error means no work is available.
func (s *QueueService) Claim(ctx context.Context, account string, scanLimit int) (*domain.Task, string, error) {
	if scanLimit < 1 {
		scanLimit = s.DefaultScanLimit
	}
	task, lock, err := s.Store.Claim(ctx, account, scanLimit)
	if err != nil {
		return nil, "", err
	}
	if task != nil {
		tasksClaimed.Inc()
	}
	return task, lock, nil
}

// Done closes a claimed task unconditionally. Workers call it after they
// believe the reply was delivered; use ConfirmAndClose when belief is not
// enough.
func (s *QueueService) Done(ctx context.Context, lockID string) error {
	if err := s.Store.Done(ctx, lockID); err != nil {
		return err
	}
	tasksClosed.WithLabelValues("done").Inc()
	return nil
}

// Requeue returns a claimed task to the free state after a worker-side
// failure, making it claimable again with its content intact.
func (s *QueueService) Requeue(ctx context.Context, lockID string) error {
	if err := s.Store.Requeue(ctx, lockID); err != nil {
		return err
	}
	tasksClosed.WithLabelValues("requeued").Inc()
	return nil
}

// ConfirmAndClose closes a claimed task only when the recent raw-event log
// contains evidence that the expected reply was actually observed: a plain
// text message in chatID authored by author, received at or after the
// claim time.
//
// On a miss the claimed record is left untouched and ErrNotConfirmed is
// returned; callers poll rather than treating one miss as terminal. This is
// a best-effort substitute for a real delivery acknowledgement from the
// platform, not a guarantee.
func (s *QueueService) ConfirmAndClose(ctx context.Context, lockID, chatID, author string) error {
	_, claimedAt, err := s.Store.ReadLocked(ctx, lockID)
	if err != nil {
		return err
	}

	window := s.ConfirmWindow
	if window < 1 {
		window = 2
	}
	recs, err := s.Events.ScanRecent(ctx, window)
	if err != nil {
		return err
	}

	if !replyObserved(recs, chatID, author, claimedAt) {
		return ErrNotConfirmed
	}

	if err := s.Store.Done(ctx, lockID); err != nil {
		return err
	}
	tasksClosed.WithLabelValues("confirmed").Inc()
	return nil
}

// ReapExpired requeues claims held longer than ttl. No-op when ttl <= 0.
func (s *QueueService) ReapExpired(ctx context.Context, ttl time.Duration) ([]string, error) {
	freed, err := s.Store.ReapExpired(ctx, ttl)
	if err != nil {
		return nil, err
	}
	for range freed {
		tasksClosed.WithLabelValues("reaped").Inc()
	}
	return freed, nil
}

// replyObserved scans log records for the confirmation predicate.
func replyObserved(recs []eventlog.Record, chatID, author string, claimedAt time.Time) bool {
	for _, rec := range recs {
		if rec.ChatID != chatID || rec.AuthorID != author {
			continue
		}
		if !isPlainText(rec) {
			continue
		}
		if rec.TS.Before(claimedAt) {
			continue
		}
		return true
	}
	return false
}

// isPlainText accepts ordinary text messages only; system notices and typed
// attachments never count as reply evidence.
func isPlainText(rec eventlog.Record) bool {
	if strings.TrimSpace(rec.Text) == "" {
		return false
	}
	t := strings.ToLower(strings.TrimSpace(rec.Type))
	return t == "" || t == "text"
}
