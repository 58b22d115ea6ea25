// Package services – WebhookService
//
// This file implements the ingest pipeline for one inbound webhook call:
// record the raw event, cache it in the chat-history side-store, classify
// it, and maybe create a durable task.
//
// Error policy (deliberate): every internal failure past auth is swallowed.
// The upstream platform retries aggressively on non-200 responses, and a
// retry storm of unclassifiable events helps nobody. Swallowed errors are
// logged and counted; the caller still acknowledges the webhook.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"gorm.io/gorm"

	"github.com/vpetrov/go-avito-relay/internal/classify"
	"github.com/vpetrov/go-avito-relay/internal/domain"
	"github.com/vpetrov/go-avito-relay/internal/eventlog"
	"github.com/vpetrov/go-avito-relay/internal/repo"
	"github.com/vpetrov/go-avito-relay/internal/taskstore"
)

// WebhookService turns raw webhook bodies into log records, history entries,
// and tasks.
type WebhookService struct {
	// Store is the durable task queue tasks are created in.
	Store *taskstore.Store

	// Classifier decides whether an event becomes a task.
	Classifier *classify.Classifier

	// Events is the append-only raw event log. May be nil in tests.
	Events *eventlog.Log

	// DB backs the chat-history side-store; nil disables history caching,
	// mirroring the original's "Redis disabled" degradation.
	DB *gorm.DB

	// HistoryMax and HistoryTTL tune the per-conversation history cache.
	HistoryMax int
	HistoryTTL time.Duration
}

// ParseEvent extracts the normalized event from a raw Avito webhook body.
// The payload of interest lives at payload.value; bodies without it (pings,
// unknown hook shapes) yield ok=false and are still loggable upstream.
//
// Extraction is tolerant by design: missing fields become zero values, extra
// fields are ignored, and no schema is enforced on the rest of the body.
func ParseEvent(account string, body []byte) (domain.Event, bool) {
	v := gjson.GetBytes(body, "payload.value")
	if !v.Exists() {
		return domain.Event{Account: account}, false
	}
	return domain.Event{
		Account:   account,
		ChatID:    v.Get("chat_id").String(),
		AuthorID:  v.Get("author_id").String(),
		Type:      v.Get("type").String(),
		Text:      v.Get("content.text").String(),
		MessageID: v.Get("id").String(),
		ItemID:    v.Get("item_id").String(),
	}, true
}

// Ingest runs the full pipeline for one webhook body. It never returns an
// error: all internal failures are logged, counted, and swallowed so the
// transport can acknowledge unconditionally. The outcome and created task
// (nil unless one was enqueued) are returned for request-scoped logging.
func (s *WebhookService) Ingest(ctx context.Context, account string, body []byte) (classify.Outcome, *domain.Task) {
	ev, ok := ParseEvent(account, body)
	if !ok {
		webhookEvents.WithLabelValues(classify.Ignore.String()).Inc()
		return classify.Ignore, nil
	}

	s.logEvent(ctx, ev)
	s.cacheHistory(ctx, ev)

	outcome, err := s.Classifier.Decide(ctx, ev)
	if err != nil {
		ingestSwallowed.WithLabelValues("classify").Inc()
		log.Error().Err(err).
			Str("account", account).
			Str("chat_id", ev.ChatID).
			Msg("classification failed, event dropped")
		return classify.Ignore, nil
	}
	webhookEvents.WithLabelValues(outcome.String()).Inc()

	var kind domain.TaskKind
	switch outcome {
	case classify.EnqueueApply:
		kind = domain.KindApply
	case classify.EnqueueMessage:
		kind = domain.KindMessage
	default:
		return outcome, nil
	}

	task, err := s.Store.Create(ctx, ev.Account, ev.ChatID, "", ev.MessageID, ev.ItemID, kind)
	if err != nil {
		ingestSwallowed.WithLabelValues("store").Inc()
		log.Error().Err(err).
			Str("account", account).
			Str("chat_id", ev.ChatID).
			Str("kind", string(kind)).
			Msg("task create failed, event dropped")
		return outcome, nil
	}
	tasksCreated.WithLabelValues(string(kind)).Inc()
	return outcome, task
}

// logEvent appends the event to the raw log. Failures are swallowed: the log
// is evidence, not a gate.
func (s *WebhookService) logEvent(ctx context.Context, ev domain.Event) {
	if s.Events == nil {
		return
	}
	err := s.Events.Append(ctx, eventlog.Record{
		Account:   ev.Account,
		ChatID:    ev.ChatID,
		AuthorID:  ev.AuthorID,
		Type:      ev.Type,
		Text:      ev.Text,
		MessageID: ev.MessageID,
		ItemID:    ev.ItemID,
	})
	if err != nil {
		ingestSwallowed.WithLabelValues("eventlog").Inc()
		log.Warn().Err(err).Str("account", ev.Account).Msg("event log append failed")
	}
}

// cacheHistory stores the message in the side-store unless history is
// disabled, the event is system-originated, or it has no conversation.
func (s *WebhookService) cacheHistory(ctx context.Context, ev domain.Event) {
	if s.DB == nil || ev.ChatID == "" || classify.IsSystem(ev) {
		return
	}
	if err := repo.SaveHistory(ctx, s.DB, ev, s.HistoryMax, s.HistoryTTL); err != nil {
		ingestSwallowed.WithLabelValues("history").Inc()
		log.Warn().Err(err).
			Str("account", ev.Account).
			Str("chat_id", ev.ChatID).
			Msg("history save failed")
	}
}

// ErrInvalidLock and friends live in taskstore; re-exported here so handlers
// depend on one error vocabulary for queue operations.
var (
	ErrNotFound    = taskstore.ErrNotFound
	ErrInvalidLock = taskstore.ErrInvalidLock
)
