// Package classify decides whether one inbound chat event becomes a durable
// task, and of which kind. The decision function is pure: it performs no I/O
// beyond the suppression-set lookup and delegates all persistence to the
// task store.
//
// Rules, in order:
//  1. No chat id → Ignore. A task with no destination is meaningless.
//  2. System event matching the "candidate applied" pattern → Apply, gated
//     one-shot per (account, chat): the first such event marks the
//     conversation and enqueues, every later one is suppressed.
//  3. Any other system event → Ignore. System chatter is not actionable.
//  4. Non-system event with non-empty text → Message, always. Every user
//     message is independently actionable, repeats included.
package classify

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/vpetrov/go-avito-relay/internal/domain"
)

// Outcome is the classifier verdict for one event.
type Outcome int

const (
	// Ignore means no task is created.
	Ignore Outcome = iota
	// EnqueueApply means a kind=apply task is created.
	EnqueueApply
	// EnqueueMessage means a kind=message task is created.
	EnqueueMessage
)

// String returns a log-friendly name for the outcome.
func (o Outcome) String() string {
	switch o {
	case EnqueueApply:
		return "enqueue_apply"
	case EnqueueMessage:
		return "enqueue_message"
	default:
		return "ignore"
	}
}

// SystemMarker is the marker substring Avito embeds in system message text.
const SystemMarker = "Системное сообщение"

// DefaultApplyPattern recognizes "candidate applied" system events in both
// the localized and the English wording seen in the wild.
var DefaultApplyPattern = regexp.MustCompile(`(?i)candidate applied|кандидат откликнулся`)

// SuppressionSet is the exactly-once-per-conversation gating state for apply
// events. Implementations must be safe for concurrent use.
//
// MarkApplied records that an apply task exists for (account, chatID). It
// returns true when this call created the marker and false when the
// conversation was already marked. Marking is idempotent and
// order-insensitive, so no further synchronization is needed by callers.
type SuppressionSet interface {
	MarkApplied(ctx context.Context, account, chatID string) (bool, error)
}

// MemorySet is the process-local SuppressionSet. Restarting the process
// clears it, re-arming apply tasks for every conversation; use a persisted
// implementation when that matters.
type MemorySet struct {
	seen sync.Map // "account\x00chatID" → struct{}
}

// NewMemorySet returns an empty in-memory suppression set.
func NewMemorySet() *MemorySet { return &MemorySet{} }

// MarkApplied implements SuppressionSet. It never fails.
func (m *MemorySet) MarkApplied(_ context.Context, account, chatID string) (bool, error) {
	_, loaded := m.seen.LoadOrStore(account+"\x00"+chatID, struct{}{})
	return !loaded, nil
}

// Classifier maps one inbound event to an Outcome. The zero value is not
// usable; Seen must be set. ApplyPattern defaults to DefaultApplyPattern.
type Classifier struct {
	Seen         SuppressionSet
	ApplyPattern *regexp.Regexp
}

// Decide classifies ev. The only possible error source is the suppression
// set (a persisted implementation may fail); on error the outcome is Ignore
// so a flaky marker store can only under-enqueue, never duplicate silently.
func (c *Classifier) Decide(ctx context.Context, ev domain.Event) (Outcome, error) {
	if strings.TrimSpace(ev.ChatID) == "" {
		return Ignore, nil
	}

	if !IsSystem(ev) {
		if strings.TrimSpace(ev.Text) == "" {
			return Ignore, nil
		}
		return EnqueueMessage, nil
	}

	pattern := c.ApplyPattern
	if pattern == nil {
		pattern = DefaultApplyPattern
	}
	if !pattern.MatchString(ev.Text) {
		return Ignore, nil
	}

	created, err := c.Seen.MarkApplied(ctx, ev.Account, ev.ChatID)
	if err != nil {
		return Ignore, err
	}
	if !created {
		return Ignore, nil
	}
	return EnqueueApply, nil
}

// IsSystem reports whether ev is system-originated, either by its type field
// or by a recognizable marker in the text.
func IsSystem(ev domain.Event) bool {
	if strings.EqualFold(strings.TrimSpace(ev.Type), "system") {
		return true
	}
	return strings.Contains(ev.Text, SystemMarker) ||
		strings.HasPrefix(strings.TrimSpace(ev.Text), "[System]")
}
