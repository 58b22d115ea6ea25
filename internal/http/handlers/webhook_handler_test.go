package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vpetrov/go-avito-relay/internal/classify"
	"github.com/vpetrov/go-avito-relay/internal/domain"
	"github.com/vpetrov/go-avito-relay/internal/repo"
)

// ---------- test DB ----------

func newHistoryDB(t *testing.T) *gorm.DB {
	t.Helper()

	// Unique DSN per call to avoid cross-test contamination
	dsn := fmt.Sprintf("file:webhook_handlers_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.HistoryEntry{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newWebhookRouter(svc WebhookService, db *gorm.DB, historyLimit int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := New(svc, stubQueue{}, stubStore{}, db, historyLimit)
	r := gin.New()
	r.POST("/webhook/:account", h.Webhook)
	r.GET("/history/:account/:chat", h.History)
	return r
}

// ---------- webhook ----------

func TestWebhook_AlwaysAcknowledges(t *testing.T) {
	var gotAccount string
	var gotBody []byte
	r := newWebhookRouter(stubWebhook{
		ingest: func(_ context.Context, account string, body []byte) (classify.Outcome, *domain.Task) {
			gotAccount, gotBody = account, body
			return classify.EnqueueMessage, &domain.Task{ID: "t1", Kind: domain.KindMessage}
		},
	}, nil, 100)

	payload := []byte(`{"payload":{"value":{"chat_id":"c1"}}}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook/acc", bytes.NewReader(payload))
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", w.Code)
	}
	if gotAccount != "acc" || !bytes.Equal(gotBody, payload) {
		t.Fatalf("ingest called with (%q, %q)", gotAccount, gotBody)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body["ok"] != true {
		t.Fatalf("body %q (%v)", w.Body.String(), err)
	}
}

func TestWebhook_IgnoredEventStillAcknowledged(t *testing.T) {
	r := newWebhookRouter(stubWebhook{}, nil, 100) // stub ignores everything
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook/acc", bytes.NewReader([]byte(`{"ping":true}`)))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", w.Code)
	}
}

// ---------- history ----------

func TestHistory_ReturnsNewestFirst(t *testing.T) {
	db := newHistoryDB(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ev := domain.Event{
			Account:  "acc",
			ChatID:   "c1",
			AuthorID: "u7",
			Text:     fmt.Sprintf("msg-%d", i),
		}
		if err := repo.SaveHistory(ctx, db, ev, 100, time.Hour); err != nil {
			t.Fatalf("SaveHistory: %v", err)
		}
		time.Sleep(2 * time.Millisecond) // distinct created_at ordering
	}

	r := newWebhookRouter(stubWebhook{}, db, 100)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/history/acc/c1", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var resp HistoryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body %q: %v", w.Body.String(), err)
	}
	if !resp.OK || resp.Count != 3 || len(resp.History) != 3 {
		t.Fatalf("resp %+v", resp)
	}
	if resp.History[0].Text != "msg-2" || resp.History[2].Text != "msg-0" {
		t.Fatalf("not newest-first: %+v", resp.History)
	}
}

func TestHistory_LimitClamped(t *testing.T) {
	db := newHistoryDB(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		ev := domain.Event{Account: "acc", ChatID: "c1", AuthorID: "u7", Text: fmt.Sprintf("m%d", i)}
		if err := repo.SaveHistory(ctx, db, ev, 100, time.Hour); err != nil {
			t.Fatalf("SaveHistory: %v", err)
		}
	}

	r := newWebhookRouter(stubWebhook{}, db, 3)
	w := httptest.NewRecorder()
	// Asks for more than the configured cap; the cap wins.
	req := httptest.NewRequest(http.MethodGet, "/history/acc/c1?limit=50", nil)
	r.ServeHTTP(w, req)

	var resp HistoryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body %q: %v", w.Body.String(), err)
	}
	if resp.Count != 3 {
		t.Fatalf("count %d, want 3", resp.Count)
	}
}

func TestHistory_NilDBDegradesToEmpty(t *testing.T) {
	r := newWebhookRouter(stubWebhook{}, nil, 100)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/history/acc/c1", nil)
	r.ServeHTTP(w, req)

	var resp HistoryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body %q: %v", w.Body.String(), err)
	}
	if w.Code != http.StatusOK || !resp.OK || len(resp.History) != 0 {
		t.Fatalf("status %d resp %+v", w.Code, resp)
	}
}

func TestHistory_UnknownConversationIsEmpty(t *testing.T) {
	db := newHistoryDB(t)
	r := newWebhookRouter(stubWebhook{}, db, 100)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/history/acc/never-seen", nil)
	r.ServeHTTP(w, req)

	var resp HistoryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body %q: %v", w.Body.String(), err)
	}
	if w.Code != http.StatusOK || resp.Count != 0 {
		t.Fatalf("status %d resp %+v", w.Code, resp)
	}
}
