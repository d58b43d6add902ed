package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/appliflow/appliflow/internal/domain"
	"github.com/appliflow/appliflow/internal/reconcile"
	"github.com/appliflow/appliflow/internal/recordstore"
	"github.com/appliflow/appliflow/internal/resend"
	"github.com/appliflow/appliflow/internal/webhook"
)

const testWebhookSecret = "whsec_dGVzdC1zaWduaW5nLWtleQ=="

type stubSource struct {
	sent    []resend.Event
	details map[string]resend.Detail
	sendErr error
}

func (s *stubSource) ListAllSent(ctx context.Context, since, until *time.Time) ([]resend.Event, error) {
	return s.sent, nil
}

func (s *stubSource) ListAllReceived(ctx context.Context, since, until *time.Time) ([]resend.Event, error) {
	return nil, nil
}

func (s *stubSource) GetEventDetail(ctx context.Context, id string) (resend.Detail, error) {
	detail, ok := s.details[id]
	if !ok {
		return resend.Detail{}, errors.New("detail not found")
	}
	return detail, nil
}

func (s *stubSource) BatchSend(ctx context.Context, msgs []resend.Message) ([]resend.SendResult, []error) {
	results := make([]resend.SendResult, len(msgs))
	errs := make([]error, len(msgs))
	for i := range msgs {
		if s.sendErr != nil {
			errs[i] = s.sendErr
			continue
		}
		results[i] = resend.SendResult{ID: "sent_" + strconv.Itoa(i)}
	}
	return results, errs
}

func newTestServer(source *stubSource) (*Server, recordstore.Store) {
	store := recordstore.NewMemoryStore()
	quiet := log.New(io.Discard, "", 0)
	engine := reconcile.NewEngine(reconcile.Options{
		Store:  store,
		Source: source,
		Owner:  "user_1",
		Logger: quiet,
	})
	processor := webhook.NewProcessor(webhook.ProcessorOptions{
		Store:  store,
		Source: source,
		Owner:  "user_1",
		Logger: quiet,
	})
	server := NewServer(engine, processor, source, ServerConfig{WebhookSecret: testWebhookSecret})
	server.logger = quiet
	return server, store
}

func signedWebhookRequest(t *testing.T, body []byte) *http.Request {
	t.Helper()
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	signature, err := webhook.Sign(testWebhookSecret, "msg_1", timestamp, body)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	r := httptest.NewRequest(http.MethodPost, "/webhooks/resend", bytes.NewReader(body))
	r.Header.Set(webhook.HeaderID, "msg_1")
	r.Header.Set(webhook.HeaderTimestamp, timestamp)
	r.Header.Set(webhook.HeaderSignature, signature)
	return r
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return payload
}

func TestHealth(t *testing.T) {
	server, _ := newTestServer(&stubSource{})
	w := httptest.NewRecorder()
	server.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestWebhookRejectsUnsignedRequest(t *testing.T) {
	server, store := newTestServer(&stubSource{})
	body := []byte(`{"type":"email.sent","data":{"email_id":"em_1","to":["a@acme.io"]}}`)

	w := httptest.NewRecorder()
	server.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks/resend", bytes.NewReader(body)))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	payload := decodeBody(t, w)
	if payload["success"] != false {
		t.Fatalf("unexpected payload: %v", payload)
	}
	logs, _ := store.GetFullList(context.Background(), domain.CollectionEmailLogs, nil, "")
	if len(logs) != 0 {
		t.Fatal("unsigned requests must not be processed")
	}
}

func TestWebhookRejectsTamperedBody(t *testing.T) {
	server, _ := newTestServer(&stubSource{})
	r := signedWebhookRequest(t, []byte(`{"type":"email.sent","data":{"email_id":"em_1"}}`))
	r.Body = io.NopCloser(bytes.NewReader([]byte(`{"type":"email.sent","data":{"email_id":"em_2"}}`)))

	w := httptest.NewRecorder()
	server.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestWebhookSignedSentEventCreatesApplication(t *testing.T) {
	source := &stubSource{details: map[string]resend.Detail{
		"em_1": {ID: "em_1", Text: "hello"},
	}}
	server, store := newTestServer(source)
	body := []byte(`{"type":"email.sent","created_at":"2024-03-10T11:59:00Z","data":{"email_id":"em_1","from":"me@own.io","to":["recruiter@acme.io"],"subject":"Application for Go Developer","created_at":"2024-03-10T11:59:00Z"}}`)

	w := httptest.NewRecorder()
	server.ServeHTTP(w, signedWebhookRequest(t, body))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	payload := decodeBody(t, w)
	if payload["success"] != true || payload["acknowledged"] != true {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if payload["action"] != "application_created" {
		t.Fatalf("unexpected action: %v", payload["action"])
	}

	applications, _ := store.GetFullList(context.Background(), domain.CollectionApplications, nil, "")
	if len(applications) != 1 {
		t.Fatalf("expected application, got %d", len(applications))
	}
}

func TestWebhookAcknowledgesProcessingFailure(t *testing.T) {
	server, _ := newTestServer(&stubSource{})
	// Valid signature over a payload the processor rejects (no email_id).
	body := []byte(`{"type":"email.sent","data":{}}`)

	w := httptest.NewRecorder()
	server.ServeHTTP(w, signedWebhookRequest(t, body))
	if w.Code != http.StatusOK {
		t.Fatalf("processing failures still acknowledge with 200, got %d", w.Code)
	}
	payload := decodeBody(t, w)
	if payload["success"] != false || payload["acknowledged"] != true {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestSyncTriggerRunsToCompletion(t *testing.T) {
	source := &stubSource{sent: []resend.Event{{
		ID:        "e1",
		From:      "me@own.io",
		To:        []string{"recruiter@newco.com"},
		Subject:   "Application for Backend Engineer",
		LastEvent: "sent",
		CreatedAt: "2024-03-01T10:00:00Z",
	}}}
	server, _ := newTestServer(source)

	body := []byte(`{"syncType":"full","userId":"user_1"}`)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/sync", bytes.NewReader(body)))
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	syncID, _ := decodeBody(t, w)["syncId"].(string)
	if syncID == "" {
		t.Fatal("expected syncId in response")
	}

	// The run is detached from the request; poll until it reaches a
	// terminal state.
	deadline := time.Now().Add(2 * time.Second)
	var status map[string]any
	for {
		w := httptest.NewRecorder()
		server.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/sync/"+syncID, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("status poll: %d", w.Code)
		}
		status = decodeBody(t, w)
		if status["status"] != "running" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("sync did not finish: %v", status)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if status["status"] != "completed" {
		t.Fatalf("expected completed, got %v (%v)", status["status"], status["error"])
	}
	counters, _ := status["counters"].(map[string]any)
	if counters["outbound_created"] != float64(1) || counters["companies_created"] != float64(1) {
		t.Fatalf("unexpected counters: %v", counters)
	}

	// The latest-log endpoint should surface the same run.
	w = httptest.NewRecorder()
	server.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/sync/latest?userId=user_1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("latest: %d", w.Code)
	}
	if decodeBody(t, w)["id"] != syncID {
		t.Fatal("latest sync log mismatch")
	}

	w = httptest.NewRecorder()
	server.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/sync?userId=user_1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d", w.Code)
	}
	items, _ := decodeBody(t, w)["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected one sync log, got %d", len(items))
	}
}

func TestSyncTriggerRejectsUnknownType(t *testing.T) {
	server, _ := newTestServer(&stubSource{})
	w := httptest.NewRecorder()
	server.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/sync", bytes.NewReader([]byte(`{"syncType":"everything"}`))))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestSyncTriggerRejectsMalformedDate(t *testing.T) {
	server, _ := newTestServer(&stubSource{})
	w := httptest.NewRecorder()
	server.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/sync", bytes.NewReader([]byte(`{"syncType":"full","dateFrom":"last tuesday"}`))))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestSyncStatusUnknownID(t *testing.T) {
	server, _ := newTestServer(&stubSource{})
	w := httptest.NewRecorder()
	server.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/sync/does-not-exist", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestResetRequiresConfirmation(t *testing.T) {
	source := &stubSource{sent: []resend.Event{{
		ID:        "e1",
		From:      "me@own.io",
		To:        []string{"recruiter@acme.io"},
		Subject:   "hello",
		LastEvent: "sent",
		CreatedAt: "2024-03-01T10:00:00Z",
	}}}
	server, store := newTestServer(source)
	ctx := context.Background()

	engine := reconcile.NewEngine(reconcile.Options{
		Store:  store,
		Source: source,
		Owner:  "user_1",
		Logger: log.New(io.Discard, "", 0),
	})
	if _, err := engine.FullSync(ctx, nil, nil); err != nil {
		t.Fatalf("seed data: %v", err)
	}

	w := httptest.NewRecorder()
	server.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/sync/reset", bytes.NewReader([]byte(`{"userId":"user_1"}`))))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without confirm, got %d", w.Code)
	}
	errPayload, _ := decodeBody(t, w)["error"].(map[string]any)
	if errPayload["code"] != "confirmation_required" {
		t.Fatalf("unexpected error payload: %v", errPayload)
	}
	logs, _ := store.GetFullList(ctx, domain.CollectionEmailLogs, nil, "")
	if len(logs) == 0 {
		t.Fatal("unconfirmed reset must not delete anything")
	}

	w = httptest.NewRecorder()
	server.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/sync/reset", bytes.NewReader([]byte(`{"userId":"user_1","confirm":true}`))))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	deleted, _ := decodeBody(t, w)["deleted"].(map[string]any)
	if deleted["emailLogs"] != float64(1) {
		t.Fatalf("unexpected deletion counts: %v", deleted)
	}
	logs, _ = store.GetFullList(ctx, domain.CollectionEmailLogs, nil, "")
	if len(logs) != 0 {
		t.Fatal("confirmed reset must delete the owner's logs")
	}
}

func TestBatchSend(t *testing.T) {
	server, _ := newTestServer(&stubSource{})
	body := []byte(`{"messages":[{"from":"me@own.io","to":["a@acme.io"],"subject":"hi","text":"hello"},{"from":"me@own.io","to":["b@beta.io"],"subject":"yo","text":"hello"}]}`)

	w := httptest.NewRecorder()
	server.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/emails/batch", bytes.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	results, _ := decodeBody(t, w)["results"].([]any)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	first, _ := results[0].(map[string]any)
	if first["id"] != "sent_0" {
		t.Fatalf("unexpected result: %v", first)
	}
}

func TestBatchSendRequiresMessages(t *testing.T) {
	server, _ := newTestServer(&stubSource{})
	w := httptest.NewRecorder()
	server.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/emails/batch", bytes.NewReader([]byte(`{"messages":[]}`))))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestBodyLimit(t *testing.T) {
	source := &stubSource{}
	store := recordstore.NewMemoryStore()
	quiet := log.New(io.Discard, "", 0)
	engine := reconcile.NewEngine(reconcile.Options{Store: store, Source: source, Owner: "user_1", Logger: quiet})
	processor := webhook.NewProcessor(webhook.ProcessorOptions{Store: store, Source: source, Owner: "user_1", Logger: quiet})
	server := NewServer(engine, processor, source, ServerConfig{WebhookSecret: testWebhookSecret, MaxBodyBytes: 64})
	server.logger = quiet

	w := httptest.NewRecorder()
	oversized := bytes.Repeat([]byte("x"), 128)
	server.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/sync", bytes.NewReader(oversized)))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	server, _ := newTestServer(&stubSource{})
	w := httptest.NewRecorder()
	server.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/companies", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
