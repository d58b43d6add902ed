// Package httpapi exposes the webhook and sync trigger endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/appliflow/appliflow/internal/domain"
	"github.com/appliflow/appliflow/internal/reconcile"
	"github.com/appliflow/appliflow/internal/recordstore"
	"github.com/appliflow/appliflow/internal/resend"
	"github.com/appliflow/appliflow/internal/webhook"
)

type ServerConfig struct {
	WebhookSecret  string
	WebhookMaxSkew time.Duration
	MaxBodyBytes   int64
}

// Sender issues outbound mail in bounded concurrent groups.
type Sender interface {
	BatchSend(ctx context.Context, msgs []resend.Message) ([]resend.SendResult, []error)
}

type Server struct {
	engine    *reconcile.Engine
	processor *webhook.Processor
	sender    Sender
	cfg       ServerConfig
	logger    *log.Logger
}

func NewServer(engine *reconcile.Engine, processor *webhook.Processor, sender Sender, cfg ServerConfig) *Server {
	if cfg.WebhookMaxSkew <= 0 {
		cfg.WebhookMaxSkew = 5 * time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Server{
		engine:    engine,
		processor: processor,
		sender:    sender,
		cfg:       cfg,
		logger:    log.Default(),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/health" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case r.URL.Path == "/webhooks/resend" && r.Method == http.MethodPost:
		s.handleWebhook(w, r)
	case r.URL.Path == "/v1/sync" && r.Method == http.MethodPost:
		s.handleSyncTrigger(w, r)
	case r.URL.Path == "/v1/sync" && r.Method == http.MethodGet:
		s.handleSyncList(w, r)
	case r.URL.Path == "/v1/sync/latest" && r.Method == http.MethodGet:
		s.handleSyncLatest(w, r)
	case strings.HasPrefix(r.URL.Path, "/v1/sync/reset") && r.Method == http.MethodPost:
		s.handleReset(w, r)
	case strings.HasPrefix(r.URL.Path, "/v1/sync/") && r.Method == http.MethodGet:
		s.handleSyncStatus(w, r, strings.TrimPrefix(r.URL.Path, "/v1/sync/"))
	case r.URL.Path == "/v1/emails/batch" && r.Method == http.MethodPost:
		s.handleBatchSend(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

// handleWebhook rejects unauthenticated pushes outright, then acknowledges
// everything: a processing failure after signature verification still gets a
// 200 so the provider does not retry-storm. Errors are logged, not returned.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	if err := webhook.VerifySignature(
		s.cfg.WebhookSecret,
		r.Header.Get(webhook.HeaderID),
		r.Header.Get(webhook.HeaderTimestamp),
		r.Header.Get(webhook.HeaderSignature),
		body,
		time.Now().UTC(),
		s.cfg.WebhookMaxSkew,
	); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	ack, err := s.processor.Process(r.Context(), body)
	if err != nil {
		s.logger.Printf("httpapi: webhook processing failed: %v", err)
		writeJSON(w, http.StatusOK, map[string]any{
			"success":      false,
			"error":        err.Error(),
			"acknowledged": true,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"action":       ack.Action,
		"acknowledged": true,
	})
}

type syncTriggerRequest struct {
	SyncType string `json:"syncType"`
	DateFrom string `json:"dateFrom"`
	DateTo   string `json:"dateTo"`
	UserID   string `json:"userId"`
}

// handleSyncTrigger records the sync log and returns immediately; the
// reconciliation work runs detached from the request context.
func (s *Server) handleSyncTrigger(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	var req syncTriggerRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	dateFrom, err := parseOptionalDate(req.DateFrom)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid dateFrom")
		return
	}
	dateTo, err := parseOptionalDate(req.DateTo)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid dateTo")
		return
	}
	syncReq := reconcile.SyncRequest{
		SyncType: req.SyncType,
		DateFrom: dateFrom,
		DateTo:   dateTo,
		UserID:   req.UserID,
	}
	syncID, err := s.engine.Trigger(r.Context(), syncReq)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	go s.engine.Run(context.Background(), syncID, syncReq)
	writeJSON(w, http.StatusAccepted, map[string]string{"syncId": syncID})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request, syncID string) {
	syncLog, err := s.engine.GetSyncLog(r.Context(), syncID)
	if errors.Is(err, recordstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "sync log not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, syncLogView(syncLog))
}

func (s *Server) handleSyncLatest(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	syncLog, err := s.engine.LatestSyncLog(r.Context(), userID)
	if errors.Is(err, recordstore.ErrNoMatch) {
		writeError(w, http.StatusNotFound, "not_found", "no sync log for user")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, syncLogView(syncLog))
}

func (s *Server) handleSyncList(w http.ResponseWriter, r *http.Request) {
	engine := s.engine
	if userID := strings.TrimSpace(r.URL.Query().Get("userId")); userID != "" {
		engine = engine.WithOwner(userID)
	}
	logs, err := engine.ListSyncLogs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	views := make([]map[string]any, 0, len(logs))
	for _, syncLog := range logs {
		views = append(views, syncLogView(syncLog))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": views})
}

type resetRequest struct {
	UserID  string `json:"userId"`
	Confirm bool   `json:"confirm"`
}

// handleReset is the destructive all-or-nothing wipe. The confirm flag is
// the explicit gate the engine itself does not provide.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	var req resetRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	if !req.Confirm {
		writeError(w, http.StatusBadRequest, "confirmation_required", "reset requires confirm=true")
		return
	}
	result, err := s.engine.WithOwner(req.UserID).Reset(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"deleted": result,
	})
}

type batchSendRequest struct {
	Messages []resend.Message `json:"messages"`
}

func (s *Server) handleBatchSend(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	var req batchSendRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "messages is required")
		return
	}
	results, errs := s.sender.BatchSend(r.Context(), req.Messages)
	items := make([]map[string]any, len(results))
	for i := range results {
		item := map[string]any{"id": results[i].ID}
		if errs[i] != nil {
			item["error"] = errs[i].Error()
		}
		items[i] = item
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": items})
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
		return nil, false
	}
	if int64(len(body)) > s.cfg.MaxBodyBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body exceeds limit")
		return nil, false
	}
	return body, true
}

func syncLogView(syncLog domain.SyncLog) map[string]any {
	return map[string]any{
		"id":         syncLog.ID,
		"userId":     syncLog.Owner,
		"syncType":   syncLog.SyncType,
		"status":     syncLog.Status,
		"error":      syncLog.Error,
		"counters":   syncLog.Counters,
		"startedAt":  syncLog.StartedAt,
		"finishedAt": syncLog.FinishedAt,
	}
}

func parseOptionalDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return &ts, nil
		}
	}
	return nil, errors.New("invalid date")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
