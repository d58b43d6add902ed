package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/appliflow/appliflow/internal/domain"
	"github.com/appliflow/appliflow/internal/recordstore"
)

// SyncRequest is one reconciliation trigger. UserID overrides the engine's
// default owner when set.
type SyncRequest struct {
	SyncType string
	DateFrom *time.Time
	DateTo   *time.Time
	UserID   string
}

func validSyncType(syncType string) bool {
	switch syncType {
	case domain.SyncTypeFull, domain.SyncTypeSentOnly, domain.SyncTypeReceivedOnly:
		return true
	}
	return false
}

// Trigger records a running sync log and returns its ID. The actual work
// happens in Run, which the caller launches without blocking on it.
func (e *Engine) Trigger(ctx context.Context, req SyncRequest) (string, error) {
	if !validSyncType(req.SyncType) {
		return "", fmt.Errorf("unsupported sync type: %s", req.SyncType)
	}
	scoped := e.WithOwner(req.UserID)
	started := scoped.nowISO()
	syncLog := domain.SyncLog{
		Owner:     scoped.owner,
		SyncType:  req.SyncType,
		Status:    domain.SyncStatusRunning,
		StartedAt: &started,
	}
	rec, err := scoped.store.Create(ctx, domain.CollectionSyncLogs, domain.SyncLogData(syncLog))
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

// Run executes the requested passes and moves the sync log to a terminal
// state: completed with aggregate counters, or failed with the upstream
// error message. Partial writes from an aborted pass stay applied.
func (e *Engine) Run(ctx context.Context, syncID string, req SyncRequest) {
	scoped := e.WithOwner(req.UserID)
	counters := map[string]int{}
	var runErr error

	switch req.SyncType {
	case domain.SyncTypeFull:
		result, err := scoped.FullSync(ctx, req.DateFrom, req.DateTo)
		result.Outbound.addTo(counters, "outbound")
		counters["companies_created"] += result.Companies.CompaniesCreated
		counters["applications_created"] += result.Companies.ApplicationsCreated
		counters["logs_linked"] += result.Companies.LogsLinked
		counters["responses_created"] += result.Responses.Created
		counters["status_updates"] += result.Responses.StatusUpdates
		runErr = err
	case domain.SyncTypeSentOnly:
		result, err := scoped.MirrorOutbound(ctx, req.DateFrom, req.DateTo)
		result.addTo(counters, "outbound")
		runErr = err
	case domain.SyncTypeReceivedOnly:
		result, err := scoped.MirrorInbound(ctx, req.DateFrom, req.DateTo)
		result.addTo(counters, "inbound")
		runErr = err
	default:
		runErr = fmt.Errorf("unsupported sync type: %s", req.SyncType)
	}

	finished := scoped.nowISO()
	patch := map[string]any{
		"status":      domain.SyncStatusCompleted,
		"finished_at": finished,
		"counters":    countersData(counters),
	}
	if runErr != nil {
		patch["status"] = domain.SyncStatusFailed
		patch["error"] = runErr.Error()
		scoped.logger.Printf("reconcile: sync %s failed: %v", syncID, runErr)
	}
	if _, err := scoped.store.Update(ctx, domain.CollectionSyncLogs, syncID, patch); err != nil {
		scoped.logger.Printf("reconcile: update sync log %s: %v", syncID, err)
	}
}

func countersData(counters map[string]int) map[string]any {
	out := make(map[string]any, len(counters))
	for name, value := range counters {
		out[name] = value
	}
	return out
}

func (e *Engine) GetSyncLog(ctx context.Context, syncID string) (domain.SyncLog, error) {
	rec, err := e.store.GetOne(ctx, domain.CollectionSyncLogs, syncID)
	if err != nil {
		return domain.SyncLog{}, err
	}
	return domain.SyncLogFromRecord(rec), nil
}

// LatestSyncLog returns the most recently created sync log for a user.
func (e *Engine) LatestSyncLog(ctx context.Context, userID string) (domain.SyncLog, error) {
	scoped := e.WithOwner(userID)
	rec, err := scoped.store.GetFirstMatching(ctx, domain.CollectionSyncLogs, recordstore.Filter{
		"owner": scoped.owner,
	}, "-created")
	if err != nil {
		return domain.SyncLog{}, err
	}
	return domain.SyncLogFromRecord(rec), nil
}

// ListSyncLogs returns the owner's sync logs, most recent first.
func (e *Engine) ListSyncLogs(ctx context.Context) ([]domain.SyncLog, error) {
	records, err := e.store.GetFullList(ctx, domain.CollectionSyncLogs, recordstore.Filter{
		"owner": e.owner,
	}, "-created")
	if err != nil {
		return nil, err
	}
	logs := make([]domain.SyncLog, 0, len(records))
	for _, rec := range records {
		logs = append(logs, domain.SyncLogFromRecord(rec))
	}
	return logs, nil
}
