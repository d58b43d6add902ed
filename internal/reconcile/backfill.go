package reconcile

import (
	"context"

	"github.com/appliflow/appliflow/internal/domain"
	"github.com/appliflow/appliflow/internal/recordstore"
)

// Provider event statuses that propagate to a linked application. Other
// statuses touch only the email log.
var eventStatusToApplicationStatus = map[string]domain.ApplicationStatus{
	"delivered": domain.StatusDelivered,
	"opened":    domain.StatusOpened,
	"clicked":   domain.StatusClicked,
	"bounced":   domain.StatusBounced,
}

// BackfillDates re-fetches each outbound log's authoritative timestamp from
// the provider and overwrites sent_at when the normalized value differs.
// Individual fetch failures are logged and the loop continues.
func (e *Engine) BackfillDates(ctx context.Context) (PassResult, error) {
	var result PassResult
	records, err := e.outboundLogsWithExternalID(ctx)
	if err != nil {
		return result, err
	}
	for _, rec := range records {
		logEntry := domain.EmailLogFromRecord(rec)
		detail, err := e.source.GetEventDetail(ctx, logEntry.ExternalID)
		if err != nil {
			result.Failed++
			e.logger.Printf("reconcile: backfill date %s: %v", logEntry.ExternalID, err)
			continue
		}
		normalized := NormalizeDate(detail.CreatedAt)
		if equalDatePtr(normalized, logEntry.SentAt) {
			result.Skipped++
			continue
		}
		patch := map[string]any{"sent_at": nil}
		if normalized != nil {
			patch["sent_at"] = *normalized
		}
		if _, err := e.store.Update(ctx, domain.CollectionEmailLogs, rec.ID, patch); err != nil {
			result.Failed++
			e.logger.Printf("reconcile: backfill date %s: %v", logEntry.ExternalID, err)
			continue
		}
		result.Updated++
	}
	return result, nil
}

// BackfillStatuses is the status counterpart of BackfillDates. When a log's
// status changes and the new status appears in the event-to-status table,
// the transition propagates to the linked application and last_activity_at
// is stamped with the current time.
func (e *Engine) BackfillStatuses(ctx context.Context) (PassResult, error) {
	var result PassResult
	records, err := e.outboundLogsWithExternalID(ctx)
	if err != nil {
		return result, err
	}
	for _, rec := range records {
		logEntry := domain.EmailLogFromRecord(rec)
		detail, err := e.source.GetEventDetail(ctx, logEntry.ExternalID)
		if err != nil {
			result.Failed++
			e.logger.Printf("reconcile: backfill status %s: %v", logEntry.ExternalID, err)
			continue
		}
		if detail.LastEvent == "" || detail.LastEvent == logEntry.Status {
			result.Skipped++
			continue
		}
		if _, err := e.store.Update(ctx, domain.CollectionEmailLogs, rec.ID, map[string]any{
			"status": detail.LastEvent,
		}); err != nil {
			result.Failed++
			e.logger.Printf("reconcile: backfill status %s: %v", logEntry.ExternalID, err)
			continue
		}
		result.Updated++

		applicationStatus, propagates := eventStatusToApplicationStatus[detail.LastEvent]
		if !propagates || logEntry.ApplicationID == "" {
			continue
		}
		if _, err := e.store.Update(ctx, domain.CollectionApplications, logEntry.ApplicationID, map[string]any{
			"status":           string(applicationStatus),
			"last_activity_at": e.nowISO(),
		}); err != nil {
			result.Failed++
			e.logger.Printf("reconcile: propagate status to application %s: %v", logEntry.ApplicationID, err)
		}
	}
	return result, nil
}

func (e *Engine) outboundLogsWithExternalID(ctx context.Context) ([]recordstore.Record, error) {
	records, err := e.store.GetFullList(ctx, domain.CollectionEmailLogs, recordstore.Filter{
		"owner":     e.owner,
		"direction": string(domain.DirectionOutbound),
		"provider":  e.provider,
	}, "created")
	if err != nil {
		return nil, err
	}
	filtered := records[:0]
	for _, rec := range records {
		if domain.EmailLogFromRecord(rec).ExternalID != "" {
			filtered = append(filtered, rec)
		}
	}
	return filtered, nil
}

// ResetResult reports how many records each collection lost.
type ResetResult struct {
	EmailLogs    int `json:"emailLogs"`
	Responses    int `json:"responses"`
	Applications int `json:"applications"`
	Companies    int `json:"companies"`
}

// Reset deletes all of the owner's reconciliation data: email logs first,
// then responses, applications and companies. Irreversible; running it
// against an already-empty state is a no-op.
func (e *Engine) Reset(ctx context.Context) (ResetResult, error) {
	var result ResetResult
	steps := []struct {
		collection string
		count      *int
	}{
		{domain.CollectionEmailLogs, &result.EmailLogs},
		{domain.CollectionResponses, &result.Responses},
		{domain.CollectionApplications, &result.Applications},
		{domain.CollectionCompanies, &result.Companies},
	}
	for _, step := range steps {
		records, err := e.store.GetFullList(ctx, step.collection, recordstore.Filter{
			"owner": e.owner,
		}, "created")
		if err != nil {
			return result, err
		}
		for _, rec := range records {
			if err := e.store.Delete(ctx, step.collection, rec.ID); err != nil {
				e.logger.Printf("reconcile: reset delete %s/%s: %v", step.collection, rec.ID, err)
				continue
			}
			*step.count++
		}
	}
	return result, nil
}
