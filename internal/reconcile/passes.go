package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/appliflow/appliflow/internal/classify"
	"github.com/appliflow/appliflow/internal/domain"
	"github.com/appliflow/appliflow/internal/identity"
	"github.com/appliflow/appliflow/internal/recordstore"
	"github.com/appliflow/appliflow/internal/resend"
)

// MirrorOutbound pages through sent events and mirrors each into an outbound
// EmailLog keyed by (external_id, provider). Existing logs only get a status
// refresh; nothing is duplicated on re-run. A listing failure aborts the
// pass, per-item store failures are logged and counted.
func (e *Engine) MirrorOutbound(ctx context.Context, since, until *time.Time) (PassResult, error) {
	var result PassResult
	events, err := e.source.ListAllSent(ctx, since, until)
	if err != nil {
		return result, fmt.Errorf("list sent events: %w", err)
	}
	for _, event := range events {
		if err := e.mirrorOutboundEvent(ctx, event, &result); err != nil {
			result.Failed++
			e.logger.Printf("reconcile: mirror outbound %s: %v", event.ID, err)
		}
	}
	return result, nil
}

func (e *Engine) mirrorOutboundEvent(ctx context.Context, event resend.Event, result *PassResult) error {
	rec, err := e.store.GetFirstMatching(ctx, domain.CollectionEmailLogs, recordstore.Filter{
		"owner":       e.owner,
		"external_id": event.ID,
		"provider":    e.provider,
	}, "")
	if errors.Is(err, recordstore.ErrNoMatch) {
		logEntry := domain.EmailLog{
			Owner:      e.owner,
			ExternalID: event.ID,
			Provider:   e.provider,
			Direction:  domain.DirectionOutbound,
			Sender:     event.From,
			Recipient:  firstRecipient(event.To),
			Subject:    event.Subject,
			Status:     event.LastEvent,
			SentAt:     NormalizeDate(event.CreatedAt),
			RawPayload: event.Raw,
		}
		if _, err := e.store.Create(ctx, domain.CollectionEmailLogs, domain.EmailLogData(logEntry)); err != nil {
			return err
		}
		result.Created++
		return nil
	}
	if err != nil {
		return err
	}
	existing := domain.EmailLogFromRecord(rec)
	if event.LastEvent != "" && existing.Status != event.LastEvent {
		if _, err := e.store.Update(ctx, domain.CollectionEmailLogs, rec.ID, map[string]any{
			"status": event.LastEvent,
		}); err != nil {
			return err
		}
		result.Updated++
		return nil
	}
	result.Skipped++
	return nil
}

// MirrorInbound mirrors received events into inbound EmailLogs. The log's
// sender is the external party. Inbound logs are immutable once observed:
// an existing external_id is skipped, never updated.
func (e *Engine) MirrorInbound(ctx context.Context, since, until *time.Time) (PassResult, error) {
	var result PassResult
	events, err := e.source.ListAllReceived(ctx, since, until)
	if err != nil {
		return result, fmt.Errorf("list received events: %w", err)
	}
	for _, event := range events {
		if err := e.mirrorInboundEvent(ctx, event, &result); err != nil {
			result.Failed++
			e.logger.Printf("reconcile: mirror inbound %s: %v", event.ID, err)
		}
	}
	return result, nil
}

func (e *Engine) mirrorInboundEvent(ctx context.Context, event resend.Event, result *PassResult) error {
	_, err := e.store.GetFirstMatching(ctx, domain.CollectionEmailLogs, recordstore.Filter{
		"owner":       e.owner,
		"external_id": event.ID,
		"provider":    e.provider,
	}, "")
	if err == nil {
		result.Skipped++
		return nil
	}
	if !errors.Is(err, recordstore.ErrNoMatch) {
		return err
	}
	logEntry := domain.EmailLog{
		Owner:      e.owner,
		ExternalID: event.ID,
		Provider:   e.provider,
		Direction:  domain.DirectionInbound,
		Sender:     event.From,
		Recipient:  firstRecipient(event.To),
		Subject:    event.Subject,
		Status:     event.LastEvent,
		SentAt:     NormalizeDate(event.CreatedAt),
		RawPayload: event.Raw,
	}
	if _, err := e.store.Create(ctx, domain.CollectionEmailLogs, domain.EmailLogData(logEntry)); err != nil {
		return err
	}
	result.Created++
	return nil
}

// LinkCompanies attaches unlinked EmailLogs to already-existing companies by
// identity key. It never creates companies; creation is CreateCompanies' job.
func (e *Engine) LinkCompanies(ctx context.Context) (PassResult, error) {
	var result PassResult
	records, err := e.store.GetFullList(ctx, domain.CollectionEmailLogs, recordstore.Filter{
		"owner": e.owner,
	}, "created")
	if err != nil {
		return result, err
	}
	for _, rec := range records {
		logEntry := domain.EmailLogFromRecord(rec)
		if logEntry.CompanyID != "" {
			result.Skipped++
			continue
		}
		address := logEntry.Recipient
		if logEntry.Direction == domain.DirectionInbound {
			address = logEntry.Sender
		}
		key := e.matcher.KeyOf(address)
		if key == "" {
			result.Skipped++
			continue
		}
		companyRec, err := e.store.GetFirstMatching(ctx, domain.CollectionCompanies, recordstore.Filter{
			"owner":  e.owner,
			"domain": key,
		}, "")
		if errors.Is(err, recordstore.ErrNoMatch) {
			result.Skipped++
			continue
		}
		if err != nil {
			result.Failed++
			e.logger.Printf("reconcile: link log %s: %v", rec.ID, err)
			continue
		}
		if _, err := e.store.Update(ctx, domain.CollectionEmailLogs, rec.ID, map[string]any{
			"company": companyRec.ID,
		}); err != nil {
			result.Failed++
			e.logger.Printf("reconcile: link log %s: %v", rec.ID, err)
			continue
		}
		result.Updated++
	}
	return result, nil
}

// CompanyPassResult breaks down CreateCompanies outcomes.
type CompanyPassResult struct {
	CompaniesCreated    int `json:"companiesCreated"`
	ApplicationsCreated int `json:"applicationsCreated"`
	LogsLinked          int `json:"logsLinked"`
	Skipped             int `json:"skipped"`
	Failed              int `json:"failed"`
}

// CreateCompanies finds or creates a Company and its latest Application for
// every outbound EmailLog that has no application link yet, then links the
// log to both. A brand-new company always gets a brand-new application;
// repeat contact to an existing company reuses the most recent application
// (creation-time descending, first wins) without creating a second one.
func (e *Engine) CreateCompanies(ctx context.Context) (CompanyPassResult, error) {
	var result CompanyPassResult
	records, err := e.store.GetFullList(ctx, domain.CollectionEmailLogs, recordstore.Filter{
		"owner":     e.owner,
		"direction": string(domain.DirectionOutbound),
	}, "created")
	if err != nil {
		return result, err
	}
	for _, rec := range records {
		logEntry := domain.EmailLogFromRecord(rec)
		if logEntry.ApplicationID != "" {
			result.Skipped++
			continue
		}
		key := e.matcher.KeyOf(logEntry.Recipient)
		if key == "" {
			result.Skipped++
			continue
		}
		if err := e.adoptOutboundLog(ctx, rec.ID, logEntry, key, &result); err != nil {
			result.Failed++
			e.logger.Printf("reconcile: create company for log %s: %v", rec.ID, err)
		}
	}
	return result, nil
}

func (e *Engine) adoptOutboundLog(ctx context.Context, logID string, logEntry domain.EmailLog, key string, result *CompanyPassResult) error {
	company, companyCreated, err := e.findOrCreateCompany(ctx, key)
	if err != nil {
		return err
	}
	if companyCreated {
		result.CompaniesCreated++
	}
	application, applicationCreated, err := e.findOrCreateLatestApplication(ctx, company.ID, companyCreated, logEntry)
	if err != nil {
		return err
	}
	if applicationCreated {
		result.ApplicationsCreated++
	}
	if _, err := e.store.Update(ctx, domain.CollectionEmailLogs, logID, map[string]any{
		"company":     company.ID,
		"application": application.ID,
	}); err != nil {
		return err
	}
	result.LogsLinked++
	return nil
}

func (e *Engine) findOrCreateCompany(ctx context.Context, key string) (domain.Company, bool, error) {
	rec, err := e.store.GetFirstMatching(ctx, domain.CollectionCompanies, recordstore.Filter{
		"owner":  e.owner,
		"domain": key,
	}, "")
	if err == nil {
		return domain.CompanyFromRecord(rec), false, nil
	}
	if !errors.Is(err, recordstore.ErrNoMatch) {
		return domain.Company{}, false, err
	}
	company := domain.Company{
		Owner:  e.owner,
		Domain: key,
		Name:   identity.CompanyNameFromKey(key),
	}
	if !strings.Contains(key, "@") {
		company.Website = "https://" + key
	}
	created, err := e.store.Create(ctx, domain.CollectionCompanies, domain.CompanyData(company))
	if err != nil {
		return domain.Company{}, false, err
	}
	return domain.CompanyFromRecord(created), true, nil
}

// findOrCreateLatestApplication returns the company's most recent
// application, creating one when the company is new or has none.
func (e *Engine) findOrCreateLatestApplication(ctx context.Context, companyID string, companyCreated bool, logEntry domain.EmailLog) (domain.Application, bool, error) {
	if !companyCreated {
		rec, err := e.store.GetFirstMatching(ctx, domain.CollectionApplications, recordstore.Filter{
			"owner":   e.owner,
			"company": companyID,
		}, "-created")
		if err == nil {
			return domain.ApplicationFromRecord(rec), false, nil
		}
		if !errors.Is(err, recordstore.ErrNoMatch) {
			return domain.Application{}, false, err
		}
	}
	firstContact := logEntry.SentAt
	if firstContact == nil {
		now := e.nowISO()
		firstContact = &now
	}
	application := domain.Application{
		Owner:          e.owner,
		CompanyID:      companyID,
		Position:       classify.ExtractPosition(logEntry.Subject),
		Status:         domain.StatusSent,
		FirstContactAt: firstContact,
		LastActivityAt: firstContact,
	}
	created, err := e.store.Create(ctx, domain.CollectionApplications, domain.ApplicationData(application))
	if err != nil {
		return domain.Application{}, false, err
	}
	return domain.ApplicationFromRecord(created), true, nil
}

// ResponsePassResult breaks down CreateResponses outcomes.
type ResponsePassResult struct {
	Created       int `json:"created"`
	StatusUpdates int `json:"statusUpdates"`
	Skipped       int `json:"skipped"`
	Failed        int `json:"failed"`
}

// CreateResponses classifies every inbound EmailLog into a Response record.
// At most one Response exists per log: an already-covered log is skipped
// outright, which is what makes re-runs idempotent. Companies are required
// to exist already (CreateCompanies' job); the company's latest application,
// when present, gets a status transition only if it actually changes.
func (e *Engine) CreateResponses(ctx context.Context) (ResponsePassResult, error) {
	var result ResponsePassResult
	records, err := e.store.GetFullList(ctx, domain.CollectionEmailLogs, recordstore.Filter{
		"owner":     e.owner,
		"direction": string(domain.DirectionInbound),
	}, "created")
	if err != nil {
		return result, err
	}
	for _, rec := range records {
		if err := e.respondToInboundLog(ctx, rec, &result); err != nil {
			result.Failed++
			e.logger.Printf("reconcile: create response for log %s: %v", rec.ID, err)
		}
	}
	return result, nil
}

func (e *Engine) respondToInboundLog(ctx context.Context, rec recordstore.Record, result *ResponsePassResult) error {
	logEntry := domain.EmailLogFromRecord(rec)
	_, err := e.store.GetFirstMatching(ctx, domain.CollectionResponses, recordstore.Filter{
		"owner":     e.owner,
		"email_log": rec.ID,
	}, "")
	if err == nil {
		result.Skipped++
		return nil
	}
	if !errors.Is(err, recordstore.ErrNoMatch) {
		return err
	}

	key := e.matcher.KeyOf(logEntry.Sender)
	companyRec, err := e.store.GetFirstMatching(ctx, domain.CollectionCompanies, recordstore.Filter{
		"owner":  e.owner,
		"domain": key,
	}, "")
	if errors.Is(err, recordstore.ErrNoMatch) {
		result.Skipped++
		return nil
	}
	if err != nil {
		return err
	}

	applicationID := ""
	var application domain.Application
	appRec, err := e.store.GetFirstMatching(ctx, domain.CollectionApplications, recordstore.Filter{
		"owner":   e.owner,
		"company": companyRec.ID,
	}, "-created")
	switch {
	case err == nil:
		application = domain.ApplicationFromRecord(appRec)
		applicationID = appRec.ID
	case errors.Is(err, recordstore.ErrNoMatch):
		// A response without a tracked application is still recorded.
	default:
		return err
	}

	responseType := classify.Classify(logEntry.Subject)
	response := domain.Response{
		Owner:         e.owner,
		EmailLogID:    rec.ID,
		Type:          responseType,
		SenderEmail:   logEntry.Sender,
		Subject:       logEntry.Subject,
		ReceivedAt:    logEntry.SentAt,
		CompanyID:     companyRec.ID,
		ApplicationID: applicationID,
	}
	if _, err := e.store.Create(ctx, domain.CollectionResponses, domain.ResponseData(response)); err != nil {
		return err
	}
	result.Created++

	if applicationID == "" {
		return nil
	}
	status := classify.StatusForResponseType(responseType)
	if status == "" || status == application.Status {
		return nil
	}
	if _, err := e.store.Update(ctx, domain.CollectionApplications, applicationID, map[string]any{
		"status":           string(status),
		"last_activity_at": e.nowISO(),
	}); err != nil {
		return err
	}
	result.StatusUpdates++
	return nil
}

// FullSyncResult aggregates the combined sync's pass counters.
type FullSyncResult struct {
	Outbound  PassResult         `json:"outbound"`
	Companies CompanyPassResult  `json:"companies"`
	Responses ResponsePassResult `json:"responses"`
}

// FullSync runs MirrorOutbound, CreateCompanies and CreateResponses in
// sequence. Inbound mirroring and company linking remain separate
// invocations; later passes here depend only on data the earlier ones wrote.
func (e *Engine) FullSync(ctx context.Context, since, until *time.Time) (FullSyncResult, error) {
	var result FullSyncResult
	outbound, err := e.MirrorOutbound(ctx, since, until)
	result.Outbound = outbound
	if err != nil {
		return result, err
	}
	companies, err := e.CreateCompanies(ctx)
	result.Companies = companies
	if err != nil {
		return result, err
	}
	responses, err := e.CreateResponses(ctx)
	result.Responses = responses
	if err != nil {
		return result, err
	}
	return result, nil
}
