package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/appliflow/appliflow/internal/classify"
	"github.com/appliflow/appliflow/internal/domain"
	"github.com/appliflow/appliflow/internal/identity"
	"github.com/appliflow/appliflow/internal/reconcile"
	"github.com/appliflow/appliflow/internal/recordstore"
	"github.com/appliflow/appliflow/internal/resend"
)

// Event is the provider's push payload.
type Event struct {
	Type      string    `json:"type"`
	CreatedAt string    `json:"created_at"`
	Data      EventData `json:"data"`
}

type EventData struct {
	EmailID   string          `json:"email_id"`
	From      string          `json:"from"`
	To        []string        `json:"to"`
	Subject   string          `json:"subject"`
	CreatedAt string          `json:"created_at"`
	Headers   []MessageHeader `json:"headers"`
}

type MessageHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Ack describes what processing did; it is returned to the provider inside
// an always-200 acknowledgement.
type Ack struct {
	Action        string `json:"action"`
	ApplicationID string `json:"applicationId,omitempty"`
	FollowUp      bool   `json:"followUp,omitempty"`
}

const (
	ActionSkippedBcc         = "skipped_bcc"
	ActionEventMirrored      = "event_mirrored"
	ActionApplicationCreated = "application_created"
	ActionFollowUpRecorded   = "follow_up_recorded"
)

// DetailFetcher lazily pulls full message content for the Email mirror.
type DetailFetcher interface {
	GetEventDetail(ctx context.Context, id string) (resend.Detail, error)
}

// Per-event-type timestamp fields on the Email mirror.
var eventTimestampField = map[string]string{
	"email.delivered": "delivered_at",
	"email.opened":    "opened_at",
	"email.clicked":   "clicked_at",
	"email.bounced":   "bounced_at",
}

type ProcessorOptions struct {
	Store      recordstore.Store
	Source     DetailFetcher
	Matcher    *identity.Matcher
	Owner      string
	Provider   string
	OwnDomains []string
	Now        func() time.Time
	Logger     *log.Logger
}

// Processor applies one push event to the record store. Concurrent
// deliveries may race on the same records; the idempotent upserts keep
// re-deliveries from duplicating state.
type Processor struct {
	store      recordstore.Store
	source     DetailFetcher
	matcher    *identity.Matcher
	owner      string
	provider   string
	ownDomains map[string]struct{}
	now        func() time.Time
	logger     *log.Logger
}

func NewProcessor(opts ProcessorOptions) *Processor {
	matcher := opts.Matcher
	if matcher == nil {
		matcher = identity.NewMatcher(nil)
	}
	provider := strings.TrimSpace(opts.Provider)
	if provider == "" {
		provider = "resend"
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	ownDomains := map[string]struct{}{}
	for _, domainName := range opts.OwnDomains {
		domainName = strings.ToLower(strings.TrimSpace(domainName))
		if domainName != "" {
			ownDomains[domainName] = struct{}{}
		}
	}
	return &Processor{
		store:      opts.Store,
		source:     opts.Source,
		matcher:    matcher,
		owner:      strings.TrimSpace(opts.Owner),
		provider:   provider,
		ownDomains: ownDomains,
		now:        now,
		logger:     logger,
	}
}

// Process applies one verified push event. Signature verification happens at
// the HTTP boundary before this is called; errors returned here are logged
// and acknowledged, never surfaced to the provider.
func (p *Processor) Process(ctx context.Context, body []byte) (Ack, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return Ack{}, fmt.Errorf("decode webhook payload: %w", err)
	}
	if event.Data.EmailID == "" {
		return Ack{}, errors.New("webhook payload has no email_id")
	}
	recipient := firstNonEmpty(event.Data.To)

	// A send with Bcc recipients fires one event per recipient for the same
	// logical message; processing the Bcc copies would double-create
	// applications.
	if p.isBccRecipient(event.Data, recipient) {
		return Ack{Action: ActionSkippedBcc}, nil
	}

	skipCreation := p.isOwnDomain(recipient)

	var rawPayload map[string]any
	_ = json.Unmarshal(body, &rawPayload)

	if err := p.mirrorEmail(ctx, event); err != nil {
		p.logger.Printf("webhook: mirror email %s: %v", event.Data.EmailID, err)
	}

	ack := Ack{Action: ActionEventMirrored}
	companyID := ""
	applicationID := ""
	if event.Type == "email.sent" && !skipCreation {
		var err error
		companyID, applicationID, ack, err = p.recordContact(ctx, event)
		if err != nil {
			return ack, err
		}
	}

	if err := p.upsertEmailLog(ctx, event, rawPayload, companyID, applicationID); err != nil {
		return ack, err
	}

	if applicationID != "" {
		if _, err := p.store.Update(ctx, domain.CollectionApplications, applicationID, map[string]any{
			"last_activity_at": p.nowISO(),
		}); err != nil {
			p.logger.Printf("webhook: stamp application %s: %v", applicationID, err)
		}
	}
	return ack, nil
}

func (p *Processor) isBccRecipient(data EventData, recipient string) bool {
	if recipient == "" {
		return false
	}
	needle := strings.ToLower(recipient)
	for _, header := range data.Headers {
		if !strings.EqualFold(header.Name, "bcc") {
			continue
		}
		if strings.Contains(strings.ToLower(header.Value), needle) {
			return true
		}
	}
	return false
}

func (p *Processor) isOwnDomain(address string) bool {
	domainName := identity.DomainOf(address)
	if domainName == "" {
		return false
	}
	_, ok := p.ownDomains[domainName]
	return ok
}

// mirrorEmail maintains the content-bearing Email record for the message:
// created with lazily fetched full content on first sight, patched with the
// event's status and type-specific timestamp afterwards. Fetched content is
// cached permanently, never refetched.
func (p *Processor) mirrorEmail(ctx context.Context, event Event) error {
	status := statusFromEventType(event.Type)
	eventTime := normalizedDateOr(event.CreatedAt, p.nowISO())

	rec, err := p.store.GetFirstMatching(ctx, domain.CollectionEmails, recordstore.Filter{
		"owner":     p.owner,
		"resend_id": event.Data.EmailID,
	}, "")
	if errors.Is(err, recordstore.ErrNoMatch) {
		email := p.buildEmailMirror(ctx, event, status)
		_, err := p.store.Create(ctx, domain.CollectionEmails, domain.EmailData(email))
		return err
	}
	if err != nil {
		return err
	}

	patch := map[string]any{"status": status}
	if field, ok := eventTimestampField[event.Type]; ok {
		patch[field] = eventTime
	}
	_, err = p.store.Update(ctx, domain.CollectionEmails, rec.ID, patch)
	return err
}

func (p *Processor) buildEmailMirror(ctx context.Context, event Event, status string) domain.Email {
	email := domain.Email{
		Owner:    p.owner,
		ResendID: event.Data.EmailID,
		From:     event.Data.From,
		To:       event.Data.To,
		Subject:  event.Data.Subject,
		Status:   status,
		SentAt:   normalizedDate(event.Data.CreatedAt),
	}
	detail, err := p.source.GetEventDetail(ctx, event.Data.EmailID)
	if err != nil {
		// Mirror from the event alone; content stays unfetched.
		p.logger.Printf("webhook: fetch content %s: %v", event.Data.EmailID, err)
		return email
	}
	email.HTML = detail.HTML
	email.Text = detail.Text
	email.ContentFetched = true
	if detail.Subject != "" {
		email.Subject = detail.Subject
	}
	if len(detail.To) > 0 {
		email.To = detail.To
	}
	if detail.From != "" {
		email.From = detail.From
	}
	return email
}

// recordContact runs the find-or-create path for a sent event: a company
// with no application is a first contact and gets a fresh application; an
// existing application makes this a follow-up, bumping follow_up_count and
// last_follow_up_at on the same record.
func (p *Processor) recordContact(ctx context.Context, event Event) (companyID, applicationID string, ack Ack, err error) {
	recipient := firstNonEmpty(event.Data.To)
	key := p.matcher.KeyOf(recipient)
	if key == "" {
		return "", "", Ack{Action: ActionEventMirrored}, nil
	}

	company, err := p.findOrCreateCompany(ctx, key)
	if err != nil {
		return "", "", Ack{Action: ActionEventMirrored}, err
	}

	appRec, err := p.store.GetFirstMatching(ctx, domain.CollectionApplications, recordstore.Filter{
		"owner":   p.owner,
		"company": company.ID,
	}, "-created")
	switch {
	case err == nil:
		application := domain.ApplicationFromRecord(appRec)
		if _, err := p.store.Update(ctx, domain.CollectionApplications, appRec.ID, map[string]any{
			"follow_up_count":   application.FollowUpCount + 1,
			"last_follow_up_at": p.nowISO(),
		}); err != nil {
			return company.ID, appRec.ID, Ack{Action: ActionFollowUpRecorded, ApplicationID: appRec.ID, FollowUp: true}, err
		}
		return company.ID, appRec.ID, Ack{Action: ActionFollowUpRecorded, ApplicationID: appRec.ID, FollowUp: true}, nil
	case errors.Is(err, recordstore.ErrNoMatch):
		firstContact := normalizedDateOr(event.Data.CreatedAt, p.nowISO())
		application := domain.Application{
			Owner:          p.owner,
			CompanyID:      company.ID,
			Position:       classify.ExtractPosition(event.Data.Subject),
			Status:         domain.StatusSent,
			FirstContactAt: &firstContact,
			LastActivityAt: &firstContact,
		}
		created, err := p.store.Create(ctx, domain.CollectionApplications, domain.ApplicationData(application))
		if err != nil {
			return company.ID, "", Ack{Action: ActionEventMirrored}, err
		}
		return company.ID, created.ID, Ack{Action: ActionApplicationCreated, ApplicationID: created.ID}, nil
	default:
		return company.ID, "", Ack{Action: ActionEventMirrored}, err
	}
}

func (p *Processor) findOrCreateCompany(ctx context.Context, key string) (domain.Company, error) {
	rec, err := p.store.GetFirstMatching(ctx, domain.CollectionCompanies, recordstore.Filter{
		"owner":  p.owner,
		"domain": key,
	}, "")
	if err == nil {
		return domain.CompanyFromRecord(rec), nil
	}
	if !errors.Is(err, recordstore.ErrNoMatch) {
		return domain.Company{}, err
	}
	company := domain.Company{
		Owner:  p.owner,
		Domain: key,
		Name:   identity.CompanyNameFromKey(key),
	}
	if !strings.Contains(key, "@") {
		company.Website = "https://" + key
	}
	created, err := p.store.Create(ctx, domain.CollectionCompanies, domain.CompanyData(company))
	if err != nil {
		return domain.Company{}, err
	}
	return domain.CompanyFromRecord(created), nil
}

func (p *Processor) upsertEmailLog(ctx context.Context, event Event, rawPayload map[string]any, companyID, applicationID string) error {
	status := statusFromEventType(event.Type)
	rec, err := p.store.GetFirstMatching(ctx, domain.CollectionEmailLogs, recordstore.Filter{
		"owner":       p.owner,
		"external_id": event.Data.EmailID,
		"provider":    p.provider,
	}, "")
	if errors.Is(err, recordstore.ErrNoMatch) {
		logEntry := domain.EmailLog{
			Owner:         p.owner,
			ExternalID:    event.Data.EmailID,
			Provider:      p.provider,
			Direction:     domain.DirectionOutbound,
			Sender:        event.Data.From,
			Recipient:     firstNonEmpty(event.Data.To),
			Subject:       event.Data.Subject,
			Status:        status,
			SentAt:        normalizedDate(event.Data.CreatedAt),
			RawPayload:    rawPayload,
			CompanyID:     companyID,
			ApplicationID: applicationID,
		}
		_, err := p.store.Create(ctx, domain.CollectionEmailLogs, domain.EmailLogData(logEntry))
		return err
	}
	if err != nil {
		return err
	}

	existing := domain.EmailLogFromRecord(rec)
	patch := map[string]any{"status": status}
	if companyID != "" && existing.CompanyID == "" {
		patch["company"] = companyID
	}
	if applicationID != "" && existing.ApplicationID == "" {
		patch["application"] = applicationID
	}
	_, err = p.store.Update(ctx, domain.CollectionEmailLogs, rec.ID, patch)
	return err
}

func (p *Processor) nowISO() string {
	return p.now().UTC().Format(time.RFC3339)
}

func statusFromEventType(eventType string) string {
	status := strings.TrimPrefix(eventType, "email.")
	if status == "" {
		return "sent"
	}
	return status
}

func firstNonEmpty(values []string) string {
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value != "" {
			return value
		}
	}
	return ""
}

func normalizedDate(raw string) *string {
	return reconcile.NormalizeDate(raw)
}

func normalizedDateOr(raw, fallback string) string {
	if normalized := reconcile.NormalizeDate(raw); normalized != nil {
		return *normalized
	}
	return fallback
}
