package domain

import "time"

// Collection names in the record store.
const (
	CollectionCompanies    = "companies"
	CollectionApplications = "applications"
	CollectionEmailLogs    = "email_logs"
	CollectionEmails       = "emails"
	CollectionResponses    = "responses"
	CollectionSyncLogs     = "sync_logs"
)

type ApplicationStatus string

const (
	StatusSent                   ApplicationStatus = "sent"
	StatusDelivered              ApplicationStatus = "delivered"
	StatusOpened                 ApplicationStatus = "opened"
	StatusClicked                ApplicationStatus = "clicked"
	StatusResponded              ApplicationStatus = "responded"
	StatusInterview              ApplicationStatus = "interview"
	StatusOffer                  ApplicationStatus = "offer"
	StatusRejected               ApplicationStatus = "rejected"
	StatusRejectedLater          ApplicationStatus = "rejected_later"
	StatusRejectedAfterInterview ApplicationStatus = "rejected_after_interview"
	StatusBounced                ApplicationStatus = "bounced"
	StatusFailed                 ApplicationStatus = "failed"
	StatusCanceled               ApplicationStatus = "canceled"
	StatusComplained             ApplicationStatus = "complained"
	StatusDeliveryDelayed        ApplicationStatus = "delivery_delayed"
	StatusQueued                 ApplicationStatus = "queued"
	StatusScheduled              ApplicationStatus = "scheduled"
	StatusSuppressed             ApplicationStatus = "suppressed"
)

type ResponseType string

const (
	ResponsePositive  ResponseType = "positive"
	ResponseNegative  ResponseType = "negative"
	ResponseInterview ResponseType = "interview"
	ResponseOffer     ResponseType = "offer"
	ResponseInfo      ResponseType = "info"
	ResponseOther     ResponseType = "other"
)

type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// Sync log lifecycle states.
const (
	SyncStatusRunning   = "running"
	SyncStatusCompleted = "completed"
	SyncStatusFailed    = "failed"
)

// Sync trigger types accepted by the sync endpoint.
const (
	SyncTypeFull         = "full"
	SyncTypeSentOnly     = "sent_only"
	SyncTypeReceivedOnly = "received_only"
)

// Company is deduplicated by its identity key, stored in Domain: the email
// domain, or the full address for consumer webmail senders.
type Company struct {
	ID      string
	Owner   string
	Domain  string
	Name    string
	Website string
	Created time.Time
}

type Application struct {
	ID             string
	Owner          string
	CompanyID      string
	Position       string
	Status         ApplicationStatus
	FirstContactAt *string
	LastActivityAt *string
	LastFollowUpAt *string
	FollowUpCount  int
	Created        time.Time
}

// EmailLog is one observed provider event. Outbound logs are deduplicated by
// (ExternalID, Provider); inbound logs are append-only.
type EmailLog struct {
	ID            string
	Owner         string
	ExternalID    string
	Provider      string
	Direction     Direction
	Sender        string
	Recipient     string
	Subject       string
	Status        string
	SentAt        *string
	RawPayload    map[string]any
	CompanyID     string
	ApplicationID string
	Created       time.Time
}

// Email is the content-bearing mirror of one provider message, keyed by the
// provider message ID. Body content is fetched once and cached permanently.
type Email struct {
	ID             string
	Owner          string
	ResendID       string
	From           string
	To             []string
	Subject        string
	HTML           string
	Text           string
	Status         string
	SentAt         *string
	DeliveredAt    *string
	OpenedAt       *string
	ClickedAt      *string
	BouncedAt      *string
	ContentFetched bool
	Created        time.Time
}

// Response is a classified inbound reply; at most one per EmailLog.
type Response struct {
	ID            string
	Owner         string
	EmailLogID    string
	Type          ResponseType
	SenderEmail   string
	Subject       string
	ReceivedAt    *string
	CompanyID     string
	ApplicationID string
	Created       time.Time
}

type SyncLog struct {
	ID         string
	Owner      string
	SyncType   string
	Status     string
	Error      string
	Counters   map[string]int
	StartedAt  *string
	FinishedAt *string
	Created    time.Time
}
