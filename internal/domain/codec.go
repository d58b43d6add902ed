package domain

import (
	"github.com/appliflow/appliflow/internal/recordstore"
)

// The record store holds untyped field maps; these codecs translate between
// the typed model and stored data. Optional timestamp fields round-trip as
// ISO-8601 strings, nil when absent.

func CompanyData(c Company) map[string]any {
	return map[string]any{
		"owner":   c.Owner,
		"domain":  c.Domain,
		"name":    c.Name,
		"website": c.Website,
	}
}

func CompanyFromRecord(rec recordstore.Record) Company {
	return Company{
		ID:      rec.ID,
		Owner:   getString(rec.Data, "owner"),
		Domain:  getString(rec.Data, "domain"),
		Name:    getString(rec.Data, "name"),
		Website: getString(rec.Data, "website"),
		Created: rec.Created,
	}
}

func ApplicationData(a Application) map[string]any {
	return map[string]any{
		"owner":             a.Owner,
		"company":           a.CompanyID,
		"position":          a.Position,
		"status":            string(a.Status),
		"first_contact_at":  stringOrNil(a.FirstContactAt),
		"last_activity_at":  stringOrNil(a.LastActivityAt),
		"last_follow_up_at": stringOrNil(a.LastFollowUpAt),
		"follow_up_count":   a.FollowUpCount,
	}
}

func ApplicationFromRecord(rec recordstore.Record) Application {
	return Application{
		ID:             rec.ID,
		Owner:          getString(rec.Data, "owner"),
		CompanyID:      getString(rec.Data, "company"),
		Position:       getString(rec.Data, "position"),
		Status:         ApplicationStatus(getString(rec.Data, "status")),
		FirstContactAt: getStringPtr(rec.Data, "first_contact_at"),
		LastActivityAt: getStringPtr(rec.Data, "last_activity_at"),
		LastFollowUpAt: getStringPtr(rec.Data, "last_follow_up_at"),
		FollowUpCount:  getInt(rec.Data, "follow_up_count"),
		Created:        rec.Created,
	}
}

func EmailLogData(l EmailLog) map[string]any {
	return map[string]any{
		"owner":       l.Owner,
		"external_id": l.ExternalID,
		"provider":    l.Provider,
		"direction":   string(l.Direction),
		"sender":      l.Sender,
		"recipient":   l.Recipient,
		"subject":     l.Subject,
		"status":      l.Status,
		"sent_at":     stringOrNil(l.SentAt),
		"raw_payload": l.RawPayload,
		"company":     l.CompanyID,
		"application": l.ApplicationID,
	}
}

func EmailLogFromRecord(rec recordstore.Record) EmailLog {
	return EmailLog{
		ID:            rec.ID,
		Owner:         getString(rec.Data, "owner"),
		ExternalID:    getString(rec.Data, "external_id"),
		Provider:      getString(rec.Data, "provider"),
		Direction:     Direction(getString(rec.Data, "direction")),
		Sender:        getString(rec.Data, "sender"),
		Recipient:     getString(rec.Data, "recipient"),
		Subject:       getString(rec.Data, "subject"),
		Status:        getString(rec.Data, "status"),
		SentAt:        getStringPtr(rec.Data, "sent_at"),
		RawPayload:    getMap(rec.Data, "raw_payload"),
		CompanyID:     getString(rec.Data, "company"),
		ApplicationID: getString(rec.Data, "application"),
		Created:       rec.Created,
	}
}

func EmailData(e Email) map[string]any {
	return map[string]any{
		"owner":           e.Owner,
		"resend_id":       e.ResendID,
		"from":            e.From,
		"to":              e.To,
		"subject":         e.Subject,
		"html":            e.HTML,
		"text":            e.Text,
		"status":          e.Status,
		"sent_at":         stringOrNil(e.SentAt),
		"delivered_at":    stringOrNil(e.DeliveredAt),
		"opened_at":       stringOrNil(e.OpenedAt),
		"clicked_at":      stringOrNil(e.ClickedAt),
		"bounced_at":      stringOrNil(e.BouncedAt),
		"content_fetched": e.ContentFetched,
	}
}

func EmailFromRecord(rec recordstore.Record) Email {
	return Email{
		ID:             rec.ID,
		Owner:          getString(rec.Data, "owner"),
		ResendID:       getString(rec.Data, "resend_id"),
		From:           getString(rec.Data, "from"),
		To:             getStringSlice(rec.Data, "to"),
		Subject:        getString(rec.Data, "subject"),
		HTML:           getString(rec.Data, "html"),
		Text:           getString(rec.Data, "text"),
		Status:         getString(rec.Data, "status"),
		SentAt:         getStringPtr(rec.Data, "sent_at"),
		DeliveredAt:    getStringPtr(rec.Data, "delivered_at"),
		OpenedAt:       getStringPtr(rec.Data, "opened_at"),
		ClickedAt:      getStringPtr(rec.Data, "clicked_at"),
		BouncedAt:      getStringPtr(rec.Data, "bounced_at"),
		ContentFetched: getBool(rec.Data, "content_fetched"),
		Created:        rec.Created,
	}
}

func ResponseData(r Response) map[string]any {
	return map[string]any{
		"owner":        r.Owner,
		"email_log":    r.EmailLogID,
		"type":         string(r.Type),
		"sender_email": r.SenderEmail,
		"subject":      r.Subject,
		"received_at":  stringOrNil(r.ReceivedAt),
		"company":      r.CompanyID,
		"application":  r.ApplicationID,
	}
}

func ResponseFromRecord(rec recordstore.Record) Response {
	return Response{
		ID:            rec.ID,
		Owner:         getString(rec.Data, "owner"),
		EmailLogID:    getString(rec.Data, "email_log"),
		Type:          ResponseType(getString(rec.Data, "type")),
		SenderEmail:   getString(rec.Data, "sender_email"),
		Subject:       getString(rec.Data, "subject"),
		ReceivedAt:    getStringPtr(rec.Data, "received_at"),
		CompanyID:     getString(rec.Data, "company"),
		ApplicationID: getString(rec.Data, "application"),
		Created:       rec.Created,
	}
}

func SyncLogData(s SyncLog) map[string]any {
	counters := map[string]any{}
	for name, value := range s.Counters {
		counters[name] = value
	}
	return map[string]any{
		"owner":       s.Owner,
		"sync_type":   s.SyncType,
		"status":      s.Status,
		"error":       s.Error,
		"counters":    counters,
		"started_at":  stringOrNil(s.StartedAt),
		"finished_at": stringOrNil(s.FinishedAt),
	}
}

func SyncLogFromRecord(rec recordstore.Record) SyncLog {
	counters := map[string]int{}
	for name, value := range getMap(rec.Data, "counters") {
		counters[name] = toInt(value)
	}
	return SyncLog{
		ID:         rec.ID,
		Owner:      getString(rec.Data, "owner"),
		SyncType:   getString(rec.Data, "sync_type"),
		Status:     getString(rec.Data, "status"),
		Error:      getString(rec.Data, "error"),
		Counters:   counters,
		StartedAt:  getStringPtr(rec.Data, "started_at"),
		FinishedAt: getStringPtr(rec.Data, "finished_at"),
		Created:    rec.Created,
	}
}

func getString(data map[string]any, key string) string {
	if value, ok := data[key].(string); ok {
		return value
	}
	return ""
}

func getStringPtr(data map[string]any, key string) *string {
	if value, ok := data[key].(string); ok && value != "" {
		return &value
	}
	return nil
}

func getStringSlice(data map[string]any, key string) []string {
	switch typed := data[key].(type) {
	case []string:
		return typed
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func getInt(data map[string]any, key string) int {
	return toInt(data[key])
}

func toInt(value any) int {
	switch typed := value.(type) {
	case int:
		return typed
	case int64:
		return int(typed)
	case float64:
		return int(typed)
	}
	return 0
}

func getBool(data map[string]any, key string) bool {
	if value, ok := data[key].(bool); ok {
		return value
	}
	return false
}

func getMap(data map[string]any, key string) map[string]any {
	if value, ok := data[key].(map[string]any); ok {
		return value
	}
	return nil
}

func stringOrNil(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}
