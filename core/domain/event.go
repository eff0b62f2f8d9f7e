package domain

import (
	"fmt"
	"strconv"
)

// Stream names. Four ordered streams connect the five stage roles.
const (
	StreamRawEmails  = "raw_emails.v1"
	StreamNormalized = "emails.normalized.v1"
	StreamToClassify = "emails.to_classify.v1"
	StreamClassified = "emails.classified.v1"
)

// Consumer group per consuming stage.
const (
	GroupNormalizer  = "normalizer-g"
	GroupSemantic    = "semantic-filter-g"
	GroupClassifier  = "classifier-g"
	GroupPersister   = "persister-g"
	GroupDLQReplayer = "dlq-replayer-g"
)

// PipelineStreams lists the four streams in pipeline order.
var PipelineStreams = []string{StreamRawEmails, StreamNormalized, StreamToClassify, StreamClassified}

// RawEmailEvent is the poller's output: the original RFC 5322 bytes plus
// routing identity. raw_email_b64 keeps the broker payload ASCII-safe.
type RawEmailEvent struct {
	TraceID     string
	MailboxID   string
	ExternalID  string
	ReceivedTS  int64
	IdempKey    string
	Subject     string
	RawEmailB64 string
}

func (e *RawEmailEvent) Fields() map[string]interface{} {
	return map[string]interface{}{
		"trace_id":      e.TraceID,
		"mailbox_id":    e.MailboxID,
		"external_id":   e.ExternalID,
		"received_ts":   strconv.FormatInt(e.ReceivedTS, 10),
		"idemp_key":     e.IdempKey,
		"subject":       e.Subject,
		"raw_email_b64": e.RawEmailB64,
	}
}

func RawEmailFromFields(values map[string]interface{}) (*RawEmailEvent, error) {
	e := &RawEmailEvent{
		TraceID:     fieldString(values, "trace_id"),
		MailboxID:   fieldString(values, "mailbox_id"),
		ExternalID:  fieldString(values, "external_id"),
		ReceivedTS:  fieldInt64(values, "received_ts"),
		IdempKey:    fieldString(values, "idemp_key"),
		Subject:     fieldString(values, "subject"),
		RawEmailB64: fieldString(values, "raw_email_b64"),
	}
	if e.MailboxID == "" || e.IdempKey == "" {
		return nil, fmt.Errorf("raw email event missing mailbox_id or idemp_key")
	}
	return e, nil
}

// NormalizedEmailEvent carries the cleaned text and body fingerprint.
// text_content is capped at TextContentLimit characters.
type NormalizedEmailEvent struct {
	TraceID     string
	MailboxID   string
	IdempKey    string
	BodyHash    string
	TextContent string
	Subject     string
	ExternalID  string
	ReceivedTS  int64
}

// TextContentLimit is the ceiling on published text_content.
const TextContentLimit = 1000

func (e *NormalizedEmailEvent) Fields() map[string]interface{} {
	return map[string]interface{}{
		"trace_id":     e.TraceID,
		"mailbox_id":   e.MailboxID,
		"idemp_key":    e.IdempKey,
		"body_hash":    e.BodyHash,
		"text_content": e.TextContent,
		"subject":      e.Subject,
		"external_id":  e.ExternalID,
		"received_ts":  strconv.FormatInt(e.ReceivedTS, 10),
	}
}

func NormalizedFromFields(values map[string]interface{}) (*NormalizedEmailEvent, error) {
	e := &NormalizedEmailEvent{
		TraceID:     fieldString(values, "trace_id"),
		MailboxID:   fieldString(values, "mailbox_id"),
		IdempKey:    fieldString(values, "idemp_key"),
		BodyHash:    fieldString(values, "body_hash"),
		TextContent: fieldString(values, "text_content"),
		Subject:     fieldString(values, "subject"),
		ExternalID:  fieldString(values, "external_id"),
		ReceivedTS:  fieldInt64(values, "received_ts"),
	}
	if e.MailboxID == "" || e.BodyHash == "" {
		return nil, fmt.Errorf("normalized event missing mailbox_id or body_hash")
	}
	return e, nil
}

// RoutedEmailEvent is a normalized event plus the winning watcher's identity.
// The flat filter_* fields name the single winner; Matches carries the full
// top-K candidate list as JSON so a later fan-out to multiple watchers is a
// producer change, not a schema break.
type RoutedEmailEvent struct {
	NormalizedEmailEvent

	FilterWatcherID   string
	FilterWatcherName string
	FilterQueryID     string
	FilterQueryText   string
	FilterSimilarity  string
	MatchesJSON       string
}

func (e *RoutedEmailEvent) Fields() map[string]interface{} {
	f := e.NormalizedEmailEvent.Fields()
	f["filter_watcher_id"] = e.FilterWatcherID
	f["filter_watcher_name"] = e.FilterWatcherName
	f["filter_query_id"] = e.FilterQueryID
	f["filter_query_text"] = e.FilterQueryText
	f["filter_similarity"] = e.FilterSimilarity
	if e.MatchesJSON != "" {
		f["matches"] = e.MatchesJSON
	}
	return f
}

func RoutedFromFields(values map[string]interface{}) (*RoutedEmailEvent, error) {
	n, err := NormalizedFromFields(values)
	if err != nil {
		return nil, err
	}
	return &RoutedEmailEvent{
		NormalizedEmailEvent: *n,
		FilterWatcherID:      fieldString(values, "filter_watcher_id"),
		FilterWatcherName:    fieldString(values, "filter_watcher_name"),
		FilterQueryID:        fieldString(values, "filter_query_id"),
		FilterQueryText:      fieldString(values, "filter_query_text"),
		FilterSimilarity:     fieldString(values, "filter_similarity"),
		MatchesJSON:          fieldString(values, "matches"),
	}, nil
}

// ClassifiedEmailEvent is the classifier's output contract. Class is never
// empty and Confidence is within [0,1] when published.
type ClassifiedEmailEvent struct {
	TraceID       string
	MailboxID     string
	IdempKey      string
	BodyHash      string
	Subject       string
	ExternalID    string
	ReceivedTS    int64
	Class         string
	Confidence    float64
	WatcherID     string
	ExtractedData string // JSON-encoded free-shape map
}

func (e *ClassifiedEmailEvent) Fields() map[string]interface{} {
	return map[string]interface{}{
		"trace_id":       e.TraceID,
		"mailbox_id":     e.MailboxID,
		"idemp_key":      e.IdempKey,
		"body_hash":      e.BodyHash,
		"subject":        e.Subject,
		"external_id":    e.ExternalID,
		"received_ts":    strconv.FormatInt(e.ReceivedTS, 10),
		"class":          e.Class,
		"confidence":     strconv.FormatFloat(e.Confidence, 'f', 4, 64),
		"watcher_id":     e.WatcherID,
		"extracted_data": e.ExtractedData,
	}
}

func ClassifiedFromFields(values map[string]interface{}) (*ClassifiedEmailEvent, error) {
	e := &ClassifiedEmailEvent{
		TraceID:       fieldString(values, "trace_id"),
		MailboxID:     fieldString(values, "mailbox_id"),
		IdempKey:      fieldString(values, "idemp_key"),
		BodyHash:      fieldString(values, "body_hash"),
		Subject:       fieldString(values, "subject"),
		ExternalID:    fieldString(values, "external_id"),
		ReceivedTS:    fieldInt64(values, "received_ts"),
		Class:         fieldString(values, "class"),
		Confidence:    fieldFloat(values, "confidence"),
		WatcherID:     fieldString(values, "watcher_id"),
		ExtractedData: fieldString(values, "extracted_data"),
	}
	if e.IdempKey == "" || e.Class == "" {
		return nil, fmt.Errorf("classified event missing idemp_key or class")
	}
	return e, nil
}

func fieldString(values map[string]interface{}, key string) string {
	if v, ok := values[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func fieldInt64(values map[string]interface{}, key string) int64 {
	n, _ := strconv.ParseInt(fieldString(values, key), 10, 64)
	return n
}

func fieldFloat(values map[string]interface{}, key string) float64 {
	f, _ := strconv.ParseFloat(fieldString(values, key), 64)
	return f
}
