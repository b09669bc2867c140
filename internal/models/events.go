package models

import "time"

// QueueEvent is an object-created notification consumed by the processor.
type QueueEvent struct {
	EventID         string    `json:"eventId"`
	Bucket          string    `json:"bucket"`
	ObjectKey       string    `json:"objectKey"`
	ContentLength   int64     `json:"contentLength"`
	ContentType     string    `json:"contentType"`
	EventTime       time.Time `json:"eventTime"`
	DeliveryAttempt int       `json:"deliveryAttempt"`
}

// CompletionStatusProcessed marks a successfully extracted submission.
const CompletionStatusProcessed = "processed"

// CompletionEvent is published after a submission has been extracted.
type CompletionEvent struct {
	EventID       string    `json:"eventId"`
	SubmissionID  string    `json:"submissionId"`
	SourceKey     string    `json:"sourceKey"`
	ProcessedKeys []string  `json:"processedKeys"`
	FileCount     int       `json:"fileCount"`
	ProcessedAt   time.Time `json:"processedAt"`
	Status        string    `json:"status"`
}

// CompletionEventID is deterministic so redelivered work publishes the same id.
func CompletionEventID(submissionID string) string {
	return submissionID + "." + CompletionStatusProcessed
}
