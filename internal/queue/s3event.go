package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/intakevault/internal/models"
)

const testEvent = "s3:TestEvent"

type s3Notification struct {
	Event   string          `json:"Event"`
	Records []s3EventRecord `json:"Records"`

	// SNS envelope, when the bucket notifies a topic subscribed by the queue.
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

type s3EventRecord struct {
	EventSource string    `json:"eventSource"`
	EventName   string    `json:"eventName"`
	EventTime   time.Time `json:"eventTime"`
	S3          struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key       string `json:"key"`
			Size      int64  `json:"size"`
			ETag      string `json:"eTag"`
			Sequencer string `json:"sequencer"`
		} `json:"object"`
	} `json:"s3"`
}

// ParseS3Notification decodes an S3 event notification body, optionally
// wrapped in an SNS envelope. Only ObjectCreated records are returned; the
// test event S3 sends when notifications are configured yields none.
// Object keys arrive URL-encoded and are decoded here.
func ParseS3Notification(body string) ([]models.QueueEvent, error) {
	var n s3Notification
	if err := json.Unmarshal([]byte(body), &n); err != nil {
		return nil, fmt.Errorf("decode s3 notification: %w", err)
	}
	if n.Type == "Notification" && n.Message != "" {
		return ParseS3Notification(n.Message)
	}
	if n.Event == testEvent {
		return nil, nil
	}
	if n.Records == nil {
		return nil, errors.New("decode s3 notification: no records")
	}

	events := make([]models.QueueEvent, 0, len(n.Records))
	for _, r := range n.Records {
		if !strings.HasPrefix(r.EventName, "ObjectCreated:") {
			continue
		}
		key, err := url.QueryUnescape(r.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("decode object key %q: %w", r.S3.Object.Key, err)
		}
		bucket := r.S3.Bucket.Name
		events = append(events, models.QueueEvent{
			EventID:       eventID(bucket, key, r.S3.Object.Sequencer, r.S3.Object.ETag),
			Bucket:        bucket,
			ObjectKey:     key,
			ContentLength: r.S3.Object.Size,
			EventTime:     r.EventTime,
		})
	}
	return events, nil
}

func eventID(bucket, key, sequencer, etag string) string {
	version := sequencer
	if version == "" {
		version = etag
	}
	return bucket + "/" + key + "@" + version
}
