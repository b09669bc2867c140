package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/dmitrijs2005/intakevault/internal/models"
)

// SQS limits.
const (
	maxSQSBatch = 10
	maxSQSWait  = 20 * time.Second
)

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSQueue consumes S3 event notifications from an SQS queue. Dead-lettering
// is the queue's redrive policy.
type SQSQueue struct {
	client     sqsAPI
	url        string
	wait       time.Duration
	visibility time.Duration
}

// NewSQSQueue returns a consumer for url. wait is the long-poll duration
// (at most 20s); visibility, when positive, overrides the queue default.
func NewSQSQueue(client *sqs.Client, url string, wait, visibility time.Duration) *SQSQueue {
	return newSQSQueue(client, url, wait, visibility)
}

func newSQSQueue(client sqsAPI, url string, wait, visibility time.Duration) *SQSQueue {
	if wait > maxSQSWait {
		wait = maxSQSWait
	}
	return &SQSQueue{client: client, url: url, wait: wait, visibility: visibility}
}

func (q *SQSQueue) Receive(ctx context.Context, max int) ([]Message, error) {
	if max <= 0 || max > maxSQSBatch {
		max = maxSQSBatch
	}
	in := &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(q.url),
		MaxNumberOfMessages:         int32(max),
		WaitTimeSeconds:             int32(q.wait / time.Second),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameApproximateReceiveCount},
	}
	if q.visibility > 0 {
		in.VisibilityTimeout = int32(q.visibility / time.Second)
	}

	out, err := q.client.ReceiveMessage(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("sqs receive: %w", err)
	}

	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		attempt, _ := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
		msg := Message{
			ID:              aws.ToString(m.MessageId),
			Handle:          aws.ToString(m.ReceiptHandle),
			DeliveryAttempt: attempt,
		}
		events, err := ParseS3Notification(aws.ToString(m.Body))
		if err != nil {
			msg.Malformed = err
		}
		for i := range events {
			events[i].DeliveryAttempt = attempt
		}
		msg.Events = events
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (q *SQSQueue) Ack(ctx context.Context, m Message) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: aws.String(m.Handle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete %s: %w", m.ID, err)
	}
	return nil
}

func (q *SQSQueue) Release(ctx context.Context, m Message) error {
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.url),
		ReceiptHandle:     aws.String(m.Handle),
		VisibilityTimeout: 0,
	})
	if err != nil {
		return fmt.Errorf("sqs release %s: %w", m.ID, err)
	}
	return nil
}

// SQSPublisher sends completion events as JSON. FIFO queues get the event id
// as deduplication id and the submission id as group.
type SQSPublisher struct {
	client sqsAPI
	url    string
}

func NewSQSPublisher(client *sqs.Client, url string) *SQSPublisher {
	return &SQSPublisher{client: client, url: url}
}

func (p *SQSPublisher) Publish(ctx context.Context, ev models.CompletionEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	in := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.url),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"eventId": {DataType: aws.String("String"), StringValue: aws.String(ev.EventID)},
		},
	}
	if strings.HasSuffix(p.url, ".fifo") {
		in.MessageDeduplicationId = aws.String(ev.EventID)
		in.MessageGroupId = aws.String(ev.SubmissionID)
	}
	if _, err := p.client.SendMessage(ctx, in); err != nil {
		return fmt.Errorf("sqs publish %s: %w", ev.EventID, err)
	}
	return nil
}
