// Package queue provides the SQS-based notification dispatcher that hands
// surviving trigger outcomes to downstream delivery workers.
package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"citypulse/internal/trigger"
	"citypulse/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// NotificationMessage is the JSON payload placed on the notification queue.
// Delivery workers consume it to fan out push/email per user preference.
type NotificationMessage struct {
	MessageID     string                     `json:"message_id"`
	UserID        string                     `json:"user_id"`
	Kind          types.ConditionKind        `json:"condition_kind"`
	Title         string                     `json:"title"`
	Message       string                     `json:"message"`
	LocationLabel string                     `json:"location_label,omitempty"`
	Lat           *float64                   `json:"lat,omitempty"`
	Lon           *float64                   `json:"lon,omitempty"`
	Priority      types.NotificationPriority `json:"priority"`
	Metadata      types.Metadata             `json:"metadata,omitempty"`
	EnqueuedAt    time.Time                  `json:"enqueued_at"`
}

// Compile-time assertion that Dispatcher implements the engine interface.
var _ types.NotificationDispatcher = (*Dispatcher)(nil)

// Dispatcher serializes trigger outcomes and sends them to SQS.
//
// Queue routing:
//   - urgent outcomes (emergency alerts)  -> urgent queue
//   - everything else                     -> standard queue
type Dispatcher struct {
	client           SQSSender
	urgentQueueURL   string
	standardQueueURL string
	clock            types.Clock
	logger           *slog.Logger
}

// DispatcherConfig carries the queue URLs. An empty UrgentQueueURL routes
// every message to the standard queue.
type DispatcherConfig struct {
	UrgentQueueURL   string
	StandardQueueURL string
}

// NewDispatcher creates a Dispatcher with the given SQS client and queue
// configuration.
func NewDispatcher(client SQSSender, cfg DispatcherConfig, clock types.Clock, logger *slog.Logger) *Dispatcher {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Dispatcher{
		client:           client,
		urgentQueueURL:   cfg.UrgentQueueURL,
		standardQueueURL: cfg.StandardQueueURL,
		clock:            clock,
		logger:           logger,
	}
}

// Dispatch enqueues one notification for the user. The outcome must be a
// triggered one; callers filter before dispatching.
func (d *Dispatcher) Dispatch(ctx context.Context, userID string, outcome *types.TriggerOutcome) error {
	msg := NotificationMessage{
		MessageID:     uuid.New().String(),
		UserID:        userID,
		Kind:          outcome.Kind,
		Title:         outcome.Title,
		Message:       outcome.Message,
		LocationLabel: outcome.LocationLabel,
		Lat:           outcome.Lat,
		Lon:           outcome.Lon,
		Priority:      priorityFor(outcome.Kind),
		Metadata:      outcome.Metadata,
		EnqueuedAt:    d.clock.Now(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal notification message", err)
	}

	queueURL := d.queueURLFor(msg.Priority)
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"condition_kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(msg.Kind)),
			},
			"priority": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(msg.Priority)),
			},
		},
	}

	if _, err := d.client.SendMessage(ctx, input); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamDispatch, "failed to send notification message", err)
	}

	d.logger.InfoContext(ctx, "notification message sent",
		"queue_url", queueURL,
		"message_id", msg.MessageID,
		"user_id", userID,
		"condition_kind", string(msg.Kind),
		"priority", string(msg.Priority),
	)

	return nil
}

// queueURLFor selects the queue for the given priority. High-priority
// messages go to the urgent queue when one is configured.
func (d *Dispatcher) queueURLFor(p types.NotificationPriority) string {
	if p == types.PriorityHigh && d.urgentQueueURL != "" {
		return d.urgentQueueURL
	}
	return d.standardQueueURL
}

// priorityFor maps a condition kind to its delivery priority.
func priorityFor(kind types.ConditionKind) types.NotificationPriority {
	if trigger.IsUrgent(kind) {
		return types.PriorityHigh
	}
	return types.PriorityNormal
}
