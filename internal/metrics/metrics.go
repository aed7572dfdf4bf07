// Package metrics publishes evaluation run metrics to AWS CloudWatch.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"citypulse/internal/types"
)

// Namespace is the CloudWatch namespace for all engine metrics.
const Namespace = "CityPulse/Triggers"

// Metric names.
const (
	MetricUsersEvaluated        = "UsersEvaluated"
	MetricConditionsEvaluated   = "ConditionsEvaluated"
	MetricNotificationsFired    = "NotificationsFired"
	MetricNotificationsSuppress = "NotificationsSuppressed"
	MetricBatchDuration         = "BatchDuration"
)

// DimSource is the dimension distinguishing scheduled from realtime runs.
const DimSource = "Source"

// CloudWatchClient abstracts the PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// BatchStats summarizes one evaluation run for metric publication.
type BatchStats struct {
	UsersEvaluated       int
	ConditionsEvaluated  int
	NotificationsFired   int
	NotificationsDropped int
	Duration             time.Duration
}

// Publisher emits evaluation metrics to CloudWatch. Publication failures are
// logged and swallowed; metrics must never fail an evaluation run.
type Publisher struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewPublisher creates a Publisher for the engine namespace.
func NewPublisher(client CloudWatchClient, logger *slog.Logger) *Publisher {
	return &Publisher{
		client:    client,
		namespace: Namespace,
		logger:    logger,
	}
}

// PublishBatch emits the full set of run metrics in a single PutMetricData
// call, dimensioned by evaluation source.
func (p *Publisher) PublishBatch(ctx context.Context, source types.EvaluationSource, stats BatchStats) {
	dims := []cwtypes.Dimension{
		{
			Name:  aws.String(DimSource),
			Value: aws.String(string(source)),
		},
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(p.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(MetricUsersEvaluated),
				Value:      aws.Float64(float64(stats.UsersEvaluated)),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
			},
			{
				MetricName: aws.String(MetricConditionsEvaluated),
				Value:      aws.Float64(float64(stats.ConditionsEvaluated)),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
			},
			{
				MetricName: aws.String(MetricNotificationsFired),
				Value:      aws.Float64(float64(stats.NotificationsFired)),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
			},
			{
				MetricName: aws.String(MetricNotificationsSuppress),
				Value:      aws.Float64(float64(stats.NotificationsDropped)),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
			},
			{
				MetricName: aws.String(MetricBatchDuration),
				Value:      aws.Float64(float64(stats.Duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: dims,
			},
		},
	}

	if _, err := p.client.PutMetricData(ctx, input); err != nil {
		p.logger.ErrorContext(ctx, "failed to publish batch metrics",
			"error", err.Error(),
			"source", string(source),
			"users_evaluated", stats.UsersEvaluated,
		)
	}
}

// PublishDispatchFailure emits a single counter for a notification that
// could not be enqueued.
func (p *Publisher) PublishDispatchFailure(ctx context.Context, kind types.ConditionKind) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(p.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String("DispatchFailures"),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{
						Name:  aws.String("ConditionKind"),
						Value: aws.String(string(kind)),
					},
				},
			},
		},
	}

	if _, err := p.client.PutMetricData(ctx, input); err != nil {
		p.logger.ErrorContext(ctx, "failed to publish dispatch failure metric",
			"error", err.Error(),
			"condition_kind", string(kind),
		)
	}
}
