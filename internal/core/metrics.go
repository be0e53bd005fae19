package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"payrelay/internal/types"
)

// Metric names and dimensions published by CloudWatchMetrics.
const (
	MetricRelayOutcome    = "RelayOutcome"
	MetricRelayLatency    = "RelayLatency"
	MetricAPIRequestCount = "APIRequestCount"
	MetricAPILatency      = "APILatency"

	DimOutcome  = "Outcome"
	DimStage    = "Stage"
	DimMethod   = "Method"
	DimEndpoint = "Endpoint"
	DimStatus   = "Status"
)

// metricPublishTimeout bounds a single PutMetricData call.
const metricPublishTimeout = 2 * time.Second

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics publishes relay outcomes and API request telemetry.
// Publishing failures are logged and never surface to callers.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchMetrics creates a publisher for the given namespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordOutcome emits one RelayOutcome count and one RelayLatency sample.
//
//	Metric: RelayOutcome, Dims: {Outcome: "fulfilled", Stage: "responded"}
func (m *CloudWatchMetrics) RecordOutcome(ctx context.Context, outcome types.RelayOutcome, stage types.Stage, elapsed time.Duration) {
	outcomeDim := cwtypes.Dimension{Name: aws.String(DimOutcome), Value: aws.String(string(outcome))}
	m.put(ctx, []cwtypes.MetricDatum{
		{
			MetricName: aws.String(MetricRelayOutcome),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{
				outcomeDim,
				{Name: aws.String(DimStage), Value: aws.String(string(stage))},
			},
		},
		{
			MetricName: aws.String(MetricRelayLatency),
			Value:      aws.Float64(float64(elapsed.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: []cwtypes.Dimension{outcomeDim},
		},
	}, "outcome", string(outcome))
}

// RecordRequest implements MetricsCollector.
func (m *CloudWatchMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	dims := []cwtypes.Dimension{
		{Name: aws.String(DimMethod), Value: aws.String(method)},
		{Name: aws.String(DimEndpoint), Value: aws.String(endpoint)},
		{Name: aws.String(DimStatus), Value: aws.String(status)},
	}
	m.put(context.Background(), []cwtypes.MetricDatum{
		{
			MetricName: aws.String(MetricAPIRequestCount),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		},
		{
			MetricName: aws.String(MetricAPILatency),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: dims,
		},
	}, "endpoint", endpoint)
}

func (m *CloudWatchMetrics) put(ctx context.Context, data []cwtypes.MetricDatum, attrs ...any) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricPublishTimeout)
	defer cancel()

	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to publish metrics", append([]any{"error", err.Error()}, attrs...)...)
	}
}
