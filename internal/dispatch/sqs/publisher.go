// Package sqs implements the dispatch collaborator on Amazon SQS: each
// flushed batch is published as one JSON message.
package sqs

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/BarkinBalci/interaction-metrics-engine/internal/aggregate"
	"github.com/BarkinBalci/interaction-metrics-engine/internal/config"
)

// Publisher implements dispatch.Dispatcher by publishing aggregated batches
// to an SQS queue
type Publisher struct {
	client *awssqs.Client
	config config.SQS
	log    *zap.Logger
}

// NewPublisher creates a new SQS publisher
func NewPublisher(ctx context.Context, sqsConfig config.SQS, log *zap.Logger) (*Publisher, error) {
	configOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(sqsConfig.Region),
	}

	var clientOpts []func(*awssqs.Options)

	// Configure for local development with ElasticMQ
	if sqsConfig.Endpoint != "" {
		log.Info("Configuring SQS for local development",
			zap.String("endpoint", sqsConfig.Endpoint))
		configOpts = append(configOpts,
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "")))

		clientOpts = append(clientOpts, func(o *awssqs.Options) {
			o.BaseEndpoint = aws.String(sqsConfig.Endpoint)
		})
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := awssqs.NewFromConfig(cfg, clientOpts...)

	log.Info("SQS publisher created",
		zap.String("region", sqsConfig.Region),
		zap.String("queue_url", sqsConfig.QueueURL))

	return &Publisher{
		client: client,
		config: sqsConfig,
		log:    log,
	}, nil
}

// Dispatch publishes the aggregated batch as a single message. SQS is
// at-least-once, which matches the engine's duplicate-tolerant contract.
func (p *Publisher) Dispatch(ctx context.Context, result *aggregate.Result) error {
	if len(result.Metrics) == 0 {
		return nil
	}

	bodyJSON, err := json.Marshal(map[string]any{
		"category":       result.Category,
		"metrics":        result.Metrics,
		"invalid_events": result.Invalid,
	})
	if err != nil {
		p.log.Error("Failed to marshal aggregated batch",
			zap.String("category", string(result.Category)),
			zap.Error(err))
		return fmt.Errorf("failed to marshal aggregated batch: %w", err)
	}

	_, err = p.client.SendMessage(ctx, &awssqs.SendMessageInput{
		QueueUrl:    aws.String(p.config.QueueURL),
		MessageBody: aws.String(string(bodyJSON)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"Category": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(result.Category)),
			},
			"MetricCount": {
				DataType:    aws.String("Number"),
				StringValue: aws.String(fmt.Sprintf("%d", len(result.Metrics))),
			},
		},
	})
	if err != nil {
		p.log.Error("Failed to send aggregated batch to SQS",
			zap.String("category", string(result.Category)),
			zap.Error(err))
		return fmt.Errorf("failed to send aggregated batch to SQS: %w", err)
	}

	p.log.Info("Aggregated batch published to SQS",
		zap.String("category", string(result.Category)),
		zap.Int("metric_count", len(result.Metrics)))

	return nil
}
