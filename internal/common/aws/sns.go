package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSClient publishes advisor events as JSON messages.
type SNSClient struct {
	client snsAPI
}

func NewSNSClient(ctx context.Context, region string) (*SNSClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return &SNSClient{client: sns.NewFromConfig(cfg)}, nil
}

// PublishEvent sends payload to topicARN and returns the SNS message id.
// attrs become String message attributes so subscribers can filter on them.
func (s *SNSClient) PublishEvent(ctx context.Context, topicARN string, payload interface{}, attrs map[string]string) (string, error) {
	input, err := eventInput(topicARN, payload, attrs)
	if err != nil {
		return "", err
	}
	out, err := s.client.Publish(ctx, input)
	if err != nil {
		return "", err
	}
	return aws.ToString(out.MessageId), nil
}

// eventInput skips empty attribute values, which SNS rejects.
func eventInput(topicARN string, payload interface{}, attrs map[string]string) (*sns.PublishInput, error) {
	if topicARN == "" {
		return nil, fmt.Errorf("sns topic arn is empty")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	keys := make([]string, 0, len(attrs))
	for k, v := range attrs {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	values := make(map[string]types.MessageAttributeValue, len(keys))
	for _, k := range keys {
		values[k] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(attrs[k])}
	}

	return &sns.PublishInput{
		TopicArn:          aws.String(topicARN),
		Message:           aws.String(string(body)),
		MessageAttributes: values,
	}, nil
}
