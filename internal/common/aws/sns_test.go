package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSNS struct {
	input *sns.PublishInput
	err   error
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSNSClient_PublishEvent(t *testing.T) {
	api := &fakeSNS{}
	c := &SNSClient{client: api}

	id, err := c.PublishEvent(context.Background(), "arn:aws:sns:eu-west-1:123:quota",
		map[string]string{"userId": "u-1"},
		map[string]string{"eventType": "quota.exhausted", "tier": "free", "bucket": ""})
	require.NoError(t, err)

	assert.Equal(t, "msg-1", id)
	assert.Equal(t, "arn:aws:sns:eu-west-1:123:quota", *api.input.TopicArn)
	assert.JSONEq(t, `{"userId":"u-1"}`, *api.input.Message)
	assert.Len(t, api.input.MessageAttributes, 2)
	assert.Equal(t, "free", *api.input.MessageAttributes["tier"].StringValue)
	assert.Equal(t, "String", *api.input.MessageAttributes["eventType"].DataType)
}

func TestSNSClient_PublishEvent_Errors(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload interface{}
		apiErr  error
	}{
		{"missing topic", "", map[string]string{}, nil},
		{"unencodable payload", "arn:topic", make(chan int), nil},
		{"publish fails", "arn:topic", map[string]string{}, errors.New("throttled")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &SNSClient{client: &fakeSNS{err: tt.apiErr}}
			_, err := c.PublishEvent(context.Background(), tt.topic, tt.payload, nil)
			assert.Error(t, err)
		})
	}
}
