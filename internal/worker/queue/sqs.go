package queue

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSAPI is the subset of *sqs.Client the driver uses.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

type SQSClientOptions struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

func NewSQSClient(o SQSClientOptions) *sqs.Client {
	opts := sqs.Options{Region: o.Region}
	if o.AccessKey != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(o.AccessKey, o.SecretKey, "")
	}
	if o.Endpoint != "" {
		opts.BaseEndpoint = aws.String(o.Endpoint)
	}
	return sqs.New(opts)
}

type SQSOptions struct {
	QueueURL string
	// DeadLetterURL is optional. Without it DeadLetter only deletes.
	DeadLetterURL string
	// WaitSeconds is the long-poll wait of one receive.
	WaitSeconds int32
	// VisibilitySeconds is the hold taken on receive and renewed by every
	// Extend. It must outlast the heartbeat interval.
	VisibilitySeconds int32
}

type SQSQueue struct {
	client SQSAPI
	opts   SQSOptions
}

func NewSQSQueue(client SQSAPI, opts SQSOptions) *SQSQueue {
	if opts.WaitSeconds <= 0 {
		opts.WaitSeconds = 20
	}
	if opts.VisibilitySeconds <= 0 {
		opts.VisibilitySeconds = 960
	}
	return &SQSQueue{client: client, opts: opts}
}

func (q *SQSQueue) Receive(ctx context.Context) (Delivery, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(q.opts.QueueURL),
		MaxNumberOfMessages:         1,
		WaitTimeSeconds:             q.opts.WaitSeconds,
		VisibilityTimeout:           q.opts.VisibilitySeconds,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameApproximateReceiveCount},
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive: %w", err)
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}

	m := out.Messages[0]
	return &sqsDelivery{
		q:       q,
		id:      aws.ToString(m.MessageId),
		receipt: m.ReceiptHandle,
		body:    []byte(aws.ToString(m.Body)),
		attempt: receiveCount(m.Attributes),
	}, nil
}

func receiveCount(attrs map[string]string) int {
	n, err := strconv.Atoi(attrs[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

type sqsDelivery struct {
	q       *SQSQueue
	id      string
	receipt *string
	body    []byte
	attempt int
}

func (d *sqsDelivery) ID() string { return d.id }

func (d *sqsDelivery) Body() []byte { return d.body }

func (d *sqsDelivery) Attempt() int { return d.attempt }

func (d *sqsDelivery) Ack(ctx context.Context) error {
	_, err := d.q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(d.q.opts.QueueURL),
		ReceiptHandle: d.receipt,
	})
	return err
}

// Requeue makes the message visible again right away; SQS bumps the
// receive count on the next delivery.
func (d *sqsDelivery) Requeue(ctx context.Context) error {
	_, err := d.q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(d.q.opts.QueueURL),
		ReceiptHandle:     d.receipt,
		VisibilityTimeout: 0,
	})
	return err
}

// Extend pushes the visibility timeout out again from now.
func (d *sqsDelivery) Extend(ctx context.Context) error {
	_, err := d.q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(d.q.opts.QueueURL),
		ReceiptHandle:     d.receipt,
		VisibilityTimeout: d.q.opts.VisibilitySeconds,
	})
	if err != nil {
		return fmt.Errorf("sqs extend visibility: %w", err)
	}
	return nil
}

func (d *sqsDelivery) DeadLetter(ctx context.Context, reason string) error {
	if reason == "" {
		reason = "unspecified"
	}
	if d.q.opts.DeadLetterURL != "" {
		_, err := d.q.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(d.q.opts.DeadLetterURL),
			MessageBody: aws.String(string(d.body)),
			MessageAttributes: map[string]types.MessageAttributeValue{
				fieldReason: {DataType: aws.String("String"), StringValue: aws.String(reason)},
				fieldSource: {DataType: aws.String("String"), StringValue: aws.String(d.id)},
			},
		})
		if err != nil {
			return fmt.Errorf("sqs dead-letter send: %w", err)
		}
	}
	return d.Ack(ctx)
}
