package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/redis/go-redis/v9"
)

func TestParseAttempt(t *testing.T) {
	tests := []struct {
		in   any
		want int
	}{
		{nil, 1},
		{"", 1},
		{"1", 1},
		{"4", 4},
		{"0", 1},
		{"-2", 1},
		{"abc", 1},
		{3, 3},
		{int64(7), 7},
		{0, 1},
	}
	for _, tt := range tests {
		if got := parseAttempt(tt.in); got != tt.want {
			t.Errorf("parseAttempt(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestReclaimedAttempt(t *testing.T) {
	tests := []struct {
		stored     int
		deliveries int64
		want       int
	}{
		{1, 1, 1},
		{1, 2, 2},
		{3, 2, 4},
		{2, 0, 2},
	}
	for _, tt := range tests {
		if got := reclaimedAttempt(tt.stored, tt.deliveries); got != tt.want {
			t.Errorf("reclaimedAttempt(%d, %d) = %d, want %d", tt.stored, tt.deliveries, got, tt.want)
		}
	}
}

func TestDeadLetterStreamName(t *testing.T) {
	q := NewRedisStream(nil, RedisOptions{Stream: "video.transcode"})
	if got := q.DeadLetterStream(); got != "video.transcode.dead" {
		t.Errorf("DeadLetterStream() = %q", got)
	}
}

type fakeSQS struct {
	messages []types.Message
	recvErr  error

	deleted   []string
	requeued  []string
	extended  []int32
	sent      []*sqs.SendMessageInput
	lastRecvd *sqs.ReceiveMessageInput
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.lastRecvd = in
	if f.recvErr != nil {
		return nil, f.recvErr
	}
	out := &sqs.ReceiveMessageOutput{Messages: f.messages}
	f.messages = nil
	return out, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	if aws.ToString(in.ReceiptHandle) == "" {
		return nil, errors.New("missing receipt handle")
	}
	if in.VisibilityTimeout != 0 {
		f.extended = append(f.extended, in.VisibilityTimeout)
		return &sqs.ChangeMessageVisibilityOutput{}, nil
	}
	f.requeued = append(f.requeued, aws.ToString(in.ReceiptHandle))
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func (f *fakeSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{}, nil
}

func message(id, body, count string) types.Message {
	return types.Message{
		MessageId:     aws.String(id),
		ReceiptHandle: aws.String("rh-" + id),
		Body:          aws.String(body),
		Attributes:    map[string]string{"ApproximateReceiveCount": count},
	}
}

func TestSQSReceiveEmpty(t *testing.T) {
	q := NewSQSQueue(&fakeSQS{}, SQSOptions{QueueURL: "q"})
	d, err := q.Receive(context.Background())
	if err != nil || d != nil {
		t.Fatalf("expected empty poll, got %v, %v", d, err)
	}
}

func TestSQSReceiveError(t *testing.T) {
	q := NewSQSQueue(&fakeSQS{recvErr: errors.New("throttled")}, SQSOptions{QueueURL: "q"})
	if _, err := q.Receive(context.Background()); err == nil {
		t.Fatal("expected receive error")
	}
}

func TestSQSDelivery(t *testing.T) {
	f := &fakeSQS{messages: []types.Message{message("m1", `{"videoId":"a.mp4"}`, "3")}}
	q := NewSQSQueue(f, SQSOptions{QueueURL: "q", DeadLetterURL: "dlq"})

	d, err := q.Receive(context.Background())
	if err != nil || d == nil {
		t.Fatalf("expected a delivery, got %v, %v", d, err)
	}
	if d.ID() != "m1" || string(d.Body()) != `{"videoId":"a.mp4"}` || d.Attempt() != 3 {
		t.Errorf("unexpected delivery %s %s %d", d.ID(), d.Body(), d.Attempt())
	}
	if f.lastRecvd.VisibilityTimeout != 960 || f.lastRecvd.WaitTimeSeconds != 20 {
		t.Errorf("unexpected receive defaults %+v", f.lastRecvd)
	}

	if err := d.Requeue(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(f.requeued) != 1 || f.requeued[0] != "rh-m1" {
		t.Errorf("expected requeue of rh-m1, got %v", f.requeued)
	}

	if err := d.DeadLetter(context.Background(), "probe failed"); err != nil {
		t.Fatal(err)
	}
	if len(f.sent) != 1 || aws.ToString(f.sent[0].QueueUrl) != "dlq" {
		t.Fatalf("expected one dead-letter send, got %v", f.sent)
	}
	if got := aws.ToString(f.sent[0].MessageAttributes["reason"].StringValue); got != "probe failed" {
		t.Errorf("reason attribute = %q", got)
	}
	if len(f.deleted) != 1 {
		t.Errorf("expected dead-letter to delete the original, got %v", f.deleted)
	}
}

func TestSQSDeadLetterWithoutQueueOnlyDeletes(t *testing.T) {
	f := &fakeSQS{messages: []types.Message{message("m2", "{}", "")}}
	q := NewSQSQueue(f, SQSOptions{QueueURL: "q"})

	d, _ := q.Receive(context.Background())
	if d.Attempt() != 1 {
		t.Errorf("missing receive count should be attempt 1, got %d", d.Attempt())
	}
	if err := d.DeadLetter(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	if len(f.sent) != 0 || len(f.deleted) != 1 {
		t.Errorf("sent=%d deleted=%d", len(f.sent), len(f.deleted))
	}
}

func TestSQSExtendRenewsVisibility(t *testing.T) {
	f := &fakeSQS{messages: []types.Message{message("m3", "{}", "1")}}
	q := NewSQSQueue(f, SQSOptions{QueueURL: "q", VisibilitySeconds: 300})

	d, err := q.Receive(context.Background())
	if err != nil || d == nil {
		t.Fatalf("expected a delivery, got %v, %v", d, err)
	}
	for i := 0; i < 2; i++ {
		if err := d.Extend(context.Background()); err != nil {
			t.Fatalf("Extend failed: %v", err)
		}
	}
	if len(f.extended) != 2 || f.extended[0] != 300 || f.extended[1] != 300 {
		t.Errorf("expected two extensions of 300s, got %v", f.extended)
	}
	if len(f.requeued) != 0 || len(f.deleted) != 0 {
		t.Errorf("Extend must not dispose the message: requeued=%v deleted=%v", f.requeued, f.deleted)
	}
}

func testStreamDelivery() *streamDelivery {
	q := NewRedisStream(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), RedisOptions{
		Stream:   "video.transcode",
		Group:    "workers",
		Consumer: "host-a",
	})
	return &streamDelivery{q: q, id: "1700000000000-0", body: []byte(`{"videoId":"a.mp4"}`), attempt: 2}
}

func commandNames(cmds []redis.Cmder) []string {
	names := make([]string, len(cmds))
	for i, c := range cmds {
		names[i] = c.Name()
	}
	return names
}

func hasArgs(c redis.Cmder, want ...string) bool {
	var got []string
	for _, a := range c.Args() {
		got = append(got, fmt.Sprint(a))
	}
	return strings.Contains(strings.Join(got, " "), strings.Join(want, " "))
}

func TestStreamSettlementDeletesOriginal(t *testing.T) {
	d := testStreamDelivery()
	ctx := context.Background()

	tests := []struct {
		name string
		cmds func(redis.Pipeliner) []redis.Cmder
		want []string
	}{
		{"ack", func(p redis.Pipeliner) []redis.Cmder { return d.ackCmds(ctx, p) }, []string{"xack", "xdel"}},
		{"requeue", func(p redis.Pipeliner) []redis.Cmder { return d.requeueCmds(ctx, p) }, []string{"xadd", "xack", "xdel"}},
		{"dead letter", func(p redis.Pipeliner) []redis.Cmder { return d.deadLetterCmds(ctx, p, "probe failed") }, []string{"xadd", "xack", "xdel"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmds := tt.cmds(d.q.rdb.TxPipeline())
			if got := commandNames(cmds); strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Fatalf("commands = %v, want %v", got, tt.want)
			}
			del := cmds[len(cmds)-1]
			if !hasArgs(del, "xdel", "video.transcode", d.id) {
				t.Errorf("unexpected xdel args %v", del.Args())
			}
		})
	}
}

func TestStreamDeadLetterIsCapped(t *testing.T) {
	d := testStreamDelivery()
	cmds := d.deadLetterCmds(context.Background(), d.q.rdb.TxPipeline(), "probe failed")
	if !hasArgs(cmds[0], "xadd", "video.transcode.dead", "maxlen", "~", fmt.Sprint(deadMaxLen)) {
		t.Errorf("dead-letter append must be capped, args %v", cmds[0].Args())
	}
}

func TestStreamRequeueIsUncapped(t *testing.T) {
	d := testStreamDelivery()
	cmds := d.requeueCmds(context.Background(), d.q.rdb.TxPipeline())
	if hasArgs(cmds[0], "maxlen") {
		t.Errorf("work stream must not be trimmed, args %v", cmds[0].Args())
	}
}

func TestStreamExtendClaimsForItself(t *testing.T) {
	d := testStreamDelivery()
	args := d.extendArgs()
	if args.Stream != "video.transcode" || args.Group != "workers" || args.Consumer != "host-a" {
		t.Errorf("unexpected claim target %+v", args)
	}
	if args.MinIdle != 0 {
		t.Errorf("own entry must be claimable at any idle time, MinIdle=%s", args.MinIdle)
	}
	if len(args.Messages) != 1 || args.Messages[0] != d.id {
		t.Errorf("expected claim of %s, got %v", d.id, args.Messages)
	}
}
