package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/messaging"
	"github.com/IBM/sarama/mocks"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/aws/aws-sdk-go/service/sns/snsiface"
	"github.com/gorilla/websocket"

	"motopay/internal/models"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	panic  bool
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Handle(_ context.Context, ev Event) error {
	if s.panic {
		panic("boom")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcherDeliversToEverySink(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{err: errors.New("unreachable")}
	c := &recordingSink{panic: true}
	d := NewDispatcher(nil, 8, c, a, b)
	d.Start(2)

	d.Publish(Event{Kind: PaymentSucceeded, Reference: "TXN-1"})
	d.Publish(Event{Kind: PaymentFailed, Reference: "TXN-2"})
	d.Close()

	if a.count() != 2 || b.count() != 2 {
		t.Fatalf("expected both events on both sinks, got %d and %d", a.count(), b.count())
	}
	if a.events[0].OccurredAt.IsZero() {
		t.Fatal("expected OccurredAt to be stamped")
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	s := &recordingSink{}
	d := NewDispatcher(nil, 1, s)
	d.Publish(Event{Kind: PaymentSucceeded, Reference: "TXN-1"})
	d.Publish(Event{Kind: PaymentSucceeded, Reference: "TXN-2"})
	d.Start(1)
	d.Close()
	if s.count() != 1 {
		t.Fatalf("expected the overflowing event to be dropped, got %d", s.count())
	}
}

type fakeSender struct {
	sent []*messaging.Message
}

func (f *fakeSender) Send(_ context.Context, m *messaging.Message) (string, error) {
	f.sent = append(f.sent, m)
	return "msg-id", nil
}

type fakeTokens map[string][]string

func (f fakeTokens) TokensForUser(_ context.Context, userID string) ([]string, error) {
	return f[userID], nil
}

func TestPushSendsToEveryDevice(t *testing.T) {
	sender := &fakeSender{}
	p := &Push{Client: sender, Tokens: fakeTokens{"u1": {"tok-a", "tok-b"}}}
	user := "u1"
	if err := p.Handle(context.Background(), Event{Kind: PaymentSucceeded, Reference: "TXN-1", UserID: &user, Title: "Paid", Body: "ok"}); err != nil {
		t.Fatal(err)
	}
	if len(sender.sent) != 2 || sender.sent[0].Token != "tok-a" || sender.sent[0].Data["reference"] != "TXN-1" {
		t.Fatalf("unexpected messages %+v", sender.sent)
	}
	if err := p.Handle(context.Background(), Event{Kind: PaymentSucceeded}); err != nil || len(sender.sent) != 2 {
		t.Fatal("anonymous events must not be pushed")
	}
}

type fakeSNS struct {
	snsiface.SNSAPI
	inputs []*sns.PublishInput
}

func (f *fakeSNS) PublishWithContext(_ aws.Context, in *sns.PublishInput, _ ...request.Option) (*sns.PublishOutput, error) {
	f.inputs = append(f.inputs, in)
	return &sns.PublishOutput{MessageId: aws.String("1")}, nil
}

func TestSMSOnlyForPhoneNumbers(t *testing.T) {
	client := &fakeSNS{}
	s := &SMS{Client: client, SenderID: "MOTOPAY"}
	_ = s.Handle(context.Background(), Event{Contact: "owner@example.com", Title: "x", Body: "y"})
	if err := s.Handle(context.Background(), Event{Contact: "+2348012345678", Title: "Licence expiring", Body: "renew"}); err != nil {
		t.Fatal(err)
	}
	if len(client.inputs) != 1 {
		t.Fatalf("expected one sms, got %d", len(client.inputs))
	}
	if got := aws.StringValue(client.inputs[0].PhoneNumber); got != "+2348012345678" {
		t.Fatalf("unexpected phone %q", got)
	}
}

func TestBrokerPublishesJSON(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev Event
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.Reference != "TXN-1" || ev.Kind != PaymentSucceeded {
			return errors.New("unexpected event payload")
		}
		return nil
	})
	b := &Broker{Producer: producer, Topic: "motopay.payments"}
	if err := b.Handle(context.Background(), Event{Kind: PaymentSucceeded, Reference: "TXN-1"}); err != nil {
		t.Fatal(err)
	}
	if err := producer.Close(); err != nil {
		t.Fatal(err)
	}
}

type fakeS3 struct {
	s3iface.S3API
	keys []string
	body []byte
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	f.keys = append(f.keys, aws.StringValue(in.Key))
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestReceiptArchiveStoresSuccessfulPayments(t *testing.T) {
	client := &fakeS3{}
	a := &ReceiptArchive{Client: client, Bucket: "receipts"}
	tx := &models.Transaction{ID: "tx-1", Reference: "TXN-1", Receipt: &models.Receipt{ReceiptNumber: "RCP-42"}}

	_ = a.Handle(context.Background(), Event{Kind: PaymentFailed, Transaction: tx})
	if err := a.Handle(context.Background(), Event{Kind: PaymentSucceeded, Transaction: tx}); err != nil {
		t.Fatal(err)
	}
	if len(client.keys) != 1 || client.keys[0] != "receipts/RCP-42.json" {
		t.Fatalf("unexpected keys %v", client.keys)
	}
	if !strings.Contains(string(client.body), `"reference":"TXN-1"`) {
		t.Fatalf("archived body missing transaction: %s", client.body)
	}
}

func TestHubDeliversToSubscribers(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, "TXN-1")
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers("TXN-1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_ = hub.Handle(context.Background(), Event{Kind: PaymentSucceeded, Reference: "TXN-1", Title: "Payment received"})
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Kind != PaymentSucceeded || ev.Reference != "TXN-1" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestHubSerializesConcurrentWrites(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, "TXN-2")
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers("TXN-2") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	var logs bytes.Buffer
	d := NewDispatcher(slog.New(slog.NewTextHandler(&logs, nil)), 1024, hub)
	d.Start(4)

	const events = 200
	received := make(chan int)
	go func() {
		n := 0
		for n < events {
			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
			n++
		}
		received <- n
	}()

	for i := 0; i < events; i++ {
		d.Publish(Event{Kind: PaymentSucceeded, Reference: "TXN-2"})
	}
	d.Close()

	if n := <-received; n != events {
		t.Fatalf("expected %d messages, got %d", events, n)
	}
	if strings.Contains(logs.String(), "panicked") {
		t.Fatalf("sink panicked under concurrent delivery: %s", logs.String())
	}
}
