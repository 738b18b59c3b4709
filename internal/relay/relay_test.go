package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/KafClaw/roadmap/internal/bus"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaSinkWritesEnvelope(t *testing.T) {
	fw := &fakeWriter{}
	sink := newKafkaSink(fw, "demo", nil)
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	sig := &bus.Signal{
		Kind:      bus.KindNote,
		RefKind:   "task",
		RefID:     "t1",
		Severity:  "warning",
		Content:   "parent not paused",
		Timestamp: ts,
	}
	if err := sink.Send(context.Background(), sig); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(fw.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fw.msgs))
	}
	msg := fw.msgs[0]
	if string(msg.Key) != "task:t1" {
		t.Fatalf("unexpected key %q", msg.Key)
	}
	if !msg.Time.Equal(ts) {
		t.Fatalf("unexpected time %v", msg.Time)
	}
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["kind"] != bus.KindNote || headers["severity"] != "warning" {
		t.Fatalf("unexpected headers %+v", headers)
	}
	var env Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Type != bus.KindNote || env.Source != "demo" || env.Payload == nil || env.Payload.Content != "parent not paused" {
		t.Fatalf("unexpected envelope %+v", env)
	}

	if err := sink.Close(); err != nil || !fw.closed {
		t.Fatalf("close: %v closed=%v", err, fw.closed)
	}
}

func TestKafkaSinkKeyWithoutRef(t *testing.T) {
	fw := &fakeWriter{}
	sink := newKafkaSink(fw, "", nil)
	sink.Handle(context.Background(), &bus.Signal{Kind: bus.KindSyncReport, Content: "x"})
	if len(fw.msgs) != 1 || string(fw.msgs[0].Key) != bus.KindSyncReport {
		t.Fatalf("unexpected messages %+v", fw.msgs)
	}
}

func TestKafkaSinkHandleSwallowsErrors(t *testing.T) {
	fw := &fakeWriter{err: errors.New("broker down")}
	sink := newKafkaSink(fw, "", nil)
	sink.Handle(context.Background(), &bus.Signal{Kind: bus.KindNote, Content: "x"})
	if err := sink.Send(context.Background(), &bus.Signal{Kind: bus.KindNote}); err == nil || !strings.Contains(err.Error(), "broker down") {
		t.Fatalf("expected wrapped writer error, got %v", err)
	}
}

func TestNewKafkaSinkValidates(t *testing.T) {
	if _, err := NewKafkaSink(KafkaConfig{Brokers: []string{" "}, Topic: "t"}, nil); err == nil {
		t.Fatal("expected error without brokers")
	}
	if _, err := NewKafkaSink(KafkaConfig{Brokers: []string{"localhost:9092"}}, nil); err == nil {
		t.Fatal("expected error without topic")
	}
	sink, err := NewKafkaSink(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "roadmap.signals"}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	w, ok := sink.w.(*kafka.Writer)
	if !ok || w.Topic != "roadmap.signals" || w.RequiredAcks != kafka.RequireOne {
		t.Fatalf("unexpected writer %+v", sink.w)
	}
}

type slackRecorder struct {
	mu    sync.Mutex
	texts []string
	chans []string
}

func (r *slackRecorder) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/chat.postMessage" {
			http.NotFound(w, req)
			return
		}
		_ = req.ParseForm()
		r.mu.Lock()
		r.texts = append(r.texts, req.FormValue("text"))
		r.chans = append(r.chans, req.FormValue("channel"))
		r.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "channel": req.FormValue("channel"), "ts": "1"})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSlackSinkPostsWarningsAndResumeCandidates(t *testing.T) {
	rec := &slackRecorder{}
	srv := rec.server(t)
	sink, err := NewSlackSink(SlackConfig{Token: "xoxb-test", Channel: "C123", APIBase: srv.URL}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	sink.Handle(ctx, &bus.Signal{Kind: bus.KindNote, Severity: "info", Content: "task created"})
	sink.Handle(ctx, &bus.Signal{Kind: bus.KindNote, Severity: "warning", Content: "parent not paused", RefKind: "task", RefID: "t1"})
	sink.Handle(ctx, &bus.Signal{Kind: bus.KindResumeCandidate, Content: "resume task T1", RefKind: "task", RefID: "t1"})
	sink.Handle(ctx, &bus.Signal{Kind: bus.KindNextStep, Content: "next pending task: T2"})

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.texts) != 2 {
		t.Fatalf("expected 2 posts, got %d: %v", len(rec.texts), rec.texts)
	}
	if !strings.Contains(rec.texts[0], "parent not paused") || !strings.Contains(rec.texts[0], "(task t1)") {
		t.Fatalf("unexpected warning text %q", rec.texts[0])
	}
	if !strings.Contains(rec.texts[1], "resume task T1") {
		t.Fatalf("unexpected resume text %q", rec.texts[1])
	}
	if rec.chans[0] != "C123" {
		t.Fatalf("unexpected channel %q", rec.chans[0])
	}
}

func TestSlackSinkMinSeverity(t *testing.T) {
	sink, err := NewSlackSink(SlackConfig{Token: "x", Channel: "C", MinSeverity: "error"}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if sink.Wants(&bus.Signal{Kind: bus.KindNote, Severity: "warning"}) {
		t.Fatal("warning should be filtered at error threshold")
	}
	if !sink.Wants(&bus.Signal{Kind: bus.KindNote, Severity: "error"}) {
		t.Fatal("error should pass")
	}
	if _, err := NewSlackSink(SlackConfig{Token: "x", Channel: "C", MinSeverity: "loud"}, nil); err == nil {
		t.Fatal("expected unknown severity error")
	}
	if _, err := NewSlackSink(SlackConfig{Channel: "C"}, nil); err == nil {
		t.Fatal("expected missing token error")
	}
	if _, err := NewSlackSink(SlackConfig{Token: "x"}, nil); err == nil {
		t.Fatal("expected missing channel error")
	}
}

func TestSlackSinkPostError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "channel_not_found"})
	}))
	defer srv.Close()
	sink, err := NewSlackSink(SlackConfig{Token: "x", Channel: "C", APIBase: srv.URL + "/"}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := sink.Post(context.Background(), &bus.Signal{Kind: bus.KindNote, Content: "x"}); err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Fatalf("expected slack error, got %v", err)
	}
}

func TestRelaysOverBus(t *testing.T) {
	fw := &fakeWriter{}
	b := bus.New(10)
	b.Subscribe(bus.KindAll, newKafkaSink(fw, "", nil).Handle)
	b.Publish(&bus.Signal{Kind: bus.KindNextStep, Content: "a"})
	b.Publish(&bus.Signal{Kind: bus.KindNote, Content: "b"})
	if n := b.Drain(context.Background()); n != 2 {
		t.Fatalf("drained %d", n)
	}
	if len(fw.msgs) != 2 {
		t.Fatalf("expected 2 relayed messages, got %d", len(fw.msgs))
	}
}
