package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

type blockingSink struct {
	release chan struct{}
	got     chan Event
}

func (s *blockingSink) Emit(_ context.Context, e Event) {
	<-s.release
	s.got <- e
}

func TestDispatcherDisabledIsNil(t *testing.T) {
	if d := NewDispatcher(Config{Enabled: false}, NoOpSink{}); d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	var d *Dispatcher
	d.Emit(context.Background(), Event{EventType: "x"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher must report zero drops")
	}
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)

	for _, typ := range []string{"a", "b", "c"} {
		d.Emit(context.Background(), Event{EventType: typ})
	}
	d.Close()

	for _, want := range []string{"a", "b", "c"} {
		select {
		case e := <-sink.Events():
			if e.EventType != want {
				t.Fatalf("expected %q, got %q", want, e.EventType)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestDispatcherDropIfFullCountsDrops(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{}), got: make(chan Event, 16)}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "burst"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops with a stalled sink")
	}
	close(sink.release)
	d.Close()
}

func TestDispatcherEmitAfterCloseIsIgnored(t *testing.T) {
	sink := NewChannelSink(1)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)
	d.Close()
	d.Emit(context.Background(), Event{EventType: "late"})

	select {
	case e := <-sink.Events():
		t.Fatalf("unexpected event after close: %+v", e)
	default:
	}
}

func TestJSONWriterSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONWriterSink(&buf)
	s.Emit(context.Background(), Event{EventType: "recovery.verify", ErrorKind: "auth"})
	s.Emit(context.Background(), Event{EventType: "recovery.commit", Success: true})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var e Event
	if err := json.Unmarshal([]byte(lines[0]), &e); err != nil {
		t.Fatalf("invalid json line: %v", err)
	}
	if e.ErrorKind != "auth" {
		t.Fatalf("expected error_kind auth, got %q", e.ErrorKind)
	}
}

func TestDispatcherStampsAndCounts(t *testing.T) {
	sink := NewChannelSink(4)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, sink)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	d.now = func() time.Time { return fixed }

	d.Emit(context.Background(), Event{EventType: "stamped"})
	preset := fixed.Add(-time.Hour)
	d.Emit(context.Background(), Event{EventType: "preset", Timestamp: preset})
	d.Close()

	if e := <-sink.Events(); !e.Timestamp.Equal(fixed) {
		t.Fatalf("expected dispatcher timestamp, got %v", e.Timestamp)
	}
	if e := <-sink.Events(); !e.Timestamp.Equal(preset) {
		t.Fatalf("preset timestamp overwritten: %v", e.Timestamp)
	}
	if st := d.Stats(); st.Delivered != 2 || st.Dropped != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestDispatcherBlockingEmitGivesUpWithContext(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{}), got: make(chan Event, 4)}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)
	defer func() {
		close(sink.release)
		d.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	for i := 0; i < 3; i++ {
		d.Emit(ctx, Event{EventType: "slow"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected an event abandoned on context expiry")
	}
}

func TestFanoutReachesEverySink(t *testing.T) {
	a, b := NewChannelSink(1), NewChannelSink(1)
	Fanout{a, nil, b}.Emit(context.Background(), Event{EventType: "both"})
	for i, s := range []*ChannelSink{a, b} {
		select {
		case e := <-s.Events():
			if e.EventType != "both" {
				t.Fatalf("sink %d got %q", i, e.EventType)
			}
		default:
			t.Fatalf("sink %d received nothing", i)
		}
	}
}

func TestJSONWriterSinkCountsFailures(t *testing.T) {
	s := NewJSONWriterSink(failingWriter{})
	s.Emit(context.Background(), Event{EventType: "lost"})
	if s.Failures() != 1 {
		t.Fatalf("expected one failure, got %d", s.Failures())
	}
}

func TestMaskEmail(t *testing.T) {
	cases := map[string]string{
		"":                  "",
		"alice@example.com": "a***@example.com",
		"no-at":             "***",
		"@example.com":      "***",
	}
	for in, want := range cases {
		if got := MaskEmail(in); got != want {
			t.Fatalf("MaskEmail(%q)=%q want %q", in, got, want)
		}
	}
}
