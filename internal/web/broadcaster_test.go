package web

import (
	"encoding/json"
	"testing"
	"time"
)

func receive(t *testing.T, ch <-chan string) LogEvent {
	t.Helper()
	select {
	case msg := <-ch:
		var evt LogEvent
		if err := json.Unmarshal([]byte(msg), &evt); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return evt
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast")
	}
	return LogEvent{}
}

func TestBroadcaster_SubscribeAndReceive(t *testing.T) {
	b := NewLogBroadcaster()
	b.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	ch, unsub := b.Subscribe()
	defer unsub()

	b.Broadcast("info", "hello")

	evt := receive(t, ch)
	if evt.Msg != "hello" || evt.Level != "info" {
		t.Errorf("event = %+v, want info/hello", evt)
	}
	if evt.Time != "2024-05-01T12:00:00Z" {
		t.Errorf("time = %q", evt.Time)
	}
}

func TestBroadcaster_MultipleSubscribers(t *testing.T) {
	b := NewLogBroadcaster()
	ch1, unsub1 := b.Subscribe()
	defer unsub1()
	ch2, unsub2 := b.Subscribe()
	defer unsub2()

	if b.Subscribers() != 2 {
		t.Fatalf("Subscribers = %d, want 2", b.Subscribers())
	}
	b.Broadcast("warn", "multi")

	for i, ch := range []<-chan string{ch1, ch2} {
		if evt := receive(t, ch); evt.Msg != "multi" {
			t.Errorf("subscriber %d: msg = %q, want \"multi\"", i, evt.Msg)
		}
	}
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := NewLogBroadcaster()
	ch, unsub := b.Subscribe()
	unsub()
	unsub()

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
	if b.Subscribers() != 0 {
		t.Errorf("Subscribers = %d, want 0", b.Subscribers())
	}
	// Broadcasting after unsubscribe must not panic.
	b.Broadcast("info", "after unsub")
}

func TestBroadcaster_FullChannelDropsMessage(t *testing.T) {
	b := NewLogBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	for i := 0; i < 64; i++ {
		b.Broadcast("info", "fill")
	}
	b.Broadcast("info", "overflow")

	count := 0
	for len(ch) > 0 {
		<-ch
		count++
	}
	if count != 64 {
		t.Errorf("expected 64 buffered messages, got %d", count)
	}
}

func TestBroadcastWriter_ConsoleLines(t *testing.T) {
	b := NewLogBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	w := BroadcastWriter(b)
	in := "2024/05/01 12:00:00.000000\tWARN\tRotorGo\t[Rotor] Stall detected\n" +
		"   \n" +
		"plain message\n"
	n, err := w.Write([]byte(in))
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if n != len(in) {
		t.Errorf("n = %d, want %d", n, len(in))
	}

	first := receive(t, ch)
	if first.Level != "warn" || first.Msg != "[Rotor] Stall detected" {
		t.Errorf("first = %+v", first)
	}
	second := receive(t, ch)
	if second.Level != "info" || second.Msg != "plain message" {
		t.Errorf("second = %+v", second)
	}
	select {
	case msg := <-ch:
		t.Errorf("unexpected extra event %q", msg)
	default:
	}
}

func TestSplitConsoleLine(t *testing.T) {
	cases := []struct {
		line, level, msg string
	}{
		{"t\tINFO\tRotorGo\tstarted", "info", "started"},
		{"t\tDEBUG\tno logger name", "debug", "no logger name"},
		{"just text", "info", "just text"},
	}
	for _, tc := range cases {
		level, msg := splitConsoleLine(tc.line)
		if level != tc.level || msg != tc.msg {
			t.Errorf("splitConsoleLine(%q) = %q, %q; want %q, %q", tc.line, level, msg, tc.level, tc.msg)
		}
	}
}
