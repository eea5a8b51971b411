package event

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestLogSink_Levels(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindInfo, "level=DEBUG"},
		{KindWarning, "level=WARN"},
		{KindError, "level=ERROR"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

			NewLogSink(logger).Broadcast(Event{
				Kind:    tt.kind,
				Code:    CodeCorruptData,
				Message: "dangling reference",
				TxnID:   "t1",
				Scope:   "acme",
				Type:    "user",
				ID:      "u1",
				Err:     errors.New("boom"),
			})

			out := buf.String()
			for _, want := range []string{tt.want, "code=corrupt_data", "txn=t1", "scope=acme", "type=user", "id=u1", "error=boom", `msg="dangling reference"`} {
				if !strings.Contains(out, want) {
					t.Errorf("expected %q in %q", want, out)
				}
			}
		})
	}
}

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Broadcast(Event{Kind: KindInfo, Code: CodeCacheHit})
	r.Broadcast(Event{Kind: KindWarning, Code: CodeCorruptData})
	r.Broadcast(Event{Kind: KindInfo, Code: CodeCacheHit})

	if got := len(r.Events()); got != 3 {
		t.Errorf("expected 3 events, got %d", got)
	}
	if got := len(r.ByCode(CodeCacheHit)); got != 2 {
		t.Errorf("expected 2 cache hits, got %d", got)
	}

	r.Reset()
	if got := len(r.Events()); got != 0 {
		t.Errorf("expected no events after reset, got %d", got)
	}
}

func TestMulti(t *testing.T) {
	var a, b Recorder
	var calls int
	sink := Multi(&a, &b, SinkFunc(func(Event) { calls++ }))

	sink.Broadcast(Event{Kind: KindError, Code: CodeMaintenanceFailed})

	if len(a.Events()) != 1 || len(b.Events()) != 1 || calls != 1 {
		t.Errorf("expected every sink to receive the event")
	}
}
