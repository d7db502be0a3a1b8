package rtpod

import (
	"strings"
	"sync"
	"testing"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// jsonLog collects stumpy events as JSON lines.
type jsonLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *jsonLog) writer() logiface.WriterFunc[*stumpy.Event] {
	return func(e *stumpy.Event) error {
		l.mu.Lock()
		l.lines = append(l.lines, string(e.Bytes())+"}")
		l.mu.Unlock()
		return nil
	}
}

func (l *jsonLog) contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func TestLogging_structuredEvents(t *testing.T) {
	var log jsonLog
	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithTimeField(``)),
		stumpy.L.WithWriter(log.writer()),
		stumpy.L.WithLevel(logiface.LevelDebug),
	)

	p, _ := newTestPod(t, 1, WithLogger(logger.Logger()))

	if !log.contains("pod activated") {
		t.Fatalf("missing activation event, got %v", log.lines)
	}

	a := startThread(t, p, "A", 10, 0, 0)
	if !log.contains(`"thread":"A"`) {
		t.Fatalf("missing thread field, got %v", log.lines)
	}

	p.SuspendThread(a, Suspended, Infinite, Relative, nil)
	if !log.contains("thread suspend") {
		t.Fatal("missing suspend event")
	}
}
