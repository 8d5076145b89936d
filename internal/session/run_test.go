package session

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/blackbee/ai-forensics/internal/chat"
)

type fakeAnalyzer struct {
	result *chat.Result
	err    error
	calls  atomic.Int32

	gotData string
	gotMIME string
}

func (f *fakeAnalyzer) Analyze(_ context.Context, encodedData, mimeType string) (*chat.Result, error) {
	f.calls.Add(1)
	f.gotData = encodedData
	f.gotMIME = mimeType
	return f.result, f.err
}

func TestRunSuccess(t *testing.T) {
	m := NewMachine()
	p := newPayload(t, "a.png")
	m.Select(p)
	a := &fakeAnalyzer{result: aiResult()}

	if err := Run(context.Background(), m, a); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if a.gotData != p.EncodedData || a.gotMIME != "image/png" {
		t.Errorf("analyzer got (%q, %q)", a.gotData, a.gotMIME)
	}
	snap := m.Snapshot()
	if snap.Status != StatusComplete || snap.Result.VerdictTitle != "极有可能是AI生成" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestRunFailureShowsUserMessage(t *testing.T) {
	m := NewMachine()
	m.Select(newPayload(t, "a.png"))
	cause := fmt.Errorf("%w: invalid JSON", chat.ErrAnalysisFailed)

	err := Run(context.Background(), m, &fakeAnalyzer{err: cause})
	if !errors.Is(err, chat.ErrAnalysisFailed) {
		t.Fatalf("Run error = %v, want ErrAnalysisFailed", err)
	}
	snap := m.Snapshot()
	if snap.Status != StatusError || snap.Error != chat.MsgAnalysisFailed {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestRunWithoutPayload(t *testing.T) {
	a := &fakeAnalyzer{result: aiResult()}
	if err := Run(context.Background(), NewMachine(), a); !errors.Is(err, ErrNoImage) {
		t.Fatalf("err = %v, want ErrNoImage", err)
	}
	if a.calls.Load() != 0 {
		t.Error("analyzer should not be called")
	}
}

func TestRunConcurrentStartsOneRequest(t *testing.T) {
	m := NewMachine()
	m.Select(newPayload(t, "a.png"))

	release := make(chan struct{})
	a := &blockingAnalyzer{release: release, result: aiResult()}

	var wg sync.WaitGroup
	var busy atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := Run(context.Background(), m, a); errors.Is(err, ErrBusy) {
				busy.Add(1)
			}
		}()
	}

	// Exactly one Run gets past Begin; the rest return ErrBusy immediately.
	for busy.Load() != 7 {
		runtime.Gosched()
	}
	close(release)
	wg.Wait()

	if got := a.calls.Load(); got != 1 {
		t.Errorf("analyzer called %d times, want 1", got)
	}
	if m.Status() != StatusComplete {
		t.Errorf("status = %v, want complete", m.Status())
	}
}

type blockingAnalyzer struct {
	release chan struct{}
	result  *chat.Result
	calls   atomic.Int32
}

func (b *blockingAnalyzer) Analyze(ctx context.Context, _, _ string) (*chat.Result, error) {
	b.calls.Add(1)
	select {
	case <-b.release:
		return b.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
