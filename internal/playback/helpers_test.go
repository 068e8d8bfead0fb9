package playback

import (
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chatcast/chatcast/internal/engines/mock"
	"github.com/chatcast/chatcast/internal/speech"
	"github.com/chatcast/chatcast/internal/ttypes"
	"github.com/stretchr/testify/require"
)

const waitFor = 3 * time.Second

func quietLogger() *log.Logger {
	l := log.New(io.Discard)
	l.SetLevel(log.FatalLevel)
	return l
}

func seg(speaker, line string) ttypes.Segment {
	return ttypes.Segment{Speaker: speaker, Line: line}
}

func hostGuest() ttypes.VoiceMapping {
	return ttypes.VoiceMapping{
		"Host":  {VoiceID: "mock-host", Name: "Host"},
		"Guest": {VoiceID: "mock-guest", Name: "Guest"},
	}
}

type testRig struct {
	engine  *mock.Engine
	adapter *speech.Adapter
	player  *Player
}

func newRig(t *testing.T, cfg Config, opts ...mock.Option) *testRig {
	t.Helper()
	engine := mock.New(opts...)
	adapter := speech.NewAdapter(engine, speech.AdapterConfig{
		AckTimeout:  50 * time.Millisecond,
		HangTimeout: 2 * time.Second,
	}, quietLogger())
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = time.Second
	}
	player := NewPlayer(adapter, cfg, quietLogger())
	t.Cleanup(func() { _ = player.Close() })
	return &testRig{engine: engine, adapter: adapter, player: player}
}

// timeline is an ordered log shared by recorders and engine hooks.
type timeline struct {
	mu      sync.Mutex
	entries []string
}

func (tl *timeline) add(entry string) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.entries = append(tl.entries, entry)
}

func (tl *timeline) snapshot() []string {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return append([]string(nil), tl.entries...)
}

// recorder collects callback activity for one session.
type recorder struct {
	tag string
	tl  *timeline

	mu       sync.Mutex
	starts   []int
	errors   []string
	finishes int

	started  chan int
	finished chan struct{}
}

func newRecorder(tag string, tl *timeline) *recorder {
	if tl == nil {
		tl = &timeline{}
	}
	return &recorder{
		tag:      tag,
		tl:       tl,
		started:  make(chan int, 64),
		finished: make(chan struct{}, 8),
	}
}

func (r *recorder) add(entry string) {
	r.tl.add(r.tag + entry)
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnSegmentStart: func(i int) {
			r.mu.Lock()
			r.starts = append(r.starts, i)
			r.mu.Unlock()
			r.add(fmt.Sprintf("start:%d", i))
			r.started <- i
		},
		OnError: func(msg string) {
			r.mu.Lock()
			r.errors = append(r.errors, msg)
			r.mu.Unlock()
			r.add("error")
		},
		OnFinish: func() {
			r.mu.Lock()
			r.finishes++
			r.mu.Unlock()
			r.add("finish")
			r.finished <- struct{}{}
		},
	}
}

func (r *recorder) Log() []string {
	return r.tl.snapshot()
}

func (r *recorder) Starts() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.starts...)
}

func (r *recorder) Errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors...)
}

func (r *recorder) Finishes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finishes
}

func (r *recorder) waitFinish(t *testing.T) {
	t.Helper()
	select {
	case <-r.finished:
	case <-time.After(waitFor):
		t.Fatalf("timed out waiting for finish; log: %v", r.Log())
	}
}

func (r *recorder) waitStart(t *testing.T, want int) {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case i := <-r.started:
			if i == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for segment %d; log: %v", want, r.Log())
		}
	}
}

// speakHook returns an engine hook that logs into tl and signals each text.
func speakHook(tl *timeline) (func(speech.Utterance), <-chan string) {
	ch := make(chan string, 64)
	return func(u speech.Utterance) {
		tl.add("speak:" + u.Text)
		ch <- u.Text
	}, ch
}

func waitSpeak(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case got := <-ch:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q to be spoken", want)
		}
	}
}

func requireStopped(t *testing.T, p *Player) {
	t.Helper()
	require.Eventually(t, func() bool { return p.State() == StateStopped }, waitFor, 5*time.Millisecond)
}
