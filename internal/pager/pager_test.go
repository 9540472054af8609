package pager

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// pagerStub records received pages and can be toggled down.
type pagerStub struct {
	mu       sync.Mutex
	down     bool
	received []string
}

func (p *pagerStub) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.down {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	p.received = append(p.received, string(body))
	w.WriteHeader(http.StatusOK)
}

func (p *pagerStub) setDown(down bool) {
	p.mu.Lock()
	p.down = down
	p.mu.Unlock()
}

func (p *pagerStub) pages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.received))
	copy(out, p.received)
	return out
}

func newDispatcher(t *testing.T, srv *httptest.Server, queuePath string) *Dispatcher {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}
	d, err := New(u.Hostname(), port, queuePath, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	d.sleep = func(time.Duration) {}
	return d
}

func TestSend_Success(t *testing.T) {
	stub := &pagerStub{}
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	defer srv.Close()

	d := newDispatcher(t, srv, filepath.Join(t.TempDir(), "pager.pkl"))
	if err := d.Send("12345", "20240924153600"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	got := stub.pages()
	if len(got) != 1 || got[0] != "12345,20240924153600" {
		t.Errorf("pages = %v", got)
	}
	if d.QueueLen() != 0 {
		t.Errorf("queue len = %d, want 0", d.QueueLen())
	}
}

func TestSend_FailureQueuesEntry(t *testing.T) {
	stub := &pagerStub{}
	stub.setDown(true)
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	defer srv.Close()

	d := newDispatcher(t, srv, filepath.Join(t.TempDir(), "pager.pkl"))
	if err := d.Send("12345", "20240924153600"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if d.QueueLen() != 1 {
		t.Fatalf("queue len = %d, want 1", d.QueueLen())
	}
}

func TestRetryDelays(t *testing.T) {
	stub := &pagerStub{}
	stub.setDown(true)
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	defer srv.Close()

	d := newDispatcher(t, srv, filepath.Join(t.TempDir(), "pager.pkl"))
	var delays []time.Duration
	d.sleep = func(dur time.Duration) { delays = append(delays, dur) }

	if err := d.Send("1", "20240101000000"); err != nil {
		t.Fatal(err)
	}

	// delay starts at 0.4s and is multiplied by the attempt count.
	want := []time.Duration{400 * time.Millisecond, 800 * time.Millisecond, 2400 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestQueueSurvivesRestart_AndDrainsFIFO(t *testing.T) {
	stub := &pagerStub{}
	stub.setDown(true)
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	defer srv.Close()

	queuePath := filepath.Join(t.TempDir(), "pager.pkl")

	d := newDispatcher(t, srv, queuePath)
	if err := d.Send("12345", "20240901000000"); err != nil {
		t.Fatal(err)
	}
	if err := d.Send("67890", "20240902000000"); err != nil {
		t.Fatal(err)
	}
	if d.QueueLen() != 2 {
		t.Fatalf("queue len = %d, want 2", d.QueueLen())
	}

	// "Restart": a fresh dispatcher restores the queue from disk.
	d2 := newDispatcher(t, srv, queuePath)
	if d2.QueueLen() != 2 {
		t.Fatalf("restored queue len = %d, want 2", d2.QueueLen())
	}

	// Pager comes back; next positive drains everything in FIFO order.
	stub.setDown(false)
	if err := d2.Send("99999", "20240903000000"); err != nil {
		t.Fatal(err)
	}

	got := stub.pages()
	want := []string{
		"99999,20240903000000", // the triggering page goes first
		"12345,20240901000000",
		"67890,20240902000000",
	}
	if len(got) != len(want) {
		t.Fatalf("pages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("pages[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if d2.QueueLen() != 0 {
		t.Errorf("queue len = %d after drain, want 0", d2.QueueLen())
	}
}

func TestDrain_StopsAtFirstExhausted_RequeuesAtTail(t *testing.T) {
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		// First request (the trigger) succeeds, everything after fails.
		if n == 1 {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	queuePath := filepath.Join(t.TempDir(), "pager.pkl")
	d := newDispatcher(t, srv, queuePath)
	d.queue = []Entry{
		{MRN: "A", Date: "20240101000000"},
		{MRN: "B", Date: "20240102000000"},
	}

	if err := d.Send("T", "20240103000000"); err != nil {
		t.Fatal(err)
	}

	// A exhausted its attempts and moved to the tail; B was never tried.
	if d.QueueLen() != 2 {
		t.Fatalf("queue len = %d, want 2", d.QueueLen())
	}
	if d.queue[0].MRN != "B" || d.queue[1].MRN != "A" {
		t.Errorf("queue order = %v, want [B A]", d.queue)
	}
}

func TestNew_CorruptQueueFile(t *testing.T) {
	dir := t.TempDir()
	queuePath := filepath.Join(dir, "pager.pkl")
	if err := os.WriteFile(queuePath, []byte("not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := New("localhost", 8441, queuePath, zerolog.Nop()); err == nil {
		t.Fatal("New() on corrupt queue must fail")
	}
}
