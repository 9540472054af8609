package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"

	"github.com/careflow/akimon/internal/metrics"
	"github.com/careflow/akimon/internal/tui"
)

var monitorAPIAddr string

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Launch terminal dashboard",
	Long: `Monitor starts a terminal dashboard for a running akimon instance.
It streams snapshots over the WebSocket endpoint, falling back to
polling the stats API when the stream is unavailable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		feed := newRemoteFeed(monitorAPIAddr)
		go feed.run(ctx)

		return tui.Run(feed)
	},
}

func init() {
	monitorCmd.Flags().StringVar(&monitorAPIAddr, "api-addr", "http://localhost:8000", "Address of the akimon API")
	rootCmd.AddCommand(monitorCmd)
}

// remoteFeed implements tui.Feed against a running instance's API.
type remoteFeed struct {
	apiAddr string
	client  *http.Client

	mu   sync.Mutex
	subs map[chan metrics.Snapshot]struct{}
}

func newRemoteFeed(apiAddr string) *remoteFeed {
	return &remoteFeed{
		apiAddr: strings.TrimRight(apiAddr, "/"),
		client:  &http.Client{Timeout: 5 * time.Second},
		subs:    make(map[chan metrics.Snapshot]struct{}),
	}
}

func (f *remoteFeed) Subscribe() chan metrics.Snapshot {
	ch := make(chan metrics.Snapshot, 4)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()
	return ch
}

func (f *remoteFeed) Unsubscribe(ch chan metrics.Snapshot) {
	f.mu.Lock()
	delete(f.subs, ch)
	f.mu.Unlock()
}

// Logs fetches recent log lines from the API. Errors render as an empty panel.
func (f *remoteFeed) Logs() []metrics.LogEntry {
	resp, err := f.client.Get(f.apiAddr + "/api/v1/logs")
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}
	var entries []metrics.LogEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil
	}
	return entries
}

func (f *remoteFeed) fanOut(snap metrics.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// run keeps a snapshot stream alive for the lifetime of the dashboard,
// preferring the WebSocket feed and polling otherwise.
func (f *remoteFeed) run(ctx context.Context) {
	for ctx.Err() == nil {
		if err := f.stream(ctx); err != nil && ctx.Err() == nil {
			f.poll(ctx, 5*time.Second)
		}
	}
}

func (f *remoteFeed) wsURL() string {
	u := f.apiAddr
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/api/v1/ws"
}

func (f *remoteFeed) stream(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, f.wsURL(), nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var snap metrics.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			continue
		}
		f.fanOut(snap)
	}
}

// poll falls back to the stats endpoint for the given duration before the
// stream is retried.
func (f *remoteFeed) poll(ctx context.Context, d time.Duration) {
	deadline := time.Now().Add(d)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resp, err := f.client.Get(f.apiAddr + "/api/v1/stats")
			if err != nil {
				continue
			}
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				continue
			}
			var snap metrics.Snapshot
			if err := json.Unmarshal(body, &snap); err != nil {
				continue
			}
			f.fanOut(snap)
		}
	}
}
