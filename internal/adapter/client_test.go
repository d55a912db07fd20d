package adapter

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/mtconnect-agent/backend/internal/models"
	"github.com/mtconnect-agent/backend/internal/testutil"
)

// fakeAdapter accepts connections and runs serve on each of them.
type fakeAdapter struct {
	ln    net.Listener
	serve func(conn net.Conn, r *bufio.Reader)

	mu      sync.Mutex
	accepts int
	wg      sync.WaitGroup
}

func startFakeAdapter(t *testing.T, serve func(conn net.Conn, r *bufio.Reader)) *fakeAdapter {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeAdapter{ln: ln, serve: serve}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			f.mu.Lock()
			f.accepts++
			f.mu.Unlock()
			f.wg.Add(1)
			go func() {
				defer f.wg.Done()
				defer conn.Close()
				f.serve(conn, bufio.NewReader(conn))
			}()
		}
	}()
	return f
}

func (f *fakeAdapter) port() int {
	return f.ln.Addr().(*net.TCPAddr).Port
}

func (f *fakeAdapter) Accepts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accepts
}

func (f *fakeAdapter) Close() {
	f.ln.Close()
	f.wg.Wait()
}

type observed struct {
	mu      sync.Mutex
	records []*models.ObservationRecord
}

func (o *observed) add(rec *models.ObservationRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records = append(o.records, rec)
}

func (o *observed) last(dataItemID string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.records) - 1; i >= 0; i-- {
		if o.records[i].DataItemID == dataItemID {
			return o.records[i].Values.Result()
		}
	}
	return ""
}

func TestClientForwardsLines(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := newTestAgent(t)
	obs := &observed{}
	a.OnObservationAdded(obs.add)

	release := make(chan struct{})
	adapter := startFakeAdapter(t, func(conn net.Conn, r *bufio.Reader) {
		ping, err := r.ReadString('\n')
		if err != nil || ping != "* PING\n" {
			return
		}
		fmt.Fprint(conn, "* PONG 60000\n")
		fmt.Fprint(conn, "2025-01-01T00:00:00Z|avail|AVAILABLE|pc|12\n")
		fmt.Fprint(conn, "2025-01-01T00:00:01Z|@ASSET@|t1|CuttingTool|--multiline--X\n<CuttingTool/>\n--multiline--X\n")
		<-release
	})

	client := NewClient(Config{
		Device:            testutil.DeviceName,
		Host:              "127.0.0.1",
		Port:              adapter.port(),
		ReconnectInterval: time.Hour,
	}, a, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	assert.Eventually(t, func() bool {
		_, err := a.GetAsset("t1")
		return err == nil && obs.last("pc") == "12"
	}, 3*time.Second, 10*time.Millisecond)
	assert.True(t, client.Connected())
	assert.Equal(t, "AVAILABLE", obs.last("avail"))
	assert.GreaterOrEqual(t, client.Lines(), int64(5))

	asset, err := a.GetAsset("t1")
	require.NoError(t, err)
	assert.Equal(t, "<CuttingTool/>", asset.Content)

	close(release)
	assert.Eventually(t, func() bool {
		return obs.last("avail") == models.Unavailable
	}, 3*time.Second, 10*time.Millisecond, "disconnect marks the device unavailable")

	cancel()
	require.NoError(t, <-done)
	adapter.Close()
	assert.False(t, client.Connected())
}

func TestClientHeartbeatTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := newTestAgent(t)
	stop := make(chan struct{})
	adapter := startFakeAdapter(t, func(conn net.Conn, r *bufio.Reader) {
		if _, err := r.ReadString('\n'); err != nil {
			return
		}
		// announce a heartbeat and then go silent
		fmt.Fprint(conn, "* PONG 50\n")
		select {
		case <-stop:
		case <-time.After(5 * time.Second):
		}
	})

	client := NewClient(Config{
		Device:            testutil.DeviceName,
		Host:              "127.0.0.1",
		Port:              adapter.port(),
		ReconnectInterval: 20 * time.Millisecond,
	}, a, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	assert.Eventually(t, func() bool { return adapter.Accepts() >= 2 },
		3*time.Second, 10*time.Millisecond, "client reconnects after a missed heartbeat")

	cancel()
	require.NoError(t, <-done)
	close(stop)
	adapter.Close()
}

func TestClientReconnectsWhenRefused(t *testing.T) {
	defer goleak.VerifyNone(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	client := NewClient(Config{
		Device:            testutil.DeviceName,
		Host:              "127.0.0.1",
		Port:              port,
		ReconnectInterval: 10 * time.Millisecond,
	}, newTestAgent(t), zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.NoError(t, client.Run(ctx))
	assert.False(t, client.Connected())
}
