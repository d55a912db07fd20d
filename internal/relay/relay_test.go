package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/mtconnect-agent/backend/internal/agent"
	"github.com/mtconnect-agent/backend/internal/codec"
	"github.com/mtconnect-agent/backend/internal/models"
	"github.com/mtconnect-agent/backend/internal/testutil"
)

type published struct {
	topic   string
	payload []byte
	retain  bool
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, topic string, payload []byte, retain bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{topic, payload, retain})
	return nil
}

func (f *fakePublisher) topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.msgs))
	for i, m := range f.msgs {
		out[i] = m.topic
	}
	return out
}

func newTestAgent(t *testing.T) *agent.Agent {
	t.Helper()
	a, err := agent.New(agent.Options{
		Sender:          "test",
		BufferSize:      64,
		AssetBufferSize: 8,
		Logger:          zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return a
}

func TestRelayTopics(t *testing.T) {
	defer goleak.VerifyNone(t)
	pub := &fakePublisher{}
	r := New(pub, Options{TopicPrefix: "shop/", Logger: zaptest.NewLogger(t)})

	a := newTestAgent(t)
	r.Attach(a)
	a.RegisterDevice(testutil.NewDevice())
	require.True(t, a.AddObservation("Mill", "pc", models.ObservationValues{{Key: models.ValueKeyResult, Value: "3"}}, time.Time{}, nil))
	require.True(t, a.AddAsset("Mill", models.AssetRecord{AssetID: "t1", Type: "CuttingTool", Content: "<CuttingTool/>"}, nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	want := []string{
		"shop/mill-001/Device",
		"shop/mill-001/Observations/pc",
		"shop/mill-001/Assets/t1",
		"shop/mill-001/Observations/d1_asset_chg",
	}
	assert.Eventually(t, func() bool {
		got := pub.topics()
		for _, w := range want {
			if !contains(got, w) {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	for _, m := range pub.msgs {
		if m.topic != "shop/mill-001/Observations/pc" {
			continue
		}
		assert.True(t, m.retain)
		var rec models.ObservationRecord
		require.NoError(t, json.Unmarshal(m.payload, &rec))
		assert.Equal(t, "3", rec.Values.Result())
		assert.Positive(t, rec.Sequence)
	}
}

func TestRelayDropsWhenQueueFull(t *testing.T) {
	pub := &fakePublisher{}
	r := New(pub, Options{QueueSize: 2})

	for i := 0; i < 5; i++ {
		r.HandleObservation(&models.ObservationRecord{DeviceUUID: "d", DataItemID: fmt.Sprint(i)})
	}
	stats := r.Stats()
	assert.Equal(t, 2, stats.Queued)
	assert.Equal(t, int64(3), stats.Dropped)
}

func TestRelayCountsFailures(t *testing.T) {
	defer goleak.VerifyNone(t)
	pub := &fakePublisher{err: fmt.Errorf("broker gone")}
	r := New(pub, Options{Format: codec.MsgPack})
	r.HandleAsset(models.AssetRecord{AssetID: "t1", DeviceUUID: "d"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	assert.Eventually(t, func() bool { return r.Stats().Failed == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Zero(t, r.Stats().Published)
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// startBroker runs an in-process MQTT broker.
func startBroker(t *testing.T) string {
	t.Helper()
	address := fmt.Sprintf("127.0.0.1:%d", freePort(t))

	broker := mochi.New(nil)
	require.NoError(t, broker.AddHook(&auth.AllowHook{}, nil))
	require.NoError(t, broker.AddListener(listeners.NewTCP(listeners.Config{
		ID:      "t1",
		Type:    "tcp",
		Address: address,
	})))
	require.NoError(t, broker.Serve())
	t.Cleanup(func() { broker.Close() })
	return address
}

func TestRelayWithBroker(t *testing.T) {
	address := startBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan *paho.Publish, 16)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	require.NoError(t, err)
	sub := paho.NewClient(paho.ClientConfig{
		ClientID: "subscriber",
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				received <- pr.Packet
				return true, nil
			},
		},
	})
	_, err = sub.Connect(ctx, &paho.Connect{ClientID: "subscriber", KeepAlive: 5, CleanStart: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Disconnect(&paho.Disconnect{}) })
	_, err = sub.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: "MTConnect/+/Observations/#", QoS: 1}},
	})
	require.NoError(t, err)

	pub, err := Dial(ctx, address, "agent", 1, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	r := New(pub, Options{Logger: zaptest.NewLogger(t)})
	a := newTestAgent(t)
	a.RegisterDevice(testutil.NewDevice())
	r.Attach(a)

	runCtx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(runCtx) }()
	defer func() {
		stop()
		<-done
	}()

	require.True(t, a.AddObservation("Mill", "exec", models.ObservationValues{{Key: models.ValueKeyResult, Value: "ACTIVE"}}, time.Time{}, nil))

	select {
	case p := <-received:
		assert.Equal(t, "MTConnect/mill-001/Observations/exec", p.Topic)
		var rec models.ObservationRecord
		require.NoError(t, json.Unmarshal(p.Payload, &rec))
		assert.Equal(t, "ACTIVE", rec.Values.Result())
	case <-ctx.Done():
		t.Fatal("no message relayed")
	}
	assert.Eventually(t, func() bool { return r.Stats().Published == 1 }, time.Second, 5*time.Millisecond)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
