package adapter

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mtconnect-agent/backend/internal/agent"
	"github.com/mtconnect-agent/backend/internal/models"
	"github.com/mtconnect-agent/backend/internal/testutil"
)

var (
	t0  = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
)

func newTestAgent(t *testing.T) *agent.Agent {
	t.Helper()
	a, err := agent.New(agent.Options{
		Sender:          "test",
		BufferSize:      64,
		AssetBufferSize: 8,
		Logger:          zaptest.NewLogger(t),
		Now:             func() time.Time { return now },
	})
	require.NoError(t, err)
	a.RegisterDevice(testutil.NewDevice())
	return a
}

func newTestParser(t *testing.T, ignoreTimestamps bool) *Parser {
	p := NewParser(testutil.DeviceName, newTestAgent(t), ignoreTimestamps)
	p.now = func() time.Time { return now }
	return p
}

func vals(kv ...string) models.ObservationValues {
	out := make(models.ObservationValues, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, models.ObservationValue{Key: kv[i], Value: kv[i+1]})
	}
	return out
}

func TestParseObservations(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []Observation
	}{
		{
			name: "simple pairs",
			line: "2025-01-01T00:00:00Z|xpos|1.5|mode|AUTOMATIC",
			want: []Observation{
				{"Mill", "xpos", vals(models.ValueKeyResult, "1.5"), t0},
				{"Mill", "mode", vals(models.ValueKeyResult, "AUTOMATIC"), t0},
			},
		},
		{
			name: "condition consumes five fields",
			line: "2025-01-01T00:00:00Z|system|fault|E1|2|HIGH|Overheat|exec|ACTIVE",
			want: []Observation{
				{"Mill", "system", vals(
					models.ValueKeyLevel, "FAULT",
					models.ValueKeyNativeCode, "E1",
					models.ValueKeyNativeSeverity, "2",
					models.ValueKeyQualifier, "HIGH",
					models.ValueKeyResult, "Overheat",
				), t0},
				{"Mill", "exec", vals(models.ValueKeyResult, "ACTIVE"), t0},
			},
		},
		{
			name: "normal condition without code",
			line: "2025-01-01T00:00:00Z|system|normal||||",
			want: []Observation{
				{"Mill", "system", vals(models.ValueKeyLevel, "NORMAL"), t0},
			},
		},
		{
			name: "message with native code",
			line: "|msg|C1|hello world",
			want: []Observation{
				{"Mill", "msg", vals(models.ValueKeyNativeCode, "C1", models.ValueKeyResult, "hello world"), now},
			},
		},
		{
			name: "time series",
			line: "2025-01-01T00:00:00Z|xvib|3|100|1.0 2.0 3.0",
			want: []Observation{
				{"Mill", "xvib", vals(
					models.ValueKeySampleCount, "3",
					models.ValueKeySampleRate, "100",
					models.TimeSeriesKey(0), "1.0",
					models.TimeSeriesKey(1), "2.0",
					models.TimeSeriesKey(2), "3.0",
				), t0},
			},
		},
		{
			name: "data set",
			line: "2025-01-01T00:00:00Z|vars|a=1 b={x y} c='q r'",
			want: []Observation{
				{"Mill", "vars", vals(
					models.DataSetKey("a"), "1",
					models.DataSetKey("b"), "x y",
					models.DataSetKey("c"), "q r",
				), t0},
			},
		},
		{
			name: "table",
			line: "2025-01-01T00:00:00Z|wpo|G54={X=1 Y=2} G55={X=3}",
			want: []Observation{
				{"Mill", "wpo", vals(
					models.TableKey("G54", "X"), "1",
					models.TableKey("G54", "Y"), "2",
					models.TableKey("G55", "X"), "3",
				), t0},
			},
		},
		{
			name: "unavailable data set",
			line: "2025-01-01T00:00:00Z|vars|UNAVAILABLE",
			want: []Observation{
				{"Mill", "vars", vals(models.ValueKeyResult, models.Unavailable), t0},
			},
		},
		{
			name: "device qualified key",
			line: "2025-01-01T00:00:00Z|mill-001:pc|5",
			want: []Observation{
				{"mill-001", "pc", vals(models.ValueKeyResult, "5"), t0},
			},
		},
		{
			name: "unknown keys take one field",
			line: "2025-01-01T00:00:00Z|foo|bar|pc|7",
			want: []Observation{
				{"Mill", "foo", vals(models.ValueKeyResult, "bar"), t0},
				{"Mill", "pc", vals(models.ValueKeyResult, "7"), t0},
			},
		},
		{
			name: "trailing key without value",
			line: "2025-01-01T00:00:00Z|pc",
			want: []Observation{
				{"Mill", "pc", vals(models.ValueKeyResult, ""), t0},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestParser(t, false)
			msg, err := p.Parse(tt.line)
			require.NoError(t, err)
			require.NotNil(t, msg)
			if diff := cmp.Diff(tt.want, msg.Observations); diff != "" {
				t.Errorf("observations mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseTimestamps(t *testing.T) {
	t.Run("offset converted to UTC", func(t *testing.T) {
		msg, err := newTestParser(t, false).Parse("2025-01-01T02:00:00+02:00|pc|1")
		require.NoError(t, err)
		assert.True(t, t0.Equal(msg.Observations[0].Timestamp))
		assert.Equal(t, time.UTC, msg.Observations[0].Timestamp.Location())
	})

	t.Run("ignored", func(t *testing.T) {
		msg, err := newTestParser(t, true).Parse("2025-01-01T00:00:00Z|pc|1")
		require.NoError(t, err)
		assert.Equal(t, now, msg.Observations[0].Timestamp)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := newTestParser(t, false).Parse("yesterday|pc|1")
		assert.Error(t, err)
	})

	t.Run("no data", func(t *testing.T) {
		_, err := newTestParser(t, false).Parse("2025-01-01T00:00:00Z")
		assert.Error(t, err)
	})
}

func TestParseAssets(t *testing.T) {
	t.Run("single line", func(t *testing.T) {
		msg, err := newTestParser(t, false).Parse(`2025-01-01T00:00:00Z|@ASSET@|t1|CuttingTool|<CuttingTool assetId="t1"/>`)
		require.NoError(t, err)
		require.NotNil(t, msg.Asset)
		assert.Equal(t, AssetCommand{
			Kind:      AssetAdd,
			DeviceKey: "Mill",
			AssetID:   "t1",
			Type:      "CuttingTool",
			Content:   `<CuttingTool assetId="t1"/>`,
			Timestamp: t0,
		}, *msg.Asset)
	})

	t.Run("multiline", func(t *testing.T) {
		p := newTestParser(t, false)
		lines := []string{
			"2025-01-01T00:00:00Z|@ASSET@|mill-001:t2|CuttingTool|--multiline--ABC",
			`<CuttingTool assetId="t2">`,
			"  <Description>a|b</Description>",
			"</CuttingTool>",
		}
		for _, line := range lines {
			msg, err := p.Parse(line)
			require.NoError(t, err)
			assert.Nil(t, msg)
		}
		msg, err := p.Parse("--multiline--ABC")
		require.NoError(t, err)
		require.NotNil(t, msg.Asset)
		assert.Equal(t, "mill-001", msg.Asset.DeviceKey)
		assert.Equal(t, "t2", msg.Asset.AssetID)
		assert.Equal(t, "<CuttingTool assetId=\"t2\">\n  <Description>a|b</Description>\n</CuttingTool>", msg.Asset.Content)

		// back to normal lines
		msg, err = p.Parse("2025-01-01T00:00:00Z|pc|1")
		require.NoError(t, err)
		require.Len(t, msg.Observations, 1)
	})

	t.Run("remove", func(t *testing.T) {
		msg, err := newTestParser(t, false).Parse("|@REMOVE_ASSET@|t1")
		require.NoError(t, err)
		assert.Equal(t, AssetRemove, msg.Asset.Kind)
		assert.Equal(t, "t1", msg.Asset.AssetID)
	})

	t.Run("remove all", func(t *testing.T) {
		msg, err := newTestParser(t, false).Parse("|@REMOVE_ALL_ASSETS@|CuttingTool")
		require.NoError(t, err)
		assert.Equal(t, AssetRemoveAll, msg.Asset.Kind)
		assert.Equal(t, "CuttingTool", msg.Asset.Type)
	})

	t.Run("unknown command", func(t *testing.T) {
		_, err := newTestParser(t, false).Parse("|@RENAME_ASSET@|t1")
		assert.Error(t, err)
	})
}

func TestParseCommands(t *testing.T) {
	tests := []struct {
		line string
		want Command
	}{
		{"* PONG 10000", Command{Name: "PONG", Value: "10000"}},
		{"* shdrVersion: 2.0", Command{Name: "shdrVersion", Value: "2.0"}},
		{"* uuid: mill-001", Command{Name: "uuid", Value: "mill-001"}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			msg, err := newTestParser(t, false).Parse(tt.line)
			require.NoError(t, err)
			require.NotNil(t, msg.Command)
			assert.Equal(t, tt.want, *msg.Command)
		})
	}

	hb, ok := heartbeat("250")
	assert.True(t, ok)
	assert.Equal(t, 250*time.Millisecond, hb)
	_, ok = heartbeat("soon")
	assert.False(t, ok)
}

func TestParseBlankLine(t *testing.T) {
	msg, err := newTestParser(t, false).Parse("  \r\n")
	require.NoError(t, err)
	assert.Nil(t, msg)
}
