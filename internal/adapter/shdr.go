// Package adapter connects to SHDR adapters and feeds their observations
// and assets into the agent.
package adapter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/relvacode/iso8601"

	"github.com/mtconnect-agent/backend/internal/models"
)

// Resolver looks up devices and data items so that multi-field values can
// be decoded by category.
type Resolver interface {
	ResolveDevice(key string) (string, bool)
	DataItem(deviceUUID, key string) (models.BoundDataItem, bool)
}

// Observation is one decoded key/value group of an SHDR line.
type Observation struct {
	DeviceKey   string
	DataItemKey string
	Values      models.ObservationValues
	Timestamp   time.Time
}

// AssetCommandKind identifies an asset command.
type AssetCommandKind string

const (
	AssetAdd       AssetCommandKind = "@ASSET@"
	AssetUpdate    AssetCommandKind = "@UPDATE_ASSET@"
	AssetRemove    AssetCommandKind = "@REMOVE_ASSET@"
	AssetRemoveAll AssetCommandKind = "@REMOVE_ALL_ASSETS@"
)

// AssetCommand is a decoded asset line.
type AssetCommand struct {
	Kind      AssetCommandKind
	DeviceKey string
	AssetID   string
	Type      string
	Content   string
	Timestamp time.Time
}

// Command is a protocol line starting with '*'.
type Command struct {
	Name  string
	Value string
}

// Message is the result of one complete SHDR line. Exactly one field is set.
type Message struct {
	Observations []Observation
	Asset        *AssetCommand
	Command      *Command
}

const multilinePrefix = "--multiline--"

// Parser decodes SHDR lines for a default device. It keeps the state of a
// multiline asset between calls and is not safe for concurrent use.
type Parser struct {
	device           string
	resolver         Resolver
	ignoreTimestamps bool
	now              func() time.Time

	pending    *AssetCommand
	terminator string
	body       []string
}

// NewParser creates a parser for lines sent on behalf of device.
func NewParser(device string, resolver Resolver, ignoreTimestamps bool) *Parser {
	return &Parser{
		device:           device,
		resolver:         resolver,
		ignoreTimestamps: ignoreTimestamps,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// Parse decodes one line. It returns nil without error for blank lines and
// while a multiline asset body is being collected.
func (p *Parser) Parse(line string) (*Message, error) {
	line = strings.TrimRight(line, "\r\n")

	if p.pending != nil {
		if strings.TrimSpace(line) == p.terminator {
			asset := p.pending
			asset.Content = strings.Join(p.body, "\n")
			p.pending, p.body, p.terminator = nil, nil, ""
			return &Message{Asset: asset}, nil
		}
		p.body = append(p.body, line)
		return nil, nil
	}

	if strings.TrimSpace(line) == "" {
		return nil, nil
	}
	if strings.HasPrefix(line, "*") {
		return &Message{Command: parseCommand(line)}, nil
	}

	fields := strings.Split(line, "|")
	ts, err := p.timestamp(fields[0])
	if err != nil {
		return nil, err
	}
	if len(fields) < 2 {
		return nil, fmt.Errorf("line has no data: %q", line)
	}

	if strings.HasPrefix(fields[1], "@") {
		return p.parseAsset(fields[1:], ts)
	}
	return &Message{Observations: p.parseObservations(fields[1:], ts)}, nil
}

func (p *Parser) timestamp(field string) (time.Time, error) {
	field = strings.TrimSpace(field)
	if field == "" || p.ignoreTimestamps {
		return p.now(), nil
	}
	ts, err := iso8601.ParseString(field)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", field, err)
	}
	return ts.UTC(), nil
}

func parseCommand(line string) *Command {
	body := strings.TrimSpace(strings.TrimPrefix(line, "*"))
	if name, value, ok := strings.Cut(body, ":"); ok {
		return &Command{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)}
	}
	name, value, _ := strings.Cut(body, " ")
	return &Command{Name: name, Value: strings.TrimSpace(value)}
}

func (p *Parser) parseAsset(fields []string, ts time.Time) (*Message, error) {
	kind := AssetCommandKind(fields[0])
	cmd := &AssetCommand{Kind: kind, DeviceKey: p.device, Timestamp: ts}
	arg := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}

	switch kind {
	case AssetAdd, AssetUpdate:
		cmd.AssetID, cmd.Type = arg(1), arg(2)
		if dev, id, ok := strings.Cut(cmd.AssetID, ":"); ok {
			cmd.DeviceKey, cmd.AssetID = dev, id
		}
		content := strings.Join(fields[min(3, len(fields)):], "|")
		if strings.HasPrefix(content, multilinePrefix) {
			p.pending = cmd
			p.terminator = strings.TrimSpace(content)
			return nil, nil
		}
		cmd.Content = content
	case AssetRemove:
		cmd.AssetID = arg(1)
	case AssetRemoveAll:
		cmd.Type = arg(1)
	default:
		return nil, fmt.Errorf("unknown asset command %s", kind)
	}
	return &Message{Asset: cmd}, nil
}

func (p *Parser) parseObservations(fields []string, ts time.Time) []Observation {
	var out []Observation
	for i := 0; i < len(fields); {
		key := fields[i]
		i++

		device := p.device
		if dev, item, ok := strings.Cut(key, ":"); ok {
			device, key = dev, item
		}

		var di *models.DataItem
		if p.resolver != nil {
			if uuid, ok := p.resolver.ResolveDevice(device); ok {
				if bound, ok := p.resolver.DataItem(uuid, key); ok {
					di = bound.DataItem
				}
			}
		}

		n := fieldCount(di)
		args := make([]string, n)
		for j := 0; j < n; j++ {
			if i < len(fields) {
				args[j] = fields[i]
				i++
			}
		}
		out = append(out, Observation{
			DeviceKey:   device,
			DataItemKey: key,
			Values:      decodeValues(di, args),
			Timestamp:   ts,
		})
	}
	return out
}

// fieldCount is the number of SHDR fields a data item consumes.
func fieldCount(di *models.DataItem) int {
	switch {
	case di == nil:
		return 1
	case di.Category == models.CategoryCondition:
		return 5
	case di.Type == models.TypeMessage:
		return 2
	case di.Representation == models.RepresentationTimeSeries:
		return 3
	}
	return 1
}

func decodeValues(di *models.DataItem, args []string) models.ObservationValues {
	if di == nil {
		return models.ObservationValues{{Key: models.ValueKeyResult, Value: strings.TrimSpace(args[0])}}
	}

	var values models.ObservationValues
	add := func(key, value string) {
		if value = strings.TrimSpace(value); value != "" {
			values = append(values, models.ObservationValue{Key: key, Value: value})
		}
	}

	switch {
	case di.Category == models.CategoryCondition:
		values = models.ObservationValues{{Key: models.ValueKeyLevel, Value: strings.ToUpper(strings.TrimSpace(args[0]))}}
		add(models.ValueKeyNativeCode, args[1])
		add(models.ValueKeyNativeSeverity, args[2])
		add(models.ValueKeyQualifier, args[3])
		add(models.ValueKeyResult, args[4])
	case di.Type == models.TypeMessage:
		add(models.ValueKeyNativeCode, args[0])
		add(models.ValueKeyResult, args[1])
	case di.Representation == models.RepresentationTimeSeries:
		if strings.TrimSpace(args[2]) == models.Unavailable || strings.TrimSpace(args[0]) == models.Unavailable {
			return models.ObservationValues{{Key: models.ValueKeyResult, Value: models.Unavailable}}
		}
		add(models.ValueKeySampleCount, args[0])
		add(models.ValueKeySampleRate, args[1])
		for n, v := range strings.Fields(args[2]) {
			add(models.TimeSeriesKey(n), v)
		}
	case di.Representation == models.RepresentationDataSet:
		if strings.TrimSpace(args[0]) == models.Unavailable {
			return models.ObservationValues{{Key: models.ValueKeyResult, Value: models.Unavailable}}
		}
		for _, e := range parseEntries(args[0]) {
			add(models.DataSetKey(e.key), e.value)
		}
	case di.Representation == models.RepresentationTable:
		if strings.TrimSpace(args[0]) == models.Unavailable {
			return models.ObservationValues{{Key: models.ValueKeyResult, Value: models.Unavailable}}
		}
		for _, row := range parseTable(args[0]) {
			for _, cell := range row.cells {
				add(models.TableKey(row.key, cell.key), cell.value)
			}
		}
	default:
		add(models.ValueKeyResult, args[0])
	}
	if values == nil {
		values = models.ObservationValues{{Key: models.ValueKeyResult, Value: ""}}
	}
	return values
}

type entry struct {
	key, value string
}

type tableRow struct {
	key   string
	cells []entry
}

// parseEntries decodes "k1=v1 k2=v2" in order. Values may be quoted or
// wrapped in braces.
func parseEntries(s string) []entry {
	var out []entry
	for _, tok := range splitEntries(s) {
		k, v, _ := strings.Cut(tok, "=")
		if k == "" {
			continue
		}
		out = append(out, entry{key: k, value: unquote(v)})
	}
	return out
}

func parseTable(s string) []tableRow {
	var rows []tableRow
	for _, e := range parseEntries(s) {
		rows = append(rows, tableRow{key: e.key, cells: parseEntries(e.value)})
	}
	return rows
}

// splitEntries splits on spaces outside quotes and braces.
func splitEntries(s string) []string {
	var out []string
	var cur strings.Builder
	depth := 0
	var quote rune
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '{':
			depth++
		case r == '}':
			if depth > 0 {
				depth--
			}
		case r == ' ' && depth == 0:
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
			continue
		}
		cur.WriteRune(r)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

func unquote(v string) string {
	if len(v) >= 2 {
		switch {
		case v[0] == '{' && v[len(v)-1] == '}':
			return v[1 : len(v)-1]
		case v[0] == '"' && v[len(v)-1] == '"', v[0] == '\'' && v[len(v)-1] == '\'':
			return v[1 : len(v)-1]
		}
	}
	return v
}

// heartbeat parses the PONG argument in milliseconds.
func heartbeat(value string) (time.Duration, bool) {
	ms, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || ms <= 0 {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}
