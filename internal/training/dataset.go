package training

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/Alexander76Kuznetsov/mfdp/internal/artifact"
)

// Dataset file names expected under a job's data path
const (
	ClickstreamFile = "clickstream.csv"
	EventsFile      = "events.csv"
)

// eventDateLayouts are tried in order when parsing event_date
var eventDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.DateOnly,
}

// Interaction is one clickstream row: a cookie touching a node with an event
type Interaction struct {
	Cookie    int64
	Node      int64
	Event     int64
	EventDate time.Time
}

// Dataset is the raw training input
type Dataset struct {
	Clickstream   []Interaction
	ContactEvents map[int64]bool
}

// LoadDataset reads clickstream.csv and events.csv under dataPath
func LoadDataset(ctx context.Context, store artifact.Store, dataPath string) (*Dataset, error) {
	clickData, err := store.Get(ctx, artifact.Join(dataPath, ClickstreamFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", ClickstreamFile, err)
	}

	eventData, err := store.Get(ctx, artifact.Join(dataPath, EventsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", EventsFile, err)
	}

	clickstream, err := parseClickstream(bytes.NewReader(clickData))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", ClickstreamFile, err)
	}

	contactEvents, err := parseEvents(bytes.NewReader(eventData))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", EventsFile, err)
	}

	return &Dataset{Clickstream: clickstream, ContactEvents: contactEvents}, nil
}

// csvTable reads a headed CSV and resolves the required columns by name
type csvTable struct {
	reader  *csv.Reader
	columns map[string]int
	line    int
}

func newCSVTable(r io.Reader, required ...string) (*csvTable, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("missing header")
		}
		return nil, err
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range required {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	return &csvTable{reader: reader, columns: columns, line: 1}, nil
}

// next returns the following record, or io.EOF
func (t *csvTable) next() ([]string, error) {
	record, err := t.reader.Read()
	if err != nil {
		return nil, err
	}
	t.line++
	return record, nil
}

func (t *csvTable) intField(record []string, column string) (int64, error) {
	raw := strings.TrimSpace(record[t.columns[column]])
	v, err := strconv.ParseInt(raw, 10, 64)
	if err == nil {
		return v, nil
	}

	// integer columns exported through float types come out as "12.0"
	f, ferr := strconv.ParseFloat(raw, 64)
	if ferr != nil || f != float64(int64(f)) {
		return 0, fmt.Errorf("line %d: invalid %s %q", t.line, column, raw)
	}
	return int64(f), nil
}

func (t *csvTable) timeField(record []string, column string) (time.Time, error) {
	raw := strings.TrimSpace(record[t.columns[column]])
	for _, layout := range eventDateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("line %d: invalid %s %q", t.line, column, raw)
}

func parseClickstream(r io.Reader) ([]Interaction, error) {
	table, err := newCSVTable(r, "cookie", "node", "event", "event_date")
	if err != nil {
		return nil, err
	}

	var rows []Interaction
	for {
		record, err := table.next()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}

		var row Interaction
		if row.Cookie, err = table.intField(record, "cookie"); err != nil {
			return nil, err
		}
		if row.Node, err = table.intField(record, "node"); err != nil {
			return nil, err
		}
		if row.Event, err = table.intField(record, "event"); err != nil {
			return nil, err
		}
		if row.EventDate, err = table.timeField(record, "event_date"); err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
}

func parseEvents(r io.Reader) (map[int64]bool, error) {
	table, err := newCSVTable(r, "event", "is_contact")
	if err != nil {
		return nil, err
	}

	contact := make(map[int64]bool)
	for {
		record, err := table.next()
		if errors.Is(err, io.EOF) {
			return contact, nil
		}
		if err != nil {
			return nil, err
		}

		event, err := table.intField(record, "event")
		if err != nil {
			return nil, err
		}
		isContact, err := table.intField(record, "is_contact")
		if err != nil {
			return nil, err
		}
		if isContact == 1 {
			contact[event] = true
		}
	}
}
