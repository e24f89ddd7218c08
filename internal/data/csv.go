package data

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// CSV layout: a header row, then one row per time step with columns
// event_id, label, ch_1 ... ch_64. Rows of an event must be contiguous and
// time-ordered.
const (
	colEvent  = 0
	colLabel  = 1
	colSignal = 2
	numCols   = colSignal + Channels
)

// LoadCSV loads events from a CSV file.
func LoadCSV(filename string) ([]*Event, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open file")
	}
	defer file.Close()

	events, err := ReadCSV(file)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", filename)
	}
	return events, nil
}

// ReadCSV reads events in the LoadCSV layout.
func ReadCSV(r io.Reader) ([]*Event, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = numCols
	reader.ReuseRecord = true

	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return nil, errors.New("csv file is empty")
		}
		return nil, errors.Wrap(err, "failed to read header")
	}

	var events []*Event
	seen := make(map[int]bool)
	var curr *Event
	for row := 2; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read row %d", row)
		}

		id, err := strconv.Atoi(record[colEvent])
		if err != nil {
			return nil, errors.Wrapf(err, "row %d: bad event id", row)
		}
		if curr == nil || curr.ID != id {
			if seen[id] {
				return nil, errors.Errorf("row %d: rows of event %d are not contiguous", row, id)
			}
			seen[id] = true
			curr = &Event{ID: id}
			events = append(events, curr)
		}

		label, err := strconv.ParseFloat(record[colLabel], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "row %d: bad label", row)
		}
		if label != 0 && label != 1 {
			return nil, errors.Errorf("row %d: label %v is not 0 or 1", row, label)
		}
		curr.Labels = append(curr.Labels, label)

		for j := colSignal; j < numCols; j++ {
			val, err := strconv.ParseFloat(record[j], 64)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to parse value at row %d, col %d", row, j+1)
			}
			curr.Signals = append(curr.Signals, val)
		}
	}

	if len(events) == 0 {
		return nil, errors.New("csv file has no data rows")
	}
	return events, nil
}

// WriteCSV writes events in the LoadCSV layout.
func WriteCSV(w io.Writer, events []*Event) error {
	writer := csv.NewWriter(w)

	header := make([]string, numCols)
	header[colEvent] = "event_id"
	header[colLabel] = "label"
	for c := 0; c < Channels; c++ {
		header[colSignal+c] = "ch_" + strconv.Itoa(c+1)
	}
	if err := writer.Write(header); err != nil {
		return errors.Wrap(err, "write header")
	}

	record := make([]string, numCols)
	for _, e := range events {
		for t := 0; t < e.Len(); t++ {
			record[colEvent] = strconv.Itoa(e.ID)
			record[colLabel] = strconv.FormatFloat(e.Labels[t], 'g', -1, 64)
			for c, v := range e.Step(t) {
				record[colSignal+c] = strconv.FormatFloat(v, 'g', -1, 64)
			}
			if err := writer.Write(record); err != nil {
				return errors.Wrapf(err, "write event %d step %d", e.ID, t)
			}
		}
	}
	writer.Flush()
	return errors.Wrap(writer.Error(), "flush csv")
}
