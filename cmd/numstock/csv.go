package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/prasetyo/numstock"
)

// Timestamp layouts accepted in ingest files, tried in order.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02",
}

// csvSource reads ingest records from a CSV stream with a header line.
// The phone and timestamp columns are required; url is optional and
// becomes the record source.
type csvSource struct {
	reader *csv.Reader
	phone  int
	url    int
	ts     int
}

var _ numstock.RecordSource = (*csvSource)(nil)

func newCSVSource(r io.Reader) (*csvSource, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	src := &csvSource{reader: reader, phone: -1, url: -1, ts: -1}
	for i, name := range header {
		switch name {
		case "phone":
			src.phone = i
		case "url":
			src.url = i
		case "timestamp":
			src.ts = i
		}
	}
	if src.phone == -1 {
		return nil, fmt.Errorf("CSV header has no phone column")
	}
	if src.ts == -1 {
		return nil, fmt.Errorf("CSV header has no timestamp column")
	}
	return src, nil
}

// Next returns the next record, or io.EOF at the end of the stream.
func (s *csvSource) Next() (numstock.IngestRecord, error) {
	row, err := s.reader.Read()
	if err != nil {
		// io.EOF passes through and ends the ingestion run.
		return numstock.IngestRecord{}, err
	}

	importedAt, err := parseTimestamp(row[s.ts])
	if err != nil {
		return numstock.IngestRecord{}, fmt.Errorf("row %s: %w", row[s.phone], err)
	}
	rec := numstock.IngestRecord{
		Number:     row[s.phone],
		ImportedAt: importedAt,
	}
	if s.url != -1 {
		rec.Source = row[s.url]
	}
	return rec, nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
