package log

import (
	"io"
	"os"
	"time"
)

// Filter selects a subset of events when reading a trace file.
// Zero-valued fields match every event.
type Filter struct {
	ConnectionID  string
	DeviceID      string
	WorkerProfile string
	TimeStart     *time.Time
	TimeEnd       *time.Time
	Layer         *Layer
	Direction     *Direction
	Category      *Category
}

// Match reports whether the event passes the filter.
func (f Filter) Match(e Event) bool {
	if f.ConnectionID != "" && e.ConnectionID != f.ConnectionID {
		return false
	}
	if f.DeviceID != "" && e.DeviceID != f.DeviceID {
		return false
	}
	if f.WorkerProfile != "" && e.WorkerProfile != f.WorkerProfile {
		return false
	}
	if f.TimeStart != nil && e.Timestamp.Before(*f.TimeStart) {
		return false
	}
	if f.TimeEnd != nil && e.Timestamp.After(*f.TimeEnd) {
		return false
	}
	if f.Layer != nil && e.Layer != *f.Layer {
		return false
	}
	if f.Direction != nil && e.Direction != *f.Direction {
		return false
	}
	if f.Category != nil && e.Category != *f.Category {
		return false
	}
	return true
}

// ReadFiltered reads all events from r that match the filter.
func ReadFiltered(r io.Reader, filter Filter) ([]Event, error) {
	events, err := ReadEvents(r)
	if err != nil {
		return nil, err
	}
	var matched []Event
	for _, e := range events {
		if filter.Match(e) {
			matched = append(matched, e)
		}
	}
	return matched, nil
}

// ReadFilteredFile reads all matching events from a trace file.
func ReadFilteredFile(path string, filter Filter) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadFiltered(f, filter)
}
