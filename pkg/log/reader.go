package log

import (
	"errors"
	"io"
	"os"
)

// ReadEvents reads all events from a CBOR log stream.
// It stops at EOF; a truncated final record is returned as an error
// together with the events decoded so far.
func ReadEvents(r io.Reader) ([]Event, error) {
	dec := NewDecoder(r)

	var events []Event
	for {
		var ev Event
		err := dec.Decode(&ev)
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

// ReadFile reads all events from a log file written by FileLogger.
func ReadFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadEvents(f)
}
