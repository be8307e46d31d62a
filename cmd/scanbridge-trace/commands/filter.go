package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/scanbridge-protocol/scanbridge-go/pkg/log"
)

// FilterOptions specifies filtering criteria for the filter command.
type FilterOptions struct {
	Output        string
	ConnID        string
	DeviceID      string
	WorkerProfile string
	TimeStart     string
	TimeEnd       string
	Layer         string
	Direction     string
	Category      string
}

// RunFilter filters the trace file and writes matching events to a new file.
func RunFilter(path string, opts FilterOptions, w io.Writer) error {
	filter := log.Filter{
		ConnectionID:  opts.ConnID,
		DeviceID:      opts.DeviceID,
		WorkerProfile: opts.WorkerProfile,
	}

	if opts.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeStart)
		if err != nil {
			return fmt.Errorf("invalid time-start format: %w", err)
		}
		filter.TimeStart = &t
	}

	if opts.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeEnd)
		if err != nil {
			return fmt.Errorf("invalid time-end format: %w", err)
		}
		filter.TimeEnd = &t
	}

	if opts.Layer != "" {
		l, err := parseLayer(opts.Layer)
		if err != nil {
			return err
		}
		filter.Layer = &l
	}

	if opts.Direction != "" {
		d, err := parseDirection(opts.Direction)
		if err != nil {
			return err
		}
		filter.Direction = &d
	}

	if opts.Category != "" {
		c, err := parseCategory(opts.Category)
		if err != nil {
			return err
		}
		filter.Category = &c
	}

	events, err := log.ReadFilteredFile(path, filter)
	if err != nil {
		return fmt.Errorf("failed to read trace file: %w", err)
	}

	logger, err := log.NewFileLogger(opts.Output)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer logger.Close()

	for _, event := range events {
		logger.Log(event)
	}

	fmt.Fprintf(w, "Filtered %d events to %s\n", len(events), opts.Output)
	return nil
}
