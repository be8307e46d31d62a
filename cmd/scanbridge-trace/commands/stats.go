package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/scanbridge-protocol/scanbridge-go/pkg/log"
)

// Stats holds aggregate statistics about a trace file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	Connections       map[string]*ConnectionStats
	NativeCalls       map[string]*NativeCallStats
	Pages             int
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// ConnectionStats holds statistics for a single worker channel.
type ConnectionStats struct {
	FirstSeen     time.Time
	LastSeen      time.Time
	Events        int
	DeviceID      string
	WorkerProfile string
}

// NativeCallStats aggregates calls to one native entry point.
type NativeCallStats struct {
	Count    int
	Failures int
	Total    time.Duration
}

// RunStats analyzes the trace file and prints statistics.
func RunStats(path string, w io.Writer) error {
	events, err := log.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read trace file: %w", err)
	}

	stats := &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		Connections:       make(map[string]*ConnectionStats),
		NativeCalls:       make(map[string]*NativeCallStats),
	}

	for _, event := range events {
		stats.TotalEvents++
		stats.EventsByLayer[event.Layer]++
		stats.EventsByCategory[event.Category]++
		stats.EventsByDirection[event.Direction]++

		if stats.TimeRange.Start.IsZero() || event.Timestamp.Before(stats.TimeRange.Start) {
			stats.TimeRange.Start = event.Timestamp
		}
		if event.Timestamp.After(stats.TimeRange.End) {
			stats.TimeRange.End = event.Timestamp
		}

		if event.ConnectionID != "" {
			conn, ok := stats.Connections[event.ConnectionID]
			if !ok {
				conn = &ConnectionStats{
					FirstSeen: event.Timestamp,
					LastSeen:  event.Timestamp,
				}
				stats.Connections[event.ConnectionID] = conn
			}
			conn.Events++
			if event.Timestamp.After(conn.LastSeen) {
				conn.LastSeen = event.Timestamp
			}
			if event.DeviceID != "" && conn.DeviceID == "" {
				conn.DeviceID = event.DeviceID
			}
			if event.WorkerProfile != "" && conn.WorkerProfile == "" {
				conn.WorkerProfile = event.WorkerProfile
			}
		}

		if event.NativeCall != nil {
			nc, ok := stats.NativeCalls[event.NativeCall.Call]
			if !ok {
				nc = &NativeCallStats{}
				stats.NativeCalls[event.NativeCall.Call] = nc
			}
			nc.Count++
			nc.Total += event.NativeCall.Duration
			if event.NativeCall.Status != 0 {
				nc.Failures++
			}
		}

		if event.Message != nil && event.Message.Type == log.MessageTypePage {
			stats.Pages++
		}
		if event.Error != nil {
			stats.Errors++
		}
	}

	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Scan Protocol Trace Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerNative, log.LayerScan, log.LayerTransport, log.LayerWorker} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryNative, log.CategoryState, log.CategoryProperty, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	if len(stats.NativeCalls) > 0 {
		fmt.Fprintln(w, "Native Calls:")
		names := make([]string, 0, len(stats.NativeCalls))
		for name := range stats.NativeCalls {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			nc := stats.NativeCalls[name]
			avg := time.Duration(0)
			if nc.Count > 0 {
				avg = nc.Total / time.Duration(nc.Count)
			}
			fmt.Fprintf(w, "  %-16s %d calls, %d failed, avg %s\n", name+":", nc.Count, nc.Failures, avg.Round(time.Microsecond))
		}
		fmt.Fprintln(w)
	}

	if stats.Pages > 0 {
		fmt.Fprintf(w, "Pages Streamed: %d\n", stats.Pages)
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Worker Channels: %d\n", len(stats.Connections))
	if len(stats.Connections) > 0 {
		type connInfo struct {
			id    string
			stats *ConnectionStats
		}
		conns := make([]connInfo, 0, len(stats.Connections))
		for id, cs := range stats.Connections {
			conns = append(conns, connInfo{id, cs})
		}
		sort.Slice(conns, func(i, j int) bool {
			return conns[i].stats.FirstSeen.Before(conns[j].stats.FirstSeen)
		})

		fmt.Fprintln(w, "")
		for _, c := range conns {
			duration := c.stats.LastSeen.Sub(c.stats.FirstSeen).Round(time.Millisecond)
			shortID := c.id
			if len(shortID) > 8 {
				shortID = shortID[:8]
			}
			fmt.Fprintf(w, "  [%s] %d events, duration %s\n", shortID, c.stats.Events, duration)
			if c.stats.DeviceID != "" {
				fmt.Fprintf(w, "           Device: %s\n", c.stats.DeviceID)
			}
			if c.stats.WorkerProfile != "" {
				fmt.Fprintf(w, "           Profile: %s\n", c.stats.WorkerProfile)
			}
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
