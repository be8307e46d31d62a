package scan

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/scanbridge-protocol/scanbridge-go/pkg/native"
)

// StatusTable maps each driver kind to the native status codes that
// terminate a feeder download loop ("no more pages"). The exact code is
// driver- and version-specific, so the table is configurable rather than
// a single hardcoded constant.
type StatusTable map[native.DriverKind]map[native.Status]bool

// DefaultStatusTable returns the terminal-status table for the drivers the
// stock bindings ship with.
func DefaultStatusTable() StatusTable {
	return StatusTable{
		native.KindImaging: {
			native.StatusPaperEmpty:  true,
			native.StatusNoMoreItems: true,
		},
		native.KindAcquisition: {
			native.StatusPaperEmpty: true,
		},
	}
}

// IsTerminal reports whether code ends the download loop for the given
// driver kind.
func (t StatusTable) IsTerminal(kind native.DriverKind, code native.Status) bool {
	codes, ok := t[kind]
	if !ok {
		return false
	}
	return codes[code]
}

// statusTableFile is the YAML shape of a status table override.
//
//	drivers:
//	  imaging:
//	    terminal_statuses: [4, 3]
//	  acquisition:
//	    terminal_statuses: [4]
type statusTableFile struct {
	Drivers map[string]struct {
		TerminalStatuses []int `yaml:"terminal_statuses"`
	} `yaml:"drivers"`
}

// ReadStatusTable parses a YAML status table override. Driver kinds not
// mentioned in the file keep their defaults.
func ReadStatusTable(r io.Reader) (StatusTable, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var file statusTableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse status table: %w", err)
	}

	table := DefaultStatusTable()
	for name, entry := range file.Drivers {
		var kind native.DriverKind
		switch name {
		case "imaging":
			kind = native.KindImaging
		case "acquisition":
			kind = native.KindAcquisition
		default:
			return nil, fmt.Errorf("unknown driver kind %q in status table", name)
		}

		codes := make(map[native.Status]bool, len(entry.TerminalStatuses))
		for _, c := range entry.TerminalStatuses {
			codes[native.Status(c)] = true
		}
		table[kind] = codes
	}
	return table, nil
}

// LoadStatusTable reads a YAML status table override from a file.
func LoadStatusTable(path string) (StatusTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadStatusTable(f)
}
