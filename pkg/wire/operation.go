package wire

// Operation identifies the requested operation on the worker channel.
type Operation uint8

const (
	// OpEnumerate lists the devices visible to the worker's driver.
	OpEnumerate Operation = 1

	// OpCapabilities reads the capabilities of one device.
	OpCapabilities Operation = 2

	// OpScan runs a full scan, streaming pages back as stream events.
	OpScan Operation = 3

	// OpQueryUI shows the driver's native configuration dialog and
	// returns the settings the user changed.
	OpQueryUI Operation = 4

	// OpProbe checks whether the worker can serve a named capability.
	OpProbe Operation = 5
)

// IsValid returns true for a known operation code.
func (o Operation) IsValid() bool {
	return o >= OpEnumerate && o <= OpProbe
}

// String returns the operation name.
func (o Operation) String() string {
	switch o {
	case OpEnumerate:
		return "enumerate"
	case OpCapabilities:
		return "capabilities"
	case OpScan:
		return "scan"
	case OpQueryUI:
		return "queryUI"
	case OpProbe:
		return "probe"
	default:
		return "unknown"
	}
}
