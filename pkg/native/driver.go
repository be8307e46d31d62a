package native

// DriverKind is the vendor-neutral category of native scanning API.
type DriverKind uint8

const (
	// KindImaging is a Windows-style imaging API (device manager, item
	// tree, property store).
	KindImaging DriverKind = 0

	// KindAcquisition is a legacy cross-platform image-acquisition API,
	// typically only loadable in a 32-bit process.
	KindAcquisition DriverKind = 1
)

// String returns the driver kind name.
func (k DriverKind) String() string {
	switch k {
	case KindImaging:
		return "imaging"
	case KindAcquisition:
		return "acquisition"
	default:
		return "unknown"
	}
}

// APIVersion selects the native protocol version to negotiate.
type APIVersion uint8

const (
	// VersionDefault lets the driver pick; resolves to Version2 on stacks
	// that support it.
	VersionDefault APIVersion = 0

	// Version1 is the older protocol version.
	Version1 APIVersion = 1

	// Version2 is the newer protocol version.
	Version2 APIVersion = 2
)

// String returns the version name.
func (v APIVersion) String() string {
	switch v {
	case VersionDefault:
		return "default"
	case Version1:
		return "v1"
	case Version2:
		return "v2"
	default:
		return "unknown"
	}
}

// Status is a native status code. Zero means success. Non-zero values are
// driver-specific; the well-known ones below cover the codes the
// orchestration layer reacts to.
type Status int

const (
	// StatusOK indicates success.
	StatusOK Status = 0

	// StatusGeneralError is an unclassified native failure.
	StatusGeneralError Status = 1

	// StatusInvalidArgument indicates the native call rejected a parameter.
	// Seen from version negotiation on stacks that only speak Version1.
	StatusInvalidArgument Status = 2

	// StatusNoMoreItems terminates a device or item enumeration.
	StatusNoMoreItems Status = 3

	// StatusPaperEmpty indicates the feeder has no more pages. The exact
	// code is driver-specific; see scan.StatusTable.
	StatusPaperEmpty Status = 4

	// StatusDeviceBusy indicates the device is in use.
	StatusDeviceBusy Status = 5

	// StatusDeviceComm indicates a communication failure with the device.
	StatusDeviceComm Status = 6

	// StatusOffline indicates the device is unreachable.
	StatusOffline Status = 7

	// StatusCancelled indicates an in-flight transfer was cancelled.
	StatusCancelled Status = 8

	// StatusNotSupported indicates the operation or property is not
	// supported by the driver.
	StatusNotSupported Status = 9
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusGeneralError:
		return "GENERAL_ERROR"
	case StatusInvalidArgument:
		return "INVALID_ARGUMENT"
	case StatusNoMoreItems:
		return "NO_MORE_ITEMS"
	case StatusPaperEmpty:
		return "PAPER_EMPTY"
	case StatusDeviceBusy:
		return "DEVICE_BUSY"
	case StatusDeviceComm:
		return "DEVICE_COMM"
	case StatusOffline:
		return "OFFLINE"
	case StatusCancelled:
		return "CANCELLED"
	case StatusNotSupported:
		return "NOT_SUPPORTED"
	default:
		return "UNKNOWN"
	}
}

// IsOK returns true if the status indicates success.
func (s Status) IsOK() bool {
	return s == StatusOK
}

// PropertyID identifies a native device or item property.
type PropertyID uint32

// Device and item properties the orchestration layer reads and writes.
// Values are stable identifiers in the driver binding, not raw vendor IDs.
const (
	// PropDeviceID is the unique device identifier (string).
	PropDeviceID PropertyID = 1

	// PropDeviceName is the human-readable device name (string).
	PropDeviceName PropertyID = 2

	// PropItemName is the paper source name of an item (string).
	PropItemName PropertyID = 3

	// PropHorizontalResolution is the horizontal DPI (int).
	PropHorizontalResolution PropertyID = 10

	// PropVerticalResolution is the vertical DPI (int).
	PropVerticalResolution PropertyID = 11

	// PropDataType is the pixel data type (int, see Data* values).
	PropDataType PropertyID = 12

	// PropBrightness is the brightness adjustment (int).
	PropBrightness PropertyID = 13

	// PropContrast is the contrast adjustment (int).
	PropContrast PropertyID = 14

	// PropXStart is the horizontal scan origin in thousandths of an inch (int).
	PropXStart PropertyID = 15

	// PropXExtent is the horizontal scan extent in pixels (int).
	PropXExtent PropertyID = 16

	// PropYExtent is the vertical scan extent in pixels (int).
	PropYExtent PropertyID = 17

	// PropPages is the number of pages to transfer (int, 0 = all).
	PropPages PropertyID = 18

	// PropHorizontalBedSize is the bed width in thousandths of an inch (int).
	PropHorizontalBedSize PropertyID = 19

	// PropVerticalBedSize is the bed height in thousandths of an inch (int).
	PropVerticalBedSize PropertyID = 20

	// PropHandlingSelect selects the paper source (int, Sel* flags).
	PropHandlingSelect PropertyID = 21

	// PropHandlingCapabilities reports source support (int, Cap* flags).
	PropHandlingCapabilities PropertyID = 22

	// PropHandlingStatus reports feeder readiness (int, StatusFeedReady flag).
	PropHandlingStatus PropertyID = 23
)

// PropDataType values.
const (
	// DataBlackAndWhite is 1-bit threshold data.
	DataBlackAndWhite = 0

	// DataGrayscale is 8-bit grayscale data.
	DataGrayscale = 2

	// DataColor is 24-bit color data.
	DataColor = 3
)

// PropHandlingCapabilities flags.
const (
	// CapFeeder indicates an automatic document feeder is present.
	CapFeeder = 1 << 0

	// CapFlatbed indicates a flatbed is present.
	CapFlatbed = 1 << 1

	// CapDuplex indicates duplex feeding is supported.
	CapDuplex = 1 << 2

	// CapDetectFeederPaper indicates the driver can report whether the
	// feeder has paper loaded.
	CapDetectFeederPaper = 1 << 3
)

// PropHandlingSelect flags.
const (
	// SelFeeder selects the document feeder.
	SelFeeder = 1 << 0

	// SelFlatbed selects the flatbed.
	SelFlatbed = 1 << 1

	// SelDuplex enables duplex feeding (combined with SelFeeder).
	SelDuplex = 1 << 2

	// SelFrontOnly scans front sides only (combined with SelFeeder).
	SelFrontOnly = 1 << 3
)

// PropHandlingStatus flags.
const (
	// StatusFeedReady indicates the feeder has paper loaded.
	StatusFeedReady = 1 << 0
)

// AttrShape distinguishes the two native property-attribute shapes.
type AttrShape uint8

const (
	// AttrNone means the property has no constraint information.
	AttrNone AttrShape = 0

	// AttrRange means the property accepts a {min, max, step} range.
	AttrRange AttrShape = 1

	// AttrList means the property accepts an explicit value set.
	AttrList AttrShape = 2
)

// PropertyAttributes describes the values a native property accepts.
type PropertyAttributes struct {
	Shape AttrShape

	// Range constraint, valid when Shape == AttrRange.
	Min, Max, Step int

	// Explicit value set, valid when Shape == AttrList.
	Values []int
}

// UIResult is the outcome of a native configuration dialog. Changed holds
// only the property values the user altered, so a remote dialog result can
// be reapplied locally without overwriting unrelated state.
type UIResult struct {
	// Accepted is false if the user dismissed the dialog.
	Accepted bool `cbor:"1,keyasint"`

	// ItemName is the paper source the user picked.
	ItemName string `cbor:"2,keyasint,omitempty"`

	// Changed maps each altered property to its new value.
	Changed map[PropertyID]int `cbor:"3,keyasint,omitempty"`
}

// Driver is the native scanning library binding. Every method requires a
// live *Token obtained from the Guard owned by the handle Manager;
// implementations must fail fast with ErrNotLocked when it is missing.
//
// Methods that allocate return a raw handle of 0 on failure; the caller
// then reads LastError for the failure code (the native library keeps a
// per-library last-error slot).
type Driver interface {
	// Kind reports which native API this binding drives.
	Kind() DriverKind

	// LastError returns the native library's last-error code.
	LastError(tok *Token) Status

	// OpenManager opens the top-level device manager handle for the given
	// protocol version. Returns 0 on failure.
	OpenManager(tok *Token, version APIVersion) uintptr

	// EnumDeviceInfo returns the device-info handle at index, or 0 with
	// LastError() == StatusNoMoreItems past the end of the list.
	EnumDeviceInfo(tok *Token, manager uintptr, index int) uintptr

	// OpenDevice opens a device handle by ID. Returns 0 on failure.
	OpenDevice(tok *Token, manager uintptr, deviceID string) uintptr

	// EnumItems returns the item handles (paper sources) under a device.
	EnumItems(tok *Token, device uintptr) ([]uintptr, Status)

	// GetPropertyInt reads an integer property.
	GetPropertyInt(tok *Token, handle uintptr, prop PropertyID) (int, Status)

	// GetPropertyString reads a string property.
	GetPropertyString(tok *Token, handle uintptr, prop PropertyID) (string, Status)

	// PropertyAttributes reads the constraint shape of a property.
	PropertyAttributes(tok *Token, handle uintptr, prop PropertyID) (PropertyAttributes, Status)

	// SetPropertyInt writes an integer property.
	SetPropertyInt(tok *Token, handle uintptr, prop PropertyID, value int) Status

	// ShowNativeUI runs the driver's configuration dialog for a device.
	// parent is the host window handle, 0 for none.
	ShowNativeUI(tok *Token, device uintptr, parent uintptr) (UIResult, Status)

	// StartTransfer opens a transfer session on an item. Returns 0 on
	// failure.
	StartTransfer(tok *Token, item uintptr) uintptr

	// Download blocks until one page is delivered or the transfer ends.
	// progress receives advisory fractions in [0,1], monotonically
	// non-decreasing within the page. A nil payload with a non-OK status
	// signals loop termination ("no more pages") or an error.
	Download(tok *Token, transfer uintptr, progress func(float64)) ([]byte, Status)

	// Cancel requests cancellation of an in-flight Download on the given
	// transfer session. This is the one entry point the native library
	// documents as callable without the guard, so a blocked Download can
	// be unblocked from another goroutine.
	Cancel(transfer uintptr) Status

	// CloseHandle releases any handle returned by this binding.
	CloseHandle(tok *Token, handle uintptr) Status
}
