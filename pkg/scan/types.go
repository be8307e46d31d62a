package scan

import (
	"image"

	"github.com/scanbridge-protocol/scanbridge-go/pkg/native"
)

// DeviceDescriptor identifies a physical device independent of transport.
// Descriptors are immutable and compared by (Kind, ID).
type DeviceDescriptor struct {
	Kind        native.DriverKind `cbor:"1,keyasint" json:"kind"`
	ID          string            `cbor:"2,keyasint" json:"id"`
	DisplayName string            `cbor:"3,keyasint" json:"display_name"`
}

// Equal reports whether two descriptors identify the same device.
func (d DeviceDescriptor) Equal(other DeviceDescriptor) bool {
	return d.Kind == other.Kind && d.ID == other.ID
}

// PaperSource is the logical scan origin.
type PaperSource uint8

const (
	// SourceAuto resolves to a concrete source before transfer begins:
	// flatbed if supported, else feeder.
	SourceAuto PaperSource = 0

	// SourceFlatbed scans from the flatbed bed.
	SourceFlatbed PaperSource = 1

	// SourceFeeder scans from the automatic document feeder.
	SourceFeeder PaperSource = 2

	// SourceDuplex scans both sides from the feeder.
	SourceDuplex PaperSource = 3
)

// String returns the source name.
func (s PaperSource) String() string {
	switch s {
	case SourceAuto:
		return "auto"
	case SourceFlatbed:
		return "flatbed"
	case SourceFeeder:
		return "feeder"
	case SourceDuplex:
		return "duplex"
	default:
		return "unknown"
	}
}

// IsFeeder reports whether the source pulls pages through the feeder.
func (s PaperSource) IsFeeder() bool {
	return s == SourceFeeder || s == SourceDuplex
}

// ColorMode selects the pixel data type.
type ColorMode uint8

const (
	// ColorModeColor requests 24-bit color.
	ColorModeColor ColorMode = 0

	// ColorModeGrayscale requests 8-bit grayscale.
	ColorModeGrayscale ColorMode = 1

	// ColorModeBlackAndWhite requests 1-bit threshold data.
	ColorModeBlackAndWhite ColorMode = 2
)

// String returns the color mode name.
func (c ColorMode) String() string {
	switch c {
	case ColorModeColor:
		return "color"
	case ColorModeGrayscale:
		return "grayscale"
	case ColorModeBlackAndWhite:
		return "bw"
	default:
		return "unknown"
	}
}

// dataType maps the color mode onto the native pixel data type.
func (c ColorMode) dataType() int {
	switch c {
	case ColorModeGrayscale:
		return native.DataGrayscale
	case ColorModeBlackAndWhite:
		return native.DataBlackAndWhite
	default:
		return native.DataColor
	}
}

// PageSize is a physical page size in thousandths of an inch.
type PageSize struct {
	Width  int `cbor:"1,keyasint" json:"width"`
	Height int `cbor:"2,keyasint" json:"height"`
}

// Common page sizes.
var (
	PageSizeLetter = PageSize{Width: 8500, Height: 11000}
	PageSizeLegal  = PageSize{Width: 8500, Height: 14000}
	PageSizeA4     = PageSize{Width: 8267, Height: 11692}
)

// HorizontalAlign positions the page on a bed wider than the page.
type HorizontalAlign uint8

const (
	// AlignLeft places the page at the left edge of the bed.
	AlignLeft HorizontalAlign = 0

	// AlignCenter centers the page on the bed.
	AlignCenter HorizontalAlign = 1

	// AlignRight places the page at the right edge of the bed.
	AlignRight HorizontalAlign = 2
)

// Options configures one scan session. Options are immutable for the
// duration of the scan.
type Options struct {
	// Source is the requested paper source. SourceAuto is resolved to a
	// concrete source before transfer begins.
	Source PaperSource `cbor:"1,keyasint" json:"source"`

	// Resolution is the requested DPI. The closest supported value is
	// used when the exact value is not available.
	Resolution int `cbor:"2,keyasint" json:"resolution"`

	// ColorMode is the requested pixel data type.
	ColorMode ColorMode `cbor:"3,keyasint" json:"color_mode"`

	// PageSize is the requested page geometry.
	PageSize PageSize `cbor:"4,keyasint" json:"page_size"`

	// Alignment positions the page horizontally on the bed.
	Alignment HorizontalAlign `cbor:"5,keyasint" json:"alignment"`

	// Brightness adjustment, driver units.
	Brightness int `cbor:"6,keyasint" json:"brightness"`

	// Contrast adjustment, driver units.
	Contrast int `cbor:"7,keyasint" json:"contrast"`

	// UseNativeUI prompts through the driver's own dialog instead of
	// configuring properties directly.
	UseNativeUI bool `cbor:"8,keyasint,omitempty" json:"use_native_ui,omitempty"`

	// DialogParent is the host window handle for the native dialog,
	// widened so the options survive CBOR relay. Only meaningful in the
	// process that owns the window.
	DialogParent uint64 `cbor:"9,keyasint,omitempty" json:"-"`

	// Version selects the native protocol version to negotiate.
	Version native.APIVersion `cbor:"10,keyasint,omitempty" json:"version,omitempty"`

	// AppliedUI carries a dialog result obtained in another process.
	// When set the machine skips its own dialog and reapplies only the
	// changed property values.
	AppliedUI *native.UIResult `cbor:"11,keyasint,omitempty" json:"-"`
}

// ResolutionCaps describes supported resolutions, either as a {min, max,
// step} range or as an explicit value set (exactly one form is populated).
type ResolutionCaps struct {
	Min    int   `cbor:"1,keyasint,omitempty" json:"min,omitempty"`
	Max    int   `cbor:"2,keyasint,omitempty" json:"max,omitempty"`
	Step   int   `cbor:"3,keyasint,omitempty" json:"step,omitempty"`
	Values []int `cbor:"4,keyasint,omitempty" json:"values,omitempty"`
}

// IsRange reports whether the caps are a range rather than a value set.
func (r ResolutionCaps) IsRange() bool {
	return len(r.Values) == 0 && r.Max > 0
}

// Closest returns the supported resolution closest to want.
// Returns want unchanged when no constraint information is present.
func (r ResolutionCaps) Closest(want int) int {
	if len(r.Values) > 0 {
		best := r.Values[0]
		for _, v := range r.Values[1:] {
			if abs(v-want) < abs(best-want) {
				best = v
			}
		}
		return best
	}
	if r.Max > 0 {
		if want < r.Min {
			return r.Min
		}
		if want > r.Max {
			return r.Max
		}
		if r.Step > 1 {
			return r.Min + (want-r.Min)/r.Step*r.Step
		}
	}
	return want
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// SourceCaps describes what one paper source supports.
type SourceCaps struct {
	Resolutions           ResolutionCaps `cbor:"1,keyasint" json:"resolutions"`
	SupportsColor         bool           `cbor:"2,keyasint" json:"supports_color"`
	SupportsGrayscale     bool           `cbor:"3,keyasint" json:"supports_grayscale"`
	SupportsBlackAndWhite bool           `cbor:"4,keyasint" json:"supports_black_and_white"`

	// Bed geometry in thousandths of an inch, 0 when unreported.
	MaxWidth  int `cbor:"5,keyasint,omitempty" json:"max_width,omitempty"`
	MaxHeight int `cbor:"6,keyasint,omitempty" json:"max_height,omitempty"`
}

// Capabilities is the per-device capability descriptor. Derived once per
// query; read-only.
type Capabilities struct {
	// Flatbed is nil when the device has no flatbed.
	Flatbed *SourceCaps `cbor:"1,keyasint,omitempty" json:"flatbed,omitempty"`

	// Feeder is nil when the device has no document feeder.
	Feeder *SourceCaps `cbor:"2,keyasint,omitempty" json:"feeder,omitempty"`

	// SupportsDuplex reports both-sides feeding.
	SupportsDuplex bool `cbor:"3,keyasint" json:"supports_duplex"`

	// CanCheckFeederHasPaper reports whether the driver can tell if the
	// feeder is loaded before scanning.
	CanCheckFeederHasPaper bool `cbor:"4,keyasint" json:"can_check_feeder_has_paper"`
}

// SupportsFlatbed reports flatbed support.
func (c *Capabilities) SupportsFlatbed() bool {
	return c.Flatbed != nil
}

// SupportsFeeder reports feeder support.
func (c *Capabilities) SupportsFeeder() bool {
	return c.Feeder != nil
}

// Sink receives pages and progress during one scan.
//
// OnPage is invoked zero or more times, once per acquired page, in
// acquisition order. It must not panic; loop integrity depends on it.
//
// OnProgress receives advisory fractions in [0,1], monotonically
// non-decreasing within one page's download.
type Sink interface {
	OnPage(img image.Image)
	OnProgress(fraction float64)
}

// SinkFuncs adapts plain functions to the Sink interface. Nil fields are
// ignored.
type SinkFuncs struct {
	Page     func(img image.Image)
	Progress func(fraction float64)
}

// OnPage implements Sink.
func (s SinkFuncs) OnPage(img image.Image) {
	if s.Page != nil {
		s.Page(img)
	}
}

// OnProgress implements Sink.
func (s SinkFuncs) OnProgress(fraction float64) {
	if s.Progress != nil {
		s.Progress(fraction)
	}
}
