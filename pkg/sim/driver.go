package sim

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/scanbridge-protocol/scanbridge-go/pkg/native"
)

// DeviceConfig describes one simulated device.
type DeviceConfig struct {
	// ID is the unique device identifier.
	ID string

	// Name is the friendly device name. Placeholder values ("", "no
	// friendly name") exercise the display-name substitution.
	Name string

	// Source support.
	HasFlatbed bool
	HasFeeder  bool
	HasDuplex  bool

	// DetectsFeederPaper lets the driver report feeder readiness before
	// a transfer starts.
	DetectsFeederPaper bool

	// FeederPages is the number of sheets loaded in the feeder.
	FeederPages int

	// Bed geometry in thousandths of an inch. Zero defaults to a letter
	// bed.
	BedWidth, BedHeight int

	// Resolutions constrains the resolution properties. A zero value
	// defaults to the 75..1200 range.
	Resolutions native.PropertyAttributes

	// DataTypes lists the supported pixel data types. Nil defaults to
	// color, grayscale and black-and-white.
	DataTypes []int

	// UnreadableID makes the device's ID property fail, so enumeration
	// must skip it.
	UnreadableID bool

	// UI is the scripted dialog result. Nil accepts with no changes.
	UI *native.UIResult

	// UIStatus fails the dialog call itself when non-OK.
	UIStatus native.Status

	// DownloadStatus injects a failure on every download when non-OK.
	DownloadStatus native.Status

	// PageDelay is how long each download blocks, for cancellation
	// tests. Zero returns immediately.
	PageDelay time.Duration
}

// Config configures a simulated driver.
type Config struct {
	// Kind is the driver kind the simulation reports.
	Kind native.DriverKind

	// OnlyVersion1 rejects Version2 manager opens with an
	// invalid-argument error, triggering the version fallback.
	OnlyVersion1 bool

	// FeederDoneStatus is the code a feeder transfer returns once the
	// batch is exhausted. Zero defaults to StatusPaperEmpty.
	FeederDoneStatus native.Status

	// Devices are the simulated devices, in enumeration order.
	Devices []*DeviceConfig
}

// Driver is a simulated native binding.
type Driver struct {
	cfg Config

	mu      sync.Mutex
	lastErr native.Status
	objects map[uintptr]any
	next    uintptr

	negotiated []native.APIVersion

	tokenFaults   atomic.Int32
	downloadCalls atomic.Int32
}

var _ native.Driver = (*Driver)(nil)

// Object table entries.
type managerObj struct {
	version native.APIVersion
}

type infoObj struct {
	dev *DeviceConfig
}

type deviceObj struct {
	dev   *DeviceConfig
	props map[native.PropertyID]int
}

type itemObj struct {
	dev   *deviceObj
	name  string
	props map[native.PropertyID]int
}

type transferObj struct {
	item      *itemObj
	feeder    bool
	remaining int
	delivered int
	cancelled atomic.Bool
}

// New creates a simulated driver.
func New(cfg Config) *Driver {
	if cfg.FeederDoneStatus == native.StatusOK {
		cfg.FeederDoneStatus = native.StatusPaperEmpty
	}
	return &Driver{
		cfg:     cfg,
		objects: make(map[uintptr]any),
	}
}

// OpenHandles returns the number of live simulated handles. Zero after a
// completed operation means every acquired handle was released.
func (d *Driver) OpenHandles() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.objects)
}

// TokenFaults returns how many calls arrived without a live guard token.
// Any value above zero is a lock-discipline violation in the caller.
func (d *Driver) TokenFaults() int {
	return int(d.tokenFaults.Load())
}

// DownloadCalls returns how many times Download was invoked. A flatbed
// scan makes exactly one call; a feeder batch of N pages makes N+1, the
// last one returning the batch-done status.
func (d *Driver) DownloadCalls() int {
	return int(d.downloadCalls.Load())
}

// NegotiatedVersions returns the protocol versions passed to OpenManager,
// in call order.
func (d *Driver) NegotiatedVersions() []native.APIVersion {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]native.APIVersion(nil), d.negotiated...)
}

// checkToken verifies the guard token and records violations.
func (d *Driver) checkToken(tok *native.Token) bool {
	if err := tok.Check(); err != nil {
		d.tokenFaults.Add(1)
		d.setErr(native.StatusGeneralError)
		return false
	}
	return true
}

func (d *Driver) setErr(status native.Status) {
	d.mu.Lock()
	d.lastErr = status
	d.mu.Unlock()
}

// register adds an object to the handle table and returns its handle.
func (d *Driver) register(obj any) uintptr {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	h := d.next
	d.objects[h] = obj
	return h
}

func (d *Driver) lookup(handle uintptr) any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.objects[handle]
}

// Kind implements native.Driver.
func (d *Driver) Kind() native.DriverKind {
	return d.cfg.Kind
}

// LastError implements native.Driver.
func (d *Driver) LastError(tok *native.Token) native.Status {
	if err := tok.Check(); err != nil {
		d.tokenFaults.Add(1)
		return native.StatusGeneralError
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

// OpenManager implements native.Driver.
func (d *Driver) OpenManager(tok *native.Token, version native.APIVersion) uintptr {
	if !d.checkToken(tok) {
		return 0
	}

	d.mu.Lock()
	d.negotiated = append(d.negotiated, version)
	d.mu.Unlock()

	if d.cfg.OnlyVersion1 && version == native.Version2 {
		d.setErr(native.StatusInvalidArgument)
		return 0
	}
	d.setErr(native.StatusOK)
	return d.register(&managerObj{version: version})
}

// EnumDeviceInfo implements native.Driver.
func (d *Driver) EnumDeviceInfo(tok *native.Token, manager uintptr, index int) uintptr {
	if !d.checkToken(tok) {
		return 0
	}
	if _, ok := d.lookup(manager).(*managerObj); !ok {
		d.setErr(native.StatusInvalidArgument)
		return 0
	}
	if index < 0 || index >= len(d.cfg.Devices) {
		d.setErr(native.StatusNoMoreItems)
		return 0
	}
	d.setErr(native.StatusOK)
	return d.register(&infoObj{dev: d.cfg.Devices[index]})
}

// OpenDevice implements native.Driver.
func (d *Driver) OpenDevice(tok *native.Token, manager uintptr, deviceID string) uintptr {
	if !d.checkToken(tok) {
		return 0
	}
	if _, ok := d.lookup(manager).(*managerObj); !ok {
		d.setErr(native.StatusInvalidArgument)
		return 0
	}
	for _, dev := range d.cfg.Devices {
		if dev.ID == deviceID {
			d.setErr(native.StatusOK)
			return d.register(&deviceObj{
				dev:   dev,
				props: make(map[native.PropertyID]int),
			})
		}
	}
	d.setErr(native.StatusOffline)
	return 0
}

// EnumItems implements native.Driver.
func (d *Driver) EnumItems(tok *native.Token, device uintptr) ([]uintptr, native.Status) {
	if !d.checkToken(tok) {
		return nil, native.StatusGeneralError
	}
	dev, ok := d.lookup(device).(*deviceObj)
	if !ok {
		return nil, native.StatusInvalidArgument
	}

	var items []uintptr
	if dev.dev.HasFlatbed {
		items = append(items, d.register(&itemObj{
			dev:   dev,
			name:  "Flatbed",
			props: make(map[native.PropertyID]int),
		}))
	}
	if dev.dev.HasFeeder {
		items = append(items, d.register(&itemObj{
			dev:   dev,
			name:  "Feeder",
			props: make(map[native.PropertyID]int),
		}))
	}
	return items, native.StatusOK
}

// GetPropertyInt implements native.Driver.
func (d *Driver) GetPropertyInt(tok *native.Token, handle uintptr, prop native.PropertyID) (int, native.Status) {
	if !d.checkToken(tok) {
		return 0, native.StatusGeneralError
	}

	switch obj := d.lookup(handle).(type) {
	case *deviceObj:
		switch prop {
		case native.PropHandlingCapabilities:
			return handlingFlags(obj.dev), native.StatusOK
		case native.PropHandlingStatus:
			if obj.dev.FeederPages > 0 {
				return native.StatusFeedReady, native.StatusOK
			}
			return 0, native.StatusOK
		case native.PropHorizontalBedSize:
			return bedWidth(obj.dev), native.StatusOK
		case native.PropVerticalBedSize:
			return bedHeight(obj.dev), native.StatusOK
		default:
			if v, ok := obj.props[prop]; ok {
				return v, native.StatusOK
			}
			return 0, native.StatusNotSupported
		}
	case *itemObj:
		if v, ok := obj.props[prop]; ok {
			return v, native.StatusOK
		}
		return 0, native.StatusNotSupported
	default:
		return 0, native.StatusInvalidArgument
	}
}

// GetPropertyString implements native.Driver.
func (d *Driver) GetPropertyString(tok *native.Token, handle uintptr, prop native.PropertyID) (string, native.Status) {
	if !d.checkToken(tok) {
		return "", native.StatusGeneralError
	}

	switch obj := d.lookup(handle).(type) {
	case *infoObj:
		switch prop {
		case native.PropDeviceID:
			if obj.dev.UnreadableID {
				return "", native.StatusDeviceComm
			}
			return obj.dev.ID, native.StatusOK
		case native.PropDeviceName:
			return obj.dev.Name, native.StatusOK
		}
	case *deviceObj:
		switch prop {
		case native.PropDeviceID:
			return obj.dev.ID, native.StatusOK
		case native.PropDeviceName:
			return obj.dev.Name, native.StatusOK
		}
	case *itemObj:
		if prop == native.PropItemName {
			return obj.name, native.StatusOK
		}
	}
	return "", native.StatusNotSupported
}

// PropertyAttributes implements native.Driver.
func (d *Driver) PropertyAttributes(tok *native.Token, handle uintptr, prop native.PropertyID) (native.PropertyAttributes, native.Status) {
	if !d.checkToken(tok) {
		return native.PropertyAttributes{}, native.StatusGeneralError
	}

	obj, ok := d.lookup(handle).(*itemObj)
	if !ok {
		return native.PropertyAttributes{}, native.StatusInvalidArgument
	}

	switch prop {
	case native.PropHorizontalResolution, native.PropVerticalResolution:
		return resolutionAttrs(obj.dev.dev), native.StatusOK
	case native.PropDataType:
		return native.PropertyAttributes{
			Shape:  native.AttrList,
			Values: dataTypes(obj.dev.dev),
		}, native.StatusOK
	default:
		return native.PropertyAttributes{}, native.StatusNotSupported
	}
}

// SetPropertyInt implements native.Driver.
func (d *Driver) SetPropertyInt(tok *native.Token, handle uintptr, prop native.PropertyID, value int) native.Status {
	if !d.checkToken(tok) {
		return native.StatusGeneralError
	}

	switch obj := d.lookup(handle).(type) {
	case *deviceObj:
		obj.props[prop] = value
		return native.StatusOK
	case *itemObj:
		if prop == native.PropHorizontalResolution || prop == native.PropVerticalResolution {
			if !acceptsValue(resolutionAttrs(obj.dev.dev), value) {
				return native.StatusInvalidArgument
			}
		}
		if prop == native.PropDataType && !contains(dataTypes(obj.dev.dev), value) {
			return native.StatusInvalidArgument
		}
		obj.props[prop] = value
		return native.StatusOK
	default:
		return native.StatusInvalidArgument
	}
}

// ShowNativeUI implements native.Driver.
func (d *Driver) ShowNativeUI(tok *native.Token, device uintptr, parent uintptr) (native.UIResult, native.Status) {
	if !d.checkToken(tok) {
		return native.UIResult{}, native.StatusGeneralError
	}
	obj, ok := d.lookup(device).(*deviceObj)
	if !ok {
		return native.UIResult{}, native.StatusInvalidArgument
	}
	if obj.dev.UIStatus != native.StatusOK {
		return native.UIResult{}, obj.dev.UIStatus
	}
	if obj.dev.UI != nil {
		return *obj.dev.UI, native.StatusOK
	}
	return native.UIResult{Accepted: true}, native.StatusOK
}

// StartTransfer implements native.Driver.
func (d *Driver) StartTransfer(tok *native.Token, item uintptr) uintptr {
	if !d.checkToken(tok) {
		return 0
	}
	obj, ok := d.lookup(item).(*itemObj)
	if !ok {
		d.setErr(native.StatusInvalidArgument)
		return 0
	}

	feeder := obj.name == "Feeder"
	remaining := 1
	if feeder {
		remaining = obj.dev.dev.FeederPages
		if obj.dev.props[native.PropHandlingSelect]&native.SelDuplex != 0 {
			remaining *= 2
		}
	}

	d.setErr(native.StatusOK)
	return d.register(&transferObj{
		item:      obj,
		feeder:    feeder,
		remaining: remaining,
	})
}

// Download implements native.Driver.
func (d *Driver) Download(tok *native.Token, transfer uintptr, progress func(float64)) ([]byte, native.Status) {
	d.downloadCalls.Add(1)
	if !d.checkToken(tok) {
		return nil, native.StatusGeneralError
	}
	obj, ok := d.lookup(transfer).(*transferObj)
	if !ok {
		return nil, native.StatusInvalidArgument
	}

	dev := obj.item.dev.dev
	if obj.cancelled.Load() {
		return nil, native.StatusCancelled
	}
	if dev.DownloadStatus != native.StatusOK {
		return nil, dev.DownloadStatus
	}
	if obj.feeder && obj.remaining <= 0 {
		return nil, d.cfg.FeederDoneStatus
	}

	// Block in slices so a concurrent Cancel takes effect mid-download.
	if dev.PageDelay > 0 {
		const steps = 10
		for i := 1; i <= steps; i++ {
			time.Sleep(dev.PageDelay / steps)
			if obj.cancelled.Load() {
				return nil, native.StatusCancelled
			}
			if progress != nil {
				progress(float64(i) / steps)
			}
		}
	} else if progress != nil {
		progress(0.5)
		progress(1.0)
	}

	obj.remaining--
	obj.delivered++
	return encodePage(obj.delivered, obj.item.props[native.PropDataType]), native.StatusOK
}

// Cancel implements native.Driver. Callable without the guard.
func (d *Driver) Cancel(transfer uintptr) native.Status {
	obj, ok := d.lookup(transfer).(*transferObj)
	if !ok {
		return native.StatusInvalidArgument
	}
	obj.cancelled.Store(true)
	return native.StatusOK
}

// CloseHandle implements native.Driver.
func (d *Driver) CloseHandle(tok *native.Token, handle uintptr) native.Status {
	if !d.checkToken(tok) {
		return native.StatusGeneralError
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.objects[handle]; !ok {
		return native.StatusInvalidArgument
	}
	delete(d.objects, handle)
	return native.StatusOK
}

// Defaults and helpers.

func handlingFlags(dev *DeviceConfig) int {
	flags := 0
	if dev.HasFeeder {
		flags |= native.CapFeeder
	}
	if dev.HasFlatbed {
		flags |= native.CapFlatbed
	}
	if dev.HasDuplex {
		flags |= native.CapDuplex
	}
	if dev.DetectsFeederPaper {
		flags |= native.CapDetectFeederPaper
	}
	return flags
}

func bedWidth(dev *DeviceConfig) int {
	if dev.BedWidth > 0 {
		return dev.BedWidth
	}
	return 8500
}

func bedHeight(dev *DeviceConfig) int {
	if dev.BedHeight > 0 {
		return dev.BedHeight
	}
	return 11694
}

func resolutionAttrs(dev *DeviceConfig) native.PropertyAttributes {
	if dev.Resolutions.Shape != native.AttrNone {
		return dev.Resolutions
	}
	return native.PropertyAttributes{Shape: native.AttrRange, Min: 75, Max: 1200, Step: 1}
}

func dataTypes(dev *DeviceConfig) []int {
	if len(dev.DataTypes) > 0 {
		return dev.DataTypes
	}
	return []int{native.DataColor, native.DataGrayscale, native.DataBlackAndWhite}
}

func acceptsValue(attrs native.PropertyAttributes, value int) bool {
	switch attrs.Shape {
	case native.AttrRange:
		return value >= attrs.Min && value <= attrs.Max
	case native.AttrList:
		return contains(attrs.Values, value)
	default:
		return true
	}
}

func contains(values []int, v int) bool {
	for _, have := range values {
		if have == v {
			return true
		}
	}
	return false
}
