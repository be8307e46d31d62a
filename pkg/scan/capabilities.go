package scan

import (
	"context"

	"github.com/scanbridge-protocol/scanbridge-go/pkg/native"
)

// Item names the stock driver bindings report for paper sources.
const (
	itemNameFlatbed = "Flatbed"
	itemNameFeeder  = "Feeder"
)

// Capabilities opens the device, enumerates its paper sources and reads
// the resolution, color and geometry properties of each. Fails with a
// DeviceError on native failure. Subject to the one-shot version fallback.
func (m *Machine) Capabilities(ctx context.Context, device DeviceDescriptor, opts Options) (*Capabilities, error) {
	state := m.transition(device.ID, StateIdle, StateNegotiating, "")

	var caps *Capabilities
	err := m.withVersionFallback(opts, func(version native.APIVersion) error {
		var innerErr error
		caps, innerErr = m.readCapabilities(ctx, device, version)
		return innerErr
	})
	if err != nil {
		m.transition(device.ID, state, StateFailed, err.Error())
		return nil, err
	}
	m.transition(device.ID, state, StateIdle, "")
	return caps, nil
}

// readCapabilities performs one capability query under a concrete version.
func (m *Machine) readCapabilities(ctx context.Context, device DeviceDescriptor, version native.APIVersion) (*Capabilities, error) {
	caps := &Capabilities{}

	err := m.handles.With(func(tok *native.Token) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		drv := m.handles.Driver()
		mgr, err := m.handles.Acquire(tok, "manager", func(tok *native.Token) uintptr {
			return drv.OpenManager(tok, version)
		})
		if err != nil {
			return err
		}
		defer mgr.CloseWith(tok)

		mgrRaw, err := mgr.Raw(tok)
		if err != nil {
			return err
		}

		dev, err := m.openDevice(tok, mgrRaw, device)
		if err != nil {
			return err
		}
		defer dev.CloseWith(tok)

		devRaw, err := dev.Raw(tok)
		if err != nil {
			return err
		}

		// Device-level handling flags
		if flags, status := drv.GetPropertyInt(tok, devRaw, native.PropHandlingCapabilities); status.IsOK() {
			caps.SupportsDuplex = flags&native.CapDuplex != 0
			caps.CanCheckFeederHasPaper = flags&native.CapDetectFeederPaper != 0
		}

		items, status := drv.EnumItems(tok, devRaw)
		if !status.IsOK() {
			return deviceErr("enumerate items", status)
		}

		for _, itemRaw := range items {
			item := m.handles.Wrap(itemRaw, "item")

			name, status := drv.GetPropertyString(tok, itemRaw, native.PropItemName)
			if !status.IsOK() {
				item.CloseWith(tok)
				continue
			}

			source := m.readSourceCaps(tok, devRaw, itemRaw)
			item.CloseWith(tok)

			switch name {
			case itemNameFlatbed:
				caps.Flatbed = source
			case itemNameFeeder:
				caps.Feeder = source
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return caps, nil
}

// readSourceCaps reads the per-source properties of one item.
func (m *Machine) readSourceCaps(tok *native.Token, devRaw, itemRaw uintptr) *SourceCaps {
	drv := m.handles.Driver()
	source := &SourceCaps{}

	// Resolution: the native attribute shape (range vs discrete set) maps
	// onto the two capability forms.
	if attrs, status := drv.PropertyAttributes(tok, itemRaw, native.PropHorizontalResolution); status.IsOK() {
		switch attrs.Shape {
		case native.AttrRange:
			source.Resolutions = ResolutionCaps{Min: attrs.Min, Max: attrs.Max, Step: attrs.Step}
		case native.AttrList:
			source.Resolutions = ResolutionCaps{Values: attrs.Values}
		}
	}

	// Color depth support from the data-type value set. When the driver
	// reports no constraint, assume the common modes.
	if attrs, status := drv.PropertyAttributes(tok, itemRaw, native.PropDataType); status.IsOK() && attrs.Shape == native.AttrList {
		for _, v := range attrs.Values {
			switch v {
			case native.DataColor:
				source.SupportsColor = true
			case native.DataGrayscale:
				source.SupportsGrayscale = true
			case native.DataBlackAndWhite:
				source.SupportsBlackAndWhite = true
			}
		}
	} else {
		source.SupportsColor = true
		source.SupportsGrayscale = true
		source.SupportsBlackAndWhite = true
	}

	// Bed geometry is a device-level property.
	if w, status := drv.GetPropertyInt(tok, devRaw, native.PropHorizontalBedSize); status.IsOK() {
		source.MaxWidth = w
	}
	if h, status := drv.GetPropertyInt(tok, devRaw, native.PropVerticalBedSize); status.IsOK() {
		source.MaxHeight = h
	}

	return source
}
