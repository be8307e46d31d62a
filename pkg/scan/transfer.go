package scan

import (
	"context"
	"errors"
	"time"

	"github.com/scanbridge-protocol/scanbridge-go/pkg/imaging"
	"github.com/scanbridge-protocol/scanbridge-go/pkg/log"
	"github.com/scanbridge-protocol/scanbridge-go/pkg/native"
)

// errUIDismissed signals the user dismissed the native dialog. Internal;
// surfaces to the caller as a cancelled scan with zero pages.
var errUIDismissed = errors.New("native dialog dismissed")

// Scan performs one configure-and-transfer sequence against the device,
// delivering each acquired page to the sink in acquisition order.
//
// A cancelled scan is not an error: the pages delivered before the cancel
// are kept and Scan returns nil. Subject to the one-shot version fallback.
func (m *Machine) Scan(ctx context.Context, device DeviceDescriptor, opts Options, sink Sink) error {
	if sink == nil {
		sink = SinkFuncs{}
	}

	state := m.transition(device.ID, StateIdle, StateConfiguring, "")

	var cancelled bool
	err := m.withVersionFallback(opts, func(version native.APIVersion) error {
		var innerErr error
		cancelled, innerErr = m.scanOnce(ctx, device, opts, version, sink, &state)
		return innerErr
	})

	switch {
	case err == nil && cancelled:
		m.transition(device.ID, state, StateCancelled, "")
		return nil
	case err == nil:
		m.transition(device.ID, state, StateCompleted, "")
		return nil
	default:
		m.transition(device.ID, state, StateFailed, err.Error())
		return err
	}
}

// scanOnce runs one scan attempt under a concrete protocol version.
// Returns cancelled=true when the scan stopped due to the context or a
// dismissed dialog.
func (m *Machine) scanOnce(ctx context.Context, device DeviceDescriptor, opts Options, version native.APIVersion, sink Sink, state *State) (bool, error) {
	drv := m.handles.Driver()

	// Handles held since entry to Configuring; released on every exit
	// path, in reverse acquisition order.
	var held []*native.Handle
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Close()
		}
	}()

	var resolved PaperSource
	var xfer *native.Handle

	// Configuration happens under one hold of the guard: every step is a
	// short synchronous native call.
	err := m.handles.With(func(tok *native.Token) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		mgr, err := m.handles.Acquire(tok, "manager", func(tok *native.Token) uintptr {
			return drv.OpenManager(tok, version)
		})
		if err != nil {
			return err
		}
		held = append(held, mgr)

		mgrRaw, err := mgr.Raw(tok)
		if err != nil {
			return err
		}

		dev, err := m.openDevice(tok, mgrRaw, device)
		if err != nil {
			return err
		}
		held = append(held, dev)

		devRaw, err := dev.Raw(tok)
		if err != nil {
			return err
		}

		// Handling flags drive Auto resolution and the transfer
		// preconditions. An unreadable property leaves the flags unknown;
		// preconditions are then not enforced locally and the driver is
		// the authority.
		flags, flagsKnown := 0, false
		if f, status := drv.GetPropertyInt(tok, devRaw, native.PropHandlingCapabilities); status.IsOK() {
			flags, flagsKnown = f, true
		}

		resolved = resolveSource(opts.Source, flags, flagsKnown)

		// Validate preconditions before any transfer call
		if flagsKnown {
			if resolved.IsFeeder() && flags&native.CapFeeder == 0 {
				return ErrNoFeederSupport
			}
			if resolved == SourceDuplex && flags&native.CapDuplex == 0 {
				return ErrNoDuplexSupport
			}
		}

		// Native UI: either prompt here, or reapply a delta computed by a
		// dialog that ran in a different process.
		var delta *native.UIResult
		switch {
		case opts.AppliedUI != nil:
			delta = opts.AppliedUI
		case opts.UseNativeUI:
			ui, status := drv.ShowNativeUI(tok, devRaw, uintptr(opts.DialogParent))
			if !status.IsOK() {
				return deviceErr("native dialog", status)
			}
			delta = &ui
		}
		if delta != nil && !delta.Accepted {
			return errUIDismissed
		}

		item, err := m.selectItem(tok, devRaw, resolved, delta)
		if err != nil {
			return err
		}
		held = append(held, item)

		itemRaw, err := item.Raw(tok)
		if err != nil {
			return err
		}

		if delta != nil {
			// Reapply only the values the dialog changed; never overwrite
			// unrelated state.
			for prop, value := range delta.Changed {
				m.setProperty(tok, itemRaw, prop, value, value)
			}
		} else {
			m.configure(tok, devRaw, itemRaw, opts, resolved)
		}

		// Early feeder check, when the driver can report paper presence.
		if resolved.IsFeeder() && flagsKnown && flags&native.CapDetectFeederPaper != 0 {
			if hs, status := drv.GetPropertyInt(tok, devRaw, native.PropHandlingStatus); status.IsOK() && hs&native.StatusFeedReady == 0 {
				return ErrFeederEmpty
			}
		}

		xfer, err = m.handles.Acquire(tok, "transfer", func(tok *native.Token) uintptr {
			return drv.StartTransfer(tok, itemRaw)
		})
		if err != nil {
			return err
		}
		held = append(held, xfer)
		return nil
	})
	if err != nil {
		if errors.Is(err, errUIDismissed) || errors.Is(err, context.Canceled) {
			return true, nil
		}
		return false, err
	}

	*state = m.transition(device.ID, *state, StateTransferring, "")
	return m.downloadLoop(ctx, device, resolved, xfer, sink)
}

// downloadLoop pulls pages until the driver signals "no more pages",
// cancellation, or a real error. The guard is held only around each
// Download call, never while the sink runs.
func (m *Machine) downloadLoop(ctx context.Context, device DeviceDescriptor, source PaperSource, xfer *native.Handle, sink Sink) (bool, error) {
	singleShot := !source.IsFeeder()
	pages := 0

	for {
		if ctx.Err() != nil {
			return true, nil
		}

		payload, status, err := m.download(ctx, device, xfer, sink)
		if err != nil {
			return false, err
		}

		if status == native.StatusCancelled {
			return true, nil
		}
		if !status.IsOK() {
			if m.statuses.IsTerminal(m.Kind(), status) {
				break
			}
			return false, deviceErr("download", status)
		}

		// A zero-length payload is a driver glitch, not a page.
		if len(payload) > 0 {
			img, decErr := imaging.DecodePage(payload)
			if decErr != nil {
				// Assume the payload was truncated in transit, not that
				// the device produced a bad image.
				return false, &DeviceCommError{Page: pages + 1, Err: decErr}
			}
			pages++
			sink.OnPage(img)
			sink.OnProgress(0) // next page started
		}

		if singleShot {
			break
		}
	}

	if pages == 0 && source.IsFeeder() {
		return false, ErrFeederEmpty
	}
	return false, nil
}

// download issues one native download call under the guard. A watcher
// goroutine issues the native cancel request if the context fires while
// the call is blocked; cancel is the one native entry point callable
// without the guard.
func (m *Machine) download(ctx context.Context, device DeviceDescriptor, xfer *native.Handle, sink Sink) ([]byte, native.Status, error) {
	tok := m.handles.Lock()
	defer tok.Unlock()

	raw, err := xfer.Raw(tok)
	if err != nil {
		return nil, 0, err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			m.handles.Driver().Cancel(raw)
		case <-done:
		}
	}()

	start := time.Now()
	payload, status := m.handles.Driver().Download(tok, raw, sink.OnProgress)
	m.logger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerNative,
		Category:  log.CategoryNative,
		DeviceID:  device.ID,
		NativeCall: &log.NativeCallEvent{
			Call:     "Download",
			Status:   int(status),
			Duration: time.Since(start),
		},
	})
	return payload, status, nil
}

// QueryUI runs the native configuration dialog for a device and returns
// the delta of changed property values. The broker uses this to run the
// dialog in a UI-capable process and reapply the result where the scan
// executes.
func (m *Machine) QueryUI(ctx context.Context, device DeviceDescriptor, opts Options) (*native.UIResult, error) {
	drv := m.handles.Driver()

	var result native.UIResult
	err := m.handles.With(func(tok *native.Token) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		mgr, err := m.handles.Acquire(tok, "manager", func(tok *native.Token) uintptr {
			return drv.OpenManager(tok, resolveVersion(opts.Version))
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

		ui, status := drv.ShowNativeUI(tok, devRaw, uintptr(opts.DialogParent))
		if !status.IsOK() {
			return deviceErr("native dialog", status)
		}
		result = ui
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// resolveSource resolves SourceAuto to a concrete source: flatbed when
// supported, else feeder.
func resolveSource(requested PaperSource, flags int, flagsKnown bool) PaperSource {
	if requested != SourceAuto {
		return requested
	}
	if !flagsKnown || flags&native.CapFlatbed != 0 {
		return SourceFlatbed
	}
	return SourceFeeder
}

// selectItem picks the item for the resolved source: a dialog result's
// item name wins, then the preferred source name, then the first item.
func (m *Machine) selectItem(tok *native.Token, devRaw uintptr, source PaperSource, delta *native.UIResult) (*native.Handle, error) {
	drv := m.handles.Driver()

	items, status := drv.EnumItems(tok, devRaw)
	if !status.IsOK() {
		return nil, deviceErr("enumerate items", status)
	}
	if len(items) == 0 {
		return nil, deviceErr("enumerate items", native.StatusNoMoreItems)
	}

	preferred := itemNameFlatbed
	if source.IsFeeder() {
		preferred = itemNameFeeder
	}
	if delta != nil && delta.ItemName != "" {
		preferred = delta.ItemName
	}

	chosen := 0
	for i, raw := range items {
		if name, st := drv.GetPropertyString(tok, raw, native.PropItemName); st.IsOK() && name == preferred {
			chosen = i
			break
		}
	}

	// Unchosen items are released immediately; the chosen one is owned by
	// the caller.
	for i, raw := range items {
		if i != chosen {
			m.handles.Wrap(raw, "item").CloseWith(tok)
		}
	}
	return m.handles.Wrap(items[chosen], "item"), nil
}

// configure applies the transfer properties best-effort: each set is
// attempted independently, failures are recorded for diagnostics and do
// not abort configuration. Where the requested value cannot be set
// exactly, the closest supported value is used and the discrepancy is
// recorded.
func (m *Machine) configure(tok *native.Token, devRaw, itemRaw uintptr, opts Options, source PaperSource) {
	drv := m.handles.Driver()

	// Paper source selection is a device-level property.
	sel := native.SelFlatbed
	switch source {
	case SourceFeeder:
		sel = native.SelFeeder | native.SelFrontOnly
	case SourceDuplex:
		sel = native.SelFeeder | native.SelDuplex
	}
	m.setProperty(tok, devRaw, native.PropHandlingSelect, sel, sel)

	// Resolution: ask for the closest supported value.
	dpi := opts.Resolution
	if dpi <= 0 {
		dpi = 300
	}
	applied := dpi
	if attrs, status := drv.PropertyAttributes(tok, itemRaw, native.PropHorizontalResolution); status.IsOK() {
		applied = attrsCaps(attrs).Closest(dpi)
	}
	m.setProperty(tok, itemRaw, native.PropHorizontalResolution, dpi, applied)
	m.setProperty(tok, itemRaw, native.PropVerticalResolution, dpi, applied)

	m.setProperty(tok, itemRaw, native.PropDataType, opts.ColorMode.dataType(), opts.ColorMode.dataType())
	m.setProperty(tok, itemRaw, native.PropBrightness, opts.Brightness, opts.Brightness)
	m.setProperty(tok, itemRaw, native.PropContrast, opts.Contrast, opts.Contrast)

	// Page geometry in pixels at the applied resolution.
	page := opts.PageSize
	if page.Width <= 0 || page.Height <= 0 {
		page = PageSizeLetter
	}
	widthPx := page.Width * applied / 1000
	heightPx := page.Height * applied / 1000
	m.setProperty(tok, itemRaw, native.PropXExtent, widthPx, widthPx)
	m.setProperty(tok, itemRaw, native.PropYExtent, heightPx, heightPx)

	// Horizontal placement on a wider bed, flatbed only.
	if source == SourceFlatbed {
		if bed, status := drv.GetPropertyInt(tok, devRaw, native.PropHorizontalBedSize); status.IsOK() && bed > page.Width {
			offset := 0
			switch opts.Alignment {
			case AlignCenter:
				offset = (bed - page.Width) / 2
			case AlignRight:
				offset = bed - page.Width
			}
			m.setProperty(tok, itemRaw, native.PropXStart, offset, offset)
		}
	}

	// All pages in one session for feeder sources.
	if source.IsFeeder() {
		m.setProperty(tok, devRaw, native.PropPages, 0, 0)
	}
}

// setProperty performs one best-effort property set and records the
// outcome as a property event.
func (m *Machine) setProperty(tok *native.Token, handle uintptr, prop native.PropertyID, requested, applied int) {
	status := m.handles.Driver().SetPropertyInt(tok, handle, prop, applied)

	ev := &log.PropertyEvent{
		Property:  uint32(prop),
		Requested: requested,
		Applied:   applied,
	}
	if !status.IsOK() {
		ev.Failed = true
		ev.Message = status.String()
		m.appLog.Debug("property not accepted by driver",
			"property", uint32(prop), "value", applied, "status", status.String())
	}
	m.logger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerScan,
		Category:  log.CategoryProperty,
		Property:  ev,
	})
}

// attrsCaps converts native property attributes into resolution caps.
func attrsCaps(attrs native.PropertyAttributes) ResolutionCaps {
	switch attrs.Shape {
	case native.AttrRange:
		return ResolutionCaps{Min: attrs.Min, Max: attrs.Max, Step: attrs.Step}
	case native.AttrList:
		return ResolutionCaps{Values: attrs.Values}
	default:
		return ResolutionCaps{}
	}
}
