package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/scanbridge-protocol/scanbridge-go/pkg/imaging"
	"github.com/scanbridge-protocol/scanbridge-go/pkg/log"
	"github.com/scanbridge-protocol/scanbridge-go/pkg/native"
	"github.com/scanbridge-protocol/scanbridge-go/pkg/scan"
	"github.com/scanbridge-protocol/scanbridge-go/pkg/transport"
	"github.com/scanbridge-protocol/scanbridge-go/pkg/wire"
)

// Channel errors.
var (
	ErrRequestTimeout = errors.New("request timed out")
	ErrChannelClosed  = errors.New("worker channel is closed")
)

// DefaultRequestTimeout bounds short control-plane requests. Scan
// requests are bounded only by the caller's context; a feeder batch can
// legitimately run for minutes.
const DefaultRequestTimeout = 30 * time.Second

// streamBuffer is the per-scan stream event buffer. The consumer drains
// continuously, the buffer only absorbs scheduling hiccups.
const streamBuffer = 8

// Channel is the broker-side endpoint of one worker's duplex channel.
// It correlates responses to requests by message ID and relays stream
// events to the active scan in sequence order.
//
// A Channel is safe for concurrent use. Requests from multiple
// goroutines interleave on the wire; the worker serializes native work
// on its own lock.
type Channel struct {
	id      string
	framer  *transport.Framer
	logger  log.Logger
	timeout time.Duration

	nextMsgID atomic.Uint32

	pendingMu sync.Mutex
	pending   map[uint32]chan *wire.Response

	streamsMu sync.Mutex
	streams   map[uint32]chan *wire.StreamEvent

	pongCh chan struct{}

	closeOnce sync.Once
	done      chan struct{}

	errMu   sync.Mutex
	readErr error
}

// NewChannel creates a channel over a framer. Call Start to begin
// reading; the channel is inert until then.
func NewChannel(framer *transport.Framer, logger log.Logger) *Channel {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	c := &Channel{
		id:      uuid.NewString(),
		framer:  framer,
		logger:  logger,
		timeout: DefaultRequestTimeout,
		pending: make(map[uint32]chan *wire.Response),
		streams: make(map[uint32]chan *wire.StreamEvent),
		pongCh:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	framer.SetLogger(logger, c.id)
	return c
}

// ID returns the channel's connection identifier (UUID).
func (c *Channel) ID() string {
	return c.id
}

// SetTimeout sets the control-plane request timeout.
func (c *Channel) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// Start begins the read loop. It returns immediately.
func (c *Channel) Start() {
	go c.readLoop()
}

// closeGrace bounds the best-effort close notification. A peer that
// stopped reading must not stall the shutdown.
const closeGrace = 500 * time.Millisecond

// Close shuts the channel down. A close control message is sent on a
// best-effort basis; pending requests fail with ErrChannelClosed.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.shutdown(ErrChannelClosed)
		if data, err := wire.EncodeControlMessage(&wire.ControlMessage{Type: wire.ControlClose}); err == nil {
			sent := make(chan struct{})
			go func() {
				_ = c.framer.WriteFrame(data)
				close(sent)
			}()
			select {
			case <-sent:
			case <-time.After(closeGrace):
			}
		}
	})
	return nil
}

// Closed reports whether the channel has shut down.
func (c *Channel) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Err returns the error that shut the channel down, if any.
func (c *Channel) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.readErr
}

// shutdown marks the channel dead and releases all waiters.
func (c *Channel) shutdown(err error) {
	c.errMu.Lock()
	if c.readErr == nil {
		c.readErr = err
	}
	c.errMu.Unlock()

	select {
	case <-c.done:
		return
	default:
		close(c.done)
	}

	c.pendingMu.Lock()
	for _, ch := range c.pending {
		close(ch)
	}
	c.pending = make(map[uint32]chan *wire.Response)
	c.pendingMu.Unlock()
}

// nextMessageID generates the next unique message ID, skipping the
// reserved stream ID on wraparound.
func (c *Channel) nextMessageID() uint32 {
	for {
		id := c.nextMsgID.Add(1)
		if id != wire.StreamMessageID {
			return id
		}
	}
}

// readLoop demultiplexes incoming frames until the channel dies.
func (c *Channel) readLoop() {
	for {
		data, err := c.framer.ReadFrame()
		if err != nil {
			c.closeOnce.Do(func() { c.shutdown(fmt.Errorf("worker channel read failed: %w", err)) })
			return
		}

		msgType, err := wire.PeekMessageType(data, true)
		if err != nil {
			c.logError("undecodable frame from worker", err)
			continue
		}

		switch msgType {
		case wire.MessageTypeResponse:
			resp, err := wire.DecodeResponse(data)
			if err != nil {
				c.logError("bad response frame", err)
				continue
			}
			c.deliverResponse(resp)

		case wire.MessageTypeStream:
			ev, err := wire.DecodeStreamEvent(data)
			if err != nil {
				c.logError("bad stream frame", err)
				continue
			}
			c.deliverStream(ev)

		case wire.MessageTypeControl:
			msg, err := wire.DecodeControlMessage(data)
			if err != nil {
				c.logError("bad control frame", err)
				continue
			}
			c.handleControl(msg)
		}
	}
}

// deliverResponse routes a response to its waiting request.
func (c *Channel) deliverResponse(resp *wire.Response) {
	c.pendingMu.Lock()
	ch, exists := c.pending[resp.MessageID]
	c.pendingMu.Unlock()

	if !exists {
		c.logError("response for unknown request", fmt.Errorf("messageId %d", resp.MessageID))
		return
	}

	select {
	case ch <- resp:
	default:
	}
}

// deliverStream routes a stream event to the scan that owns it.
// Events for unknown requests are dropped; the scan may have already
// returned on a context cancellation.
func (c *Channel) deliverStream(ev *wire.StreamEvent) {
	c.streamsMu.Lock()
	ch, exists := c.streams[ev.RequestID]
	c.streamsMu.Unlock()
	if !exists {
		return
	}

	select {
	case ch <- ev:
	case <-c.done:
	}
}

// handleControl answers pings and records pongs.
func (c *Channel) handleControl(msg *wire.ControlMessage) {
	switch msg.Type {
	case wire.ControlPing:
		if data, err := wire.EncodeControlMessage(&wire.ControlMessage{Type: wire.ControlPong}); err == nil {
			_ = c.framer.WriteFrame(data)
		}
	case wire.ControlPong:
		select {
		case c.pongCh <- struct{}{}:
		default:
		}
	case wire.ControlClose:
		c.closeOnce.Do(func() { c.shutdown(ErrChannelClosed) })
	}
}

// call sends one request and waits for its response. A zero timeout
// waits indefinitely (bounded by ctx).
func (c *Channel) call(ctx context.Context, op wire.Operation, payload any, timeout time.Duration) (*wire.Response, error) {
	if c.Closed() {
		return nil, ErrChannelClosed
	}

	id := c.nextMessageID()
	respCh := make(chan *wire.Response, 1)

	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	data, err := wire.EncodeRequest(id, op, payload)
	if err != nil {
		return nil, err
	}
	if err := c.framer.WriteFrame(data); err != nil {
		return nil, fmt.Errorf("failed to send %s request: %w", op, err)
	}
	c.logMessage(log.DirectionOut, log.MessageTypeRequest, id, op.String(), "", 0, len(data))

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeoutCh:
		return nil, fmt.Errorf("%w: %s after %v", ErrRequestTimeout, op, timeout)
	case <-c.done:
		return nil, ErrChannelClosed
	case resp, ok := <-respCh:
		if !ok {
			return nil, ErrChannelClosed
		}
		c.logMessage(log.DirectionIn, log.MessageTypeResponse, id, "", resp.Status.String(), 0, len(resp.Payload))
		return resp, nil
	}
}

// respError converts a failed response into its typed error.
func respError(resp *wire.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	var payload *wire.ErrorPayload
	if len(resp.Payload) > 0 {
		var ep wire.ErrorPayload
		if err := wire.DecodePayload(resp.Payload, &ep); err == nil {
			payload = &ep
		}
	}
	return wire.ErrorOf(resp.Status, payload)
}

// Ping checks channel liveness.
func (c *Channel) Ping(ctx context.Context) error {
	data, err := wire.EncodeControlMessage(&wire.ControlMessage{Type: wire.ControlPing})
	if err != nil {
		return err
	}
	if err := c.framer.WriteFrame(data); err != nil {
		return fmt.Errorf("failed to send ping: %w", err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w: ping", ErrRequestTimeout)
	case <-c.done:
		return ErrChannelClosed
	case <-c.pongCh:
		return nil
	}
}

// Probe asks the worker whether it can serve a named capability.
func (c *Channel) Probe(ctx context.Context, capability string) (bool, error) {
	resp, err := c.call(ctx, wire.OpProbe, &wire.ProbePayload{Capability: capability}, c.timeout)
	if err != nil {
		return false, err
	}
	if !resp.IsSuccess() {
		return false, respError(resp)
	}
	var payload wire.ProbeResponsePayload
	if err := wire.DecodePayload(resp.Payload, &payload); err != nil {
		return false, err
	}
	return payload.OK, nil
}

// EnumerateDevices lists the devices visible to the worker's driver.
func (c *Channel) EnumerateDevices(ctx context.Context, version native.APIVersion) ([]scan.DeviceDescriptor, error) {
	resp, err := c.call(ctx, wire.OpEnumerate, &wire.EnumeratePayload{Version: version}, c.timeout)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, respError(resp)
	}
	var payload wire.EnumerateResponsePayload
	if err := wire.DecodePayload(resp.Payload, &payload); err != nil {
		return nil, err
	}
	return payload.Devices, nil
}

// Capabilities reads the capabilities of one device through the worker.
func (c *Channel) Capabilities(ctx context.Context, device scan.DeviceDescriptor, opts scan.Options) (*scan.Capabilities, error) {
	resp, err := c.call(ctx, wire.OpCapabilities, &wire.CapabilitiesPayload{Device: device, Options: opts}, c.timeout)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, respError(resp)
	}
	var payload wire.CapabilitiesResponsePayload
	if err := wire.DecodePayload(resp.Payload, &payload); err != nil {
		return nil, err
	}
	return &payload.Caps, nil
}

// QueryUI shows the driver's native dialog in the worker process and
// returns the settings the user changed there.
func (c *Channel) QueryUI(ctx context.Context, device scan.DeviceDescriptor, opts scan.Options) (*native.UIResult, error) {
	// No timeout: the dialog waits on a human.
	resp, err := c.call(ctx, wire.OpQueryUI, &wire.QueryUIPayload{Device: device, Options: opts}, 0)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, respError(resp)
	}
	var payload wire.QueryUIResponsePayload
	if err := wire.DecodePayload(resp.Payload, &payload); err != nil {
		return nil, err
	}
	return &payload.Result, nil
}

// Scan runs a scan in the worker, relaying pages and progress to sink
// in acquisition order. Cancelling ctx sends a cancel control message;
// the scan then drains remaining events and returns nil once the worker
// confirms it stopped cleanly.
func (c *Channel) Scan(ctx context.Context, device scan.DeviceDescriptor, opts scan.Options, sink scan.Sink) error {
	if c.Closed() {
		return ErrChannelClosed
	}

	id := c.nextMessageID()
	respCh := make(chan *wire.Response, 1)
	evCh := make(chan *wire.StreamEvent, streamBuffer)

	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()
	c.streamsMu.Lock()
	c.streams[id] = evCh
	c.streamsMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		c.streamsMu.Lock()
		delete(c.streams, id)
		c.streamsMu.Unlock()
	}()

	data, err := wire.EncodeRequest(id, wire.OpScan, &wire.ScanPayload{Device: device, Options: opts})
	if err != nil {
		return err
	}
	if err := c.framer.WriteFrame(data); err != nil {
		return fmt.Errorf("failed to send scan request: %w", err)
	}
	c.logMessage(log.DirectionOut, log.MessageTypeRequest, id, wire.OpScan.String(), "", 0, len(data))

	ctxDone := ctx.Done()
	var lastSeq uint32

	handleEvent := func(ev *wire.StreamEvent) error {
		if ev.Seq <= lastSeq && lastSeq != 0 {
			return &scan.DeviceCommError{Page: int(ev.Seq), Err: fmt.Errorf("stream sequence went backwards: %d after %d", ev.Seq, lastSeq)}
		}
		lastSeq = ev.Seq

		switch ev.Kind {
		case wire.StreamPage:
			c.logMessage(log.DirectionIn, log.MessageTypePage, id, "", "", ev.Seq, len(ev.Payload))
			img, err := imaging.DecodePage(ev.Payload)
			if err != nil {
				return &scan.DeviceCommError{Page: int(ev.Seq), Err: err}
			}
			if sink != nil {
				sink.OnPage(img)
			}
		case wire.StreamProgress:
			if sink != nil {
				sink.OnProgress(ev.Progress)
			}
		}
		return nil
	}

	for {
		select {
		case <-ctxDone:
			// One cancel, then keep draining until the worker confirms.
			if err := c.sendCancel(id); err != nil {
				return err
			}
			ctxDone = nil

		case <-c.done:
			return ErrChannelClosed

		case ev := <-evCh:
			if err := handleEvent(ev); err != nil {
				return err
			}

		case resp, ok := <-respCh:
			if !ok {
				return ErrChannelClosed
			}
			// The worker writes every stream frame before its final
			// response, and the read loop relays them in wire order, so
			// any pages this select has not taken yet are already sitting
			// in evCh. Drain them before acting on the response.
			for drained := false; !drained; {
				select {
				case ev := <-evCh:
					if err := handleEvent(ev); err != nil {
						return err
					}
				default:
					drained = true
				}
			}
			c.logMessage(log.DirectionIn, log.MessageTypeResponse, id, "", resp.Status.String(), 0, len(resp.Payload))
			if resp.Status == wire.StatusCancelled {
				return nil
			}
			if !resp.IsSuccess() {
				return respError(resp)
			}
			return nil
		}
	}
}

// sendCancel sends a cancel control message targeting one request.
func (c *Channel) sendCancel(requestID uint32) error {
	data, err := wire.EncodeControlMessage(&wire.ControlMessage{Type: wire.ControlCancel, RequestID: requestID})
	if err != nil {
		return err
	}
	if err := c.framer.WriteFrame(data); err != nil {
		return fmt.Errorf("failed to send cancel: %w", err)
	}
	return nil
}

// logMessage emits a worker-layer message event.
func (c *Channel) logMessage(dir log.Direction, mt log.MessageType, id uint32, op, status string, seq uint32, size int) {
	c.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Direction:    dir,
		Layer:        log.LayerWorker,
		Category:     log.CategoryMessage,
		Message: &log.MessageEvent{
			Type:        mt,
			MessageID:   id,
			Operation:   op,
			Status:      status,
			PageSeq:     seq,
			PayloadSize: size,
		},
	})
}

// logError emits a worker-layer error event.
func (c *Channel) logError(context string, err error) {
	c.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Direction:    log.DirectionIn,
		Layer:        log.LayerWorker,
		Category:     log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerWorker,
			Message: err.Error(),
			Context: context,
		},
	})
}
