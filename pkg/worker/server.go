package worker

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/scanbridge-protocol/scanbridge-go/pkg/imaging"
	"github.com/scanbridge-protocol/scanbridge-go/pkg/log"
	"github.com/scanbridge-protocol/scanbridge-go/pkg/scan"
	"github.com/scanbridge-protocol/scanbridge-go/pkg/transport"
	"github.com/scanbridge-protocol/scanbridge-go/pkg/wire"
)

// ServerConfig configures a worker-side Server.
type ServerConfig struct {
	// Logger receives protocol events. Nil disables protocol logging.
	Logger log.Logger

	// AppLog receives operational log lines. Nil uses slog.Default.
	AppLog *slog.Logger

	// Capabilities are the names this worker answers probes for.
	Capabilities []string

	// ConnID identifies the channel in log events. Usually assigned by
	// the broker side; workers label their own events with it too.
	ConnID string
}

// Server is the worker-side end of the channel: it reads requests from
// the framer, runs them against the local state machine, and streams
// pages back. One Server serves one broker connection.
type Server struct {
	machine *scan.Machine
	framer  *transport.Framer
	logger  log.Logger
	appLog  *slog.Logger
	caps    map[string]bool
	connID  string

	cancelMu sync.Mutex
	cancels  map[uint32]context.CancelFunc

	wg sync.WaitGroup
}

// NewServer creates a server over the given machine and framer.
func NewServer(machine *scan.Machine, framer *transport.Framer, cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NoopLogger{}
	}
	appLog := cfg.AppLog
	if appLog == nil {
		appLog = slog.Default()
	}
	caps := make(map[string]bool, len(cfg.Capabilities))
	for _, c := range cfg.Capabilities {
		caps[c] = true
	}
	framer.SetLogger(logger, cfg.ConnID)
	return &Server{
		machine: machine,
		framer:  framer,
		logger:  logger,
		appLog:  appLog,
		caps:    caps,
		connID:  cfg.ConnID,
		cancels: make(map[uint32]context.CancelFunc),
	}
}

// Serve reads and dispatches requests until the broker closes the
// channel or the stream ends. A clean EOF or close control message
// returns nil.
func (s *Server) Serve(ctx context.Context) error {
	defer s.wg.Wait()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		data, err := s.framer.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("worker read failed: %w", err)
		}

		msgType, err := wire.PeekMessageType(data, false)
		if err != nil {
			s.appLog.Warn("undecodable frame from broker", "err", err)
			continue
		}

		switch msgType {
		case wire.MessageTypeRequest:
			req, err := wire.DecodeRequest(data)
			if err != nil {
				s.appLog.Warn("bad request frame", "err", err)
				continue
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handleRequest(ctx, req)
			}()

		case wire.MessageTypeControl:
			msg, err := wire.DecodeControlMessage(data)
			if err != nil {
				s.appLog.Warn("bad control frame", "err", err)
				continue
			}
			if done := s.handleControl(msg); done {
				return nil
			}
		}
	}
}

// handleControl processes one control message. Returns true on close.
func (s *Server) handleControl(msg *wire.ControlMessage) bool {
	switch msg.Type {
	case wire.ControlPing:
		if data, err := wire.EncodeControlMessage(&wire.ControlMessage{Type: wire.ControlPong}); err == nil {
			_ = s.framer.WriteFrame(data)
		}
	case wire.ControlCancel:
		s.cancelMu.Lock()
		cancel, ok := s.cancels[msg.RequestID]
		s.cancelMu.Unlock()
		if ok {
			s.appLog.Info("cancelling scan on broker request", "requestId", msg.RequestID)
			cancel()
		}
	case wire.ControlClose:
		return true
	}
	return false
}

// handleRequest runs one request to completion and writes its response.
func (s *Server) handleRequest(ctx context.Context, req *wire.Request) {
	s.logMessage(log.DirectionIn, log.MessageTypeRequest, req.MessageID, req.Operation.String(), "", len(req.Payload))

	switch req.Operation {
	case wire.OpEnumerate:
		s.handleEnumerate(ctx, req)
	case wire.OpCapabilities:
		s.handleCapabilities(ctx, req)
	case wire.OpScan:
		s.handleScan(ctx, req)
	case wire.OpQueryUI:
		s.handleQueryUI(ctx, req)
	case wire.OpProbe:
		s.handleProbe(req)
	default:
		s.respondError(req.MessageID, errors.New("unknown operation"))
	}
}

func (s *Server) handleEnumerate(ctx context.Context, req *wire.Request) {
	var payload wire.EnumeratePayload
	if err := wire.DecodePayload(req.Payload, &payload); err != nil {
		s.respondError(req.MessageID, err)
		return
	}
	devices, err := s.machine.EnumerateDevices(ctx, payload.Version)
	if err != nil {
		s.respondError(req.MessageID, err)
		return
	}
	s.respond(req.MessageID, wire.StatusSuccess, &wire.EnumerateResponsePayload{Devices: devices})
}

func (s *Server) handleCapabilities(ctx context.Context, req *wire.Request) {
	var payload wire.CapabilitiesPayload
	if err := wire.DecodePayload(req.Payload, &payload); err != nil {
		s.respondError(req.MessageID, err)
		return
	}
	caps, err := s.machine.Capabilities(ctx, payload.Device, payload.Options)
	if err != nil {
		s.respondError(req.MessageID, err)
		return
	}
	s.respond(req.MessageID, wire.StatusSuccess, &wire.CapabilitiesResponsePayload{Caps: *caps})
}

func (s *Server) handleQueryUI(ctx context.Context, req *wire.Request) {
	var payload wire.QueryUIPayload
	if err := wire.DecodePayload(req.Payload, &payload); err != nil {
		s.respondError(req.MessageID, err)
		return
	}
	result, err := s.machine.QueryUI(ctx, payload.Device, payload.Options)
	if err != nil {
		s.respondError(req.MessageID, err)
		return
	}
	s.respond(req.MessageID, wire.StatusSuccess, &wire.QueryUIResponsePayload{Result: *result})
}

func (s *Server) handleProbe(req *wire.Request) {
	var payload wire.ProbePayload
	if err := wire.DecodePayload(req.Payload, &payload); err != nil {
		s.respondError(req.MessageID, err)
		return
	}
	s.respond(req.MessageID, wire.StatusSuccess, &wire.ProbeResponsePayload{OK: s.caps[payload.Capability]})
}

// handleScan runs the scan with a sink that relays pages as stream
// events. Cancellation from the broker arrives as a control message
// and cancels the scan's context.
func (s *Server) handleScan(ctx context.Context, req *wire.Request) {
	var payload wire.ScanPayload
	if err := wire.DecodePayload(req.Payload, &payload); err != nil {
		s.respondError(req.MessageID, err)
		return
	}

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.cancelMu.Lock()
	s.cancels[req.MessageID] = cancel
	s.cancelMu.Unlock()
	defer func() {
		s.cancelMu.Lock()
		delete(s.cancels, req.MessageID)
		s.cancelMu.Unlock()
	}()

	// Sequence numbers are per request and shared by page and progress
	// events, so the broker can verify ordering across both.
	var seq uint32
	var pages uint32
	var relayErr error

	sink := scan.SinkFuncs{
		Page: func(img image.Image) {
			if relayErr != nil {
				return
			}
			encoded, err := imaging.EncodePage(img)
			if err != nil {
				relayErr = err
				cancel()
				return
			}
			seq++
			pages++
			s.logMessage(log.DirectionOut, log.MessageTypePage, req.MessageID, "", "", len(encoded))
			relayErr = s.sendStream(&wire.StreamEvent{
				Kind:      wire.StreamPage,
				RequestID: req.MessageID,
				Seq:       seq,
				Payload:   encoded,
			})
			if relayErr != nil {
				cancel()
			}
		},
		Progress: func(fraction float64) {
			if relayErr != nil {
				return
			}
			seq++
			relayErr = s.sendStream(&wire.StreamEvent{
				Kind:      wire.StreamProgress,
				RequestID: req.MessageID,
				Seq:       seq,
				Progress:  fraction,
			})
			if relayErr != nil {
				cancel()
			}
		},
	}

	err := s.machine.Scan(scanCtx, payload.Device, payload.Options, sink)
	if err == nil && relayErr != nil {
		err = relayErr
	}

	if err == nil && scanCtx.Err() != nil {
		s.respond(req.MessageID, wire.StatusCancelled, &wire.ScanResponsePayload{Pages: pages, Cancelled: true})
		return
	}
	if err != nil {
		s.respondError(req.MessageID, err)
		return
	}
	s.respond(req.MessageID, wire.StatusSuccess, &wire.ScanResponsePayload{Pages: pages})
}

// sendStream writes one stream event frame.
func (s *Server) sendStream(ev *wire.StreamEvent) error {
	data, err := wire.EncodeStreamEvent(ev)
	if err != nil {
		return err
	}
	return s.framer.WriteFrame(data)
}

// respond writes a response with the given status and payload.
func (s *Server) respond(id uint32, status wire.Status, payload any) {
	data, err := wire.EncodeResponse(id, status, payload)
	if err != nil {
		s.appLog.Error("failed to encode response", "messageId", id, "err", err)
		return
	}
	if err := s.framer.WriteFrame(data); err != nil {
		s.appLog.Error("failed to write response", "messageId", id, "err", err)
		return
	}
	s.logMessage(log.DirectionOut, log.MessageTypeResponse, id, "", status.String(), len(data))
}

// respondError classifies err and writes the matching failure response.
func (s *Server) respondError(id uint32, err error) {
	status, payload := wire.StatusOf(err)
	s.appLog.Warn("request failed", "messageId", id, "status", status.String(), "err", err)
	s.respond(id, status, payload)
}

// logMessage emits a worker-layer message event.
func (s *Server) logMessage(dir log.Direction, mt log.MessageType, id uint32, op, status string, size int) {
	s.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.connID,
		Direction:    dir,
		Layer:        log.LayerWorker,
		Category:     log.CategoryMessage,
		Message: &log.MessageEvent{
			Type:        mt,
			MessageID:   id,
			Operation:   op,
			Status:      status,
			PayloadSize: size,
		},
	})
}
