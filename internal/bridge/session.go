package bridge

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/OCAP2/mapview/internal/dispatcher"
	"github.com/OCAP2/mapview/internal/geo"
	"github.com/OCAP2/mapview/internal/placement"
	"github.com/OCAP2/mapview/internal/viewport"
	"github.com/OCAP2/mapview/pkg/streaming"
)

// boundsQueueSize bounds the bounds_changed backlog of a new-location page.
const boundsQueueSize = 16

// Session is one connected page.
type Session struct {
	id     string
	page   string
	conn   *connection
	m      *Map
	disp   *dispatcher.Dispatcher
	logger *slog.Logger

	viewport  *viewport.Controller
	placement *placement.Controller
}

func newSession(s *Server, conn *connection, page string) (*Session, error) {
	id := uuid.NewString()
	logger := s.logger.With("session", id, "page", page)
	conn.logger = logger

	disp, err := dispatcher.New(s.eventLogger)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		id:     id,
		page:   page,
		conn:   conn,
		disp:   disp,
		logger: logger,
	}

	switch page {
	case streaming.PageMap:
		sess.m = NewMap(s.cfg.Map, conn.sendEnvelope)
		var opts []viewport.Option
		if s.cfg.RequeryDistance > 0 {
			opts = append(opts, viewport.WithRequeryDistance(s.cfg.RequeryDistance))
		}
		sess.viewport, err = viewport.New(sess.m, s.source, logger, opts...)
		if err != nil {
			disp.Close()
			return nil, err
		}
		sess.registerMap()
	case streaming.PageNewLocation:
		sess.m = NewMap(s.cfg.NewLocation, conn.sendEnvelope)
		sess.placement = placement.New(sess.m, sess.m, sess.m, s.cfg.Fields, logger)
		sess.registerNewLocation()
	default:
		disp.Close()
		return nil, fmt.Errorf("%w: %q", ErrUnknownPage, page)
	}

	return sess, nil
}

// ID returns the session id used in logs.
func (sess *Session) ID() string { return sess.id }

func (sess *Session) registerMap() {
	sess.disp.Register(streaming.TypeIdle, func(e dispatcher.Event) error {
		p, err := dispatcher.Decode[streaming.IdlePayload](e)
		if err != nil {
			return err
		}
		if _, err := viewport.RadiusForZoom(p.Zoom); err != nil {
			return err
		}
		sess.m.SetView(p.Center, p.Zoom, p.Bounds)
		sess.viewport.OnViewportSettled(p.Center, p.Zoom)
		return nil
	}, dispatcher.Logged())

	sess.disp.Register(streaming.TypeBoundsChanged, func(e dispatcher.Event) error {
		p, err := dispatcher.Decode[streaming.BoundsPayload](e)
		if err != nil {
			return err
		}
		sess.m.SetVisibleBounds(p.Bounds)
		return nil
	}, dispatcher.Logged())
}

func (sess *Session) registerNewLocation() {
	sess.disp.Register(streaming.TypeIdle, func(e dispatcher.Event) error {
		p, err := dispatcher.Decode[streaming.IdlePayload](e)
		if err != nil {
			return err
		}
		sess.m.SetView(p.Center, p.Zoom, p.Bounds)
		return nil
	}, dispatcher.Logged())

	sess.disp.Register(streaming.TypeClick, func(e dispatcher.Event) error {
		p, err := dispatcher.Decode[streaming.ClickPayload](e)
		if err != nil {
			return err
		}
		if !geo.Valid(p.Point) {
			return geo.ErrInvalidCoordinates
		}
		return sess.placement.OnMapClicked(p.Point)
	}, dispatcher.Logged())

	sess.disp.Register(streaming.TypeDragEnd, func(e dispatcher.Event) error {
		p, err := dispatcher.Decode[streaming.DragEndPayload](e)
		if err != nil {
			return err
		}
		if !geo.Valid(p.Point) {
			return geo.ErrInvalidCoordinates
		}
		return sess.m.Drag(p.MarkerID, p.Point)
	}, dispatcher.Logged())

	sess.disp.Register(streaming.TypePlacesChanged, func(e dispatcher.Event) error {
		p, err := dispatcher.Decode[streaming.PlacesChangedPayload](e)
		if err != nil {
			return err
		}
		return sess.placement.OnPlacesChanged(p.Places)
	}, dispatcher.Logged())

	sess.disp.Register(streaming.TypeBoundsChanged, func(e dispatcher.Event) error {
		p, err := dispatcher.Decode[streaming.BoundsPayload](e)
		if err != nil {
			return err
		}
		sess.m.SetVisibleBounds(p.Bounds)
		sess.placement.OnBoundsChanged(p.Bounds)
		return nil
	}, dispatcher.Buffered(boundsQueueSize), dispatcher.Blocking(), dispatcher.Logged())
}

// handle routes one inbound envelope. Failures are reported back to the page.
func (sess *Session) handle(env streaming.Envelope) {
	err := sess.disp.Dispatch(dispatcher.Event{
		Command: env.Type,
		Payload: env.Payload,
		Session: sess.id,
	})
	if err != nil {
		sess.logger.Warn("Rejected page event", "type", env.Type, "error", err)
		sess.conn.sendEnvelope(streaming.TypeError, streaming.ErrorPayload{For: env.Type, Message: err.Error()})
	}
}

// run serves the session until the page disconnects or the server closes it.
func (sess *Session) run() {
	sess.logger.Info("Page connected")
	go sess.conn.writeLoop()
	sess.conn.readLoop(sess.handle)
	sess.close()
	sess.logger.Info("Page disconnected")
}

// close tears the session down. The page is gone, so markers are dropped
// without remove messages.
func (sess *Session) close() {
	_ = sess.conn.close()
	sess.m.Detach()
	if err := sess.disp.Close(); err != nil {
		sess.logger.Debug("Dispatcher close", "error", err)
	}
	if sess.viewport != nil {
		sess.viewport.Close()
	}
	if sess.placement != nil {
		sess.placement.Close()
	}
}
