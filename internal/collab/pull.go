package collab

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/drexelwireless/dragonradio-sub000/internal/wire"
)

// PullServer accepts inbound peer-channel connections pushed by
// competing fleets and, at minimum, parses and logs them.
type PullServer struct {
	listenAddr string
	logger     *slog.Logger
}

// NewPullServer constructs a PullServer bound to listenAddr once Run is
// called. logger defaults to slog.Default() if nil.
func NewPullServer(listenAddr string, logger *slog.Logger) *PullServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &PullServer{listenAddr: listenAddr, logger: logger}
}

// Run listens and serves until ctx is canceled.
func (s *PullServer) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("collab: listen %s: %w", s.listenAddr, err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("collab: accept: %w", err)
		}
		go s.handleConn(conn)
	}
}

func (s *PullServer) handleConn(conn net.Conn) {
	defer conn.Close()
	for {
		payload, err := wire.ReadFrame(conn)
		if err != nil {
			return
		}
		s.logFrame(payload)
	}
}

func (s *PullServer) logFrame(payload []byte) {
	tag, err := wire.PeekType(payload)
	if err != nil {
		s.logger.Warn("collab: malformed peer frame")
		return
	}

	switch tag {
	case wire.MsgHello:
		h, err := wire.DecodeHello(payload)
		if err != nil {
			s.logger.Warn("collab: malformed hello", "error", err)
			return
		}
		s.logger.Info("collab: received hello", "sender", h.SenderID, "msg_count", h.MsgCount)
	case wire.MsgLocationUpdate:
		u, err := wire.DecodeLocationUpdate(payload)
		if err != nil {
			s.logger.Warn("collab: malformed location update", "error", err)
			return
		}
		s.logger.Info("collab: received location update", "sender", u.Header.SenderID, "peers", len(u.Locations))
	case wire.MsgSpectrumUsage:
		r, err := wire.DecodeSpectrumUsage(payload)
		if err != nil {
			s.logger.Warn("collab: malformed spectrum usage", "error", err)
			return
		}
		s.logger.Info("collab: received spectrum usage", "sender", r.Header.SenderID, "voxels", len(r.Voxels))
	case wire.MsgDetailedPerformance:
		r, err := wire.DecodeDetailedPerformance(payload)
		if err != nil {
			s.logger.Warn("collab: malformed detailed performance", "error", err)
			return
		}
		s.logger.Info("collab: received detailed performance", "sender", r.Header.SenderID, "flows", len(r.Flows))
	default:
		s.logger.Debug("collab: unrecognized peer frame", "tag", tag)
	}
}
