package dsp

import (
	"log/slog"
	"sync"

	"github.com/drexelwireless/dragonradio-sub000/internal/link"
)

// NullTransmitQueue is the TransmitQueue installed when no DSP hardware or
// simulator is attached (a dry run, a test, or a node whose RF frontend
// has not been brought up yet). Unlike silently dropping frames, it keeps
// a per-destination count so a status report can say how much traffic
// would have gone out, grounded on the same "record rather than discard"
// posture as controlplane's noopRouteInstaller.
type NullTransmitQueue struct {
	mu   sync.Mutex
	sent map[NodeId]int
}

// NewNullTransmitQueue returns an empty NullTransmitQueue.
func NewNullTransmitQueue() *NullTransmitQueue {
	return &NullTransmitQueue{sent: make(map[NodeId]int)}
}

// Enqueue counts the frame for dest and returns nil; the DSP chain is not
// actually present to transmit it.
func (q *NullTransmitQueue) Enqueue(dest NodeId, _ link.MCS, _ []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent[dest]++
	return nil
}

// Sent returns how many frames have been enqueued for dest.
func (q *NullTransmitQueue) Sent(dest NodeId) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sent[dest]
}

// LoggingEventRecorder satisfies EventRecorder by writing each event to a
// structured logger, standing in for the radio.h5 event log until a real
// recorder is wired up.
type LoggingEventRecorder struct {
	Logger *slog.Logger
}

// RecordEvent logs kind and fields at info level.
func (r LoggingEventRecorder) RecordEvent(kind string, fields map[string]any) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	args := make([]any, 0, len(fields)*2+2)
	args = append(args, slog.String("kind", kind))
	for k, v := range fields {
		args = append(args, slog.Any(k, v))
	}
	logger.Info("dsp: event", args...)
}
