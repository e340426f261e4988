package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"nhooyr.io/websocket"
)

// heartbeatLoop owns the HEARTBEAT cadence: it jitters the first tick by
// U(0,1) of interval (spec.md §4.5 step 3), then ticks every interval,
// closing the socket with 4000 if the previous HEARTBEAT was never
// ACKed (spec.md §8 "heartbeat liveness").
func (s *Session) heartbeatLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration) error {
	firstTick := time.Duration(rand.Float64() * float64(interval)) //nolint:gosec
	timer := time.NewTimer(firstTick)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-timer.C:
			s.mu.Lock()
			sentBefore := s.heartbeatsSent
			acked := s.lastHeartbeatACK
			s.mu.Unlock()

			if sentBefore > 0 && !acked {
				conn.Close(closeCodeZombie, "zombie connection: heartbeat not acked")

				return fmt.Errorf("gateway: heartbeat ack not received within one interval")
			}

			if err := s.sendHeartbeat(ctx, conn); err != nil {
				return err
			}

			timer.Reset(interval)
		}
	}
}

// sendHeartbeat sends opcode 1 with the current sequence (or null) and
// marks the ack as outstanding.
func (s *Session) sendHeartbeat(ctx context.Context, conn *websocket.Conn) error {
	s.mu.Lock()
	var seq *int64
	if s.haveSequence {
		v := s.sequence
		seq = &v
	}
	s.lastHeartbeatACK = false
	s.lastHeartbeatSentAt = time.Now()
	s.heartbeatsSent++
	s.mu.Unlock()

	return s.writeCommand(ctx, conn, OpcodeHeartbeat, heartbeatData{Seq: seq})
}

// sendHeartbeatNow responds to a server-requested HEARTBEAT outside the
// regular cadence (spec.md §4.5).
func (s *Session) sendHeartbeatNow(ctx context.Context, conn *websocket.Conn) error {
	return s.sendHeartbeat(ctx, conn)
}
