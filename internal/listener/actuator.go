// Package listener implements the on-dog execution service: it accepts
// command envelopes over HTTP, executes them strictly sequentially against
// the motion host's UDP command port, and exposes task state for polling.
package listener

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"dogbridge/internal/schema"
)

// ActuatorLink is the thin command surface toward the motion host. The
// motion host owns all physical execution; this link only delivers command
// frames.
type ActuatorLink interface {
	Perform(code uint32, param int32) error
	Close() error
}

// UDPLink sends the motion host's native 12-byte little-endian command
// frame: code, parameter and type words. The type word is always zero for
// the commands this service issues.
type UDPLink struct {
	conn net.Conn
	log  *zap.Logger
}

// DialUDP opens the command link to the motion host.
func DialUDP(host string, port int, log *zap.Logger) (*UDPLink, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := net.Dial("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("dial motion host: %w", err)
	}
	return &UDPLink{conn: conn, log: log}, nil
}

// Perform sends one command frame.
func (l *UDPLink) Perform(code uint32, param int32) error {
	frame := make([]byte, 12)
	binary.LittleEndian.PutUint32(frame[0:4], code)
	binary.LittleEndian.PutUint32(frame[4:8], uint32(param))
	// frame[8:12] is the type word, zero.
	if _, err := l.conn.Write(frame); err != nil {
		return fmt.Errorf("send command 0x%08x: %w", code, err)
	}
	return nil
}

// Close shuts the command socket.
func (l *UDPLink) Close() error {
	return l.conn.Close()
}

// heartbeatInterval keeps the motion host's command channel alive; the
// host drops into a safe state when heartbeats stop.
const heartbeatInterval = 250 * time.Millisecond

// RunHeartbeat sends the keepalive frame until ctx is cancelled.
func (l *UDPLink) RunHeartbeat(ctx context.Context) error {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := l.Perform(schema.CodeHeartbeat, 0); err != nil {
				// Socket closed under us means shutdown; anything
				// else is worth one log line per tick at most.
				if ctx.Err() != nil {
					return nil
				}
				l.log.Warn("heartbeat send failed", zap.Error(err))
			}
		}
	}
}
