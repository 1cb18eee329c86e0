// Package relay implements the host-side vsock listener that accepts
// guest connections and forwards their IndexReports to the sensor,
// grounded on original_source/fact/src/vsock.rs's VsockServer (accept
// loop, per-connection framing) and
// original_source/fact/src/sensor_relay.rs's SensorRelay (single
// RPC client, reconnect-on-error, forward loop).
package relay

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/DataDog/zstd"
	"github.com/kylape/fact/pkg/fact/log"
	"github.com/kylape/fact/pkg/fact/rpcclient"
	"github.com/kylape/fact/pkg/fact/sensorapi"
	"github.com/kylape/fact/pkg/fact/telemetry"
	factvsock "github.com/kylape/fact/pkg/fact/vsock"
)

// zstdMagic is the four-byte little-endian frame magic number zstd prefixes
// every compressed stream with. The package collector only compresses
// payloads above its own threshold (packagemonitor.go's zstdThreshold), so
// the listener must check for it rather than assume every frame is
// compressed.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// guestBacklog bounds how many decoded reports can be queued for the
// sensor relay goroutine before a guest connection's handler blocks,
// matching the original's mpsc::channel(100).
const guestBacklog = 100

type guestMessage struct {
	guestID string
	report  sensorapi.IndexReport
}

// Listener accepts guest vsock connections and relays their IndexReports
// to the sensor over a single RPC client.
type Listener struct {
	port      uint32
	rpcClient *rpcclient.Client
	reportsCh chan guestMessage
	listener  net.Listener
	wg        sync.WaitGroup
}

// New builds a Listener that accepts connections on port and forwards
// decoded reports using rpcClient.
func New(port uint32, rpcClient *rpcclient.Client) *Listener {
	return &Listener{
		port:      port,
		rpcClient: rpcClient,
		reportsCh: make(chan guestMessage, guestBacklog),
	}
}

// Serve binds the vsock listener and runs until ctx is cancelled. It
// starts the single sensor-forwarding goroutine and one handler goroutine
// per accepted connection.
func (l *Listener) Serve(ctx context.Context) error {
	lis, err := factvsock.Listen(l.port)
	if err != nil {
		return fmt.Errorf("relay: binding vsock listener: %w", err)
	}
	l.listener = lis
	log.L().Infow("sensor relay listening", "port", l.port)

	l.wg.Add(1)
	go l.forwardLoop(ctx)

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				l.wg.Wait()
				return nil
			default:
				log.L().Warnw("relay accept failed", "error", err)
				continue
			}
		}

		l.wg.Add(1)
		go l.handleConn(ctx, conn)
	}
}

// handleConn runs the per-connection ReadingHeader -> ReadingBody ->
// Acking -> ReadingHeader state machine: it keeps reading frames from one
// guest until the connection closes, a read or ack write fails, or ctx is
// cancelled. A frame that fails to decode is acked and dropped, and the
// connection stays open.
func (l *Listener) handleConn(ctx context.Context, conn net.Conn) {
	defer l.wg.Done()
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	guestID := conn.RemoteAddr().String()
	telemetry.RelayConnectionsActive.Inc()
	defer telemetry.RelayConnectionsActive.Dec()

	for {
		payload, err := factvsock.ReadFrame(conn)
		if err != nil {
			log.L().Debugw("relay guest connection closed", "guest", guestID, "error", err)
			return
		}

		if bytes.HasPrefix(payload, zstdMagic) {
			decompressed, err := zstd.Decompress(nil, payload)
			if err != nil {
				log.L().Warnw("relay failed to decompress zstd frame", "guest", guestID, "error", err)
				telemetry.RelayFramesDropped.Inc()
				if err := factvsock.WriteAck(conn, factvsock.AckSuccess); err != nil {
					return
				}
				continue
			}
			payload = decompressed
		}

		report, err := sensorapi.UnmarshalIndexReport(payload)
		if err != nil {
			log.L().Warnw("relay dropping undecodable frame", "guest", guestID, "error", err)
			telemetry.RelayFramesDropped.Inc()
			if err := factvsock.WriteAck(conn, factvsock.AckSuccess); err != nil {
				return
			}
			continue
		}

		if err := factvsock.WriteAck(conn, factvsock.AckSuccess); err != nil {
			log.L().Warnw("relay failed to ack guest frame", "guest", guestID, "error", err)
			return
		}

		select {
		case l.reportsCh <- guestMessage{guestID: guestID, report: report}:
		case <-ctx.Done():
			return
		}
	}
}

// forwardLoop owns the single RPC client used to deliver every guest's
// reports to the sensor. On a send error it logs and moves on to the next
// message rather than retrying, since the underlying gRPC channel
// reconnects transparently.
func (l *Listener) forwardLoop(ctx context.Context) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-l.reportsCh:
			if l.rpcClient == nil {
				log.L().Debugw("relay has no sensor RPC client configured, dropping report", "guest", msg.guestID)
				continue
			}
			if err := l.rpcClient.UpsertIndexReport(ctx, msg.report); err != nil {
				log.L().Warnw("relay failed to forward report to sensor", "guest", msg.guestID, "error", err)
			}
		}
	}
}
