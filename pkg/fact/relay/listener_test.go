package relay

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/DataDog/zstd"
	"github.com/kylape/fact/pkg/fact/sensorapi"
	factvsock "github.com/kylape/fact/pkg/fact/vsock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestListener() *Listener {
	return New(0, nil)
}

func TestHandleConn_ValidFrameIsForwarded(t *testing.T) {
	l := newTestListener()
	srv, cli := net.Pipe()
	defer cli.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l.wg.Add(1)
	go l.handleConn(ctx, srv)

	report := sensorapi.IndexReport{VsockCID: "3", IndexV4: &sensorapi.IndexV4{HashID: "h", Success: true}}
	require.NoError(t, factvsock.WriteFrame(cli, report.Marshal()))

	code, err := factvsock.ReadAck(cli)
	require.NoError(t, err)
	assert.Equal(t, factvsock.AckSuccess, code)

	select {
	case msg := <-l.reportsCh:
		assert.Equal(t, report, msg.report)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded report")
	}
}

func TestHandleConn_ZstdCompressedFrameIsDecompressedAndForwarded(t *testing.T) {
	l := newTestListener()
	srv, cli := net.Pipe()
	defer cli.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l.wg.Add(1)
	go l.handleConn(ctx, srv)

	report := sensorapi.IndexReport{
		VsockCID: "3",
		IndexV4: &sensorapi.IndexV4{
			HashID:  "h",
			Success: true,
			Contents: &sensorapi.Contents{
				Packages: []sensorapi.Component{{Name: "bash", Version: "5.1.16", Architecture: "x86_64"}},
			},
		},
	}
	compressed, err := zstd.Compress(nil, report.Marshal())
	require.NoError(t, err)
	require.NoError(t, factvsock.WriteFrame(cli, compressed))

	code, err := factvsock.ReadAck(cli)
	require.NoError(t, err)
	assert.Equal(t, factvsock.AckSuccess, code)

	select {
	case msg := <-l.reportsCh:
		assert.Equal(t, report, msg.report)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded report")
	}
}

func TestHandleConn_MalformedFrameIsDroppedButAcked(t *testing.T) {
	l := newTestListener()
	srv, cli := net.Pipe()
	defer cli.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l.wg.Add(1)
	go l.handleConn(ctx, srv)

	require.NoError(t, factvsock.WriteFrame(cli, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}))

	code, err := factvsock.ReadAck(cli)
	require.NoError(t, err)
	assert.Equal(t, factvsock.AckSuccess, code)

	select {
	case <-l.reportsCh:
		t.Fatal("malformed frame should not have been forwarded")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHandleConn_ClosedConnectionStopsHandler(t *testing.T) {
	l := newTestListener()
	srv, cli := net.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	l.wg.Add(1)
	go func() {
		l.handleConn(ctx, srv)
		close(done)
	}()

	cli.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handleConn did not return after connection closed")
	}
}
