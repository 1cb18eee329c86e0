package rpcclient

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/kylape/fact/pkg/fact/sensorapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// echoUnknownServiceHandler reads one raw frame off the stream, stashes the
// inbound user-agent metadata and request payload for the test to inspect,
// and echoes the frame back as the response.
func echoUnknownServiceHandler(gotUserAgent *string, gotPayload *[]byte) grpc.StreamHandler {
	return func(srv interface{}, stream grpc.ServerStream) error {
		if md, ok := metadata.FromIncomingContext(stream.Context()); ok {
			if vals := md.Get("user-agent"); len(vals) > 0 {
				*gotUserAgent = vals[len(vals)-1]
			}
		}
		req := &rawMessage{}
		if err := stream.RecvMsg(req); err != nil {
			return err
		}
		*gotPayload = req.data
		return stream.SendMsg(&rawMessage{data: req.data})
	}
}

func TestClient_UpsertVirtualMachine_SendsUserAgentAndPayload(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()

	var gotUserAgent string
	var gotPayload []byte
	srv := grpc.NewServer(grpc.UnknownServiceHandler(echoUnknownServiceHandler(&gotUserAgent, &gotPayload)))
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	client, err := Dial(context.Background(), lis.Addr().String(), "fact/test (agent)", nil)
	require.NoError(t, err)
	defer client.Close()

	vm := sensorapi.VirtualMachine{ID: "vm-1", Name: "host-1"}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.UpsertVirtualMachine(ctx, vm))

	assert.Equal(t, "fact/test (agent)", gotUserAgent)
	assert.Equal(t, vm.Marshal(), gotPayload)
}

func TestClient_ReportFileEvent_SendsPayload(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()

	var gotUserAgent string
	var gotPayload []byte
	srv := grpc.NewServer(grpc.UnknownServiceHandler(echoUnknownServiceHandler(&gotUserAgent, &gotPayload)))
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	client, err := Dial(context.Background(), lis.Addr().String(), "fact/test (file-monitor)", nil)
	require.NoError(t, err)
	defer client.Close()

	ev := sensorapi.FileEvent{PID: 1, Comm: "sh", Filename: "/etc/passwd"}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.ReportFileEvent(ctx, ev))

	assert.Equal(t, "fact/test (file-monitor)", gotUserAgent)
	assert.Equal(t, ev.Marshal(), gotPayload)
}
