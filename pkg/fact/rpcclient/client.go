// Package rpcclient builds the gRPC channel fact uses to talk to the
// sensor, grounded on original_source/fact/src/vm_agent.rs's create_client
// (TLS domain name, client identity, user-agent interceptor) and the
// teacher's gRPC+TLS client pattern in
// comp/core/remoteagent/helper/serverhelper_test.go.
package rpcclient

import (
	"context"
	"fmt"

	grpcmiddleware "github.com/grpc-ecosystem/go-grpc-middleware"
	"github.com/kylape/fact/pkg/fact/certs"
	"github.com/kylape/fact/pkg/fact/sensorapi"
	"github.com/kylape/fact/pkg/fact/telemetry"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
)

// ServerName is the TLS server name the sensor's certificate is issued for.
const ServerName = "sensor.stackrox.svc"

const (
	upsertVirtualMachineMethod = "/sensor.VirtualMachineService/UpsertVirtualMachine"
	upsertIndexReportMethod    = "/sensor.VirtualMachineService/UpsertIndexReport"
	reportFileEventMethod      = "/sensor.FileActivityService/ReportFileEvent"
)

// rawMessage carries already wire-encoded protobuf bytes through gRPC
// without a generated message type, since spec.md §1 keeps the sensor's
// protobuf schemas out of scope.
type rawMessage struct {
	data []byte
}

type rawCodec struct{}

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(*rawMessage)
	if !ok {
		return nil, fmt.Errorf("rpcclient: unsupported message type %T", v)
	}
	return m.data, nil
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(*rawMessage)
	if !ok {
		return fmt.Errorf("rpcclient: unsupported message type %T", v)
	}
	m.data = append([]byte(nil), data...)
	return nil
}

func (rawCodec) Name() string { return "fact-wire" }

func init() {
	encoding.RegisterCodec(rawCodec{})
}

// userAgentInterceptor stamps every outgoing unary call with a fixed
// user-agent metadata value, mirroring the original agent's
// UserAgentInterceptor.
func userAgentInterceptor(userAgent string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "user-agent", userAgent)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// telemetryInterceptor records RPCRequestsTotal per method/outcome.
func telemetryInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		err := invoker(ctx, method, req, reply, cc, opts...)
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		telemetry.RPCRequestsTotal.WithLabelValues(method, outcome).Inc()
		return err
	}
}

// Client wraps the gRPC channel to the sensor with typed helpers for the
// two upsert RPCs and the per-event file-activity RPC fact uses.
type Client struct {
	conn *grpc.ClientConn
}

// Dial opens a gRPC channel to url. When bundle is non-nil the channel is
// secured with mTLS using ServerName as the expected certificate identity;
// otherwise it connects insecurely, matching spec.md §6's --skip-http /
// certless modes used in test environments.
func Dial(ctx context.Context, url, userAgent string, bundle *certs.Bundle) (*Client, error) {
	var transportCreds credentials.TransportCredentials
	if bundle != nil {
		tlsCfg, err := bundle.TLSConfig()
		if err != nil {
			return nil, err
		}
		tlsCfg.ServerName = ServerName
		transportCreds = credentials.NewTLS(tlsCfg)
	} else {
		transportCreds = insecure.NewCredentials()
	}

	conn, err := grpc.NewClient(url,
		grpc.WithTransportCredentials(transportCreds),
		grpc.WithChainUnaryInterceptor(grpcmiddleware.ChainUnaryClient(
			userAgentInterceptor(userAgent),
			telemetryInterceptor(),
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: dialing %s: %w", url, err)
	}
	return &Client{conn: conn}, nil
}

// Close tears down the underlying channel.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, payload []byte) error {
	req := &rawMessage{data: payload}
	resp := &rawMessage{}
	return c.conn.Invoke(ctx, method, req, resp, grpc.CallContentSubtype(rawCodec{}.Name()))
}

// UpsertVirtualMachine sends a VirtualMachine record to the sensor.
func (c *Client) UpsertVirtualMachine(ctx context.Context, vm sensorapi.VirtualMachine) error {
	return c.invoke(ctx, upsertVirtualMachineMethod, vm.Marshal())
}

// UpsertIndexReport sends an IndexReport to the sensor, used both for
// direct RPC delivery and for reports relayed from a guest over vsock.
func (c *Client) UpsertIndexReport(ctx context.Context, report sensorapi.IndexReport) error {
	return c.invoke(ctx, upsertIndexReportMethod, report.Marshal())
}

// ReportFileEvent sends a single observed file-open to the sensor, one
// call per event (spec.md §2(10)/§4.2's "forward to the sensor RPC
// stream"; modeled here as a unary call per event, matching how every
// other sensor RPC in this package is implemented).
func (c *Client) ReportFileEvent(ctx context.Context, ev sensorapi.FileEvent) error {
	return c.invoke(ctx, reportFileEventMethod, ev.Marshal())
}
