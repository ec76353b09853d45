// Package plugin runs domain.Publisher out-of-process over
// hashicorp/go-plugin's net/rpc transport. The gRPC transport the calendar
// engine plugin host exposes is unimplemented server stubs, so publish
// transports here speak net/rpc instead (see DESIGN.md).
package plugin

import (
	"context"
	"net/rpc"
	"os/exec"
	"time"

	"github.com/cynacedia/pubkeeper/internal/publishing/domain"
	"github.com/hashicorp/go-hclog"
	hcplugin "github.com/hashicorp/go-plugin"
)

// Handshake is the shared handshake both host and plugin process must
// present (hashicorp/go-plugin convention).
var Handshake = hcplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "PUBKEEPER_PUBLISHER_PLUGIN",
	MagicCookieValue: "commits-events",
}

// PublishEventArgs is the net/rpc argument struct for PublishEvent.
type PublishEventArgs struct {
	TargetID string
	Details  domain.EventDetails
	StartsAt time.Time
	EndsAt   time.Time
}

// PublishEventReply is the net/rpc reply struct for PublishEvent. A
// non-empty ErrCode/ErrStatus/ErrMsg is reconstructed into a
// *domain.RateLimitError or plain error by the client stub.
type PublishEventReply struct {
	EventID   string
	Ok        bool
	ErrCode   string
	ErrStatus int
	ErrMsg    string
}

// publisherRPCServer adapts a local domain.Publisher to net/rpc, run
// inside the plugin subprocess.
type publisherRPCServer struct {
	impl domain.Publisher
}

func (s *publisherRPCServer) PublishEvent(args PublishEventArgs, reply *PublishEventReply) error {
	outcome, err := s.impl.PublishEvent(context.Background(), args.TargetID, args.Details, args.StartsAt, args.EndsAt)
	if err != nil {
		reply.Ok = false
		reply.ErrMsg = err.Error()
		if rle, ok := asRateLimitError(err); ok {
			reply.ErrCode = rle.Code
			reply.ErrStatus = rle.Status
		}
		return nil
	}
	reply.Ok = true
	reply.EventID = outcome.EventID
	return nil
}

func asRateLimitError(err error) (*domain.RateLimitError, bool) {
	rle, ok := err.(*domain.RateLimitError)
	return rle, ok
}

// publisherRPCClient adapts the net/rpc connection back into
// domain.Publisher, run inside the host process.
type publisherRPCClient struct {
	client *rpc.Client
}

func (c *publisherRPCClient) PublishEvent(ctx context.Context, targetID string, details domain.EventDetails, startsAt, endsAt time.Time) (domain.PublishOutcome, error) {
	args := PublishEventArgs{TargetID: targetID, Details: details, StartsAt: startsAt, EndsAt: endsAt}
	var reply PublishEventReply
	if err := c.client.Call("Plugin.PublishEvent", args, &reply); err != nil {
		return domain.PublishOutcome{}, err
	}
	if !reply.Ok {
		return domain.PublishOutcome{}, domain.ClassifyPublishError(reply.ErrCode, reply.ErrStatus, reply.ErrMsg)
	}
	return domain.PublishOutcome{EventID: reply.EventID}, nil
}

// Plugin implements hcplugin.Plugin, bridging a domain.Publisher across
// the net/rpc boundary in either direction.
type Plugin struct {
	Impl domain.Publisher
}

// Server returns the net/rpc server-side handler (plugin subprocess side).
func (p *Plugin) Server(*hcplugin.MuxBroker) (interface{}, error) {
	return &publisherRPCServer{impl: p.Impl}, nil
}

// Client returns the net/rpc client-side handler (host process side).
func (p *Plugin) Client(b *hcplugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &publisherRPCClient{client: c}, nil
}

const pluginName = "publisher"

// Serve runs impl as a go-plugin subprocess; call this from a plugin
// binary's main().
func Serve(impl domain.Publisher) {
	hcplugin.Serve(&hcplugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]hcplugin.Plugin{
			pluginName: &Plugin{Impl: impl},
		},
	})
}

// Launch starts the plugin binary at path and returns a domain.Publisher
// proxy plus the underlying client for shutdown (Kill).
func Launch(path string, logger hclog.Logger) (*hcplugin.Client, domain.Publisher, error) {
	if logger == nil {
		logger = hclog.Default()
	}
	client := hcplugin.NewClient(&hcplugin.ClientConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]hcplugin.Plugin{
			pluginName: &Plugin{},
		},
		Cmd:    exec.Command(path),
		Logger: logger,
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, nil, err
	}

	raw, err := rpcClient.Dispense(pluginName)
	if err != nil {
		client.Kill()
		return nil, nil, err
	}

	publisher, ok := raw.(domain.Publisher)
	if !ok {
		client.Kill()
		return nil, nil, errNotAPublisher
	}
	return client, publisher, nil
}

var errNotAPublisher = publisherTypeError{}

type publisherTypeError struct{}

func (publisherTypeError) Error() string {
	return "plugin does not implement domain.Publisher"
}
