// Package adminrpc exposes the relay-to-relay administration RPC over
// Connect: peers in a gossip cluster (and operator tooling) use it to
// ping a relay and ask which workspaces it hosts, so clients can be
// redirected to the relay owning a workspace. It is never part of the
// client-facing sync protocol, which stays on /sync2.
//
// Messages are plain structs with a JSON codec rather than generated
// protobuf: the surface is two unary procedures between trusted
// relays, and keeping it schema-light avoids a codegen step.
package adminrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"connectrpc.com/connect"
)

// Procedure paths.
const (
	ProcedurePing       = "/relay.admin.v1.AdminService/Ping"
	ProcedureWorkspaces = "/relay.admin.v1.AdminService/Workspaces"
)

// PingRequest asks a relay to identify itself.
type PingRequest struct{}

// PingResponse carries the relay's identity.
type PingResponse struct {
	NodeID     string `json:"node_id"`
	Version    string `json:"version"`
	TimeMillis int64  `json:"time_millis"`
}

// WorkspacesRequest asks which workspaces a relay currently hosts.
type WorkspacesRequest struct{}

// WorkspacesResponse lists hosted workspace ids.
type WorkspacesResponse struct {
	WorkspaceIDs []string `json:"workspace_ids"`
}

// Service is what a relay answers peers with.
type Service interface {
	NodeID() string
	Version() string
	Workspaces() []string
}

// jsonCodec is a Connect codec over encoding/json, sufficient for the
// plain-struct messages above.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewHandler mounts the admin service and returns its path prefix and
// handler.
func NewHandler(svc Service) (string, http.Handler) {
	mux := http.NewServeMux()

	mux.Handle(ProcedurePing, connect.NewUnaryHandler(
		ProcedurePing,
		func(ctx context.Context, req *connect.Request[PingRequest]) (*connect.Response[PingResponse], error) {
			return connect.NewResponse(&PingResponse{
				NodeID:     svc.NodeID(),
				Version:    svc.Version(),
				TimeMillis: time.Now().UnixMilli(),
			}), nil
		},
		connect.WithCodec(jsonCodec{}),
	))

	mux.Handle(ProcedureWorkspaces, connect.NewUnaryHandler(
		ProcedureWorkspaces,
		func(ctx context.Context, req *connect.Request[WorkspacesRequest]) (*connect.Response[WorkspacesResponse], error) {
			return connect.NewResponse(&WorkspacesResponse{
				WorkspaceIDs: svc.Workspaces(),
			}), nil
		},
		connect.WithCodec(jsonCodec{}),
	))

	return "/relay.admin.v1.AdminService/", mux
}

// Client calls a peer relay's admin service.
type Client struct {
	ping       *connect.Client[PingRequest, PingResponse]
	workspaces *connect.Client[WorkspacesRequest, WorkspacesResponse]
}

// NewClient creates a client against a peer's base URL.
func NewClient(httpClient connect.HTTPClient, baseURL string) *Client {
	return &Client{
		ping: connect.NewClient[PingRequest, PingResponse](
			httpClient, baseURL+ProcedurePing, connect.WithCodec(jsonCodec{})),
		workspaces: connect.NewClient[WorkspacesRequest, WorkspacesResponse](
			httpClient, baseURL+ProcedureWorkspaces, connect.WithCodec(jsonCodec{})),
	}
}

// Ping checks a peer's liveness and identity.
func (c *Client) Ping(ctx context.Context) (*PingResponse, error) {
	resp, err := c.ping.CallUnary(ctx, connect.NewRequest(&PingRequest{}))
	if err != nil {
		return nil, fmt.Errorf("adminrpc: ping: %w", err)
	}
	return resp.Msg, nil
}

// Workspaces asks a peer which workspaces it hosts.
func (c *Client) Workspaces(ctx context.Context) (*WorkspacesResponse, error) {
	resp, err := c.workspaces.CallUnary(ctx, connect.NewRequest(&WorkspacesRequest{}))
	if err != nil {
		return nil, fmt.Errorf("adminrpc: workspaces: %w", err)
	}
	return resp.Msg, nil
}
