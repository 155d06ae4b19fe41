package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"

	"enginehost/internal/engine"
)

// Client provides RPC access to the daemon. It is safe for concurrent use.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection. Bindings opened through this
// client are released by the daemon.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) call(method string, req, resp any) error {
	return c.client.Call(ServiceName+"."+method, req, resp)
}

// Start delivers a start command, creating the worker on first use.
func (c *Client) Start(intent engine.Intent) (*StartResponse, error) {
	var resp StartResponse
	req := StartRequest{Action: intent.Action, URI: intent.URI, Extras: intent.Extras}
	if err := c.call("Start", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Bind opens a binding and waits up to wait for the worker.
func (c *Client) Bind(controllerID string, wait time.Duration) (*BindResponse, error) {
	var resp BindResponse
	req := BindRequest{ControllerID: controllerID, WaitMillis: wait.Milliseconds()}
	if err := c.call("Bind", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Unbind closes a binding.
func (c *Client) Unbind(bindingID string) (*UnbindResponse, error) {
	var resp UnbindResponse
	if err := c.call("Unbind", UnbindRequest{BindingID: bindingID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ping probes a binding.
func (c *Client) Ping(bindingID string) (*PingResponse, error) {
	var resp PingResponse
	if err := c.call("Ping", PingRequest{BindingID: bindingID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetForeground asks the worker incarnation workerKey to change its grant.
func (c *Client) SetForeground(workerKey string, active bool) (*SetForegroundResponse, error) {
	var resp SetForegroundResponse
	if err := c.call("SetForeground", SetForegroundRequest{WorkerKey: workerKey, Active: active}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call("Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Reclaim kills the worker as the host would under memory pressure.
func (c *Client) Reclaim() (*ReclaimResponse, error) {
	var resp ReclaimResponse
	if err := c.call("Reclaim", ReclaimRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History returns up to limit journal entries, newest first.
func (c *Client) History(limit int) (*HistoryResponse, error) {
	var resp HistoryResponse
	if err := c.call("History", HistoryRequest{Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Shutdown asks the daemon process to exit.
func (c *Client) Shutdown() (*ShutdownResponse, error) {
	var resp ShutdownResponse
	if err := c.call("Shutdown", ShutdownRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification sends a test notification.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.call("TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
