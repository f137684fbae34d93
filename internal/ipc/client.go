package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
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

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Submit submits a new task.
func (c *Client) Submit(req SubmitRequest) (*SubmitResponse, error) {
	var resp SubmitResponse
	if err := c.client.Call("Tarchived.Submit", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueList returns tasks optionally filtered by state.
func (c *Client) QueueList(states []string) (*QueueListResponse, error) {
	var resp QueueListResponse
	if err := c.client.Call("Tarchived.QueueList", QueueListRequest{States: states}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueDescribe returns details for a single task.
func (c *Client) QueueDescribe(id int64) (*QueueDescribeResponse, error) {
	var resp QueueDescribeResponse
	if err := c.client.Call("Tarchived.QueueDescribe", QueueDescribeRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Requeue resets failed tasks to queued.
func (c *Client) Requeue(ids []int64) (*RequeueResponse, error) {
	var resp RequeueResponse
	if err := c.client.Call("Tarchived.Requeue", RequeueRequest{IDs: ids}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Tarchived.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Summary retrieves the per-tape usage report.
func (c *Client) Summary() (*SummaryResponse, error) {
	var resp SummaryResponse
	if err := c.client.Call("Tarchived.Summary", SummaryRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteableReport retrieves the deleteable folder report.
func (c *Client) DeleteableReport() (*DeleteableResponse, error) {
	var resp DeleteableResponse
	if err := c.client.Call("Tarchived.DeleteableReport", DeleteableRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Tapes lists every known cartridge.
func (c *Client) Tapes() (*TapesResponse, error) {
	var resp TapesResponse
	if err := c.client.Call("Tarchived.Tapes", TapesRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QuarantineClear asks the daemon to re-verify and free the drive.
func (c *Client) QuarantineClear() (*QuarantineClearResponse, error) {
	var resp QuarantineClearResponse
	if err := c.client.Call("Tarchived.QuarantineClear", QuarantineClearRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogTail returns daemon log lines.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	var resp LogTailResponse
	if err := c.client.Call("Tarchived.LogTail", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a webhook test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call("Tarchived.TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
