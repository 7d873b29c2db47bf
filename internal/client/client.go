// Package client is a synchronous Go client for the public protocol,
// carried over from the original system's src/client.rs (SPEC_FULL.md
// §9 supplemented feature): connect once, then issue one request and
// read exactly one response per call on the same connection.
package client

import (
	"fmt"
	"net"

	v1 "github.com/mrshabel/kvraft/api/v1"
	"github.com/mrshabel/kvraft/internal/codec"
)

// Client is a connection to one replica's public port.
type Client struct {
	conn   net.Conn
	reader *codec.Reader
	writer *codec.Writer
}

// Connect dials addr and returns a ready-to-use Client.
func Connect(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return &Client{
		conn:   conn,
		reader: codec.NewReader(conn),
		writer: codec.NewWriter(conn),
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) send(req *v1.Request) (*v1.Response, error) {
	data, err := req.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	if err := c.writer.WriteFrame(data); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	payload, err := c.reader.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return v1.UnmarshalResponse(payload)
}

// Get issues a GET request.
func (c *Client) Get(key string) (value string, found bool, err error) {
	resp, err := c.send(&v1.Request{Kind: v1.ReqGet, Key: key})
	if err != nil {
		return "", false, err
	}
	return resp.Value, resp.IsFound, nil
}

// Set issues a SET request and reports whether it was acknowledged.
func (c *Client) Set(key, value string) (bool, error) {
	resp, err := c.send(&v1.Request{Kind: v1.ReqSet, Key: key, Value: value})
	if err != nil {
		return false, err
	}
	return resp.Success, nil
}

// Delete issues a DELETE request, returning the prior value if present.
func (c *Client) Delete(key string) (value string, found bool, err error) {
	resp, err := c.send(&v1.Request{Kind: v1.ReqDelete, Key: key})
	if err != nil {
		return "", false, err
	}
	return resp.Value, resp.IsFound, nil
}

// Scan issues a SCAN request.
func (c *Client) Scan() ([]string, error) {
	resp, err := c.send(&v1.Request{Kind: v1.ReqScan})
	if err != nil {
		return nil, err
	}
	return resp.Keys, nil
}

// Ping issues a PING request.
func (c *Client) Ping() error {
	_, err := c.send(&v1.Request{Kind: v1.ReqPing})
	return err
}

// Info issues an INFO request.
func (c *Client) Info() (*v1.Response, error) {
	return c.send(&v1.Request{Kind: v1.ReqInfo})
}

// AddNode issues an ADD_NODE request.
func (c *Client) AddNode(id uint64, addr string, isLearner bool) (bool, error) {
	resp, err := c.send(&v1.Request{Kind: v1.ReqAddNode, PeerID: id, Addr: addr, IsLearner: isLearner})
	if err != nil {
		return false, err
	}
	return resp.Success, nil
}

// RemoveNode issues a REMOVE_NODE request.
func (c *Client) RemoveNode(id uint64) (bool, error) {
	resp, err := c.send(&v1.Request{Kind: v1.ReqRemoveNode, PeerID: id})
	if err != nil {
		return false, err
	}
	return resp.Success, nil
}
