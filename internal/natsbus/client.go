package natsbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

type Client struct {
	conn *nats.Conn
}

func NewClient(bus *Bus) (*Client, error) {
	return NewClientFromURL(bus.ClientURL())
}

func NewClientFromURL(url string) (*Client, error) {
	conn, err := nats.Connect(url, nats.Name("teamfeed"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Publish(topic string, data []byte) error {
	return c.conn.Publish(topic, data)
}

func (c *Client) PublishJSON(topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return c.conn.Publish(topic, data)
}

func (c *Client) Subscribe(topic string, handler func(msg *nats.Msg)) (*nats.Subscription, error) {
	return c.conn.Subscribe(topic, handler)
}

func (c *Client) Request(topic string, data []byte, timeout time.Duration) (*nats.Msg, error) {
	return c.conn.Request(topic, data, timeout)
}

// RequestJSON marshals req, sends it to topic and decodes the reply into
// resp.
func (c *Client) RequestJSON(topic string, req, resp any, timeout time.Duration) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	msg, err := c.conn.Request(topic, data, timeout)
	if err != nil {
		return fmt.Errorf("ipc request: %w", err)
	}
	if err := json.Unmarshal(msg.Data, resp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func (c *Client) Flush() error {
	return c.conn.Flush()
}

func (c *Client) Close() {
	c.conn.Close()
}
