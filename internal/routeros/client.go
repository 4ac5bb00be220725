// Package routeros owns the control-channel side of router
// provisioning: a thin adapter over the RouterOS API client, typed
// views of the replies the worker consumes, and a pool that keeps one
// validated live connection per registered router.
package routeros

import (
	"fmt"
	"time"

	api "github.com/go-routeros/routeros/v3"
)

// Conn is one live control connection to a router. Commands carry no
// context by design: the dial timeout is the only bound on call
// duration, matching the upstream client.
type Conn interface {
	Run(command string, args ...string) ([]map[string]string, error)
	Close() error
}

// Dialer opens a control connection to a router address
type Dialer func(addr, username, password string, timeout time.Duration) (Conn, error)

type apiConn struct {
	client *api.Client
}

// DialAPI opens a RouterOS API connection with a bounded connect
// timeout. It is the production Dialer.
func DialAPI(addr, username, password string, timeout time.Duration) (Conn, error) {
	client, err := api.DialTimeout(addr, username, password, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return &apiConn{client: client}, nil
}

func (c *apiConn) Run(command string, args ...string) ([]map[string]string, error) {
	sentence := append([]string{command}, args...)
	reply, err := c.client.Run(sentence...)
	if err != nil {
		return nil, err
	}

	rows := make([]map[string]string, 0, len(reply.Re))
	for _, re := range reply.Re {
		rows = append(rows, re.Map)
	}
	return rows, nil
}

func (c *apiConn) Close() error {
	c.client.Close()
	return nil
}
