package tbutil

import (
	"context"
	"fmt"

	tb "github.com/tigerbeetle/tigerbeetle-go"
	tbtypes "github.com/tigerbeetle/tigerbeetle-go/pkg/types"
)

// Client is the TigerBeetle client surface used by the ledger.
type Client = tb.Client

// ClientPool hands out a fixed number of TigerBeetle sessions. Each session
// serves one caller at a time.
type ClientPool struct {
	clients   []Client
	available chan Client
}

// NewClientPool opens sessions against the cluster. A failure closes the
// sessions opened so far.
func NewClientPool(clusterID uint32, addresses []string, sessions int) (*ClientPool, error) {
	if sessions <= 0 {
		sessions = 1
	}
	pool := &ClientPool{
		clients:   make([]Client, 0, sessions),
		available: make(chan Client, sessions),
	}
	cluster := tbtypes.ToUint128(uint64(clusterID))
	for i := 0; i < sessions; i++ {
		client, err := tb.NewClient(cluster, addresses)
		if err != nil {
			_ = pool.Close()
			return nil, fmt.Errorf("open tigerbeetle session %d of %d: %w", i+1, sessions, err)
		}
		pool.clients = append(pool.clients, client)
		pool.available <- client
	}
	return pool, nil
}

// Do runs fn with a session and returns the session to the pool afterwards.
func (p *ClientPool) Do(ctx context.Context, fn func(Client) error) error {
	var client Client
	select {
	case <-ctx.Done():
		return ctx.Err()
	case client = <-p.available:
	}
	defer func() { p.available <- client }()
	return fn(client)
}

// Close shuts down every session.
func (p *ClientPool) Close() error {
	for _, client := range p.clients {
		client.Close()
	}
	return nil
}
