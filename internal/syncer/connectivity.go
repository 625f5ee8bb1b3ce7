package syncer

import (
	"context"
	"time"
)

// Connectivity reports whether the remote store can be reached.
type Connectivity interface {
	Online(ctx context.Context) bool
}

// ConnectivityFunc adapts a function to Connectivity.
type ConnectivityFunc func(ctx context.Context) bool

func (f ConnectivityFunc) Online(ctx context.Context) bool { return f(ctx) }

// AlwaysOnline never blocks a drain.
var AlwaysOnline = ConnectivityFunc(func(context.Context) bool { return true })

// Pinger is anything that can cheaply check reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck treats a successful ping within Timeout as online.
type PingCheck struct {
	Pinger  Pinger
	Timeout time.Duration
}

func (c PingCheck) Online(ctx context.Context) bool {
	if c.Pinger == nil {
		return false
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.Pinger.Ping(ctx) == nil
}
