// Package metadata implements CachedMetadata (spec.md §4.E): TTL-memoized
// views of ClusterDeploymentInfo and NodeDeploymentInfo, the only place in
// the core that tolerates stale data. Bookkeeping shape (mutex-guarded
// lastValue/lastFetchTime, single in-flight fetch) is grounded on
// scttfrdmn-objectfs/internal/cache's TTL entries, simplified to one entry
// per kind since a controller has exactly one cluster and one default
// store in view at a time.
package metadata

import (
	"context"
	"sync"
	"time"

	"github.com/gobrace/controller/internal/clustererr"
	"github.com/gobrace/controller/internal/rpcmsg"
)

// DefaultTTL is the default staleness bound, per spec.md §4.E.
const DefaultTTL = 2000 * time.Millisecond

// Requester is the subset of Proxy that CachedMetadata pulls through.
type Requester interface {
	Request(ctx context.Context, m rpcmsg.Message) (rpcmsg.Reply, error)
}

// Result wraps a cached value with whether it is known to be stale.
type Result[T any] struct {
	Value   T
	IsStale bool
}

// ttlEntry is a single memoized value, fetched on demand and shared by all
// callers racing to refresh it.
type ttlEntry[T any] struct {
	ttl time.Duration

	mu        sync.Mutex
	haveValue bool
	value     T
	fetchedAt time.Time
	fetching  chan struct{} // non-nil while a fetch is in flight
}

func newEntry[T any](ttl time.Duration) *ttlEntry[T] {
	return &ttlEntry[T]{ttl: ttl}
}

// get returns the cached value if fresh, otherwise fetches via fn. On fetch
// failure it falls back to the last successful value with IsStale=true; if
// there has never been a success, the error propagates.
func (e *ttlEntry[T]) get(ctx context.Context, fn func(context.Context) (T, error)) (Result[T], error) {
	e.mu.Lock()
	if e.haveValue && time.Since(e.fetchedAt) < e.ttl {
		v := e.value
		e.mu.Unlock()
		return Result[T]{Value: v}, nil
	}
	if e.fetching != nil {
		wait := e.fetching
		e.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return Result[T]{}, ctx.Err()
		}
		e.mu.Lock()
		if e.haveValue {
			v := e.value
			stale := time.Since(e.fetchedAt) >= e.ttl
			e.mu.Unlock()
			return Result[T]{Value: v, IsStale: stale}, nil
		}
		e.mu.Unlock()
		return Result[T]{}, clustererr.New(clustererr.CommunicationError, "concurrent fetch failed")
	}
	e.fetching = make(chan struct{})
	e.mu.Unlock()

	v, err := fn(ctx)

	e.mu.Lock()
	close(e.fetching)
	e.fetching = nil
	if err != nil {
		if e.haveValue {
			stale := e.value
			e.mu.Unlock()
			return Result[T]{Value: stale, IsStale: true}, nil
		}
		e.mu.Unlock()
		return Result[T]{}, err
	}
	e.value = v
	e.haveValue = true
	e.fetchedAt = time.Now()
	e.mu.Unlock()
	return Result[T]{Value: v}, nil
}

// Cache owns the two memoized metadata kinds named in spec.md §4.E.
type Cache struct {
	proxy   Requester
	cluster *ttlEntry[rpcmsg.ClusterDeploymentInfo]
	node    *ttlEntry[rpcmsg.NodeDeploymentInfo]
}

// New builds a Cache pulling through proxy with the given TTL (DefaultTTL
// if ttl <= 0).
func New(proxy Requester, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		proxy:   proxy,
		cluster: newEntry[rpcmsg.ClusterDeploymentInfo](ttl),
		node:    newEntry[rpcmsg.NodeDeploymentInfo](ttl),
	}
}

// ClusterDeploymentInfo returns the cached cluster metadata, fetching
// through the proxy on expiry.
func (c *Cache) ClusterDeploymentInfo(ctx context.Context, withPerf bool) (Result[rpcmsg.ClusterDeploymentInfo], error) {
	return c.cluster.get(ctx, func(ctx context.Context) (rpcmsg.ClusterDeploymentInfo, error) {
		reply, err := c.proxy.Request(ctx, rpcmsg.GetClusterDeploymentInfo{WithPerf: withPerf})
		if err != nil {
			return rpcmsg.ClusterDeploymentInfo{}, err
		}
		info, ok := reply.Value.(rpcmsg.ClusterDeploymentInfo)
		if !ok {
			return rpcmsg.ClusterDeploymentInfo{}, clustererr.New(clustererr.CommunicationError, "malformed ClusterDeploymentInfo reply")
		}
		return info, nil
	})
}

// NodeDeploymentInfo returns the cached node metadata, fetching through the
// proxy on expiry.
func (c *Cache) NodeDeploymentInfo(ctx context.Context, withPerf bool) (Result[rpcmsg.NodeDeploymentInfo], error) {
	return c.node.get(ctx, func(ctx context.Context) (rpcmsg.NodeDeploymentInfo, error) {
		reply, err := c.proxy.Request(ctx, rpcmsg.GetNodeDeploymentInfo{WithPerf: withPerf})
		if err != nil {
			return rpcmsg.NodeDeploymentInfo{}, err
		}
		info, ok := reply.Value.(rpcmsg.NodeDeploymentInfo)
		if !ok {
			return rpcmsg.NodeDeploymentInfo{}, clustererr.New(clustererr.CommunicationError, "malformed NodeDeploymentInfo reply")
		}
		return info, nil
	})
}
