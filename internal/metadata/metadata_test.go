package metadata

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobrace/controller/internal/clustererr"
	"github.com/gobrace/controller/internal/rpcmsg"
)

type fakeRequester struct {
	handle func(m rpcmsg.Message) (rpcmsg.Reply, error)
}

func (f *fakeRequester) Request(ctx context.Context, m rpcmsg.Message) (rpcmsg.Reply, error) {
	return f.handle(m)
}

func TestClusterDeploymentInfoMemoizesWithinTTL(t *testing.T) {
	var calls int32
	req := &fakeRequester{handle: func(m rpcmsg.Message) (rpcmsg.Reply, error) {
		atomic.AddInt32(&calls, 1)
		return rpcmsg.Reply{Value: rpcmsg.ClusterDeploymentInfo{}}, nil
	}}
	c := New(req, 50*time.Millisecond)

	_, err := c.ClusterDeploymentInfo(context.Background(), false)
	require.NoError(t, err)
	_, err = c.ClusterDeploymentInfo(context.Background(), false)
	require.NoError(t, err)

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestClusterDeploymentInfoRefetchesAfterTTLExpires(t *testing.T) {
	var calls int32
	req := &fakeRequester{handle: func(m rpcmsg.Message) (rpcmsg.Reply, error) {
		atomic.AddInt32(&calls, 1)
		return rpcmsg.Reply{Value: rpcmsg.ClusterDeploymentInfo{}}, nil
	}}
	c := New(req, 10*time.Millisecond)

	_, err := c.ClusterDeploymentInfo(context.Background(), false)
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	_, err = c.ClusterDeploymentInfo(context.Background(), false)
	require.NoError(t, err)

	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestClusterDeploymentInfoFallsBackToStaleOnFetchFailure(t *testing.T) {
	var fail int32
	req := &fakeRequester{handle: func(m rpcmsg.Message) (rpcmsg.Reply, error) {
		if atomic.LoadInt32(&fail) == 1 {
			return rpcmsg.Reply{}, clustererr.New(clustererr.CommunicationError, "down")
		}
		return rpcmsg.Reply{Value: rpcmsg.ClusterDeploymentInfo{}}, nil
	}}
	c := New(req, 10*time.Millisecond)

	_, err := c.ClusterDeploymentInfo(context.Background(), false)
	require.NoError(t, err)

	atomic.StoreInt32(&fail, 1)
	time.Sleep(20 * time.Millisecond)

	result, err := c.ClusterDeploymentInfo(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, result.IsStale)
}

func TestClusterDeploymentInfoPropagatesErrorWhenNeverSucceeded(t *testing.T) {
	req := &fakeRequester{handle: func(m rpcmsg.Message) (rpcmsg.Reply, error) {
		return rpcmsg.Reply{}, clustererr.New(clustererr.CommunicationError, "down")
	}}
	c := New(req, 10*time.Millisecond)

	_, err := c.ClusterDeploymentInfo(context.Background(), false)
	require.Error(t, err)
}

func TestConcurrentFetchesShareOneInFlightCall(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	req := &fakeRequester{handle: func(m rpcmsg.Message) (rpcmsg.Reply, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return rpcmsg.Reply{Value: rpcmsg.NodeDeploymentInfo{}}, nil
	}}
	c := New(req, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.NodeDeploymentInfo(context.Background(), false)
			assert.NoError(t, err)
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}
