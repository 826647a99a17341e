package clusterstate

import (
	"context"
	"sync"

	"wrrouting/pkg/listener"
)

const defaultQueueSize = 64

type commitRequest struct {
	cmd   Command
	reply chan commitResult
}

type commitResult struct {
	outcome Outcome
	err     error
}

// LocalCommitter is the commit facility of a single-node cluster: commands are
// queued and applied one by one by a single worker.
type LocalCommitter struct {
	svc      *Service
	queue    chan commitRequest
	worker   *listener.Listener[commitRequest]
	done     chan struct{}
	stopOnce sync.Once
}

func NewLocalCommitter(svc *Service, queueSize int) *LocalCommitter {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	c := &LocalCommitter{
		svc:   svc,
		queue: make(chan commitRequest, queueSize),
		done:  make(chan struct{}),
	}
	c.worker = listener.New("local-committer", c.queue, c.handle)
	return c
}

func (c *LocalCommitter) Start(ctx context.Context) {
	c.worker.Start(ctx)
}

// Stop waits for the command being applied; queued commands fail with ErrCommitterStopped.
func (c *LocalCommitter) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.worker.Stop()
	})
}

func (c *LocalCommitter) handle(req commitRequest) error {
	outcome, err := c.svc.Apply(req.cmd)
	req.reply <- commitResult{outcome: outcome, err: err}
	return nil
}

// Commit enqueues cmd and waits for it to be applied. When ctx ends first the
// command may still be applied later.
func (c *LocalCommitter) Commit(ctx context.Context, cmd Command) (Outcome, error) {
	req := commitRequest{cmd: cmd, reply: make(chan commitResult, 1)}

	select {
	case <-c.done:
		return Outcome{}, ErrCommitterStopped
	default:
	}

	select {
	case c.queue <- req:
	case <-c.done:
		return Outcome{}, ErrCommitterStopped
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res.outcome, res.err
	case <-c.done:
		return Outcome{}, ErrCommitterStopped
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}
