package client

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/drgolem/shm-hashtable/internal/ipc"
	"github.com/drgolem/shm-hashtable/internal/ring"
	"github.com/drgolem/shm-hashtable/internal/wire"
)

// submitRetryBackoff matches the reference implementation's fixed
// backoff when the request ring reports BufferFull.
const submitRetryBackoff = 10 * time.Microsecond

// Driver holds an attached queue pair and submits/drains a scripted
// sequence of operations against it.
type Driver struct {
	queue *ipc.QueuePair[uint32, uint32]
	log   *zap.Logger
}

// Connect opens the existing segment named "hashtable-<clientID>". It
// fails if the server has not created that segment yet.
func Connect(clientID string, log *zap.Logger) (*Driver, error) {
	q, err := ipc.NewClient[uint32, uint32]("hashtable-" + clientID)
	if err != nil {
		return nil, fmt.Errorf("client: attaching to segment: %w", err)
	}
	return &Driver{queue: q, log: log}, nil
}

// Run submits ops in order from the calling goroutine while a
// background goroutine drains exactly len(ops) responses. It returns
// once every response has been consumed.
func (d *Driver) Run(ops []Operation) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.drain(len(ops))
	}()

	for counter, op := range ops {
		req := wire.Request[uint32, uint32]{
			Operation: op.Kind,
			Key:       op.Key,
			Val:       op.Value,
			Counter:   uint64(counter),
		}
		d.submit(req)
	}

	<-done
}

// submit enqueues req, retrying with a fixed backoff while the request
// ring reports BufferFull. Any other error aborts this request; the
// client does not retry other error classes, matching spec.md §7.
func (d *Driver) submit(req wire.Request[uint32, uint32]) {
	for {
		err := d.queue.RequestPut(req)
		if err == nil {
			return
		}
		if errors.Is(err, ring.ErrBufferFull) {
			time.Sleep(submitRetryBackoff)
			continue
		}
		d.log.Error("failed to submit request", zap.Error(err))
		fmt.Fprintln(os.Stderr, "Something went wrong while trying to write to buffer")
		return
	}
}

// drain consumes exactly count responses, printing successful reads to
// stdout and logging every failure to stderr.
func (d *Driver) drain(count int) {
	for i := 0; i < count; i++ {
		resp, err := d.queue.ResponseGet()
		if err != nil {
			d.log.Error("failed to get response back from server", zap.Error(err))
			fmt.Fprintln(os.Stderr, "Failed to get response back from server")
			continue
		}

		if resp.Error {
			fmt.Fprintln(os.Stderr, "Failed to do the given operation")
			continue
		}

		if resp.Operation == wire.OpRead {
			fmt.Printf("Key: %d, Value: %d\n", resp.Key, resp.Val)
		}
	}
}
