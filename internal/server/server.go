// Package server implements the dispatcher: for every client segment it
// spawns a pool of worker goroutines that pull requests off that
// client's request ring, execute them against one shared hash table,
// and push the result onto the same client's response ring.
package server

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/drgolem/shm-hashtable/internal/hashtable"
	"github.com/drgolem/shm-hashtable/internal/ipc"
	"github.com/drgolem/shm-hashtable/internal/wire"
)

// Key and Val are the compile-time key/value types for this deployment.
type (
	Key = uint32
	Val = uint32
)

// putRetryBackoff is how long a worker sleeps between BufferFull
// retries when pushing a response. Matches the reference implementation
// exactly so fill/drain races behave identically.
const putRetryBackoff = 10 * time.Microsecond

// segmentName returns the shared-memory name for a client index,
// matching the "hashtable-<client_id>" scheme spec.md §6 defines.
func segmentName(clientID uint64) string {
	return fmt.Sprintf("hashtable-%d", clientID)
}

// Config carries the three positional arguments the server CLI accepts.
type Config struct {
	BucketSize uint64
	Clients    uint64
	Threads    uint64
}

// Dispatcher owns the shared hash table and one queue pair per client.
type Dispatcher struct {
	table   *hashtable.Table[Key, Val]
	queues  []*ipc.QueuePair[Key, Val]
	threads uint64
	log     *zap.Logger
}

// New constructs the hash table and creates one shared-memory segment
// per client. If segment creation fails partway through, segments
// already created are unlinked before the error is returned.
func New(cfg Config, log *zap.Logger) (*Dispatcher, error) {
	table, err := hashtable.New[Key, Val](cfg.BucketSize)
	if err != nil {
		return nil, fmt.Errorf("server: creating hash table: %w", err)
	}

	queues := make([]*ipc.QueuePair[Key, Val], 0, cfg.Clients)
	for clientID := uint64(0); clientID < cfg.Clients; clientID++ {
		name := segmentName(clientID)
		q, err := ipc.NewServer[Key, Val](name)
		if err != nil {
			for _, created := range queues {
				_ = created.Stop()
			}
			return nil, fmt.Errorf("server: creating segment %q: %w", name, err)
		}
		queues = append(queues, q)
		log.Debug("created client segment", zap.String("segment", name))
	}

	return &Dispatcher{table: table, queues: queues, threads: cfg.Threads, log: log}, nil
}

// Run spawns Threads worker goroutines per client queue and blocks until
// ctx is cancelled, then returns immediately without waiting for workers
// to drain. A worker parked inside a blocking Get on an empty ring has
// no way to observe cancellation, so waiting for it would make shutdown
// hang indefinitely; the reference implementation has the same property
// (it never joins its spawned threads, relying on process exit to
// reclaim them), which spec.md §5's "no timeouts, no cancellation"
// suspension model and §9's crash-recovery notes both anticipate.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for clientIdx, q := range d.queues {
		q := q
		clientIdx := clientIdx
		for workerIdx := uint64(0); workerIdx < d.threads; workerIdx++ {
			workerIdx := workerIdx
			g.Go(func() error {
				d.worker(gctx, q, clientIdx, int(workerIdx))
				return nil
			})
		}
	}

	<-ctx.Done()
	return nil
}

// worker loops forever servicing one client's request ring.
func (d *Dispatcher) worker(ctx context.Context, q *ipc.QueuePair[Key, Val], clientIdx, workerIdx int) {
	log := d.log.With(zap.Int("client", clientIdx), zap.Int("worker", workerIdx))

	for {
		if ctx.Err() != nil {
			return
		}

		req, err := q.RequestGet()
		if err != nil {
			log.Error("request get failed", zap.Error(err))
			continue
		}

		resp := d.execute(req)

		for {
			err := q.ResponsePut(resp)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			time.Sleep(putRetryBackoff)
		}
	}
}

// execute runs one request against the shared table and builds the
// matching response, per spec.md §4.D's response-construction rules.
func (d *Dispatcher) execute(req wire.Request[Key, Val]) wire.Response[Key, Val] {
	switch req.Operation {
	case wire.OpRead:
		val, ok := d.table.Read(req.Key)
		return wire.Response[Key, Val]{
			Operation: wire.OpRead,
			Error:     !ok,
			Key:       req.Key,
			Val:       val,
			Counter:   req.Counter,
		}

	case wire.OpInsert:
		err := d.table.Add(req.Key, req.Val)
		return wire.Response[Key, Val]{
			Operation: wire.OpInsert,
			Error:     err != nil,
			Key:       req.Key,
			Val:       req.Val,
			Counter:   req.Counter,
		}

	case wire.OpDelete:
		err := d.table.Delete(req.Key)
		return wire.Response[Key, Val]{
			Operation: wire.OpDelete,
			Error:     err != nil,
			Key:       req.Key,
			Val:       0,
			Counter:   req.Counter,
		}

	default:
		return wire.Response[Key, Val]{Operation: req.Operation, Error: true, Key: req.Key, Counter: req.Counter}
	}
}

// Shutdown unlinks every client segment. It should be called once, after
// Run's context has been cancelled.
func (d *Dispatcher) Shutdown() error {
	var firstErr error
	for _, q := range d.queues {
		if err := q.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
