package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"Go2NetFlow/internal/config"
	"Go2NetFlow/internal/engine/impl/flow"
	"Go2NetFlow/internal/engine/impl/flow/statistic"
	"Go2NetFlow/internal/factory"
	"Go2NetFlow/internal/metrics"
	"Go2NetFlow/internal/model"
)

// dispatched is an observation routed to a worker together with its flow key.
type dispatched struct {
	key statistic.Key
	obs *model.Observation
}

// Manager shards observations over a pool of workers, each owning a private flow table,
// and hands the merged table to the configured writers once ingestion stops.
type Manager struct {
	cfg     *config.Config
	writers []model.Writer
	metrics *metrics.Metrics

	packetChannel chan *model.Observation
	inputs        []chan dispatched
	tables        []*flow.Table
	numWorkers    int
	dispatchWg    sync.WaitGroup
	workerWg      sync.WaitGroup

	stopOnce sync.Once
	result   *flow.Table
	stopErr  error
}

// NewManager creates a manager whose writers are built from the config.
func NewManager(cfg *config.Config, m *metrics.Metrics) (*Manager, error) {
	writers, err := factory.Create(cfg)
	if err != nil {
		return nil, err
	}
	return NewManagerWithWriters(cfg, writers, m), nil
}

// NewManagerWithWriters creates a manager that persists into the given writers.
// A nil m gets unregistered metrics.
func NewManagerWithWriters(cfg *config.Config, writers []model.Writer, m *metrics.Metrics) *Manager {
	if m == nil {
		m = metrics.New(nil)
	}
	numWorkers := cfg.Manager.NumWorkers
	if numWorkers <= 0 {
		numWorkers = 1
	}
	mgr := &Manager{
		cfg:           cfg,
		writers:       writers,
		metrics:       m,
		packetChannel: make(chan *model.Observation, cfg.Manager.SizeOfPacketChannel),
		inputs:        make([]chan dispatched, numWorkers),
		tables:        make([]*flow.Table, numWorkers),
		numWorkers:    numWorkers,
	}
	for i := 0; i < numWorkers; i++ {
		mgr.inputs[i] = make(chan dispatched, cfg.Manager.SizeOfPacketChannel)
		mgr.tables[i] = flow.NewTableFromConfig(cfg)
	}
	return mgr
}

// Start begins the dispatcher and the worker pool.
func (m *Manager) Start() {
	m.workerWg.Add(m.numWorkers)
	for i := 0; i < m.numWorkers; i++ {
		go m.worker(m.inputs[i], m.tables[i])
	}
	m.dispatchWg.Add(1)
	go m.dispatch()
	log.Printf("Manager started with %d workers.", m.numWorkers)
}

// InputChannel returns the channel observations are submitted on.
// It is closed by Stop and must not be written to afterwards.
func (m *Manager) InputChannel() chan<- *model.Observation {
	return m.packetChannel
}

// dispatch routes each observation to the worker owning its flow, so both
// orientations of a flow are ingested by the same worker in submission order.
func (m *Manager) dispatch() {
	defer m.dispatchWg.Done()
	for obs := range m.packetChannel {
		m.metrics.PacketsReceived.Inc()
		if !m.cfg.AcceptsTransport(obs.FiveTuple.Protocol) {
			m.metrics.PacketsFiltered.Inc()
			continue
		}
		key, err := statistic.KeyFromTuple(obs.FiveTuple)
		if err != nil {
			m.metrics.IngestErrors.Inc()
			log.Printf("Error routing packet %d: %v", obs.Packet.Position, err)
			continue
		}
		m.inputs[key.Hash()%uint64(m.numWorkers)] <- dispatched{key: key, obs: obs}
	}
	for _, input := range m.inputs {
		close(input)
	}
}

func (m *Manager) worker(input <-chan dispatched, table *flow.Table) {
	defer m.workerWg.Done()
	for d := range input {
		var before uint64
		existing, existed := table.Get(d.key)
		if existed {
			before = existing.OutOfOrder()
		}

		record, err := table.Ingest(*d.obs)
		if err != nil {
			m.metrics.IngestErrors.Inc()
			log.Printf("Error ingesting packet: %v", err)
			continue
		}
		m.metrics.PacketsIngested.Inc()
		if !existed {
			m.metrics.FlowsCreated.Inc()
		}
		if record.OutOfOrder() > before {
			m.metrics.OutOfOrder.Inc()
		}
	}
}

// Stop closes the input, waits for the workers to drain, merges the shard tables
// and writes the result to every writer. The merged table is returned even when
// some writers failed; their errors are joined. Calling Stop again returns the same result.
func (m *Manager) Stop(ctx context.Context) (*flow.Table, error) {
	m.stopOnce.Do(func() {
		m.result, m.stopErr = m.stop(ctx)
	})
	return m.result, m.stopErr
}

func (m *Manager) stop(ctx context.Context) (*flow.Table, error) {
	log.Println("Manager stopping...")
	// 1. Stop accepting new packets.
	close(m.packetChannel)
	m.dispatchWg.Wait()

	// 2. Wait for all workers to finish processing buffered packets.
	log.Println("Waiting for workers to finish...")
	m.workerWg.Wait()

	// 3. Close open bursts and merge the disjoint shard tables.
	merged := flow.NewTableFromConfig(m.cfg)
	for i, table := range m.tables {
		table.Finalize()
		if err := merged.Merge(table); err != nil {
			return nil, fmt.Errorf("failed to merge worker %d table: %w", i, err)
		}
	}
	flows, packets, bytes := merged.Totals()
	m.metrics.Flows.Set(float64(flows))
	log.Printf("Merged %d flows, %d packets, %d bytes from %d workers.", flows, packets, bytes, m.numWorkers)

	// 4. Hand the table to every writer once.
	errs := m.write(ctx, merged)

	// 5. Release writer connections.
	for _, w := range m.writers {
		if closer, ok := w.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				log.Printf("Error closing writer %s: %v", w.Name(), err)
			}
		}
	}

	log.Println("Manager stopped.")
	return merged, errs
}

func (m *Manager) write(ctx context.Context, table *flow.Table) error {
	timestamp := time.Now().Format(flow.SnapshotTimeLayout)
	log.Printf("Writing flow table at %s to %d writers.", timestamp, len(m.writers))

	var errs []error
	for _, w := range m.writers {
		start := time.Now()
		err := w.Write(ctx, table, timestamp)
		m.metrics.WriteDurations.WithLabelValues(w.Name()).Observe(time.Since(start).Seconds())
		if err != nil {
			log.Printf("Error writing flow table with writer %s: %v", w.Name(), err)
			errs = append(errs, fmt.Errorf("writer %s: %w", w.Name(), err))
		}
	}
	return errors.Join(errs...)
}
