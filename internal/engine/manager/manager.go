package manager

import (
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/engine/collector"
	"FlowSpectra/internal/factory"
	"FlowSpectra/internal/metrics"
	"FlowSpectra/internal/model"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

const writerQueueSize = 16

// Options tune the export cycle.
type Options struct {
	Interval    time.Duration
	ChannelSize int
	// PacketTime exports on packet timestamps instead of the wall clock,
	// for offline replay.
	PacketTime bool
	Clock      clock.Clock
}

// Manager feeds packets to the collectors from a single worker and
// exports their statistics periodically to the writers.
type Manager struct {
	collectors []model.Collector
	writers    []model.Writer
	opts       Options

	packetChannel chan *model.PacketInfo
	done          chan struct{}
	workerWg      sync.WaitGroup
	exporterWg    sync.WaitGroup

	// One queue per writer so a slow sink does not stall exports.
	queues   []chan []*model.Snapshot
	writerWg sync.WaitGroup

	mu        sync.RWMutex
	latest    map[string]*model.Snapshot
	listeners []func([]*model.Snapshot)

	// Owned by the worker in packet time mode.
	periodStart time.Time
	lastPacket  time.Time
	// Owned by the exporter in wall clock mode.
	lastExport time.Time
}

// NewManager creates the collectors and writers enabled in cfg.
func NewManager(cfg *config.Config, resolver collector.Resolver, packetTime bool) (*Manager, error) {
	settings, err := factory.Settings(cfg, resolver)
	if err != nil {
		return nil, err
	}
	collectors, err := factory.CreateCollectors(cfg, settings)
	if err != nil {
		return nil, err
	}
	writers, err := factory.CreateWriters(cfg)
	if err != nil {
		return nil, err
	}

	interval := config.Duration(cfg.Exporter.Interval)
	if interval <= 0 {
		factory.CloseWriters(writers)
		return nil, fmt.Errorf("exporter interval must be a positive duration")
	}

	return New(collectors, writers, Options{
		Interval:    interval,
		ChannelSize: cfg.Capture.SizeOfPacketChannel,
		PacketTime:  packetTime,
	}), nil
}

// New creates a manager over already built collectors and writers.
func New(collectors []model.Collector, writers []model.Writer, opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	return &Manager{
		collectors:    collectors,
		writers:       writers,
		opts:          opts,
		packetChannel: make(chan *model.PacketInfo, opts.ChannelSize),
		done:          make(chan struct{}),
		latest:        make(map[string]*model.Snapshot),
	}
}

// Collectors returns the managed collectors.
func (m *Manager) Collectors() []model.Collector {
	return m.collectors
}

// Collector returns the collector with the given name.
func (m *Manager) Collector(name string) (model.Collector, bool) {
	for _, c := range m.collectors {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// Latest returns the most recent snapshot of a collector.
func (m *Manager) Latest(name string) (*model.Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.latest[name]
	return s, ok
}

// OnExport registers fn to be called with the snapshots of every export.
// It must be called before Start.
func (m *Manager) OnExport(fn func([]*model.Snapshot)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// InputChannel is where the capture sends parsed packets.
func (m *Manager) InputChannel() chan<- *model.PacketInfo {
	return m.packetChannel
}

// Start begins the packet worker, the export loop and one loop per writer.
func (m *Manager) Start() {
	m.queues = make([]chan []*model.Snapshot, len(m.writers))
	for i, w := range m.writers {
		m.queues[i] = make(chan []*model.Snapshot, writerQueueSize)
		m.writerWg.Add(1)
		go m.runWriter(w, m.queues[i])
		log.Printf("Started writer '%s'", w.Name())
	}

	if !m.opts.PacketTime {
		m.lastExport = m.opts.Clock.Now()
		ticker := m.opts.Clock.Ticker(m.opts.Interval)
		m.exporterWg.Add(1)
		go m.runExporter(ticker)
		log.Printf("Started exporter with interval %s", m.opts.Interval)
	}

	m.workerWg.Add(1)
	go m.worker()
	log.Printf("Manager started with %d collectors.", len(m.collectors))
}

// Stop drains buffered packets, runs a final export and closes the writers.
func (m *Manager) Stop() error {
	log.Println("Manager stopping...")
	close(m.packetChannel)
	m.workerWg.Wait()

	close(m.done)
	m.exporterWg.Wait()
	if m.opts.PacketTime && !m.periodStart.IsZero() {
		m.exportAll(m.lastPacket, seconds(m.lastPacket.Sub(m.periodStart)))
	}

	for _, q := range m.queues {
		close(q)
	}
	m.writerWg.Wait()

	err := factory.CloseWriters(m.writers)
	log.Println("Manager stopped.")
	return err
}

func (m *Manager) worker() {
	defer m.workerWg.Done()
	for pkt := range m.packetChannel {
		m.process(pkt)
	}
}

func (m *Manager) process(pkt *model.PacketInfo) {
	for _, c := range m.collectors {
		c.AdvanceTick(pkt.Timestamp)
		c.ProcessPacket(pkt)
	}
	if !m.opts.PacketTime {
		return
	}

	if pkt.Timestamp.After(m.lastPacket) {
		m.lastPacket = pkt.Timestamp
	}
	if m.periodStart.IsZero() {
		m.periodStart = pkt.Timestamp
		return
	}
	if elapsed := m.lastPacket.Sub(m.periodStart); elapsed >= m.opts.Interval {
		m.exportAll(m.lastPacket, seconds(elapsed))
		m.periodStart = m.lastPacket
	}
}

func (m *Manager) runExporter(ticker *clock.Ticker) {
	defer m.exporterWg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.exportNow()
		case <-m.done:
			m.exportNow()
			log.Println("Exporter shutting down.")
			return
		}
	}
}

// exportNow also advances every collector to the wall clock so timers
// fire on a quiet interface.
func (m *Manager) exportNow() {
	now := m.opts.Clock.Now()
	for _, c := range m.collectors {
		c.AdvanceTick(now)
	}
	duration := seconds(now.Sub(m.lastExport))
	m.lastExport = now
	m.exportAll(now, duration)
}

// exportAll runs one export cycle on every collector and hands the
// snapshots to the writers, the listeners and the latest table.
func (m *Manager) exportAll(now time.Time, duration int) {
	snapshots := make([]*model.Snapshot, 0, len(m.collectors))
	for _, c := range m.collectors {
		start := time.Now()
		snap := c.Export(now, duration)
		metrics.ExportDuration.WithLabelValues(c.Name()).Observe(time.Since(start).Seconds())
		metrics.Exports.WithLabelValues(c.Name()).Inc()
		metrics.LiveFlows.WithLabelValues(c.Name()).Set(float64(c.LiveFlows()))
		snapshots = append(snapshots, snap)
	}

	m.mu.Lock()
	for _, s := range snapshots {
		m.latest[s.Collector] = s
	}
	listeners := m.listeners
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshots)
	}

	for i, q := range m.queues {
		select {
		case q <- snapshots:
		default:
			log.WithFields(log.Fields{"writer": m.writers[i].Name()}).Warn("Writer queue full, dropping snapshots")
			metrics.WriterErrors.WithLabelValues(m.writers[i].Name()).Inc()
		}
	}
}

func (m *Manager) runWriter(w model.Writer, queue <-chan []*model.Snapshot) {
	defer m.writerWg.Done()
	for snapshots := range queue {
		var err error
		for _, s := range snapshots {
			err = multierr.Append(err, w.Write(s))
		}
		if err != nil {
			metrics.WriterErrors.WithLabelValues(w.Name()).Inc()
			log.WithFields(log.Fields{"writer": w.Name()}).Errorf("Error writing snapshots: %v", err)
		}
	}
}

// seconds rounds a period to whole seconds, at least one.
func seconds(d time.Duration) int {
	return max(1, int(d.Round(time.Second)/time.Second))
}
