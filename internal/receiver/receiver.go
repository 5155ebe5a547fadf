// Package receiver accepts node datagrams on UDP and feeds the frame store.
package receiver

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tphakala/dronenet-go/internal/conf"
	"github.com/tphakala/dronenet-go/internal/errors"
	"github.com/tphakala/dronenet-go/internal/logger"
	"github.com/tphakala/dronenet-go/internal/observability/metrics"
	"github.com/tphakala/dronenet-go/internal/packet"
	"github.com/tphakala/dronenet-go/internal/store"
)

const (
	// DefaultSweepInterval is how often liveness is re-evaluated.
	DefaultSweepInterval = time.Second
	// DefaultDedupWindow is how long a (node, seq) pair is remembered.
	DefaultDedupWindow = 5 * time.Second

	maxDatagramSize = 65535
)

// Config holds the listener settings.
type Config struct {
	Address        string
	OfflineTimeout time.Duration
	DedupWindow    time.Duration
	SweepInterval  time.Duration
}

// ConfigFromSettings builds a Config from the server settings.
func ConfigFromSettings(s *conf.ServerSettings) Config {
	return Config{
		Address:        s.Listen.Address(),
		OfflineTimeout: s.OfflineTimeout,
		DedupWindow:    s.DedupWindow,
		SweepInterval:  DefaultSweepInterval,
	}
}

// Receiver owns the UDP socket, the read goroutine and the liveness sweep.
type Receiver struct {
	cfg     Config
	store   *store.FrameStore
	metrics *metrics.ReceiverMetrics
	seen    *cache.Cache
	log     logger.Logger

	mu      sync.Mutex
	conn    net.PacketConn
	stop    chan struct{}
	wg      sync.WaitGroup
	running bool
}

// Option configures a Receiver.
type Option func(*Receiver)

// WithMetrics counts datagrams by outcome and tracks online nodes.
func WithMetrics(m *metrics.ReceiverMetrics) Option {
	return func(r *Receiver) { r.metrics = m }
}

// New creates a receiver writing into s.
func New(cfg Config, s *store.FrameStore, opts ...Option) *Receiver {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = DefaultDedupWindow
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	r := &Receiver{
		cfg:   cfg,
		store: s,
		// No janitor goroutine; the sweep loop purges expired entries.
		seen: cache.New(cfg.DedupWindow, 0),
		log:  GetLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start binds the socket and launches the read and sweep goroutines.
// Cancelling ctx has the same effect as Stop, minus the wait.
func (r *Receiver) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.Newf("receiver already running").
			Component("receiver").
			Category(errors.CategoryState).
			Build()
	}

	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", r.cfg.Address)
	if err != nil {
		return errors.New(err).
			Component("receiver").
			Category(errors.CategoryNetwork).
			Context("address", r.cfg.Address).
			Build()
	}

	r.conn = conn
	r.stop = make(chan struct{})
	r.running = true
	stop := r.stop

	r.wg.Go(func() { r.readLoop(conn, stop) })
	r.wg.Go(func() { r.sweepLoop(ctx, conn, stop) })

	r.log.Info("fusion receiver listening", logger.String("address", conn.LocalAddr().String()))
	return nil
}

// Addr returns the bound address, or nil before Start.
func (r *Receiver) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Stop closes the socket and waits for both goroutines.
func (r *Receiver) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	close(r.stop)
	err := r.conn.Close()
	r.mu.Unlock()

	r.wg.Wait()
	r.log.Info("fusion receiver stopped")
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (r *Receiver) readLoop(conn net.PacketConn, stop <-chan struct{}) {
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			r.log.Warn("udp read failed", logger.Error(err))
			continue
		}
		r.HandleDatagram(buf[:n], addr)
	}
}

func (r *Receiver) sweepLoop(ctx context.Context, conn net.PacketConn, stop <-chan struct{}) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			// Unblock the reader; Stop still owns the bookkeeping.
			_ = conn.Close()
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// HandleDatagram decodes one datagram and stores it. It returns the outcome
// label recorded in the metrics. Corrupt and malformed datagrams are dropped.
func (r *Receiver) HandleDatagram(data []byte, from net.Addr) string {
	f, err := packet.Decode(data)
	if err != nil {
		r.log.Warn("dropping invalid packet",
			logger.String("from", addrString(from)),
			logger.Int("size", len(data)),
			logger.Error(err))
		r.record(metrics.PacketCorrupt, len(data))
		return metrics.PacketCorrupt
	}

	key := fmt.Sprintf("%d:%d", f.NodeID, f.Seq)
	if err := r.seen.Add(key, struct{}{}, cache.DefaultExpiration); err != nil {
		r.log.Debug("duplicate packet",
			logger.Int("node_id", f.NodeID),
			logger.Int64("seq", f.Seq))
		r.record(metrics.PacketDuplicate, len(data))
		return metrics.PacketDuplicate
	}

	if prev, ok := r.store.Node(f.NodeID); !ok || !prev.Online {
		r.log.Info("node online",
			logger.Int("node_id", f.NodeID),
			logger.String("from", addrString(from)))
	}
	r.store.UpdateFrame(f)

	outcome := metrics.PacketAccepted
	if f.Heartbeat {
		outcome = metrics.PacketHeartbeat
	}
	r.record(outcome, len(data))
	if r.metrics != nil {
		r.metrics.RecordSeq(f.NodeID, f.Seq)
	}
	return outcome
}

// Sweep marks silent nodes offline and purges expired dedup entries.
func (r *Receiver) Sweep() {
	for _, id := range r.store.MarkOffline(r.cfg.OfflineTimeout) {
		r.log.Warn("node offline", logger.Int("node_id", id))
	}
	r.seen.DeleteExpired()

	if r.metrics != nil {
		online := 0
		for _, h := range r.store.NodeHealth() {
			if h.Online {
				online++
			}
		}
		r.metrics.SetNodesOnline(online)
	}
}

func (r *Receiver) record(outcome string, size int) {
	if r.metrics != nil {
		r.metrics.RecordPacket(outcome, size)
	}
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
