// Package connpool implements the Connection Pool: reusable guest-command
// channels keyed by VM id, with idle TTL and max-usage recycling.
package connpool

import (
	"context"
	"sync"
	"time"

	"github.com/sandraschi/virtualization-mcp/internal/toolregistry"
)

// Channel is the guest-command channel a Connection wraps. Production code
// supplies a real implementation (e.g. a guest-exec or VRDE socket); tests
// supply a fake.
type Channel interface {
	Close() error
}

// Connection is one pooled, reusable guest-command channel.
type Connection struct {
	VMID      string
	Channel   Channel
	CreatedAt time.Time
	LastUsed  time.Time
	UseCount  int
	MaxUsage  int
	poisoned  bool
}

// Expired reports whether c has outlived idleTTL or exhausted its use budget.
func (c *Connection) Expired(now time.Time, idleTTL time.Duration) bool {
	if c.poisoned {
		return true
	}
	if c.UseCount >= c.MaxUsage {
		return true
	}
	return now.Sub(c.LastUsed) > idleTTL
}

// Poison marks a connection as unfit for reuse, typically after an operation
// through it failed.
func (c *Connection) Poison() { c.poisoned = true }

// Factory creates a new Channel for a VM, e.g. opening a guest-exec session.
type Factory func(ctx context.Context, vmID string) (Channel, error)

// Config bounds pool behavior.
type Config struct {
	MaxSize         int
	MaxUsage        int
	IdleTTL         time.Duration
	CleanupInterval time.Duration
	AcquireWait     time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = 20
	}
	if c.MaxUsage <= 0 {
		c.MaxUsage = 100
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 300 * time.Second
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 60 * time.Second
	}
	if c.AcquireWait <= 0 {
		c.AcquireWait = 5 * time.Second
	}
	return c
}

// Pool is the process-wide connection pool singleton.
type Pool struct {
	cfg     Config
	factory Factory

	mu      sync.Mutex
	idle    map[string][]*Connection // per-VM idle connections
	total   int                      // total live connections (idle + in-use)
	waiters chan struct{}            // counting semaphore: one slot per MaxSize

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs a Pool and starts its background sweeper.
func New(cfg Config, factory Factory) *Pool {
	cfg = cfg.withDefaults()
	p := &Pool{
		cfg:     cfg,
		factory: factory,
		idle:    make(map[string][]*Connection),
		waiters: make(chan struct{}, cfg.MaxSize),
		stopCh:  make(chan struct{}),
	}
	go p.sweepLoop()
	return p
}

// Acquire returns an idle, still-valid connection for vmID or creates a new
// one, blocking up to AcquireWait if the pool is at MaxSize.
func (p *Pool) Acquire(ctx context.Context, vmID string) (*Connection, error) {
	select {
	case p.waiters <- struct{}{}:
	case <-time.After(p.cfg.AcquireWait):
		return nil, toolregistry.NewError(toolregistry.KindPoolExhausted, "connection pool exhausted: no slot within acquire_wait")
	case <-ctx.Done():
		return nil, toolregistry.NewError(toolregistry.KindCancelled, "acquire cancelled")
	}

	p.mu.Lock()
	now := time.Now()
	bucket := p.idle[vmID]
	for len(bucket) > 0 {
		conn := bucket[len(bucket)-1]
		bucket = bucket[:len(bucket)-1]
		p.idle[vmID] = bucket
		if conn.Expired(now, p.cfg.IdleTTL) {
			p.total--
			_ = conn.Channel.Close()
			continue
		}
		p.mu.Unlock()
		return conn, nil
	}
	p.mu.Unlock()

	ch, err := p.factory(ctx, vmID)
	if err != nil {
		<-p.waiters
		return nil, err
	}
	p.mu.Lock()
	p.total++
	p.mu.Unlock()
	return &Connection{
		VMID:      vmID,
		Channel:   ch,
		CreatedAt: now,
		LastUsed:  now,
		MaxUsage:  p.cfg.MaxUsage,
	}, nil
}

// Release returns conn to the pool unless it is poisoned or has exceeded its
// usage/idle budget, in which case it is closed and the slot freed.
func (p *Pool) Release(conn *Connection) {
	conn.UseCount++
	conn.LastUsed = time.Now()

	p.mu.Lock()
	if conn.Expired(conn.LastUsed, p.cfg.IdleTTL) {
		p.total--
		p.mu.Unlock()
		_ = conn.Channel.Close()
		<-p.waiters
		return
	}
	p.idle[conn.VMID] = append(p.idle[conn.VMID], conn)
	p.mu.Unlock()
	<-p.waiters
}

// Close closes and discards every pooled connection for vmID, e.g. on VM
// stop/delete.
func (p *Pool) Close(vmID string) {
	p.mu.Lock()
	bucket := p.idle[vmID]
	delete(p.idle, vmID)
	p.total -= len(bucket)
	p.mu.Unlock()

	for _, conn := range bucket {
		_ = conn.Channel.Close()
	}
}

// Shutdown stops the sweeper and closes every pooled connection.
func (p *Pool) Shutdown() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.mu.Lock()
	all := p.idle
	p.idle = make(map[string][]*Connection)
	p.mu.Unlock()
	for _, bucket := range all {
		for _, conn := range bucket {
			_ = conn.Channel.Close()
		}
	}
}

func (p *Pool) sweepLoop() {
	ticker := time.NewTicker(p.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sweepOnce(time.Now())
		}
	}
}

func (p *Pool) sweepOnce(now time.Time) {
	p.mu.Lock()
	var toClose []*Connection
	for vmID, bucket := range p.idle {
		kept := bucket[:0]
		for _, conn := range bucket {
			if conn.Expired(now, p.cfg.IdleTTL) {
				toClose = append(toClose, conn)
				p.total--
				continue
			}
			kept = append(kept, conn)
		}
		if len(kept) == 0 {
			delete(p.idle, vmID)
		} else {
			p.idle[vmID] = kept
		}
	}
	p.mu.Unlock()

	for _, conn := range toClose {
		_ = conn.Channel.Close()
	}
}
