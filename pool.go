package html2pdf

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Pool sizing constants.
const (
	// MinPoolSize ensures at least one browser is available.
	MinPoolSize = 1

	// MaxPoolSize caps auto-sized pools to limit memory (~200MB per browser).
	MaxPoolSize = 8

	// DefaultPoolSize is used by the server when nothing is configured.
	DefaultPoolSize = 3

	// cpuDivisor leaves headroom for Chrome child processes.
	cpuDivisor = 2

	defaultPingTimeout = 5 * time.Second
)

// InstanceState tags the last known condition of a pooled browser.
type InstanceState int32

// Instance states.
const (
	StateStarting InstanceState = iota
	StateReady
	StateDegraded
	StateClosed
)

func (s InstanceState) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StateReady:
		return "READY"
	case StateDegraded:
		return "DEGRADED"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// MarshalText renders the state name in JSON payloads.
func (s InstanceState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Instance is a pooled browser. The pool owns it; requests borrow it between
// Acquire and Release and may share it with other requests.
type Instance struct {
	id     int
	engine Engine
	state  atomic.Int32
}

// ID returns the pool slot of the instance.
func (i *Instance) ID() int { return i.id }

// Engine returns the browser behind the instance.
func (i *Instance) Engine() Engine { return i.engine }

// State returns the last recorded state.
func (i *Instance) State() InstanceState { return InstanceState(i.state.Load()) }

func (i *Instance) setState(s InstanceState) {
	// CLOSED is terminal.
	for {
		cur := i.state.Load()
		if InstanceState(cur) == StateClosed || cur == int32(s) {
			return
		}
		if i.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

// InstanceStatus is a health snapshot of one instance.
type InstanceStatus struct {
	ID    int           `json:"id"`
	State InstanceState `json:"state"`
	Error string        `json:"error,omitempty"`
}

// Pool hands browser instances to the rendering pipeline.
type Pool interface {
	Acquire() (*Instance, error)
	Release(inst *Instance, renderErr error)
	HealthCheck(ctx context.Context) []InstanceStatus
}

var _ Pool = (*BrowserPool)(nil)

// BrowserPool is a fixed set of browsers handed out in round robin.
//
// Acquisition never blocks and never looks at instance health: a crashed
// browser is still returned and its failure surfaces from whichever render
// stage touches it. States are bookkeeping for HealthCheck and metrics.
type BrowserPool struct {
	logger      *zap.Logger
	pingTimeout time.Duration

	mu        sync.Mutex
	instances []*Instance
	cursor    int
	closed    bool
}

// PoolOption configures a BrowserPool.
type PoolOption func(*BrowserPool)

// WithPoolLogger sets the pool logger.
func WithPoolLogger(l *zap.Logger) PoolOption {
	return func(p *BrowserPool) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithPingTimeout bounds each health probe.
func WithPingTimeout(d time.Duration) PoolOption {
	return func(p *BrowserPool) {
		if d > 0 {
			p.pingTimeout = d
		}
	}
}

// NewBrowserPool launches size browsers one after the other. Startup is all
// or nothing: if any launch fails, the browsers already running are closed
// and a *StartupError is returned.
func NewBrowserPool(ctx context.Context, size int, launch LaunchFunc, opts ...PoolOption) (*BrowserPool, error) {
	if size < MinPoolSize {
		return nil, &StartupError{Index: 0, Err: ErrEmptyPool}
	}

	p := &BrowserPool{
		logger:      zap.NewNop(),
		pingTimeout: defaultPingTimeout,
		instances:   make([]*Instance, 0, size),
	}
	for _, opt := range opts {
		opt(p)
	}

	for i := range size {
		inst := &Instance{id: i}
		inst.state.Store(int32(StateStarting))

		start := time.Now()
		engine, err := launch(ctx, i)
		if err != nil {
			p.logger.Error("browser launch failed", zap.Int("instance", i), zap.Error(err))
			_ = p.Close()
			return nil, &StartupError{Index: i, Err: err}
		}
		inst.engine = engine
		inst.setState(StateReady)
		p.instances = append(p.instances, inst)
		p.logger.Info("browser started", zap.Int("instance", i), zap.Duration("elapsed", time.Since(start)))
	}
	return p, nil
}

// Acquire returns the instance under the cursor and advances it.
func (p *BrowserPool) Acquire() (*Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}
	if len(p.instances) == 0 {
		return nil, ErrEmptyPool
	}
	inst := p.instances[p.cursor]
	p.cursor = (p.cursor + 1) % len(p.instances)
	return inst, nil
}

// Release records the outcome of a render on inst. Failures to open a
// context point at the browser itself and mark it DEGRADED; any success
// marks it READY again. Document-level failures leave the state alone.
func (p *BrowserPool) Release(inst *Instance, renderErr error) {
	if inst == nil {
		return
	}
	switch {
	case renderErr == nil:
		inst.setState(StateReady)
	case errors.Is(renderErr, ErrPageCreate), errors.Is(renderErr, ErrBrowserConnect):
		if inst.State() != StateDegraded {
			p.logger.Warn("browser degraded", zap.Int("instance", inst.id), zap.Error(renderErr))
		}
		inst.setState(StateDegraded)
	}
}

// HealthCheck pings every instance and updates its state.
func (p *BrowserPool) HealthCheck(ctx context.Context) []InstanceStatus {
	instances := p.snapshot()
	statuses := make([]InstanceStatus, len(instances))

	var wg sync.WaitGroup
	for i, inst := range instances {
		wg.Add(1)
		go func() {
			defer wg.Done()
			statuses[i] = p.probe(ctx, inst)
		}()
	}
	wg.Wait()
	return statuses
}

func (p *BrowserPool) probe(ctx context.Context, inst *Instance) InstanceStatus {
	if inst.State() == StateClosed {
		return InstanceStatus{ID: inst.id, State: StateClosed}
	}

	pingCtx, cancel := context.WithTimeout(ctx, p.pingTimeout)
	defer cancel()

	status := InstanceStatus{ID: inst.id}
	if err := inst.engine.Ping(pingCtx); err != nil {
		inst.setState(StateDegraded)
		status.Error = err.Error()
	} else {
		inst.setState(StateReady)
	}
	status.State = inst.State()
	return status
}

// Statuses returns the recorded states without probing.
func (p *BrowserPool) Statuses() []InstanceStatus {
	instances := p.snapshot()
	statuses := make([]InstanceStatus, len(instances))
	for i, inst := range instances {
		statuses[i] = InstanceStatus{ID: inst.id, State: inst.State()}
	}
	return statuses
}

func (p *BrowserPool) snapshot() []*Instance {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Instance(nil), p.instances...)
}

// Size returns the number of instances.
func (p *BrowserPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.instances)
}

// Close shuts every browser down. It keeps going past failures and returns
// them joined; callers usually just log the result. Later calls are no-ops.
func (p *BrowserPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	instances := p.instances
	p.mu.Unlock()

	var errs []error
	for _, inst := range instances {
		inst.setState(StateClosed)
		if inst.engine == nil {
			continue
		}
		if err := inst.engine.Close(); err != nil {
			p.logger.Debug("closing browser", zap.Int("instance", inst.id), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ResolvePoolSize determines the pool size.
// Priority: explicit value > GOMAXPROCS-based calculation.
func ResolvePoolSize(size int) int {
	if size > 0 {
		return size
	}

	// GOMAXPROCS is adjusted by automaxprocs for containers.
	n := runtime.GOMAXPROCS(0) / cpuDivisor
	if n < MinPoolSize {
		return MinPoolSize
	}
	if n > MaxPoolSize {
		return MaxPoolSize
	}
	return n
}
