package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Monitor watches a workload and reports when it exits. Exit is reported
// once on the returned channel; the hub never restarts a crashed backend on
// its own initiative.
type Monitor struct {
	deployer Deployer
	handle   *Handle
	interval time.Duration

	stopCh  chan struct{}
	errorCh chan error
	wg      sync.WaitGroup
	running bool
	mutex   sync.Mutex
}

// defaultCheckInterval is how often the monitor polls the deployer.
const defaultCheckInterval = 5 * time.Second

// NewMonitor creates a monitor for the given workload handle.
func NewMonitor(deployer Deployer, handle *Handle) *Monitor {
	return &Monitor{
		deployer: deployer,
		handle:   handle,
		interval: defaultCheckInterval,
		stopCh:   make(chan struct{}),
		errorCh:  make(chan error, 1), // Buffered to prevent blocking
	}
}

// WithInterval overrides the poll interval. Intended for tests.
func (m *Monitor) WithInterval(interval time.Duration) *Monitor {
	m.interval = interval
	return m
}

// Start begins monitoring the workload and returns the channel exit errors
// are delivered on.
func (m *Monitor) Start(ctx context.Context) (<-chan error, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.running {
		return m.errorCh, nil // Already monitoring
	}

	running, err := m.deployer.IsRunning(ctx, m.handle)
	if err != nil {
		return nil, err
	}
	if !running {
		return nil, fmt.Errorf("%w: %s", ErrWorkloadNotRunning, m.handle.Name)
	}

	m.running = true
	m.wg.Add(1)
	go m.monitor(ctx)

	return m.errorCh, nil
}

// Stop stops monitoring the workload. Safe to call multiple times.
func (m *Monitor) Stop() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.running {
		return
	}

	close(m.stopCh)
	m.wg.Wait()
	m.running = false
}

func (m *Monitor) monitor(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, m.interval)
			running, err := m.deployer.IsRunning(checkCtx, m.handle)
			cancel()
			if err != nil {
				// Transient runtime errors are not exit evidence; keep polling.
				continue
			}
			if !running {
				m.errorCh <- fmt.Errorf("%w: %s", ErrWorkloadExited, m.handle.Name)
				return
			}
		}
	}
}
