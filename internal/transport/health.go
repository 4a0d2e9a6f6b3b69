package transport

import (
	"context"
	"sync"
	"time"
)

const (
	defaultCheckInterval = 30 * time.Second
	defaultCheckTimeout  = 10 * time.Second
	unhealthyThreshold   = 3
)

// HealthStatus represents the current health state of a transport.
type HealthStatus struct {
	Healthy             bool
	LastCheck           time.Time
	ConsecutiveFailures int
	LastError           string
}

// HealthChecker periodically checks a transport and caches the result so
// readiness checks never open a mail server connection themselves.
type HealthChecker struct {
	mu            sync.RWMutex
	transport     Transport
	status        HealthStatus
	checked       bool
	checkInterval time.Duration
	checkTimeout  time.Duration
	stopCh        chan struct{}
	stopped       chan struct{}
}

// NewHealthChecker creates a health checker for t.
func NewHealthChecker(t Transport) *HealthChecker {
	return &HealthChecker{
		transport:     t,
		status:        HealthStatus{Healthy: true},
		checkInterval: defaultCheckInterval,
		checkTimeout:  defaultCheckTimeout,
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
}

// Start begins the background health check loop.
func (hc *HealthChecker) Start() {
	go hc.run()
}

// Stop signals the health check loop to terminate and waits for it to finish.
func (hc *HealthChecker) Stop() {
	close(hc.stopCh)
	<-hc.stopped
}

// IsHealthy reports whether the transport is considered reachable. A
// transport that has not been checked yet is unhealthy.
func (hc *HealthChecker) IsHealthy() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.checked && hc.status.Healthy
}

// Status returns a snapshot of the health status.
func (hc *HealthChecker) Status() HealthStatus {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.status
}

// Check satisfies a readiness check signature.
func (hc *HealthChecker) Check(context.Context) error {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	if !hc.checked {
		return errNotChecked
	}
	if !hc.status.Healthy {
		return &Error{Transport: hc.transport.Name(), Message: hc.status.LastError}
	}
	return nil
}

var errNotChecked = &Error{Transport: "health", Message: "not checked yet"}

func (hc *HealthChecker) run() {
	defer close(hc.stopped)

	hc.check()

	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-hc.stopCh:
			return
		case <-ticker.C:
			hc.check()
		}
	}
}

func (hc *HealthChecker) check() {
	ctx, cancel := context.WithTimeout(context.Background(), hc.checkTimeout)
	defer cancel()

	err := hc.transport.HealthCheck(ctx)

	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.checked = true
	hc.status.LastCheck = time.Now()

	if err != nil {
		hc.status.ConsecutiveFailures++
		hc.status.LastError = err.Error()
		if hc.status.ConsecutiveFailures >= unhealthyThreshold {
			hc.status.Healthy = false
		}
		return
	}
	// 1 success resets to healthy.
	hc.status.ConsecutiveFailures = 0
	hc.status.Healthy = true
	hc.status.LastError = ""
}
