package apiserver

import "sync"

// ConcurrencyLimiter caps the number of in-flight executions, globally and
// per tenant, rejecting new submissions past either cap rather than queuing
// them — a submission that can't start now should be retried by the client,
// not buffered server-side.
type ConcurrencyLimiter struct {
	mu           sync.Mutex
	global       int
	perTenant    map[string]int
	globalMax    int
	tenantMax    int
}

// NewConcurrencyLimiter builds a limiter. A zero max disables that cap.
func NewConcurrencyLimiter(globalMax, tenantMax int) *ConcurrencyLimiter {
	return &ConcurrencyLimiter{perTenant: map[string]int{}, globalMax: globalMax, tenantMax: tenantMax}
}

// TryAcquire reserves one execution slot for tenantID, returning false if
// either cap is already saturated.
func (c *ConcurrencyLimiter) TryAcquire(tenantID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.globalMax > 0 && c.global >= c.globalMax {
		return false
	}
	if c.tenantMax > 0 && c.perTenant[tenantID] >= c.tenantMax {
		return false
	}
	c.global++
	c.perTenant[tenantID]++
	return true
}

// Release frees the slot reserved by a prior TryAcquire(tenantID).
func (c *ConcurrencyLimiter) Release(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.global > 0 {
		c.global--
	}
	if c.perTenant[tenantID] > 0 {
		c.perTenant[tenantID]--
	}
}

// InFlight returns the current global and per-tenant counts, for usage
// reporting.
func (c *ConcurrencyLimiter) InFlight(tenantID string) (global, tenant int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.global, c.perTenant[tenantID]
}
