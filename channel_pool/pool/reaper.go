package pool

import "time"

func (c *channelPool) reap() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.reapIdle(time.Now())
			c.ensureMin()
		case <-c.stopCtx.Done():
			return
		}
	}
}

// reapIdle closes idle connections unused for longer than the idle
// timeout, oldest first, without going under InitialCap.
func (c *channelPool) reapIdle(now time.Time) int {
	c.mu.Lock()
	if c.idleTimeout <= 0 || c.closed {
		c.mu.Unlock()
		return 0
	}

	total := c.totalLocked()
	var victims []*idleConn
	kept := c.idle[:0]
	for _, ic := range c.idle {
		if total > c.minCap && c.expired(ic, now) {
			c.retireLocked(ic)
			victims = append(victims, ic)
			total--
			continue
		}
		kept = append(kept, ic)
	}
	for i := len(kept); i < len(c.idle); i++ {
		c.idle[i] = nil
	}
	c.idle = kept
	c.mu.Unlock()

	c.closeAll(victims)
	if len(victims) > 0 {
		c.log.WithField("reaped", len(victims)).Debug("reaped idle connections")
	}
	return len(victims)
}

// ensureMin tops the pool back up to InitialCap after connections were
// destroyed. Failures are left to the next tick.
func (c *channelPool) ensureMin() {
	for {
		c.mu.Lock()
		if c.draining || c.totalLocked() >= c.minCap {
			c.mu.Unlock()
			return
		}
		c.opening++
		c.mu.Unlock()

		pc, err := c.open(c.stopCtx, false)
		if err != nil {
			return
		}
		_ = c.Release(pc)
	}
}
