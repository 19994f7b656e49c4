package pool

import log "github.com/sirupsen/logrus"

// Stats is a snapshot of the pool accounting.
type Stats struct {
	Max     int `json:"max"`
	Min     int `json:"min"`
	Active  int `json:"active"`
	Idle    int `json:"idle"`
	Opening int `json:"opening"`
	Waiting int `json:"waiting"`

	Created        int64 `json:"created"`
	Destroyed      int64 `json:"destroyed"`
	Acquired       int64 `json:"acquired"`
	Waited         int64 `json:"waited"`
	Timeouts       int64 `json:"timeouts"`
	CreateFailures int64 `json:"createFailures"`
}

// Open is the number of connections currently counted against Max.
func (s Stats) Open() int {
	return s.Active + s.Idle + s.Opening
}

func (s Stats) Fields() log.Fields {
	return log.Fields{
		"max":            s.Max,
		"min":            s.Min,
		"active":         s.Active,
		"idle":           s.Idle,
		"opening":        s.Opening,
		"waiting":        s.Waiting,
		"created":        s.Created,
		"destroyed":      s.Destroyed,
		"acquired":       s.Acquired,
		"waited":         s.Waited,
		"timeouts":       s.Timeouts,
		"createFailures": s.CreateFailures,
	}
}

func (c *channelPool) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Max:            c.maxCap,
		Min:            c.minCap,
		Active:         len(c.lent),
		Idle:           len(c.idle),
		Opening:        c.opening,
		Waiting:        c.waiting,
		Created:        c.created,
		Destroyed:      c.destroyed,
		Acquired:       c.acquired,
		Waited:         c.waited,
		Timeouts:       c.timeouts,
		CreateFailures: c.createFailures,
	}
}
