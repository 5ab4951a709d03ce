package wsconn

import (
	"context"
	"time"
)

// Policy is a capped exponential backoff: Base * 2^retry, never more than Max.
type Policy struct {
	Base time.Duration
	Max  time.Duration
}

var DefaultPolicy = Policy{Base: time.Second, Max: 30 * time.Second}

func (p Policy) Delay(retry int) time.Duration {
	if p.Base <= 0 {
		p = DefaultPolicy
	}
	if retry < 0 {
		retry = 0
	}
	d := p.Base
	for i := 0; i < retry; i++ {
		d *= 2
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
