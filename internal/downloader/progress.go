package downloader

import "sync/atomic"

// Progress is the live byte counter for one job, readable at any time
// without blocking the workers that update it.
type Progress struct {
	done  atomic.Int64
	total atomic.Int64
}

func (p *Progress) Add(n int64)      { p.done.Add(n) }
func (p *Progress) Done() int64      { return p.done.Load() }
func (p *Progress) Total() int64     { return p.total.Load() }
func (p *Progress) SetTotal(n int64) { p.total.Store(n) }

// Percent returns completion in [0,100], or -1 when the total is unknown.
func (p *Progress) Percent() int {
	total := p.total.Load()
	if total <= 0 {
		return -1
	}
	pct := int(p.done.Load() * 100 / total)
	if pct > 100 {
		pct = 100
	}
	return pct
}
