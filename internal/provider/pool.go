package provider

import "sync"

// pool runs commands on a fixed set of goroutines in submission order.
type pool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	jobs   []*Command
	closed bool
	wg     sync.WaitGroup
}

func newPool(size int, run func(*Command)) *pool {
	p := &pool{}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				c, ok := p.next()
				if !ok {
					return
				}
				run(c)
			}
		}()
	}
	return p
}

func (p *pool) push(c *Command) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.jobs = append(p.jobs, c)
	p.cond.Signal()
	return nil
}

func (p *pool) next() (*Command, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.jobs) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.jobs) == 0 {
		return nil, false
	}
	c := p.jobs[0]
	p.jobs[0] = nil
	p.jobs = p.jobs[1:]
	return c, true
}

// close stops accepting work, lets queued commands drain and waits for the
// workers to exit.
func (p *pool) close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}
