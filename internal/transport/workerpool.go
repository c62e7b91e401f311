package transport

import "sync"

// workerPool bounds how many handlers run at once. Go never blocks the
// caller: tasks beyond the limit wait on their own goroutine for a slot.
type workerPool struct {
	slots chan struct{}
	wg    sync.WaitGroup
}

func newWorkerPool(size int) *workerPool {
	if size <= 0 {
		size = 1
	}
	return &workerPool{slots: make(chan struct{}, size)}
}

func (p *workerPool) Go(task func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.slots <- struct{}{}
		defer func() { <-p.slots }()
		task()
	}()
}

// Wait blocks until every submitted task has returned.
func (p *workerPool) Wait() {
	p.wg.Wait()
}

func (p *workerPool) Size() int { return cap(p.slots) }
