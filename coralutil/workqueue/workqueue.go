// Package workqueue runs one job function over a range of indexes with a
// fixed number of workers, collecting the per-index results in order.
// It is used to fan out peer handshakes without unbounded goroutine
// creation.
package workqueue

import (
	"sync"

	"github.com/coral-colony/corald/coralutil/er"
)

const DefaultWorkerCount = 6

type WorkQueue struct {
	lock    sync.Mutex
	nextNum int
	maxNum  int
	results []er.R
	done    sync.WaitGroup
	job     func(key int) er.R
}

func (wq *WorkQueue) task() (int, bool) {
	wq.lock.Lock()
	defer wq.lock.Unlock()
	if wq.nextNum >= wq.maxNum {
		return 0, false
	}
	num := wq.nextNum
	wq.nextNum++
	return num, true
}

func (wq *WorkQueue) threadLoop() {
	defer wq.done.Done()
	for {
		num, ok := wq.task()
		if !ok {
			return
		}
		err := wq.job(num)
		wq.lock.Lock()
		wq.results[num] = err
		wq.lock.Unlock()
	}
}

// Wait blocks until every index has been processed and returns the
// results indexed identically to the inputs.
func (wq *WorkQueue) Wait() []er.R {
	wq.done.Wait()
	return wq.results
}

// New starts workerCount workers running job over the keys [0, n).
// If workerCount is <= 0 the default is used, and never more workers
// than keys are started.
func New(workerCount, n int, job func(key int) er.R) *WorkQueue {
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
	}
	if workerCount > n {
		workerCount = n
	}
	wq := WorkQueue{
		results: make([]er.R, n),
		maxNum:  n,
		job:     job,
	}
	wq.done.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go wq.threadLoop()
	}
	return &wq
}
