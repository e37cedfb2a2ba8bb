package convert

import "sync"

// indexed pairs a job or result with its position in the input.
type indexed[T any] struct {
	index int
	value T
}

// workerPool fans jobs out to a fixed number of goroutines. Results arrive
// out of order; callers use the index to restore input order.
type workerPool[Job any, Result any] struct {
	numWorkers int
	jobs       chan indexed[Job]
	results    chan indexed[Result]
	wg         sync.WaitGroup
}

// newWorkerPool sizes the pool to min(numWorkers, numJobs).
func newWorkerPool[Job any, Result any](numWorkers, numJobs int) *workerPool[Job, Result] {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if numJobs > 0 {
		numWorkers = min(numWorkers, numJobs)
	}

	return &workerPool[Job, Result]{
		numWorkers: numWorkers,
		jobs:       make(chan indexed[Job], numJobs),
		results:    make(chan indexed[Result], numJobs),
	}
}

// start launches the workers.
func (p *workerPool[Job, Result]) start(workerFn func(Job) Result) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				p.results <- indexed[Result]{index: job.index, value: workerFn(job.value)}
			}
		}()
	}
}

func (p *workerPool[Job, Result]) submit(index int, job Job) {
	p.jobs <- indexed[Job]{index: index, value: job}
}

// close stops accepting jobs; the results channel closes once every worker
// has finished.
func (p *workerPool[Job, Result]) close() {
	close(p.jobs)
	go func() {
		p.wg.Wait()
		close(p.results)
	}()
}
