package discretize

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/ricci-colasanti/synthbalance/internal/logging"
)

const progressInterval = 2 * time.Second

type job struct {
	tract   int
	weights []float64
}

// run solves every tract on a bounded pool of workers. Results are stored by
// tract index, so the output does not depend on scheduling.
func (d *Discretizer) run(ctx context.Context, h, x *mat.Dense) []tractResult {
	t, _ := x.Dims()
	results := make([]tractResult, t)
	if t == 0 {
		return results
	}
	numWorkers := d.workers(t)
	d.Log.V(logging.DEBUG).Info("starting discretization workers", "workers", numWorkers, "tracts", t)

	jobs := make(chan job, numWorkers*2)
	resultsChan := make(chan tractResult, numWorkers*2)

	var (
		processed      atomic.Int32
		startTime      = time.Now()
		progressTicker = time.NewTicker(progressInterval)
		stopProgress   = make(chan struct{})
	)
	defer progressTicker.Stop()

	go func() {
		for {
			select {
			case <-progressTicker.C:
				done := int(processed.Load())
				elapsed := time.Since(startTime)
				var eta time.Duration
				if done > 0 {
					eta = time.Duration(t-done) * (elapsed / time.Duration(done))
				}
				d.Log.V(logging.DEBUG).Info("discretization progress", "done", done, "tracts", t,
					"elapsed", elapsed.Round(time.Second), "eta", eta.Round(time.Second))
			case <-stopProgress:
				return
			}
		}
	}()

	var collectorWg sync.WaitGroup
	collectorWg.Add(1)
	go func() {
		defer collectorWg.Done()
		for res := range resultsChan {
			results[res.tract] = res
			processed.Add(1)
		}
	}()

	var workerWg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		workerWg.Add(1)
		go func() {
			defer workerWg.Done()
			for j := range jobs {
				resultsChan <- d.tract(ctx, h, j.tract, j.weights)
			}
		}()
	}

	for tr := 0; tr < t; tr++ {
		jobs <- job{tract: tr, weights: mat.Row(nil, tr, x)}
	}
	close(jobs)

	workerWg.Wait()
	close(resultsChan)
	collectorWg.Wait()
	close(stopProgress)
	return results
}
