// Package dispatch runs book pipelines in parallel.
package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/yuanying/epubfetch/internal/pipeline"
)

// Processor handles one book.
type Processor interface {
	Process(ctx context.Context, id string) (*pipeline.Result, error)
}

// Failure is the error of one book.
type Failure struct {
	BookID string
	Err    error
}

// Summary is the outcome of a batch, in submission order.
type Summary struct {
	Results  []*pipeline.Result
	Failures []Failure
}

// Failed reports whether any book failed.
func (s *Summary) Failed() bool { return len(s.Failures) > 0 }

// Dispatcher runs one task per book with bounded parallelism. A failing book
// never cancels its siblings.
type Dispatcher struct {
	processor   Processor
	concurrency int
	logger      *slog.Logger
}

// New creates a Dispatcher. concurrency below 1 is treated as 1.
func New(p Processor, concurrency int, logger *slog.Logger) *Dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{processor: p, concurrency: concurrency, logger: logger}
}

// Run processes every id and returns once all tasks have finished.
func (d *Dispatcher) Run(ctx context.Context, ids []string) *Summary {
	summary := &Summary{Results: make([]*pipeline.Result, len(ids))}

	failures := make(chan Failure)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for f := range failures {
			d.logger.Error("book failed", "book", f.BookID, "error", f.Err)
			summary.Failures = append(summary.Failures, f)
		}
	}()

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	var mu sync.Mutex
	for i, id := range ids {
		g.Go(func() error {
			res, err := d.processor.Process(ctx, id)
			mu.Lock()
			summary.Results[i] = res
			mu.Unlock()
			if err != nil {
				failures <- Failure{BookID: id, Err: err}
			}
			return nil
		})
	}
	_ = g.Wait()
	close(failures)
	<-drained

	d.logger.Info("batch finished", "books", len(ids), "failed", len(summary.Failures))
	return summary
}
