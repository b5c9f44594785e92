package workers

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/casescribe/internal/services"
	"github.com/yoockh/casescribe/internal/utils"
)

// LocalPool runs analysis jobs on in-process goroutines. Jobs still queued
// when the process exits are lost; their records stay pending until TTL.
type LocalPool struct {
	Handler    Handler
	NumWorkers int
	Capacity   int
	Logger     *logrus.Logger

	once  sync.Once
	tasks chan services.AnalysisTask
	wg    sync.WaitGroup
}

func (p *LocalPool) init() {
	p.once.Do(func() {
		if p.NumWorkers <= 0 {
			p.NumWorkers = 2
		}
		if p.Capacity <= 0 {
			p.Capacity = 64
		}
		if p.Logger == nil {
			p.Logger = logrus.New()
		}
		p.tasks = make(chan services.AnalysisTask, p.Capacity)
	})
}

// Enqueue never blocks; a full queue is reported as unavailable.
func (p *LocalPool) Enqueue(ctx context.Context, task services.AnalysisTask) error {
	p.init()
	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return utils.E(utils.CodeUnavailable, "LocalPool.Enqueue", "analysis queue is full", nil)
	}
}

func (p *LocalPool) Start(ctx context.Context) error {
	if p.Handler == nil {
		return errors.New("LocalPool missing dependency: Handler must be set")
	}
	p.init()
	for i := 0; i < p.NumWorkers; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
	p.Logger.WithField("workers", p.NumWorkers).Info("analysis workers started")
	return nil
}

// Wait blocks until every worker has returned after ctx is cancelled.
func (p *LocalPool) Wait() { p.wg.Wait() }

func (p *LocalPool) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-p.tasks:
			if err := p.Handler.Process(ctx, task); err != nil {
				p.Logger.WithError(err).WithField("job_id", task.JobID).Error("analysis job failed to complete")
			}
		}
	}
}
