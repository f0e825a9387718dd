package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrQueueFull 队列已满
var ErrQueueFull = errors.New("job queue is full")

// Handler 任务处理函数
type Handler func(ctx context.Context, job *Job) error

// Pool Worker 池
type Pool struct {
	workers  int
	timeout  time.Duration
	jobChan  chan *Job
	handler  Handler
	logger   *logrus.Logger
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// Job 任务
type Job struct {
	ID       string
	Payload  any
	Timeout  time.Duration // 覆盖池的默认超时，0 表示沿用
	resultCh chan error    // 用于同步等待任务完成
}

// NewPool 创建 Worker 池
// timeout 为单个任务的超时，0 表示不限制
func NewPool(workers, queueSize int, timeout time.Duration, handler Handler, logger *logrus.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Pool{
		workers: workers,
		timeout: timeout,
		jobChan: make(chan *Job, queueSize),
		handler: handler,
		logger:  logger,
	}
}

// Start 启动 Worker 池
func (p *Pool) Start(ctx context.Context) {
	p.logger.WithField("workers", p.workers).Debug("Starting worker pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// worker Worker 协程
func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			p.logger.WithField("worker_id", id).Debug("Worker shutting down")
			p.drain(ctx.Err())
			return

		case job, ok := <-p.jobChan:
			if !ok {
				return
			}

			p.logger.WithFields(logrus.Fields{
				"worker_id": id,
				"job_id":    job.ID,
			}).Debug("Processing job")

			err := p.run(ctx, job)
			if err != nil {
				p.logger.WithError(err).WithFields(logrus.Fields{
					"worker_id": id,
					"job_id":    job.ID,
				}).Debug("Job finished with error")
			}

			// 如果有结果通道，发送结果
			if job.resultCh != nil {
				job.resultCh <- err
				close(job.resultCh)
			}
		}
	}
}

// run 执行单个任务，处理函数的 panic 转换为错误
func (p *Pool) run(ctx context.Context, job *Job) (err error) {
	timeout := p.timeout
	if job.Timeout > 0 {
		timeout = job.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.ID, r)
		}
	}()

	return p.handler(ctx, job)
}

// drain 上下文取消后，未执行的任务直接以取消错误结束
func (p *Pool) drain(cause error) {
	for {
		select {
		case job, ok := <-p.jobChan:
			if !ok {
				return
			}
			if job.resultCh != nil {
				job.resultCh <- cause
				close(job.resultCh)
			}
		default:
			return
		}
	}
}

// Submit 提交任务（异步，不等待结果）
func (p *Pool) Submit(job *Job) error {
	select {
	case p.jobChan <- job:
		p.logger.WithField("job_id", job.ID).Debug("Job submitted to pool")
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitAndWait 提交任务并等待完成
func (p *Pool) SubmitAndWait(ctx context.Context, job *Job) error {
	job.resultCh = make(chan error, 1)

	select {
	case p.jobChan <- job:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-job.resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop 停止 Worker 池，等待已提交的任务完成
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.jobChan)
		p.wg.Wait()
		p.logger.Debug("Worker pool stopped")
	})
}

// QueueSize 获取队列中任务数
func (p *Pool) QueueSize() int {
	return len(p.jobChan)
}
