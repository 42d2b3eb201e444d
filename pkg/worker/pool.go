package worker

import (
	"sync"
	"time"

	"github.com/kacperjurak/ocvcore"
	"github.com/kacperjurak/ocvcore/logger"
	"github.com/kacperjurak/ocvcore/pkg/config"
	"github.com/kacperjurak/ocvcore/pkg/models"
)

// Pool manages concurrent relaxation-analysis workers. Each transient is
// an independent fit, so workers never share state beyond the channels.
type Pool struct {
	jobs         chan models.WorkItem
	results      chan models.WorkResult
	webhookQueue chan models.WebhookItem
	workers      int
	bufferPool   sync.Pool
	shutdown     chan struct{}
	wg           sync.WaitGroup
	processor    ProcessorFunc
	sender       SenderFunc
}

// ProcessorFunc defines the signature for relaxation data processing
type ProcessorFunc func(data models.RelaxationData, config *config.Config) interface{}

// SenderFunc delivers a finished analysis to the webhook consumer
type SenderFunc func(models.WebhookItem) error

// Options holds configuration for creating a new worker pool
type Options struct {
	Workers   int
	Processor ProcessorFunc
	Sender    SenderFunc
}

// New creates a new worker pool with specified configuration
func New(opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 5
	}

	// do not block queueing new jobs and results even if the workers are already busy
	pool := &Pool{
		jobs:         make(chan models.WorkItem, opts.Workers*2),
		results:      make(chan models.WorkResult, opts.Workers*2),
		webhookQueue: make(chan models.WebhookItem, opts.Workers*4), // webhooks can be slower, extended buffer
		workers:      opts.Workers,
		shutdown:     make(chan struct{}),
		processor:    opts.Processor,
		sender:       opts.Sender,
		bufferPool: sync.Pool{
			New: func() interface{} {
				// Typical OCV transients run from tens to a few thousand samples
				return &models.BufferSet{
					Time:    make([]float64, 0, 512),
					Voltage: make([]float64, 0, 512),
					Fitted:  make([]float64, 0, 512),
				}
			},
		},
	}

	pool.start()
	return pool
}

// start initializes and starts all workers
func (p *Pool) start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	// Start webhook processor
	p.wg.Add(1)
	go p.webhookProcessor()

	logger.GetLogger().WithComponent("worker").WithFields(logger.Fields{"workers": p.workers}).Info("worker pool started")
}

// worker processes relaxation jobs from the jobs channel
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case job := <-p.jobs:
			result := p.processJob(job)
			p.results <- result

		case <-p.shutdown:
			return
		}
	}
}

// processJob handles the actual relaxation analysis with buffer reuse
func (p *Pool) processJob(job models.WorkItem) models.WorkResult {
	buffers := p.bufferPool.Get().(*models.BufferSet)
	defer p.bufferPool.Put(buffers)

	startTime := time.Now()
	result := p.processor(job.Data, job.Config.(*config.Config))
	processingTime := time.Since(startTime)

	fitResult, ok := result.(ocvcore.FitResult)
	if !ok {
		fitResult = ocvcore.FitResult{
			Status: "ERROR",
			Params: []float64{},
		}
	}

	// Copy input and fitted curve out of the job; buffers are reused
	p.fillBuffers(job, fitResult, buffers)

	timeCopy := make([]float64, len(buffers.Time))
	voltageCopy := make([]float64, len(buffers.Voltage))
	fittedCopy := make([]float64, len(buffers.Fitted))
	copy(timeCopy, buffers.Time)
	copy(voltageCopy, buffers.Voltage)
	copy(fittedCopy, buffers.Fitted)

	return models.WorkResult{
		ID:             job.ID,
		RequestID:      job.RequestID,
		BatchID:        job.BatchID,
		Iteration:      job.Iteration,
		Result:         fitResult,
		ProcessingTime: processingTime,
		Success:        fitResult.Status == ocvcore.OK,
		Time:           timeCopy,
		Voltage:        voltageCopy,
		FittedVoltage:  fittedCopy,
		VCut:           job.Data.VCut,
		ICut:           job.Data.ICut,
	}
}

// fillBuffers stages the observed transient and the reconstructed curve
// in pooled buffers, growing them only when the capacity falls short.
func (p *Pool) fillBuffers(job models.WorkItem, res ocvcore.FitResult, buffers *models.BufferSet) {
	dataLen := len(job.Data.Time)

	if cap(buffers.Time) < dataLen {
		newCap := dataLen + (dataLen >> 2) // +25% headroom for varying transient sizes
		if newCap < 512 {
			newCap = 512
		}
		buffers.Time = make([]float64, dataLen, newCap)
		buffers.Voltage = make([]float64, dataLen, newCap)
		buffers.Fitted = make([]float64, dataLen, newCap)
	} else {
		buffers.Time = buffers.Time[:dataLen]
		buffers.Voltage = buffers.Voltage[:dataLen]
		buffers.Fitted = buffers.Fitted[:dataLen]
	}

	copy(buffers.Time, job.Data.Time)
	copy(buffers.Voltage, job.Data.Voltage)

	if res.Status == ocvcore.OK && len(res.Params) > 0 {
		copy(buffers.Fitted, ocvcore.RelaxationCurve(res.Params, job.Data.Time))
	} else {
		for i := range buffers.Fitted {
			buffers.Fitted[i] = 0
		}
	}
}

// webhookProcessor handles webhook requests asynchronously
func (p *Pool) webhookProcessor() {
	defer p.wg.Done()

	for {
		select {
		case webhook := <-p.webhookQueue:
			// Process webhook asynchronously without blocking workers
			go p.sendWebhook(webhook)

		case <-p.shutdown:
			return
		}
	}
}

// sendWebhook delivers one webhook through the configured sender.
func (p *Pool) sendWebhook(webhook models.WebhookItem) {
	log := logger.GetLogger().WithComponent("worker").WithFields(logger.Fields{"request_id": webhook.RequestID})
	if p.sender == nil {
		log.Debug("no webhook sender configured, dropping")
		return
	}
	if err := p.sender(webhook); err != nil {
		log.WithError(err).Warn("webhook delivery failed")
	}
}

// SubmitJob submits a job to the worker pool
func (p *Pool) SubmitJob(job models.WorkItem) {
	select {
	case p.jobs <- job:
		// Job submitted successfully
	default:
		logger.GetLogger().WithComponent("worker").Warn("worker pool jobs channel full, job may be delayed")
		p.jobs <- job // Block until space available
	}
}

// GetResult retrieves a result from the worker pool (non-blocking)
func (p *Pool) GetResult() (models.WorkResult, bool) {
	select {
	case result := <-p.results:
		return result, true
	default:
		return models.WorkResult{}, false
	}
}

// QueueWebhook queues a webhook for async processing
func (p *Pool) QueueWebhook(webhook models.WebhookItem) {
	select {
	case p.webhookQueue <- webhook:
		// Webhook queued successfully
	default:
		logger.GetLogger().WithComponent("worker").WithFields(logger.Fields{"request_id": webhook.RequestID}).Warn("webhook queue full, dropping webhook")
	}
}

// Shutdown gracefully shuts down the worker pool
func (p *Pool) Shutdown() {
	log := logger.GetLogger().WithComponent("worker")
	log.Info("shutting down worker pool")
	close(p.shutdown)
	p.wg.Wait()
	log.Info("worker pool shutdown complete")
}
