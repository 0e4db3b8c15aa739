// Package worker runs cost collection asynchronously: a submitted period
// becomes one job per day, a pool of claimers works the queue, and accepted
// periods freeze their cost nodes against recomputation.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/costlane/costlane/internal/collector"
	"github.com/costlane/costlane/internal/config"
	costnodedomain "github.com/costlane/costlane/internal/costnode/domain"
	"github.com/costlane/costlane/internal/partition"
	"github.com/costlane/costlane/internal/pricingservice"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrJobNotFound = errors.New("job_not_found")
	// ErrCyclesPresent: the dependency graph holds at least one cycle, the
	// period was not submitted.
	ErrCyclesPresent = errors.New("dependency_cycles_present")
)

// MissingDaysError lists the days of an acceptance window that hold no
// computed cost nodes.
type MissingDaysError struct {
	Days []time.Time
}

func (e *MissingDaysError) Error() string {
	parts := make([]string, len(e.Days))
	for i, d := range e.Days {
		parts[i] = d.Format("2006-01-02")
	}
	return fmt.Sprintf("days_not_computed: %s", strings.Join(parts, ", "))
}

type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
)

// Job is one day's collection request.
type Job struct {
	ID             string    `gorm:"primaryKey;type:text" json:"id"`
	Date           time.Time `gorm:"not null;index" json:"date"`
	Forecast       bool      `gorm:"not null" json:"forecast"`
	DeleteVerified bool      `gorm:"not null" json:"delete_verified"`
	Status         JobStatus `gorm:"not null;index" json:"status"`
	Error          string    `gorm:"type:text" json:"error,omitempty"`
	Nodes          int       `gorm:"not null;default:0" json:"nodes"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (Job) TableName() string { return "collect_jobs" }

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	collector *collector.Collector
	services  *pricingservice.Service
	nodes     costnodedomain.Repository
}

type Param struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Collector *collector.Collector
	Services  *pricingservice.Service
	Nodes     costnodedomain.Repository
}

func New(p Param) *Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("worker.service"),
		collector: p.Collector,
		services:  p.Services,
		nodes:     p.Nodes,
	}
}

// SubmitPeriod queues one job per day of [start, end]. The dependency graph
// is checked first: a cyclic graph fails every day the same way, so the
// period is refused outright.
func (s *Service) SubmitPeriod(ctx context.Context, start, end time.Time, forecast, deleteVerified bool) ([]Job, error) {
	cycles, err := s.services.DetectCycles(ctx)
	if err != nil {
		return nil, err
	}
	if len(cycles) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrCyclesPresent, cycles[0].Error())
	}

	days := partition.EachDay(start, end)
	jobs := make([]Job, len(days))
	for i, day := range days {
		jobs[i] = Job{
			ID:             uuid.NewString(),
			Date:           day,
			Forecast:       forecast,
			DeleteVerified: deleteVerified,
			Status:         StatusPending,
		}
	}
	if err := s.db.WithContext(ctx).Create(&jobs).Error; err != nil {
		return nil, err
	}
	s.log.Info("period submitted",
		zap.Time("start", partition.Day(start)),
		zap.Time("end", partition.Day(end)),
		zap.Int("jobs", len(jobs)),
	)
	return jobs, nil
}

func (s *Service) Poll(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// claim flips the oldest pending job to running. The guarded update makes
// the claim safe against concurrent claimers; zero rows affected means
// another worker won the race.
func (s *Service) claim(ctx context.Context) (*Job, error) {
	for {
		var job Job
		err := s.db.WithContext(ctx).
			Where("status = ?", StatusPending).
			Order("created_at, id").
			First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		res := s.db.WithContext(ctx).
			Model(&Job{}).
			Where("id = ? AND status = ?", job.ID, StatusPending).
			Updates(map[string]any{"status": StatusRunning, "started_at": time.Now().UTC()})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			job.Status = StatusRunning
			return &job, nil
		}
	}
}

func (s *Service) runJob(ctx context.Context, job *Job) {
	nodes, err := s.collector.Process(ctx, job.Date, job.Forecast, job.DeleteVerified)

	finished := time.Now().UTC()
	updates := map[string]any{"status": StatusSucceeded, "nodes": len(nodes), "finished_at": finished}
	if err != nil {
		updates = map[string]any{"status": StatusFailed, "error": err.Error(), "finished_at": finished}
		s.log.Warn("job failed",
			zap.String("job_id", job.ID),
			zap.Time("date", job.Date),
			zap.Error(err),
		)
	}
	if dbErr := s.db.WithContext(ctx).Model(&Job{}).Where("id = ?", job.ID).Updates(updates).Error; dbErr != nil {
		s.log.Error("job result not recorded", zap.String("job_id", job.ID), zap.Error(dbErr))
	}
}

// RunOnce claims and runs at most one pending job. It reports whether a job
// was worked.
func (s *Service) RunOnce(ctx context.Context) (bool, error) {
	job, err := s.claim(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	s.runJob(ctx, job)
	return true, nil
}

// Accept marks every cost node of [start, end] accepted. Every day of the
// window must have been computed; otherwise nothing is marked and the
// missing days are reported.
func (s *Service) Accept(ctx context.Context, start, end time.Time, forecast bool) (int64, error) {
	computed, err := s.nodes.ComputedDays(ctx, start, end, forecast)
	if err != nil {
		return 0, err
	}
	have := make(map[string]bool, len(computed))
	for _, d := range computed {
		have[partition.Day(d).Format("2006-01-02")] = true
	}

	var missing []time.Time
	for _, day := range partition.EachDay(start, end) {
		if !have[day.Format("2006-01-02")] {
			missing = append(missing, day)
		}
	}
	if len(missing) > 0 {
		return 0, &MissingDaysError{Days: missing}
	}

	marked, err := s.nodes.MarkAccepted(ctx, start, end, forecast)
	if err != nil {
		return 0, err
	}
	s.log.Info("period accepted",
		zap.Time("start", partition.Day(start)),
		zap.Time("end", partition.Day(end)),
		zap.Int64("nodes", marked),
	)
	return marked, nil
}

// Pool polls for pending jobs with a fixed number of concurrent claimers.
type Pool struct {
	svc         *Service
	log         *zap.Logger
	concurrency int
	interval    time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

func NewPool(svc *Service, log *zap.Logger, cfg config.Config) *Pool {
	concurrency := cfg.Worker.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	interval := time.Duration(cfg.Worker.PollIntervalMillis) * time.Millisecond
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Pool{
		svc:         svc,
		log:         log.Named("worker.pool"),
		concurrency: concurrency,
		interval:    interval,
	}
}

func (p *Pool) Start(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				worked, err := p.svc.RunOnce(ctx)
				if err != nil && ctx.Err() == nil {
					p.log.Error("job run failed", zap.Error(err))
				}
				if worked && ctx.Err() == nil {
					continue
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(p.interval):
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(p.done)
	}()

	p.log.Info("pool started", zap.Int("concurrency", p.concurrency))
	return nil
}

func (p *Pool) Stop(ctx context.Context) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var Module = fx.Module("worker",
	fx.Provide(New),
	fx.Provide(NewPool),
)
