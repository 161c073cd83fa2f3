package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/harun/sylva/internal/observability"
	"github.com/harun/sylva/pkg/bus"
)

// DefaultSender is the sender of scheduled messages.
const DefaultSender = "scheduler"

// ErrJobNotFound is returned for unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// ErrStopped is returned by mutations after Stop.
var ErrStopped = errors.New("schedule service is stopped")

// Options configures the service
type Options struct {
	// StorePath is the JSON file holding the jobs.
	StorePath string
	// Publisher receives scheduled messages. Required by Start.
	Publisher Publisher
	Sender    string
	Logger    zerolog.Logger
	// OnEvent is called after job changes and runs, outside any lock.
	OnEvent func(Event)
}

// Service manages scheduled publications
type Service struct {
	opts   Options
	logger zerolog.Logger

	mu      sync.Mutex
	jobs    map[string]*Job
	timers  map[string]*time.Timer
	started bool
	stopped bool
}

// NewService loads the job store. Timers are not armed until Start.
func NewService(opts Options) (*Service, error) {
	if opts.StorePath == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if opts.Sender == "" {
		opts.Sender = DefaultSender
	}

	s := &Service{
		opts:   opts,
		logger: opts.Logger.With().Str("component", "schedule").Logger(),
		jobs:   make(map[string]*Job),
		timers: make(map[string]*time.Timer),
	}

	if err := s.loadJobs(); err != nil {
		return nil, err
	}
	return s, nil
}

// Start arms timers for every enabled job.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return nil
	}
	if s.opts.Publisher == nil {
		return fmt.Errorf("publisher is required to start the schedule service")
	}
	s.started = true

	for _, job := range s.jobs {
		if job.Enabled {
			s.scheduleJobLocked(job)
		}
	}

	s.logger.Info().Int("jobs", len(s.jobs)).Msg("Schedule service started")
	return nil
}

// Stop cancels all timers and persists the final state
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	s.stopped = true

	for id := range s.timers {
		s.cancelJobLocked(id)
	}

	if err := s.persist(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to persist schedule on shutdown")
		return err
	}

	s.logger.Info().Msg("Schedule service stopped")
	return nil
}

func validateParams(name, topic string, spec Spec) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("job name is required")
	}
	if err := bus.ValidateTopic(topic); err != nil {
		return err
	}
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}
	return nil
}

// AddJob creates and persists a job
func (s *Service) AddJob(params AddParams) (*Job, error) {
	if err := validateParams(params.Name, params.Topic, params.Spec); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrStopped
	}

	now := time.Now().UTC()
	priority := params.Priority
	if priority == 0 {
		priority = bus.PriorityNormal
	}
	job := &Job{
		ID:             uuid.NewString(),
		Name:           params.Name,
		Description:    params.Description,
		Enabled:        params.Enabled,
		DeleteAfterRun: params.DeleteAfterRun,
		CreatedAt:      now,
		UpdatedAt:      now,
		Spec:           params.Spec,
		Topic:          params.Topic,
		Payload:        params.Payload.Clone(),
		Priority:       priority,
	}
	next, _ := job.Spec.Next(now, false)
	job.State.NextRun = timePtr(next)

	s.jobs[job.ID] = job
	if err := s.persist(); err != nil {
		delete(s.jobs, job.ID)
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}
	if job.Enabled && s.started {
		s.scheduleJobLocked(job)
	}
	out := job.clone()
	s.mu.Unlock()

	s.logger.Info().
		Str("job_id", job.ID).
		Str("name", job.Name).
		Str("topic", job.Topic).
		Bool("enabled", job.Enabled).
		Msg("Job created")
	s.emit(Event{Action: EventActionAdded, JobID: job.ID})

	return out, nil
}

// UpdateJob applies patch to a job and reschedules it when needed
func (s *Service) UpdateJob(id string, patch JobPatch) (*Job, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrStopped
	}

	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	updated := job.clone()
	if patch.Name != nil {
		updated.Name = *patch.Name
	}
	if patch.Description != nil {
		updated.Description = *patch.Description
	}
	if patch.Enabled != nil {
		updated.Enabled = *patch.Enabled
	}
	if patch.DeleteAfterRun != nil {
		updated.DeleteAfterRun = *patch.DeleteAfterRun
	}
	if patch.Spec != nil {
		updated.Spec = *patch.Spec
	}
	if patch.Topic != nil {
		updated.Topic = *patch.Topic
	}
	if patch.Payload != nil {
		updated.Payload = patch.Payload.Clone()
	}
	if patch.Priority != nil {
		updated.Priority = *patch.Priority
	}

	if err := validateParams(updated.Name, updated.Topic, updated.Spec); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	reschedule := patch.Spec != nil || updated.Enabled != job.Enabled
	updated.UpdatedAt = time.Now().UTC()
	if patch.Spec != nil {
		next, _ := updated.Spec.Next(updated.UpdatedAt, false)
		updated.State.NextRun = timePtr(next)
	}

	s.jobs[id] = updated
	if err := s.persist(); err != nil {
		s.jobs[id] = job
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	if reschedule {
		s.cancelJobLocked(id)
		if updated.Enabled && s.started {
			s.scheduleJobLocked(updated)
		}
	}
	out := updated.clone()
	s.mu.Unlock()

	s.logger.Info().
		Str("job_id", id).
		Bool("rescheduled", reschedule).
		Msg("Job updated")
	s.emit(Event{Action: EventActionUpdated, JobID: id})

	return out, nil
}

// RemoveJob deletes a job
func (s *Service) RemoveJob(id string) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}

	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	s.cancelJobLocked(id)
	delete(s.jobs, id)
	if err := s.persist(); err != nil {
		s.jobs[id] = job
		s.mu.Unlock()
		return fmt.Errorf("failed to persist job: %w", err)
	}
	s.mu.Unlock()

	s.logger.Info().Str("job_id", id).Str("name", job.Name).Msg("Job removed")
	s.emit(Event{Action: EventActionDeleted, JobID: id})
	return nil
}

// RunJob publishes a job now, regardless of its schedule. It returns the
// published message id.
func (s *Service) RunJob(id string) (string, error) {
	s.mu.Lock()
	_, ok := s.jobs[id]
	started := s.started && !s.stopped
	s.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if !started {
		return "", fmt.Errorf("schedule service is not running")
	}
	return s.executeJob(id, false)
}

// ListJobs returns copies of all jobs ordered by creation time
func (s *Service) ListJobs() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job.clone())
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs
}

// GetJob returns a copy of a job
func (s *Service) GetJob(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job.clone(), nil
}

// scheduleJobLocked arms a timer for job. Past-due jobs fire immediately.
func (s *Service) scheduleJobLocked(job *Job) {
	if job.State.NextRun == nil || job.State.NextRun.IsZero() {
		return
	}

	delay := time.Until(*job.State.NextRun)
	if delay < 0 {
		delay = 0
	}

	id := job.ID
	s.timers[id] = time.AfterFunc(delay, func() {
		_, _ = s.executeJob(id, true)
	})

	s.logger.Debug().
		Str("job_id", id).
		Dur("delay", delay).
		Time("next_run", *job.State.NextRun).
		Msg("Job scheduled")
}

func (s *Service) cancelJobLocked(id string) {
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
}

// executeJob publishes the job's message. Scheduled runs rearm the timer;
// manual runs leave the schedule untouched.
func (s *Service) executeJob(id string, scheduled bool) (string, error) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok || s.stopped {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if job.State.running {
		s.mu.Unlock()
		s.logger.Debug().Str("job_id", id).Msg("Job already running, skipping")
		return "", fmt.Errorf("job %s is already running", id)
	}
	job.State.running = true
	topic, payload, priority := job.Topic, job.Payload.Clone(), job.Priority
	s.mu.Unlock()

	start := time.Now()
	msgID, err := s.opts.Publisher.Publish(topic, payload, &bus.PublishOptions{
		Sender:   s.opts.Sender,
		Priority: priority,
	})
	observability.RecordScheduleRun(err == nil)

	s.mu.Lock()
	job, ok = s.jobs[id]
	if !ok {
		// removed while publishing
		s.mu.Unlock()
		return msgID, err
	}
	job.State.running = false
	job.State.LastRun = timePtr(start.UTC())
	job.State.LastDuration = time.Since(start)
	job.State.Runs++

	logger := s.logger.With().Str("job_id", id).Str("topic", topic).Logger()
	if err != nil {
		job.State.LastStatus = "error"
		job.State.LastError = err.Error()
		job.State.ConsecutiveErrors++
		logger.Error().Err(err).Int("consecutive_errors", job.State.ConsecutiveErrors).Msg("Scheduled publish failed")
	} else {
		job.State.LastStatus = "ok"
		job.State.LastError = ""
		job.State.LastMessageID = msgID
		job.State.ConsecutiveErrors = 0
		logger.Debug().Str("message_id", msgID).Msg("Scheduled message published")
	}

	deleted := false
	if scheduled {
		delete(s.timers, id)
		next, calcErr := job.Spec.Next(time.Now(), true)
		switch {
		case calcErr != nil:
			logger.Error().Err(calcErr).Msg("Failed to calculate next run")
			job.State.NextRun = nil
		case next.IsZero():
			job.State.NextRun = nil
			if job.DeleteAfterRun && err == nil {
				delete(s.jobs, id)
				deleted = true
			} else {
				job.Enabled = false
			}
		default:
			job.State.NextRun = timePtr(next)
			if job.Enabled && !s.stopped {
				s.scheduleJobLocked(job)
			}
		}
	}

	if persistErr := s.persist(); persistErr != nil {
		logger.Error().Err(persistErr).Msg("Failed to persist job state")
	}

	evt := Event{
		Action:    EventActionFinished,
		JobID:     id,
		Status:    job.State.LastStatus,
		Error:     job.State.LastError,
		MessageID: msgID,
		NextRun:   job.State.NextRun,
	}
	s.mu.Unlock()

	s.emit(evt)
	if deleted {
		logger.Info().Msg("Deleted one-shot job after successful run")
		s.emit(Event{Action: EventActionDeleted, JobID: id})
	}
	return msgID, err
}

func (s *Service) emit(evt Event) {
	if s.opts.OnEvent != nil {
		s.opts.OnEvent(evt)
	}
}

func (j *Job) clone() *Job {
	c := *j
	c.Payload = j.Payload.Clone()
	if j.Spec.Anchor != nil {
		c.Spec.Anchor = timePtr(*j.Spec.Anchor)
	}
	if j.State.NextRun != nil {
		c.State.NextRun = timePtr(*j.State.NextRun)
	}
	if j.State.LastRun != nil {
		c.State.LastRun = timePtr(*j.State.LastRun)
	}
	return &c
}

func (s *Service) loadJobs() error {
	data, err := os.ReadFile(s.opts.StorePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read schedule store: %w", err)
	}

	var jobs []*Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return fmt.Errorf("failed to parse schedule store: %w", err)
	}
	for _, job := range jobs {
		s.jobs[job.ID] = job
	}

	s.logger.Info().Int("count", len(jobs)).Msg("Loaded scheduled jobs")
	return nil
}

// persist writes the store atomically. Caller holds mu.
func (s *Service) persist() error {
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })

	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal jobs: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.opts.StorePath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp := s.opts.StorePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.opts.StorePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
