package client

import (
	"context"
	"time"
)

// Defaults for Poller.
const (
	DefaultPollInterval = time.Second
	DefaultMaxAttempts  = 30
)

// Outcome is how a poll ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	// OutcomeTimedOut means the attempt budget ran out while the file was
	// still processing. The file may still complete later.
	OutcomeTimedOut Outcome = "timed_out"
)

// StatusGetter is the part of Client the poller needs.
type StatusGetter interface {
	Status(ctx context.Context, fileID string) (*StatusResponse, error)
}

// PollResult describes a finished poll.
type PollResult struct {
	Outcome  Outcome
	Attempts int
	// Status is the last status read, nil if every attempt failed.
	Status *StatusResponse
	// ErrorMessage is the stored decode error when Outcome is OutcomeFailed.
	ErrorMessage string
	// LastErr is the most recent request failure, if any.
	LastErr error
}

// Poller waits for a file to reach a terminal status.
type Poller struct {
	Client      StatusGetter
	Interval    time.Duration
	MaxAttempts int
	// OnAttempt, if set, is called after every status request.
	OnAttempt func(attempt int, status *StatusResponse, err error)
}

// NewPoller creates a poller with the default interval and ceiling.
func NewPoller(c StatusGetter) *Poller {
	return &Poller{Client: c, Interval: DefaultPollInterval, MaxAttempts: DefaultMaxAttempts}
}

// Poll requests the status of fileID until it is completed or error, or
// until MaxAttempts requests have been made. Failed requests count as
// attempts. The only error returned is ctx's, when the caller gives up.
func (p *Poller) Poll(ctx context.Context, fileID string) (*PollResult, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	res := &PollResult{Outcome: OutcomeTimedOut}
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res.Attempts = attempt

		status, err := p.Client.Status(ctx, fileID)
		if p.OnAttempt != nil {
			p.OnAttempt(attempt, status, err)
		}
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.LastErr = err
		} else {
			res.Status = status
			switch status.Status {
			case "completed":
				res.Outcome = OutcomeCompleted
				return res, nil
			case "error":
				res.Outcome = OutcomeFailed
				res.ErrorMessage = status.ErrorMessage
				return res, nil
			}
		}

		if attempt == maxAttempts {
			break
		}
		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-timer.C:
		}
	}
	return res, nil
}
