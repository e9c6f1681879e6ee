package poller

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/cuongbtq/genqueue/internal/runninghub"
)

const (
	DefaultInterval         = 5 * time.Second
	DefaultBackoffThreshold = 10
	DefaultBackoffFactor    = 1.5
	DefaultMaxCycles        = 720
)

// State is the terminal state of a polling run.
type State string

const (
	StateSuccess  State = "success"
	StateFailure  State = "failure"
	StateTimedOut State = "timed_out"
)

// Category groups business failures for user guidance.
type Category string

const (
	CategoryNone        Category = ""
	CategoryOutOfMemory Category = "out_of_memory"
	CategoryTimeout     Category = "timeout"
	CategoryFormat      Category = "format"
	CategoryGeneric     Category = "generic"
)

// Client is the subset of the RunningHub client the poller needs.
type Client interface {
	Status(ctx context.Context, taskID string) (runninghub.StatusResponse, error)
	Outputs(ctx context.Context, taskID string) (runninghub.Output, error)
}

// Notice is emitted, without blocking the loop, when the network looks unstable.
type Notice struct {
	TaskID           string
	ConsecutiveFails int
	Cycle            int
}

// Options configures a Poller. Zero values take defaults.
type Options struct {
	Interval         time.Duration
	BackoffThreshold int
	BackoffFactor    float64
	MaxCycles        int
	Logger           *slog.Logger
	// Sleep replaces the context-aware delay in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Outcome is the result of Poll.
type Outcome struct {
	State    State
	Output   runninghub.Output
	Message  string
	Category Category
	Cycles   int
}

// Poller drives one status loop per call to Poll.
type Poller struct {
	client    Client
	interval  time.Duration
	threshold int
	factor    float64
	maxCycles int
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// New creates a poller with defaults applied.
func New(client Client, opts Options) *Poller {
	p := &Poller{
		client:    client,
		interval:  opts.Interval,
		threshold: opts.BackoffThreshold,
		factor:    opts.BackoffFactor,
		maxCycles: opts.MaxCycles,
		logger:    opts.Logger,
		sleep:     opts.Sleep,
	}
	if p.interval <= 0 {
		p.interval = DefaultInterval
	}
	if p.threshold <= 0 {
		p.threshold = DefaultBackoffThreshold
	}
	if p.factor < 1 {
		p.factor = DefaultBackoffFactor
	}
	if p.maxCycles <= 0 {
		p.maxCycles = DefaultMaxCycles
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	if p.sleep == nil {
		p.sleep = sleepContext
	}
	return p
}

type verdict int

const (
	verdictTransient verdict = iota
	verdictInProgress
	verdictSuccess
	verdictFailure
)

// Poll blocks until the task reaches a terminal outcome, the cycle cap is
// exceeded, or ctx is cancelled. Only cancellation returns an error.
// onUnstable may be nil; it runs on its own goroutine.
func (p *Poller) Poll(ctx context.Context, taskID string, onUnstable func(Notice)) (Outcome, error) {
	logger := p.logger.With(slog.String("task_id", taskID))
	cycles := 0
	consecutive := 0

	for {
		if err := ctx.Err(); err != nil {
			return Outcome{Cycles: cycles}, err
		}

		v, outcome := p.cycle(ctx, logger, taskID)
		cycles++
		if ctx.Err() != nil {
			return Outcome{Cycles: cycles}, ctx.Err()
		}

		switch v {
		case verdictSuccess, verdictFailure:
			outcome.Cycles = cycles
			logger.Info("Polling finished",
				slog.String("state", string(outcome.State)),
				slog.Int("cycles", cycles),
			)
			return outcome, nil
		case verdictInProgress:
			consecutive = 0
		case verdictTransient:
			consecutive++
		}

		if cycles > p.maxCycles {
			logger.Warn("Polling cap reached", slog.Int("cycles", cycles))
			return Outcome{
				State:    StateTimedOut,
				Message:  fmt.Sprintf("no result after %d status checks; the job may still finish on the server", cycles),
				Category: CategoryTimeout,
				Cycles:   cycles,
			}, nil
		}

		wait := p.interval
		if v == verdictTransient && consecutive >= p.threshold {
			wait = time.Duration(float64(p.interval) * p.factor)
			logger.Warn("Network unstable, backing off",
				slog.Int("consecutive_errors", consecutive),
				slog.Duration("wait", wait),
			)
			if onUnstable != nil {
				go onUnstable(Notice{TaskID: taskID, ConsecutiveFails: consecutive, Cycle: cycles})
			}
			consecutive = 0
		}

		if err := p.sleep(ctx, wait); err != nil {
			return Outcome{Cycles: cycles}, err
		}
	}
}

// cycle performs one status check and classifies it.
func (p *Poller) cycle(ctx context.Context, logger *slog.Logger, taskID string) (verdict, Outcome) {
	resp, err := p.client.Status(ctx, taskID)
	if err != nil {
		return p.classifyError(logger, err, "status")
	}

	token := cases.Fold().String(strings.TrimSpace(resp.Text))
	switch {
	case successTokens[token]:
		return p.fetchOutputs(ctx, logger, taskID)
	case failedTokens[token]:
		msg := p.failureReason(ctx, taskID)
		return verdictFailure, Outcome{State: StateFailure, Message: msg, Category: Categorize(msg)}
	case runningTokens[token]:
		logger.Debug("Task in progress", slog.String("status", resp.Text))
		return verdictInProgress, Outcome{}
	default:
		logger.Debug("Unrecognized task status", slog.String("status", resp.Text))
		return verdictTransient, Outcome{}
	}
}

func (p *Poller) fetchOutputs(ctx context.Context, logger *slog.Logger, taskID string) (verdict, Outcome) {
	out, err := p.client.Outputs(ctx, taskID)
	if err != nil {
		return p.classifyError(logger, err, "outputs")
	}
	return verdictSuccess, Outcome{State: StateSuccess, Output: out}
}

// failureReason asks the outputs endpoint why the task failed.
func (p *Poller) failureReason(ctx context.Context, taskID string) string {
	const fallback = "the generation task failed on the server"
	_, err := p.client.Outputs(ctx, taskID)
	if apiErr, ok := runninghub.AsAPIError(err); ok && apiErr.Code == runninghub.CodeTaskFailed && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

func (p *Poller) classifyError(logger *slog.Logger, err error, op string) (verdict, Outcome) {
	apiErr, ok := runninghub.AsAPIError(err)
	if !ok {
		logger.Debug("Transient poll error", slog.String("op", op), slog.String("error", err.Error()))
		return verdictTransient, Outcome{}
	}

	switch apiErr.Code {
	case runninghub.CodeTaskRunning:
		return verdictInProgress, Outcome{}
	case runninghub.CodeTaskNotFound,
		runninghub.CodeTaskFailed,
		runninghub.CodeInvalidRequest,
		runninghub.CodeUnauthorized,
		runninghub.CodeBusiness,
		runninghub.CodeNoOutput:
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Error()
		}
		return verdictFailure, Outcome{
			State:    StateFailure,
			Message:  msg,
			Category: Categorize(msg),
		}
	default:
		// transport, server, malformed and unmapped 4xx
		logger.Debug("Transient poll error",
			slog.String("op", op),
			slog.String("code", string(apiErr.Code)),
			slog.Int("http_status", apiErr.HTTPStatus),
		)
		return verdictTransient, Outcome{}
	}
}

var (
	successTokens = map[string]bool{"success": true, "succeeded": true, "completed": true, "done": true}
	failedTokens  = map[string]bool{"failed": true, "error": true}
	runningTokens = map[string]bool{
		"running":     true,
		"queued":      true,
		"pending":     true,
		"processing":  true,
		"in_progress": true,
	}
)

var categoryHints = []struct {
	category Category
	hints    []string
}{
	{CategoryOutOfMemory, []string{"out of memory", "outofmemory"}},
	{CategoryTimeout, []string{"timeout", "timed out"}},
	{CategoryFormat, []string{"unsupported", "format", "invalid image", "invalid video"}},
}

// Categorize maps a failure reason to a guidance category.
func Categorize(message string) Category {
	folded := cases.Fold().String(message)
	for _, c := range categoryHints {
		for _, hint := range c.hints {
			if strings.Contains(folded, hint) {
				return c.category
			}
		}
	}
	return CategoryGeneric
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
