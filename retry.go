package disclosegate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// Receipt is the platform's proof of a successful submission.
type Receipt struct {
	ReceiptID string
	Payload   []byte
}

// Digest returns the lowercase hex sha256 of the receipt payload, the value
// recorded in the audit trail and matched by the status tracker.
func (r Receipt) Digest() string {
	sum := sha256.Sum256(r.Payload)
	return hex.EncodeToString(sum[:])
}

// PlatformAdapter delivers a draft to one destination platform. Failures
// must be typed: return a *PlatformError tagged transient or permanent.
type PlatformAdapter interface {
	Submit(ctx context.Context, d Draft) (Receipt, error)
}

// ExecutorConfig controls delivery and backoff.
type ExecutorConfig struct {
	// MaxRetries bounds retries after the initial attempt. The default of
	// 3 allows up to 4 total attempts.
	MaxRetries int

	// BackoffBase and BackoffCap bound the exponential delay
	// min(base << attempt, cap).
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// Jitter adds up to this fraction of the delay (0 disables).
	Jitter float64

	// Workers bounds the pool driving queued submissions.
	Workers int

	// QueueDepth bounds the pending submission channel.
	QueueDepth int

	// Clock and Sleep override the real clock, for tests. Sleep must
	// honor context cancellation.
	Clock func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func (c *ExecutorConfig) setDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 5 * time.Minute
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 256
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Sleep == nil {
		c.Sleep = sleepContext
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Executor delivers approved submissions through platform adapters with
// bounded exponential backoff. A bounded worker pool processes the queue;
// each worker owns one submission and drives its retries sequentially to a
// terminal state before releasing it, so retries of the same submission
// never run concurrently.
type Executor struct {
	store    StateStore
	trail    *Trail
	adapters map[string]PlatformAdapter
	cfg      ExecutorConfig
	log      *slog.Logger
	queue    chan string
	wg       sync.WaitGroup
}

// NewExecutor builds an executor over the given adapters, keyed by
// platform name.
func NewExecutor(store StateStore, trail *Trail, adapters map[string]PlatformAdapter, cfg ExecutorConfig, log *slog.Logger) *Executor {
	cfg.setDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		store:    store,
		trail:    trail,
		adapters: adapters,
		cfg:      cfg,
		log:      log,
		queue:    make(chan string, cfg.QueueDepth),
	}
}

// Dispatch hands a queued submission to the worker pool.
func (e *Executor) Dispatch(submissionID string) error {
	select {
	case e.queue <- submissionID:
		return nil
	default:
		return fmt.Errorf("%w: executor queue full", ErrValidation)
	}
}

// Run starts the worker pool and blocks until ctx is canceled and all
// in-flight submissions reached a terminal state or were interrupted.
func (e *Executor) Run(ctx context.Context) {
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id := <-e.queue:
					if err := e.Process(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
						e.log.Error("submission terminated", "submission_id", id, "err", err)
					}
				}
			}
		}()
	}
	e.wg.Wait()
}

// Process drives one queued submission to a terminal state. Every attempt
// and outcome is appended to the audit trail; a failed delivery is never
// silently dropped nor silently assumed successful.
//
// Cancellation (a REJECT decision or explicit revoke) is checked lazily
// immediately before each attempt executes.
func (e *Executor) Process(ctx context.Context, submissionID string) error {
	sub, err := e.store.GetSubmission(submissionID)
	if err != nil {
		return fmt.Errorf("%w: unknown submission %s", ErrValidation, submissionID)
	}
	if sub.Status.Terminal() {
		return nil
	}
	draft, err := e.store.GetDraft(sub.DraftID)
	if err != nil {
		return fmt.Errorf("load draft %s: %w", sub.DraftID, err)
	}
	adapter, ok := e.adapters[sub.Platform]
	if !ok {
		return e.fail(sub, fmt.Sprintf("no adapter for platform %q", sub.Platform), FailurePermanent)
	}

	for {
		// Lazy cancellation check: re-read the row right before the
		// attempt fires.
		sub, err = e.store.GetSubmission(submissionID)
		if err != nil {
			return err
		}
		if sub.Status == SubmissionCanceled {
			_, err := e.trail.Append(executorActor, "submission.canceled", map[string]any{
				"submission_id": sub.SubmissionID,
				"draft_id":      sub.DraftID,
			})
			return err
		}
		if sub.Status.Terminal() {
			return nil
		}

		receipt, serr := adapter.Submit(ctx, draft)
		if serr == nil {
			return e.succeed(sub, receipt)
		}

		var perr *PlatformError
		if !errors.As(serr, &perr) || !perr.Transient() {
			return e.fail(sub, serr.Error(), FailurePermanent)
		}

		if sub.AttemptCount >= e.cfg.MaxRetries {
			return e.fail(sub, fmt.Sprintf("retries exhausted after %d attempts: %s", sub.AttemptCount+1, serr), FailureTransient)
		}

		delay := e.backoff(sub.AttemptCount)
		if _, err := e.trail.Append(executorActor, "submission.retry_scheduled", map[string]any{
			"submission_id": sub.SubmissionID,
			"draft_id":      sub.DraftID,
			"attempt":       sub.AttemptCount + 1,
			"error":         serr.Error(),
			"delay_ms":      delay.Milliseconds(),
		}); err != nil {
			return err
		}
		e.log.Warn("transient delivery failure",
			"submission_id", sub.SubmissionID, "attempt", sub.AttemptCount+1, "delay", delay, "err", serr)

		sub.AttemptCount++
		sub.NextRetryAt = e.cfg.Clock().UTC().Add(delay)
		if err := e.store.UpdateSubmission(sub); err != nil {
			return err
		}
		if err := e.cfg.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// executorActor is the audit actor for deliveries driven by the pool.
const executorActor = "retry-executor"

func (e *Executor) succeed(sub QueuedSubmission, receipt Receipt) error {
	sub.Status = SubmissionSubmitted
	sub.ReceiptDigest = receipt.Digest()
	if err := e.store.UpdateSubmission(sub); err != nil {
		return err
	}
	if err := transitionDraft(e.store, e.trail, executorActor, sub.DraftID, StatusSubmitting, StatusSubmitted, map[string]any{
		"submission_id": sub.SubmissionID,
	}); err != nil {
		return err
	}
	_, err := e.trail.Append(executorActor, "submission.submitted", map[string]any{
		"submission_id":  sub.SubmissionID,
		"draft_id":       sub.DraftID,
		"platform":       sub.Platform,
		"receipt_id":     receipt.ReceiptID,
		"receipt_digest": sub.ReceiptDigest,
	})
	if err != nil {
		return err
	}
	e.log.Info("submission delivered", "submission_id", sub.SubmissionID, "receipt_id", receipt.ReceiptID)
	return nil
}

func (e *Executor) fail(sub QueuedSubmission, reason string, kind FailureKind) error {
	sub.Status = SubmissionFailed
	if err := e.store.UpdateSubmission(sub); err != nil {
		return err
	}
	if err := transitionDraft(e.store, e.trail, executorActor, sub.DraftID, StatusSubmitting, StatusFailed, map[string]any{
		"submission_id": sub.SubmissionID,
		"reason":        reason,
	}); err != nil {
		return err
	}
	if _, err := e.trail.Append(executorActor, "submission.failed", map[string]any{
		"submission_id": sub.SubmissionID,
		"draft_id":      sub.DraftID,
		"kind":          string(kind),
		"reason":        reason,
	}); err != nil {
		return err
	}
	e.log.Error("submission failed", "submission_id", sub.SubmissionID, "kind", kind, "reason", reason)
	return fmt.Errorf("%w: %s", ErrSubmissionFailed, reason)
}

// backoff computes min(base << attempt, cap) plus optional jitter.
func (e *Executor) backoff(attempt int) time.Duration {
	d := e.cfg.BackoffBase << uint(attempt)
	if d > e.cfg.BackoffCap || d <= 0 {
		d = e.cfg.BackoffCap
	}
	if e.cfg.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(float64(d)*e.cfg.Jitter) + 1))
	}
	return d
}
