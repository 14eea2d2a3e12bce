package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"gramflow/internal/instagram"
	"gramflow/internal/metrics"
	"gramflow/internal/queue"
	"gramflow/internal/ratelimit"
)

// Automations runs the tenant's configured responses to incoming events.
type Automations interface {
	HandleComment(ctx context.Context, acct instagram.Account, ev CommentEvent) error
	HandleMessage(ctx context.Context, acct instagram.Account, ev MessageEvent) error
	HandlePostback(ctx context.Context, acct instagram.Account, ev PostbackEvent) error
}

// Result summarizes one delivery.
type Result struct {
	Processed int `json:"processed"`
	Queued    int `json:"queued"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Dispatcher routes decoded events. Comments cost budget and go through
// admission first; messages and postbacks continue conversations that were
// already admitted, so they run immediately in the background.
type Dispatcher struct {
	admission   *ratelimit.Service
	directory   instagram.Directory
	automations Automations
	metrics     *metrics.Metrics
	log         *slog.Logger
	commentCost int64

	wg sync.WaitGroup
}

func NewDispatcher(admission *ratelimit.Service, directory instagram.Directory, automations Automations, m *metrics.Metrics, log *slog.Logger, commentCost int64) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if commentCost <= 0 {
		commentCost = 1
	}
	return &Dispatcher{
		admission:   admission,
		directory:   directory,
		automations: automations,
		metrics:     m,
		log:         log,
		commentCost: commentCost,
	}
}

// ProcessPayload decodes and dispatches one webhook delivery.
func (d *Dispatcher) ProcessPayload(ctx context.Context, raw []byte) (Result, error) {
	events, unknown, err := ParsePayload(raw)
	if err != nil {
		return Result{}, err
	}

	res := Result{Skipped: unknown}
	for _, ev := range events {
		if d.metrics != nil {
			d.metrics.WebhookEvents.WithLabelValues(string(ev.Kind)).Inc()
		}
		switch ev.Kind {
		case EventKindComment:
			d.dispatchComment(ctx, ev, &res)
		case EventKindMessage, EventKindPostback:
			d.dispatchContinuation(ev)
			res.Processed++
		}
	}
	return res, nil
}

func (d *Dispatcher) dispatchComment(ctx context.Context, ev Event, res *Result) {
	acct, err := d.directory.GetAccount(ctx, ev.AccountID())
	if err != nil {
		d.log.Warn("webhook for unknown account", "account_id", ev.AccountID(), "error", err)
		res.Errors++
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		res.Errors++
		return
	}
	decision, err := d.admission.RecordCall(ctx, ratelimit.CallRequest{
		TenantID:        acct.TenantID,
		AccountID:       acct.ID,
		Calls:           d.commentCost,
		IncomingWebhook: true,
		Payload:         payload,
	})
	if err != nil {
		if decision.Queued {
			res.Queued++
		} else {
			res.Errors++
		}
		return
	}
	if !decision.Allowed {
		if decision.Queued {
			res.Queued++
		} else {
			res.Errors++
		}
		return
	}

	if err := d.automations.HandleComment(ctx, acct, *ev.Comment); err != nil {
		d.log.Error("comment automation failed", "account_id", acct.ID, "comment_id", ev.Comment.CommentID, "error", err)
		res.Errors++
		return
	}
	res.Processed++
}

// dispatchContinuation fires the handler in the background. Failures are
// logged and never surface to the webhook response.
func (d *Dispatcher) dispatchContinuation(ev Event) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx := context.Background()

		acct, err := d.directory.GetAccount(ctx, ev.AccountID())
		if err != nil {
			d.log.Warn("continuation for unknown account", "account_id", ev.AccountID(), "error", err)
			return
		}
		switch ev.Kind {
		case EventKindMessage:
			err = d.automations.HandleMessage(ctx, acct, *ev.Message)
		case EventKindPostback:
			err = d.automations.HandlePostback(ctx, acct, *ev.Postback)
		}
		if err != nil {
			d.log.Error("continuation failed", "kind", ev.Kind, "account_id", acct.ID, "error", err)
		}
	}()
}

// Wait blocks until in-flight continuations finish. Called on shutdown.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// ReplayCall makes the dispatcher the replay target for deferred comments.
// A denial keeps the call on the queue without re-enqueueing it.
func (d *Dispatcher) ReplayCall(ctx context.Context, c queue.DeferredCall) (bool, error) {
	var ev Event
	if err := json.Unmarshal(c.Payload, &ev); err != nil {
		return false, fmt.Errorf("webhook: decode deferred call: %w", err)
	}
	if ev.Kind != EventKindComment || ev.Comment == nil {
		return false, errors.New("webhook: deferred call is not a comment")
	}

	acct, err := d.directory.GetAccount(ctx, ev.AccountID())
	if err != nil {
		return false, err
	}

	decision, err := d.admission.RecordReplay(ctx, ratelimit.CallRequest{
		TenantID:        c.TenantID,
		AccountID:       c.AccountID,
		Calls:           d.commentCost,
		IncomingWebhook: true,
	})
	if err != nil {
		return false, err
	}
	if !decision.Allowed {
		return false, nil
	}

	if err := d.automations.HandleComment(ctx, acct, *ev.Comment); err != nil {
		// Budget is already spent; log rather than burn another attempt.
		d.log.Error("replayed comment automation failed", "comment_id", ev.Comment.CommentID, "error", err)
	}
	return true, nil
}
