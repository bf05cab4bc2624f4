package notify

import (
	"context"
	"fmt"
	"time"

	"sprintbot/internal/eventbus"
	"sprintbot/internal/transport"
	logx "sprintbot/pkg/logx"
)

// AlerterConfig configures the operator dead-job reporter.
type AlerterConfig struct {
	OperatorChat int64
	RetryMax     int
	RetryDelay   time.Duration
}

// Alerter forwards dead-job events to the operator chat.
//
// This is the distinct, non-recursive operational-error path: it sends
// directly through the transport with a small fixed retry cap and never
// enqueues jobs, so a dead admin_alert cannot trigger an alert storm.
type Alerter struct {
	cfg     AlerterConfig
	adapter transport.Adapter
	log     logx.Logger
}

func NewAlerter(cfg AlerterConfig, adapter transport.Adapter, log logx.Logger) *Alerter {
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 2
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Alerter{cfg: cfg, adapter: adapter, log: log}
}

// Run consumes dead-job events until ctx is cancelled.
func (a *Alerter) Run(ctx context.Context, bus eventbus.Bus) {
	ch, unsub := bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Type != eventbus.TypeJobDead {
				continue
			}
			dead, ok := ev.Data.(JobEvent)
			if !ok {
				continue
			}
			a.report(ctx, dead)
		}
	}
}

func (a *Alerter) report(ctx context.Context, dead JobEvent) {
	if a.cfg.OperatorChat == 0 {
		a.log.Warn("dead job not reported (no operator chat configured)",
			logx.String("job_id", dead.JobID), logx.Int64("recipient", dead.Recipient), logx.String("kind", string(dead.Kind)))
		return
	}

	text := fmt.Sprintf("☠️ Notification abandoned\njob: %s\nrecipient: %d\nkind: %s\nattempts: %d\nreason: %s",
		dead.JobID, dead.Recipient, dead.Kind, dead.Attempts, dead.Reason)
	if dead.Kind == KindAdminAlert {
		// Losing an alert about an upstream failure compounds the failure.
		text = "🚨 Operational alert could not be delivered\n" + text
	}

	var lastErr error
	for attempt := 0; attempt <= a.cfg.RetryMax; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := a.adapter.SendText(cctx, a.cfg.OperatorChat, text, &transport.SendOptions{DisablePreview: true})
		cancel()
		if err == nil {
			return
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return
		case <-time.After(a.cfg.RetryDelay):
		}
	}
	// Terminal: log only. No recursion into the queue.
	a.log.Error("operator report failed",
		logx.String("job_id", dead.JobID), logx.Int64("recipient", dead.Recipient),
		logx.String("kind", string(dead.Kind)), logx.Err(lastErr))
}
