package publisher

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/itambient/feedpost/app/cfg"
	"github.com/itambient/feedpost/app/feed"
	"github.com/itambient/feedpost/app/telegram"
)

// Runner drives one polling cycle: load sources, fetch candidates, consult
// the policy, deliver admitted items and record them. Sources and items are
// processed strictly one at a time so that every rate-limit check observes
// the records written just before it.
type Runner struct {
	sources   SourceLoader
	fetcher   Fetcher
	deliverer Deliverer
	ledger    Ledger
	policy    *Policy

	runMax    int
	postDelay time.Duration
	cooldown  time.Duration
	retention time.Duration

	now func() time.Time
}

func NewRunner(c *cfg.Cfg, srcs SourceLoader, fetcher Fetcher, deliverer Deliverer, led Ledger) *Runner {
	return &Runner{
		sources:   srcs,
		fetcher:   fetcher,
		deliverer: deliverer,
		ledger:    led,
		policy:    NewPolicy(led, c),
		runMax:    c.MaxPostsPerRun,
		postDelay: time.Duration(c.PostDelaySeconds) * time.Second,
		cooldown:  time.Duration(c.CooldownSeconds) * time.Second,
		retention: time.Duration(c.RetentionHours) * time.Hour,
		now:       time.Now,
	}
}

// Run executes a single cycle. A returned error means the cycle was aborted
// by a ledger failure or shutdown; per-source and per-item failures are
// logged and contained.
func (r *Runner) Run(ctx context.Context) error {
	if r.retention > 0 {
		removed, err := r.ledger.Prune(r.now().UTC().Add(-r.retention))
		if err != nil {
			return fmt.Errorf("failed to prune ledger: %w", err)
		}
		if removed > 0 {
			slog.Debug("Pruned ledger entries", "removed", removed)
		}
	}

	srcs, err := r.sources.Load()
	if err != nil {
		return fmt.Errorf("failed to load sources: %w", err)
	}
	if len(srcs) == 0 {
		slog.Warn("No sources configured, skipping cycle")
		return nil
	}

	if r.policy.InNightMode() {
		slog.Info("Night mode active, skipping cycle")
		return nil
	}

	dailyRemaining, err := r.policy.DailyRemaining()
	if err != nil {
		return fmt.Errorf("failed to compute daily budget: %w", err)
	}
	if dailyRemaining <= 0 {
		slog.Info("Daily cap reached, skipping cycle")
		return nil
	}

	postsRemaining := min(r.runMax, dailyRemaining)
	sent := 0

sourceLoop:
	for _, src := range srcs {
		if postsRemaining <= 0 {
			break
		}

		items, err := r.fetcher.Fetch(ctx, src.URL)
		if err != nil {
			slog.Warn("Failed to fetch feed, skipping source", "url", src.URL, "error", err)
			continue
		}

		for _, item := range items {
			if postsRemaining <= 0 {
				break sourceLoop
			}

			decision, err := r.policy.Evaluate(item.Link, postsRemaining)
			if err != nil {
				return fmt.Errorf("policy evaluation failed: %w", err)
			}

			switch decision {
			case StopNightMode:
				slog.Info("Night mode started mid-cycle, stopping")
				break sourceLoop
			case StopDailyCap:
				slog.Info("Daily cap reached mid-cycle, stopping")
				break sourceLoop
			case SkipDuplicate:
				continue
			case SkipDomainCap:
				slog.Debug("Domain cap reached, skipping item", "link", item.Link)
				continue
			}

			title := cmp.Or(feed.CleanText(item.Title), item.Link)

			// Shutdown must not abandon an item mid-delivery: deliver and
			// record run detached from cancellation, which takes effect
			// again at the item-boundary delays below.
			itemCtx := context.WithoutCancel(ctx)
			if err := r.publish(itemCtx, src.Tag, title, item); err != nil {
				slog.Warn("Delivery failed, applying cooldown", "link", item.Link, "error", err)
				if err := sleep(ctx, r.cooldown); err != nil {
					return err
				}
				continue
			}

			if err := r.ledger.Record(item.Link, title); err != nil {
				return fmt.Errorf("failed to record sent item: %w", err)
			}
			postsRemaining--
			sent++

			if err := sleep(ctx, r.postDelay); err != nil {
				return err
			}
		}
	}

	slog.Info("Cycle finished", "sent", sent, "budget_left", postsRemaining)
	return nil
}

func (r *Runner) publish(ctx context.Context, tag, title string, item feed.Item) error {
	summary := feed.CleanText(item.Summary)

	msg := telegram.FormatPost(tag, title, summary, item.Link)
	return r.deliverer.Send(ctx, msg)
}

// sleep waits for d or until the context is cancelled. Used for the
// inter-post delay and the failure cooldown.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
