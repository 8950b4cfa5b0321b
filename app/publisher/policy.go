package publisher

import (
	"time"

	"github.com/itambient/feedpost/app/cfg"
	"github.com/itambient/feedpost/app/ledger"
)

// Decision is the outcome of evaluating one candidate item. Skip decisions
// move on to the next candidate; Stop decisions abort the remainder of the
// cycle.
type Decision int

const (
	Admit Decision = iota
	SkipDuplicate
	SkipDomainCap
	StopDailyCap
	StopNightMode
)

func (d Decision) String() string {
	switch d {
	case Admit:
		return "admit"
	case SkipDuplicate:
		return "skip_duplicate"
	case SkipDomainCap:
		return "skip_domain_cap"
	case StopDailyCap:
		return "stop_daily_cap"
	case StopNightMode:
		return "stop_night_mode"
	default:
		return "unknown"
	}
}

// Policy decides, for each candidate, whether it may be published right now.
// It holds no mutable state: rolling-window counts are recomputed from the
// ledger on every evaluation so that records written earlier in the same
// cycle are observed.
type Policy struct {
	ledger Ledger

	dailyMax   int
	domainMax  int
	runMax     int
	nightStart int
	nightEnd   int

	now func() time.Time
}

func NewPolicy(led Ledger, c *cfg.Cfg) *Policy {
	return &Policy{
		ledger:     led,
		dailyMax:   c.DailyMaxPosts,
		domainMax:  c.DomainMaxPer24h,
		runMax:     c.MaxPostsPerRun,
		nightStart: c.NightStartHour,
		nightEnd:   c.NightEndHour,
		now:        time.Now,
	}
}

// InNightMode reports whether the current local hour falls inside the
// blackout window. A start hour greater than the end hour means the window
// wraps across midnight.
func (p *Policy) InNightMode() bool {
	return hourInWindow(p.now().Hour(), p.nightStart, p.nightEnd)
}

func hourInWindow(hour, start, end int) bool {
	if start < end {
		return hour >= start && hour < end
	}
	if start > end {
		return hour >= start || hour < end
	}
	// start == end: empty window
	return false
}

// DailyRemaining recomputes the rolling-24h budget from the ledger.
func (p *Policy) DailyRemaining() (int, error) {
	sent, err := p.ledger.CountSince(p.now().UTC().Add(-24 * time.Hour))
	if err != nil {
		return 0, err
	}
	return max(0, p.dailyMax-sent), nil
}

// Evaluate applies the publication checks to one candidate, short-circuiting
// in order: night mode, daily cap, run budget, duplicate, domain cap.
func (p *Policy) Evaluate(link string, postsLeft int) (Decision, error) {
	if p.InNightMode() {
		return StopNightMode, nil
	}

	dailyRemaining, err := p.DailyRemaining()
	if err != nil {
		return StopDailyCap, err
	}
	if dailyRemaining <= 0 {
		return StopDailyCap, nil
	}

	if min(postsLeft, dailyRemaining, p.runMax) <= 0 {
		return StopDailyCap, nil
	}

	exists, err := p.ledger.Exists(link)
	if err != nil {
		return SkipDuplicate, err
	}
	if exists {
		return SkipDuplicate, nil
	}

	domain := ledger.DomainOf(link)
	domainCount, err := p.ledger.CountSinceByDomain(domain, p.now().UTC().Add(-24*time.Hour))
	if err != nil {
		return SkipDomainCap, err
	}
	if domainCount >= p.domainMax {
		return SkipDomainCap, nil
	}

	return Admit, nil
}
