package credits

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Tracker tracks daily analysis credits per identity and enforces the allowance
type Tracker struct {
	mu         sync.Mutex
	dailyLimit int
	now        func() time.Time

	// Daily tracking
	used      map[string]int
	runs      map[string]int
	resetTime time.Time
}

// NewTracker creates a tracker granting dailyLimit credits per identity per day
func NewTracker(dailyLimit int) *Tracker {
	return newTrackerAt(dailyLimit, time.Now)
}

func newTrackerAt(dailyLimit int, now func() time.Time) *Tracker {
	return &Tracker{
		dailyLimit: dailyLimit,
		now:        now,
		used:       make(map[string]int),
		runs:       make(map[string]int),
		resetTime:  nextMidnight(now()),
	}
}

func nextMidnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
}

// resetDailyIfNeeded resets daily counters if a new day has started
func (t *Tracker) resetDailyIfNeeded() {
	now := t.now()
	if now.Before(t.resetTime) {
		return
	}
	t.used = make(map[string]int)
	t.runs = make(map[string]int)
	t.resetTime = nextMidnight(now)
	zap.L().Info("daily credits reset", zap.Time("next_reset", t.resetTime))
}

// CheckLimits returns a *LimitError when identity cannot spend cost credits
func (t *Tracker) CheckLimits(identity string, cost int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetDailyIfNeeded()
	return t.check(identity, cost)
}

func (t *Tracker) check(identity string, cost int) error {
	used := t.used[identity]
	if used+cost > t.dailyLimit {
		return &LimitError{
			Identity:  identity,
			Limit:     t.dailyLimit,
			Used:      used,
			Requested: cost,
			ResetAt:   t.resetTime,
		}
	}
	return nil
}

// Consume checks the allowance and records the spend atomically
func (t *Tracker) Consume(identity string, cost int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetDailyIfNeeded()
	if err := t.check(identity, cost); err != nil {
		return err
	}
	t.used[identity] += cost
	t.runs[identity]++

	zap.L().Debug("credits consumed",
		zap.String("identity", identity),
		zap.Int("cost", cost),
		zap.Int("used", t.used[identity]),
		zap.Int("limit", t.dailyLimit))
	return nil
}

// Refund returns credits for a run that did not produce a result
func (t *Tracker) Refund(identity string, cost int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetDailyIfNeeded()
	t.used[identity] = max(t.used[identity]-cost, 0)
	if t.runs[identity] > 0 {
		t.runs[identity]--
	}
}

// Stats returns the current credit statistics for identity
func (t *Tracker) Stats(identity string) Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetDailyIfNeeded()
	used := t.used[identity]
	return Stats{
		Identity:      identity,
		Used:          used,
		Remaining:     max(t.dailyLimit-used, 0),
		DailyLimit:    t.dailyLimit,
		RunsToday:     t.runs[identity],
		NextResetTime: t.resetTime,
	}
}

// Stats represents daily credit statistics
type Stats struct {
	Identity      string    `json:"identity"`
	Used          int       `json:"used"`
	Remaining     int       `json:"remaining"`
	DailyLimit    int       `json:"daily_limit"`
	RunsToday     int       `json:"runs_today"`
	NextResetTime time.Time `json:"next_reset_time"`
}

// LimitError represents an exhausted daily allowance
type LimitError struct {
	Identity  string    `json:"identity"`
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Requested int       `json:"requested"`
	ResetAt   time.Time `json:"reset_at"`
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("daily credit limit reached: %d of %d used, %d requested", e.Used, e.Limit, e.Requested)
}
