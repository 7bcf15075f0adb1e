package services

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"comedores/internal/cache"
	"comedores/internal/utils"
)

const (
	cooldownKeyPrefix = "resend:cooldown:"
	bucketKeyPrefix   = "resend:bucket:"
	windowKeyPrefix   = "resend:window:"
)

type ThrottleConfig struct {
	Cooldown     time.Duration
	ResendWindow time.Duration
	MaxFree      int
}

// ResendThrottle is the two-tier resend limiter: a fixed cooldown after each
// dispatch and a capped count per rolling window. Keys are normalized emails,
// so it works for addresses that have no account.
type ResendThrottle struct {
	store cache.Store
	clock utils.Clock
	cfg   ThrottleConfig
}

func NewResendThrottle(store cache.Store, clock utils.Clock, cfg ThrottleConfig) *ResendThrottle {
	if clock == nil {
		clock = utils.RealClock{}
	}
	return &ResendThrottle{store: store, clock: clock, cfg: cfg}
}

// StartCooldown records a dispatch for email.
func (t *ResendThrottle) StartCooldown(ctx context.Context, email string) error {
	if t.cfg.Cooldown <= 0 {
		return nil
	}
	now := t.clock.Now()
	if err := t.store.Set(ctx, cooldownKeyPrefix+utils.NormalizeEmail(email), formatNanos(now), t.cfg.Cooldown); err != nil {
		return fmt.Errorf("start cooldown: %w", err)
	}
	return nil
}

// CooldownRemaining returns whole seconds left, rounded up, or 0.
func (t *ResendThrottle) CooldownRemaining(ctx context.Context, email string) (int, error) {
	raw, ok, err := t.store.Get(ctx, cooldownKeyPrefix+utils.NormalizeEmail(email))
	if err != nil {
		return 0, fmt.Errorf("cooldown remaining: %w", err)
	}
	if !ok {
		return 0, nil
	}
	marker, err := parseNanos(raw)
	if err != nil {
		return 0, nil
	}
	return ceilSeconds(t.cfg.Cooldown - t.clock.Now().Sub(marker)), nil
}

// CanResendNow reports whether the current window still has room. When it
// does not, remaining is the number of seconds until the window lapses.
func (t *ResendThrottle) CanResendNow(ctx context.Context, email string) (bool, int, error) {
	count, start, ok, err := t.bucket(ctx, email)
	if err != nil {
		return false, 0, err
	}
	now := t.clock.Now()
	if !ok || now.Sub(start) >= t.cfg.ResendWindow {
		return true, 0, nil
	}
	if count >= t.cfg.MaxFree {
		return false, ceilSeconds(t.cfg.ResendWindow - now.Sub(start)), nil
	}
	return true, 0, nil
}

// MarkResendConsumed counts one resend in the current window, opening a new
// window at count 1 when the old one lapsed. The key TTL is refreshed to the
// window length every time.
func (t *ResendThrottle) MarkResendConsumed(ctx context.Context, email string) error {
	key := utils.NormalizeEmail(email)
	now := t.clock.Now()

	count, start, ok, err := t.bucket(ctx, email)
	if err != nil {
		return err
	}
	if !ok || now.Sub(start) >= t.cfg.ResendWindow {
		start, err = t.openWindow(ctx, key, now)
		if err != nil {
			return err
		}
		count = 0
	}
	count++
	if err := t.store.Set(ctx, bucketKeyPrefix+key, fmt.Sprintf("%d:%s", count, formatNanos(start)), t.cfg.ResendWindow); err != nil {
		return fmt.Errorf("mark resend consumed: %w", err)
	}
	return nil
}

// openWindow lets racing first writers agree on one window start.
func (t *ResendThrottle) openWindow(ctx context.Context, key string, now time.Time) (time.Time, error) {
	added, err := t.store.AddIfAbsent(ctx, windowKeyPrefix+key, formatNanos(now), t.cfg.ResendWindow)
	if err != nil {
		return time.Time{}, fmt.Errorf("open resend window: %w", err)
	}
	if added {
		return now, nil
	}
	raw, found, err := t.store.Get(ctx, windowKeyPrefix+key)
	if err != nil {
		return time.Time{}, fmt.Errorf("open resend window: %w", err)
	}
	if found {
		if ws, perr := parseNanos(raw); perr == nil && !ws.After(now) && now.Sub(ws) < t.cfg.ResendWindow {
			return ws, nil
		}
	}
	if err := t.store.Set(ctx, windowKeyPrefix+key, formatNanos(now), t.cfg.ResendWindow); err != nil {
		return time.Time{}, fmt.Errorf("open resend window: %w", err)
	}
	return now, nil
}

func (t *ResendThrottle) bucket(ctx context.Context, email string) (count int, start time.Time, ok bool, err error) {
	raw, found, err := t.store.Get(ctx, bucketKeyPrefix+utils.NormalizeEmail(email))
	if err != nil {
		return 0, time.Time{}, false, fmt.Errorf("resend bucket: %w", err)
	}
	if !found {
		return 0, time.Time{}, false, nil
	}
	c, s, perr := parseBucket(raw)
	if perr != nil {
		// Unreadable entries count as an empty window.
		return 0, time.Time{}, false, nil
	}
	return c, s, true, nil
}

func parseBucket(raw string) (int, time.Time, error) {
	countPart, startPart, found := strings.Cut(raw, ":")
	if !found {
		return 0, time.Time{}, fmt.Errorf("bucket %q: missing separator", raw)
	}
	count, err := strconv.Atoi(countPart)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("bucket %q: %w", raw, err)
	}
	start, err := parseNanos(startPart)
	if err != nil {
		return 0, time.Time{}, err
	}
	return count, start, nil
}

func formatNanos(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10)
}

func parseNanos(raw string) (time.Time, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", raw, err)
	}
	return time.Unix(0, n).UTC(), nil
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
