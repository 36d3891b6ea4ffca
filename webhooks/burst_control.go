package webhooks

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-protect/core"
)

type BurstMode string

const (
	BurstModeNone     BurstMode = "none"
	BurstModeCoalesce BurstMode = "coalesce"
)

type BurstDecision struct {
	Allow    bool
	Metadata map[string]any
}

// BurstController decides whether a delivery proceeds or is coalesced into
// an earlier one inside the window.
type BurstController interface {
	Allow(ctx context.Context, subscriber Subscriber, event core.Event) (BurstDecision, error)
}

type BurstKeyExtractor func(subscriber Subscriber, event core.Event) (string, bool)

type BurstOptions struct {
	Mode       BurstMode
	Window     time.Duration
	MaxEntries int
	ExtractKey BurstKeyExtractor
	Now        func() time.Time
}

const (
	defaultBurstWindow  = 2 * time.Second
	defaultBurstEntries = 4096
)

// DefaultBurstController tracks the last delivery time per coalescing key.
// A repeat inside the window is suppressed; anything else passes and
// refreshes the key.
type DefaultBurstController struct {
	mode       BurstMode
	window     time.Duration
	maxEntries int
	extractKey BurstKeyExtractor
	now        func() time.Time

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

func NewBurstController(opts BurstOptions) *DefaultBurstController {
	c := &DefaultBurstController{
		mode:       normalizeBurstMode(opts.Mode),
		window:     opts.Window,
		maxEntries: opts.MaxEntries,
		extractKey: opts.ExtractKey,
		now:        opts.Now,
		lastSeen:   map[string]time.Time{},
	}
	if c.window <= 0 {
		c.window = defaultBurstWindow
	}
	if c.maxEntries <= 0 {
		c.maxEntries = defaultBurstEntries
	}
	if c.extractKey == nil {
		c.extractKey = DefaultBurstKeyExtractor
	}
	if c.now == nil {
		c.now = func() time.Time { return time.Now().UTC() }
	}
	return c
}

func (c *DefaultBurstController) Allow(_ context.Context, subscriber Subscriber, event core.Event) (BurstDecision, error) {
	pass := BurstDecision{Allow: true}
	if c == nil || c.mode == BurstModeNone {
		return pass, nil
	}
	key, ok := c.extractKey(subscriber, event)
	if !ok {
		return pass, nil
	}
	if key = strings.TrimSpace(key); key == "" {
		return pass, nil
	}

	now := c.now().UTC()

	c.mu.Lock()
	previous, repeat := c.lastSeen[key]
	c.lastSeen[key] = now
	c.evictStale(now)
	c.mu.Unlock()

	if !repeat || now.Sub(previous) >= c.window {
		return pass, nil
	}
	return BurstDecision{
		Allow: false,
		Metadata: map[string]any{
			"burst_mode":      string(c.mode),
			"burst_key":       key,
			"burst_window_ms": c.window.Milliseconds(),
			"coalesced":       true,
		},
	}, nil
}

// evictStale bounds the tracking map. Under the cap it only drops keys long
// past the window; over the cap it sheds anything outside the window until
// back under. Caller holds the mutex.
func (c *DefaultBurstController) evictStale(now time.Time) {
	horizon := c.window
	if len(c.lastSeen) <= c.maxEntries {
		horizon = 4 * c.window
	}
	for key, seenAt := range c.lastSeen {
		if now.Sub(seenAt) > horizon {
			delete(c.lastSeen, key)
		}
		if horizon == c.window && len(c.lastSeen) <= c.maxEntries {
			return
		}
	}
}

// DefaultBurstKeyExtractor coalesces by (subscriber, event name, identity):
// rapid repeats of the same state change to the same receiver collapse, but
// distinct identities never mask each other.
func DefaultBurstKeyExtractor(subscriber Subscriber, event core.Event) (string, bool) {
	name := strings.TrimSpace(strings.ToLower(event.Name))
	identity := strings.TrimSpace(strings.ToLower(event.Identity))
	if name == "" || identity == "" {
		return "", false
	}
	return strings.ToLower(subscriber.Name) + ":" + name + ":" + identity, true
}

func normalizeBurstMode(mode BurstMode) BurstMode {
	if strings.EqualFold(strings.TrimSpace(string(mode)), string(BurstModeCoalesce)) {
		return BurstModeCoalesce
	}
	return BurstModeNone
}

var _ BurstController = (*DefaultBurstController)(nil)
