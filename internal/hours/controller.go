// Package hours manages the working-hours shift countdown: a
// server-authoritative timer mirrored locally by a 5-second poll, with
// threshold warnings, wallet-funded extension, and forced auto-stop.
package hours

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/driver-agent/internal/api"
	"github.com/example/driver-agent/internal/models"
	"github.com/example/driver-agent/internal/notify"
	"github.com/example/driver-agent/internal/observability"
)

// ExtensionHours is the fixed top-up block a wallet debit buys.
const ExtensionHours = 12

// API is the slice of the platform HTTP API the controller needs.
type API interface {
	StartTimer(ctx context.Context, driverID string) error
	StopTimer(ctx context.Context, driverID string) error
	FetchTimerStatus(ctx context.Context, driverID string) (api.TimerStatus, error)
	PurchaseExtension(ctx context.Context, driverID string, additionalHours int) (api.ExtendResult, error)
	SkipWarning(ctx context.Context, driverID string) error
}

// Controller mirrors the server's countdown. The server wins on every
// field at every poll; local state is a cache, never an authority.
type Controller struct {
	DriverID     string
	PollInterval time.Duration

	api      API
	notifier *notify.Registry
	log      *slog.Logger

	mu          sync.Mutex
	timer       models.WorkingHoursTimer
	warning     models.Warning
	showWarning bool
	pollCancel  context.CancelFunc
}

func NewController(driverID string, a API, notifier *notify.Registry, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = notify.NewRegistry()
	}
	return &Controller{
		DriverID:     driverID,
		PollInterval: 5 * time.Second,
		api:          a,
		notifier:     notifier,
		log:          log,
		timer:        defaultTimer(),
	}
}

func defaultTimer() models.WorkingHoursTimer {
	return models.WorkingHoursTimer{FormattedTime: "12:00:00", TotalHours: 12}
}

// Start asks the server to start or resume the shift timer and begins
// polling. Fail-open: an API failure is logged and swallowed so the
// driver still goes online; polling simply does not start.
func (c *Controller) Start(ctx context.Context) {
	if err := c.api.StartTimer(ctx, c.DriverID); err != nil {
		c.log.Warn("working-hours start failed, continuing without timer", "error", err)
		return
	}
	c.mu.Lock()
	c.startPollingLocked()
	c.mu.Unlock()
	c.Refresh(ctx)
}

// Stop halts polling first, so an in-flight poll response cannot
// resurrect a just-stopped timer. It then requests the server-side stop
// then resets local state to defaults regardless of the server response.
func (c *Controller) Stop(ctx context.Context) {
	c.mu.Lock()
	c.stopPollingLocked()
	c.mu.Unlock()

	if err := c.api.StopTimer(ctx, c.DriverID); err != nil {
		c.log.Warn("working-hours stop failed, resetting locally anyway", "error", err)
	}

	c.mu.Lock()
	c.timer = defaultTimer()
	c.showWarning = false
	c.warning = models.Warning{}
	c.mu.Unlock()
}

// Refresh fetches the current status and overwrites the local timer
// wholesale. Self-terminates the polling loop when the server reports the
// timer inactive.
func (c *Controller) Refresh(ctx context.Context) {
	st, err := c.api.FetchTimerStatus(ctx, c.DriverID)
	if err != nil {
		c.log.Debug("timer status fetch failed", "error", err)
		return
	}
	observability.TimerPolls.Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.timer = models.WorkingHoursTimer{
		Active:           st.Active,
		RemainingSeconds: st.RemainingSeconds,
		FormattedTime:    st.FormattedTime,
		WarningsIssued:   st.WarningsIssued,
		WalletDeducted:   st.WalletDeducted,
		TotalHours:       st.RemainingSeconds / 3600,
	}
	if !st.Active {
		c.stopPollingLocked()
	}
}

// PurchaseExtension buys the fixed 12-hour block. On success the pending
// warning is dismissed and the status is refreshed immediately rather
// than waiting for the next poll tick; on failure the timer and the
// pending warning are left untouched and the server's reason propagates
// to the caller verbatim.
func (c *Controller) PurchaseExtension(ctx context.Context) (api.ExtendResult, error) {
	res, err := c.api.PurchaseExtension(ctx, c.DriverID, ExtensionHours)
	if err != nil {
		return api.ExtendResult{}, err
	}
	c.mu.Lock()
	c.showWarning = false
	c.mu.Unlock()
	observability.TimerExtensions.Inc()
	c.Refresh(ctx)
	return res, nil
}

// SkipWarning acknowledges the current warning without purchasing. Purely
// informational to the server; the local countdown is untouched.
func (c *Controller) SkipWarning(ctx context.Context) {
	c.mu.Lock()
	c.showWarning = false
	c.mu.Unlock()
	if err := c.api.SkipWarning(ctx, c.DriverID); err != nil {
		c.log.Warn("skip-warning failed", "error", err)
	}
}

// HandleWarning records a server-pushed threshold warning (1h/30m/10m)
// and surfaces the skip-or-extend choice.
func (c *Controller) HandleWarning(w models.Warning) {
	c.mu.Lock()
	c.warning = w
	c.showWarning = true
	c.mu.Unlock()
	observability.TimerWarnings.Inc()
	c.notifier.Publish(notify.EventHoursWarning, w)
}

// HandleAutoStop resets the timer after the server's countdown-expired
// push. Presence and tracking shutdown are the session's job; this only
// settles the timer side.
func (c *Controller) HandleAutoStop() {
	c.mu.Lock()
	c.stopPollingLocked()
	c.timer = defaultTimer()
	c.showWarning = false
	c.mu.Unlock()
}

func (c *Controller) Timer() models.WorkingHoursTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer
}

// CurrentWarning returns the pending warning and whether it is showing.
func (c *Controller) CurrentWarning() (models.Warning, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.warning, c.showWarning
}

// WalletDeducted reports whether an extension fee was charged this shift.
// Manual offline requires the two-step confirmation while true.
func (c *Controller) WalletDeducted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer.WalletDeducted
}

func (c *Controller) startPollingLocked() {
	c.stopPollingLocked()
	ctx, cancel := context.WithCancel(context.Background())
	c.pollCancel = cancel
	interval := c.PollInterval
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Refresh(ctx)
				c.mu.Lock()
				stopped := c.pollCancel == nil
				c.mu.Unlock()
				if stopped {
					return
				}
			}
		}
	}()
}

func (c *Controller) stopPollingLocked() {
	if c.pollCancel != nil {
		c.pollCancel()
		c.pollCancel = nil
	}
}

// FormatHMS renders seconds as HH:MM:SS for warning and countdown
// display.
func FormatHMS(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}
