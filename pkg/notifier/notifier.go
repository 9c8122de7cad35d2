// Package notifier delivers desktop notifications for build outcomes.
package notifier

import (
	"fmt"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/celestius0/angular-cli/pkg/interfaces"
	"github.com/celestius0/angular-cli/pkg/logger"
)

// BuildNotifier reports rebuild outcomes through the desktop notification
// system. Delivery is best effort; failures are logged and swallowed.
type BuildNotifier struct {
	enabled bool
	log     logger.Logger
}

// New creates a notifier. A disabled notifier drops every event.
func New(enabled bool, log logger.Logger) *BuildNotifier {
	return &BuildNotifier{enabled: enabled, log: log}
}

// BuildComplete sends a success or failure notification for one build.
func (n *BuildNotifier) BuildComplete(buildID string, success bool, duration time.Duration) {
	if !n.enabled {
		return
	}

	short := buildID
	if len(short) > 8 {
		short = short[:8]
	}

	var title, message string
	if success {
		title = "✅ Build Succeeded"
		message = fmt.Sprintf("Build %s completed in %s", short, formatDuration(duration))
	} else {
		title = "❌ Build Failed"
		message = fmt.Sprintf("Build %s failed after %s", short, formatDuration(duration))
	}

	if err := beeep.Notify(title, message, ""); err != nil {
		n.log.Debug("Failed to deliver notification", logger.WithField("error", err))
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

var _ interfaces.Notifier = (*BuildNotifier)(nil)
