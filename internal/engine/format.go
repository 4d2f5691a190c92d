package engine

import "fmt"

// FormatRemaining renders a countdown for display.
func FormatRemaining(seconds int) string {
	if seconds <= 0 {
		return "Auction ended"
	}
	d := seconds / 86400
	h := seconds % 86400 / 3600
	m := seconds % 3600 / 60
	s := seconds % 60

	switch {
	case d > 0:
		return fmt.Sprintf("%dd %dh %dm remaining", d, h, m)
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds remaining", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds remaining", m, s)
	default:
		return fmt.Sprintf("%ds remaining", s)
	}
}
