package directory

import (
	"math"
	"time"

	"github.com/dustin/go-humanize"
)

const day = 24 * time.Hour

// listMagnitudes renders compact list times such as "2m ago" or "1h ago".
var listMagnitudes = []humanize.RelTimeMagnitude{
	{D: time.Minute, Format: "just now", DivBy: time.Second},
	{D: time.Hour, Format: "%dm %s", DivBy: time.Minute},
	{D: day, Format: "%dh %s", DivBy: time.Hour},
	{D: 7 * day, Format: "%dd %s", DivBy: day},
	{D: math.MaxInt64, Format: "%dw %s", DivBy: 7 * day},
}

// DisplayTime formats then relative to now for the conversation list.
func DisplayTime(then, now time.Time) string {
	return humanize.CustomRelTime(then, now, "ago", "from now", listMagnitudes)
}
