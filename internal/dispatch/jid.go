package dispatch

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewJobID mints a time-derived job id: a UTC timestamp with microsecond
// precision plus a short random suffix so two dispatches in the same
// microsecond never collide. The timestamp prefix keeps ids sortable by
// issue time, which the job history store relies on for recency listings.
func NewJobID(now time.Time) string {
	now = now.UTC()
	return fmt.Sprintf("%s%06d_%.8s",
		now.Format("20060102150405"),
		now.Nanosecond()/1000,
		uuid.NewString(),
	)
}
