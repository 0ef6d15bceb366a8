package turnover

import (
	"time"

	"github.com/google/uuid"
)

type Progress struct {
	TurnoverID       uuid.UUID     `json:"turnover_id"`
	BedID            uuid.UUID     `json:"bed_id"`
	Status           Status        `json:"status"`
	StartedAt        time.Time     `json:"started_at"`
	ExpectedDuration time.Duration `json:"expected_duration"`
	Elapsed          time.Duration `json:"elapsed"`
	Remaining        time.Duration `json:"remaining"`
	Percentage       float64       `json:"percentage"`
}

// ComputeProgress derives elapsed, remaining and percentage from timestamps.
// Remaining clamps at 0 and percentage at [0, 100].
func ComputeProgress(startedAt time.Time, expected time.Duration, now time.Time) (elapsed, remaining time.Duration, percentage float64) {
	elapsed = now.Sub(startedAt)
	if elapsed < 0 {
		elapsed = 0
	}

	remaining = expected - elapsed
	if remaining < 0 {
		remaining = 0
	}

	if expected <= 0 {
		return elapsed, 0, 100
	}
	percentage = float64(elapsed) / float64(expected) * 100
	if percentage > 100 {
		percentage = 100
	}
	return elapsed, remaining, percentage
}

func progressOf(rec Record, now time.Time) Progress {
	p := Progress{
		TurnoverID:       rec.ID,
		BedID:            rec.BedID,
		Status:           rec.Status,
		StartedAt:        rec.StartedAt,
		ExpectedDuration: rec.ExpectedDuration,
	}

	switch rec.Status {
	case StatusCompleted:
		p.Elapsed = rec.CompletedAt.Sub(rec.StartedAt)
		p.Remaining = 0
		p.Percentage = 100
	case StatusCancelled:
		p.Elapsed, p.Remaining, p.Percentage = ComputeProgress(rec.StartedAt, rec.ExpectedDuration, *rec.CompletedAt)
	default:
		p.Elapsed, p.Remaining, p.Percentage = ComputeProgress(rec.StartedAt, rec.ExpectedDuration, now)
	}
	return p
}
