package engine

import "github.com/italolelis/downloadd/internal/record"

// Plan holds the request parameters for one attempt.
type Plan struct {
	// RangeStart is the first byte to request; zero means a full fetch.
	RangeStart int64
	// IfMatch is the validator attached to a resumed request, empty otherwise.
	IfMatch string
}

// IsResume reports whether the attempt continues a previous partial transfer.
func (p Plan) IsResume() bool { return p.RangeStart > 0 }

// PlanAttempt decides between a full and a partial request. A resume is only
// planned when partial bytes exist and a validator was recorded for them;
// without a validator there is no way to know the content didn't change, so
// the transfer restarts from scratch.
func PlanAttempt(d *record.Download) Plan {
	if d.BytesSoFar == 0 || d.ETag == "" {
		return Plan{}
	}

	return Plan{
		RangeStart: d.BytesSoFar,
		IfMatch:    d.ETag,
	}
}
