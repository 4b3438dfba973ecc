package engine

import (
	"testing"

	"github.com/italolelis/downloadd/internal/record"
	"github.com/stretchr/testify/assert"
)

func TestPlanAttempt(t *testing.T) {
	tests := []struct {
		name string
		d    record.Download
		want Plan
	}{
		{
			name: "fresh download gets a full fetch",
			d:    record.Download{},
			want: Plan{},
		},
		{
			name: "partial bytes with a validator resume",
			d:    record.Download{BytesSoFar: 512, ETag: `"abc"`},
			want: Plan{RangeStart: 512, IfMatch: `"abc"`},
		},
		{
			name: "partial bytes without a validator restart",
			d:    record.Download{BytesSoFar: 512},
			want: Plan{},
		},
		{
			name: "validator without bytes is a full fetch",
			d:    record.Download{ETag: `"abc"`},
			want: Plan{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PlanAttempt(&tt.d))
		})
	}
}

func TestPlanIsResume(t *testing.T) {
	assert.False(t, Plan{}.IsResume())
	assert.True(t, Plan{RangeStart: 1, IfMatch: `"abc"`}.IsResume())
}
