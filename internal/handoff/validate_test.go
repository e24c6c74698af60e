package handoff

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/kenning/internal/errs"
)

func TestValidate_Table(t *testing.T) {
	tests := []struct {
		name   string
		record Record
		field  string
		reason string
	}{
		{
			name:   "missing outcome",
			record: Record{},
			field:  "outcome",
		},
		{
			name:   "unknown outcome",
			record: Record{Outcome: "done"},
			field:  "outcome",
		},
		{
			name:   "blocked without blockers",
			record: Record{Outcome: OutcomeBlocked},
			field:  "blockers",
			reason: "required when outcome is blocked",
		},
		{
			name:   "partial without blockers",
			record: Record{Outcome: OutcomePartial},
			field:  "blockers",
		},
		{
			name:   "failed without blockers",
			record: Record{Outcome: OutcomeFailed, Blockers: []Blocker{}},
			field:  "blockers",
		},
		{
			name:   "gotcha bad severity",
			record: Record{Outcome: OutcomeCompleted, Gotchas: []Gotcha{{Issue: "a", Severity: "high"}, {Issue: "b", Severity: "urgent"}}},
			field:  "gotchas[1].severity",
		},
		{
			name:   "gotcha missing issue",
			record: Record{Outcome: OutcomeCompleted, Gotchas: []Gotcha{{Severity: "low"}}},
			field:  "gotchas[0].issue",
		},
		{
			name:   "file without path",
			record: Record{Outcome: OutcomeCompleted, FilesModified: []FileChange{{Purpose: "x"}}},
			field:  "files_modified[0].path",
		},
		{
			name:   "empty next step",
			record: Record{Outcome: OutcomeCompleted, SuggestedNextSteps: []string{"a", ""}},
			field:  "suggested_next_steps[1]",
		},
		{
			name: "first field in document order wins",
			record: Record{
				Outcome:      OutcomeBlocked,
				FilesCreated: []FileChange{{}},
			},
			field: "files_created[0].path",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.record)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errs.ErrValidation))

			var ve *errs.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
			if tt.reason != "" {
				assert.Equal(t, tt.reason, ve.Reason)
			}
		})
	}
}

func TestValidate_Accepts(t *testing.T) {
	for _, r := range []Record{
		{Outcome: OutcomeCompleted},
		{Outcome: OutcomeBlocked, Blockers: []Blocker{{Description: "waiting on creds"}}},
	} {
		assert.NoError(t, Validate(&r))
	}
}

func TestValidate_ErrorMessage(t *testing.T) {
	err := Validate(&Record{Outcome: OutcomeBlocked})
	assert.EqualError(t, err, `field "blockers": required when outcome is blocked`)
}
