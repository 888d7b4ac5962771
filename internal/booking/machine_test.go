package booking

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rehabflow/clinic-platform/internal/domain"
)

func TestPlanTransition(t *testing.T) {
	tests := []struct {
		name      string
		current   Status
		requested Status
		wantErr   bool
		noOp      bool
		reversal  bool
		drive     CaseDrive
		reason    bool
	}{
		{name: "complete", current: StatusScheduled, requested: StatusCompleted, drive: CaseDriveAccept},
		{name: "uncomplete is a reversal", current: StatusCompleted, requested: StatusScheduled, reversal: true, drive: CaseDriveRevert},
		{name: "cancel scheduled", current: StatusScheduled, requested: StatusCancelled, drive: CaseDriveCancel, reason: true},
		{name: "cancel completed", current: StatusCompleted, requested: StatusCancelled, drive: CaseDriveCancel, reason: true},
		{name: "same status is a noop", current: StatusScheduled, requested: StatusScheduled, noOp: true},
		{name: "completed same status noop", current: StatusCompleted, requested: StatusCompleted, noOp: true},
		{name: "cancel a cancelled booking", current: StatusCancelled, requested: StatusCancelled, wantErr: true},
		{name: "revive a cancelled booking", current: StatusCancelled, requested: StatusScheduled, wantErr: true},
		{name: "complete a cancelled booking", current: StatusCancelled, requested: StatusCompleted, wantErr: true},
		{name: "unknown status", current: StatusScheduled, requested: Status("paused"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := PlanTransition(tt.current, tt.requested)
			if tt.wantErr {
				var ite *domain.InvalidTransitionError
				require.Error(t, err)
				assert.True(t, errors.As(err, &ite), "want InvalidTransitionError, got %T", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.current, plan.From)
			assert.Equal(t, tt.requested, plan.To)
			assert.Equal(t, tt.noOp, plan.NoOp)
			assert.Equal(t, tt.reversal, plan.Reversal)
			if !tt.noOp {
				assert.Equal(t, tt.drive, plan.CaseDrive)
			}
			assert.Equal(t, tt.reason, plan.RequiresReason)
		})
	}
}
