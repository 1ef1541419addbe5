package qualitydelta

import (
	"github.com/AmirTlinov/compas/pkg/config"
)

const minMaintenanceReasonLen = 20

// ValidateBaselineWrite enforces the baseline write guard: a baseline
// write in ratchet mode requires a BaselineMaintenance record whose
// reason is at least 20 characters, naming an owner.
func ValidateBaselineWrite(writeRequested bool, maint *config.BaselineMaintenance) *config.ApiError {
	if !writeRequested {
		return nil
	}
	if maint == nil || maint.Reason == "" || maint.Owner == "" {
		return &config.ApiError{Code: config.ErrBaselineWriteRequiresMaint, Message: "baseline write requires a baseline_maintenance record with reason and owner"}
	}
	if len(maint.Reason) < minMaintenanceReasonLen {
		return &config.ApiError{Code: config.ErrBaselineMaintReasonTooShort, Message: "baseline_maintenance.reason must be at least 20 characters"}
	}
	return nil
}
