package config

import "fmt"

// ApiError is an operation-level, non-recoverable setup failure: the rest
// of the pipeline is meaningless without a loaded configuration, so these
// abort the operation instead of becoming a Violation. A typed, coded
// boundary error.
type ApiError struct {
	Code    string
	Message string
}

func (e *ApiError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Stable config error codes, all blocking. All but
// ErrBaselineVersionUnsupported are class SchemaConfig; its
// quality_delta. prefix puts it in class QualityRegression.
const (
	ErrParseFailed                    = "config.parse_failed"
	ErrPluginsDirMissing               = "config.plugins_dir_missing"
	ErrEmpty                           = "config.empty"
	ErrQualityContractMissing         = "config.quality_contract_missing"
	ErrDuplicateToolID                = "config.duplicate_tool_id"
	ErrUnknownGateTool                = "config.unknown_gate_tool"
	ErrImportReadFailed               = "config.import_read_failed"
	ErrImportParseFailed              = "config.import_parse_failed"
	ErrImportGlobInvalid              = "config.import_glob_invalid"
	ErrBaselineWriteRequiresMaint     = "config.baseline_write_requires_maintenance"
	ErrBaselineMaintReasonTooShort    = "config.baseline_maintenance_reason_too_short"
	ErrThresholdWeakened              = "config.threshold_weakened"
	ErrMandatoryCheckRemoved          = "config.mandatory_check_removed"
	ErrFailureModesInvalid            = "failure_modes.invalid"
	ErrBaselineVersionUnsupported     = "quality_delta.baseline_version_unsupported"
)

func parseErr(path string, err error) *ApiError {
	return &ApiError{Code: ErrParseFailed, Message: fmt.Sprintf("%s: %v", path, err)}
}
