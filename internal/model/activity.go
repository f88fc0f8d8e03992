package model

import "time"

// Activity actions written to a session's activity log.
const (
	ActionFullscreenRequested  = "fullscreen_requested"
	ActionFullscreenEntered    = "fullscreen_entered"
	ActionFullscreenFailed     = "fullscreen_failed"
	ActionFullscreenExited     = "fullscreen_exited"
	ActionFullscreenExitFailed = "fullscreen_exit_failed"
	ActionVisibilityVisible    = "visibility_visible"
	ActionFullscreenActive     = "fullscreen_active"
	ActionFullscreenInactive   = "fullscreen_inactive"
	ActionRightClickAttempt    = "right_click_attempt"
	ActionCopyAttempt          = "copy_attempt"
	ActionMaxViolations        = "max_violations_reached"
	ActionSessionStarted       = "session_started"
	ActionSubmitRequested      = "submit_requested"
	ActionSubmitCancelled      = "submit_cancelled"
	ActionSubmitted            = "submitted"
	ActionAutoSubmitted        = "auto_submitted"
)

// ViolationKind classifies an integrity violation.
type ViolationKind string

const (
	ViolationTabSwitch      ViolationKind = "tab_switch"
	ViolationFullscreenExit ViolationKind = "fullscreen_exit"
	ViolationCopyPaste      ViolationKind = "copy_paste"
)

// Action returns the activity log action recorded for the violation.
func (k ViolationKind) Action() string {
	return "violation_" + string(k)
}

// ActivityLogEntry is one append-only record of the session's activity log.
type ActivityLogEntry struct {
	Action    string         `json:"action"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
