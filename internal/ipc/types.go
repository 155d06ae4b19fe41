package ipc

import (
	"time"

	"enginehost/internal/grant"
	"enginehost/internal/journal"
	"enginehost/internal/platform"
)

// StartRequest delivers a start command to the worker.
type StartRequest struct {
	Action string            `json:"action"`
	URI    string            `json:"uri"`
	Extras map[string]string `json:"extras"`
}

// StartResponse carries the live worker incarnation.
type StartResponse struct {
	WorkerKey string `json:"worker_key"`
}

// BindRequest opens a binding on behalf of a controller. The call returns
// once the host delivers the worker, the wait expires or the binding is
// abandoned. BindingID is optional; a caller that sets it can abandon the
// pending bind with Unbind before Bind returns.
type BindRequest struct {
	ControllerID string `json:"controller_id"`
	BindingID    string `json:"binding_id,omitempty"`
	WaitMillis   int64  `json:"wait_millis"`
}

// BindResponse identifies the binding and the worker it reached.
type BindResponse struct {
	BindingID string `json:"binding_id"`
	WorkerKey string `json:"worker_key"`
}

// UnbindRequest closes a binding.
type UnbindRequest struct {
	BindingID string `json:"binding_id"`
}

// UnbindResponse reports whether the binding was still open or pending.
type UnbindResponse struct {
	Unbound bool `json:"unbound"`
}

// PingRequest probes a binding.
type PingRequest struct {
	BindingID string `json:"binding_id"`
}

// PingResponse reports whether the host still holds the binding.
type PingResponse struct {
	Alive     bool   `json:"alive"`
	WorkerKey string `json:"worker_key"`
}

// SetForegroundRequest asks the worker named by WorkerKey to change its grant.
type SetForegroundRequest struct {
	WorkerKey string `json:"worker_key"`
	Active    bool   `json:"active"`
}

// SetForegroundResponse reports the outcome. Gone and Denied are outcomes,
// not transport errors.
type SetForegroundResponse struct {
	Gone       bool             `json:"gone"`
	Denied     bool             `json:"denied"`
	Error      string           `json:"error,omitempty"`
	Descriptor grant.Descriptor `json:"descriptor"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents daemon and host status.
type StatusResponse struct {
	Running     bool            `json:"running"`
	PID         int             `json:"pid"`
	RunID       string          `json:"run_id"`
	StartedAt   time.Time       `json:"started_at"`
	LockPath    string          `json:"lock_path"`
	JournalPath string          `json:"journal_path"`
	APIAddress  string          `json:"api_address"`
	Host        platform.Status `json:"host"`
}

// ReclaimRequest kills the worker.
type ReclaimRequest struct{}

// ReclaimResponse reports the reclamation.
type ReclaimResponse struct {
	Result platform.ReclaimResult `json:"result"`
}

// HistoryRequest lists journal entries, newest first.
type HistoryRequest struct {
	Limit int `json:"limit"`
}

// HistoryResponse contains journal entries.
type HistoryResponse struct {
	Entries []journal.Entry `json:"entries"`
}

// ShutdownRequest asks the daemon process to exit.
type ShutdownRequest struct{}

// ShutdownResponse reports whether the request was accepted.
type ShutdownResponse struct {
	Accepted bool `json:"accepted"`
}

// TestNotificationRequest triggers a test notification.
type TestNotificationRequest struct{}

// TestNotificationResponse indicates notification result.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
