package channel

import "github.com/pinglue/pg-repo-sub000/ports"

// Message kinds emitted to the Messenger.
const (
	MsgDuplicateRegistration  = "duplicate-registration"
	MsgHandlerNotRegistered   = "handler-not-registered"
	MsgSingleHandlerViolation = "single-handler-violation"
	MsgEmptyChannel           = "empty-channel"
	MsgHandlerFailed          = "handler-failed"
	MsgAsyncInSyncRun         = "async-handler-in-sync-run"
	MsgDetachedHandlerFailed  = "detached-handler-failed"
	MsgMergeConflict          = "merge-conflict"
	MsgReducerFailed          = "reducer-failed"
	MsgSyncTypeMismatch       = "sync-type-mismatch"
	MsgOwnershipConflict      = "ownership-conflict"
	MsgAlreadyRegistered      = "already-registered"
	MsgSettingsForbidden      = "settings-forbidden"
	MsgSettingsRejected       = "settings-rejected"
	MsgAuthorizationDenied    = "authorization-denied"
)

// nopMessenger discards everything.
type nopMessenger struct{}

func (nopMessenger) Warn(string, map[string]any)  {}
func (nopMessenger) Error(string, map[string]any) {}

var _ ports.Messenger = nopMessenger{}
