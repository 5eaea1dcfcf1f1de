// Package eventdesc resolves Windows event ids to human readable descriptions.
package eventdesc

import "context"

// UnknownEvent is returned for ids without a known description.
const UnknownEvent = "Unknown event"

var builtin = map[int]string{
	// Security log
	1100: "The event logging service has shut down",
	1102: "The audit log was cleared",
	4608: "Windows is starting up",
	4616: "The system time was changed",
	4624: "An account was successfully logged on",
	4625: "An account failed to log on",
	4634: "An account was logged off",
	4647: "User initiated logoff",
	4648: "A logon was attempted using explicit credentials",
	4656: "A handle to an object was requested",
	4663: "An attempt was made to access an object",
	4672: "Special privileges assigned to new logon",
	4688: "A new process has been created",
	4689: "A process has exited",
	4697: "A service was installed in the system",
	4698: "A scheduled task was created",
	4699: "A scheduled task was deleted",
	4700: "A scheduled task was enabled",
	4701: "A scheduled task was disabled",
	4702: "A scheduled task was updated",
	4719: "System audit policy was changed",
	4720: "A user account was created",
	4722: "A user account was enabled",
	4723: "An attempt was made to change an account's password",
	4724: "An attempt was made to reset an account's password",
	4725: "A user account was disabled",
	4726: "A user account was deleted",
	4728: "A member was added to a security-enabled global group",
	4732: "A member was added to a security-enabled local group",
	4738: "A user account was changed",
	4740: "A user account was locked out",
	4756: "A member was added to a security-enabled universal group",
	4767: "A user account was unlocked",
	4768: "A Kerberos authentication ticket (TGT) was requested",
	4769: "A Kerberos service ticket was requested",
	4771: "Kerberos pre-authentication failed",
	4776: "The computer attempted to validate the credentials for an account",
	4798: "A user's local group membership was enumerated",
	4799: "A security-enabled local group membership was enumerated",
	5140: "A network share object was accessed",
	5156: "The Windows Filtering Platform has permitted a connection",
	5157: "The Windows Filtering Platform has blocked a connection",

	// System log
	104:  "The log file was cleared",
	1074: "The system has been shut down by a process or user",
	6005: "The event log service was started",
	6006: "The event log service was stopped",
	6008: "The previous system shutdown was unexpected",
	7034: "A service terminated unexpectedly",
	7036: "A service entered a new state",
	7040: "The start type of a service was changed",
	7045: "A new service was installed in the system",
}

// Table is the built-in, read-only description lookup.
type Table struct{}

// Describe returns the built-in description for eventID, or UnknownEvent.
func (Table) Describe(_ context.Context, eventID int) (string, error) {
	return Lookup(eventID), nil
}

// Lookup returns the built-in description for eventID, or UnknownEvent.
func Lookup(eventID int) string {
	if d, ok := builtin[eventID]; ok {
		return d
	}
	return UnknownEvent
}
