package polkit

import "github.com/godbus/dbus/v5"

// Error names defined by the PolicyKit D-Bus API. The authority maps
// them back onto its own result handling, so the names must match
// exactly.
const (
	errorPrefix = "org.freedesktop.PolicyKit1.Error."

	ErrNameFailed                  = errorPrefix + "Failed"
	ErrNameCancelled               = errorPrefix + "Cancelled"
	ErrNameNotSupported            = errorPrefix + "NotSupported"
	ErrNameNotAuthorized           = errorPrefix + "NotAuthorized"
	ErrNameCancellationIDNotUnique = errorPrefix + "CancellationIdNotUnique"
)

// NamedError builds a D-Bus error carrying one of the PolicyKit names.
func NamedError(name, message string) *dbus.Error {
	return dbus.NewError(name, []interface{}{message})
}

func Failed(message string) *dbus.Error {
	return NamedError(ErrNameFailed, message)
}

func Cancelled(message string) *dbus.Error {
	return NamedError(ErrNameCancelled, message)
}

func NotSupported(message string) *dbus.Error {
	return NamedError(ErrNameNotSupported, message)
}

func NotAuthorized(message string) *dbus.Error {
	return NamedError(ErrNameNotAuthorized, message)
}

func CancellationIDNotUnique(message string) *dbus.Error {
	return NamedError(ErrNameCancellationIDNotUnique, message)
}
