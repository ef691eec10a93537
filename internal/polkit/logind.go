package polkit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	loginBusName          = "org.freedesktop.login1"
	loginSessionInterface = "org.freedesktop.login1.Session"

	// The "auto" session object resolves to the session of the calling
	// process, so no session enumeration is needed.
	loginSessionPath dbus.ObjectPath = "/org/freedesktop/login1/session/auto"
)

// CurrentSessionID asks logind for the caller's session id.
func CurrentSessionID(ctx context.Context, conn *dbus.Conn) (string, error) {
	obj := conn.Object(loginBusName, loginSessionPath)
	call := obj.CallWithContext(ctx, "org.freedesktop.DBus.Properties.Get", 0,
		loginSessionInterface, "Id")
	if call.Err != nil {
		return "", fmt.Errorf("polkit: logind session id: %w", call.Err)
	}
	var v dbus.Variant
	if err := call.Store(&v); err != nil {
		return "", fmt.Errorf("polkit: logind session id: %w", err)
	}
	id, ok := v.Value().(string)
	if !ok || strings.TrimSpace(id) == "" {
		return "", errors.New("polkit: logind returned an empty session id")
	}
	return id, nil
}

// DiscoverSubject prefers the logind session scope and falls back to
// this process's identity when running outside a login session.
func DiscoverSubject(ctx context.Context, conn *dbus.Conn) (Subject, error) {
	if id, err := CurrentSessionID(ctx, conn); err == nil {
		return UnixSessionSubject(id), nil
	}
	pid := os.Getpid()
	start, err := ProcessStartTime(pid)
	if err != nil {
		return Subject{}, err
	}
	return UnixProcessSubject(uint32(pid), start), nil
}
