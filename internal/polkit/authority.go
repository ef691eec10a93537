package polkit

import (
	"context"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

// Well-known PolicyKit authority coordinates on the system bus.
const (
	AuthorityBusName   = "org.freedesktop.PolicyKit1"
	AuthorityInterface = "org.freedesktop.PolicyKit1.Authority"

	AuthorityPath dbus.ObjectPath = "/org/freedesktop/PolicyKit1/Authority"

	DefaultLocale = "en_US"
)

// Authority is a client for the polkit authority daemon.
type Authority struct {
	obj dbus.BusObject
}

func NewAuthority(conn *dbus.Conn) *Authority {
	return &Authority{obj: conn.Object(AuthorityBusName, AuthorityPath)}
}

// Register announces the agent for subject. The authority will direct
// authentication requests in that scope to the object exported at path.
// The path travels as a plain string per the PolicyKit signature.
func (a *Authority) Register(ctx context.Context, subject Subject, locale string, path dbus.ObjectPath) error {
	if strings.TrimSpace(locale) == "" {
		locale = DefaultLocale
	}
	call := a.obj.CallWithContext(ctx, AuthorityInterface+".RegisterAuthenticationAgent", 0,
		subject, locale, string(path))
	if call.Err != nil {
		return fmt.Errorf("polkit: register agent: %w", call.Err)
	}
	return nil
}

// Unregister withdraws a previous registration.
func (a *Authority) Unregister(ctx context.Context, subject Subject, path dbus.ObjectPath) error {
	call := a.obj.CallWithContext(ctx, AuthorityInterface+".UnregisterAuthenticationAgent", 0,
		subject, string(path))
	if call.Err != nil {
		return fmt.Errorf("polkit: unregister agent: %w", call.Err)
	}
	return nil
}

// Respond names the identity that authenticated for cookie. It must be
// called before the BeginAuthentication reply for the grant to count;
// uid is the uid this agent runs as, which the authority cross-checks.
func (a *Authority) Respond(ctx context.Context, uid uint32, cookie string, identity Identity) error {
	call := a.obj.CallWithContext(ctx, AuthorityInterface+".AuthenticationAgentResponse2", 0,
		uid, cookie, identity)
	if call.Err != nil {
		return fmt.Errorf("polkit: agent response: %w", call.Err)
	}
	return nil
}
