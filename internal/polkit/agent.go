package polkit

import (
	"errors"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	AgentInterface = "org.freedesktop.PolicyKit1.AuthenticationAgent"

	DefaultAgentPath dbus.ObjectPath = "/org/freedesktop/PolicyKit1/AuthenticationAgent"
)

var ErrInvalidRequest = errors.New("polkit: invalid begin request")

// BeginRequest is one BeginAuthentication call from the authority.
type BeginRequest struct {
	ActionID   string
	Message    string
	IconName   string
	Details    map[string]string
	Cookie     string
	Identities []Identity
}

func (r BeginRequest) Validate() error {
	if strings.TrimSpace(r.ActionID) == "" {
		return fmt.Errorf("%w: missing action_id", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Message) == "" {
		return fmt.Errorf("%w: missing message", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Cookie) == "" {
		return fmt.Errorf("%w: missing cookie", ErrInvalidRequest)
	}
	if len(r.Identities) == 0 {
		return fmt.Errorf("%w: no identities offered", ErrInvalidRequest)
	}
	return nil
}

// Handler reacts to authority calls. BeginAuthentication blocks until
// the exchange ends: the method reply is the verdict, so the authority
// holds the call open for the whole session. godbus runs each incoming
// call on its own goroutine, which keeps CancelAuthentication reachable
// while a begin is parked.
type Handler interface {
	BeginAuthentication(req BeginRequest) *dbus.Error
	CancelAuthentication(cookie string) *dbus.Error
}

// agentExport adapts Handler to the exact method shapes godbus exports.
type agentExport struct {
	handler Handler
}

func (a agentExport) BeginAuthentication(actionID, message, iconName string, details map[string]string, cookie string, identities []Identity) *dbus.Error {
	return a.handler.BeginAuthentication(BeginRequest{
		ActionID:   actionID,
		Message:    message,
		IconName:   iconName,
		Details:    details,
		Cookie:     cookie,
		Identities: identities,
	})
}

func (a agentExport) CancelAuthentication(cookie string) *dbus.Error {
	return a.handler.CancelAuthentication(cookie)
}

// ExportAgent exposes handler as the AuthenticationAgent object at path.
func ExportAgent(conn *dbus.Conn, path dbus.ObjectPath, handler Handler) error {
	if handler == nil {
		return errors.New("polkit: nil agent handler")
	}
	if err := conn.Export(agentExport{handler: handler}, path, AgentInterface); err != nil {
		return fmt.Errorf("polkit: export agent: %w", err)
	}
	return nil
}
