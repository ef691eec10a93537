package warden

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/warden/internal/polkit"
	"github.com/danmuck/warden/internal/session"
	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
)

// agentHandler answers authority calls by driving the façade. The
// BeginAuthentication reply is held open for the whole exchange;
// godbus serves each call on its own goroutine, so a parked begin
// never blocks CancelAuthentication.
type agentHandler struct {
	agent  *Agent
	logger zerolog.Logger
}

var _ polkit.Handler = (*agentHandler)(nil)

func newAgentHandler(agent *Agent, logger zerolog.Logger) *agentHandler {
	return &agentHandler{agent: agent, logger: logger}
}

func (h *agentHandler) BeginAuthentication(req polkit.BeginRequest) *dbus.Error {
	results, err := h.agent.Begin(req)
	if err != nil {
		h.logger.Warn().
			Str("action_id", req.ActionID).
			Err(err).
			Msg("begin authentication refused")
		return beginError(err)
	}
	return h.verdict(<-results)
}

// CancelAuthentication revokes the session begun for cookie. An unknown
// cookie is the benign race with completion: logged and dropped, like a
// stale UI callback.
func (h *agentHandler) CancelAuthentication(cookie string) *dbus.Error {
	if err := h.agent.CancelByCookie(cookie); err != nil {
		if errors.Is(err, ErrUnknownCookie) {
			h.logger.Debug().Err(err).Msg("cancel for settled cookie dropped")
			return nil
		}
		return polkit.Failed(err.Error())
	}
	return nil
}

// beginError maps admission failures onto authority error names. Only
// a reused live cookie has a dedicated name; everything else is Failed.
func beginError(err error) *dbus.Error {
	if errors.Is(err, ErrDuplicateCookie) {
		return polkit.CancellationIDNotUnique(err.Error())
	}
	return polkit.Failed(err.Error())
}

// verdict turns one terminal result into the method reply. A grant
// reads as success only once the authority response landed; the façade
// delivers it before the result is released, so the check here is not
// racing the sink.
func (h *agentHandler) verdict(res session.Result) *dbus.Error {
	switch res.Outcome {
	case session.StateGranted:
		if rep, undelivered := h.agent.Report(res.Cookie); undelivered {
			msg := "authority response not delivered"
			if rep.LastError != "" {
				msg += ": " + rep.LastError
			}
			return polkit.Failed(msg)
		}
		return nil
	case session.StateDenied:
		return polkit.NotAuthorized(res.Reason)
	case session.StateCancelled, session.StateTimedOut:
		return polkit.Cancelled(res.Reason)
	default:
		return polkit.Failed(res.Reason)
	}
}

// authoritySink completes granted reports with
// AuthenticationAgentResponse2. Non-granted outcomes already travel as
// the begin reply, so they confirm without a call.
type authoritySink struct {
	authority *polkit.Authority
	uid       uint32
}

func newAuthoritySink(authority *polkit.Authority, uid uint32) *authoritySink {
	return &authoritySink{authority: authority, uid: uid}
}

func (s *authoritySink) Deliver(ctx context.Context, rep session.PendingReport, identity polkit.Identity) error {
	if rep.Outcome != session.StateGranted {
		return nil
	}
	if _, ok := identity.UID(); !ok {
		return fmt.Errorf("warden: report %s has no identity to respond as", rep.Cookie)
	}
	return s.authority.Respond(ctx, s.uid, rep.Cookie, identity)
}
