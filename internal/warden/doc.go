// Package warden assembles the agent runtime. The façade owns the
// cookie index and report custody between the PolicyKit authority and
// the session engine; the prompt server owns UI client connections;
// the HTTP server exposes the loopback introspection surface; the
// service owns process lifetime and the shared tickers.
//
// Nothing in this package touches session state directly. All session
// mutation goes through registry dispatch, and all terminal outcomes
// arrive through the registry completion callback.
package warden
