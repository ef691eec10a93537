// Package polkit binds the agent to the PolicyKit authority over the
// system bus: registration, the exported AuthenticationAgent object, and
// the wire types both directions share.
//
// Ownership boundary:
// - well-known bus names, paths, and PolicyKit error names
// - Subject and Identity wire shapes
// - authority client calls (register, unregister, respond)
// - the exported agent object and its blocking call contract
package polkit
