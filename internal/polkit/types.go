package polkit

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	IdentityKindUnixUser  = "unix-user"
	IdentityKindUnixGroup = "unix-group"

	SubjectKindUnixSession = "unix-session"
	SubjectKindUnixProcess = "unix-process"
)

// Identity is the PolicyKit identity wire shape (sa{sv}). Field order
// matters: godbus marshals struct fields positionally.
type Identity struct {
	Kind    string
	Details map[string]dbus.Variant
}

// UID extracts the numeric uid from a unix-user identity.
func (id Identity) UID() (uint32, bool) {
	if id.Kind != IdentityKindUnixUser {
		return 0, false
	}
	v, ok := id.Details["uid"]
	if !ok {
		return 0, false
	}
	switch n := v.Value().(type) {
	case uint32:
		return n, true
	case int32:
		if n >= 0 {
			return uint32(n), true
		}
	case uint64:
		return uint32(n), true
	}
	return 0, false
}

func UnixUserIdentity(uid uint32) Identity {
	return Identity{
		Kind:    IdentityKindUnixUser,
		Details: map[string]dbus.Variant{"uid": dbus.MakeVariant(uid)},
	}
}

// Subject is the PolicyKit subject wire shape (sa{sv}): the scope an
// agent answers authentication requests for.
type Subject struct {
	Kind    string
	Details map[string]dbus.Variant
}

func UnixSessionSubject(sessionID string) Subject {
	return Subject{
		Kind:    SubjectKindUnixSession,
		Details: map[string]dbus.Variant{"session-id": dbus.MakeVariant(sessionID)},
	}
}

func UnixProcessSubject(pid uint32, startTime uint64) Subject {
	return Subject{
		Kind: SubjectKindUnixProcess,
		Details: map[string]dbus.Variant{
			"pid":        dbus.MakeVariant(pid),
			"start-time": dbus.MakeVariant(startTime),
		},
	}
}

// ProcessStartTime reads the kernel start time for pid, in clock ticks
// since boot: field 22 of /proc/<pid>/stat. PolicyKit uses it to pin a
// process subject against pid reuse.
func ProcessStartTime(pid int) (uint64, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, fmt.Errorf("polkit: read stat for pid %d: %w", pid, err)
	}
	return parseStartTime(string(data))
}

func parseStartTime(stat string) (uint64, error) {
	// comm is parenthesized and may contain spaces, so field counting
	// starts after the closing paren.
	idx := strings.LastIndexByte(stat, ')')
	if idx < 0 {
		return 0, fmt.Errorf("polkit: malformed stat line")
	}
	fields := strings.Fields(stat[idx+1:])
	// fields[0] is the state, overall field 3; start time is field 22.
	if len(fields) < 20 {
		return 0, fmt.Errorf("polkit: stat line too short: %d fields after comm", len(fields))
	}
	start, err := strconv.ParseUint(fields[19], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("polkit: parse start time: %w", err)
	}
	return start, nil
}
