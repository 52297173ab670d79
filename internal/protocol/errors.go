package protocol

// Leave reasons.
const (
	ReasonDisconnected = "disconnected"
	ReasonQuit         = "quit"
	ReasonKicked       = "kicked"
	ReasonTimeout      = "timeout"
	ReasonServerFull   = "server_full"
	ReasonBadVersion   = "bad_version"
	ReasonProtocol     = "protocol_error"
)

var knownReasons = map[string]struct{}{
	ReasonDisconnected: {},
	ReasonQuit:         {},
	ReasonKicked:       {},
	ReasonTimeout:      {},
	ReasonServerFull:   {},
	ReasonBadVersion:   {},
	ReasonProtocol:     {},
}

func IsKnownReason(reason string) bool {
	if reason == "" {
		return true
	}
	_, ok := knownReasons[reason]
	return ok
}
