package gateway

// Opcode is a Discord Gateway opcode (spec.md §4.5).
type Opcode int

const (
	OpcodeDispatch            Opcode = 0
	OpcodeHeartbeat           Opcode = 1
	OpcodeIdentify            Opcode = 2
	OpcodePresenceUpdate      Opcode = 3
	OpcodeVoiceStateUpdate    Opcode = 4
	OpcodeResume              Opcode = 6
	OpcodeReconnect           Opcode = 7
	OpcodeRequestGuildMembers Opcode = 8
	OpcodeInvalidSession      Opcode = 9
	OpcodeHello               Opcode = 10
	OpcodeHeartbeatACK        Opcode = 11
)

// CloseCode is a WebSocket close code, standard or Discord-specific.
type CloseCode int

// fatalCloseCodes are the Discord-specific close codes that must not be
// followed by a reconnect attempt (spec.md §4.5).
var fatalCloseCodes = map[CloseCode]string{
	4004: "authentication failed",
	4010: "invalid shard",
	4011: "sharding required",
	4012: "invalid API version",
	4013: "invalid intents",
	4014: "disallowed intents",
}

// Fatal reports whether code terminates the session permanently.
func (c CloseCode) Fatal() (reason string, fatal bool) {
	reason, fatal = fatalCloseCodes[c]

	return reason, fatal
}

// closeCodeZombie is the code the client uses to close a connection it
// has detected is no longer alive (missed HEARTBEAT_ACK) or that the
// server asked to be closed via RECONNECT (spec.md §4.5).
const closeCodeZombie = 4000
