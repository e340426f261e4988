package gateway

import (
	"sync"

	json "github.com/goccy/go-json"
)

// Payload is the gateway wire envelope {op, d, s, t} (spec.md §6). S and
// T are present only for Op == OpcodeDispatch.
type Payload struct {
	Op Opcode          `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

// payloadPool reuses Payload allocations across the read loop.
var payloadPool sync.Pool

func getPayload() *Payload {
	if p := payloadPool.Get(); p != nil {
		return p.(*Payload) //nolint:forcetypeassert
	}

	return new(Payload)
}

func putPayload(p *Payload) {
	p.Op = 0
	p.D = nil
	p.S = nil
	p.T = ""
	payloadPool.Put(p)
}

// identifyData is the IDENTIFY command's d payload.
type identifyData struct {
	Token          string           `json:"token"`
	Intents        int              `json:"intents"`
	Properties     identifyProps    `json:"properties"`
	Compress       bool             `json:"compress,omitempty"`
	LargeThreshold int              `json:"large_threshold,omitempty"`
	Shard          [2]int           `json:"shard,omitempty"`
	Presence       *json.RawMessage `json:"presence,omitempty"`
}

type identifyProps struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// resumeData is the RESUME command's d payload.
type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

// heartbeatData is the HEARTBEAT command's d payload: the last sequence
// seen, or null.
type heartbeatData struct {
	Seq *int64
}

func (h heartbeatData) MarshalJSON() ([]byte, error) {
	if h.Seq == nil {
		return []byte("null"), nil
	}

	return json.Marshal(*h.Seq)
}

// helloData is HELLO's d payload.
type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

// readyData is the subset of READY's d payload the engine needs.
type readyData struct {
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url"`
}
