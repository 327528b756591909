package transport

import "encoding/json"

// Inbound message kinds, recognized by the "type" discriminator.
const (
	KindPing   = "ping"
	KindRPC    = "rpc"
	KindLegacy = "legacy" // synthetic: legacy requests carry their own "type" tag, see Inbound.Type
)

// kindRPCResponseInbound is recognized only by the isolated MCP runner IPC
// channel, where rpc_response frames flow inbound (runner → supervisor) as
// well as outbound, unlike the native-messaging channel to the extension
// where rpc_response is exclusively outbound.
const kindRPCResponseInbound = "rpc_response"

// Outbound message kinds.
const (
	KindStatus       = "status"
	KindRPCResponse  = "rpc_response"
	KindLegacyResult = "legacy_result" // synthetic marker; wire "type" is the op-specific tag
)

// Push status values carried by an outbound Status message.
const (
	StatusReady = "ready"
	StatusPong  = "pong"
)

// Inbound is a decoded inbound frame, normalized across the three wire
// shapes the core accepts. Dispatch code should switch on Kind, which is
// derived — never taken verbatim from a field named "kind" on the wire.
type Inbound struct {
	// Kind is one of KindPing, KindRPC, or KindLegacy, as classified by
	// DecodeInbound from the raw "type" field.
	Kind string

	// Type is the raw wire "type" value, preserved so legacy request
	// handling can dispatch on the specific op name.
	Type string

	// RequestID is the legacy correlation field, present on legacy requests.
	RequestID string

	// ID is the rpc correlation field, present on "rpc" messages.
	ID string

	// Method is the rpc method name, present on "rpc" messages.
	Method string

	// Params holds the raw rpc params object, present on "rpc" messages.
	Params json.RawMessage

	// Result and Error hold the raw rpc_response fields, present only when
	// Type == "rpc_response" (isolated runner IPC; the native-messaging
	// channel never receives this inbound).
	Result json.RawMessage
	Error  json.RawMessage

	// Fields holds the complete decoded object for legacy requests, so
	// handlers can pull out op-specific fields without a second decode pass.
	Fields map[string]json.RawMessage
}

// wireInbound is the permissive decode target for any inbound frame.
type wireInbound struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params"`
	Result    json.RawMessage `json:"result"`
	Error     json.RawMessage `json:"error"`
	RequestID string          `json:"request_id"`
}

// DecodeInbound classifies and decodes a raw inbound frame.
func DecodeInbound(raw []byte) (*Inbound, error) {
	var w wireInbound
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}

	msg := &Inbound{Type: w.Type}

	switch {
	case w.Type == KindPing:
		msg.Kind = KindPing
	case w.Type == KindRPC:
		msg.Kind = KindRPC
		msg.ID = w.ID
		msg.Method = w.Method
		msg.Params = w.Params
	case w.Type == kindRPCResponseInbound:
		msg.Kind = kindRPCResponseInbound
		msg.ID = w.ID
		msg.Result = w.Result
		msg.Error = w.Error
	default:
		// Legacy typed request: request_id + arbitrary op-specific fields.
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
		msg.Kind = KindLegacy
		msg.RequestID = w.RequestID
		msg.Fields = fields
	}

	return msg, nil
}

// StatusMessage is an outbound push notification ({type:"status", status, ...}).
type StatusMessage struct {
	Status string         `json:"status"`
	Extra  map[string]any `json:"-"`
}

// MarshalJSON flattens Extra alongside the fixed type/status fields so push
// payloads (e.g. llm_download progress) ride in the same envelope.
func (s StatusMessage) MarshalJSON() ([]byte, error) {
	out := map[string]any{"type": KindStatus, "status": s.Status}
	for k, v := range s.Extra {
		out[k] = v
	}
	return json.Marshal(out)
}

// RPCRequest is an outbound {type:"rpc", id, method, params}. Used by the
// isolated MCP runner IPC channel, where both ends issue requests to each
// other over the same framing used for the outer native-messaging channel.
type RPCRequest struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// MarshalJSON adds the fixed "type" discriminator.
func (r RPCRequest) MarshalJSON() ([]byte, error) {
	type alias RPCRequest
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{Type: KindRPC, alias: alias(r)})
}

// RPCResponse is an outbound {type:"rpc_response", id, result|error}.
type RPCResponse struct {
	ID     string `json:"id"`
	Result any    `json:"result,omitempty"`
	Error  any    `json:"error,omitempty"`
}

// MarshalJSON adds the fixed "type" discriminator.
func (r RPCResponse) MarshalJSON() ([]byte, error) {
	type alias RPCResponse
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{Type: KindRPCResponse, alias: alias(r)})
}

// LegacyResult is an outbound legacy-shaped result or error,
// {type:"<op>_result"|"error", request_id, ...extra}.
type LegacyResult struct {
	Type      string
	RequestID string
	Extra     map[string]any
}

// MarshalJSON flattens Extra alongside type/request_id.
func (l LegacyResult) MarshalJSON() ([]byte, error) {
	out := map[string]any{"type": l.Type, "request_id": l.RequestID}
	for k, v := range l.Extra {
		out[k] = v
	}
	return json.Marshal(out)
}
