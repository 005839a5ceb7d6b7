package hub

import "encoding/json"

// Envelope is the wire format for every inbound and outbound frame:
// UTF-8 JSON {"type": string, "data": object, "timestamp"?: number}.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: msgType, Data: data})
}

func errorEnvelope(reason string) []byte {
	b, _ := marshalEnvelope("error", map[string]string{"reason": reason})
	return b
}
