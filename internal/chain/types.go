package chain

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// Object is the decoded content of an on-chain object.
type Object struct {
	ID     string
	Type   string
	Fields map[string]json.RawMessage
}

// DynamicFieldInfo identifies one child object attached to a parent.
type DynamicFieldInfo struct {
	ObjectID string `json:"objectId"`
}

// EventCursor is an opaque bookmark into the remote event log.
type EventCursor struct {
	TxDigest string `json:"txDigest"`
	EventSeq string `json:"eventSeq"`
}

// Event is one entry from the chain's event log.
type Event struct {
	ID          EventCursor     `json:"id"`
	Type        string          `json:"type"`
	ParsedJSON  json.RawMessage `json:"parsedJson"`
	TimestampMs string          `json:"timestampMs"`
}

// EventPage is a batch of events plus the cursor marking its end.
type EventPage struct {
	Events     []Event
	NextCursor *EventCursor
	HasNext    bool
}

// StringField returns a field decoded as a string. Numeric fields are
// rendered in their decimal form.
func (o *Object) StringField(name string) string {
	raw, ok := o.Fields[name]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// BigField returns a field decoded as an arbitrary-precision integer.
// On-chain u64/u128 values arrive as JSON strings; absent or malformed
// fields decode to zero.
func (o *Object) BigField(name string) *big.Int {
	s := o.StringField(name)
	if s == "" {
		return new(big.Int)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}

// tickBits mirrors the on-chain I32 wrapper: a u32 magnitude carrying the
// sign in its top bit. The magnitude arrives as either a JSON number or a
// decimal string depending on the node version.
type tickBits struct {
	Fields struct {
		Bits json.RawMessage `json:"bits"`
	} `json:"fields"`
}

// TickField decodes a signed tick index stored as an unsigned
// magnitude-plus-sign-bit wrapper. The first present name wins.
func (o *Object) TickField(names ...string) (int32, error) {
	for _, name := range names {
		raw, ok := o.Fields[name]
		if !ok {
			continue
		}
		var wrapped tickBits
		if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Fields.Bits) > 0 {
			return decodeTickBits(unquote(wrapped.Fields.Bits))
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			return decodeTickBits(n.String())
		}
		return 0, fmt.Errorf("tick field %q: unsupported encoding", name)
	}
	return 0, fmt.Errorf("tick field %v: not present", names)
}

func unquote(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func decodeTickBits(s string) (int32, error) {
	bits, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return 0, fmt.Errorf("tick bits %q: not an integer", s)
	}
	if bits.Sign() < 0 || bits.BitLen() > 32 {
		return 0, fmt.Errorf("tick bits %q: out of u32 range", s)
	}
	v := bits.Int64()
	if v > 0x7fffffff {
		v -= 0x100000000
	}
	return int32(v), nil
}
