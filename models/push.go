package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// PushKind names a PushMessage variant.
type PushKind string

const (
	PushKindOrderbook PushKind = "orderbook"
)

// PushMessage is the closed set of inbound push payloads. Today there is a
// single variant, OrderbookPush.
//
// Discriminator rule: a payload carrying "arg", "action" and a non-empty
// "data" array of snapshots is an OrderbookPush. The channel name inside
// "arg" is not consulted. A second variant must come with an explicit
// discriminator (arg.channel) instead of another structural guess.
type PushMessage interface {
	Kind() PushKind
	Subscription() ChannelArg
	isPushMessage()
}

// OrderbookPush carries order book snapshots for one instrument. Data is never
// empty for a decoded message; sinks only consume Data[0].
type OrderbookPush struct {
	Arg    ChannelArg          `json:"arg"`
	Action string              `json:"action"`
	Data   []OrderbookSnapshot `json:"data"`
}

func (OrderbookPush) Kind() PushKind { return PushKindOrderbook }

func (p OrderbookPush) Subscription() ChannelArg { return p.Arg }

func (OrderbookPush) isPushMessage() {}

// First returns the snapshot sinks persist. Later elements of Data are
// dropped; whether the feed ever sends more than one is unknown.
func (p OrderbookPush) First() OrderbookSnapshot {
	return p.Data[0]
}

var errMissingField = errors.New("missing required field")

type wireArg struct {
	Channel      *string `json:"channel"`
	InstrumentID *string `json:"instId"`
}

type wireSnapshot struct {
	Asks      *[]OrderLevel `json:"asks"`
	Bids      *[]OrderLevel `json:"bids"`
	Timestamp *string       `json:"ts"`
	Checksum  *int64        `json:"checksum"`
}

type wirePush struct {
	Arg    *wireArg        `json:"arg"`
	Action *string         `json:"action"`
	Data   *[]wireSnapshot `json:"data"`
}

// DecodePush parses a UTF-8 JSON payload into a PushMessage. Unknown fields
// are ignored; missing required fields fail. No semantic checks (price
// format, checksum) happen here.
func DecodePush(data []byte) (PushMessage, error) {
	var w wirePush
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	switch {
	case w.Arg == nil:
		return nil, fmt.Errorf("%w: arg", errMissingField)
	case w.Arg.Channel == nil:
		return nil, fmt.Errorf("%w: arg.channel", errMissingField)
	case w.Arg.InstrumentID == nil:
		return nil, fmt.Errorf("%w: arg.instId", errMissingField)
	case w.Action == nil:
		return nil, fmt.Errorf("%w: action", errMissingField)
	case w.Data == nil:
		return nil, fmt.Errorf("%w: data", errMissingField)
	case len(*w.Data) == 0:
		return nil, errors.New("data: empty snapshot list")
	}

	push := OrderbookPush{
		Arg:    ChannelArg{Channel: *w.Arg.Channel, InstrumentID: *w.Arg.InstrumentID},
		Action: *w.Action,
		Data:   make([]OrderbookSnapshot, 0, len(*w.Data)),
	}
	for i, s := range *w.Data {
		snap, err := s.snapshot()
		if err != nil {
			return nil, fmt.Errorf("data[%d]: %w", i, err)
		}
		push.Data = append(push.Data, snap)
	}
	return push, nil
}

func (s wireSnapshot) snapshot() (OrderbookSnapshot, error) {
	switch {
	case s.Asks == nil:
		return OrderbookSnapshot{}, fmt.Errorf("%w: asks", errMissingField)
	case s.Bids == nil:
		return OrderbookSnapshot{}, fmt.Errorf("%w: bids", errMissingField)
	case s.Timestamp == nil:
		return OrderbookSnapshot{}, fmt.Errorf("%w: ts", errMissingField)
	case s.Checksum == nil:
		return OrderbookSnapshot{}, fmt.Errorf("%w: checksum", errMissingField)
	}
	return OrderbookSnapshot{
		Asks:      nilIfEmpty(*s.Asks),
		Bids:      nilIfEmpty(*s.Bids),
		Timestamp: *s.Timestamp,
		Checksum:  *s.Checksum,
	}, nil
}

func nilIfEmpty(levels []OrderLevel) []OrderLevel {
	if len(levels) == 0 {
		return nil
	}
	return levels
}

// EncodePush renders a PushMessage back to its wire JSON.
func EncodePush(msg PushMessage) ([]byte, error) {
	switch m := msg.(type) {
	case OrderbookPush:
		return json.Marshal(m)
	default:
		return nil, fmt.Errorf("encode push: unsupported message %T", msg)
	}
}
