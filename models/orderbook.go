package models

import (
	"encoding/json"
	"fmt"
)

// SubscribeOp is the only request operation the feed sends.
const SubscribeOp = "subscribe"

// ChannelArg identifies which subscription a push message answers.
type ChannelArg struct {
	Channel      string `json:"channel"`
	InstrumentID string `json:"instId"`
}

// SubscriptionRequest is serialized once per instrument at startup.
type SubscriptionRequest struct {
	Operation string       `json:"op"`
	Channels  []ChannelArg `json:"args"`
}

// NewSubscriptionRequest builds a subscribe request for a single instrument.
func NewSubscriptionRequest(channel, instrumentID string) SubscriptionRequest {
	return SubscriptionRequest{
		Operation: SubscribeOp,
		Channels:  []ChannelArg{{Channel: channel, InstrumentID: instrumentID}},
	}
}

// OrderLevel is one price point of the book. Price and size stay as the exact
// decimal strings the exchange sent; the trailing two fields (liquidated order
// count and total order count at the level) are passed through untouched.
// On the wire a level is a 4 element array of strings.
type OrderLevel struct {
	Price      string
	Size       string
	Deprecated string
	OrderCount string
}

// MarshalJSON encodes the level as [price, size, deprecated, orderCount].
func (l OrderLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]string{l.Price, l.Size, l.Deprecated, l.OrderCount})
}

// UnmarshalJSON requires exactly four string elements.
func (l *OrderLevel) UnmarshalJSON(data []byte) error {
	var fields []string
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("order level: %w", err)
	}
	if len(fields) != 4 {
		return fmt.Errorf("order level: expected 4 elements, got %d", len(fields))
	}
	l.Price, l.Size, l.Deprecated, l.OrderCount = fields[0], fields[1], fields[2], fields[3]
	return nil
}

// Strings returns the level in wire order.
func (l OrderLevel) Strings() []string {
	return []string{l.Price, l.Size, l.Deprecated, l.OrderCount}
}

// OrderbookSnapshot is one complete book state. Level ordering is whatever the
// feed sent (best price first) and is never re-sorted. An empty side is nil.
type OrderbookSnapshot struct {
	Asks      []OrderLevel `json:"asks"`
	Bids      []OrderLevel `json:"bids"`
	Timestamp string       `json:"ts"`
	Checksum  int64        `json:"checksum"`
}

// MarshalJSON writes an empty side as [] so the output always decodes again.
func (s OrderbookSnapshot) MarshalJSON() ([]byte, error) {
	type snapshot OrderbookSnapshot
	out := snapshot(s)
	if out.Asks == nil {
		out.Asks = []OrderLevel{}
	}
	if out.Bids == nil {
		out.Bids = []OrderLevel{}
	}
	return json.Marshal(out)
}

// Side selects one half of a snapshot.
type Side string

const (
	SideAsks Side = "asks"
	SideBids Side = "bids"
)

// Sides lists both sides in the order sinks write them.
var Sides = []Side{SideAsks, SideBids}

// Levels returns the levels of the given side.
func (s OrderbookSnapshot) Levels(side Side) []OrderLevel {
	if side == SideBids {
		return s.Bids
	}
	return s.Asks
}
