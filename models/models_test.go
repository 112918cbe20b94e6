package models

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

const sampleBooks = `{"arg":{"channel":"books","instId":"BTC-USD-SWAP"},"action":"snapshot","data":[{"asks":[["33919.8","105","0","2"]],"bids":[["33910.0","10","0","1"]],"ts":"1700000000000","checksum":-123}]}`

func TestSubscriptionRequestJSON(t *testing.T) {
	for _, inst := range []string{"BTC-USD-SWAP", "TEST-PAIR", "ETH-USDT", "X"} {
		data, err := json.Marshal(NewSubscriptionRequest("books", inst))
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		want := `{"op":"subscribe","args":[{"channel":"books","instId":"` + inst + `"}]}`
		if string(data) != want {
			t.Errorf("request for %s = %s, want %s", inst, data, want)
		}
	}
}

func TestDecodePushOrderbook(t *testing.T) {
	msg, err := DecodePush([]byte(sampleBooks))
	if err != nil {
		t.Fatalf("DecodePush: %v", err)
	}
	push, ok := msg.(OrderbookPush)
	if !ok {
		t.Fatalf("expected OrderbookPush, got %T", msg)
	}
	if push.Kind() != PushKindOrderbook {
		t.Errorf("unexpected kind %s", push.Kind())
	}
	if push.Subscription().InstrumentID != "BTC-USD-SWAP" || push.Action != "snapshot" {
		t.Fatalf("unexpected header: %+v", push)
	}
	snap := push.First()
	wantAsk := OrderLevel{Price: "33919.8", Size: "105", Deprecated: "0", OrderCount: "2"}
	if len(snap.Asks) != 1 || snap.Asks[0] != wantAsk {
		t.Errorf("unexpected asks: %+v", snap.Asks)
	}
	if len(snap.Bids) != 1 || snap.Bids[0].Price != "33910.0" {
		t.Errorf("unexpected bids: %+v", snap.Bids)
	}
	if snap.Timestamp != "1700000000000" || snap.Checksum != -123 {
		t.Errorf("unexpected ts/checksum: %s %d", snap.Timestamp, snap.Checksum)
	}
}

func TestDecodePushIgnoresUnknownFields(t *testing.T) {
	raw := `{"arg":{"channel":"books","instId":"BTC-USDT","instType":"SWAP"},"action":"update","data":[{"asks":[],"bids":[],"ts":"1","checksum":7,"seqId":42,"prevSeqId":41}]}`
	if _, err := DecodePush([]byte(raw)); err != nil {
		t.Fatalf("DecodePush: %v", err)
	}
}

func TestDecodePushRejectsMismatches(t *testing.T) {
	cases := map[string]string{
		"unknown shape":    `{"test_data":1}`,
		"subscribe ack":    `{"event":"subscribe","arg":{"channel":"books","instId":"BTC-USD-SWAP"},"connId":"a4d3ae55"}`,
		"missing action":   `{"arg":{"channel":"books","instId":"A"},"data":[{"asks":[],"bids":[],"ts":"1","checksum":1}]}`,
		"missing instId":   `{"arg":{"channel":"books"},"action":"snapshot","data":[{"asks":[],"bids":[],"ts":"1","checksum":1}]}`,
		"empty data":       `{"arg":{"channel":"books","instId":"A"},"action":"snapshot","data":[]}`,
		"missing checksum": `{"arg":{"channel":"books","instId":"A"},"action":"snapshot","data":[{"asks":[],"bids":[],"ts":"1"}]}`,
		"numeric ts":       `{"arg":{"channel":"books","instId":"A"},"action":"snapshot","data":[{"asks":[],"bids":[],"ts":1,"checksum":1}]}`,
		"short level":      `{"arg":{"channel":"books","instId":"A"},"action":"snapshot","data":[{"asks":[["1","2"]],"bids":[],"ts":"1","checksum":1}]}`,
		"float checksum":   `{"arg":{"channel":"books","instId":"A"},"action":"snapshot","data":[{"asks":[],"bids":[],"ts":"1","checksum":1.5}]}`,
		"not json":         `ping`,
	}
	for name, raw := range cases {
		if msg, err := DecodePush([]byte(raw)); err == nil {
			t.Errorf("%s: expected error, got %+v", name, msg)
		}
	}
}

func TestPushRoundTrip(t *testing.T) {
	in := OrderbookPush{
		Arg:    ChannelArg{Channel: "books", InstrumentID: "ETH-USD-SWAP"},
		Action: "update",
		Data: []OrderbookSnapshot{
			{
				Asks: []OrderLevel{
					{Price: "1800.01", Size: "3", Deprecated: "0", OrderCount: "1"},
					{Price: "1800.5", Size: "0", Deprecated: "0", OrderCount: "0"},
				},
				Bids:      []OrderLevel{{Price: "1799.99", Size: "12", Deprecated: "1", OrderCount: "4"}},
				Timestamp: "1700000000123",
				Checksum:  -9223372036854775808,
			},
			{Timestamp: "1700000000124", Checksum: 9223372036854775807},
		},
	}
	data, err := EncodePush(in)
	if err != nil {
		t.Fatalf("EncodePush: %v", err)
	}
	out, err := DecodePush(data)
	if err != nil {
		t.Fatalf("DecodePush: %v", err)
	}
	if !reflect.DeepEqual(PushMessage(in), out) {
		t.Fatalf("round trip mismatch:\n in: %+v\nout: %+v", in, out)
	}
}

func TestPushRoundTripEmptySide(t *testing.T) {
	in := OrderbookPush{
		Arg:    ChannelArg{Channel: "books", InstrumentID: "BTC-USD-SWAP"},
		Action: "update",
		Data: []OrderbookSnapshot{{
			Bids:      []OrderLevel{{Price: "1", Size: "2", Deprecated: "0", OrderCount: "1"}},
			Timestamp: "1",
			Checksum:  5,
		}},
	}
	data, err := EncodePush(in)
	if err != nil {
		t.Fatalf("EncodePush: %v", err)
	}
	if !strings.Contains(string(data), `"asks":[]`) {
		t.Fatalf("empty side should encode as []: %s", data)
	}
	out, err := DecodePush(data)
	if err != nil {
		t.Fatalf("DecodePush: %v", err)
	}
	if !reflect.DeepEqual(PushMessage(in), out) {
		t.Fatalf("round trip mismatch:\n in: %+v\nout: %+v", in, out)
	}

	snap, err := json.Marshal(OrderbookSnapshot{Timestamp: "2", Checksum: 1})
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	if string(snap) != `{"asks":[],"bids":[],"ts":"2","checksum":1}` {
		t.Fatalf("unexpected snapshot encoding %s", snap)
	}
}

func TestOrderLevelJSON(t *testing.T) {
	data, err := json.Marshal(OrderLevel{Price: "1", Size: "2", Deprecated: "3", OrderCount: "4"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `["1","2","3","4"]` {
		t.Fatalf("unexpected encoding %s", data)
	}
	var l OrderLevel
	if err := json.Unmarshal([]byte(`["1","2","3","4","5"]`), &l); err == nil || !strings.Contains(err.Error(), "4 elements") {
		t.Fatalf("expected length error, got %v", err)
	}
}

func TestSnapshotLevels(t *testing.T) {
	s := OrderbookSnapshot{Asks: []OrderLevel{{Price: "2"}}, Bids: []OrderLevel{{Price: "1"}, {Price: "0.5"}}}
	if len(s.Levels(SideAsks)) != 1 || len(s.Levels(SideBids)) != 2 {
		t.Fatalf("unexpected side split: %+v", s)
	}
}
