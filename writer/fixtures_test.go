package writer

import (
	"context"
	"sync"
	"testing"

	"pythagoras/models"
)

const sampleBooks = `{"arg":{"channel":"books","instId":"BTC-USD-SWAP"},"action":"snapshot","data":[{"asks":[["33919.8","105","0","2"]],"bids":[["33910.0","10","0","1"]],"ts":"1700000000000","checksum":-123}]}`

func samplePush(t *testing.T) models.OrderbookPush {
	t.Helper()
	msg, err := models.DecodePush([]byte(sampleBooks))
	if err != nil {
		t.Fatalf("decode sample: %v", err)
	}
	return msg.(models.OrderbookPush)
}

// recordingSink remembers every message it was asked to write.
type recordingSink struct {
	name string
	err  error

	mu       sync.Mutex
	messages []models.PushMessage
	closed   bool
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Write(_ context.Context, msg models.PushMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return s.err
}

func (s *recordingSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) received() []models.PushMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.PushMessage(nil), s.messages...)
}
