package mqx

import (
	"fmt"
	"strconv"
	"testing"

	"github.com/segmentio/kafka-go"

	"jungleboard/shared/config"
)

// All events for one task carry the task id as the message key; the
// producer's balancer must route a given key to exactly one partition or
// per-task ordering is lost under competing consumers.
func TestProducerBalancerIsKeyStable(t *testing.T) {
	p, err := NewProducer(config.Config{KafkaBrokers: []string{"localhost:9092"}})
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	defer p.Close()

	partitions := []int{0, 1, 2}
	key := []byte("b3b9c1d2-0000-4000-8000-000000000042")

	seen := map[int]bool{}
	for i := 0; i < 20; i++ {
		msg := kafka.Message{Key: key, Value: []byte(strconv.Itoa(i))}
		seen[p.writer.Balancer.Balance(msg, partitions...)] = true
	}
	if len(seen) != 1 {
		t.Fatalf("same key spread across %d partitions: %v", len(seen), seen)
	}

	spread := map[int]bool{}
	for i := 0; i < 50; i++ {
		msg := kafka.Message{Key: []byte(fmt.Sprintf("task-%d", i))}
		spread[p.writer.Balancer.Balance(msg, partitions...)] = true
	}
	if len(spread) < 2 {
		t.Fatalf("distinct keys never spread across partitions: %v", spread)
	}
}

func TestAttemptsHeaderRoundTrip(t *testing.T) {
	msg := kafka.Message{}
	if got := Attempts(msg); got != 0 {
		t.Fatalf("fresh message attempts = %d, want 0", got)
	}
	msg.Headers = []kafka.Header{{Key: HeaderAttempts, Value: []byte("3")}}
	if got := Attempts(msg); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
	msg.Headers = []kafka.Header{{Key: HeaderAttempts, Value: []byte("junk")}}
	if got := Attempts(msg); got != 0 {
		t.Fatalf("unparseable attempts = %d, want 0", got)
	}
}
