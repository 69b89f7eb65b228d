package lockx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestAcquireValidation(t *testing.T) {
	ctx := context.Background()
	if _, _, err := Acquire(ctx, nil, "digest:badges", time.Minute); !errors.Is(err, ErrNoClient) {
		t.Fatalf("nil client error = %v, want ErrNoClient", err)
	}
	if err := Release(ctx, nil, &Lock{}); !errors.Is(err, ErrNoClient) {
		t.Fatalf("nil client release error = %v, want ErrNoClient", err)
	}
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()
	if _, _, err := Acquire(ctx, client, "digest:badges", 0); !errors.Is(err, ErrInvalidTTL) {
		t.Fatalf("zero ttl error = %v, want ErrInvalidTTL", err)
	}
}
