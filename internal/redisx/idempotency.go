package redisx

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrInFlight means another request holding the same key has not finished.
var ErrInFlight = errors.New("request with this idempotency key is in progress")

// ErrKeyReused means the key was first used with a different request.
var ErrKeyReused = errors.New("idempotency key was used with a different request")

// Response is a completed result stored for replay.
type Response struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

type record struct {
	State       string    `json:"state"`
	Fingerprint string    `json:"fingerprint"`
	Response    *Response `json:"response,omitempty"`
}

const (
	stateProcessing = "processing"
	stateDone       = "done"
)

// Idempotency claims Idempotency-Key values for checkout submissions.
type Idempotency struct {
	rdb *redis.Client
}

func NewIdempotency(rdb *redis.Client) *Idempotency { return &Idempotency{rdb: rdb} }

func Key(buyerID, key string) string { return fmt.Sprintf(KeyIdemCheckout, buyerID, key) }

// Fingerprint identifies a request payload.
func Fingerprint(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Begin claims key for the request identified by fingerprint. It returns
// (nil, nil) when the caller owns the key and must run the request, the
// stored response when the same request already completed, ErrKeyReused
// when the key belongs to another request, or ErrInFlight.
func (s *Idempotency) Begin(ctx context.Context, key, fingerprint string) (*Response, error) {
	claim, _ := json.Marshal(record{State: stateProcessing, Fingerprint: fingerprint})
	ok, err := s.rdb.SetNX(ctx, key, claim, TTLInFlight).Result()
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, nil
	}

	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; try once more
		return s.Begin(ctx, key, fingerprint)
	}
	if err != nil {
		return nil, err
	}
	var rec record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}
	if rec.Fingerprint != fingerprint {
		return nil, ErrKeyReused
	}
	if rec.State == stateDone && rec.Response != nil {
		return rec.Response, nil
	}
	return nil, ErrInFlight
}

// Complete stores the response for replay.
func (s *Idempotency) Complete(ctx context.Context, key, fingerprint string, resp Response) error {
	b, err := json.Marshal(record{State: stateDone, Fingerprint: fingerprint, Response: &resp})
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key, b, TTLIdempotency).Err()
}

// Abort releases the key so the client may retry after a failure.
func (s *Idempotency) Abort(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
