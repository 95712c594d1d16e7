package crypto

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/aoikurokawa/zone/internal/domain"
)

var (
	ErrStaleEnvelope  = domain.NewError(domain.KindAuthorization, "stale_envelope", "envelope timestamp outside the accepted window")
	ErrReplayedNonce  = domain.NewError(domain.KindAuthorization, "replayed_nonce", "envelope nonce already used")
	ErrBadSignature   = domain.NewError(domain.KindAuthorization, "bad_signature", "envelope signature does not verify")
	ErrBadFeedRequest = domain.NewError(domain.KindAuthorization, "bad_feed_signature", "price feed request signature does not verify")
)

// Replay rejects envelopes that are too old, too far in the future, or whose
// (signer, nonce) pair was already accepted. Accepted nonces are remembered
// for ttl, which is at least twice the clock skew so an envelope can never
// outlive its nonce record. It is safe for concurrent use.
type Replay struct {
	seen map[string]time.Time // signer:nonce -> accepted at
	ttl  time.Duration
	skew time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewReplay creates a Replay accepting timestamps within skew of now.
func NewReplay(skew, ttl time.Duration) *Replay {
	if ttl < 2*skew {
		ttl = 2 * skew
	}
	return &Replay{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		skew: skew,
		now:  time.Now,
	}
}

// Check validates timestamp and records nonce for signer. A rejected
// envelope leaves no record.
func (r *Replay) Check(signer common.Address, nonce uint64, timestamp int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	ts := time.Unix(timestamp, 0)
	if ts.Before(now.Add(-r.skew)) || ts.After(now.Add(r.skew)) {
		return ErrStaleEnvelope
	}

	key := signer.Hex() + ":" + strconv.FormatUint(nonce, 10)
	if at, ok := r.seen[key]; ok && now.Sub(at) < r.ttl {
		return ErrReplayedNonce
	}
	r.seen[key] = now
	return nil
}

// Cleanup removes nonce records older than the TTL.
func (r *Replay) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for k, at := range r.seen {
		if now.Sub(at) >= r.ttl {
			delete(r.seen, k)
		}
	}
}

// Run calls Cleanup every ttl until ctx is cancelled.
func (r *Replay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Cleanup()
		}
	}
}

// Len returns the number of remembered nonces.
func (r *Replay) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}
