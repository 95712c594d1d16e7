package crypto

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aoikurokawa/zone/internal/domain"
)

// Well-known development key (hardhat account #0).
const (
	testKey  = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddr = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestSigner_Address(t *testing.T) {
	s, err := NewSigner("0x"+testKey, NewDomain("zone"))
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testAddr), s.Address())

	addr, err := AddressFromKey(testKey)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)

	_, err = NewSigner("zz", NewDomain("zone"))
	require.Error(t, err)
}

func TestEnvelope_SignRecover(t *testing.T) {
	d := NewDomain("zone")
	s, err := NewSigner(testKey, d)
	require.NoError(t, err)

	env, err := s.Seal("create_prediction", map[string]any{"asset_id": "BTC", "amount": 10}, 7, 1_700_000_000)
	require.NoError(t, err)
	require.Len(t, env.Signature, 2+130)

	got, err := d.Recover(env)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), got)

	// Survives a JSON round trip because Params is kept raw.
	wire, err := json.Marshal(env)
	require.NoError(t, err)
	var decoded Envelope
	require.NoError(t, json.Unmarshal(wire, &decoded))
	got, err = d.Recover(decoded)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), got)
}

func TestEnvelope_TamperChangesSigner(t *testing.T) {
	d := NewDomain("zone")
	s, err := NewSigner(testKey, d)
	require.NoError(t, err)
	env, err := s.Seal("settle_prediction", map[string]any{"actual_price": 1}, 1, 1)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Envelope)
	}{
		{"kind", func(e *Envelope) { e.Kind = "start_market" }},
		{"params", func(e *Envelope) { e.Params = json.RawMessage(`{"actual_price":2}`) }},
		{"nonce", func(e *Envelope) { e.Nonce = 2 }},
		{"timestamp", func(e *Envelope) { e.Timestamp = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := env
			tt.mutate(&e)
			got, err := d.Recover(e)
			if err == nil {
				assert.NotEqual(t, s.Address(), got)
			}
		})
	}

	got, err := NewDomain("other-program").Recover(env)
	if err == nil {
		assert.NotEqual(t, s.Address(), got)
	}
}

func TestEnvelope_BadSignature(t *testing.T) {
	d := NewDomain("zone")
	for _, sig := range []string{"", "0xzz", "0x1234", "0x" + string(make([]byte, 0))} {
		_, err := d.Recover(Envelope{Kind: "x", Signature: sig})
		require.Error(t, err)
	}
	bad := make([]byte, 130)
	for i := range bad {
		bad[i] = 'f'
	}
	_, err := d.Recover(Envelope{Kind: "x", Signature: "0x" + string(bad)})
	require.Error(t, err)
}

func TestReplay(t *testing.T) {
	r := NewReplay(30*time.Second, time.Second)
	assert.Equal(t, time.Minute, r.ttl)

	now := time.Unix(1_700_000_000, 0)
	r.now = func() time.Time { return now }
	signer := common.HexToAddress(testAddr)

	require.NoError(t, r.Check(signer, 1, now.Unix()))
	err := r.Check(signer, 1, now.Unix())
	require.ErrorIs(t, err, ErrReplayedNonce)
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))

	require.NoError(t, r.Check(common.HexToAddress("0x01"), 1, now.Unix()))
	require.NoError(t, r.Check(signer, 2, now.Unix()-30))

	require.ErrorIs(t, r.Check(signer, 3, now.Unix()-31), ErrStaleEnvelope)
	require.ErrorIs(t, r.Check(signer, 3, now.Unix()+31), ErrStaleEnvelope)
	require.NoError(t, r.Check(signer, 3, now.Unix()))

	now = now.Add(2 * time.Minute)
	r.Cleanup()
	assert.Zero(t, r.Len())
}

func TestFeedAuth_Verify(t *testing.T) {
	auth := FeedAuth{Key: "feed", Secret: "s3cret"}
	now := time.Unix(1_700_000_000, 0)
	body := `{"price":120000}`

	headers := func(ts int64, b string) http.Header {
		h := http.Header{}
		for k, v := range auth.HeadersAt(http.MethodPut, "/api/prices/BTC", b, ts) {
			h.Set(k, v)
		}
		return h
	}

	require.NoError(t, auth.Verify(headers(now.Unix(), body), http.MethodPut, "/api/prices/BTC", []byte(body), now, time.Minute))

	err := auth.Verify(headers(now.Unix(), body), http.MethodPut, "/api/prices/BTC", []byte(`{"price":1}`), now, time.Minute)
	require.ErrorIs(t, err, ErrBadFeedRequest)

	err = auth.Verify(headers(now.Unix()-600, body), http.MethodPut, "/api/prices/BTC", []byte(body), now, time.Minute)
	require.ErrorIs(t, err, ErrStaleEnvelope)

	h := headers(now.Unix(), body)
	h.Set(HeaderFeedKey, "someone-else")
	require.ErrorIs(t, auth.Verify(h, http.MethodPut, "/api/prices/BTC", []byte(body), now, time.Minute), ErrBadFeedRequest)

	assert.Equal(t, "FeedAuth{key=****, secret=s3cr****}", auth.String())
}

func TestKeyFile_RoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testKey, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = DecryptKey(blob, "wrong")
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "keeper.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))
	cfg := KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"}
	assert.True(t, cfg.Configured())
	got, err = LoadKey(cfg)
	require.NoError(t, err)
	assert.Equal(t, testKey, got)
}

func TestLoadKey_Sources(t *testing.T) {
	got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKey, EncryptedKeyPath: "/does/not/exist"})
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = LoadKey(KeyConfig{RawPrivateKey: "not-hex"})
	require.Error(t, err)

	_, err = LoadKey(KeyConfig{})
	require.Error(t, err)

	_, err = EncryptKey(testKey, "")
	require.Error(t, err)
	_, err = EncryptKey("abcd", "pw")
	require.Error(t, err)
}
