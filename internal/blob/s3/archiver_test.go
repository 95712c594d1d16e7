package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aoikurokawa/zone/internal/domain"
)

type fakeBlobs struct {
	objects   map[string][]byte
	multipart []string
	putErr    error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: make(map[string][]byte)}
}

func (f *fakeBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if f.putErr != nil {
		return f.putErr
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.objects[path] = b
	return nil
}

func (f *fakeBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	f.multipart = append(f.multipart, path)
	return f.Put(ctx, path, data, jsonlContentType)
}

func (f *fakeBlobs) List(_ context.Context, _ string) ([]domain.BlobInfo, error) {
	return nil, nil
}

func (f *fakeBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := f.objects[path]
	return ok, nil
}

type fakeSettled struct {
	preds    []domain.Prediction
	from, to int64
}

func (f *fakeSettled) ListSettled(_ context.Context, from, to int64) ([]domain.Prediction, error) {
	f.from, f.to = from, to
	var out []domain.Prediction
	for _, p := range f.preds {
		if p.SettledAt >= from && p.SettledAt < to {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeAudit struct {
	entries []domain.AuditEntry
	logged  []string
}

func (f *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	f.logged = append(f.logged, event)
	return nil
}

func (f *fakeAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	for i := len(f.entries) - 1; i >= 0; i-- {
		e := f.entries[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func decodeLines[T any](t *testing.T, b []byte) []T {
	t.Helper()
	var out []T
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		var v T
		require.NoError(t, json.Unmarshal(sc.Bytes(), &v))
		out = append(out, v)
	}
	require.NoError(t, sc.Err())
	return out
}

var day = time.Date(2025, 1, 31, 15, 4, 5, 0, time.UTC)

func TestArchivePath(t *testing.T) {
	assert.Equal(t, "archive/predictions/2025-01-31.jsonl", ArchivePath("predictions", day))

	// Early morning in Tokyo is still the previous day in UTC.
	tokyo := time.FixedZone("JST", 9*3600)
	assert.Equal(t, "archive/audit/2025-01-31.jsonl", ArchivePath("audit", time.Date(2025, 2, 1, 8, 0, 0, 0, tokyo)))
}

func TestArchiver_ArchiveSettled(t *testing.T) {
	midnight := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC).Unix()
	settled := &fakeSettled{preds: []domain.Prediction{
		{User: common.HexToAddress("0x1"), AssetID: "BTC", Settled: true, SettledAt: midnight - 1},
		{User: common.HexToAddress("0x2"), AssetID: "BTC", Settled: true, Won: true, Payout: 20, SettledAt: midnight},
		{User: common.HexToAddress("0x3"), AssetID: "ETH", Settled: true, SettledAt: midnight + 86399},
		{User: common.HexToAddress("0x4"), AssetID: "ETH", Settled: true, SettledAt: midnight + 86400},
	}}
	blobs := newFakeBlobs()
	audit := &fakeAudit{}
	a := NewArchiver(blobs, blobs, settled, audit, slog.Default())

	n, err := a.ArchiveSettled(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, midnight, settled.from)
	assert.Equal(t, midnight+86400, settled.to)

	got := decodeLines[domain.Prediction](t, blobs.objects["archive/predictions/2025-01-31.jsonl"])
	require.Len(t, got, 2)
	assert.Equal(t, common.HexToAddress("0x2"), got[0].User)
	assert.Equal(t, uint64(20), got[0].Payout)
	assert.Equal(t, []string{"archive.predictions"}, audit.logged)

	// Second run sees the object and writes nothing.
	n, err = a.ArchiveSettled(context.Background(), day)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, audit.logged, 1)
}

func TestArchiver_EmptyDayWritesNothing(t *testing.T) {
	blobs := newFakeBlobs()
	a := NewArchiver(blobs, blobs, &fakeSettled{}, &fakeAudit{}, slog.Default())

	n, err := a.ArchiveSettled(context.Background(), day)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blobs.objects)
}

func TestArchiver_ArchiveAuditOldestFirst(t *testing.T) {
	start := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	audit := &fakeAudit{entries: []domain.AuditEntry{
		{ID: 1, Event: string(domain.OpInitializeVault), CreatedAt: start.Add(-time.Second)},
		{ID: 2, Event: string(domain.OpInitializeMarket), CreatedAt: start},
		{ID: 3, Event: string(domain.OpStartMarket), CreatedAt: start.Add(time.Hour)},
		{ID: 4, Event: string(domain.OpCreatePrediction), CreatedAt: start.Add(24*time.Hour - time.Nanosecond)},
		{ID: 5, Event: string(domain.OpSettlePrediction), CreatedAt: start.Add(24 * time.Hour)},
	}}
	blobs := newFakeBlobs()
	a := NewArchiver(blobs, blobs, &fakeSettled{}, audit, slog.Default())

	n, err := a.ArchiveAudit(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	got := decodeLines[domain.AuditEntry](t, blobs.objects["archive/audit/2025-01-31.jsonl"])
	require.Len(t, got, 3)
	assert.Equal(t, []int64{2, 3, 4}, []int64{got[0].ID, got[1].ID, got[2].ID})
}

func TestArchiver_LargePayloadUsesMultipart(t *testing.T) {
	midnight := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC).Unix()
	long := string(bytes.Repeat([]byte("x"), 60))
	preds := make([]domain.Prediction, 0, 30_000)
	for i := 0; i < cap(preds); i++ {
		preds = append(preds, domain.Prediction{AssetID: long, Settled: true, SettledAt: midnight + int64(i%86400)})
	}
	blobs := newFakeBlobs()
	a := NewArchiver(blobs, blobs, &fakeSettled{preds: preds}, &fakeAudit{}, slog.Default())

	n, err := a.ArchiveSettled(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, int64(len(preds)), n)
	assert.Equal(t, []string{"archive/predictions/2025-01-31.jsonl"}, blobs.multipart)
	assert.Greater(t, len(blobs.objects["archive/predictions/2025-01-31.jsonl"]), multipartThreshold)
}

func TestArchiver_UploadError(t *testing.T) {
	midnight := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC).Unix()
	blobs := newFakeBlobs()
	blobs.putErr = errors.New("boom")
	audit := &fakeAudit{}
	a := NewArchiver(blobs, blobs, &fakeSettled{preds: []domain.Prediction{{SettledAt: midnight}}}, audit, slog.Default())

	_, err := a.ArchiveSettled(context.Background(), day)
	require.ErrorIs(t, err, blobs.putErr)
	assert.Empty(t, audit.logged)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
	assert.Equal(t, "https://s3.internal", normaliseEndpoint("s3.internal", true))
	assert.Equal(t, "http://s3.internal", normaliseEndpoint("s3.internal", false))
}
