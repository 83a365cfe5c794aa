package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/chat-bridge/internal/domain"
	"github.com/tbourn/chat-bridge/internal/repo"
)

type purgeCall struct {
	cutoff time.Time
	batch  int
}

type fakePurger struct {
	calls []purgeCall
	n     int64
}

func (f *fakePurger) Purge(_ context.Context, cutoff time.Time, batch int) (int64, error) {
	f.calls = append(f.calls, purgeCall{cutoff, batch})
	return f.n, nil
}

func TestPurgeScheduler_SweepUsesRetentionCutoff(t *testing.T) {
	fp := &fakePurger{n: 3}
	p := NewPurgeScheduler(fp, 24*time.Hour, 0)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	n, err := p.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.Len(t, fp.calls, 1)
	assert.Equal(t, now.Add(-24*time.Hour), fp.calls[0].cutoff)
	assert.Equal(t, 500, fp.calls[0].batch)
}

func TestPurgeScheduler_RejectsNonPositiveRetention(t *testing.T) {
	_, err := NewPurgeScheduler(&fakePurger{}, 0, 10).Sweep(context.Background())
	assert.Error(t, err)
}

func TestPurgeScheduler_StartValidatesSchedule(t *testing.T) {
	p := NewPurgeScheduler(&fakePurger{}, time.Hour, 10)
	assert.Error(t, p.Start("not a schedule"))

	require.NoError(t, p.Start("@every 1h"))
	<-p.Stop().Done()

	// Stop without Start returns an already-done context.
	<-NewPurgeScheduler(&fakePurger{}, time.Hour, 10).Stop().Done()
}

// Rows older than the window disappear; younger rows survive any number of
// sweeps.
func TestPurgeScheduler_RetentionAgainstLedger(t *testing.T) {
	b := newBridge(t)
	m := b.mapChannels(t, "C1", "D1")
	ctx := context.Background()

	for _, id := range []string{"old", "new"} {
		ok, err := b.ledger.Claim(ctx, repo.LedgerKey{SourcePlatform: domain.PlatformSlack, SourceMessageID: id, MappingID: m.ID})
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, b.ledger.Complete(ctx, repo.LedgerKey{SourcePlatform: domain.PlatformSlack, SourceMessageID: id, MappingID: m.ID}, m.DestChannelID, "t-"+id))
	}
	require.NoError(t, b.db.Model(&domain.LedgerEntry{}).
		Where("source_message_id = ?", "old").
		Update("created_at", time.Now().UTC().Add(-25*time.Hour)).Error)

	p := NewPurgeScheduler(b.ledger, 24*time.Hour, 1)
	for i := 0; i < 5; i++ {
		_, err := p.Sweep(ctx)
		require.NoError(t, err)
	}

	rows := b.ledgerRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, "new", rows[0].SourceMessageID)
}
