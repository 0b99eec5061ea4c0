package ddns

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeResolver struct {
	v4, v6       netip.Addr
	v4err, v6err error
	v4calls      int
	v6calls      int
}

func (f *fakeResolver) ResolveIPv4(context.Context) (netip.Addr, error) {
	f.v4calls++
	if f.v4err != nil {
		return netip.Addr{}, f.v4err
	}
	if !f.v4.IsValid() {
		return netip.Addr{}, errors.New("ipv4 unavailable")
	}
	return f.v4, nil
}

func (f *fakeResolver) ResolveIPv6(context.Context) (netip.Addr, error) {
	f.v6calls++
	if f.v6err != nil {
		return netip.Addr{}, f.v6err
	}
	if !f.v6.IsValid() {
		return netip.Addr{}, errors.New("ipv6 unavailable")
	}
	return f.v6, nil
}

func mustAddr(s string) netip.Addr { return netip.MustParseAddr(s) }

func TestRunOnceBothFamilies(t *testing.T) {
	fp := &fakeProvider{zones: map[string]string{"zone1": "example.com"}}
	account := testAccount("zone1", false, Subdomain{Name: "home"})
	u := newTestUpdater(t, testConfig(account), fp, &fakeResolver{
		v4: mustAddr("1.2.3.4"),
		v6: mustAddr("2001:db8::1"),
	})

	u.RunOnce(context.Background())

	require.Len(t, fp.created, 2)
	assert.Equal(t, KindA, fp.created[0].Kind)
	assert.Equal(t, "1.2.3.4", fp.created[0].Content)
	assert.Equal(t, KindAAAA, fp.created[1].Kind)
	assert.Equal(t, "2001:db8::1", fp.created[1].Content)
}

func TestDetectionFailureDoesNotBlockOtherFamily(t *testing.T) {
	fp := &fakeProvider{zones: map[string]string{"zone1": "example.com"}}
	account := testAccount("zone1", false, Subdomain{Name: "home"})
	u := newTestUpdater(t, testConfig(account), fp, &fakeResolver{
		v4:    mustAddr("1.2.3.4"),
		v6err: errors.New("no route"),
	})

	u.RunOnce(context.Background())

	require.Len(t, fp.created, 1)
	assert.Equal(t, KindA, fp.created[0].Kind)
}

func TestDisabledFamilyIsNotResolved(t *testing.T) {
	fp := &fakeProvider{zones: map[string]string{"zone1": "example.com"}}
	account := testAccount("zone1", false, Subdomain{Name: "home"})
	cfg := testConfig(account)
	cfg.AAAA = boolPtr(false)
	fr := &fakeResolver{v4: mustAddr("1.2.3.4"), v6: mustAddr("2001:db8::1")}
	u := newTestUpdater(t, cfg, fp, fr)

	u.RunOnce(context.Background())

	assert.Equal(t, 0, fr.v6calls)
	require.Len(t, fp.created, 1)
	assert.Equal(t, KindA, fp.created[0].Kind)
}

func TestPurgeDisabledByDefault(t *testing.T) {
	fp := &fakeProvider{
		zones: map[string]string{"zone1": "example.com"},
		records: map[string][]Record{
			"zone1/AAAA": {{ID: "stale1", Kind: KindAAAA, Name: "home.example.com"}},
		},
	}
	account := testAccount("zone1", false, Subdomain{Name: "home"})
	u := newTestUpdater(t, testConfig(account), fp, &fakeResolver{v4: mustAddr("1.2.3.4")})

	u.RunOnce(context.Background())

	assert.Empty(t, fp.deleted)
}

func TestPurgeDeletesEveryRecordOfKind(t *testing.T) {
	fp := &fakeProvider{
		zones: map[string]string{"zone1": "example.com"},
		records: map[string][]Record{
			"zone1/AAAA": {
				{ID: "stale1", Kind: KindAAAA, Name: "home.example.com"},
				{ID: "stale2", Kind: KindAAAA, Name: "unmanaged.example.com"},
			},
		},
	}
	account := testAccount("zone1", false, Subdomain{Name: "home"})
	cfg := testConfig(account)
	cfg.PurgeUnknownRecords = true
	u := newTestUpdater(t, cfg, fp, &fakeResolver{v4: mustAddr("1.2.3.4")})

	u.RunOnce(context.Background())

	assert.Equal(t, []string{"stale1", "stale2"}, fp.deleted,
		"purge deletes every record of the kind, managed or not")
	require.Len(t, fp.created, 1, "IPv4 reconciliation still runs")
	assert.Equal(t, KindA, fp.created[0].Kind)
}

func TestDetectionWarningIsLoggedOnce(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	fp := &fakeProvider{zones: map[string]string{"zone1": "example.com"}}
	account := testAccount("zone1", false, Subdomain{Name: "home"})
	fr := &fakeResolver{v4: mustAddr("1.2.3.4"), v6err: errors.New("no route")}
	u, err := New(testConfig(account),
		UsingProvider(fp),
		UsingResolver(fr),
		WithLogger(zap.New(core)),
	)
	require.NoError(t, err)

	u.RunOnce(context.Background())
	u.RunOnce(context.Background())
	u.RunOnce(context.Background())
	assert.Equal(t, 1, logs.FilterMessage("IPv6 detection failed").Len(),
		"repeated failures should not repeat the warning")

	// detection recovering resets the warn-once state
	fr.v6err = nil
	fr.v6 = mustAddr("2001:db8::1")
	u.RunOnce(context.Background())
	fr.v6err = errors.New("no route again")
	u.RunOnce(context.Background())
	assert.Equal(t, 2, logs.FilterMessage("IPv6 detection failed").Len())
}

func TestTTLFloor(t *testing.T) {
	fp := &fakeProvider{zones: map[string]string{"zone1": "example.com"}}
	account := testAccount("zone1", false, Subdomain{Name: "home"})
	cfg := &Config{Accounts: []Account{account}, TTL: intPtr(0)}
	u := newTestUpdater(t, cfg, fp, &fakeResolver{v4: mustAddr("1.2.3.4")})

	u.RunOnce(context.Background())

	require.Len(t, fp.created, 1)
	assert.Equal(t, 1, fp.created[0].TTL)
	assert.Equal(t, time.Second, u.Interval())
}

func TestNewRequiresAccounts(t *testing.T) {
	_, err := New(&Config{})
	assert.ErrorIs(t, err, ErrNoAccounts)
}

func TestRunStopsBeforeFirstCycleWhenCancelled(t *testing.T) {
	fp := &fakeProvider{zones: map[string]string{"zone1": "example.com"}}
	account := testAccount("zone1", false, Subdomain{Name: "home"})
	fr := &fakeResolver{v4: mustAddr("1.2.3.4")}
	u := newTestUpdater(t, testConfig(account), fp, fr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, u.Run(ctx))
	assert.Equal(t, 0, fr.v4calls, "stop is observed at the top of the cycle")
}

func TestRunGracefulStop(t *testing.T) {
	fp := &fakeProvider{zones: map[string]string{"zone1": "example.com"}}
	account := testAccount("zone1", false, Subdomain{Name: "home"})
	cfg := testConfig(account)
	cfg.TTL = intPtr(1)
	fr := &fakeResolver{v4: mustAddr("1.2.3.4")}
	u := newTestUpdater(t, cfg, fp, fr)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	done := make(chan error, 1)
	go func() { done <- u.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
	assert.Equal(t, 1, fr.v4calls, "the in-flight cycle completes before stopping")
}
