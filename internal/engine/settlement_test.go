package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AMRITESH240304/AgentMint/internal/domain"
	"github.com/AMRITESH240304/AgentMint/internal/store/memory"
)

type pipelineFixture struct {
	pipeline  *SettlementPipeline
	store     *memory.SettlementStore
	audit     *memory.AuditStore
	authority *fakeAuthority
	auth      *fakeAuth
	notifier  *recordingNotifier
	clock     *clockwork.FakeClock
}

func newPipelineFixture(t *testing.T, authorized ...string) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		store:     memory.NewSettlementStore(),
		audit:     memory.NewAuditStore(),
		authority: &fakeAuthority{},
		auth:      newFakeAuth(authorized...),
		notifier:  &recordingNotifier{},
		clock:     clockwork.NewFakeClock(),
	}
	f.pipeline = NewSettlementPipeline(SettlementDeps{
		Store:     f.store,
		Authority: f.authority,
		Auth:      f.auth,
		Audit:     f.audit,
		Notifier:  f.notifier,
		Clock:     f.clock,
	}, SettlementConfig{StageAttempts: 3}, discardLogger())
	return f
}

func testJob() SettlementJob {
	return SettlementJob{
		AuctionID: "a1",
		WinnerID:  self,
		Amount:    dec("1.5"),
		Asset:     domain.AssetDescriptor{AgentID: "agent-7", Name: "Scout", TokenID: "7"},
	}
}

func netErr(msg string) error {
	return fmt.Errorf("%w: %s", domain.ErrNetworkFailure, msg)
}

func TestSettlementHappyPath(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, self)

	rec, err := f.pipeline.Run(ctx, testJob())
	require.NoError(t, err)
	assert.Equal(t, domain.StageComplete, rec.Stage)
	assert.Equal(t, []string{"pay", "register", "license"}, f.authority.callLog())
	assert.Equal(t, []string{"a1"}, f.authority.payKeys)
	assert.Equal(t, "ip-7", rec.AssetRef)

	require.Len(t, rec.TxRefs, 3)
	assert.Equal(t, domain.StagePaying, rec.TxRefs[0].Stage)
	assert.Equal(t, domain.StageRegistering, rec.TxRefs[1].Stage)
	assert.Equal(t, domain.StageLicenseSetup, rec.TxRefs[2].Stage)
	assert.Equal(t, "lic-ip-7", rec.TxRefs[2].Ref)

	require.Len(t, f.authority.terms, 1)
	assert.Equal(t, domain.DefaultLicenseTerms(self), f.authority.terms[0])

	stored, err := f.store.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, rec.Stage, stored.Stage)
	assert.Equal(t, rec.TxRefs, stored.TxRefs)

	entries, err := f.audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, entries, 5, "idle->authorizing plus one per stage")
	assert.Equal(t, []string{domain.EventSettlementComplete}, f.notifier.kinds())

	// A completed settlement never re-runs a stage.
	again, err := f.pipeline.Run(ctx, testJob())
	require.NoError(t, err)
	assert.Equal(t, domain.StageComplete, again.Stage)
	assert.Len(t, f.authority.callLog(), 3)
}

func TestSettlementResumesAtFailedPayment(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, self)
	f.authority.payErrs = []error{netErr("timeout"), netErr("timeout"), netErr("timeout")}

	rec, err := f.pipeline.Run(ctx, testJob())
	var serr *domain.SettlementError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, domain.StagePaying, serr.Stage)
	assert.ErrorIs(t, err, domain.ErrNetworkFailure)
	assert.Equal(t, domain.StageFailed, rec.Stage)
	assert.Equal(t, domain.StagePaying, rec.FailedStage)
	assert.Equal(t, []string{"pay", "pay", "pay"}, f.authority.callLog())

	stored, err := f.store.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.StageFailed, stored.Stage)
	assert.Equal(t, domain.StagePaying, stored.ResumeStage())

	rec, err = f.pipeline.Run(ctx, testJob())
	require.NoError(t, err)
	assert.Equal(t, domain.StageComplete, rec.Stage)
	assert.Equal(t, []string{"pay", "pay", "pay", "pay", "register", "license"}, f.authority.callLog())
	assert.Contains(t, f.notifier.kinds(), domain.EventSettlementFailed)
}

func TestSettlementRetryDoesNotRepeatPayment(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, self)
	f.authority.registerErrs = []error{errors.New("asset already exists")}

	rec, err := f.pipeline.Run(ctx, testJob())
	require.Error(t, err)
	assert.Equal(t, domain.StageRegistering, rec.FailedStage)
	assert.Equal(t, []string{"pay", "register"}, f.authority.callLog(), "non-transient errors are not retried")

	rec, err = f.pipeline.Run(ctx, testJob())
	require.NoError(t, err)
	assert.Equal(t, domain.StageComplete, rec.Stage)
	assert.Equal(t, 1, f.authority.count("pay"))
	_, ok := rec.TxRefFor(domain.StagePaying)
	assert.True(t, ok)
}

func TestSettlementTransientThenSuccess(t *testing.T) {
	f := newPipelineFixture(t, self)
	f.authority.licenseErrs = []error{netErr("502")}

	rec, err := f.pipeline.Run(context.Background(), testJob())
	require.NoError(t, err)
	assert.Equal(t, domain.StageComplete, rec.Stage)
	assert.Equal(t, 2, f.authority.count("license"))
	assert.Equal(t, 4, rec.Attempts)
}

func TestSettlementBlockedWithoutAuthorization(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t)

	rec, err := f.pipeline.Run(ctx, testJob())
	require.ErrorIs(t, err, domain.ErrAuthorizationRequired)
	assert.Equal(t, domain.StageAuthorizing, rec.Stage)
	assert.True(t, rec.Blocked)
	assert.Empty(t, rec.FailedStage)
	assert.Empty(t, f.authority.callLog())

	// Blocking twice notifies once.
	_, err = f.pipeline.Run(ctx, testJob())
	require.ErrorIs(t, err, domain.ErrAuthorizationRequired)
	assert.Equal(t, []string{domain.EventAuthorizationRequired}, f.notifier.kinds())

	ok, err := f.auth.Authorize(ctx, self, "ok")
	require.NoError(t, err)
	require.True(t, ok)

	rec, err = f.pipeline.Run(ctx, testJob())
	require.NoError(t, err)
	assert.Equal(t, domain.StageComplete, rec.Stage)
	assert.False(t, rec.Blocked)
}

func TestSettlementSingleFlight(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, self)
	f.authority.payGate = make(chan struct{})
	f.authority.payStarted = make(chan struct{}, 1)

	type result struct {
		rec domain.SettlementRecord
		err error
	}
	first := make(chan result, 1)
	go func() {
		rec, err := f.pipeline.Run(ctx, testJob())
		first <- result{rec, err}
	}()

	select {
	case <-f.authority.payStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("payment never started")
	}

	_, err := f.pipeline.Run(ctx, testJob())
	require.ErrorIs(t, err, domain.ErrSettlementInFlight)

	close(f.authority.payGate)
	r := <-first
	require.NoError(t, r.err)
	assert.Equal(t, domain.StageComplete, r.rec.Stage)
	assert.Equal(t, 1, f.authority.count("pay"))
}

func TestSettlementDistributedLock(t *testing.T) {
	f := newPipelineFixture(t, self)
	locks := &fakeLocks{}
	f.pipeline.deps.Locks = locks

	unlock, err := locks.Acquire(context.Background(), "settlement:a1", time.Minute)
	require.NoError(t, err)

	_, err = f.pipeline.Run(context.Background(), testJob())
	require.ErrorIs(t, err, domain.ErrSettlementInFlight)
	assert.Empty(t, f.authority.callLog())

	unlock()
	rec, err := f.pipeline.Run(context.Background(), testJob())
	require.NoError(t, err)
	assert.Equal(t, domain.StageComplete, rec.Stage)
}

type stubMetadata struct{ calls int }

func (m *stubMetadata) Publish(_ context.Context, auctionID string, asset domain.AssetDescriptor, ownerID string) (domain.AssetDescriptor, error) {
	m.calls++
	asset.MetadataURI = "s3://bucket/" + auctionID + "/ip.json"
	asset.MetadataHash = "0xhash"
	return asset, nil
}

func TestSettlementPublishesMetadataBeforeRegistering(t *testing.T) {
	f := newPipelineFixture(t, self)
	meta := &stubMetadata{}
	f.pipeline.deps.Metadata = meta

	_, err := f.pipeline.Run(context.Background(), testJob())
	require.NoError(t, err)
	assert.Equal(t, 1, meta.calls)
	require.Len(t, f.authority.registered, 1)
	assert.Equal(t, "s3://bucket/a1/ip.json", f.authority.registered[0].MetadataURI)
}

func TestSettlementCancelledKeepsStage(t *testing.T) {
	f := newPipelineFixture(t, self)
	f.authority.payGate = make(chan struct{})
	f.authority.payStarted = make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.pipeline.Run(ctx, testJob())
		done <- err
	}()
	<-f.authority.payStarted
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	stored, err := f.store.Get(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.StagePaying, stored.Stage)
	assert.Equal(t, domain.StagePaying, stored.ResumeStage())
}
