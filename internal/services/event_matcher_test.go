package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"postauction-system/internal/config"
	"postauction-system/internal/domain"
	"postauction-system/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bankerCall struct {
	method        string
	account       string
	transactionID string
	amount        domain.Amount
}

type fakeBanker struct {
	mu    sync.Mutex
	calls []bankerCall
}

func (b *fakeBanker) record(call bankerCall) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call)
}

func (b *fakeBanker) AttachBid(ctx context.Context, account domain.AccountKey, transactionID string, maxPrice domain.Amount) error {
	b.record(bankerCall{method: "attachBid", account: account.String(), transactionID: transactionID, amount: maxPrice})
	return nil
}

func (b *fakeBanker) WinBid(ctx context.Context, account domain.AccountKey, transactionID string, price domain.Amount, lineItems domain.LineItems) error {
	b.record(bankerCall{method: "winBid", account: account.String(), transactionID: transactionID, amount: price})
	return nil
}

func (b *fakeBanker) ForceWinBid(ctx context.Context, account domain.AccountKey, price domain.Amount, lineItems domain.LineItems) error {
	b.record(bankerCall{method: "forceWinBid", account: account.String(), amount: price})
	return nil
}

func (b *fakeBanker) CancelBid(ctx context.Context, account domain.AccountKey, transactionID string) error {
	b.record(bankerCall{method: "cancelBid", account: account.String(), transactionID: transactionID})
	return nil
}

func (b *fakeBanker) LogBidEvents(ctx context.Context, recorder domain.EventRecorder) error {
	b.record(bankerCall{method: "logBidEvents"})
	return nil
}

func (b *fakeBanker) callsFor(method string) []bankerCall {
	b.mu.Lock()
	defer b.mu.Unlock()

	var matched []bankerCall
	for _, call := range b.calls {
		if call.method == method {
			matched = append(matched, call)
		}
	}
	return matched
}

type capturedOutputs struct {
	winLoss   []*domain.MatchedWinLoss
	campaigns []*domain.MatchedCampaignEvent
	unmatched []*domain.UnmatchedEvent
}

func (c *capturedOutputs) handlers() domain.MatchedHandlers {
	return domain.MatchedHandlers{
		OnMatchedWinLoss: func(event *domain.MatchedWinLoss) {
			c.winLoss = append(c.winLoss, event)
		},
		OnMatchedCampaignEvent: func(event *domain.MatchedCampaignEvent) {
			c.campaigns = append(c.campaigns, event)
		},
		OnUnmatchedEvent: func(event *domain.UnmatchedEvent) {
			c.unmatched = append(c.unmatched, event)
		},
	}
}

type testClock struct {
	current time.Time
}

func (c *testClock) Now() time.Time {
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}

var baseTime = time.Date(2026, 3, 17, 12, 0, 0, 0, time.UTC)

func newTestMatcher(t *testing.T) (*EventMatcher, *fakeBanker, *InMemoryRecorder, *capturedOutputs, *testClock) {
	t.Helper()

	cfg := config.MatcherConfig{
		LossTimeout:     15 * time.Second,
		WinTimeout:      time.Hour,
		AuctionTimeout:  15 * time.Minute,
		ForceWinUnknown: true,
	}

	banker := &fakeBanker{}
	recorder := NewInMemoryRecorder()
	outputs := &capturedOutputs{}
	clock := &testClock{current: baseTime}

	matcher := NewEventMatcher(cfg, banker, recorder, outputs.handlers(), logger.NewNop())
	matcher.now = clock.Now

	return matcher, banker, recorder, outputs, clock
}

func submittedEvent(auction, spot string, maxPrice float64, lossTimeout time.Time) *domain.SubmittedAuctionEvent {
	return &domain.SubmittedAuctionEvent{
		AuctionID: domain.ID(auction),
		AdSpotID:  domain.ID(spot),
		BidRequest: &domain.BidRequest{
			ID:        domain.ID(auction),
			Timestamp: baseTime,
			AdSpots:   []domain.AdSpot{{ID: domain.ID(spot)}},
		},
		BidResponse: domain.BidResponse{
			Agent:    "agent1",
			Account:  domain.AccountKey{"network", "campaign1"},
			MaxPrice: domain.NewAmount(maxPrice, "USD"),
			Bids:     domain.Bids{{SpotIndex: 0, Price: domain.NewAmount(maxPrice, "USD")}},
		},
		LossTimeout: lossTimeout,
	}
}

func winEvent(auction, spot string, winPrice float64, bidTimestamp time.Time) *domain.PostAuctionEvent {
	return &domain.PostAuctionEvent{
		Type:         domain.EventWin,
		AuctionID:    domain.ID(auction),
		AdSpotID:     domain.ID(spot),
		Timestamp:    bidTimestamp.Add(time.Second),
		BidTimestamp: bidTimestamp,
		WinPrice:     domain.NewAmount(winPrice, "USD"),
		Metadata:     `{"exchange":"x"}`,
	}
}

func lossEvent(auction, spot string, bidTimestamp time.Time) *domain.PostAuctionEvent {
	return &domain.PostAuctionEvent{
		Type:         domain.EventLoss,
		AuctionID:    domain.ID(auction),
		AdSpotID:     domain.ID(spot),
		Timestamp:    bidTimestamp.Add(time.Second),
		BidTimestamp: bidTimestamp,
	}
}

func campaignEvent(label, auction, spot string) *domain.PostAuctionEvent {
	return &domain.PostAuctionEvent{
		Type:      domain.EventCampaign,
		Label:     label,
		AuctionID: domain.ID(auction),
		AdSpotID:  domain.ID(spot),
		Timestamp: baseTime.Add(2 * time.Second),
		UIDs:      domain.UserIDs{"prov": "u1"},
	}
}

func TestHappyPathWin(t *testing.T) {
	matcher, banker, _, outputs, clock := newTestMatcher(t)
	ctx := context.Background()

	matcher.HandleAuction(ctx, submittedEvent("1", "1", 5, clock.Now().Add(15*time.Second)))

	attached := banker.callsFor("attachBid")
	require.Len(t, attached, 1)
	assert.Equal(t, "1-1-agent1", attached[0].transactionID)
	assert.True(t, domain.NewAmount(5, "USD").Equal(attached[0].amount))

	matcher.HandleEvent(ctx, winEvent("1", "1", 3, clock.Now()))

	won := banker.callsFor("winBid")
	require.Len(t, won, 1)
	assert.Equal(t, "1-1-agent1", won[0].transactionID)
	assert.True(t, domain.NewAmount(3, "USD").Equal(won[0].amount))
	assert.Empty(t, banker.callsFor("cancelBid"))

	require.Len(t, outputs.winLoss, 1)
	matched := outputs.winLoss[0]
	assert.Equal(t, domain.MatchedWin, matched.Kind)
	assert.Equal(t, domain.ConfidenceGuaranteed, matched.Confidence)
	assert.True(t, domain.NewAmount(3, "USD").Equal(matched.Price))
	assert.True(t, domain.NewAmount(3, "USD").Equal(matched.WinPrice))

	assert.True(t, matcher.finished.Contains(key("1", "1")))
	assert.False(t, matcher.submitted.Contains(key("1", "1")))
}

func TestEarlyWinReplay(t *testing.T) {
	matcher, banker, recorder, outputs, clock := newTestMatcher(t)
	ctx := context.Background()

	// The win races ahead of the auction record.
	matcher.HandleEvent(ctx, winEvent("2", "1", 4, clock.Now()))

	assert.True(t, matcher.submitted.Contains(key("2", "1")))
	assert.Empty(t, outputs.winLoss)
	assert.Equal(t, uint64(1), recorder.HitCount("bidResult.WIN.noBidSubmitted"))

	clock.Advance(time.Second)
	matcher.HandleAuction(ctx, submittedEvent("2", "1", 6, clock.Now().Add(15*time.Second)))

	assert.Equal(t, uint64(1), recorder.HitCount("replayedEarlyWinEvent"))

	won := banker.callsFor("winBid")
	require.Len(t, won, 1)
	assert.True(t, domain.NewAmount(4, "USD").Equal(won[0].amount))

	require.Len(t, outputs.winLoss, 1)
	assert.Equal(t, domain.MatchedWin, outputs.winLoss[0].Kind)
	assert.Equal(t, domain.ConfidenceGuaranteed, outputs.winLoss[0].Confidence)
}

func TestEarlyWinReplayUsesFirstNotice(t *testing.T) {
	matcher, banker, recorder, outputs, clock := newTestMatcher(t)
	ctx := context.Background()

	// Two notices for the same key before the auction record.
	matcher.HandleEvent(ctx, winEvent("2", "1", 4, clock.Now()))
	matcher.HandleEvent(ctx, winEvent("2", "1", 4, clock.Now()))

	matcher.HandleAuction(ctx, submittedEvent("2", "1", 6, clock.Now().Add(15*time.Second)))

	require.Len(t, outputs.winLoss, 1, "one resolution from the first notice")
	assert.Len(t, banker.callsFor("winBid"), 1)
	assert.Equal(t, uint64(1), recorder.HitCount("bidResult.WIN.duplicate"))
}

func TestExplicitLossNotice(t *testing.T) {
	matcher, banker, _, outputs, clock := newTestMatcher(t)
	ctx := context.Background()

	matcher.HandleAuction(ctx, submittedEvent("3", "1", 5, clock.Now().Add(15*time.Second)))
	matcher.HandleEvent(ctx, lossEvent("3", "1", clock.Now()))

	// The scoped guard releases the reservation.
	assert.Len(t, banker.callsFor("cancelBid"), 1)
	assert.Empty(t, banker.callsFor("winBid"))

	require.Len(t, outputs.winLoss, 1)
	assert.Equal(t, domain.MatchedLoss, outputs.winLoss[0].Kind)
	assert.Equal(t, domain.ConfidenceInferred, outputs.winLoss[0].Confidence)
	assert.True(t, outputs.winLoss[0].Price.IsZero())
}

func TestInferredLossOnExpiry(t *testing.T) {
	matcher, banker, recorder, outputs, clock := newTestMatcher(t)
	ctx := context.Background()

	matcher.HandleAuction(ctx, submittedEvent("3", "1", 5, clock.Now().Add(time.Second)))

	clock.Advance(1100 * time.Millisecond)
	matcher.CheckExpiredAuctions(ctx)

	assert.Equal(t, uint64(1), recorder.HitCount("submittedAuctionExpiry"))
	assert.Len(t, banker.callsFor("cancelBid"), 1)

	require.Len(t, outputs.winLoss, 1)
	matched := outputs.winLoss[0]
	assert.Equal(t, domain.MatchedLoss, matched.Kind)
	assert.Equal(t, domain.ConfidenceInferred, matched.Confidence)
	assert.True(t, matched.Price.IsZero())

	assert.True(t, matcher.finished.Contains(key("3", "1")))
	assert.False(t, matcher.submitted.Contains(key("3", "1")))
	assert.Len(t, banker.callsFor("logBidEvents"), 1)
}

func TestLateWinAfterInferredLoss(t *testing.T) {
	matcher, banker, recorder, outputs, clock := newTestMatcher(t)
	ctx := context.Background()

	matcher.HandleAuction(ctx, submittedEvent("3", "1", 5, clock.Now().Add(time.Second)))
	clock.Advance(1100 * time.Millisecond)
	matcher.CheckExpiredAuctions(ctx)

	clock.Advance(400 * time.Millisecond)
	matcher.HandleEvent(ctx, winEvent("3", "1", 2, baseTime))

	forced := banker.callsFor("forceWinBid")
	require.Len(t, forced, 1)
	assert.True(t, domain.NewAmount(2, "USD").Equal(forced[0].amount))

	require.Len(t, outputs.winLoss, 2)
	lateWin := outputs.winLoss[1]
	assert.Equal(t, domain.MatchedLateWin, lateWin.Kind)
	assert.Equal(t, domain.ConfidenceGuaranteed, lateWin.Confidence)

	assert.Equal(t, uint64(1), recorder.HitCount("bidResult.WIN.winAfterLossAssumed"))

	info, ok := matcher.finished.Get(key("3", "1"))
	require.True(t, ok)
	assert.Equal(t, domain.StatusWin, info.ReportedStatus)
}

func TestDuplicateWin(t *testing.T) {
	matcher, banker, recorder, outputs, clock := newTestMatcher(t)
	ctx := context.Background()

	matcher.HandleAuction(ctx, submittedEvent("1", "1", 5, clock.Now().Add(15*time.Second)))
	win := winEvent("1", "1", 3, clock.Now())
	matcher.HandleEvent(ctx, win)

	callsBefore := len(banker.calls)
	matcher.HandleEvent(ctx, win)

	assert.Equal(t, uint64(1), recorder.HitCount("bidResult.WIN.duplicate"))
	assert.Len(t, outputs.winLoss, 1, "duplicates emit nothing")
	assert.Len(t, banker.calls, callsBefore, "duplicates touch no money")
}

func TestDuplicateWinWithDifferentPrice(t *testing.T) {
	matcher, _, recorder, outputs, clock := newTestMatcher(t)
	ctx := context.Background()

	matcher.HandleAuction(ctx, submittedEvent("1", "1", 5, clock.Now().Add(15*time.Second)))
	matcher.HandleEvent(ctx, winEvent("1", "1", 3, clock.Now()))
	matcher.HandleEvent(ctx, winEvent("1", "1", 4, clock.Now()))

	assert.Equal(t, uint64(1), recorder.HitCount("bidResult.WIN.duplicateWithDifferentPrice"))
	assert.Len(t, outputs.winLoss, 1)
}

func TestCampaignEventBeforeResolution(t *testing.T) {
	matcher, _, _, outputs, clock := newTestMatcher(t)
	ctx := context.Background()

	matcher.HandleAuction(ctx, submittedEvent("4", "1", 5, clock.Now().Add(15*time.Second)))

	// Delivery telemetry knows the auction but not the spot.
	matcher.HandleEvent(ctx, campaignEvent("impression", "4", ""))

	require.Len(t, outputs.unmatched, 1)
	assert.Equal(t, domain.UnmatchedInFlight, outputs.unmatched[0].Reason)
	assert.Empty(t, outputs.campaigns)

	matcher.HandleEvent(ctx, winEvent("4", "1", 3, clock.Now()))

	require.Len(t, outputs.campaigns, 1, "buffered event replays after resolution")
	assert.Equal(t, "impression", outputs.campaigns[0].Label)
	assert.Equal(t, domain.ID("4"), outputs.campaigns[0].AuctionID)
	assert.Equal(t, domain.ID("1"), outputs.campaigns[0].AdSpotID)
}

func TestCampaignEventOnFinished(t *testing.T) {
	matcher, _, _, outputs, clock := newTestMatcher(t)
	ctx := context.Background()

	matcher.HandleAuction(ctx, submittedEvent("4", "1", 5, clock.Now().Add(15*time.Second)))
	matcher.HandleEvent(ctx, winEvent("4", "1", 3, clock.Now()))
	matcher.HandleEvent(ctx, campaignEvent("click", "4", "1"))

	require.Len(t, outputs.campaigns, 1)
	assert.Equal(t, "click", outputs.campaigns[0].Label)

	info, ok := matcher.finished.Get(key("4", "1"))
	require.True(t, ok)
	assert.True(t, info.CampaignEvents.HasEvent("click"))
	assert.Equal(t, "u1", info.UIDs["prov"])
}

func TestCampaignEventDuplicateLabel(t *testing.T) {
	matcher, _, recorder, outputs, clock := newTestMatcher(t)
	ctx := context.Background()

	matcher.HandleAuction(ctx, submittedEvent("4", "1", 5, clock.Now().Add(15*time.Second)))
	matcher.HandleEvent(ctx, winEvent("4", "1", 3, clock.Now()))
	matcher.HandleEvent(ctx, campaignEvent("click", "4", "1"))
	matcher.HandleEvent(ctx, campaignEvent("click", "4", "1"))

	assert.Len(t, outputs.campaigns, 1, "each label records at most once")
	require.Len(t, outputs.unmatched, 1)
	assert.Equal(t, domain.UnmatchedDuplicate, outputs.unmatched[0].Reason)
	assert.Equal(t, uint64(1), recorder.HitCount("delivery.click.duplicate"))
}

func TestCampaignEventAuctionNotFound(t *testing.T) {
	matcher, _, recorder, outputs, _ := newTestMatcher(t)
	ctx := context.Background()

	matcher.HandleEvent(ctx, campaignEvent("visit", "nope", ""))

	require.Len(t, outputs.unmatched, 1)
	assert.Equal(t, domain.UnmatchedAuctionNotFound, outputs.unmatched[0].Reason)
	assert.Equal(t, uint64(1), recorder.HitCount("delivery.visit.auctionNotFound"))
}

func TestCampaignPrefixMatchesSmallestSpot(t *testing.T) {
	matcher, _, _, outputs, clock := newTestMatcher(t)
	ctx := context.Background()

	// Two spots of the same auction, both finished.
	twoSpot := submittedEvent("5", "1", 5, clock.Now().Add(15*time.Second))
	twoSpot.BidRequest.AdSpots = []domain.AdSpot{{ID: "1"}, {ID: "2"}}
	matcher.HandleAuction(ctx, twoSpot)

	second := submittedEvent("5", "2", 5, clock.Now().Add(15*time.Second))
	second.BidRequest.AdSpots = []domain.AdSpot{{ID: "1"}, {ID: "2"}}
	matcher.HandleAuction(ctx, second)

	matcher.HandleEvent(ctx, winEvent("5", "1", 3, clock.Now()))
	matcher.HandleEvent(ctx, winEvent("5", "2", 3, clock.Now()))

	matcher.HandleEvent(ctx, campaignEvent("impression", "5", ""))

	require.Len(t, outputs.campaigns, 1)
	assert.Equal(t, domain.ID("1"), outputs.campaigns[0].AdSpotID,
		"prefix completion picks the smallest spot id")
}

func TestReallyLateWinForUnknownAuction(t *testing.T) {
	matcher, banker, recorder, outputs, clock := newTestMatcher(t)
	ctx := context.Background()

	late := winEvent("9", "1", 2, clock.Now().Add(-time.Minute))
	late.Account = domain.AccountKey{"network", "campaign9"}
	matcher.HandleEvent(ctx, late)

	forced := banker.callsFor("forceWinBid")
	require.Len(t, forced, 1)
	assert.Equal(t, "network:campaign9", forced[0].account)

	assert.False(t, matcher.submitted.Contains(key("9", "1")))
	assert.Empty(t, outputs.winLoss)
	assert.Equal(t, uint64(1), recorder.HitCount("bidResult.WIN.notInSubmitted"))
}

func TestReallyLateWinWithoutAccount(t *testing.T) {
	matcher, banker, _, _, clock := newTestMatcher(t)
	ctx := context.Background()

	matcher.HandleEvent(ctx, winEvent("9", "1", 2, clock.Now().Add(-time.Minute)))

	assert.Empty(t, banker.callsFor("forceWinBid"))
}

func TestOrphanWinExpiresWithoutBid(t *testing.T) {
	matcher, banker, recorder, outputs, clock := newTestMatcher(t)
	ctx := context.Background()

	matcher.HandleEvent(ctx, winEvent("8", "1", 2, clock.Now()))
	require.True(t, matcher.submitted.Contains(key("8", "1")))

	clock.Advance(16 * time.Second)
	matcher.CheckExpiredAuctions(ctx)

	assert.Equal(t, uint64(1), recorder.HitCount("submittedAuctionExpiryWithoutBid"))
	assert.False(t, matcher.submitted.Contains(key("8", "1")))
	assert.Empty(t, outputs.winLoss)
	assert.Empty(t, banker.callsFor("cancelBid"))
}

func TestFinishedEntryExpires(t *testing.T) {
	matcher, _, recorder, _, clock := newTestMatcher(t)
	ctx := context.Background()

	matcher.HandleAuction(ctx, submittedEvent("1", "1", 5, clock.Now().Add(15*time.Second)))
	matcher.HandleEvent(ctx, winEvent("1", "1", 3, clock.Now()))
	require.True(t, matcher.finished.Contains(key("1", "1")))

	clock.Advance(time.Hour + time.Second)
	matcher.CheckExpiredAuctions(ctx)

	assert.Equal(t, uint64(1), recorder.HitCount("finishedAuctionExpiry"))
	assert.False(t, matcher.finished.Contains(key("1", "1")))
}

func TestNoBidPriceCancelsReservation(t *testing.T) {
	matcher, banker, _, outputs, clock := newTestMatcher(t)
	ctx := context.Background()

	event := submittedEvent("7", "1", 0, clock.Now().Add(15*time.Second))
	event.BidResponse.Priority = 0
	matcher.HandleAuction(ctx, event)
	matcher.HandleEvent(ctx, winEvent("7", "1", 0, clock.Now()))

	// The guard releases the reservation on the failed resolution.
	assert.Len(t, banker.callsFor("cancelBid"), 1)
	assert.Empty(t, banker.callsFor("winBid"))
	assert.Empty(t, outputs.winLoss)
	assert.False(t, matcher.finished.Contains(key("7", "1")))
}

func TestWinPriceExceedingBidPriceStillResolves(t *testing.T) {
	matcher, banker, recorder, outputs, clock := newTestMatcher(t)
	ctx := context.Background()

	matcher.HandleAuction(ctx, submittedEvent("6", "1", 2, clock.Now().Add(15*time.Second)))
	matcher.HandleEvent(ctx, winEvent("6", "1", 3, clock.Now()))

	assert.Equal(t, uint64(1), recorder.HitCount("error.doBidResult.winPriceExceedsBidPrice"))
	assert.Len(t, banker.callsFor("winBid"), 1, "violation is reported but does not abort resolution")
	require.Len(t, outputs.winLoss, 1)
	assert.Equal(t, domain.MatchedWin, outputs.winLoss[0].Kind)
}

func TestUnknownEventType(t *testing.T) {
	matcher, _, recorder, _, _ := newTestMatcher(t)

	matcher.HandleEvent(context.Background(), &domain.PostAuctionEvent{Type: "BOGUS"})

	assert.Equal(t, uint64(1), recorder.HitCount("error.doEvent.unknownEventType"))
}

func TestAccountingConservation(t *testing.T) {
	matcher, banker, _, _, clock := newTestMatcher(t)
	ctx := context.Background()

	// A mix of outcomes: explicit win, explicit loss, inferred loss.
	matcher.HandleAuction(ctx, submittedEvent("c1", "1", 5, clock.Now().Add(15*time.Second)))
	matcher.HandleEvent(ctx, winEvent("c1", "1", 3, clock.Now()))

	matcher.HandleAuction(ctx, submittedEvent("c2", "1", 5, clock.Now().Add(15*time.Second)))
	matcher.HandleEvent(ctx, lossEvent("c2", "1", clock.Now()))

	matcher.HandleAuction(ctx, submittedEvent("c3", "1", 5, clock.Now().Add(time.Second)))
	clock.Advance(16 * time.Second)
	matcher.CheckExpiredAuctions(ctx)

	attached := len(banker.callsFor("attachBid"))
	settled := len(banker.callsFor("winBid")) + len(banker.callsFor("cancelBid"))
	assert.Equal(t, 3, attached)
	assert.Equal(t, attached, settled,
		"every attached bid is settled by exactly one of winBid or cancelBid")
}

func TestWinCostModelPricing(t *testing.T) {
	matcher, banker, _, outputs, clock := newTestMatcher(t)
	ctx := context.Background()

	event := submittedEvent("w1", "1", 5, clock.Now().Add(15*time.Second))
	event.BidResponse.WCM = domain.WinCostModel{Model: domain.WCMFixed}
	matcher.HandleAuction(ctx, event)
	matcher.HandleEvent(ctx, winEvent("w1", "1", 3, clock.Now()))

	won := banker.callsFor("winBid")
	require.Len(t, won, 1)
	assert.True(t, domain.NewAmount(5, "USD").Equal(won[0].amount),
		"fixed cost model charges the bid price")

	require.Len(t, outputs.winLoss, 1)
	assert.True(t, domain.NewAmount(5, "USD").Equal(outputs.winLoss[0].Price))
	assert.True(t, domain.NewAmount(3, "USD").Equal(outputs.winLoss[0].WinPrice),
		"the exchange price is preserved for reporting")
}
