package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"postauction-system/internal/config"
	"postauction-system/internal/domain"
	"postauction-system/pkg/logger"
)

// EventMatcher correlates auction submissions, exchange win/loss notices
// and delivery telemetry into matched outcomes, settling money through
// the banker as outcomes resolve. One matcher is a single-writer shard:
// the entry points serialize, so the internal pipelines only ever see
// one mutation at a time.
type EventMatcher struct {
	submitted *PendingList[*domain.SubmissionInfo]
	finished  *PendingList[*domain.FinishedInfo]

	banker   domain.Banker
	recorder domain.EventRecorder
	handlers domain.MatchedHandlers
	log      logger.Logger

	lossTimeout     time.Duration
	winTimeout      time.Duration
	auctionTimeout  time.Duration
	forceWinUnknown bool

	now func() time.Time
	mu  sync.Mutex

	numWins           uint64
	numLosses         uint64
	numCampaignEvents uint64
}

func NewEventMatcher(
	cfg config.MatcherConfig,
	banker domain.Banker,
	recorder domain.EventRecorder,
	handlers domain.MatchedHandlers,
	log logger.Logger,
) *EventMatcher {
	return &EventMatcher{
		submitted:       NewPendingList[*domain.SubmissionInfo](),
		finished:        NewPendingList[*domain.FinishedInfo](),
		banker:          banker,
		recorder:        recorder,
		handlers:        handlers,
		log:             log,
		lossTimeout:     cfg.LossTimeout,
		winTimeout:      cfg.WinTimeout,
		auctionTimeout:  cfg.AuctionTimeout,
		forceWinUnknown: cfg.ForceWinUnknown,
		now:             time.Now,
	}
}

// orphanWinWindow is how long a win/loss notice with no known auction
// waits for a late submission record. Fixed, unlike the per-auction
// loss timeout carried on each submission event.
const orphanWinWindow = 15 * time.Second

// makeBidID builds the banker transaction id. Components must not
// contain the '-' separator or the id is not injective.
func makeBidID(auctionID, adSpotID domain.ID, agent string) string {
	return auctionID.String() + "-" + adSpotID.String() + "-" + agent
}

// HandleAuction ingests an auction submission record.
func (m *EventMatcher) HandleAuction(ctx context.Context, event *domain.SubmittedAuctionEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.doAuction(ctx, event)
}

// HandleEvent ingests a win/loss notice or campaign event.
func (m *EventMatcher) HandleEvent(ctx context.Context, event *domain.PostAuctionEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.doEvent(ctx, event)
}

func (m *EventMatcher) doEvent(ctx context.Context, event *domain.PostAuctionEvent) {
	switch event.Type {
	case domain.EventWin, domain.EventLoss:
		m.doWinLoss(ctx, event, false)
	case domain.EventCampaign:
		m.doCampaignEvent(ctx, event)
	default:
		m.doError("doEvent.unknownEventType",
			fmt.Sprintf("unknown event type (%s)", event.Type))
	}
}

func (m *EventMatcher) doAuction(ctx context.Context, event *domain.SubmittedAuctionEvent) {
	m.recorder.RecordHit("processedAuction")

	key := domain.EventKey{AuctionID: event.AuctionID, AdSpotID: event.AdSpotID}

	// Move the auction over to the submitted bid pipeline. A win may
	// have raced ahead of the submission; its buffered events replay
	// below.
	submission := &domain.SubmissionInfo{}
	var earlyWinEvents []*domain.PostAuctionEvent
	if popped, ok := m.submitted.Pop(key); ok {
		submission = popped
		earlyWinEvents = submission.EarlyWinEvents
		submission.EarlyWinEvents = nil
		m.recorder.RecordHit("auctionAlreadySubmitted")
	}

	submission.BidRequest = event.BidRequest
	submission.BidRequestRaw = event.BidRequestRaw
	submission.Augmentations = event.Augmentations
	submission.Bid = event.BidResponse

	lossTimeout := event.LossTimeout
	if lossTimeout.IsZero() {
		lossTimeout = m.now().Add(m.lossTimeout)
	}
	m.submitted.Insert(key, submission, lossTimeout)

	transID := makeBidID(event.AuctionID, event.AdSpotID, event.BidResponse.Agent)
	err := m.banker.AttachBid(ctx, event.BidResponse.Account, transID, event.BidResponse.MaxPrice)
	if err != nil {
		m.log.Error("Failed to attach bid", "transaction_id", transID, "error", err)
	}

	// Replay any early win/loss events.
	for _, early := range earlyWinEvents {
		m.recorder.RecordHit("replayedEarlyWinEvent")
		m.doWinLoss(ctx, early, true)
	}
}

func (m *EventMatcher) doWinLoss(ctx context.Context, event *domain.PostAuctionEvent, isReplay bool) {
	var status domain.BidStatus
	if event.Type == domain.EventWin {
		atomic.AddUint64(&m.numWins, 1)
		status = domain.StatusWin
		m.recorder.RecordHit("processedWin")
	} else {
		atomic.AddUint64(&m.numLosses, 1)
		status = domain.StatusLoss
		m.recorder.RecordHit("processedLoss")
	}

	typeStr := string(event.Type)

	if !isReplay {
		m.recorder.RecordHit("bidResult.%s.messagesReceived", typeStr)
	} else {
		m.recorder.RecordHit("bidResult.%s.messagesReplayed", typeStr)
	}

	winPrice := event.WinPrice
	timeGapMs := func() float64 {
		return 1000 * m.now().Sub(event.BidTimestamp).Seconds()
	}

	key := event.Key()

	/* The auction being finished means we either already received a WIN
	   (and this is a duplicate or a correction), or we timed out and
	   inferred a loss that this event may now override. */
	if info, ok := m.finished.Get(key); ok {
		if info.HasWin() && status == info.ReportedStatus {
			if winPrice.Equal(info.WinPrice) {
				m.recorder.RecordHit("bidResult.%s.duplicate", typeStr)
			} else {
				m.recorder.RecordHit("bidResult.%s.duplicateWithDifferentPrice", typeStr)
			}
			return
		}
		m.recorder.RecordHit("bidResult.%s.auctionAlreadyFinished", typeStr)
		m.recorder.RecordOutcome(timeGapMs(),
			"bidResult.%s.alreadyFinishedTimeSinceBidSubmittedMs", typeStr)

		if event.Type == domain.EventWin {
			// Late win with the auction still around; settle without a
			// reservation and override the inferred loss.
			if err := m.banker.ForceWinBid(ctx, info.Bid.Account, winPrice, nil); err != nil {
				m.log.Error("Failed to force-win late bid", "auction_id", key.AuctionID, "error", err)
			}

			info.ForceWin(event.Timestamp, winPrice, event.Metadata)

			if err := m.finished.Update(key, info); err != nil {
				m.log.Error("Failed to update finished entry", "auction_id", key.AuctionID, "error", err)
			}

			m.emitMatchedWinLoss(newMatchedWinLoss(
				domain.MatchedLateWin, domain.ConfidenceGuaranteed, info, event.Timestamp, event.UIDs))

			m.recorder.RecordHit("bidResult.%s.winAfterLossAssumed", typeStr)
			m.recorder.RecordOutcome(winPrice.Float64(),
				"bidResult.%s.winAfterLossAssumedAmount.%s", typeStr, winPrice.Currency)
		}

		return
	}

	/* Not finished, so it should be submitted. The exceptions: the
	   notice raced ahead of the submission record, or we are so late
	   the auction is completely unknown. */
	if !m.submitted.Contains(key) {
		gap := timeGapMs()
		if gap < orphanWinWindow.Seconds()*1000 {
			m.recorder.RecordHit("bidResult.%s.noBidSubmitted", typeStr)

			// Record the notice and play it back once the auction is
			// submitted.
			info := &domain.SubmissionInfo{
				EarlyWinEvents: []*domain.PostAuctionEvent{event},
			}
			m.submitted.Insert(key, info, m.now().Add(orphanWinWindow))
			return
		}

		m.log.Warn("Win/loss notice for unknown auction",
			"auction_id", event.AuctionID,
			"ad_spot_id", event.AdSpotID,
			"time_gap_ms", gap,
			"bid_timestamp", event.BidTimestamp,
			"account", event.Account.String())

		m.recorder.RecordHit("bidResult.%s.notInSubmitted", typeStr)
		m.recorder.RecordOutcome(gap,
			"bidResult.%s.notInSubmittedTimeSinceBidSubmittedMs", typeStr)

		if m.forceWinUnknown && !event.Account.Empty() {
			if err := m.banker.ForceWinBid(ctx, event.Account, winPrice, nil); err != nil {
				m.log.Error("Failed to force-win unknown bid", "auction_id", key.AuctionID, "error", err)
			}
		}

		return
	}

	submission, _ := m.submitted.Pop(key)
	if submission.BidRequest == nil {
		// Doubled up on a notice without having got the auction yet.
		submission.EarlyWinEvents = append(submission.EarlyWinEvents, event)
		m.submitted.Insert(key, submission, m.now().Add(orphanWinWindow))
		return
	}

	m.recorder.RecordHit("bidResult.%s.delivered", typeStr)

	confidence := domain.ConfidenceInferred
	if status == domain.StatusWin {
		confidence = domain.ConfidenceGuaranteed
	}

	err := m.doBidResult(ctx, key, submission, winPrice, event.Timestamp, status,
		confidence, event.Metadata, event.UIDs)
	if err != nil {
		m.log.Error("Failed to resolve bid result",
			"auction_id", key.AuctionID, "ad_spot_id", key.AdSpotID, "error", err)
		return
	}

	for _, early := range submission.EarlyCampaignEvents {
		m.doCampaignEvent(ctx, early)
	}
}

// doBidResult finalizes a submission as won or lost, settles the bid
// with the banker, and moves the record to the finished pipeline. Once
// the cancel guard below is armed, exactly one of WinBid or CancelBid
// fires for the transaction on every exit path.
func (m *EventMatcher) doBidResult(
	ctx context.Context,
	key domain.EventKey,
	submission *domain.SubmissionInfo,
	winPrice domain.Amount,
	timestamp time.Time,
	status domain.BidStatus,
	confidence domain.Confidence,
	winLossMeta string,
	uids domain.UserIDs,
) error {
	if !key.AdSpotID.Present() {
		return fmt.Errorf("inserting null entry in finished map")
	}

	agent := submission.Bid.Agent

	spotIndex := submission.BidRequest.FindAdSpotIndex(key.AdSpotID)
	if spotIndex == -1 {
		m.doError("doBidResult.adSpotIdNotFound",
			fmt.Sprintf("adspot ID %s not found in auction %s", key.AdSpotID, key.AuctionID))
	}

	response := submission.Bid

	account := response.Account
	if account.Empty() {
		return fmt.Errorf("invalid account key")
	}

	bidPrice := response.MaxPrice

	if winPrice.GreaterThan(bidPrice) {
		m.doError("doBidResult.winPriceExceedsBidPrice",
			fmt.Sprintf("win price %s exceeds bid price %s", winPrice, bidPrice))
	}

	// Account for the bid no matter how this resolution exits.
	transID := makeBidID(key.AuctionID, key.AdSpotID, agent)
	cancelArmed := true
	defer func() {
		if cancelArmed {
			if err := m.banker.CancelBid(ctx, account, transID); err != nil {
				m.log.Error("Failed to cancel bid", "transaction_id", transID, "error", err)
			}
		}
	}()

	// No bid
	if bidPrice.IsZero() && response.Priority == 0 {
		return fmt.Errorf("doBidResult.responseadNoBidPrice: bid response had no bid price")
	}

	price := winPrice

	if status == domain.StatusWin {
		wcm := response.WCM.WithData("win", winLossMeta)
		price = wcm.Evaluate(response.Bids.BidForSpot(spotIndex), winPrice)

		m.recorder.RecordOutcome(winPrice.Float64(), "accounts.%s.winPrice.%s",
			account.MetricName(), winPrice.Currency)
		m.recorder.RecordOutcome(price.Float64(), "accounts.%s.winCostPrice.%s",
			account.MetricName(), price.Currency)

		// A real win; settlement takes over the accounting from the
		// cancel guard.
		cancelArmed = false
		if err := m.banker.WinBid(ctx, account, transID, price, nil); err != nil {
			m.log.Error("Failed to settle won bid", "transaction_id", transID, "error", err)
		}
	}

	info := &domain.FinishedInfo{
		AuctionID:      key.AuctionID,
		AdSpotID:       key.AdSpotID,
		SpotIndex:      spotIndex,
		BidRequest:     submission.BidRequest,
		BidRequestRaw:  submission.BidRequestRaw,
		Bid:            response,
		CampaignEvents: make(domain.CampaignEventIndex),
		VisitChannels:  response.VisitChannels,
	}
	info.SetWin(timestamp, status, price, winPrice, winLossMeta)
	info.AddUIDs(uids)

	kind := domain.MatchedLoss
	if status == domain.StatusWin {
		kind = domain.MatchedWin
	}
	m.emitMatchedWinLoss(newMatchedWinLoss(kind, confidence, info, timestamp, uids))

	expiryInterval := m.winTimeout
	if status == domain.StatusLoss {
		expiryInterval = m.auctionTimeout
	}
	m.finished.Insert(key, info, m.now().Add(expiryInterval))

	return nil
}

func (m *EventMatcher) doCampaignEvent(ctx context.Context, event *domain.PostAuctionEvent) {
	label := event.Label

	m.recorder.RecordHit("delivery.EVENT.%s.messagesReceived", label)

	if key, submissionInfo, ok := findAuction(m.submitted, event.AuctionID, event.AdSpotID); ok {
		// The outcome is still open. Buffer the event on the submission
		// and replay it once the win or loss comes in.
		m.recorder.RecordHit("delivery.%s.stillInFlight", label)
		m.doError("doCampaignEvent.auctionNotWon"+label,
			"message for auction that's not won")

		m.emitUnmatched(domain.UnmatchedInFlight, event)

		submissionInfo.EarlyCampaignEvents = append(submissionInfo.EarlyCampaignEvents, event)
		if err := m.submitted.Update(key, submissionInfo); err != nil {
			m.log.Error("Failed to update submission", "auction_id", key.AuctionID, "error", err)
		}
		return
	}

	if key, finishedInfo, ok := findAuction(m.finished, event.AuctionID, event.AdSpotID); ok {
		if finishedInfo.CampaignEvents.HasEvent(label) {
			m.recorder.RecordHit("delivery.%s.duplicate", label)
			m.doError("doCampaignEvent.duplicate"+label, "message duplicated")
			m.emitUnmatched(domain.UnmatchedDuplicate, event)
			return
		}

		if !key.AdSpotID.Present() {
			m.doError("doCampaignEvent.nullFinishedKey",
				"updating null entry in finished map")
			return
		}

		finishedInfo.CampaignEvents.SetEvent(label, event.Timestamp, event.Metadata)
		atomic.AddUint64(&m.numCampaignEvents, 1)

		m.recorder.RecordHit("delivery.%s.account.%s.matched",
			label, finishedInfo.Bid.Account.MetricName())

		// Index the user ids so visits can be routed back.
		finishedInfo.AddUIDs(event.UIDs)

		if err := m.finished.Update(key, finishedInfo); err != nil {
			m.log.Error("Failed to update finished entry", "auction_id", key.AuctionID, "error", err)
		}

		if m.handlers.OnMatchedCampaignEvent != nil {
			m.handlers.OnMatchedCampaignEvent(&domain.MatchedCampaignEvent{
				Label:     label,
				Finished:  finishedInfo,
				AuctionID: finishedInfo.AuctionID,
				AdSpotID:  finishedInfo.AdSpotID,
				Account:   finishedInfo.Bid.Account,
				Timestamp: event.Timestamp,
				Metadata:  event.Metadata,
				UIDs:      event.UIDs,
			})
		}
		return
	}

	// A delivery event before any matching submission. Rare in a healthy
	// deployment, expected during replays of buffered transport links.
	m.recorder.RecordHit("delivery.%s.auctionNotFound", label)
	m.doError("doCampaignEvent.auctionNotFound"+label,
		"auction not found for delivery message")
	m.emitUnmatched(domain.UnmatchedAuctionNotFound, event)
}

// CheckExpiredAuctions sweeps both pipelines: submissions past their
// loss timeout become inferred losses, and stale finished entries are
// dropped. Called on the sweep cadence, on the matcher worker.
func (m *EventMatcher) CheckExpiredAuctions(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := m.now()

	m.log.Debug("Checking submitted auctions for inferred loss", "count", m.submitted.Size())

	m.submitted.Expire(start, func(key domain.EventKey, info *domain.SubmissionInfo) (time.Time, bool) {
		m.recorder.RecordHit("submittedAuctionExpiry")

		if info.BidRequest == nil {
			m.recorder.RecordHit("submittedAuctionExpiryWithoutBid")
			return time.Time{}, false
		}

		err := m.doBidResult(ctx, key, info, domain.Amount{}, start,
			domain.StatusLoss, domain.ConfidenceInferred, "null", nil)
		if err != nil {
			m.log.Error("Failed to infer loss for expired auction",
				"auction_id", key.AuctionID, "error", err)
			m.doError("checkExpiredAuctions.loss", err.Error())
		}

		return time.Time{}, false
	})

	m.log.Debug("Checking finished auctions for expiry", "count", m.finished.Size())

	m.finished.Expire(start, func(key domain.EventKey, info *domain.FinishedInfo) (time.Time, bool) {
		m.recorder.RecordHit("finishedAuctionExpiry")
		return time.Time{}, false
	})

	if err := m.banker.LogBidEvents(ctx, m.recorder); err != nil {
		m.log.Error("Failed to log bid events", "error", err)
	}
}

func (m *EventMatcher) doError(key, message string) {
	m.recorder.RecordHit("error.%s", key)
	m.log.Error("Matcher error", "key", key, "message", message)
}

func (m *EventMatcher) emitMatchedWinLoss(event *domain.MatchedWinLoss) {
	if m.handlers.OnMatchedWinLoss != nil {
		m.handlers.OnMatchedWinLoss(event)
	}
}

func (m *EventMatcher) emitUnmatched(reason string, event *domain.PostAuctionEvent) {
	if m.handlers.OnUnmatchedEvent != nil {
		m.handlers.OnUnmatchedEvent(&domain.UnmatchedEvent{Reason: reason, Event: event})
	}
}

func newMatchedWinLoss(
	kind domain.MatchedKind,
	confidence domain.Confidence,
	info *domain.FinishedInfo,
	timestamp time.Time,
	uids domain.UserIDs,
) *domain.MatchedWinLoss {
	return &domain.MatchedWinLoss{
		Kind:       kind,
		Confidence: confidence,
		AuctionID:  info.AuctionID,
		AdSpotID:   info.AdSpotID,
		SpotIndex:  info.SpotIndex,
		Account:    info.Bid.Account,
		WinPrice:   info.WinPrice,
		Price:      info.Price,
		BidRequest: info.BidRequest,
		Response:   info.Bid,
		Timestamp:  timestamp,
		UIDs:       uids,
		Metadata:   info.WinMeta,
	}
}

// MatcherStats is the counters snapshot served by the stats endpoint.
type MatcherStats struct {
	Wins           uint64 `json:"wins"`
	Losses         uint64 `json:"losses"`
	CampaignEvents uint64 `json:"campaign_events"`
	Submitted      int    `json:"submitted"`
	Finished       int    `json:"finished"`
}

func (m *EventMatcher) Stats() MatcherStats {
	return MatcherStats{
		Wins:           atomic.LoadUint64(&m.numWins),
		Losses:         atomic.LoadUint64(&m.numLosses),
		CampaignEvents: atomic.LoadUint64(&m.numCampaignEvents),
		Submitted:      m.submitted.Size(),
		Finished:       m.finished.Size(),
	}
}
