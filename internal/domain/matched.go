package domain

import "time"

// MatchedKind classifies an emitted win/loss match.
type MatchedKind string

const (
	MatchedWin     MatchedKind = "win"
	MatchedLoss    MatchedKind = "loss"
	MatchedLateWin MatchedKind = "late_win"
)

// Confidence states whether the outcome came from the exchange or was
// inferred on timeout.
type Confidence string

const (
	ConfidenceGuaranteed Confidence = "guaranteed"
	ConfidenceInferred   Confidence = "inferred"
)

// MatchedWinLoss is the matcher's resolved outcome for one bid.
type MatchedWinLoss struct {
	Kind       MatchedKind `json:"kind"`
	Confidence Confidence  `json:"confidence"`
	AuctionID  ID          `json:"auction_id"`
	AdSpotID   ID          `json:"ad_spot_id"`
	SpotIndex  int         `json:"spot_index"`
	Account    AccountKey  `json:"account"`
	WinPrice   Amount      `json:"win_price"`
	Price      Amount      `json:"price"`
	BidRequest *BidRequest `json:"bid_request,omitempty"`
	Response   BidResponse `json:"bid_response"`
	Timestamp  time.Time   `json:"timestamp"`
	UIDs       UserIDs     `json:"uids,omitempty"`
	Metadata   string      `json:"metadata,omitempty"`
}

// MatchedCampaignEvent is a delivery event joined to its finished bid.
type MatchedCampaignEvent struct {
	Label     string        `json:"label"`
	Finished  *FinishedInfo `json:"-"`
	AuctionID ID            `json:"auction_id"`
	AdSpotID  ID            `json:"ad_spot_id"`
	Account   AccountKey    `json:"account"`
	Timestamp time.Time     `json:"timestamp"`
	Metadata  string        `json:"metadata,omitempty"`
	UIDs      UserIDs       `json:"uids,omitempty"`
}

// UnmatchedEvent is an event the matcher could not (or will not yet)
// join against a bid.
type UnmatchedEvent struct {
	Reason string            `json:"reason"`
	Event  *PostAuctionEvent `json:"event"`
}

const (
	UnmatchedInFlight        = "inFlight"
	UnmatchedDuplicate       = "duplicate"
	UnmatchedAuctionNotFound = "auctionNotFound"
)
