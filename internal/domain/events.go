package domain

import "time"

// EventType discriminates post-auction events arriving from the exchange.
type EventType string

const (
	EventWin      EventType = "WIN"
	EventLoss     EventType = "LOSS"
	EventCampaign EventType = "CAMPAIGN_EVENT"
)

// BidStatus is the resolved outcome of a bid.
type BidStatus int

const (
	StatusWin BidStatus = iota
	StatusLoss
)

func (s BidStatus) String() string {
	switch s {
	case StatusWin:
		return "WIN"
	case StatusLoss:
		return "LOSS"
	default:
		return "unknown"
	}
}

// SubmittedAuctionEvent records that the bidder committed a bid on an
// ad spot and expects an outcome before LossTimeout.
type SubmittedAuctionEvent struct {
	AuctionID     ID                    `json:"auction_id"`
	AdSpotID      ID                    `json:"ad_spot_id"`
	BidRequest    *BidRequest           `json:"bid_request"`
	BidRequestRaw string                `json:"bid_request_raw,omitempty"`
	Augmentations string                `json:"augmentations,omitempty"`
	BidResponse   BidResponse           `json:"bid_response"`
	LossTimeout   time.Time             `json:"loss_timeout"`
}

// PostAuctionEvent is an exchange outcome (win or loss notice) or a
// delivery telemetry event (impression, click, visit). Campaign events
// may arrive with an empty AdSpotID.
type PostAuctionEvent struct {
	Type         EventType  `json:"type"`
	Label        string     `json:"label,omitempty"`
	AuctionID    ID         `json:"auction_id"`
	AdSpotID     ID         `json:"ad_spot_id,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
	BidTimestamp time.Time  `json:"bid_timestamp,omitempty"`
	WinPrice     Amount     `json:"win_price,omitempty"`
	Metadata     string     `json:"metadata,omitempty"`
	Account      AccountKey `json:"account,omitempty"`
	UIDs         UserIDs    `json:"uids,omitempty"`
}

func (e *PostAuctionEvent) Key() EventKey {
	return EventKey{AuctionID: e.AuctionID, AdSpotID: e.AdSpotID}
}
