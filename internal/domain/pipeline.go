package domain

import "time"

// SubmissionInfo tracks a bid whose outcome is not yet final. Until the
// auction record arrives, BidRequest is nil and only the replay buffers
// are populated.
type SubmissionInfo struct {
	BidRequest    *BidRequest
	BidRequestRaw string
	Augmentations string
	Bid           BidResponse

	// Win or loss notices that arrived before the auction record.
	EarlyWinEvents []*PostAuctionEvent
	// Campaign events that arrived while the outcome was still open.
	EarlyCampaignEvents []*PostAuctionEvent
}

// CampaignEventRecord is one recorded delivery event.
type CampaignEventRecord struct {
	Label     string    `json:"label"`
	Timestamp time.Time `json:"timestamp"`
	Metadata  string    `json:"metadata,omitempty"`
}

// CampaignEventIndex records delivery events by label, at most once per
// label.
type CampaignEventIndex map[string]CampaignEventRecord

func (c CampaignEventIndex) HasEvent(label string) bool {
	_, ok := c[label]
	return ok
}

func (c CampaignEventIndex) SetEvent(label string, timestamp time.Time, metadata string) {
	c[label] = CampaignEventRecord{Label: label, Timestamp: timestamp, Metadata: metadata}
}

// FinishedInfo is the finalized state of a bid: the resolution, both
// prices, and any delivery events reached so far.
type FinishedInfo struct {
	AuctionID     ID
	AdSpotID      ID
	SpotIndex     int
	BidRequest    *BidRequest
	BidRequestRaw string
	Bid           BidResponse

	ReportedStatus BidStatus
	resolved       bool
	WinTime        time.Time
	// WinPrice is the price the exchange reported; Price is the
	// effective cost after the win cost model.
	WinPrice Amount
	Price    Amount
	WinMeta  string

	CampaignEvents CampaignEventIndex
	UIDs           UserIDs
	VisitChannels  []string
}

// HasWin reports whether a win or loss has been recorded.
func (f *FinishedInfo) HasWin() bool {
	return f.resolved
}

// SetWin records the resolution of the bid.
func (f *FinishedInfo) SetWin(timestamp time.Time, status BidStatus, price, winPrice Amount, meta string) {
	f.ReportedStatus = status
	f.resolved = true
	f.WinTime = timestamp
	f.Price = price
	f.WinPrice = winPrice
	f.WinMeta = meta
}

// ForceWin overrides an inferred loss with a late win notice.
func (f *FinishedInfo) ForceWin(timestamp time.Time, winPrice Amount, meta string) {
	f.SetWin(timestamp, StatusWin, winPrice, winPrice, meta)
}

// AddUIDs merges user ids into the finished record's index.
func (f *FinishedInfo) AddUIDs(uids UserIDs) {
	f.UIDs = f.UIDs.Merge(uids)
}
