package domain

import "time"

// AdSpot is a single sale opportunity inside a bid request.
type AdSpot struct {
	ID            ID     `json:"id"`
	Width         int    `json:"width,omitempty"`
	Height        int    `json:"height,omitempty"`
	ReservePrice  Amount `json:"reserve_price,omitempty"`
	FormatCode    string `json:"format_code,omitempty"`
}

// BidRequest is the original request the bidder responded to. Only the
// spot list is inspected by the matcher; the rest rides along for
// downstream consumers.
type BidRequest struct {
	ID        ID        `json:"id"`
	Exchange  string    `json:"exchange,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	AdSpots   []AdSpot  `json:"ad_spots"`
}

// FindAdSpotIndex returns the index of the spot with the given id, or -1.
func (r *BidRequest) FindAdSpotIndex(adSpotID ID) int {
	for i, spot := range r.AdSpots {
		if spot.ID == adSpotID {
			return i
		}
	}
	return -1
}

// Bid is one priced bid inside a response, tied to a spot by index.
type Bid struct {
	SpotIndex int     `json:"spot_index"`
	Price     Amount  `json:"price"`
	Priority  float64 `json:"priority"`
}

// Bids is the bid set of a response.
type Bids []Bid

// BidForSpot returns the bid placed on the given spot index, or a zero
// bid when the response carried none for it.
func (b Bids) BidForSpot(spotIndex int) Bid {
	for _, bid := range b {
		if bid.SpotIndex == spotIndex {
			return bid
		}
	}
	return Bid{SpotIndex: spotIndex}
}

// WinCostModel maps a winning bid and the exchange's win price to the
// effective cost. Data is augmented with win metadata before evaluation.
type WinCostModel struct {
	Model string            `json:"model,omitempty"`
	Data  map[string]string `json:"data,omitempty"`
}

const (
	// WCMNone passes the exchange's win price through (second price).
	WCMNone = ""
	// WCMFixed charges the bid price regardless of the win price.
	WCMFixed = "fixed"
)

// WithData returns a copy of the model with key set in its data.
func (w WinCostModel) WithData(key, value string) WinCostModel {
	data := make(map[string]string, len(w.Data)+1)
	for k, v := range w.Data {
		data[k] = v
	}
	data[key] = value
	return WinCostModel{Model: w.Model, Data: data}
}

// Evaluate computes the effective cost of a won bid.
func (w WinCostModel) Evaluate(bid Bid, winPrice Amount) Amount {
	switch w.Model {
	case WCMFixed:
		return bid.Price
	default:
		return winPrice
	}
}

// BidResponse is the bid the agent committed on the auction.
type BidResponse struct {
	Agent         string       `json:"agent"`
	Account       AccountKey   `json:"account"`
	MaxPrice      Amount       `json:"max_price"`
	Priority      float64      `json:"priority"`
	WCM           WinCostModel `json:"wcm"`
	Bids          Bids         `json:"bids"`
	CreativeID    ID           `json:"creative_id,omitempty"`
	VisitChannels []string     `json:"visit_channels,omitempty"`
}
