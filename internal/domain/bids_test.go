package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindAdSpotIndex(t *testing.T) {
	request := &BidRequest{
		AdSpots: []AdSpot{{ID: "s1"}, {ID: "s2"}, {ID: "s3"}},
	}

	assert.Equal(t, 0, request.FindAdSpotIndex("s1"))
	assert.Equal(t, 2, request.FindAdSpotIndex("s3"))
	assert.Equal(t, -1, request.FindAdSpotIndex("missing"))
}

func TestBidForSpot(t *testing.T) {
	bids := Bids{
		{SpotIndex: 0, Price: NewAmount(1, "USD")},
		{SpotIndex: 2, Price: NewAmount(3, "USD")},
	}

	assert.True(t, bids.BidForSpot(2).Price.Equal(NewAmount(3, "USD")))

	// An index without a bid yields a zero bid.
	missing := bids.BidForSpot(1)
	assert.Equal(t, 1, missing.SpotIndex)
	assert.True(t, missing.Price.IsZero())
}

func TestWinCostModelEvaluate(t *testing.T) {
	bid := Bid{SpotIndex: 0, Price: NewAmount(5, "USD")}
	winPrice := NewAmount(3, "USD")

	passThrough := WinCostModel{}
	assert.True(t, passThrough.Evaluate(bid, winPrice).Equal(winPrice))

	fixed := WinCostModel{Model: WCMFixed}
	assert.True(t, fixed.Evaluate(bid, winPrice).Equal(bid.Price))
}

func TestWinCostModelWithData(t *testing.T) {
	wcm := WinCostModel{Model: WCMFixed, Data: map[string]string{"a": "1"}}

	augmented := wcm.WithData("win", `{"price":3}`)
	assert.Equal(t, `{"price":3}`, augmented.Data["win"])
	assert.Equal(t, "1", augmented.Data["a"])

	// The original model data is untouched.
	_, ok := wcm.Data["win"]
	assert.False(t, ok)
}

func TestUserIDsMerge(t *testing.T) {
	var uids UserIDs

	uids = uids.Merge(UserIDs{"prov": "u1"})
	uids = uids.Merge(UserIDs{"prov": "u2", "other": "u3"})
	uids = uids.Merge(nil)

	assert.Equal(t, UserIDs{"prov": "u2", "other": "u3"}, uids)
}

func TestEventKeyOrdering(t *testing.T) {
	a := EventKey{AuctionID: "a1", AdSpotID: "s1"}
	b := EventKey{AuctionID: "a1", AdSpotID: "s2"}
	c := EventKey{AuctionID: "a2", AdSpotID: "s0"}

	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.False(t, c.Less(a))
	assert.False(t, a.Less(a))
}

func TestFinishedInfoResolution(t *testing.T) {
	info := &FinishedInfo{
		AuctionID:      "a1",
		AdSpotID:       "s1",
		CampaignEvents: make(CampaignEventIndex),
	}
	assert.False(t, info.HasWin())

	now := time.Now()
	info.SetWin(now, StatusLoss, Amount{}, Amount{}, "null")
	require.True(t, info.HasWin())
	assert.Equal(t, StatusLoss, info.ReportedStatus)

	info.ForceWin(now.Add(time.Second), NewAmount(2, "USD"), `{"late":true}`)
	assert.Equal(t, StatusWin, info.ReportedStatus)
	assert.True(t, info.WinPrice.Equal(NewAmount(2, "USD")))
	assert.True(t, info.Price.Equal(NewAmount(2, "USD")))
}

func TestCampaignEventIndex(t *testing.T) {
	index := make(CampaignEventIndex)
	now := time.Now()

	assert.False(t, index.HasEvent("click"))
	index.SetEvent("click", now, `{"x":1}`)
	assert.True(t, index.HasEvent("click"))
	assert.Equal(t, `{"x":1}`, index["click"].Metadata)
}
