package mysql

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"postauction-system/internal/domain"
)

// MySQLMatchedEventRepository archives matched outcomes and campaign
// events for accounting audit and replay.
type MySQLMatchedEventRepository struct {
	db *sql.DB
}

func NewMySQLMatchedEventRepository(db *sql.DB) *MySQLMatchedEventRepository {
	return &MySQLMatchedEventRepository{db: db}
}

func (r *MySQLMatchedEventRepository) SaveMatchedWinLoss(ctx context.Context, event *domain.MatchedWinLoss) error {
	query := `
        INSERT INTO matched_bid_events
            (auction_id, ad_spot_id, kind, confidence, account, win_price, price, currency, event_time, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := r.db.ExecContext(ctx, query,
		event.AuctionID.String(), event.AdSpotID.String(),
		string(event.Kind), string(event.Confidence),
		event.Account.String(),
		event.WinPrice.Float64(), event.Price.Float64(), event.Price.Currency,
		event.Timestamp, time.Now())
	return err
}

func (r *MySQLMatchedEventRepository) SaveCampaignEvent(ctx context.Context, event *domain.MatchedCampaignEvent) error {
	query := `
        INSERT INTO campaign_events
            (auction_id, ad_spot_id, label, account, metadata, event_time, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
    `
	_, err := r.db.ExecContext(ctx, query,
		event.AuctionID.String(), event.AdSpotID.String(),
		event.Label, event.Account.String(), event.Metadata,
		event.Timestamp, time.Now())
	return err
}

func (r *MySQLMatchedEventRepository) GetAuctionOutcomes(ctx context.Context, auctionID domain.ID) ([]*domain.MatchedWinLoss, error) {
	query := `
        SELECT auction_id, ad_spot_id, kind, confidence, account, win_price, price, currency, event_time
        FROM matched_bid_events
        WHERE auction_id = ?
        ORDER BY event_time ASC
    `

	rows, err := r.db.QueryContext(ctx, query, auctionID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.MatchedWinLoss
	for rows.Next() {
		var event domain.MatchedWinLoss
		var auction, spot, kind, confidence, account, currency string
		var winPrice, price float64

		err := rows.Scan(&auction, &spot, &kind, &confidence, &account,
			&winPrice, &price, &currency, &event.Timestamp)
		if err != nil {
			return nil, err
		}

		event.AuctionID = domain.ID(auction)
		event.AdSpotID = domain.ID(spot)
		event.Kind = domain.MatchedKind(kind)
		event.Confidence = domain.Confidence(confidence)
		event.Account = domain.AccountKey(strings.Split(account, ":"))
		event.WinPrice = domain.NewAmount(winPrice, currency)
		event.Price = domain.NewAmount(price, currency)
		events = append(events, &event)
	}

	return events, rows.Err()
}
