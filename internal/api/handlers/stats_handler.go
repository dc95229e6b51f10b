package handlers

import (
	"net/http"

	"postauction-system/internal/domain"
	"postauction-system/internal/services"
	"postauction-system/pkg/logger"

	"github.com/labstack/echo/v4"
)

// StatsHandler serves the matcher counters and the recorder snapshot,
// plus archived outcomes for one auction.
type StatsHandler struct {
	matcher  *services.EventMatcher
	recorder *services.InMemoryRecorder
	archive  domain.MatchedEventArchive
	log      logger.Logger
}

func NewStatsHandler(
	matcher *services.EventMatcher,
	recorder *services.InMemoryRecorder,
	archive domain.MatchedEventArchive,
	log logger.Logger,
) *StatsHandler {
	return &StatsHandler{
		matcher:  matcher,
		recorder: recorder,
		archive:  archive,
		log:      log,
	}
}

func (h *StatsHandler) GetStats(c echo.Context) error {
	hits, outcomes := h.recorder.Snapshot()

	return c.JSON(http.StatusOK, map[string]interface{}{
		"matcher":  h.matcher.Stats(),
		"hits":     hits,
		"outcomes": outcomes,
	})
}

func (h *StatsHandler) GetAuctionOutcomes(c echo.Context) error {
	auctionID := domain.ID(c.Param("id"))

	outcomes, err := h.archive.GetAuctionOutcomes(c.Request().Context(), auctionID)
	if err != nil {
		h.log.Error("Failed to load auction outcomes", "auction_id", auctionID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to load outcomes"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"auction_id": auctionID,
		"outcomes":   outcomes,
	})
}
