package actions

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gitlab.com/paramountdax-exchange/commission_engine/events"
	"gitlab.com/paramountdax-exchange/commission_engine/model"
	"gitlab.com/paramountdax-exchange/commission_engine/service/commission"
)

type entryView struct {
	ID          uint64                `json:"id"`
	RecipientID uint64                `json:"recipient_id"`
	Level       int                   `json:"level"`
	Type        model.LedgerEntryType `json:"type"`
	Amount      string                `json:"amount"`
	Requested   string                `json:"requested"`
	Period      model.Period          `json:"period"`
}

type eventResponse struct {
	EventID    string               `json:"event_id"`
	Entries    []entryView          `json:"entries"`
	Duplicates []entryView          `json:"duplicates"`
	Skipped    []commission.Skip    `json:"skipped"`
	Failures   []commission.Failure `json:"failures"`
}

type tierRequest struct {
	Tier model.MembershipTier `json:"membership_tier" binding:"required"`
}

func viewEntries(entries []*model.LedgerEntry) []entryView {
	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryView{
			ID:          e.ID,
			RecipientID: e.RecipientID,
			Level:       e.Level,
			Type:        e.Type,
			Amount:      model.DecimalValue(e.Amount).String(),
			Requested:   model.DecimalValue(e.Requested).String(),
			Period:      e.Period,
		})
	}
	return out
}

// ProcessEvent godoc
// swagger:route POST /events events process
// Process a triggering event synchronously. Used by internal callers that cannot publish on kafka.
func (actions *Actions) ProcessEvent(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "unable to read request body")
		return
	}
	ev, err := events.Decode(body)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	result, err := actions.service.ProcessEvent(c.Request.Context(), ev)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	status := http.StatusOK
	if result.Failed() {
		status = http.StatusMultiStatus
	}
	c.JSON(status, eventResponse{
		EventID:    result.EventID,
		Entries:    viewEntries(result.Entries),
		Duplicates: viewEntries(result.Duplicates),
		Skipped:    result.Skipped,
		Failures:   result.Failures,
	})
}

// GetCapStatus godoc
// swagger:route GET /members/{id}/cap-status members capStatus
// Earnings cap of the member for the active tier
func (actions *Actions) GetCapStatus(c *gin.Context) {
	memberID, ok := getMemberID(c)
	if !ok {
		return
	}
	view, err := actions.service.GetCapStatus(c.Request.Context(), memberID)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ChangeTier godoc
// swagger:route POST /members/{id}/tier members changeTier
// Upgrade or renew the membership tier, resetting the earnings cap
func (actions *Actions) ChangeTier(c *gin.Context) {
	memberID, ok := getMemberID(c)
	if !ok {
		return
	}
	var data tierRequest
	if err := c.ShouldBindJSON(&data); err != nil {
		abortWithError(c, http.StatusBadRequest, err.Error())
		return
	}
	view, err := actions.service.ChangeTier(c.Request.Context(), memberID, data.Tier)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}
