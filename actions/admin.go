package actions

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"gitlab.com/paramountdax-exchange/commission_engine/lock"
	"gitlab.com/paramountdax-exchange/commission_engine/model"
	"gitlab.com/paramountdax-exchange/commission_engine/service/commission"
	"gitlab.com/paramountdax-exchange/commission_engine/service/payouts"
	"gitlab.com/paramountdax-exchange/commission_engine/service/qualification"
)

const adminTokenHeader = "X-Admin-Token"

// jobSummary is returned by manually triggered jobs
type jobSummary struct {
	Job       string       `json:"job"`
	Period    model.Period `json:"period,omitempty"`
	Processed int          `json:"processed"`
	Carried   int          `json:"carried,omitempty"`
	Failures  int          `json:"failures"`
}

// RequireAdmin rejects requests without the configured admin token. With no token configured
// the admin routes are closed.
func (actions *Actions) RequireAdmin() gin.HandlerFunc {
	expected := []byte(actions.cfg.AdminToken)
	return func(c *gin.Context) {
		token := []byte(c.GetHeader(adminTokenHeader))
		if len(expected) == 0 || subtle.ConstantTimeCompare(token, expected) != 1 {
			abortWithError(c, http.StatusForbidden, "access denied")
			return
		}
		c.Next()
	}
}

// GetRates godoc
// swagger:route GET /admin/rates admin rates
// Active rate table
func (actions *Actions) GetRates(c *gin.Context) {
	c.JSON(http.StatusOK, actions.service.RateTable())
}

// ReloadRates godoc
// swagger:route POST /admin/rates/reload admin reloadRates
// Re-read the rate table; an invalid table is refused and the active one stays in place
func (actions *Actions) ReloadRates(c *gin.Context) {
	table, err := actions.service.ReloadRates()
	if err != nil {
		abortWithError(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": table.Version})
}

// RunJob godoc
// swagger:route POST /admin/jobs/{job} admin runJob
// Run a periodic job now. Monthly jobs take ?period=YYYY-MM and default to the previous month.
func (actions *Actions) RunJob(c *gin.Context) {
	ctx := c.Request.Context()
	period := model.PeriodOf(time.Now()).Previous()
	if raw := c.Query("period"); raw != "" {
		parsed, err := model.ParsePeriod(raw)
		if err != nil {
			abortWithError(c, http.StatusBadRequest, err.Error())
			return
		}
		period = parsed
	}

	job := c.Param("job")
	summary := jobSummary{Job: job, Period: period}
	var err error
	switch job {
	case qualification.JobMonthlyQualification:
		var report *qualification.Report
		if report, err = actions.service.RunMonthlyQualification(ctx, period); err == nil {
			summary.Processed, summary.Failures = len(report.Records), len(report.Failures)
		}
	case qualification.JobExpireGracePeriods:
		var report *qualification.GraceReport
		summary.Period = ""
		if report, err = actions.service.ExpireGracePeriods(ctx, time.Now()); err == nil {
			summary.Processed, summary.Failures = len(report.Demoted)+len(report.Cancelled), len(report.Failures)
		}
	case payouts.JobPayoutSweep:
		var report *payouts.Report
		if report, err = actions.service.RunPayoutSweep(ctx, period); err == nil {
			summary.Processed, summary.Carried, summary.Failures = len(report.Payouts), len(report.Carried), len(report.Failures)
		}
	case payouts.JobMatureLedger:
		var matured int64
		summary.Period = ""
		if matured, err = actions.service.MatureLedger(ctx, time.Now()); err == nil {
			summary.Processed = int(matured)
		}
	case commission.JobLeadershipBonus, commission.JobRankBonus:
		run := actions.service.RunLeadershipBonus
		if job == commission.JobRankBonus {
			run = actions.service.RunRankBonus
		}
		var report *commission.BatchReport
		if report, err = run(ctx, period); err == nil {
			summary.Processed, summary.Failures = len(report.Entries), len(report.Failures)
		}
	default:
		abortWithError(c, http.StatusNotFound, "unknown job")
		return
	}

	if errors.Is(err, lock.ErrAlreadyRunning) {
		abortWithError(c, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
