// Package plan exposes the slot grid and planning runs over HTTP.
package plan

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apppkg "github.com/mark3748/slotplanner/cmd/api/app"
	"github.com/mark3748/slotplanner/internal/distribute"
	"github.com/mark3748/slotplanner/internal/schedule"
	"github.com/mark3748/slotplanner/internal/slotgrid"
)

// SlotView is one grid slot on the wire.
type SlotView struct {
	Index int    `json:"index"`
	Label string `json:"label"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// GridResponse lists a week's slots.
type GridResponse struct {
	Base  string     `json:"base"`
	Slots []SlotView `json:"slots"`
}

// Grid returns the slots of the week starting at ?base.
func Grid(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		base, err := schedule.ParseBase(a.Cal, c.Query("base"), a.Now())
		if err != nil {
			apppkg.AbortError(c, http.StatusBadRequest, apppkg.CodeInvalidBase, "base must be YYYY-MM-DD", nil)
			return
		}
		g := slotgrid.Build(a.Cal, base)
		out := GridResponse{Base: g.Base().Format("2006-01-02"), Slots: make([]SlotView, 0, g.Len())}
		for i, s := range g.Slots() {
			out.Slots = append(out.Slots, SlotView{
				Index: i,
				Label: s.Label,
				Start: distribute.FormatTimestamp(s.Start),
				End:   distribute.FormatTimestamp(s.End()),
			})
		}
		c.JSON(http.StatusOK, out)
	}
}

// Response is the body of a successful planning run.
type Response struct {
	schedule.Result
	Committed bool   `json:"committed"`
	Backup    string `json:"backup,omitempty"`
}

// Plan distributes the stored tasks over the week at ?base. With
// ?commit=true the stored list is replaced by the result's task list, which
// keeps rejected and already planned tasks.
func Plan(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		base, err := schedule.ParseBase(a.Cal, c.Query("base"), a.Now())
		if err != nil {
			apppkg.AbortError(c, http.StatusBadRequest, apppkg.CodeInvalidBase, "base must be YYYY-MM-DD", nil)
			return
		}
		commit, _ := strconv.ParseBool(c.DefaultQuery("commit", "false"))
		tasks, err := a.Store.Load()
		if err != nil {
			apppkg.AbortStore(c, "could not read events", err)
			return
		}
		res, err := schedule.Run(ctx, a.Cal, base, tasks)
		var capErr *distribute.CapacityError
		switch {
		case errors.As(err, &capErr):
			apppkg.AbortCapacity(c, capErr)
			return
		case err != nil:
			apppkg.AbortError(c, http.StatusInternalServerError, apppkg.CodePlanning, err.Error(), nil)
			return
		}
		out := Response{Result: res}
		if commit {
			backup, err := a.Store.Save(ctx, res.Tasks)
			if err != nil {
				apppkg.AbortStore(c, "could not save events", err)
				return
			}
			out.Committed = true
			out.Backup = backup
		}
		c.JSON(http.StatusOK, out)
	}
}
