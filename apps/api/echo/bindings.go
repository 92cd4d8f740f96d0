package echoapi

import (
	"github.com/labstack/echo/v4"

	"github.com/trezcool/bosvoting/core"
	"github.com/trezcool/bosvoting/core/poll"
)

var orderingParam = "ordering"

// pollOrderingFields maps the accepted `ordering` fields to store fields.
var pollOrderingFields = map[string]string{
	"created_at": "created_at",
	"start_date": "start_date",
	"end_date":   "end_date",
	"title":      "title",
	"status":     "status",
}

type Ordering struct {
	Orderings []core.DBOrdering
}

// Bind reads the `ordering` query param, e.g. "-created_at,title"; unknown fields are ignored.
func (ord *Ordering) Bind(ctx echo.Context, allowed map[string]string) {
	if raw := ctx.QueryParam(orderingParam); raw != "" {
		ord.Orderings = core.ParseOrderings(raw, allowed)
	}
}

func bindPollFilter(ctx echo.Context) (poll.QueryFilter, error) {
	filter := poll.QueryFilter{
		Status:    poll.Status(ctx.QueryParam("status")),
		CreatedBy: ctx.QueryParam("created_by"),
	}
	filter.Clean()
	return filter, filter.Validate()
}
