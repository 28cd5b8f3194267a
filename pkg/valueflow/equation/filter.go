package equation

import (
	"encoding/json"
	"time"

	"github.com/django-rea/nrp-sub003/pkg/valueflow/config"
	vferrors "github.com/django-rea/nrp-sub003/pkg/valueflow/errors"
)

// Filter is a bucket's filter payload. Which fields apply depends on the
// bucket's filter method:
//
//	order     {"orders": ["o1"]}
//	shipment  {"shipments": ["e1"]}
//	process   {"processes": ["p1"]}
//	dates     {"start_date": "2024-01-01", "end_date": "2024-03-31", "context_agent": "coop"}
type Filter struct {
	Orders         []string
	Shipments      []string
	Processes      []string
	Start          time.Time
	End            time.Time
	ContextAgentID string
}

// ParseFilter decodes the JSON payload for a bucket using method.
// An empty payload is only accepted by the dates method.
func ParseFilter(method FilterMethod, raw json.RawMessage) (Filter, error) {
	subject := "filter " + string(method)
	var f Filter
	if len(raw) == 0 {
		if method == FilterDates {
			return f, nil
		}
		return f, vferrors.Configf(subject, "missing filter payload")
	}
	cfg, err := config.FromJSON(raw)
	if err != nil {
		return f, &vferrors.ConfigurationError{Subject: subject, Message: "malformed filter payload", Err: err}
	}

	switch method {
	case FilterOrder:
		f.Orders = cfg.StringSlice("orders", nil)
		if len(f.Orders) == 0 {
			return f, vferrors.Configf(subject, "no orders")
		}
	case FilterShipment:
		f.Shipments = cfg.StringSlice("shipments", nil)
		if len(f.Shipments) == 0 {
			return f, vferrors.Configf(subject, "no shipments")
		}
	case FilterProcess:
		f.Processes = cfg.StringSlice("processes", nil)
		if len(f.Processes) == 0 {
			return f, vferrors.Configf(subject, "no processes")
		}
	case FilterDates:
		f.Start = cfg.Time("start_date", time.Time{})
		if cfg.Has("start_date") && f.Start.IsZero() {
			return f, vferrors.Configf(subject, "invalid start_date")
		}
		f.End = cfg.Time("end_date", time.Time{})
		if cfg.Has("end_date") && f.End.IsZero() {
			return f, vferrors.Configf(subject, "invalid end_date")
		}
		// A plain end date covers the whole day.
		if len(cfg.String("end_date", "")) == len(time.DateOnly) {
			f.End = f.End.Add(24*time.Hour - time.Nanosecond)
		}
		if !f.Start.IsZero() && !f.End.IsZero() && f.End.Before(f.Start) {
			return f, vferrors.Configf(subject, "end_date before start_date")
		}
		f.ContextAgentID = cfg.String("context_agent", "")
	default:
		return f, vferrors.Configf(subject, "unknown filter method")
	}
	return f, nil
}
