package httpapi

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/windatlas/gfscache/internal/snapshot"
)

var validate = validator.New()

// SnapshotService is the served contract: the only entry points the route
// layer calls. Both return the filesystem path of a structured artifact.
type SnapshotService interface {
	Latest(ctx context.Context) (string, error)
	Nearest(ctx context.Context, requested time.Time, limitDays int) (string, error)
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service SnapshotService) {
	v1 := app.Group("/api/v1")

	v1.Get("/snapshot/latest", func(c *fiber.Ctx) error {
		path, err := service.Latest(c.UserContext())
		if err != nil {
			if errors.Is(err, snapshot.ErrUnavailable) {
				return fiber.NewError(fiber.StatusNotFound, "no snapshot data available")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to obtain latest snapshot")
		}
		return c.SendFile(path)
	})

	v1.Get("/snapshot/nearest", func(c *fiber.Ctx) error {
		var req nearestQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		path, err := service.Nearest(c.UserContext(), req.Time, req.LimitDays)
		if err != nil {
			if errors.Is(err, snapshot.ErrNotFound) || errors.Is(err, snapshot.ErrUnavailable) {
				return fiber.NewError(fiber.StatusNotFound, "no snapshot within requested bounds")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to resolve snapshot")
		}
		return c.SendFile(path)
	})
}

// nearestQuery holds query parameters for the nearest-snapshot endpoint.
type nearestQuery struct {
	Time      time.Time `validate:"required"`
	LimitDays int       `validate:"gte=0,lte=10"`
}

func (q *nearestQuery) bind(c *fiber.Ctx) error {
	timeStr := c.Query("time")
	if timeStr == "" {
		return errors.New("time query parameter is required")
	}

	ts, err := parseTime(timeStr)
	if err != nil {
		return err
	}
	q.Time = ts

	if limitStr := c.Query("limit_days"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return errors.New("limit_days must be an integer")
		}
		q.LimitDays = limit
	}
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
