package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Alnajaar/nilelink-sub003/internal/archive"
	"github.com/Alnajaar/nilelink-sub003/internal/event"
	"github.com/Alnajaar/nilelink-sub003/internal/scheduler"
)

// maxBatch bounds POST /v1/events/batch.
const maxBatch = 1000

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) busMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.bus.Metrics())
}

func (s *Server) listEvents(c *gin.Context) {
	filter, limit, err := historyQuery(c)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	events := s.bus.EventHistory(filter, limit)
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// historyQuery reads type, source, priority, since and limit.
func historyQuery(c *gin.Context) (event.FilterFunc, int, error) {
	var filters []event.FilterFunc

	if v := c.Query("type"); v != "" {
		var types []event.Type
		for _, t := range splitList(v) {
			types = append(types, event.Type(t))
		}
		filters = append(filters, event.ByType(types...))
	}
	if v := c.Query("source"); v != "" {
		filters = append(filters, event.BySource(v))
	}
	if v := c.Query("priority"); v != "" {
		var ps []event.Priority
		for _, p := range splitList(v) {
			parsed, err := event.ParsePriority(p)
			if err != nil {
				return nil, 0, err
			}
			ps = append(ps, parsed)
		}
		filters = append(filters, event.ByPriority(ps...))
	}
	if v := c.Query("since"); v != "" {
		since, err := parseSince(v)
		if err != nil {
			return nil, 0, err
		}
		filters = append(filters, event.NewerThan(since))
	}

	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		return nil, 0, err
	}
	if len(filters) == 0 {
		return nil, limit, nil
	}
	return event.Combine(filters...), limit, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseSince accepts epoch milliseconds or RFC 3339.
func parseSince(v string) (time.Time, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("since: want epoch milliseconds or RFC 3339, got %q", v)
	}
	return t, nil
}

func parseLimit(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("limit: want a non-negative integer, got %q", v)
	}
	return n, nil
}

// eventFromRequest validates a posted event and fills its defaults so the
// caller can be told the ID.
func eventFromRequest(e event.Event) (event.Event, error) {
	if e.Type == "" {
		return e, fmt.Errorf("%w: missing type", event.ErrInvalidEvent)
	}
	if p := e.Metadata.Priority; p != "" && !p.Valid() {
		return e, fmt.Errorf("%w: priority %q", event.ErrInvalidEvent, p)
	}
	if sc := e.Metadata.Scope; sc != "" && !sc.Valid() {
		return e, fmt.Errorf("%w: scope %q", event.ErrInvalidEvent, sc)
	}
	if e.Metadata.Source == "" {
		e.Metadata.Source = DefaultSource
	}
	return event.NewEvent(e.Type, e.Payload, e.Metadata), nil
}

func publishStatus(err error) int {
	switch {
	case errors.Is(err, event.ErrInvalidEvent):
		return http.StatusBadRequest
	case errors.Is(err, event.ErrQueueFull), errors.Is(err, event.ErrBusClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) publishEvent(c *gin.Context) {
	var req event.Event
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, fmt.Errorf("invalid event: %w", err))
		return
	}
	e, err := eventFromRequest(req)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	if err := s.bus.Publish(c.Request.Context(), e); err != nil {
		abort(c, publishStatus(err), err)
		return
	}
	s.respondPublished(c, []event.Event{e})
}

func (s *Server) publishBatch(c *gin.Context) {
	var reqs []event.Event
	if err := c.ShouldBindJSON(&reqs); err != nil {
		abort(c, http.StatusBadRequest, fmt.Errorf("invalid batch: %w", err))
		return
	}
	if len(reqs) == 0 || len(reqs) > maxBatch {
		abort(c, http.StatusBadRequest, fmt.Errorf("batch must hold 1 to %d events", maxBatch))
		return
	}

	events := make([]event.Event, len(reqs))
	for i, r := range reqs {
		e, err := eventFromRequest(r)
		if err != nil {
			abort(c, http.StatusBadRequest, fmt.Errorf("event %d: %w", i, err))
			return
		}
		events[i] = e
	}
	if err := s.bus.PublishBatch(c.Request.Context(), events); err != nil {
		abort(c, publishStatus(err), err)
		return
	}
	s.respondPublished(c, events)
}

// respondPublished replies 202, or 200 once processed when wait=true.
func (s *Server) respondPublished(c *gin.Context, events []event.Event) {
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.Metadata.ID
	}

	status := http.StatusAccepted
	if wait, _ := strconv.ParseBool(c.Query("wait")); wait {
		if err := s.bus.Flush(c.Request.Context()); err != nil {
			abort(c, http.StatusGatewayTimeout, fmt.Errorf("waiting for processing: %w", err))
			return
		}
		status = http.StatusOK
	}

	if len(events) == 1 {
		c.JSON(status, gin.H{"id": ids[0], "timestamp": events[0].Metadata.Timestamp})
		return
	}
	c.JSON(status, gin.H{"ids": ids, "count": len(ids)})
}

func (s *Server) clearHistory(c *gin.Context) {
	s.bus.ClearHistory()
	c.Status(http.StatusNoContent)
}

func (s *Server) listRules(c *gin.Context) {
	rules := s.bus.Rules()
	c.JSON(http.StatusOK, gin.H{"rules": rules, "count": len(rules)})
}

func (s *Server) removeRule(c *gin.Context) {
	id := c.Param("id")
	if id == s.ruleID {
		abort(c, http.StatusConflict, fmt.Errorf("rule %s serves the event stream", id))
		return
	}
	if !s.bus.RemoveRule(id) {
		abort(c, http.StatusNotFound, fmt.Errorf("rule %s not found", id))
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listArchive(c *gin.Context) {
	q := archive.Query{
		Type:          event.Type(c.Query("type")),
		Source:        c.Query("source"),
		BranchID:      c.Query("branch"),
		CorrelationID: c.Query("correlation"),
	}
	if v := c.Query("since"); v != "" {
		since, err := parseSince(v)
		if err != nil {
			abort(c, http.StatusBadRequest, err)
			return
		}
		q.Since = since
	}
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	q.Limit = limit

	events, err := s.archive.Recent(c.Request.Context(), q)
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func (s *Server) listSchedules(c *gin.Context) {
	jobs := s.scheduler.Jobs()
	c.JSON(http.StatusOK, gin.H{"schedules": jobs, "count": len(jobs)})
}

func (s *Server) fireSchedule(c *gin.Context) {
	err := s.scheduler.Fire(c.Request.Context(), c.Param("name"))
	switch {
	case errors.Is(err, scheduler.ErrUnknownJob):
		abort(c, http.StatusNotFound, err)
	case err != nil:
		abort(c, publishStatus(err), err)
	default:
		c.Status(http.StatusAccepted)
	}
}
