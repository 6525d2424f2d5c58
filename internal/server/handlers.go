package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tournevent/courier/internal/lifecycle"
	"github.com/tournevent/courier/internal/ndr"
	"github.com/tournevent/courier/internal/shipment"
	"github.com/tournevent/courier/internal/store"
	"github.com/tournevent/courier/internal/webhook"
	"github.com/tournevent/courier/pkg/courier"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// ============================================================================
// Webhooks
// ============================================================================

func (s *Server) handleWebhook(c *gin.Context) {
	provider := c.Param("provider")
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
		return
	}

	res := s.ingestor.Ingest(c.Request.Context(), provider, c.Request.Header, body)
	if !res.Success {
		err := res.AsError()
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, webhook.ErrInvalidSignature):
			status = http.StatusUnauthorized
		case errors.Is(err, courier.ErrProviderNotFound):
			status = http.StatusNotFound
		case res.Retryable():
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": res.Message, "kind": res.Kind})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"events":   res.Events,
		"applied":  res.Applied,
		"ignored":  res.Ignored,
		"unmapped": res.Unmapped,
	})
}

// ============================================================================
// Rates and pickups
// ============================================================================

// handleRates quotes one account when account_id is given, otherwise every
// account of tenant_id.
func (s *Server) handleRates(c *gin.Context) {
	var in rateInput
	if !bind(c, &in) {
		return
	}
	ctx := c.Request.Context()

	if in.AccountID != "" {
		rates, err := s.svc.Quote(ctx, in.AccountID, in.toCourier())
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"rates": rateViews(rates)})
		return
	}
	if in.TenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account_id or tenant_id is required"})
		return
	}

	rates, errs := s.svc.QuoteAll(ctx, in.TenantID, in.toCourier())
	failures := make([]string, len(errs))
	for i, err := range errs {
		failures[i] = err.Error()
	}
	c.JSON(http.StatusOK, gin.H{"rates": rateViews(rates), "errors": failures})
}

func (s *Server) handleSchedulePickup(c *gin.Context) {
	var in pickupInput
	if !bind(c, &in) {
		return
	}
	res, err := s.svc.SchedulePickup(c.Request.Context(), in.AccountID, &courier.PickupRequest{
		AWBs:           in.AWBs,
		Date:           in.Date,
		SlotStart:      in.SlotStart,
		SlotEnd:        in.SlotEnd,
		PickupLocation: in.PickupLocation,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"confirmation_id": res.ConfirmationID,
		"count":           res.Count,
		"scheduled_for":   res.ScheduledFor,
	})
}

// ============================================================================
// Shipments
// ============================================================================

func (s *Server) handleCreateShipment(c *gin.Context) {
	var in shipmentInput
	if !bind(c, &in) {
		return
	}
	sh, created, err := s.svc.CreateShipment(c.Request.Context(), in.AccountID, in.toCourier())
	if err != nil {
		s.writeError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"shipment": newShipmentView(sh), "created": created})
}

func (s *Server) handleGetShipment(c *gin.Context) {
	sh, err := s.svc.GetShipment(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shipment": newShipmentView(sh)})
}

func (s *Server) handleTrack(c *gin.Context) {
	tr, err := s.svc.Track(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tracking": newTrackingView(tr)})
}

// handleApplyStatus records an operator-entered status event.
func (s *Server) handleApplyStatus(c *gin.Context) {
	var in statusInput
	if !bind(c, &in) {
		return
	}
	st, err := courier.ParseStatus(in.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ev := shipment.Event{
		Status:       st,
		ProviderCode: in.ProviderCode,
		Location:     in.Location,
		Remarks:      in.Remarks,
		NDRReason:    courier.NDRReason(in.Reason),
		Source:       shipment.SourceManual,
	}
	if in.OccurredAt != nil {
		ev.OccurredAt = *in.OccurredAt
	}

	ctx := c.Request.Context()
	out, err := s.svc.ApplyStatus(ctx, c.Param("id"), ev)
	if err != nil {
		s.writeError(c, err)
		return
	}
	sh, err := s.svc.GetShipment(ctx, c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"shipment":  newShipmentView(sh),
		"changed":   out.Changed,
		"duplicate": out.Duplicate,
	})
}

func (s *Server) handleSync(c *gin.Context) {
	res, err := s.svc.SyncTracking(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"applied":  res.Applied,
		"skipped":  res.Skipped,
		"unmapped": res.Unmapped,
		"status":   res.Status,
	})
}

func (s *Server) handleCancel(c *gin.Context) {
	var in caseInput
	if c.Request.ContentLength > 0 && !bind(c, &in) {
		return
	}
	sh, err := s.svc.Cancel(c.Request.Context(), c.Param("id"), actorOr(in.Actor, "api"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shipment": newShipmentView(sh)})
}

func (s *Server) handleLabel(c *gin.Context) {
	label, err := s.svc.Label(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/pdf", label)
}

// ============================================================================
// NDR cases
// ============================================================================

func (s *Server) handleListCases(c *gin.Context) {
	f := store.CaseFilter{
		TenantID:   c.Query("tenant_id"),
		ShipmentID: c.Query("shipment_id"),
		OpenOnly:   c.Query("open") == "true",
	}
	if v := c.Query("status"); v != "" {
		st, err := ndr.ParseStatus(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		f.Status = st
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		f.Limit = n
	}

	cases, err := s.svc.ListCases(c.Request.Context(), f)
	if err != nil {
		s.writeError(c, err)
		return
	}
	views := make([]caseView, len(cases))
	for i, nc := range cases {
		views[i] = newCaseView(nc)
	}
	c.JSON(http.StatusOK, gin.H{"cases": views})
}

func (s *Server) handleGetCase(c *gin.Context) {
	nc, err := s.svc.GetCase(c.Request.Context(), c.Param("id"))
	s.writeCase(c, nc, err)
}

func (s *Server) handleAssign(c *gin.Context) {
	var in assignInput
	if !bind(c, &in) {
		return
	}
	nc, err := s.svc.AssignAgent(c.Request.Context(), c.Param("id"), in.Agent, actorOr(in.Actor, in.Agent))
	s.writeCase(c, nc, err)
}

func (s *Server) handleLogContact(c *gin.Context) {
	var in ndr.Action
	if !bind(c, &in) {
		return
	}
	nc, err := s.svc.LogContact(c.Request.Context(), c.Param("id"), in)
	s.writeCase(c, nc, err)
}

func (s *Server) handleScheduleReattempt(c *gin.Context) {
	var in reattemptInput
	if !bind(c, &in) {
		return
	}
	nc, err := s.svc.ScheduleReattempt(c.Request.Context(), c.Param("id"), in.At, actorOr(in.Actor, "api"), in.Note)
	s.writeCase(c, nc, err)
}

func (s *Server) handleStartReattempt(c *gin.Context) {
	var in caseInput
	if c.Request.ContentLength > 0 && !bind(c, &in) {
		return
	}
	nc, err := s.svc.StartReattempt(c.Request.Context(), c.Param("id"), actorOr(in.Actor, "api"))
	s.writeCase(c, nc, err)
}

func (s *Server) handleFailedAttempt(c *gin.Context) {
	var in caseInput
	if c.Request.ContentLength > 0 && !bind(c, &in) {
		return
	}
	nc, err := s.svc.RecordFailedAttempt(c.Request.Context(), c.Param("id"), actorOr(in.Actor, "api"), in.Note)
	s.writeCase(c, nc, err)
}

func (s *Server) handleEscalate(c *gin.Context) {
	var in caseInput
	if c.Request.ContentLength > 0 && !bind(c, &in) {
		return
	}
	nc, err := s.svc.EscalateCase(c.Request.Context(), c.Param("id"), actorOr(in.Actor, "api"), in.Note)
	s.writeCase(c, nc, err)
}

func (s *Server) handleResolve(c *gin.Context) {
	s.caseStatus(c, s.svc.ResolveCase)
}

func (s *Server) handleSetCaseStatus(c *gin.Context) {
	s.caseStatus(c, s.svc.SetCaseStatus)
}

type caseStatusFunc func(ctx context.Context, caseID string, status ndr.Status, actor, note string) (*ndr.Case, error)

func (s *Server) caseStatus(c *gin.Context, fn caseStatusFunc) {
	var in caseStatusInput
	if !bind(c, &in) {
		return
	}
	st, err := ndr.ParseStatus(in.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	nc, err := fn(c.Request.Context(), c.Param("id"), st, actorOr(in.Actor, "api"), in.Note)
	s.writeCase(c, nc, err)
}

func (s *Server) writeCase(c *gin.Context, nc *ndr.Case, err error) {
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"case": newCaseView(nc)})
}

// ============================================================================
// Helpers
// ============================================================================

func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return false
	}
	return true
}

func actorOr(actor, fallback string) string {
	if actor != "" {
		return actor
	}
	return fallback
}

// writeError maps service errors to HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	body := gin.H{"error": err.Error()}

	var (
		pf   *lifecycle.ProviderFailure
		terr *shipment.TransitionError
	)
	switch {
	case errors.As(err, &pf):
		body["kind"] = pf.Result.Kind
		switch pf.Result.Kind {
		case courier.FailureValidation:
			status = http.StatusBadRequest
		case courier.FailureBusiness:
			status = http.StatusUnprocessableEntity
		default:
			status = http.StatusBadGateway
		}
	case errors.As(err, &terr):
		status = http.StatusConflict
		body["from"], body["to"] = terr.From, terr.To
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, lifecycle.ErrUnknownAccount),
		errors.Is(err, courier.ErrProviderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, ndr.ErrCaseResolved),
		errors.Is(err, ndr.ErrCannotReopen),
		errors.Is(err, ndr.ErrCannotDeescalate),
		errors.Is(err, ndr.ErrInvalidTransition),
		errors.Is(err, ndr.ErrReattemptWindowClosed),
		errors.Is(err, ndr.ErrNoReattemptScheduled):
		status = http.StatusConflict
	case errors.Is(err, courier.ErrInvalidRequest),
		errors.Is(err, ndr.ErrUnknownStatus),
		errors.Is(err, ndr.ErrInvalidChannel),
		errors.Is(err, ndr.ErrInvalidReattemptTime),
		errors.Is(err, ndr.ErrMissingAgent):
		status = http.StatusBadRequest
	}

	if status >= http.StatusInternalServerError {
		s.logger.Ctx(c.Request.Context()).Error("request failed",
			zap.String("route", c.FullPath()),
			zap.Error(err),
		)
	}
	c.JSON(status, body)
}
