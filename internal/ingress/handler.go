// Package ingress is the HTTP entry point: it turns benchmark requests into
// PayloadReceived events and exposes the polling manager's state.
package ingress

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"netbrain/internal/logger"
	"netbrain/internal/messagebus"
	"netbrain/internal/messages"
	"netbrain/internal/polling"
	"netbrain/pkg/cel"
	"netbrain/pkg/errors"
	"netbrain/pkg/metrics"
)

const (
	outcomeAccepted = "accepted"
	outcomeIgnored  = "ignored"
	outcomeInvalid  = "invalid"
	outcomeRejected = "rejected"
)

var validate = validator.New()

type Request struct {
	DeviceName string `json:"devicename" validate:"required"`
	ObjectName string `json:"objectname"`
	IPAddress  string `json:"ipaddress" validate:"required,ip"`
	CID        string `json:"cid,omitempty" validate:"omitempty,alphanum,max=64"`
}

type Response struct {
	CID    string `json:"cid"`
	Status string `json:"status"`
}

type Submitter interface {
	Submit(ctx context.Context, msgs ...messagebus.Message) []messagebus.Message
}

type PollingView interface {
	Snapshot() polling.State
}

type Handler struct {
	bus     Submitter
	polling PollingView
	accept  *cel.Filter
	stage   messagebus.Stage
	nextCID func() string
	logger  logger.Logger
}

type Option func(*Handler)

// WithAcceptFilter drops requests for which filter is false.
func WithAcceptFilter(filter *cel.Filter) Option {
	return func(h *Handler) { h.accept = filter }
}

func WithPolling(view PollingView) Option {
	return func(h *Handler) { h.polling = view }
}

func NewHandler(bus Submitter, stage messagebus.Stage, nextCID func() string, log logger.Logger, opts ...Option) *Handler {
	h := &Handler{
		bus:     bus,
		stage:   stage,
		nextCID: nextCID,
		logger:  log,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	v1 := router.Group("/api/v1")
	{
		v1.POST("/request", h.Receive)
		if h.polling != nil {
			v1.GET("/polling", h.PollingState)
		}
	}
}

// Receive accepts a benchmark request and hands it to the bus.
func (h *Handler) Receive(c *gin.Context) {
	ctx := c.Request.Context()

	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		h.invalid(c, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.invalid(c, err)
		return
	}

	cid := req.CID
	if cid == "" {
		cid = h.nextCID()
	}

	header := messagebus.NewHeader(cid)
	header.Stage = h.stage
	event := messages.PayloadReceived{
		EventHeader: messagebus.EventHeader{Header: header},
		DeviceName:  req.DeviceName,
		ObjectName:  req.ObjectName,
		IPAddress:   req.IPAddress,
	}

	if !h.accepted(ctx, event) {
		metrics.IngressRequestsTotal.WithLabelValues(outcomeIgnored).Inc()
		h.logger.InfowCtx(ctx, "Request ignored by acceptance rule",
			"cid", cid,
			"device_name", req.DeviceName,
		)
		c.JSON(http.StatusOK, Response{CID: cid, Status: outcomeIgnored})
		return
	}

	if failed := h.bus.Submit(ctx, event); len(failed) > 0 {
		metrics.IngressRequestsTotal.WithLabelValues(outcomeRejected).Inc()
		err := errors.ErrQueueFull.WithDetail("cid", cid)
		c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
		return
	}

	metrics.IngressRequestsTotal.WithLabelValues(outcomeAccepted).Inc()
	h.logger.InfowCtx(ctx, "Request accepted",
		"cid", cid,
		"device_name", req.DeviceName,
		"ip_address", req.IPAddress,
	)
	c.JSON(http.StatusAccepted, Response{CID: cid, Status: outcomeAccepted})
}

// PollingState returns the polling manager's bookkeeping, including the
// dead pile operators inspect.
func (h *Handler) PollingState(c *gin.Context) {
	c.JSON(http.StatusOK, h.polling.Snapshot())
}

func (h *Handler) accepted(ctx context.Context, event messages.PayloadReceived) bool {
	if h.accept == nil {
		return true
	}

	env, err := messages.ToEnvelope(event)
	if err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to build envelope for acceptance rule", "error", err)
		return false
	}

	ok, err := h.accept.Match(ctx, *env)
	if err != nil {
		h.logger.WarnwCtx(ctx, "Acceptance rule failed to evaluate",
			"cid", event.CorrelationID(),
			"expression", h.accept.Expression(),
			"error", err,
		)
		return false
	}
	return ok
}

func (h *Handler) invalid(c *gin.Context, err error) {
	metrics.IngressRequestsTotal.WithLabelValues(outcomeInvalid).Inc()
	appErr := errors.ErrValidation.WithCause(err)
	h.logger.WarnwCtx(c.Request.Context(), "Invalid request", "error", err)
	c.JSON(appErr.Status, errors.ToErrorResponse(appErr))
}
