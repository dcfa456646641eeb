package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/felixgeelhaar/cadence/internal/billing/application/commands"
	"github.com/felixgeelhaar/cadence/internal/billing/application/queries"
	"github.com/felixgeelhaar/cadence/internal/billing/domain"
	catalog "github.com/felixgeelhaar/cadence/internal/catalog/domain"
	payments "github.com/felixgeelhaar/cadence/internal/payments/domain"
	"github.com/felixgeelhaar/cadence/pkg/observability"
	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

// BillingHandler handles subscription API requests.
type BillingHandler struct {
	create        *commands.CreateSubscriptionHandler
	apply         *commands.ApplyCommandHandler
	recordUsage   *commands.RecordUsageHandler
	changePlan    *commands.ChangePlanHandler
	attachGateway *commands.AttachGatewayHandler
	get           *queries.GetSubscriptionHandler
	usage         *queries.GetUsageHandler
	estimate      *queries.EstimatePlanChangeHandler
	logger        *slog.Logger
}

// BillingHandlerConfig holds dependencies for the billing handler.
type BillingHandlerConfig struct {
	CreateSubscription *commands.CreateSubscriptionHandler
	Apply              *commands.ApplyCommandHandler
	RecordUsage        *commands.RecordUsageHandler
	ChangePlan         *commands.ChangePlanHandler
	AttachGateway      *commands.AttachGatewayHandler
	GetSubscription    *queries.GetSubscriptionHandler
	GetUsage           *queries.GetUsageHandler
	EstimatePlanChange *queries.EstimatePlanChangeHandler
	Logger             *slog.Logger
}

// NewBillingHandler creates a new billing handler.
func NewBillingHandler(cfg BillingHandlerConfig) *BillingHandler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &BillingHandler{
		create:        cfg.CreateSubscription,
		apply:         cfg.Apply,
		recordUsage:   cfg.RecordUsage,
		changePlan:    cfg.ChangePlan,
		attachGateway: cfg.AttachGateway,
		get:           cfg.GetSubscription,
		usage:         cfg.GetUsage,
		estimate:      cfg.EstimatePlanChange,
		logger:        cfg.Logger,
	}
}

type createSubscriptionRequest struct {
	AccountID   uuid.UUID `json:"account_id"`
	PlanID      string    `json:"plan_id"`
	PlanVersion int       `json:"plan_version"`
	Cycle       string    `json:"cycle"`
	SkipTrial   bool      `json:"skip_trial"`
}

// CreateSubscription handles POST /api/v1/subscriptions
func (h *BillingHandler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cycle, ok := parseCycle(w, req.Cycle)
	if !ok {
		return
	}

	sub, err := h.create.Handle(r.Context(), commands.CreateSubscriptionCommand{
		AccountID:   req.AccountID,
		PlanID:      req.PlanID,
		PlanVersion: req.PlanVersion,
		Cycle:       cycle,
		SkipTrial:   req.SkipTrial,
		ActorID:     actorID(r),
	})
	if err != nil {
		h.fail(w, r, "create subscription", err)
		return
	}
	writeJSON(w, http.StatusCreated, queries.ToSubscriptionDTO(sub, nil))
}

// GetSubscription handles GET /api/v1/subscriptions/{id}
func (h *BillingHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	dto, err := h.get.Handle(r.Context(), queries.GetSubscriptionQuery{SubscriptionID: id})
	if err != nil {
		h.fail(w, r, "get subscription", err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

type applyCommandRequest struct {
	Trigger     string     `json:"trigger"`
	Reason      string     `json:"reason"`
	PeriodStart *time.Time `json:"period_start,omitempty"`
	PeriodEnd   *time.Time `json:"period_end,omitempty"`
}

type applyCommandResponse struct {
	Trigger      string                  `json:"trigger"`
	From         string                  `json:"from"`
	To           string                  `json:"to"`
	Revision     int64                   `json:"revision"`
	Subscription queries.SubscriptionDTO `json:"subscription"`
}

// ApplyCommand handles POST /api/v1/subscriptions/{id}/commands
func (h *BillingHandler) ApplyCommand(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req applyCommandRequest
	if !decodeBody(w, r, &req) {
		return
	}
	trigger, err := domain.ParseTrigger(req.Trigger)
	if err != nil {
		writeError(w, badRequest(err.Error()))
		return
	}
	if trigger == domain.TriggerChangePlan {
		writeError(w, badRequest("change_plan goes through the plan-change endpoint"))
		return
	}

	res, err := h.apply.Handle(r.Context(), commands.ApplyCommand{
		SubscriptionID: id,
		Trigger:        trigger,
		Params: domain.TriggerParams{
			PeriodStart: req.PeriodStart,
			PeriodEnd:   req.PeriodEnd,
			Reason:      req.Reason,
		},
		ActorID: actorID(r),
	})
	if err != nil {
		h.fail(w, r, "apply command", err)
		return
	}
	writeJSON(w, http.StatusOK, applyCommandResponse{
		Trigger:      string(res.Trigger),
		From:         string(res.From),
		To:           string(res.To),
		Revision:     res.Revision,
		Subscription: queries.ToSubscriptionDTO(res.Subscription, nil),
	})
}

type recordUsageRequest struct {
	Metric string `json:"metric"`
	Amount int64  `json:"amount"`
}

type recordUsageResponse struct {
	domain.UsageLine
	Revision int64 `json:"revision"`
}

// RecordUsage handles POST /api/v1/subscriptions/{id}/usage
func (h *BillingHandler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req recordUsageRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.recordUsage.Handle(r.Context(), commands.RecordUsageCommand{
		SubscriptionID: id,
		Metric:         req.Metric,
		Amount:         req.Amount,
		ActorID:        actorID(r),
	})
	if err != nil {
		h.fail(w, r, "record usage", err)
		return
	}
	writeJSON(w, http.StatusOK, recordUsageResponse{UsageLine: res.Line, Revision: res.Revision})
}

// GetUsage handles GET /api/v1/subscriptions/{id}/usage
func (h *BillingHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	dto, err := h.usage.Handle(r.Context(), queries.GetUsageQuery{
		SubscriptionID: id,
		Metric:         r.URL.Query().Get("metric"),
	})
	if err != nil {
		h.fail(w, r, "get usage", err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// EstimatePlanChange handles GET /api/v1/subscriptions/{id}/plan-change-estimate
func (h *BillingHandler) EstimatePlanChange(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	if q.Get("plan_id") == "" {
		writeError(w, badRequest("Query parameter 'plan_id' is required"))
		return
	}
	cycle, ok := parseCycle(w, q.Get("cycle"))
	if !ok {
		return
	}

	estimate, err := h.estimate.Handle(r.Context(), queries.EstimatePlanChangeQuery{
		SubscriptionID: id,
		PlanID:         q.Get("plan_id"),
		PlanVersion:    parseIntParam(r, "plan_version", 0),
		Cycle:          cycle,
	})
	if err != nil {
		h.fail(w, r, "estimate plan change", err)
		return
	}
	writeJSON(w, http.StatusOK, estimate)
}

type changePlanRequest struct {
	PlanID      string `json:"plan_id"`
	PlanVersion int    `json:"plan_version"`
	Cycle       string `json:"cycle"`
	CommandID   string `json:"command_id"`
}

type changePlanResponse struct {
	Subscription queries.SubscriptionDTO   `json:"subscription"`
	Estimate     domain.PlanChangeEstimate `json:"estimate"`
	Charge       *payments.ChargeResult    `json:"charge,omitempty"`
}

// ChangePlan handles POST /api/v1/subscriptions/{id}/plan-change
func (h *BillingHandler) ChangePlan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req changePlanRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cycle, ok := parseCycle(w, req.Cycle)
	if !ok {
		return
	}
	commandID := req.CommandID
	if commandID == "" {
		commandID = r.Header.Get("Idempotency-Key")
	}

	res, err := h.changePlan.Handle(r.Context(), commands.ChangePlanCommand{
		SubscriptionID: id,
		PlanID:         req.PlanID,
		PlanVersion:    req.PlanVersion,
		Cycle:          cycle,
		CommandID:      commandID,
		ActorID:        actorID(r),
	})
	if err != nil {
		h.fail(w, r, "change plan", err)
		return
	}
	writeJSON(w, http.StatusOK, changePlanResponse{
		Subscription: queries.ToSubscriptionDTO(res.Subscription, nil),
		Estimate:     res.Estimate,
		Charge:       res.Charge,
	})
}

type attachGatewayRequest struct {
	Provider        string `json:"provider"`
	CustomerRef     string `json:"customer_ref"`
	SubscriptionRef string `json:"subscription_ref"`
}

// AttachGateway handles PUT /api/v1/subscriptions/{id}/gateway
func (h *BillingHandler) AttachGateway(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req attachGatewayRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sub, err := h.attachGateway.Handle(r.Context(), commands.AttachGatewayCommand{
		SubscriptionID:  id,
		Provider:        req.Provider,
		CustomerRef:     req.CustomerRef,
		SubscriptionRef: req.SubscriptionRef,
		ActorID:         actorID(r),
	})
	if err != nil {
		h.fail(w, r, "attach gateway", err)
		return
	}
	writeJSON(w, http.StatusOK, queries.ToSubscriptionDTO(sub, nil))
}

func (h *BillingHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	apiErr := toAPIError(err)
	if apiErr.Status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "failed to "+op, "error", err)
	}
	writeError(w, apiErr)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, badRequest("Invalid id"))
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, badRequest("Invalid request body: "+err.Error()))
		return false
	}
	return true
}

func parseCycle(w http.ResponseWriter, s string) (catalog.BillingCycle, bool) {
	if s == "" {
		return "", true
	}
	cycle, err := catalog.ParseBillingCycle(s)
	if err != nil {
		writeError(w, toAPIError(err))
		return "", false
	}
	return cycle, true
}

// actorID returns the X-Actor-ID captured by the request middleware.
func actorID(r *http.Request) uuid.UUID {
	id, _ := uuid.Parse(observability.ActorIDFromContext(r.Context()))
	return id
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	if val := r.URL.Query().Get(name); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
