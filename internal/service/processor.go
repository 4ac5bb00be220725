// Package service turns provisioning command messages into core
// operations and publishes the outcome, including per-router fan-out
// results, as events.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hericahyadi/isp-provisioning-worker/internal/config"
	"github.com/hericahyadi/isp-provisioning-worker/internal/db"
	"github.com/hericahyadi/isp-provisioning-worker/internal/fanout"
	"github.com/hericahyadi/isp-provisioning-worker/internal/fault"
	"github.com/hericahyadi/isp-provisioning-worker/internal/logging"
	"github.com/hericahyadi/isp-provisioning-worker/internal/provisioning"
	"github.com/hericahyadi/isp-provisioning-worker/internal/routeros"
	"github.com/hericahyadi/isp-provisioning-worker/internal/session"
	"github.com/hericahyadi/isp-provisioning-worker/internal/voucher"
)

// Command actions accepted on the command queue
const (
	ActionAccountCreate   = "account.create"
	ActionAccountRemove   = "account.remove"
	ActionVoucherGenerate = "voucher.generate"
	ActionVoucherActivate = "voucher.activate"
	ActionVoucherSweep    = "voucher.sweep"
	ActionRouterRegister  = "router.register"
	ActionSessionReport   = "sessions.report"
)

// Command is the envelope of an incoming provisioning command
type Command struct {
	RequestID string          `json:"request_id"`
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload"`
}

// TargetResult is a per-router fan-out outcome as published in events
type TargetResult struct {
	RouterID   string `json:"router_id"`
	RouterName string `json:"router_name"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
}

// Event is the outcome published after handling a command. A command
// whose authoritative steps succeeded reports status ok even when some
// routers failed; those failures ride along in RouterFailures.
type Event struct {
	RequestID      string         `json:"request_id"`
	Action         string         `json:"action"`
	Status         string         `json:"status"`
	Error          string         `json:"error,omitempty"`
	RouterFailures []TargetResult `json:"router_failures,omitempty"`
	Data           interface{}    `json:"data,omitempty"`
}

// Provisioner is the account workflow surface
type Provisioner interface {
	CreateAccount(ctx context.Context, spec provisioning.CreateAccountSpec) (*db.PPPoEAccount, []fanout.Result, error)
	RemoveAccount(ctx context.Context, username string) ([]fanout.Result, error)
}

// Vouchers is the voucher lifecycle surface
type Vouchers interface {
	Generate(ctx context.Context, params voucher.GenerateParams) ([]db.Voucher, error)
	Activate(ctx context.Context, code, username string) (*voucher.ActivationResult, error)
	ExpireSweep(ctx context.Context) (int64, error)
}

// Sessions is the session reporting surface
type Sessions interface {
	ActiveSessions(ctx context.Context) (*session.Report, error)
}

// RouterRegistry persists router registrations
type RouterRegistry interface {
	CreateRouter(ctx context.Context, router *db.Router) error
}

// Publisher publishes outcome events
type Publisher interface {
	PublishJSON(ctx context.Context, routingKey string, payload interface{}) error
}

// Processor dispatches provisioning commands
type Processor struct {
	provisioner Provisioner
	vouchers    Vouchers
	sessions    Sessions
	registry    RouterRegistry
	dial        routeros.Dialer
	publisher   Publisher
	cfg         *config.Config
	logger      *zap.Logger
}

// NewProcessor creates a command processor
func NewProcessor(
	provisioner Provisioner,
	vouchers Vouchers,
	sessions Sessions,
	registry RouterRegistry,
	dial routeros.Dialer,
	publisher Publisher,
	cfg *config.Config,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		provisioner: provisioner,
		vouchers:    vouchers,
		sessions:    sessions,
		registry:    registry,
		dial:        dial,
		publisher:   publisher,
		cfg:         cfg,
		logger:      logger,
	}
}

// ProcessMessage handles one command message. NotFound and Conflict
// are terminal: the error event is published and the message is acked.
// External and internal failures are returned to the consumer, which
// dead-letters the message for re-driving.
func (p *Processor) ProcessMessage(ctx context.Context, body []byte) error {
	var cmd Command
	if err := json.Unmarshal(body, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %w", err)
	}

	reqLogger := logging.WithRequestID(p.logger, cmd.RequestID)
	reqLogger.Info("processing command", zap.String("action", cmd.Action))

	data, results, err := p.dispatch(ctx, cmd, reqLogger)

	event := Event{
		RequestID:      cmd.RequestID,
		Action:         cmd.Action,
		Status:         "ok",
		RouterFailures: targetFailures(results),
	}
	if err != nil {
		event.Status = "error"
		event.Error = err.Error()
	} else {
		event.Data = data
	}

	if pubErr := p.publisher.PublishJSON(ctx, p.cfg.RabbitMQ.EventRoutingKey, event); pubErr != nil {
		reqLogger.Error("failed to publish outcome event", zap.Error(pubErr))
	}

	if err != nil && !fault.IsNotFound(err) && !fault.IsConflict(err) {
		return err
	}

	if err != nil {
		reqLogger.Warn("command rejected", zap.String("action", cmd.Action), zap.Error(err))
	} else {
		reqLogger.Info("command processed", zap.String("action", cmd.Action),
			zap.Int("router_failures", len(event.RouterFailures)))
	}

	return nil
}

func (p *Processor) dispatch(ctx context.Context, cmd Command, logger *zap.Logger) (interface{}, []fanout.Result, error) {
	switch cmd.Action {
	case ActionAccountCreate:
		return p.handleAccountCreate(ctx, cmd.Payload)
	case ActionAccountRemove:
		return p.handleAccountRemove(ctx, cmd.Payload)
	case ActionVoucherGenerate:
		return p.handleVoucherGenerate(ctx, cmd.Payload)
	case ActionVoucherActivate:
		return p.handleVoucherActivate(ctx, cmd.Payload)
	case ActionVoucherSweep:
		count, err := p.vouchers.ExpireSweep(ctx)
		if err != nil {
			return nil, nil, err
		}
		return map[string]int64{"expired": count}, nil, nil
	case ActionRouterRegister:
		return p.handleRouterRegister(ctx, cmd.Payload, logger)
	case ActionSessionReport:
		report, err := p.sessions.ActiveSessions(ctx)
		if err != nil {
			return nil, nil, err
		}
		return report, report.Results, nil
	default:
		return nil, nil, fmt.Errorf("unknown action %q", cmd.Action)
	}
}

type accountCreatePayload struct {
	Username     string     `json:"username"`
	Password     string     `json:"password"`
	ProfileID    uuid.UUID  `json:"profile_id"`
	CustomerID   *uuid.UUID `json:"customer_id,omitempty"`
	IPAddress    *string    `json:"ip_address,omitempty"`
	LocalAddress *string    `json:"local_address,omitempty"`
	Comment      *string    `json:"comment,omitempty"`
}

// accountView is the event representation of an account. The password
// is deliberately absent.
type accountView struct {
	ID         uuid.UUID  `json:"id"`
	Username   string     `json:"username"`
	ProfileID  uuid.UUID  `json:"profile_id"`
	IsVoucher  bool       `json:"is_voucher"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
	IsActive   bool       `json:"is_active"`
}

func (p *Processor) handleAccountCreate(ctx context.Context, payload json.RawMessage) (interface{}, []fanout.Result, error) {
	var req accountCreatePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, nil, fmt.Errorf("invalid account.create payload: %w", err)
	}

	account, results, err := p.provisioner.CreateAccount(ctx, provisioning.CreateAccountSpec{
		Username:     req.Username,
		Password:     req.Password,
		ProfileID:    req.ProfileID,
		CustomerID:   req.CustomerID,
		IPAddress:    req.IPAddress,
		LocalAddress: req.LocalAddress,
		Comment:      req.Comment,
	})
	if err != nil {
		return nil, results, err
	}

	return accountView{
		ID:         account.ID,
		Username:   account.Username,
		ProfileID:  account.ProfileID,
		IsVoucher:  account.IsVoucher,
		ValidUntil: account.ValidUntil,
		IsActive:   account.IsActive,
	}, results, nil
}

func (p *Processor) handleAccountRemove(ctx context.Context, payload json.RawMessage) (interface{}, []fanout.Result, error) {
	var req struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, nil, fmt.Errorf("invalid account.remove payload: %w", err)
	}

	results, err := p.provisioner.RemoveAccount(ctx, req.Username)
	if err != nil {
		return nil, results, err
	}

	return map[string]string{"username": req.Username}, results, nil
}

type voucherGeneratePayload struct {
	Count        int       `json:"count"`
	ProfileID    uuid.UUID `json:"profile_id"`
	ValidityDays int       `json:"validity_days"`
	Price        float64   `json:"price"`
	Prefix       string    `json:"prefix"`
}

type voucherView struct {
	Code         string    `json:"code"`
	Status       string    `json:"status"`
	ValidityDays int       `json:"validity_days"`
	Price        float64   `json:"price"`
	ExpiryDate   time.Time `json:"expiry_date"`
}

func (p *Processor) handleVoucherGenerate(ctx context.Context, payload json.RawMessage) (interface{}, []fanout.Result, error) {
	var req voucherGeneratePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, nil, fmt.Errorf("invalid voucher.generate payload: %w", err)
	}

	vouchers, err := p.vouchers.Generate(ctx, voucher.GenerateParams{
		Count:        req.Count,
		ProfileID:    req.ProfileID,
		ValidityDays: req.ValidityDays,
		Price:        req.Price,
		Prefix:       req.Prefix,
	})
	if err != nil {
		return nil, nil, err
	}

	views := make([]voucherView, 0, len(vouchers))
	for _, v := range vouchers {
		views = append(views, voucherView{
			Code:         v.Code,
			Status:       v.Status,
			ValidityDays: v.ValidityDays,
			Price:        v.Price,
			ExpiryDate:   v.ExpiryDate,
		})
	}

	return map[string]interface{}{"generated": len(views), "vouchers": views}, nil, nil
}

func (p *Processor) handleVoucherActivate(ctx context.Context, payload json.RawMessage) (interface{}, []fanout.Result, error) {
	var req struct {
		Code     string `json:"code"`
		Username string `json:"username"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, nil, fmt.Errorf("invalid voucher.activate payload: %w", err)
	}

	result, err := p.vouchers.Activate(ctx, req.Code, req.Username)
	if err != nil {
		return nil, nil, err
	}

	// The generated credentials go back to the caller through the
	// event; this is the one payload that carries a password.
	return map[string]interface{}{
		"username":      result.Username,
		"password":      result.Password,
		"profile":       result.Profile,
		"validity_days": result.ValidityDays,
		"valid_until":   result.ValidUntil,
	}, result.Routers, nil
}

type routerRegisterPayload struct {
	Name        string  `json:"name"`
	IPAddress   string  `json:"ip_address"`
	Username    string  `json:"username"`
	Password    string  `json:"password"`
	APIPort     int     `json:"api_port"`
	Description *string `json:"description,omitempty"`
}

// routerView is the event representation of a router. Credentials are
// deliberately absent.
type routerView struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	IPAddress    string    `json:"ip_address"`
	APIPort      int       `json:"api_port"`
	Model        *string   `json:"model,omitempty"`
	Version      *string   `json:"version,omitempty"`
	SerialNumber *string   `json:"serial_number,omitempty"`
	Identity     *string   `json:"identity,omitempty"`
	Status       string    `json:"status"`
}

func (p *Processor) handleRouterRegister(ctx context.Context, payload json.RawMessage, logger *zap.Logger) (interface{}, []fanout.Result, error) {
	var req routerRegisterPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, nil, fmt.Errorf("invalid router.register payload: %w", err)
	}
	if req.APIPort == 0 {
		req.APIPort = 8728
	}

	timeout := time.Duration(p.cfg.Router.ConnectTimeoutSeconds) * time.Second
	router := &db.Router{
		Name:        req.Name,
		IPAddress:   req.IPAddress,
		Username:    req.Username,
		Password:    req.Password,
		APIPort:     req.APIPort,
		Description: req.Description,
		Status:      db.RouterOffline,
	}

	// Registration requires a successful first contact; the probe also
	// captures the router's descriptive metadata.
	probe, err := routeros.Probe(p.dial, router.Addr(), req.Username, req.Password, timeout)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	router.Status = db.RouterOnline
	router.LastSync = &now
	router.Identity = orNil(probe.Identity)
	router.Model = orNil(probe.Model)
	router.Version = orNil(probe.Version)
	router.SerialNumber = orNil(probe.SerialNumber)

	if err := p.registry.CreateRouter(ctx, router); err != nil {
		return nil, nil, err
	}

	logger.Info("registered router",
		zap.String("router_id", router.ID.String()),
		zap.String("router_name", router.Name))

	return routerView{
		ID:           router.ID,
		Name:         router.Name,
		IPAddress:    router.IPAddress,
		APIPort:      router.APIPort,
		Model:        router.Model,
		Version:      router.Version,
		SerialNumber: router.SerialNumber,
		Identity:     router.Identity,
		Status:       router.Status,
	}, nil, nil
}

func orNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func targetFailures(results []fanout.Result) []TargetResult {
	var failures []TargetResult
	for _, r := range fanout.Failed(results) {
		failures = append(failures, TargetResult{
			RouterID:   r.RouterID.String(),
			RouterName: r.RouterName,
			OK:         false,
			Error:      r.Err.Error(),
		})
	}
	return failures
}
