package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hericahyadi/isp-provisioning-worker/internal/config"
	"github.com/hericahyadi/isp-provisioning-worker/internal/db"
	"github.com/hericahyadi/isp-provisioning-worker/internal/fanout"
	"github.com/hericahyadi/isp-provisioning-worker/internal/fault"
	"github.com/hericahyadi/isp-provisioning-worker/internal/provisioning"
	"github.com/hericahyadi/isp-provisioning-worker/internal/routeros"
	"github.com/hericahyadi/isp-provisioning-worker/internal/service"
	"github.com/hericahyadi/isp-provisioning-worker/internal/session"
	"github.com/hericahyadi/isp-provisioning-worker/internal/voucher"
)

type fakeProvisioner struct {
	createErr error
	removeErr error
	results   []fanout.Result
}

func (p *fakeProvisioner) CreateAccount(ctx context.Context, spec provisioning.CreateAccountSpec) (*db.PPPoEAccount, []fanout.Result, error) {
	if p.createErr != nil {
		return nil, p.results, p.createErr
	}
	return &db.PPPoEAccount{
		ID:        uuid.New(),
		Username:  spec.Username,
		ProfileID: spec.ProfileID,
		IsActive:  true,
	}, p.results, nil
}

func (p *fakeProvisioner) RemoveAccount(ctx context.Context, username string) ([]fanout.Result, error) {
	return p.results, p.removeErr
}

type fakeVouchers struct {
	activateErr error
	sweepCount  int64
	sweepErr    error
}

func (v *fakeVouchers) Generate(ctx context.Context, params voucher.GenerateParams) ([]db.Voucher, error) {
	vouchers := make([]db.Voucher, params.Count)
	for i := range vouchers {
		vouchers[i] = db.Voucher{
			ID:        uuid.New(),
			Code:      params.Prefix + uuid.NewString()[:8],
			ProfileID: params.ProfileID,
			Status:    db.VoucherUnused,
		}
	}
	return vouchers, nil
}

func (v *fakeVouchers) Activate(ctx context.Context, code, username string) (*voucher.ActivationResult, error) {
	if v.activateErr != nil {
		return nil, v.activateErr
	}
	return &voucher.ActivationResult{
		Username:   username,
		Password:   "secret",
		ValidUntil: time.Now().Add(24 * time.Hour),
	}, nil
}

func (v *fakeVouchers) ExpireSweep(ctx context.Context) (int64, error) {
	if v.sweepErr != nil {
		return 0, v.sweepErr
	}
	return v.sweepCount, nil
}

type fakeSessions struct{}

func (s *fakeSessions) ActiveSessions(ctx context.Context) (*session.Report, error) {
	return &session.Report{}, nil
}

type fakeRegistry struct {
	routers []*db.Router
}

func (r *fakeRegistry) CreateRouter(ctx context.Context, router *db.Router) error {
	router.ID = uuid.New()
	r.routers = append(r.routers, router)
	return nil
}

type fakePublisher struct {
	events []service.Event
	keys   []string
}

func (p *fakePublisher) PublishJSON(ctx context.Context, routingKey string, payload interface{}) error {
	p.keys = append(p.keys, routingKey)
	p.events = append(p.events, payload.(service.Event))
	return nil
}

type fakeProbeConn struct{}

func (c *fakeProbeConn) Run(command string, args ...string) ([]map[string]string, error) {
	switch command {
	case "/system/identity/print":
		return []map[string]string{{"name": "core-gw"}}, nil
	case "/system/resource/print":
		return []map[string]string{{"version": "7.14", "board-name": "CCR2004"}}, nil
	default:
		return nil, nil
	}
}

func (c *fakeProbeConn) Close() error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		RabbitMQ: config.RabbitMQConfig{EventRoutingKey: "provisioning.event"},
		Router:   config.RouterConfig{ConnectTimeoutSeconds: 1},
	}
}

func newTestProcessor(prov *fakeProvisioner, vouchers *fakeVouchers, pub *fakePublisher, dial routeros.Dialer) *service.Processor {
	return service.NewProcessor(prov, vouchers, &fakeSessions{}, &fakeRegistry{}, dial, pub, testConfig(), zap.NewNop())
}

func command(t *testing.T, action string, payload interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Failed to marshal payload: %v", err)
	}
	body, err := json.Marshal(service.Command{
		RequestID: "req-1",
		Action:    action,
		Payload:   raw,
	})
	if err != nil {
		t.Fatalf("Failed to marshal command: %v", err)
	}
	return body
}

func TestProcessMessage_SuccessPublishesOKEvent(t *testing.T) {
	pub := &fakePublisher{}
	proc := newTestProcessor(&fakeProvisioner{}, &fakeVouchers{}, pub, nil)

	body := command(t, service.ActionAccountCreate, map[string]interface{}{
		"username":   "alice",
		"password":   "pw",
		"profile_id": uuid.New(),
	})

	if err := proc.ProcessMessage(context.Background(), body); err != nil {
		t.Fatalf("Expected ack, got %v", err)
	}

	if len(pub.events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(pub.events))
	}
	event := pub.events[0]
	if event.Status != "ok" || event.RequestID != "req-1" || event.Action != service.ActionAccountCreate {
		t.Errorf("Unexpected event: %+v", event)
	}
	if pub.keys[0] != "provisioning.event" {
		t.Errorf("Unexpected routing key %q", pub.keys[0])
	}

	if raw, err := json.Marshal(event); err == nil {
		if containsField(raw, "password") {
			t.Error("Account event must not carry the password")
		}
	}
}

func TestProcessMessage_ConflictIsTerminal(t *testing.T) {
	pub := &fakePublisher{}
	vouchers := &fakeVouchers{activateErr: fault.Conflictf("voucher V1 is already used")}
	proc := newTestProcessor(&fakeProvisioner{}, vouchers, pub, nil)

	body := command(t, service.ActionVoucherActivate, map[string]string{
		"code": "V1", "username": "guest",
	})

	// Terminal domain errors are acked; the failure rides in the event.
	if err := proc.ProcessMessage(context.Background(), body); err != nil {
		t.Fatalf("Expected Conflict to be acked, got %v", err)
	}

	if len(pub.events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(pub.events))
	}
	event := pub.events[0]
	if event.Status != "error" || event.Error == "" {
		t.Errorf("Expected error event, got %+v", event)
	}
}

func TestProcessMessage_ExternalFailureIsRedriven(t *testing.T) {
	pub := &fakePublisher{}
	prov := &fakeProvisioner{createErr: fault.External("radius store", errors.New("timeout"))}
	proc := newTestProcessor(prov, &fakeVouchers{}, pub, nil)

	body := command(t, service.ActionAccountCreate, map[string]interface{}{
		"username":   "alice",
		"password":   "pw",
		"profile_id": uuid.New(),
	})

	err := proc.ProcessMessage(context.Background(), body)
	if err == nil {
		t.Fatal("Expected external failure to be returned for dead-lettering")
	}
	if !fault.IsExternal(err) {
		t.Errorf("Expected external fault, got %v", err)
	}

	// The error event is still published before the nack.
	if len(pub.events) != 1 || pub.events[0].Status != "error" {
		t.Errorf("Expected error event, got %+v", pub.events)
	}
}

func TestProcessMessage_RouterFailuresRideAlongOnSuccess(t *testing.T) {
	pub := &fakePublisher{}
	prov := &fakeProvisioner{results: []fanout.Result{
		{RouterID: uuid.New(), RouterName: "edge-1"},
		{RouterID: uuid.New(), RouterName: "edge-2", Err: errors.New("connection refused")},
	}}
	proc := newTestProcessor(prov, &fakeVouchers{}, pub, nil)

	body := command(t, service.ActionAccountCreate, map[string]interface{}{
		"username":   "alice",
		"password":   "pw",
		"profile_id": uuid.New(),
	})

	if err := proc.ProcessMessage(context.Background(), body); err != nil {
		t.Fatalf("Expected ack, got %v", err)
	}

	event := pub.events[0]
	if event.Status != "ok" {
		t.Errorf("Expected ok status despite router failure, got %q", event.Status)
	}
	if len(event.RouterFailures) != 1 || event.RouterFailures[0].RouterName != "edge-2" {
		t.Errorf("Expected edge-2 in router failures, got %+v", event.RouterFailures)
	}
}

func TestProcessMessage_UnknownActionIsRedriven(t *testing.T) {
	pub := &fakePublisher{}
	proc := newTestProcessor(&fakeProvisioner{}, &fakeVouchers{}, pub, nil)

	body := command(t, "account.rename", map[string]string{})

	if err := proc.ProcessMessage(context.Background(), body); err == nil {
		t.Fatal("Expected unknown action to be returned as an error")
	}
}

func TestProcessMessage_MalformedBody(t *testing.T) {
	pub := &fakePublisher{}
	proc := newTestProcessor(&fakeProvisioner{}, &fakeVouchers{}, pub, nil)

	if err := proc.ProcessMessage(context.Background(), []byte("{not json")); err == nil {
		t.Fatal("Expected unmarshal failure to be returned")
	}
	if len(pub.events) != 0 {
		t.Error("Expected no event for an unparseable command")
	}
}

func TestProcessMessage_VoucherSweep(t *testing.T) {
	pub := &fakePublisher{}
	proc := newTestProcessor(&fakeProvisioner{}, &fakeVouchers{sweepCount: 7}, pub, nil)

	body := command(t, service.ActionVoucherSweep, map[string]string{})

	if err := proc.ProcessMessage(context.Background(), body); err != nil {
		t.Fatalf("Expected ack, got %v", err)
	}
	event := pub.events[0]
	data, ok := event.Data.(map[string]int64)
	if !ok || data["expired"] != 7 {
		t.Errorf("Expected expired count in event data, got %+v", event.Data)
	}
}

func TestProcessMessage_VoucherSweepFailure(t *testing.T) {
	pub := &fakePublisher{}
	vouchers := &fakeVouchers{sweepErr: errors.New("db down")}
	proc := newTestProcessor(&fakeProvisioner{}, vouchers, pub, nil)

	body := command(t, service.ActionVoucherSweep, map[string]string{})

	if err := proc.ProcessMessage(context.Background(), body); err == nil {
		t.Fatal("Expected sweep failure to be returned for dead-lettering")
	}
	event := pub.events[0]
	if event.Status != "error" || event.Data != nil {
		t.Errorf("Expected error event with no data, got %+v", event)
	}
}

func TestProcessMessage_RouterRegister(t *testing.T) {
	pub := &fakePublisher{}
	registry := &fakeRegistry{}
	dial := func(addr, username, password string, timeout time.Duration) (routeros.Conn, error) {
		return &fakeProbeConn{}, nil
	}
	proc := service.NewProcessor(&fakeProvisioner{}, &fakeVouchers{}, &fakeSessions{}, registry, dial, pub, testConfig(), zap.NewNop())

	body := command(t, service.ActionRouterRegister, map[string]interface{}{
		"name":       "core-gw",
		"ip_address": "192.0.2.10",
		"username":   "api",
		"password":   "pw",
	})

	if err := proc.ProcessMessage(context.Background(), body); err != nil {
		t.Fatalf("Expected ack, got %v", err)
	}

	if len(registry.routers) != 1 {
		t.Fatalf("Expected 1 registered router, got %d", len(registry.routers))
	}
	router := registry.routers[0]
	if router.APIPort != 8728 {
		t.Errorf("Expected default API port, got %d", router.APIPort)
	}
	if router.Status != db.RouterOnline || router.Identity == nil || *router.Identity != "core-gw" {
		t.Errorf("Expected probe metadata on router, got %+v", router)
	}

	if raw, err := json.Marshal(pub.events[0]); err == nil {
		if containsField(raw, "password") {
			t.Error("Router event must not carry credentials")
		}
	}
}

func TestProcessMessage_RouterRegisterProbeFailure(t *testing.T) {
	pub := &fakePublisher{}
	registry := &fakeRegistry{}
	dial := func(addr, username, password string, timeout time.Duration) (routeros.Conn, error) {
		return nil, errors.New("connection refused")
	}
	proc := service.NewProcessor(&fakeProvisioner{}, &fakeVouchers{}, &fakeSessions{}, registry, dial, pub, testConfig(), zap.NewNop())

	body := command(t, service.ActionRouterRegister, map[string]interface{}{
		"name":       "core-gw",
		"ip_address": "192.0.2.10",
		"username":   "api",
		"password":   "pw",
	})

	if err := proc.ProcessMessage(context.Background(), body); err == nil {
		t.Fatal("Expected unreachable router to fail registration")
	}
	if len(registry.routers) != 0 {
		t.Error("Expected no router persisted after probe failure")
	}
}

func containsField(raw []byte, field string) bool {
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return false
	}
	return mapHasKey(m, field)
}

func mapHasKey(m map[string]interface{}, key string) bool {
	for k, v := range m {
		if k == key {
			return true
		}
		switch child := v.(type) {
		case map[string]interface{}:
			if mapHasKey(child, key) {
				return true
			}
		case []interface{}:
			for _, item := range child {
				if cm, ok := item.(map[string]interface{}); ok && mapHasKey(cm, key) {
					return true
				}
			}
		}
	}
	return false
}
