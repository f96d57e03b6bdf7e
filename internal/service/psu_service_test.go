// internal/service/psu_service_test.go
package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"psu-service/internal/config"
	"psu-service/internal/model"
	"psu-service/internal/repository"
	"psu-service/pkg/driver"
)

// fakeSupply implements driver.PowerSupply with canned readings.
type fakeSupply struct {
	setVoltageErr error
	queryErr      error
	timeoutChan   int // channel whose queries time out, 0 for none

	mu       sync.Mutex
	setCalls []string
}

func (f *fakeSupply) record(call string) {
	f.mu.Lock()
	f.setCalls = append(f.setCalls, call)
	f.mu.Unlock()
}

func (f *fakeSupply) Identity() string { return "GW INSTEK,GPD-3303S,SN:1,V1" }
func (f *fakeSupply) PortName() string { return "/dev/ttyUSB0" }

func (f *fakeSupply) CheckConnected(ctx context.Context) bool { return true }

func (f *fakeSupply) SetVoltage(ctx context.Context, channel int, volts float64) error {
	f.record("SetVoltage")
	return f.setVoltageErr
}

func (f *fakeSupply) SetCurrent(ctx context.Context, channel int, amps float64) error {
	f.record("SetCurrent")
	return nil
}

func (f *fakeSupply) channelErr(channel int) error {
	if f.queryErr != nil {
		return f.queryErr
	}
	if f.timeoutChan == channel {
		return driver.ErrTimeout
	}
	return nil
}

func (f *fakeSupply) GetVoltage(ctx context.Context, channel int) (float64, error) {
	if err := f.channelErr(channel); err != nil {
		return driver.SentinelVoltage, err
	}
	return 12.34, nil
}

func (f *fakeSupply) GetCurrent(ctx context.Context, channel int) (float64, error) {
	if err := f.channelErr(channel); err != nil {
		return driver.SentinelCurrent, err
	}
	return 1.5, nil
}

func (f *fakeSupply) GetActualVoltage(ctx context.Context, channel int) (float64, error) {
	if err := f.channelErr(channel); err != nil {
		return driver.SentinelVoltage, err
	}
	return 12.3, nil
}

func (f *fakeSupply) GetActualCurrent(ctx context.Context, channel int) (float64, error) {
	if err := f.channelErr(channel); err != nil {
		return driver.SentinelCurrent, err
	}
	return 0.42, nil
}

func (f *fakeSupply) SetOutput(ctx context.Context, on bool) error               { f.record("SetOutput"); return nil }
func (f *fakeSupply) SetTracking(ctx context.Context, m driver.TrackingMode) error { f.record("SetTracking"); return nil }
func (f *fakeSupply) SetBeep(ctx context.Context, on bool) error                 { f.record("SetBeep"); return nil }
func (f *fakeSupply) Beep(ctx context.Context) error                             { f.record("Beep"); return nil }
func (f *fakeSupply) SaveSettings(ctx context.Context, slot int) error           { f.record("SaveSettings"); return nil }
func (f *fakeSupply) LoadSettings(ctx context.Context, slot int) error           { f.record("LoadSettings"); return nil }
func (f *fakeSupply) ReportErrors(ctx context.Context) (string, error)           { return "", nil }
func (f *fakeSupply) Close() error                                               { return nil }

// memReadingRepo collects readings in memory.
type memReadingRepo struct {
	mu       sync.Mutex
	readings []*model.Reading
}

func (r *memReadingRepo) Create(ctx context.Context, reading *model.Reading) error {
	return r.CreateBatch(ctx, []*model.Reading{reading})
}

func (r *memReadingRepo) CreateBatch(ctx context.Context, readings []*model.Reading) error {
	r.mu.Lock()
	r.readings = append(r.readings, readings...)
	r.mu.Unlock()
	return nil
}

func (r *memReadingRepo) List(ctx context.Context, filter *repository.ReadingFilter) ([]*model.Reading, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readings, len(r.readings), nil
}

func (r *memReadingRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

// memOperationRepo collects audit entries in memory.
type memOperationRepo struct {
	mu         sync.Mutex
	operations []*model.Operation
}

func (r *memOperationRepo) Create(ctx context.Context, op *model.Operation) error {
	r.mu.Lock()
	r.operations = append(r.operations, op)
	r.mu.Unlock()
	return nil
}

func (r *memOperationRepo) List(ctx context.Context, filter *repository.OperationFilter) ([]*model.Operation, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.operations, len(r.operations), nil
}

func (r *memOperationRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func newTestService(psu driver.PowerSupply) (*PSUService, *memReadingRepo, *memOperationRepo) {
	readings := &memReadingRepo{}
	operations := &memOperationRepo{}

	info := &model.InstrumentInfo{
		Identity: psu.Identity(),
		PortName: psu.PortName(),
		BaudRate: 9600,
		FoundAt:  time.Now(),
	}

	cfg := &config.Config{}
	cfg.Instrument.RetainReadings = 720 * time.Hour

	svc := NewPSUService(psu, info, readings, operations, cfg, zap.NewNop())
	return svc, readings, operations
}

func TestSamplePersistsBothChannels(t *testing.T) {
	svc, readings, _ := newTestService(&fakeSupply{})

	got, err := svc.Sample(context.Background())
	if err != nil {
		t.Fatalf("sample failed: %v", err)
	}

	// Two channels, programmed and measured values each.
	if len(got) != 4 {
		t.Fatalf("sampled %d readings, want 4", len(got))
	}
	if len(readings.readings) != 4 {
		t.Fatalf("persisted %d readings, want 4", len(readings.readings))
	}

	kinds := map[model.ReadingKind]int{}
	channels := map[int]int{}
	for _, r := range got {
		kinds[r.Kind]++
		channels[r.Channel]++
	}
	if kinds[model.ReadingKindSet] != 2 || kinds[model.ReadingKindActual] != 2 {
		t.Fatalf("kind distribution %v, want 2 SET and 2 ACTUAL", kinds)
	}
	if channels[1] != 2 || channels[2] != 2 {
		t.Fatalf("channel distribution %v, want 2 per channel", channels)
	}
}

func TestSampleSkipsTimedOutChannel(t *testing.T) {
	svc, _, _ := newTestService(&fakeSupply{timeoutChan: 2})

	got, err := svc.Sample(context.Background())
	if err != nil {
		t.Fatalf("sample failed: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("sampled %d readings, want 2 from the answering channel", len(got))
	}
	for _, r := range got {
		if r.Channel != 1 {
			t.Fatalf("reading from channel %d, want only channel 1", r.Channel)
		}
	}
}

func TestSampleFailsWhenNothingAnswers(t *testing.T) {
	svc, _, _ := newTestService(&fakeSupply{queryErr: driver.ErrTimeout})

	if _, err := svc.Sample(context.Background()); err == nil {
		t.Fatal("sample succeeded with a fully silent instrument")
	}
}

func TestSetVoltageRecordsOperation(t *testing.T) {
	svc, _, operations := newTestService(&fakeSupply{})

	if err := svc.SetVoltage(context.Background(), 1, 12.34); err != nil {
		t.Fatalf("set voltage failed: %v", err)
	}

	if len(operations.operations) != 1 {
		t.Fatalf("recorded %d operations, want 1", len(operations.operations))
	}

	op := operations.operations[0]
	if op.OperationType != model.OperationTypeSetVoltage {
		t.Fatalf("operation type %s, want SET_VOLTAGE", op.OperationType)
	}
	if op.Status != model.OperationStatusSuccess {
		t.Fatalf("status %s, want SUCCESS", op.Status)
	}
	if op.Channel == nil || *op.Channel != 1 {
		t.Fatal("channel not recorded")
	}
	if op.Parameters["volts"] != 12.34 {
		t.Fatalf("parameters %v, want volts=12.34", op.Parameters)
	}
}

func TestTimeoutRecordedAsTimeoutStatus(t *testing.T) {
	svc, _, operations := newTestService(&fakeSupply{setVoltageErr: driver.ErrTimeout})

	if err := svc.SetVoltage(context.Background(), 1, 12.34); err == nil {
		t.Fatal("expected the driver error to propagate")
	}

	if len(operations.operations) != 1 {
		t.Fatalf("recorded %d operations, want 1", len(operations.operations))
	}

	op := operations.operations[0]
	if op.Status != model.OperationStatusTimeout {
		t.Fatalf("status %s, want TIMEOUT", op.Status)
	}
	if op.ErrorMessage == nil {
		t.Fatal("error message not recorded")
	}
}

func TestFailureRecordedAsFailedStatus(t *testing.T) {
	svc, _, operations := newTestService(&fakeSupply{setVoltageErr: driver.ErrVerify})

	if err := svc.SetVoltage(context.Background(), 1, 12.34); err == nil {
		t.Fatal("expected the driver error to propagate")
	}

	if op := operations.operations[0]; op.Status != model.OperationStatusFailed {
		t.Fatalf("status %s, want FAILED", op.Status)
	}
}

func TestStatusSnapshotsBothChannels(t *testing.T) {
	svc, _, _ := newTestService(&fakeSupply{})

	status, err := svc.Status(context.Background())
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}

	if len(status.Channels) != 2 {
		t.Fatalf("snapshot covers %d channels, want 2", len(status.Channels))
	}
	ch1 := status.Channels[0]
	if ch1.SetVoltage != 12.34 || ch1.ActualCurrent != 0.42 {
		t.Fatalf("unexpected channel snapshot %+v", ch1)
	}
}
