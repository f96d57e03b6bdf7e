// internal/service/psu_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"psu-service/internal/config"
	"psu-service/internal/model"
	"psu-service/internal/repository"
	"psu-service/internal/utils"
	"psu-service/pkg/driver"
)

// ChannelStatus is the programmed and measured state of one channel.
type ChannelStatus struct {
	Channel       int     `json:"channel"`
	SetVoltage    float64 `json:"set_voltage"`
	SetCurrent    float64 `json:"set_current"`
	ActualVoltage float64 `json:"actual_voltage"`
	ActualCurrent float64 `json:"actual_current"`
}

// InstrumentStatus is a full snapshot of the instrument.
type InstrumentStatus struct {
	Info     *model.InstrumentInfo `json:"info"`
	Channels []ChannelStatus       `json:"channels"`
	TakenAt  time.Time             `json:"taken_at"`
}

// PSUService handles power supply business logic on top of the driver.
type PSUService struct {
	psu           driver.PowerSupply
	info          *model.InstrumentInfo
	readingRepo   repository.ReadingRepository
	operationRepo repository.OperationRepository
	config        *config.Config
	logger        *utils.ServiceLogger
	zlog          *zap.Logger
}

// NewPSUService creates a new power supply service instance
func NewPSUService(
	psu driver.PowerSupply,
	info *model.InstrumentInfo,
	readingRepo repository.ReadingRepository,
	operationRepo repository.OperationRepository,
	cfg *config.Config,
	logger *zap.Logger,
) *PSUService {
	return &PSUService{
		psu:           psu,
		info:          info,
		readingRepo:   readingRepo,
		operationRepo: operationRepo,
		config:        cfg,
		logger:        utils.NewServiceLogger(logger, "psu-service"),
		zlog:          logger,
	}
}

// Info returns the discovered instrument description.
func (s *PSUService) Info() *model.InstrumentInfo {
	info := *s.info
	info.Connected = s.psu.CheckConnected(context.Background())
	return &info
}

// Status reads a full snapshot of both channels.
func (s *PSUService) Status(ctx context.Context) (*InstrumentStatus, error) {
	status := &InstrumentStatus{
		Info:    s.info,
		TakenAt: time.Now(),
	}

	for ch := driver.MinChannel; ch <= driver.MaxChannel; ch++ {
		cs := ChannelStatus{Channel: ch}

		var err error
		if cs.SetVoltage, err = s.psu.GetVoltage(ctx, ch); err != nil {
			return nil, fmt.Errorf("reading channel %d set voltage: %w", ch, err)
		}
		if cs.SetCurrent, err = s.psu.GetCurrent(ctx, ch); err != nil {
			return nil, fmt.Errorf("reading channel %d set current: %w", ch, err)
		}
		if cs.ActualVoltage, err = s.psu.GetActualVoltage(ctx, ch); err != nil {
			return nil, fmt.Errorf("reading channel %d actual voltage: %w", ch, err)
		}
		if cs.ActualCurrent, err = s.psu.GetActualCurrent(ctx, ch); err != nil {
			return nil, fmt.Errorf("reading channel %d actual current: %w", ch, err)
		}

		status.Channels = append(status.Channels, cs)
	}

	return status, nil
}

// GetVoltage reads the programmed voltage of one channel.
func (s *PSUService) GetVoltage(ctx context.Context, channel int) (float64, error) {
	return s.psu.GetVoltage(ctx, channel)
}

// GetCurrent reads the programmed current limit of one channel.
func (s *PSUService) GetCurrent(ctx context.Context, channel int) (float64, error) {
	return s.psu.GetCurrent(ctx, channel)
}

// GetActualVoltage reads the measured output voltage of one channel.
func (s *PSUService) GetActualVoltage(ctx context.Context, channel int) (float64, error) {
	return s.psu.GetActualVoltage(ctx, channel)
}

// GetActualCurrent reads the measured output current of one channel.
func (s *PSUService) GetActualCurrent(ctx context.Context, channel int) (float64, error) {
	return s.psu.GetActualCurrent(ctx, channel)
}

// SetVoltage programs the channel voltage and records the operation.
func (s *PSUService) SetVoltage(ctx context.Context, channel int, volts float64) error {
	start := time.Now()
	err := s.psu.SetVoltage(ctx, channel, volts)
	s.recordOperation(ctx, model.OperationTypeSetVoltage, &channel, model.JSONObject{
		"volts": volts,
	}, start, err)
	return err
}

// SetCurrent programs the channel current limit and records the operation.
func (s *PSUService) SetCurrent(ctx context.Context, channel int, amps float64) error {
	start := time.Now()
	err := s.psu.SetCurrent(ctx, channel, amps)
	s.recordOperation(ctx, model.OperationTypeSetCurrent, &channel, model.JSONObject{
		"amps": amps,
	}, start, err)
	return err
}

// SetOutput switches both outputs on or off.
func (s *PSUService) SetOutput(ctx context.Context, on bool) error {
	start := time.Now()
	err := s.psu.SetOutput(ctx, on)
	s.recordOperation(ctx, model.OperationTypeOutput, nil, model.JSONObject{
		"on": on,
	}, start, err)
	return err
}

// SetTracking selects the channel tracking mode.
func (s *PSUService) SetTracking(ctx context.Context, mode driver.TrackingMode) error {
	start := time.Now()
	err := s.psu.SetTracking(ctx, mode)
	s.recordOperation(ctx, model.OperationTypeTracking, nil, model.JSONObject{
		"mode": mode.String(),
	}, start, err)
	return err
}

// SetBeep enables or disables the front-panel beeper.
func (s *PSUService) SetBeep(ctx context.Context, on bool) error {
	start := time.Now()
	err := s.psu.SetBeep(ctx, on)
	s.recordOperation(ctx, model.OperationTypeBeep, nil, model.JSONObject{
		"on": on,
	}, start, err)
	return err
}

// Beep sounds a single short beep.
func (s *PSUService) Beep(ctx context.Context) error {
	start := time.Now()
	err := s.psu.Beep(ctx)
	s.recordOperation(ctx, model.OperationTypeBeep, nil, model.JSONObject{
		"pulse": true,
	}, start, err)
	return err
}

// SaveSettings stores the current panel settings in a memory slot.
func (s *PSUService) SaveSettings(ctx context.Context, slot int) error {
	start := time.Now()
	err := s.psu.SaveSettings(ctx, slot)
	s.recordOperation(ctx, model.OperationTypeMemorySave, nil, model.JSONObject{
		"slot": slot,
	}, start, err)
	return err
}

// LoadSettings recalls panel settings from a memory slot.
func (s *PSUService) LoadSettings(ctx context.Context, slot int) error {
	start := time.Now()
	err := s.psu.LoadSettings(ctx, slot)
	s.recordOperation(ctx, model.OperationTypeMemoryRecall, nil, model.JSONObject{
		"slot": slot,
	}, start, err)
	return err
}

// InstrumentErrors queries the instrument's error register.
func (s *PSUService) InstrumentErrors(ctx context.Context) (string, error) {
	start := time.Now()
	text, err := s.psu.ReportErrors(ctx)
	s.recordOperation(ctx, model.OperationTypeErrorQuery, nil, model.JSONObject{
		"report": text,
	}, start, err)
	return text, err
}

// CheckConnected re-verifies the instrument identity over the wire.
func (s *PSUService) CheckConnected(ctx context.Context) bool {
	return s.psu.CheckConnected(ctx)
}

// Sample reads both channels (programmed and measured values), persists
// the readings, and returns them. A channel that times out is skipped
// with a warning so one slow reply does not lose the whole cycle.
func (s *PSUService) Sample(ctx context.Context) ([]*model.Reading, error) {
	now := time.Now()
	var readings []*model.Reading

	for ch := driver.MinChannel; ch <= driver.MaxChannel; ch++ {
		if r, err := s.sampleChannel(ctx, ch, model.ReadingKindSet, now); err == nil {
			readings = append(readings, r)
		} else if !errors.Is(err, driver.ErrTimeout) {
			return nil, err
		}

		if r, err := s.sampleChannel(ctx, ch, model.ReadingKindActual, now); err == nil {
			readings = append(readings, r)
		} else if !errors.Is(err, driver.ErrTimeout) {
			return nil, err
		}
	}

	if len(readings) == 0 {
		return nil, fmt.Errorf("sampling produced no readings: %w", driver.ErrTimeout)
	}

	if err := s.readingRepo.CreateBatch(ctx, readings); err != nil {
		return nil, err
	}

	return readings, nil
}

func (s *PSUService) sampleChannel(ctx context.Context, ch int, kind model.ReadingKind, at time.Time) (*model.Reading, error) {
	var volts, amps float64
	var err error

	switch kind {
	case model.ReadingKindSet:
		if volts, err = s.psu.GetVoltage(ctx, ch); err == nil {
			amps, err = s.psu.GetCurrent(ctx, ch)
		}
	default:
		if volts, err = s.psu.GetActualVoltage(ctx, ch); err == nil {
			amps, err = s.psu.GetActualCurrent(ctx, ch)
		}
	}

	if err != nil {
		if errors.Is(err, driver.ErrTimeout) {
			s.zlog.Warn("Sampling skipped channel on timeout",
				zap.Int("channel", ch),
				zap.String("kind", string(kind)),
			)
		}
		return nil, err
	}

	return &model.Reading{
		ID:        uuid.New(),
		Channel:   ch,
		Kind:      kind,
		Voltage:   decimal.NewFromFloat(volts),
		Current:   decimal.NewFromFloat(amps),
		SampledAt: at,
	}, nil
}

// ListReadings returns persisted readings matching the filter.
func (s *PSUService) ListReadings(ctx context.Context, filter *repository.ReadingFilter) ([]*model.Reading, int, error) {
	return s.readingRepo.List(ctx, filter)
}

// ListOperations returns the operation audit log matching the filter.
func (s *PSUService) ListOperations(ctx context.Context, filter *repository.OperationFilter) ([]*model.Operation, int, error) {
	return s.operationRepo.List(ctx, filter)
}

// PurgeOldRecords removes readings and audit entries past the retention
// window.
func (s *PSUService) PurgeOldRecords(ctx context.Context) error {
	cutoff := time.Now().Add(-s.config.Instrument.RetainReadings)

	if _, err := s.readingRepo.DeleteOlderThan(ctx, cutoff); err != nil {
		return err
	}
	if _, err := s.operationRepo.DeleteOlderThan(ctx, cutoff); err != nil {
		return err
	}
	return nil
}

// recordOperation persists one audit entry. Persistence failures are
// logged, never surfaced: the instrument operation already happened.
func (s *PSUService) recordOperation(ctx context.Context, opType model.OperationType, channel *int, params model.JSONObject, start time.Time, opErr error) {
	op := &model.Operation{
		ID:            uuid.New(),
		OperationType: opType,
		Channel:       channel,
		Parameters:    params,
		Status:        model.OperationStatusSuccess,
		DurationMs:    int(time.Since(start).Milliseconds()),
		CreatedAt:     time.Now(),
	}

	if opErr != nil {
		msg := opErr.Error()
		op.ErrorMessage = &msg
		op.Status = model.OperationStatusFailed
		if errors.Is(opErr, driver.ErrTimeout) {
			op.Status = model.OperationStatusTimeout
		}
	}

	if err := s.operationRepo.Create(ctx, op); err != nil {
		s.zlog.Error("Failed to record operation",
			zap.String("operation_type", string(opType)),
			zap.Error(err),
		)
	}
}
