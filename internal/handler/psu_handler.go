// internal/handler/psu_handler.go
package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"psu-service/internal/model"
	"psu-service/internal/repository"
	"psu-service/internal/service"
	"psu-service/internal/utils"
	"psu-service/pkg/driver"
)

// PSUHandler handles power supply HTTP requests
type PSUHandler struct {
	psuService *service.PSUService
	logger     *utils.ServiceLogger
}

// NewPSUHandler creates a new power supply handler
func NewPSUHandler(psuService *service.PSUService, logger *zap.Logger) *PSUHandler {
	return &PSUHandler{
		psuService: psuService,
		logger:     utils.NewServiceLogger(logger, "psu-handler"),
	}
}

// RegisterRoutes registers power supply routes
func (h *PSUHandler) RegisterRoutes(router *gin.RouterGroup) {
	instrument := router.Group("/instrument")
	{
		instrument.GET("", h.GetInstrument)
		instrument.GET("/status", h.GetStatus)
		instrument.GET("/errors", h.GetInstrumentErrors)
		instrument.PUT("/output", h.SetOutput)
		instrument.PUT("/tracking", h.SetTracking)
		instrument.PUT("/beep", h.SetBeep)
		instrument.POST("/beep", h.Beep)
	}

	channels := router.Group("/channels/:channel")
	{
		channels.GET("/voltage", h.GetVoltage)
		channels.PUT("/voltage", h.SetVoltage)
		channels.GET("/current", h.GetCurrent)
		channels.PUT("/current", h.SetCurrent)
		channels.GET("/actual", h.GetActual)
	}

	memory := router.Group("/memory/:slot")
	{
		memory.POST("/save", h.SaveSettings)
		memory.POST("/recall", h.LoadSettings)
	}

	router.GET("/readings", h.ListReadings)
	router.GET("/operations", h.ListOperations)
}

// SetVoltageRequest programs a channel voltage
type SetVoltageRequest struct {
	Volts float64 `json:"volts" binding:"required"`
}

// SetCurrentRequest programs a channel current limit
type SetCurrentRequest struct {
	Amps float64 `json:"amps" binding:"required"`
}

// OutputRequest switches the outputs
type OutputRequest struct {
	On *bool `json:"on" binding:"required"`
}

// TrackingRequest selects the channel tracking mode
type TrackingRequest struct {
	Mode *int `json:"mode" binding:"required"`
}

// BeepRequest enables or disables the beeper
type BeepRequest struct {
	On *bool `json:"on" binding:"required"`
}

// GetInstrument describes the connected instrument
// @Summary Get instrument info
// @Description Get identity, port and connectivity of the discovered power supply
// @Tags Instrument
// @Produce json
// @Success 200 {object} utils.APIResponse
// @Router /instrument [get]
func (h *PSUHandler) GetInstrument(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Instrument retrieved successfully", h.psuService.Info())
}

// GetStatus reads a full snapshot of both channels
// @Summary Get instrument status
// @Description Read programmed and measured voltage and current for both channels
// @Tags Instrument
// @Produce json
// @Success 200 {object} utils.APIResponse
// @Failure 502 {object} utils.APIResponse
// @Failure 504 {object} utils.APIResponse
// @Router /instrument/status [get]
func (h *PSUHandler) GetStatus(c *gin.Context) {
	status, err := h.psuService.Status(c.Request.Context())
	if err != nil {
		h.respondDriverError(c, "Failed to read instrument status", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Status retrieved successfully", status)
}

// GetInstrumentErrors queries the instrument error register
// @Summary Query instrument errors
// @Tags Instrument
// @Produce json
// @Success 200 {object} utils.APIResponse
// @Failure 504 {object} utils.APIResponse
// @Router /instrument/errors [get]
func (h *PSUHandler) GetInstrumentErrors(c *gin.Context) {
	report, err := h.psuService.InstrumentErrors(c.Request.Context())
	if err != nil {
		h.respondDriverError(c, "Failed to query instrument errors", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Error report retrieved successfully", gin.H{
		"report": report,
	})
}

// SetVoltage programs a channel voltage
// @Summary Set channel voltage
// @Description Program the channel output voltage in volts, verified by read-back
// @Tags Channels
// @Accept json
// @Produce json
// @Param channel path int true "Channel number (1 or 2)"
// @Param request body SetVoltageRequest true "Voltage to program"
// @Success 200 {object} utils.APIResponse
// @Failure 400 {object} utils.APIResponse
// @Failure 502 {object} utils.APIResponse
// @Failure 504 {object} utils.APIResponse
// @Router /channels/{channel}/voltage [put]
func (h *PSUHandler) SetVoltage(c *gin.Context) {
	channel, ok := h.channelParam(c)
	if !ok {
		return
	}

	var req SetVoltageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.psuService.SetVoltage(c.Request.Context(), channel, req.Volts); err != nil {
		h.respondDriverError(c, "Failed to set voltage", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Voltage set successfully", gin.H{
		"channel": channel,
		"volts":   req.Volts,
	})
}

// SetCurrent programs a channel current limit
// @Summary Set channel current limit
// @Tags Channels
// @Accept json
// @Produce json
// @Param channel path int true "Channel number (1 or 2)"
// @Param request body SetCurrentRequest true "Current limit to program"
// @Success 200 {object} utils.APIResponse
// @Failure 400 {object} utils.APIResponse
// @Failure 502 {object} utils.APIResponse
// @Failure 504 {object} utils.APIResponse
// @Router /channels/{channel}/current [put]
func (h *PSUHandler) SetCurrent(c *gin.Context) {
	channel, ok := h.channelParam(c)
	if !ok {
		return
	}

	var req SetCurrentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.psuService.SetCurrent(c.Request.Context(), channel, req.Amps); err != nil {
		h.respondDriverError(c, "Failed to set current", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Current set successfully", gin.H{
		"channel": channel,
		"amps":    req.Amps,
	})
}

// GetVoltage reads the programmed channel voltage
// @Summary Get programmed voltage
// @Tags Channels
// @Produce json
// @Param channel path int true "Channel number (1 or 2)"
// @Success 200 {object} utils.APIResponse
// @Failure 504 {object} utils.APIResponse
// @Router /channels/{channel}/voltage [get]
func (h *PSUHandler) GetVoltage(c *gin.Context) {
	channel, ok := h.channelParam(c)
	if !ok {
		return
	}

	volts, err := h.psuService.GetVoltage(c.Request.Context(), channel)
	if err != nil {
		h.respondDriverError(c, "Failed to read voltage", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Voltage retrieved successfully", gin.H{
		"channel": channel,
		"volts":   volts,
	})
}

// GetCurrent reads the programmed channel current limit
// @Summary Get programmed current limit
// @Tags Channels
// @Produce json
// @Param channel path int true "Channel number (1 or 2)"
// @Success 200 {object} utils.APIResponse
// @Failure 504 {object} utils.APIResponse
// @Router /channels/{channel}/current [get]
func (h *PSUHandler) GetCurrent(c *gin.Context) {
	channel, ok := h.channelParam(c)
	if !ok {
		return
	}

	amps, err := h.psuService.GetCurrent(c.Request.Context(), channel)
	if err != nil {
		h.respondDriverError(c, "Failed to read current", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Current retrieved successfully", gin.H{
		"channel": channel,
		"amps":    amps,
	})
}

// GetActual reads the measured output of a channel
// @Summary Get measured output
// @Description Read the actual output voltage and current of a channel
// @Tags Channels
// @Produce json
// @Param channel path int true "Channel number (1 or 2)"
// @Success 200 {object} utils.APIResponse
// @Failure 504 {object} utils.APIResponse
// @Router /channels/{channel}/actual [get]
func (h *PSUHandler) GetActual(c *gin.Context) {
	channel, ok := h.channelParam(c)
	if !ok {
		return
	}

	volts, err := h.psuService.GetActualVoltage(c.Request.Context(), channel)
	if err != nil {
		h.respondDriverError(c, "Failed to read actual voltage", err)
		return
	}

	amps, err := h.psuService.GetActualCurrent(c.Request.Context(), channel)
	if err != nil {
		h.respondDriverError(c, "Failed to read actual current", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Actual output retrieved successfully", gin.H{
		"channel": channel,
		"volts":   volts,
		"amps":    amps,
	})
}

// SetOutput switches both outputs on or off
// @Summary Switch outputs
// @Tags Instrument
// @Accept json
// @Produce json
// @Param request body OutputRequest true "Output state"
// @Success 200 {object} utils.APIResponse
// @Failure 400 {object} utils.APIResponse
// @Router /instrument/output [put]
func (h *PSUHandler) SetOutput(c *gin.Context) {
	var req OutputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.psuService.SetOutput(c.Request.Context(), *req.On); err != nil {
		h.respondDriverError(c, "Failed to switch output", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Output switched successfully", gin.H{
		"on": *req.On,
	})
}

// SetTracking selects the channel tracking mode
// @Summary Set tracking mode
// @Description Select independent (0), series (1) or parallel (2) tracking
// @Tags Instrument
// @Accept json
// @Produce json
// @Param request body TrackingRequest true "Tracking mode"
// @Success 200 {object} utils.APIResponse
// @Failure 400 {object} utils.APIResponse
// @Router /instrument/tracking [put]
func (h *PSUHandler) SetTracking(c *gin.Context) {
	var req TrackingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	mode := driver.TrackingMode(*req.Mode)
	if err := h.psuService.SetTracking(c.Request.Context(), mode); err != nil {
		h.respondDriverError(c, "Failed to set tracking mode", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Tracking mode set successfully", gin.H{
		"mode": mode.String(),
	})
}

// SetBeep enables or disables the front-panel beeper
// @Summary Set beeper preference
// @Tags Instrument
// @Accept json
// @Produce json
// @Param request body BeepRequest true "Beeper state"
// @Success 200 {object} utils.APIResponse
// @Failure 400 {object} utils.APIResponse
// @Router /instrument/beep [put]
func (h *PSUHandler) SetBeep(c *gin.Context) {
	var req BeepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.psuService.SetBeep(c.Request.Context(), *req.On); err != nil {
		h.respondDriverError(c, "Failed to set beeper", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Beeper preference set successfully", gin.H{
		"on": *req.On,
	})
}

// Beep sounds a single short beep
// @Summary Sound a beep
// @Tags Instrument
// @Produce json
// @Success 200 {object} utils.APIResponse
// @Router /instrument/beep [post]
func (h *PSUHandler) Beep(c *gin.Context) {
	if err := h.psuService.Beep(c.Request.Context()); err != nil {
		h.respondDriverError(c, "Failed to beep", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Beep sounded successfully", nil)
}

// SaveSettings stores panel settings in a memory slot
// @Summary Save settings to memory slot
// @Tags Memory
// @Produce json
// @Param slot path int true "Memory slot (1 to 4)"
// @Success 200 {object} utils.APIResponse
// @Failure 400 {object} utils.APIResponse
// @Router /memory/{slot}/save [post]
func (h *PSUHandler) SaveSettings(c *gin.Context) {
	slot, ok := h.slotParam(c)
	if !ok {
		return
	}

	if err := h.psuService.SaveSettings(c.Request.Context(), slot); err != nil {
		h.respondDriverError(c, "Failed to save settings", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Settings saved successfully", gin.H{
		"slot": slot,
	})
}

// LoadSettings recalls panel settings from a memory slot
// @Summary Recall settings from memory slot
// @Tags Memory
// @Produce json
// @Param slot path int true "Memory slot (1 to 4)"
// @Success 200 {object} utils.APIResponse
// @Failure 400 {object} utils.APIResponse
// @Router /memory/{slot}/recall [post]
func (h *PSUHandler) LoadSettings(c *gin.Context) {
	slot, ok := h.slotParam(c)
	if !ok {
		return
	}

	if err := h.psuService.LoadSettings(c.Request.Context(), slot); err != nil {
		h.respondDriverError(c, "Failed to recall settings", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Settings recalled successfully", gin.H{
		"slot": slot,
	})
}

// ListReadings returns persisted readings
// @Summary List readings
// @Description List sampled readings, newest first
// @Tags History
// @Produce json
// @Param channel query int false "Filter by channel"
// @Param kind query string false "Filter by kind (SET or ACTUAL)"
// @Param since query string false "RFC3339 lower bound"
// @Param limit query int false "Page size (default 100)"
// @Param offset query int false "Page offset"
// @Success 200 {object} utils.APIResponse
// @Router /readings [get]
func (h *PSUHandler) ListReadings(c *gin.Context) {
	filter := &repository.ReadingFilter{}

	if raw := c.Query("channel"); raw != "" {
		channel, err := strconv.Atoi(raw)
		if err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid channel parameter", err)
			return
		}
		filter.Channel = &channel
	}

	if raw := c.Query("kind"); raw != "" {
		kind := model.ReadingKind(raw)
		filter.Kind = &kind
	}

	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid since parameter", err)
			return
		}
		filter.Since = &since
	}

	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "100"))
	filter.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	readings, total, err := h.psuService.ListReadings(c.Request.Context(), filter)
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list readings", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Readings retrieved successfully", gin.H{
		"readings": readings,
		"total":    total,
	})
}

// ListOperations returns the operation audit log
// @Summary List operations
// @Description List instrument operations, newest first
// @Tags History
// @Produce json
// @Param type query string false "Filter by operation type"
// @Param status query string false "Filter by status"
// @Param limit query int false "Page size (default 100)"
// @Param offset query int false "Page offset"
// @Success 200 {object} utils.APIResponse
// @Router /operations [get]
func (h *PSUHandler) ListOperations(c *gin.Context) {
	filter := &repository.OperationFilter{}

	if raw := c.Query("type"); raw != "" {
		opType := model.OperationType(raw)
		filter.OperationType = &opType
	}

	if raw := c.Query("status"); raw != "" {
		status := model.OperationStatus(raw)
		filter.Status = &status
	}

	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "100"))
	filter.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	operations, total, err := h.psuService.ListOperations(c.Request.Context(), filter)
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list operations", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Operations retrieved successfully", gin.H{
		"operations": operations,
		"total":      total,
	})
}

// channelParam parses and validates the channel path parameter
func (h *PSUHandler) channelParam(c *gin.Context) (int, bool) {
	channel, err := strconv.Atoi(c.Param("channel"))
	if err != nil || !driver.ValidChannel(channel) {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid channel", driver.ErrInvalidChannel)
		return 0, false
	}
	return channel, true
}

// slotParam parses and validates the memory slot path parameter
func (h *PSUHandler) slotParam(c *gin.Context) (int, bool) {
	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil || !driver.ValidMemorySlot(slot) {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid memory slot", driver.ErrInvalidSlot)
		return 0, false
	}
	return slot, true
}

// respondDriverError maps driver errors onto HTTP status codes
func (h *PSUHandler) respondDriverError(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, driver.ErrInvalidChannel),
		errors.Is(err, driver.ErrInvalidValue),
		errors.Is(err, driver.ErrInvalidSlot),
		errors.Is(err, driver.ErrInvalidTracking):
		utils.ErrorResponse(c, http.StatusBadRequest, message, err)
	case errors.Is(err, driver.ErrTimeout):
		utils.ErrorResponse(c, http.StatusGatewayTimeout, message, err)
	case errors.Is(err, driver.ErrParse), errors.Is(err, driver.ErrVerify):
		utils.ErrorResponse(c, http.StatusBadGateway, message, err)
	default:
		utils.ErrorResponse(c, http.StatusInternalServerError, message, err)
	}
}
