package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-nested-tx/internal/application"
)

// ProbeHandler は競合プローブハンドラー
type ProbeHandler struct {
	service ProbeServiceInterface
}

func NewProbeHandler(s ProbeServiceInterface) *ProbeHandler {
	return &ProbeHandler{service: s}
}

// RunProbeRequest はプローブ実行リクエスト
type RunProbeRequest struct {
	Rounds int `json:"rounds" validate:"required,min=1,max=20"`
}

// RunProbeResponse はプローブ実行レスポンス
type RunProbeResponse struct {
	*application.ProbeResult
	Healthy bool `json:"healthy"`
}

// Run は直列化競合プローブを実行する
func (h *ProbeHandler) Run(c echo.Context) error {
	var req RunProbeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "リクエストが不正です")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	result, err := h.service.Run(c.Request().Context(), req.Rounds)
	if err != nil {
		if errors.Is(err, application.ErrInvalidRounds) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if errors.Is(err, application.ErrProbeBusy) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return err
	}
	return c.JSON(http.StatusOK, RunProbeResponse{ProbeResult: result, Healthy: result.Healthy()})
}
