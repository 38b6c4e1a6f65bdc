package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-nested-tx/internal/domain/transaction"
	"github.com/sanosuguru/go-nested-tx/internal/pkg/logger"
)

// ErrorResponse はエラーレスポンスの統一フォーマット
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

// CustomHTTPErrorHandler はカスタムエラーハンドラー
func CustomHTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	resp := ErrorResponse{Error: "内部サーバーエラー", Code: http.StatusInternalServerError}

	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		resp.Code = he.Code
		if m, ok := he.Message.(string); ok {
			resp.Error = m
		} else {
			resp.Error = http.StatusText(he.Code)
		}
	case transaction.IsConnectionBroken(err):
		resp.Code = http.StatusServiceUnavailable
		resp.Error = "データベースコネクションが破損しました"
		resp.Kind = "connection_broken"
	default:
		var dbErr *transaction.DatabaseError
		if errors.As(err, &dbErr) {
			resp.Kind = dbErr.Kind.String()
		}
	}

	// エラーログを出力（5xx エラーの場合）
	if resp.Code >= 500 {
		logger.Error("サーバーエラー",
			zap.Int("status", resp.Code),
			zap.String("path", c.Request().URL.Path),
			zap.Error(err),
		)
	}

	if err := c.JSON(resp.Code, resp); err != nil {
		logger.Error("エラーレスポンス送信失敗", zap.Error(err))
	}
}
