package handler

import (
	"context"

	"github.com/sanosuguru/go-nested-tx/internal/application"
)

// ProbeServiceInterface は競合プローブサービスのインターフェース
type ProbeServiceInterface interface {
	Run(ctx context.Context, rounds int) (*application.ProbeResult, error)
}

// Pinger はデータベース疎通確認のインターフェース
type Pinger interface {
	PingContext(ctx context.Context) error
}
