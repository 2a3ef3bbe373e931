//go:build !linux

package app

import (
	"context"

	logx "hushbot/pkg/logx"
)

func notifyReady(ctx context.Context, log logx.Logger, run func(name string, fn func(ctx context.Context))) {
}

func notifyStopping(log logx.Logger) {}
