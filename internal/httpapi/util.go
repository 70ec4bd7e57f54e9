package httpapi

import (
	"context"
	"time"
)

func contextWithTimeoutMs(ctx context.Context, ms int) (context.Context, func()) {
	return context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
}
