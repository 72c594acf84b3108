package exchange

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/atlas-desktop/structure-core/pkg/types"
)

// ReportHandler consumes one decoded execution report.
type ReportHandler func(types.ExecutionReport)

// WSExecutionIngestor connects to a broker's user-data WebSocket stream and
// decodes raw execution reports, handing each to a handler (typically
// OrderTracker.HandleExecutionReport).
type WSExecutionIngestor struct {
	url     string
	logger  *zap.Logger
	dialer  *websocket.Dialer
	handler ReportHandler

	reconnectDelay time.Duration
}

// NewWSExecutionIngestor builds an ingestor for the given stream URL.
func NewWSExecutionIngestor(url string, handler ReportHandler, logger *zap.Logger) *WSExecutionIngestor {
	return &WSExecutionIngestor{
		url:            url,
		logger:         logger.Named("ws_execution_ingestor"),
		dialer:         websocket.DefaultDialer,
		handler:        handler,
		reconnectDelay: 2 * time.Second,
	}
}

// Run connects and decodes execution reports until ctx is cancelled,
// reconnecting with a fixed backoff on transport failure.
func (w *WSExecutionIngestor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.runOnce(ctx); err != nil {
			w.logger.Warn("execution stream disconnected, reconnecting", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.reconnectDelay):
		}
	}
}

func (w *WSExecutionIngestor) runOnce(ctx context.Context) error {
	conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var report types.ExecutionReport
		if err := json.Unmarshal(raw, &report); err != nil {
			w.logger.Warn("malformed execution report, dropping", zap.Error(err))
			continue
		}
		w.handler(report)
	}
}
