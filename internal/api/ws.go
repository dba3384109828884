package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/kavymi/meepo-sub001/internal/event"
	"github.com/kavymi/meepo-sub001/internal/logging"
)

const (
	wsReadBufferSize  = 1024
	wsWriteBufferSize = 1024
	wsWriteTimeout    = 10 * time.Second
	wsConnectSpanName = "websocket.connect"
)

type wsBusStreamConfig[T any] struct {
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
	Bus            *event.Bus[T]
	// Replay is the number of history entries sent before live values.
	Replay int
	Filter func(T) bool
}

type wsError struct {
	Status    int
	CloseCode int
	Message   string
	Err       error
}

// serveWSBusStream subscribes to a bus and streams every value as JSON. The
// stream ends when the client goes away or the bus closes.
func serveWSBusStream[T any](w http.ResponseWriter, r *http.Request, config wsBusStreamConfig[T]) {
	if !validateToken(r, config.AuthToken) {
		writeWSError(w, r, config.Logger, wsError{Status: http.StatusUnauthorized, Message: "unauthorized"})
		return
	}
	if config.Bus == nil {
		writeWSError(w, r, config.Logger, wsError{Status: http.StatusServiceUnavailable, Message: "event stream unavailable"})
		return
	}
	filter := config.Filter
	if filter == nil {
		filter = func(T) bool { return true }
	}
	output, cancel := config.Bus.SubscribeFiltered(filter)
	defer cancel()

	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsReadBufferSize,
		WriteBufferSize: wsWriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r, config.AllowedOrigins)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logWSError(config.Logger, r, wsError{Status: http.StatusBadRequest, Message: "websocket upgrade failed", Err: err})
		return
	}
	defer conn.Close()

	_, span := startWebSocketSpan(r, r.URL.Path)
	defer span.End()

	if config.Replay > 0 {
		for _, value := range config.Bus.History(config.Replay) {
			if filter(value) && writeWSJSON(conn, value) != nil {
				return
			}
		}
	}

	pumpWS(conn, output)
}

// serveWSLogStream streams daemon log entries at or above ?level.
func serveWSLogStream(w http.ResponseWriter, r *http.Request, logger *logging.Logger, authToken string, allowedOrigins []string) {
	if !validateToken(r, authToken) {
		writeWSError(w, r, logger, wsError{Status: http.StatusUnauthorized, Message: "unauthorized"})
		return
	}
	level, ok := parseLevelParam(r)
	if !ok {
		writeWSError(w, r, logger, wsError{Status: http.StatusBadRequest, Message: "unknown log level"})
		return
	}
	output, cancel := logger.Subscribe(level)
	defer cancel()

	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsReadBufferSize,
		WriteBufferSize: wsWriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r, allowedOrigins)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logWSError(logger, r, wsError{Status: http.StatusBadRequest, Message: "websocket upgrade failed", Err: err})
		return
	}
	defer conn.Close()

	_, span := startWebSocketSpan(r, r.URL.Path)
	defer span.End()
	pumpWS(conn, output)
}

// pumpWS writes every value from output until the client goes away or
// output closes, in which case the client gets a going-away close frame.
func pumpWS[T any](conn *websocket.Conn, output <-chan T) {
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case value, ok := <-output:
			if !ok {
				deadline := time.Now().Add(wsWriteTimeout)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"), deadline)
				return
			}
			if err := writeWSJSON(conn, value); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

func writeWSJSON(conn *websocket.Conn, payload any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(payload)
}

func writeWSError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, wsErr wsError) {
	if wsErr.CloseCode == 0 {
		wsErr.CloseCode = closeCodeForStatus(wsErr.Status)
	}
	logWSError(logger, r, wsErr)
	http.Error(w, wsErr.Message, wsErr.Status)
}

func logWSError(logger *logging.Logger, r *http.Request, wsErr wsError) {
	if logger == nil || r == nil {
		return
	}
	closeCode := wsErr.CloseCode
	if closeCode == 0 {
		closeCode = closeCodeForStatus(wsErr.Status)
	}
	fields := map[string]string{
		"path":       r.URL.Path,
		"status":     strconv.Itoa(wsErr.Status),
		"close_code": strconv.Itoa(closeCode),
		"message":    wsErr.Message,
	}
	if r.RemoteAddr != "" {
		fields["remote_addr"] = r.RemoteAddr
	}
	if wsErr.Err != nil {
		fields["error"] = wsErr.Err.Error()
	}
	if wsErr.Status >= http.StatusInternalServerError {
		logger.Error("websocket error", fields)
	} else {
		logger.Warn("websocket error", fields)
	}
}

func closeCodeForStatus(status int) int {
	switch {
	case status == http.StatusBadRequest:
		return websocket.CloseProtocolError
	case status == http.StatusServiceUnavailable:
		return websocket.CloseTryAgainLater
	case status >= http.StatusBadRequest && status < http.StatusInternalServerError:
		return websocket.ClosePolicyViolation
	default:
		return websocket.CloseInternalServerErr
	}
}

func startWebSocketSpan(r *http.Request, route string) (context.Context, trace.Span) {
	ctx := otelapi.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	tracer := otelapi.Tracer("watchd/ws")
	attributes := []attribute.KeyValue{
		attribute.String("http.method", r.Method),
		attribute.String("user_agent", r.UserAgent()),
	}
	if strings.TrimSpace(route) != "" {
		attributes = append(attributes, attribute.String("http.route", route))
	}
	return tracer.Start(ctx, wsConnectSpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attributes...),
	)
}
