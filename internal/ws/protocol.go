package ws

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dgnsrekt/optionflow/internal/flow"
)

// Negotiated wire formats.
const (
	ProtocolJSON     = "json"
	ProtocolProtobuf = "protobuf"

	SubprotocolJSON     = "json.optionflow.v1"
	SubprotocolProtobuf = "protobuf.optionflow.v1"
)

// Upstream message types for internal routing
type (
	subscribeRequest struct {
		symbol string
		ackID  *uint64
	}
	unsubscribeRequest struct {
		symbol string
		ackID  *uint64
	}
	pingRequest struct{}
)

// routeUpstream turns a decoded client frame into a request.
func routeUpstream(msg map[string]any) (any, error) {
	kind, _ := msg["type"].(string)
	symbol, _ := msg["symbol"].(string)
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	var ackID *uint64
	if v, ok := msg["ackId"].(float64); ok && v >= 0 {
		id := uint64(v)
		ackID = &id
	}

	switch kind {
	case "subscribe":
		return &subscribeRequest{symbol: symbol, ackID: ackID}, nil
	case "unsubscribe":
		return &unsubscribeRequest{symbol: symbol, ackID: ackID}, nil
	case "ping":
		return &pingRequest{}, nil
	default:
		return nil, fmt.Errorf("unknown message type: %q", kind)
	}
}

func connectedMessage(connectionID string) map[string]any {
	return map[string]any{
		"type":         "system",
		"event":        "connected",
		"connectionId": connectionID,
	}
}

func ackMessage(ackID uint64, success bool) map[string]any {
	return map[string]any{
		"type":    "ack",
		"ackId":   ackID,
		"success": success,
	}
}

func pongMessage() map[string]any {
	return map[string]any{"type": "pong"}
}

// tradeMessage carries one qualifying trade to the underlying's group.
func tradeMessage(f flow.Flagged) (map[string]any, error) {
	data, err := toMap(f)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"type":     "message",
		"group":    f.Contract.Underlying,
		"dataType": "trade",
		"data":     data,
	}, nil
}

// summaryMessage closes a backfill for one symbol.
func summaryMessage(symbol string, summary flow.Summary, at time.Time) (map[string]any, error) {
	data, err := toMap(summary)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"type":     "message",
		"group":    symbol,
		"dataType": "summary",
		"asOf":     at.UTC().Format(time.RFC3339),
		"data":     data,
	}, nil
}

// toMap flattens v to the JSON value model shared by both protocols.
func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return out, nil
}
