package wire

import (
	"collab-lab/domain"
	"collab-lab/errors"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// WhiteboardPayload is the whiteboard broadcast payload.
type WhiteboardPayload struct {
	SessionID string            `json:"sessionId"`
	Type      string            `json:"type"`
	Data      map[string]string `json:"data"`
	Timestamp int64             `json:"timestamp"`
	UserID    string            `json:"userId"`
}

type whiteboardFrame struct {
	SessionID string `validate:"required"`
	Type      string `validate:"required,oneof=draw text erase clear"`
	UserID    string `validate:"required"`
}

func BuildOutboundWhiteboardOp(sessionID domain.SessionID, op domain.WhiteboardOperation) WhiteboardPayload {
	meta := op.Meta()
	data := map[string]string{"id": meta.ID}

	switch o := op.(type) {
	case domain.DrawOperation:
		data["points"] = mustJSON(pointsOrEmpty(o.Points))
		data["color"] = o.Color
		data["width"] = formatFloat(o.Width)
	case domain.TextOperation:
		data["x"] = formatFloat(o.Position.X)
		data["y"] = formatFloat(o.Position.Y)
		data["text"] = o.Text
		data["color"] = o.Color
		data["fontSize"] = formatFloat(o.FontSize)
	case domain.EraseOperation:
		ids := o.TargetIDs
		if ids == nil {
			ids = []string{}
		}
		data["targetIds"] = mustJSON(ids)
	}

	return WhiteboardPayload{
		SessionID: sessionID.String(),
		Type:      string(op.Kind()),
		Data:      data,
		Timestamp: meta.Timestamp.UnixMilli(),
		UserID:    meta.UserID,
	}
}

// NormalizeInboundWhiteboardOp is the inverse of BuildOutboundWhiteboardOp.
// Data values that arrive as JSON numbers or nested values instead of
// strings are tolerated.
func NormalizeInboundWhiteboardOp(raw []byte) (domain.WhiteboardOperation, error) {
	f, err := decode(raw)
	if err != nil {
		return nil, err
	}
	frame := whiteboardFrame{
		SessionID: f.first("session_id", "sessionId"),
		Type:      f.str("type"),
		UserID:    f.first("userId", "user_id"),
	}
	if err := validate.Struct(frame); err != nil {
		return nil, validationError(err)
	}

	data := map[string]string{}
	if rawData, ok := f["data"].(map[string]any); ok {
		for k, v := range rawData {
			data[k] = stringify(v)
		}
	}

	ts, ok, err := f.time("timestamp", "created_at")
	if err != nil {
		return nil, err
	}
	if !ok {
		ts = time.Now().UTC()
	}

	id := data["id"]
	if id == "" {
		id = f.str("id")
	}
	if id == "" {
		id = uuid.NewString()
	}
	meta := domain.OperationMeta{ID: id, UserID: frame.UserID, Timestamp: ts}

	switch domain.OperationKind(frame.Type) {
	case domain.OperationDraw:
		var points []domain.Point
		if err := json.Unmarshal([]byte(data["points"]), &points); err != nil {
			return nil, malformed("draw points", err)
		}
		width, err := parseFloat(data["width"])
		if err != nil {
			return nil, malformed("draw width", err)
		}
		return domain.DrawOperation{OperationMeta: meta, Points: points, Color: data["color"], Width: width}, nil
	case domain.OperationText:
		x, err := parseFloat(data["x"])
		if err != nil {
			return nil, malformed("text x", err)
		}
		y, err := parseFloat(data["y"])
		if err != nil {
			return nil, malformed("text y", err)
		}
		size, err := parseFloat(data["fontSize"])
		if err != nil {
			return nil, malformed("text fontSize", err)
		}
		return domain.TextOperation{
			OperationMeta: meta,
			Position:      domain.Point{X: x, Y: y},
			Text:          data["text"],
			Color:         data["color"],
			FontSize:      size,
		}, nil
	case domain.OperationErase:
		var ids []string
		if err := json.Unmarshal([]byte(data["targetIds"]), &ids); err != nil {
			return nil, malformed("erase targetIds", err)
		}
		return domain.EraseOperation{OperationMeta: meta, TargetIDs: ids}, nil
	default:
		return domain.ClearOperation{OperationMeta: meta}, nil
	}
}

func malformed(field string, err error) error {
	return fmt.Errorf("%w: %s: %v", errors.ErrMalformedWirePayload, field, err)
}

// parseFloat treats a missing value as zero.
func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func pointsOrEmpty(points []domain.Point) []domain.Point {
	if points == nil {
		return []domain.Point{}
	}
	return points
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
