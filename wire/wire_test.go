package wire

import (
	"collab-lab/domain"
	"collab-lab/errors"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNormalizeInboundPresence_BothNamingsAreEqual(t *testing.T) {
	req := require.New(t)

	fromMobile, err := NormalizeInboundPresence([]byte(`{"userId":"u1","userName":"Alice","onlineAt":1000}`))
	req.NoError(err)
	fromWeb, err := NormalizeInboundPresence([]byte(`{"id":"u1","name":"Alice","joinedAt":1000}`))
	req.NoError(err)

	req.Equal(fromMobile, fromWeb)
	req.Equal(domain.PresenceUser{ID: "u1", Name: "Alice", JoinedAt: time.UnixMilli(1000).UTC()}, fromWeb)
}

func TestNormalizeInboundPresence_OtherClientNamingWins(t *testing.T) {
	req := require.New(t)

	user, err := NormalizeInboundPresence([]byte(`{"id":"web","userId":"mobile","name":"W","userName":"M","joinedAt":1,"onlineAt":"1970-01-01T00:00:02Z"}`))
	req.NoError(err)
	req.Equal("mobile", user.ID)
	req.Equal("M", user.Name)
	req.Equal(int64(2000), user.JoinedAt.UnixMilli())
}

func TestNormalizeInboundPresence_MissingID(t *testing.T) {
	_, err := NormalizeInboundPresence([]byte(`{"name":"Alice"}`))
	require.ErrorIs(t, err, errors.ErrMalformedWirePayload)
}

func TestBuildOutboundPresence_PairsEveryField(t *testing.T) {
	req := require.New(t)
	payload := BuildOutboundPresence(domain.PresenceUser{ID: "u1", Name: "Alice", JoinedAt: time.UnixMilli(1000)})

	raw, err := json.Marshal(payload)
	req.NoError(err)
	req.JSONEq(`{"id":"u1","name":"Alice","joinedAt":1000,"userId":"u1","userName":"Alice","onlineAt":1000}`, string(raw))

	back, err := NormalizeInboundPresence(raw)
	req.NoError(err)
	req.Equal("u1", back.ID)
}

func TestNormalizeInboundMessage_FieldPrecedence(t *testing.T) {
	req := require.New(t)
	raw := []byte(`{
		"id": "web-id", "messageId": "mobile-id",
		"sessionId": "s-web", "session_id": "s-1",
		"senderId": "u-web", "sender_id": "u-1",
		"senderName": "Web", "sender_name": "Alice",
		"encryptedContent": "web:ct", "encrypted_content": "iv:ct",
		"messageType": "text", "message_type": "system",
		"timestamp": 1, "created_at": 1700000000000
	}`)

	msg, err := NormalizeInboundMessage(raw)
	req.NoError(err)
	req.Equal(domain.ChatMessage{
		ID:               "mobile-id",
		SessionID:        "s-1",
		SenderID:         "u-1",
		SenderName:       "Alice",
		EncryptedContent: "iv:ct",
		MessageType:      domain.MessageTypeSystem,
		Timestamp:        time.UnixMilli(1700000000000).UTC(),
	}, msg)
}

func TestNormalizeInboundMessage_FabricatesMissingID(t *testing.T) {
	req := require.New(t)
	raw := []byte(`{"sessionId":"s-1","senderId":"u-1","encryptedContent":"iv:ct","timestamp":"1700000000000"}`)

	first, err := NormalizeInboundMessage(raw)
	req.NoError(err)
	second, err := NormalizeInboundMessage(raw)
	req.NoError(err)

	_, err = uuid.Parse(first.ID)
	req.NoError(err)
	req.NotEqual(first.ID, second.ID)
	req.Equal(domain.MessageTypeText, first.MessageType)
	req.Equal(int64(1700000000000), first.Timestamp.UnixMilli())
}

func TestNormalizeInboundMessage_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":          `{{`,
		"not an object":     `null`,
		"no session":        `{"messageId":"m","senderId":"u","encryptedContent":"iv:ct"}`,
		"no sender":         `{"messageId":"m","sessionId":"s","encryptedContent":"iv:ct"}`,
		"no content":        `{"messageId":"m","sessionId":"s","senderId":"u"}`,
		"unknown type":      `{"messageId":"m","sessionId":"s","senderId":"u","encryptedContent":"iv:ct","messageType":"voice"}`,
		"garbage timestamp": `{"messageId":"m","sessionId":"s","senderId":"u","encryptedContent":"iv:ct","timestamp":"yesterday"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NormalizeInboundMessage([]byte(raw))
			require.ErrorIs(t, err, errors.ErrMalformedWirePayload)
		})
	}
}

func TestBuildOutboundMessage_CarriesBothNamings(t *testing.T) {
	req := require.New(t)
	msg := domain.ChatMessage{
		ID:               "m-1",
		SessionID:        "s-1",
		SenderID:         "u-1",
		SenderName:       "Alice",
		EncryptedContent: "iv:ct",
		MessageType:      domain.MessageTypeText,
		Timestamp:        time.UnixMilli(1700000000123),
	}

	raw, err := json.Marshal(BuildOutboundMessage(msg))
	req.NoError(err)

	var fields map[string]any
	req.NoError(json.Unmarshal(raw, &fields))
	req.Equal("s-1", fields["sessionId"])
	req.Equal("s-1", fields["session_id"])
	req.Equal("m-1", fields["messageId"])
	req.Equal("m-1", fields["id"])
	req.Equal(float64(1700000000123), fields["timestamp"])
	req.Equal(float64(1700000000123), fields["created_at"])

	back, err := NormalizeInboundMessage(raw)
	req.NoError(err)
	req.Equal(msg.ID, back.ID)
	req.Equal(msg.EncryptedContent, back.EncryptedContent)
	req.True(msg.Timestamp.Equal(back.Timestamp))
}

func TestEpochMillis(t *testing.T) {
	req := require.New(t)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	want := at.UnixMilli()

	for _, v := range []any{at, &at, want, int(want), float64(want), json.Number("1709294400000"), "1709294400000", "1709294400000.0", "2024-03-01T12:00:00Z", "2024-03-01T13:00:00+01:00"} {
		got, err := EpochMillis(v)
		req.NoError(err, "%#v", v)
		req.Equal(want, got, "%#v", v)
	}

	for _, v := range []any{nil, "", "soon", []int{1}, struct{}{}, math.Exp2(63), math.Inf(1), math.NaN(), uint64(math.MaxUint64)} {
		_, err := EpochMillis(v)
		req.Error(err, "%#v", v)
	}

	// The largest float below 2^63 still fits
	got, err := EpochMillis(math.Nextafter(math.Exp2(63), 0))
	req.NoError(err)
	req.Equal(int64(9223372036854774784), got)
}

func TestWhiteboardOp_RoundTrip(t *testing.T) {
	req := require.New(t)
	meta := domain.OperationMeta{ID: "op-1", UserID: "u-1", Timestamp: time.UnixMilli(1700000000000).UTC()}
	ops := []domain.WhiteboardOperation{
		domain.DrawOperation{OperationMeta: meta, Points: []domain.Point{{X: 1.5, Y: 2}, {X: 3, Y: 4.25}}, Color: "#ff0000", Width: 3},
		domain.TextOperation{OperationMeta: meta, Position: domain.Point{X: 10, Y: 20}, Text: "x = 2", Color: "#000", FontSize: 14},
		domain.EraseOperation{OperationMeta: meta, TargetIDs: []string{"a", "b"}},
		domain.ClearOperation{OperationMeta: meta},
	}

	for _, op := range ops {
		payload := BuildOutboundWhiteboardOp("s-1", op)
		req.Equal("s-1", payload.SessionID)
		req.Equal(string(op.Kind()), payload.Type)
		req.Equal("op-1", payload.Data["id"])

		raw, err := json.Marshal(payload)
		req.NoError(err)
		back, err := NormalizeInboundWhiteboardOp(raw)
		req.NoError(err)
		req.Equal(op, back)
		req.Equal("s-1", SessionOf(raw))
	}
}

func TestBuildOutboundWhiteboardOp_DataIsFlatStrings(t *testing.T) {
	req := require.New(t)
	op := domain.DrawOperation{
		OperationMeta: domain.OperationMeta{ID: "d1", UserID: "u", Timestamp: time.UnixMilli(5)},
		Points:        []domain.Point{{X: 1, Y: 2}},
		Color:         "#111",
		Width:         2.5,
	}

	payload := BuildOutboundWhiteboardOp("s", op)

	req.Equal(map[string]string{
		"id":     "d1",
		"points": `[{"x":1,"y":2}]`,
		"color":  "#111",
		"width":  "2.5",
	}, payload.Data)
	req.Equal(int64(5), payload.Timestamp)
}

func TestNormalizeInboundWhiteboardOp_ToleratesUnstringifiedData(t *testing.T) {
	req := require.New(t)
	raw := []byte(`{"sessionId":"s","type":"draw","userId":"u","timestamp":7,
		"data":{"id":"d9","points":[{"x":1,"y":1}],"color":"#abc","width":4}}`)

	op, err := NormalizeInboundWhiteboardOp(raw)
	req.NoError(err)
	draw, ok := op.(domain.DrawOperation)
	req.True(ok)
	req.Equal("d9", draw.ID)
	req.Equal([]domain.Point{{X: 1, Y: 1}}, draw.Points)
	req.Equal(float64(4), draw.Width)
}

func TestNormalizeInboundWhiteboardOp_Malformed(t *testing.T) {
	cases := map[string]string{
		"no type":      `{"sessionId":"s","userId":"u","data":{}}`,
		"unknown type": `{"sessionId":"s","type":"fill","userId":"u","data":{}}`,
		"no user":      `{"sessionId":"s","type":"clear","data":{"id":"c"}}`,
		"no session":   `{"type":"clear","userId":"u","data":{"id":"c"}}`,
		"bad points":   `{"sessionId":"s","type":"draw","userId":"u","data":{"id":"d","points":"[{"}}`,
		"no targets":   `{"sessionId":"s","type":"erase","userId":"u","data":{"id":"e"}}`,
		"bad width":    `{"sessionId":"s","type":"draw","userId":"u","data":{"id":"d","points":"[]","width":"wide"}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NormalizeInboundWhiteboardOp([]byte(raw))
			require.ErrorIs(t, err, errors.ErrMalformedWirePayload)
		})
	}
}
