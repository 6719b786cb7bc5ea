package chat

import (
	"encoding/json"
	stderrors "errors"

	"github.com/ntpoppe/sharply-sub000/tools/decode"
	"github.com/ntpoppe/sharply-sub000/tools/errs"
)

// Frame types on the websocket wire. Clients send join/leave/send/ping;
// the gateway sends message/roster/history/error/pong.
const (
	FrameJoin    = "join"
	FrameLeave   = "leave"
	FrameSend    = "send"
	FramePing    = "ping"
	FramePong    = "pong"
	FrameMessage = "message"
	FrameRoster  = "roster"
	FrameError   = "error"
)

type Frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type JoinPayload struct {
	ChannelID string `json:"channel_id"`
}

type LeavePayload struct {
	ChannelID string `json:"channel_id"`
}

type SendPayload struct {
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
}

// MessagePayload is the "message delivered" notification, scoped to a
// channel's subscribers.
type MessagePayload struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	SenderID  string `json:"sender_id"`
	Username  string `json:"username"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // unix ms, UTC
}

// RosterPayload is the "roster changed" notification, broadcast to
// every connection regardless of channel.
type RosterPayload struct {
	Users []RosterEntry `json:"users"`
}

type RosterEntry struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type ErrorPayload struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// ParseFrame decodes an inbound frame envelope. The payload stays a
// generic map until the handler picks a type via FramePayload.
func ParseFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errs.WrapMsg(err, "unmarshal frame")
	}
	if f.Type == "" {
		return nil, errs.New("frame missing type")
	}
	return &f, nil
}

// FramePayload decodes a parsed frame's payload into a typed struct.
func FramePayload[T any](f *Frame) (*T, error) {
	m, ok := f.Payload.(map[string]any)
	if !ok {
		return nil, errs.New("frame payload missing", "type", f.Type)
	}
	return decode.Struct[T](m)
}

func MarshalFrame(typ string, payload any) []byte {
	b, err := json.Marshal(Frame{Type: typ, Payload: payload})
	if err != nil {
		// payloads are plain structs; a marshal failure is a programming error
		panic(err)
	}
	return b
}

func BuildMessageFrame(m *Message, username string) []byte {
	return MarshalFrame(FrameMessage, MessagePayload{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		SenderID:  m.SenderID,
		Username:  username,
		Content:   m.Content,
		Timestamp: m.Timestamp.UnixMilli(),
	})
}

func BuildRosterFrame(entries []RosterEntry) []byte {
	if entries == nil {
		entries = []RosterEntry{}
	}
	return MarshalFrame(FrameRoster, RosterPayload{Users: entries})
}

func BuildErrorFrame(err error) []byte {
	var ce *errs.CodeError
	if !stderrors.As(err, &ce) {
		ce = errs.NewCodeError(500, err.Error())
	}
	return BuildErrorFramePayload(ce.Code, ce.Msg)
}

func BuildErrorFramePayload(code int, msg string) []byte {
	return MarshalFrame(FrameError, ErrorPayload{Code: code, Msg: msg})
}
