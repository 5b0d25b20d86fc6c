package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Inbound events.
const (
	evRegisterUser      = "register-user"
	evJoinedRoom        = "joined-room"
	evMessage           = "message"
	evMarkMessagesRead  = "mark-messages-read"
	evOutgoingVideoCall = "outgoing-video-call"
	evAcceptIncoming    = "accept-incoming-call"
	evRejectCall        = "reject-call"
	evPing              = "ping"
)

// Outbound events.
const (
	evGetOnlineUsers    = "getOnlineUsers"
	evJoinedRoomAck     = "joined-room-ack"
	evNewMessage        = "new-message"
	evNewBadge          = "newBadge"
	evIncomingVideoCall = "incoming-video-call"
	evTutorCallAccept   = "tutor-call-accept"
	evCallEnded         = "call-ended"
	evMessageRead       = "message-read"
	evError             = "error"
)

type wsEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type registerUserData struct {
	UserID string `json:"userId" validate:"required"`
	Role   string `json:"role" validate:"required"`
}

type messageData struct {
	RoomID      string     `json:"roomId" validate:"required"`
	ReceiverID  string     `json:"recieverId" validate:"required"`
	SenderID    string     `json:"senderId" validate:"required"`
	Message     string     `json:"message" validate:"required"`
	MessageTime *Timestamp `json:"message_time" validate:"required"`
	MessageType string     `json:"message_type,omitempty"`
	IsRead      bool       `json:"isRead,omitempty"`
}

type markReadData struct {
	ChatID string `json:"chatId" validate:"required"`
	UserID string `json:"userId" validate:"required"`
}

type outgoingCallData struct {
	To           string `json:"to" validate:"required"`
	From         string `json:"from" validate:"required"`
	TutorName    string `json:"tutorName,omitempty"`
	TutorImage   string `json:"tutorImage,omitempty"`
	StudentName  string `json:"studentName,omitempty"`
	StudentImage string `json:"studentImage,omitempty"`
	CallType     string `json:"callType" validate:"required"`
	RoomID       string `json:"roomId" validate:"required"`
}

type acceptCallData struct {
	To     string `json:"to" validate:"required"`
	From   string `json:"from" validate:"required"`
	RoomID string `json:"roomId" validate:"required"`
}

type rejectCallData struct {
	To     string `json:"to" validate:"required"`
	Sender string `json:"sender" validate:"required"`
	Name   string `json:"name,omitempty"`
	From   string `json:"from,omitempty"`
}

type roomAckData struct {
	RoomID string `json:"roomId"`
}

type badgeData struct {
	ChatID    string `json:"chatId"`
	SenderID  string `json:"senderId"`
	MessageID string `json:"messageId"`
	Message   string `json:"message"`
	Type      string `json:"message_type"`
}

type incomingCallData struct {
	CallID       string `json:"callId,omitempty"`
	From         string `json:"from"`
	To           string `json:"to"`
	TutorID      string `json:"tutorId"`
	TutorName    string `json:"tutorName"`
	TutorImage   string `json:"tutorImage"`
	StudentName  string `json:"studentName"`
	StudentImage string `json:"studentImage"`
	CallType     string `json:"callType"`
	RoomID       string `json:"roomId"`
}

type callAcceptData struct {
	RoomID  string `json:"roomId"`
	From    string `json:"from"`
	TutorID string `json:"tutorId"`
}

type callRejectData struct {
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Reason  string `json:"reason"`
	Missing string `json:"missing,omitempty"`
}

type messageReadData struct {
	ChatID  string `json:"chatId"`
	UserID  string `json:"userId"`
	Updated int64  `json:"updated"`
}

// Timestamp accepts RFC 3339 strings and unix milliseconds.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		// Left zero so validation reports the field as missing.
		return nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return timestampTypeError(s)
	}
	parsed, err := time.Parse(time.RFC3339Nano, str)
	if err != nil {
		return timestampTypeError("string")
	}
	t.Time = parsed
	return nil
}

// timestampTypeError is returned unwrapped so the decoder fills in the JSON key
// of the offending field.
func timestampTypeError(value string) error {
	return &json.UnmarshalTypeError{Value: value, Type: reflect.TypeOf(Timestamp{})}
}

// eventError is reported back to the originating connection as an "error" event.
type eventError struct {
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
}

func (e *eventError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(e.Fields, ", ")
}

func newEventError(format string, args ...any) *eventError {
	return &eventError{Message: fmt.Sprintf(format, args...)}
}

// errProtocol terminates the connection without an error event.
var errProtocol = errors.New("protocol violation")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if ts, ok := field.Interface().(Timestamp); ok && !ts.IsZero() {
			return ts.Time
		}
		return nil
	}, Timestamp{})
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeEvent unmarshals data into dst and checks required fields. Missing fields are
// reported by their wire names.
func decodeEvent(data json.RawMessage, dst any) error {
	if len(data) == 0 || string(data) == "null" {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return newEventError("Malformed payload")
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return &eventError{Message: "Invalid field type", Fields: []string{typeErr.Field}}
		}
		return &eventError{Message: "Invalid payload: " + err.Error()}
	}

	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field())
		}
		return &eventError{Message: "Missing required fields", Fields: fields}
	}
	return nil
}

func encodeEvent(event string, data any) []byte {
	msg, _ := json.Marshal(wsEnvelope{Event: event, Data: mustMarshal(data)})
	return msg
}

func mustMarshal(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
