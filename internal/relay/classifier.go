package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/pscheid92/keyrelay/internal/domain"
	"github.com/samber/lo"
)

// UsageHelp is sent verbatim to a connection whose frame fails the schema check.
const UsageHelp = `invalid message format, correct format is
{
    "key": "key",
    "message": "message",
    "master": true/false,
    "canAnswer": true/false,
    "messageId"?: "optional, identifies a question in canAnswer groups",
    "answer"?: "optional, only for answering slaves"
}`

// wireMessage mirrors the inbound JSON. Pointers distinguish absent fields from zero values.
type wireMessage struct {
	Key       *string `json:"key" validate:"required"`
	Message   *string `json:"message" validate:"required"`
	Master    *bool   `json:"master" validate:"required"`
	CanAnswer *bool   `json:"canAnswer" validate:"required"`
	MessageID *string `json:"messageId"`
	Answer    *string `json:"answer"`
}

var validate = newValidator()

var errInvalidEncoding = errors.New("frame is not valid UTF-8")

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Parse validates an inbound frame and converts it into a Message.
// A frame that is not UTF-8, not a JSON object or lacks a required field yields a
// *domain.MalformedMessageError.
func Parse(frame []byte) (domain.Message, error) {
	// encoding/json would map invalid bytes to U+FFFD and merge distinct keys.
	if !utf8.Valid(frame) {
		return domain.Message{}, &domain.MalformedMessageError{Cause: errInvalidEncoding}
	}

	var wire wireMessage
	if err := json.Unmarshal(frame, &wire); err != nil {
		return domain.Message{}, &domain.MalformedMessageError{Cause: err}
	}

	if err := validate.Struct(wire); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return domain.Message{}, &domain.MalformedMessageError{Cause: err}
		}
		missing := lo.Map(fieldErrs, func(fe validator.FieldError, _ int) string { return fe.Field() })
		return domain.Message{}, &domain.MalformedMessageError{Missing: missing}
	}

	return domain.Message{
		Key:       *wire.Key,
		Text:      *wire.Message,
		IsMaster:  *wire.Master,
		CanAnswer: *wire.CanAnswer,
		MessageID: lo.FromPtr(wire.MessageID),
		Answer:    lo.FromPtr(wire.Answer),
		Payload:   bytes.Clone(frame),
	}, nil
}

// route selects one of the four ingress handlers.
type route int

const (
	routeBroadcastMaster route = iota
	routeBroadcastSlave
	routeArbitratedMaster
	routeArbitratedSlave
)

func classify(msg domain.Message) route {
	switch {
	case msg.CanAnswer && msg.IsMaster:
		return routeArbitratedMaster
	case msg.CanAnswer:
		return routeArbitratedSlave
	case msg.IsMaster:
		return routeBroadcastMaster
	default:
		return routeBroadcastSlave
	}
}

func (r route) role() string {
	if r == routeBroadcastMaster || r == routeArbitratedMaster {
		return "master"
	}
	return "slave"
}
