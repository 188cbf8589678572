// Package bridge relays polling between the UI process and the long-lived daemon.
//
// The UI sends commands (start-polling, stop-polling, status) and the daemon
// answers with events. Every polling operation ends with exactly one of
// auth-success, auth-error, auth-timeout or auth-cancelled, tagged with the
// operation ID chosen by the UI.
package bridge

import (
	"errors"

	"github.com/waabox/devicelink/internal/auth"
	"github.com/waabox/devicelink/internal/domain"
)

// MessageType names a command or an event.
type MessageType string

const (
	CmdStartPolling MessageType = "start-polling"
	CmdStopPolling  MessageType = "stop-polling"
	CmdStatus       MessageType = "status"

	EvtAuthSuccess   MessageType = "auth-success"
	EvtAuthError     MessageType = "auth-error"
	EvtAuthTimeout   MessageType = "auth-timeout"
	EvtAuthCancelled MessageType = "auth-cancelled"
	EvtStatus        MessageType = "status-report"
)

// Message is the single wire type in both directions.
type Message struct {
	Type       MessageType               `json:"type"`
	OpID       string                    `json:"op_id,omitempty"`
	DeviceCode string                    `json:"device_code,omitempty"`
	Interval   int                       `json:"interval,omitempty"`
	ExpiresIn  int                       `json:"expires_in,omitempty"`
	Token      string                    `json:"token,omitempty"`
	User       *domain.AuthenticatedUser `json:"user,omitempty"`
	Error      string                    `json:"error,omitempty"`
	ErrorKind  domain.ErrorKind          `json:"error_kind,omitempty"`
	Polling    bool                      `json:"polling,omitempty"`
}

// Terminal reports whether m ends a polling operation.
func (m Message) Terminal() bool {
	switch m.Type {
	case EvtAuthSuccess, EvtAuthError, EvtAuthTimeout, EvtAuthCancelled:
		return true
	}
	return false
}

func startMessage(opID string, s domain.DeviceFlowSession) Message {
	return Message{
		Type:       CmdStartPolling,
		OpID:       opID,
		DeviceCode: s.DeviceCode,
		Interval:   s.Interval,
		ExpiresIn:  s.ExpiresIn,
	}
}

func (m Message) session() domain.DeviceFlowSession {
	return domain.DeviceFlowSession{
		DeviceCode: m.DeviceCode,
		Interval:   m.Interval,
		ExpiresIn:  m.ExpiresIn,
	}
}

// eventFor converts a poll result into the event sent to the UI.
func eventFor(opID string, res auth.Result) Message {
	switch res.Outcome {
	case auth.Succeeded:
		return Message{Type: EvtAuthSuccess, OpID: opID, Token: res.Token, User: res.User}
	case auth.TimedOut:
		return Message{Type: EvtAuthTimeout, OpID: opID}
	case auth.Cancelled:
		return Message{Type: EvtAuthCancelled, OpID: opID}
	}
	msg := Message{Type: EvtAuthError, OpID: opID, ErrorKind: domain.KindOf(res.Err)}
	if res.Err != nil {
		msg.Error = res.Err.Error()
	}
	return msg
}

// resultFor converts a terminal event back into a poll result.
func resultFor(m Message) auth.Result {
	switch m.Type {
	case EvtAuthSuccess:
		return auth.Result{Outcome: auth.Succeeded, Token: m.Token, User: m.User}
	case EvtAuthTimeout:
		return auth.Result{Outcome: auth.TimedOut, Err: domain.NewAuthError(domain.KindTimeout, errors.New("reported by daemon"))}
	case EvtAuthCancelled:
		return auth.Result{Outcome: auth.Cancelled}
	}
	kind := m.ErrorKind
	if kind == "" {
		kind = domain.KindTransportError
	}
	return auth.Result{Outcome: auth.Failed, Err: domain.NewAuthError(kind, errors.New(m.Error))}
}
