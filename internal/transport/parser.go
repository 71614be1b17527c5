package transport

import (
	"encoding/json"
	"fmt"

	"github.com/matheus3301/wppdash/internal/bus"
	"github.com/matheus3301/wppdash/internal/model"
)

// Inbound wire event names, matching what the provider backend emits.
const (
	evStatusUpdate     = "status_update"
	evQRCode           = "qr_code"
	evClientReady      = "client_ready"
	evClientAuth       = "client_authenticated"
	evClientDisconnect = "client_disconnected"
	evClientLoggedOut  = "client_logged_out"
	evMessageReceived  = "message_received"
	evMessageAck       = "message_ack"
	evProviderCall     = "whatsapp_incoming_call"
	evCallUser         = "callUser"
	evCallAccepted     = "callAccepted"
	evCallEnded        = "callEnded"
	evIceCandidate     = "ice-candidate"
)

// decodeEvent maps one named wire event to a typed bus event. Unknown names
// return a zero event with no error; they are dropped, not failures, so the
// backend can add event types without breaking older daemons.
func decodeEvent(name string, data json.RawMessage) (bus.Event, error) {
	switch name {
	case evStatusUpdate:
		var p model.StatusChange
		if err := unmarshal(data, &p); err != nil {
			return bus.Event{}, err
		}
		return bus.Event{Kind: bus.KindProviderStatus, Session: p.SessionID, Payload: p}, nil

	case evClientReady, evClientAuth, evClientDisconnect:
		// Shorthand frames that carry only the session and optional user
		// info; the state is implied by the event name.
		var p model.StatusChange
		if err := unmarshal(data, &p); err != nil {
			return bus.Event{}, err
		}
		switch name {
		case evClientReady:
			p.State = model.StateReady
		case evClientAuth:
			p.State = model.StateAuthenticated
		case evClientDisconnect:
			p.State = model.StateDisconnected
		}
		return bus.Event{Kind: bus.KindProviderStatus, Session: p.SessionID, Payload: p}, nil

	case evQRCode:
		var p model.QRCode
		if err := unmarshal(data, &p); err != nil {
			return bus.Event{}, err
		}
		return bus.Event{Kind: bus.KindProviderQR, Session: p.SessionID, Payload: p}, nil

	case evClientLoggedOut:
		var p model.LoggedOut
		if err := unmarshal(data, &p); err != nil {
			return bus.Event{}, err
		}
		return bus.Event{Kind: bus.KindProviderLoggedOut, Session: p.SessionID, Payload: p}, nil

	case evMessageReceived:
		var p model.MessageEvent
		if err := unmarshal(data, &p); err != nil {
			return bus.Event{}, err
		}
		return bus.Event{Kind: bus.KindProviderMessage, Session: p.SessionID, Payload: p}, nil

	case evMessageAck:
		var p model.DeliveryAck
		if err := unmarshal(data, &p); err != nil {
			return bus.Event{}, err
		}
		return bus.Event{Kind: bus.KindProviderAck, Session: p.SessionID, Payload: p}, nil

	case evProviderCall:
		var p model.ProviderCallAlert
		if err := unmarshal(data, &p); err != nil {
			return bus.Event{}, err
		}
		return bus.Event{Kind: bus.KindProviderCallAlert, Session: p.SessionID, Payload: p}, nil

	case evCallUser:
		var p model.CallOffer
		if err := unmarshal(data, &p); err != nil {
			return bus.Event{}, err
		}
		return bus.Event{Kind: bus.KindSignalOffer, Payload: p}, nil

	case evCallAccepted:
		var p model.CallAnswer
		if err := unmarshal(data, &p); err != nil {
			return bus.Event{}, err
		}
		return bus.Event{Kind: bus.KindSignalAnswer, Payload: p}, nil

	case evIceCandidate:
		var p model.IceCandidate
		if err := unmarshal(data, &p); err != nil {
			return bus.Event{}, err
		}
		return bus.Event{Kind: bus.KindSignalCandidate, Payload: p}, nil

	case evCallEnded:
		var p model.CallEnd
		if err := unmarshal(data, &p); err != nil {
			return bus.Event{}, err
		}
		return bus.Event{Kind: bus.KindSignalEnded, Payload: p}, nil
	}

	return bus.Event{}, nil
}

func unmarshal(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("empty payload")
	}
	return json.Unmarshal(data, v)
}
