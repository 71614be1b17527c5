package transport

import (
	"encoding/json"
	"testing"

	"github.com/matheus3301/wppdash/internal/bus"
	"github.com/matheus3301/wppdash/internal/model"
)

func TestDecodeStatusUpdate(t *testing.T) {
	data := json.RawMessage(`{"sessionId":"s1","status":"ready","userInfo":{"pushname":"Alice"}}`)
	evt, err := decodeEvent(evStatusUpdate, data)
	if err != nil {
		t.Fatal(err)
	}
	if evt.Kind != bus.KindProviderStatus || evt.Session != "s1" {
		t.Errorf("event = %+v", evt)
	}
	p := evt.Payload.(model.StatusChange)
	if p.State != model.StateReady || p.UserInfo == nil || p.UserInfo.Pushname != "Alice" {
		t.Errorf("payload = %+v", p)
	}
}

func TestDecodeShorthandStates(t *testing.T) {
	tests := []struct {
		name string
		want model.SessionState
	}{
		{evClientReady, model.StateReady},
		{evClientAuth, model.StateAuthenticated},
		{evClientDisconnect, model.StateDisconnected},
	}
	for _, tt := range tests {
		evt, err := decodeEvent(tt.name, json.RawMessage(`{"sessionId":"s1"}`))
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		p := evt.Payload.(model.StatusChange)
		if p.State != tt.want {
			t.Errorf("%s: state = %s, want %s", tt.name, p.State, tt.want)
		}
	}
}

func TestDecodeQRCode(t *testing.T) {
	evt, err := decodeEvent(evQRCode, json.RawMessage(`{"sessionId":"s1","qr":"QRDATA"}`))
	if err != nil {
		t.Fatal(err)
	}
	p := evt.Payload.(model.QRCode)
	if evt.Kind != bus.KindProviderQR || p.QR != "QRDATA" {
		t.Errorf("event = %+v payload = %+v", evt, p)
	}
}

func TestDecodeLoggedOut(t *testing.T) {
	evt, err := decodeEvent(evClientLoggedOut, json.RawMessage(`{"sessionId":"s1","reason":"revoked"}`))
	if err != nil {
		t.Fatal(err)
	}
	p := evt.Payload.(model.LoggedOut)
	if evt.Kind != bus.KindProviderLoggedOut || p.Reason != "revoked" {
		t.Errorf("event = %+v payload = %+v", evt, p)
	}
}

func TestDecodeMessageReceived(t *testing.T) {
	data := json.RawMessage(`{
		"sessionId": "s1",
		"chatName": "Family",
		"isGroup": true,
		"message": {
			"id": "m1",
			"chatId": "c1",
			"fromMe": false,
			"body": "hello",
			"type": "chat",
			"timestamp": 1700000000,
			"ack": 1,
			"sender": {"pushname": "Alice"}
		}
	}`)
	evt, err := decodeEvent(evMessageReceived, data)
	if err != nil {
		t.Fatal(err)
	}
	p := evt.Payload.(model.MessageEvent)
	if p.Message.ID != "m1" || p.Message.ConversationID != "c1" || !p.IsGroup {
		t.Errorf("payload = %+v", p)
	}
	if p.Message.Delivery != model.DeliverySent {
		t.Errorf("delivery = %d", p.Message.Delivery)
	}
}

func TestDecodeMessageAck(t *testing.T) {
	evt, err := decodeEvent(evMessageAck, json.RawMessage(`{"sessionId":"s1","msgId":"m1","ack":3}`))
	if err != nil {
		t.Fatal(err)
	}
	p := evt.Payload.(model.DeliveryAck)
	if p.Ack != model.DeliveryRead {
		t.Errorf("ack = %d, want %d", p.Ack, model.DeliveryRead)
	}
}

func TestDecodeProviderCall(t *testing.T) {
	evt, err := decodeEvent(evProviderCall, json.RawMessage(`{"sessionId":"s1","from":"+55119999","isVideo":true}`))
	if err != nil {
		t.Fatal(err)
	}
	p := evt.Payload.(model.ProviderCallAlert)
	if evt.Kind != bus.KindProviderCallAlert || !p.IsVideo {
		t.Errorf("event = %+v payload = %+v", evt, p)
	}
}

func TestDecodeSignaling(t *testing.T) {
	offer, err := decodeEvent(evCallUser, json.RawMessage(`{"from":"p1","name":"Peer","signal":{"type":"offer","sdp":"v=0"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if offer.Kind != bus.KindSignalOffer {
		t.Errorf("kind = %s", offer.Kind)
	}
	if p := offer.Payload.(model.CallOffer); p.From != "p1" || p.Signal.SDP != "v=0" {
		t.Errorf("payload = %+v", p)
	}

	answer, err := decodeEvent(evCallAccepted, json.RawMessage(`{"signal":{"type":"answer","sdp":"v=0"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if answer.Kind != bus.KindSignalAnswer {
		t.Errorf("kind = %s", answer.Kind)
	}

	cand, err := decodeEvent(evIceCandidate, json.RawMessage(`{"candidate":{"candidate":"candidate:1 1 udp"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if cand.Kind != bus.KindSignalCandidate {
		t.Errorf("kind = %s", cand.Kind)
	}

	end, err := decodeEvent(evCallEnded, json.RawMessage(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if end.Kind != bus.KindSignalEnded {
		t.Errorf("kind = %s", end.Kind)
	}
}

func TestDecodeUnknownEventDropped(t *testing.T) {
	evt, err := decodeEvent("future_event", json.RawMessage(`{"sessionId":"s1"}`))
	if err != nil {
		t.Fatal(err)
	}
	if evt.Kind != "" {
		t.Errorf("unknown event decoded to %+v", evt)
	}
}

func TestDecodeMalformedPayload(t *testing.T) {
	if _, err := decodeEvent(evStatusUpdate, json.RawMessage(`{not json`)); err == nil {
		t.Error("malformed payload should error")
	}
	if _, err := decodeEvent(evStatusUpdate, nil); err == nil {
		t.Error("empty payload should error")
	}
}
