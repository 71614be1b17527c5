package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pion/webrtc/v4"

	"github.com/matheus3301/wppdash/internal/bus"
	"github.com/matheus3301/wppdash/internal/call"
	"github.com/matheus3301/wppdash/internal/model"
	"github.com/matheus3301/wppdash/internal/notify"
	"github.com/matheus3301/wppdash/internal/reconcile"
	"github.com/matheus3301/wppdash/internal/registry"
)

type fakeProvider struct {
	createErr error
	logoutErr error
	snapshots map[string][]model.Message
}

func (f *fakeProvider) CreateSession(context.Context, string) error { return f.createErr }
func (f *fakeProvider) ListSessions(context.Context) ([]model.Session, error) {
	return nil, nil
}
func (f *fakeProvider) LogoutSession(context.Context, string) error { return f.logoutErr }
func (f *fakeProvider) ListConversations(context.Context, string) ([]model.Conversation, error) {
	return nil, nil
}
func (f *fakeProvider) ListMessages(_ context.Context, sessionID, convID string) ([]model.Message, error) {
	msgs := f.snapshots[sessionID+"/"+convID]
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	for i := range out {
		out[i].SessionID = sessionID
		out[i].ConversationID = convID
	}
	return out, nil
}

type nullEmitter struct{}

func (nullEmitter) EmitOffer(string, string, string, webrtc.SessionDescription) error { return nil }
func (nullEmitter) EmitAnswer(string, webrtc.SessionDescription) error                { return nil }
func (nullEmitter) EmitCandidate(string, webrtc.ICECandidateInit) error               { return nil }
func (nullEmitter) EmitEnd(string) error                                              { return nil }

type nullPC struct{}

func (nullPC) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "o"}, nil
}
func (nullPC) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "a"}, nil
}
func (nullPC) SetLocalDescription(webrtc.SessionDescription) error  { return nil }
func (nullPC) SetRemoteDescription(webrtc.SessionDescription) error { return nil }
func (nullPC) AddICECandidate(webrtc.ICECandidateInit) error        { return nil }
func (nullPC) OnICECandidate(func(*webrtc.ICECandidateInit))        {}
func (nullPC) OnConnected(func())                                   {}
func (nullPC) Close() error                                         { return nil }

type nullFactory struct{}

func (nullFactory) NewPeerConnection() (call.PeerConnection, error) { return nullPC{}, nil }

type nullMedia struct{ err error }

func (m nullMedia) Acquire(call.PeerConnection, bool) (func(), error) {
	if m.err != nil {
		return nil, m.err
	}
	return func() {}, nil
}

type fixture struct {
	router   chi.Router
	registry *registry.Registry
	bus      *bus.Bus
}

func setup(t *testing.T, fp *fakeProvider) *fixture {
	t.Helper()
	if fp == nil {
		fp = &fakeProvider{}
	}
	b := bus.New()
	reg := registry.New(fp, b, nil)
	rec := reconcile.New(fp, reg, b, nil, nil)
	calls := call.New(nullEmitter{}, nullFactory{}, nullMedia{}, b, nil)
	notices := notify.New(b, nil, time.Minute)
	h := New(reg, rec, calls, notices, NewStream(b, nil), nil)
	return &fixture{router: h.Router(), registry: reg, bus: b}
}

func doJSON(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestCreateSession(t *testing.T) {
	f := setup(t, nil)
	resp := doJSON(t, f.router, http.MethodPost, "/api/sessions", map[string]string{"sessionId": "work"})
	if resp.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", resp.Code, resp.Body)
	}
	if _, ok := f.registry.Get("work"); !ok {
		t.Error("session not registered")
	}
}

func TestCreateSessionInvalidName(t *testing.T) {
	f := setup(t, nil)
	resp := doJSON(t, f.router, http.MethodPost, "/api/sessions", map[string]string{"sessionId": "Bad Name!"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Code)
	}
}

func TestCreateSessionProviderRejects(t *testing.T) {
	f := setup(t, &fakeProvider{createErr: errors.New("backend down")})
	resp := doJSON(t, f.router, http.MethodPost, "/api/sessions", map[string]string{"sessionId": "work"})
	if resp.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.Code)
	}
	// The placeholder survives so the error state is visible.
	s, ok := f.registry.Get("work")
	if !ok || s.LastError == "" {
		t.Errorf("placeholder = %+v, want retained with error", s)
	}
}

func TestListSessions(t *testing.T) {
	f := setup(t, nil)
	doJSON(t, f.router, http.MethodPost, "/api/sessions", map[string]string{"sessionId": "work"})

	resp := doJSON(t, f.router, http.MethodGet, "/api/sessions", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}
	var sessions []model.Session
	if err := json.Unmarshal(resp.Body.Bytes(), &sessions); err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].ID != "work" {
		t.Errorf("sessions = %+v", sessions)
	}
}

func TestLogoutRequiresConfirmation(t *testing.T) {
	f := setup(t, nil)
	doJSON(t, f.router, http.MethodPost, "/api/sessions", map[string]string{"sessionId": "work"})

	resp := doJSON(t, f.router, http.MethodPost, "/api/sessions/work/logout", map[string]bool{"confirm": false})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Code)
	}

	resp = doJSON(t, f.router, http.MethodPost, "/api/sessions/work/logout", map[string]bool{"confirm": true})
	if resp.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", resp.Code, resp.Body)
	}
	// Removal waits for the provider's logged-out event.
	if _, ok := f.registry.Get("work"); !ok {
		t.Error("session removed before the provider acknowledged")
	}
}

func TestQREndpoint(t *testing.T) {
	f := setup(t, nil)
	doJSON(t, f.router, http.MethodPost, "/api/sessions", map[string]string{"sessionId": "work"})

	resp := doJSON(t, f.router, http.MethodGet, "/api/sessions/work/qr.png", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 before a code is issued", resp.Code)
	}

	f.registry.SetQR("work", "pairing-data")
	resp = doJSON(t, f.router, http.MethodGet, "/api/sessions/work/qr.png", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.Code, resp.Body)
	}
	if ct := resp.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content-type = %s", ct)
	}
	if resp.Body.Len() == 0 {
		t.Error("empty png body")
	}
}

func TestConversationFlow(t *testing.T) {
	fp := &fakeProvider{snapshots: map[string][]model.Message{
		"s1/c1": {
			{ID: "m1", Body: "first", Timestamp: 1000},
			{ID: "m2", Body: "second", Timestamp: 2000},
		},
	}}
	f := setup(t, fp)

	resp := doJSON(t, f.router, http.MethodPost, "/api/sessions/s1/conversations/c1/select", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.Code, resp.Body)
	}
	var msgs []model.Message
	if err := json.Unmarshal(resp.Body.Bytes(), &msgs); err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m1" {
		t.Errorf("messages = %+v", msgs)
	}

	resp = doJSON(t, f.router, http.MethodGet, "/api/sessions/s1/conversations", nil)
	var convs []model.Conversation
	if err := json.Unmarshal(resp.Body.Bytes(), &convs); err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 || convs[0].ID != "c1" {
		t.Errorf("conversations = %+v", convs)
	}

	resp = doJSON(t, f.router, http.MethodGet, "/api/sessions/s1/conversations/c1/messages", nil)
	msgs = nil
	if err := json.Unmarshal(resp.Body.Bytes(), &msgs); err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestCallControl(t *testing.T) {
	f := setup(t, nil)

	resp := doJSON(t, f.router, http.MethodGet, "/api/call/", nil)
	var info call.Info
	if err := json.Unmarshal(resp.Body.Bytes(), &info); err != nil {
		t.Fatal(err)
	}
	if info.Phase != call.Idle {
		t.Errorf("phase = %s, want idle", info.Phase)
	}

	resp = doJSON(t, f.router, http.MethodPost, "/api/call/start", map[string]any{"peerId": "p1", "name": "Peer", "video": true})
	if resp.Code != http.StatusOK {
		t.Fatalf("start status = %d: %s", resp.Code, resp.Body)
	}

	// A second start conflicts; the first call is untouched.
	resp = doJSON(t, f.router, http.MethodPost, "/api/call/start", map[string]any{"peerId": "p2"})
	if resp.Code != http.StatusConflict {
		t.Fatalf("second start status = %d, want 409", resp.Code)
	}

	resp = doJSON(t, f.router, http.MethodPost, "/api/call/end", nil)
	if resp.Code != http.StatusOK {
		t.Fatal("end failed")
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &info); err != nil {
		t.Fatal(err)
	}
	if info.Phase != call.Idle {
		t.Errorf("phase after end = %s, want idle", info.Phase)
	}
}

func TestStartCallWithoutPeer(t *testing.T) {
	f := setup(t, nil)
	resp := doJSON(t, f.router, http.MethodPost, "/api/call/start", map[string]any{"name": "x"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Code)
	}
}

func TestAcceptWithoutPendingCall(t *testing.T) {
	f := setup(t, nil)
	resp := doJSON(t, f.router, http.MethodPost, "/api/call/accept", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.Code)
	}
}

func TestNoticeEndpoints(t *testing.T) {
	f := setup(t, nil)

	resp := doJSON(t, f.router, http.MethodGet, "/api/notice/", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}
	var body struct {
		Notice *model.Notification `json:"notice"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Notice != nil {
		t.Errorf("notice = %+v, want nil", body.Notice)
	}

	resp = doJSON(t, f.router, http.MethodPost, "/api/notice/dismiss", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("dismiss status = %d", resp.Code)
	}
}
