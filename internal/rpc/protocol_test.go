package rpc

import (
	"encoding/json"
	"testing"
)

func TestEnvelope_RequestRoundTrip(t *testing.T) {
	env, err := NewRequest(1, "session.create", map[string]string{"name": "work"})
	if err != nil {
		t.Fatal(err)
	}
	if !env.IsRequest() {
		t.Fatal("expected IsRequest true")
	}
	if env.IsNotification() || env.IsResponse() {
		t.Fatal("request must not also classify as notification or response")
	}

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	var decoded Envelope
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Method != "session.create" || decoded.ID == nil || *decoded.ID != 1 {
		t.Fatalf("unexpected decoded envelope: %+v", decoded)
	}
}

func TestEnvelope_NotificationHasNoID(t *testing.T) {
	env, err := NewNotification("pane.output", map[string]string{"pane_id": "p1"})
	if err != nil {
		t.Fatal(err)
	}
	if !env.IsNotification() {
		t.Fatal("expected IsNotification true")
	}
	if env.ID != nil {
		t.Fatal("notification must not carry an id")
	}
}

func TestEnvelope_ResultAndErrorResponses(t *testing.T) {
	ok := NewResult(5, json.RawMessage(`{"ok":true}`))
	if !ok.IsResponse() || ok.Error != nil {
		t.Fatalf("expected clean success response, got %+v", ok)
	}

	failed := NewError(5, CodeMethodNotFound, "unknown method")
	if !failed.IsResponse() || failed.Error == nil || failed.Error.Code != CodeMethodNotFound {
		t.Fatalf("expected error response, got %+v", failed)
	}
}

func TestMarshalParams_PassesThroughRawMessage(t *testing.T) {
	raw := json.RawMessage(`{"a":1}`)
	env, err := NewRequest(1, "x", raw)
	if err != nil {
		t.Fatal(err)
	}
	if string(env.Params) != `{"a":1}` {
		t.Fatalf("expected raw passthrough, got %s", env.Params)
	}
}
