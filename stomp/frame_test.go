package stomp

import (
	"bytes"
	"testing"
)

func TestConnectFrameWireShape(t *testing.T) {
	want := "CONNECT\naccept-version:1.2\nhost:/\n\n\x00"
	got := connectFrame().Marshal()
	if string(got) != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestSubscribeFrameWireShape(t *testing.T) {
	want := "SUBSCRIBE\ndestination:/topic/FileLocation_uci\nid:sub-0\nack:auto\n\n\x00"
	got := subscribeFrame("FileLocation_uci").Marshal()
	if string(got) != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestSendFrameWireShape(t *testing.T) {
	body := []byte(`{"key":"value"}`)
	want := "SEND\ndestination:/topic/Entity_uci\ncontent-type:application/json\ncontent-length:15\n\n" +
		`{"key":"value"}` + "\x00"
	got := sendFrame("Entity_uci", body).Marshal()
	if string(got) != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestParseMessageFrame(t *testing.T) {
	raw := []byte("MESSAGE\ndestination:/topic/FileLocation_uci\nsubscription:sub-0\n\n" +
		`{"FileLocation":{}}` + "\x00")

	frame, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if frame.Command != "MESSAGE" {
		t.Errorf("expected MESSAGE command, got %q", frame.Command)
	}
	if got := frame.Header("destination"); got != "/topic/FileLocation_uci" {
		t.Errorf("unexpected destination header: %q", got)
	}
	if !bytes.Equal(frame.Body, []byte(`{"FileLocation":{}}`)) {
		t.Errorf("unexpected body: %q", frame.Body)
	}
}

func TestParseStripsTrailingNulOnly(t *testing.T) {
	withNul, err := Parse([]byte("MESSAGE\nh:v\n\nbody\x00"))
	if err != nil {
		t.Fatal(err)
	}
	withoutNul, err := Parse([]byte("MESSAGE\nh:v\n\nbody"))
	if err != nil {
		t.Fatal(err)
	}
	if string(withNul.Body) != "body" || string(withoutNul.Body) != "body" {
		t.Errorf("expected body %q with and without sentinel, got %q / %q",
			"body", withNul.Body, withoutNul.Body)
	}
}

func TestParseHeaderlessFrame(t *testing.T) {
	frame, err := Parse([]byte("CONNECTED\n\n\x00"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if frame.Command != "CONNECTED" {
		t.Errorf("expected CONNECTED, got %q", frame.Command)
	}
	if len(frame.Body) != 0 {
		t.Errorf("expected empty body, got %q", frame.Body)
	}
}

func TestParseEmptyFrame(t *testing.T) {
	if _, err := Parse(nil); err == nil {
		t.Error("expected error for empty frame")
	}
}
