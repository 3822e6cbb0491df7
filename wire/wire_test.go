package wire

import (
	"reflect"
	"testing"
)

func TestEncodeMsgWithTwoParams(t *testing.T) {
	got := Encode(Msg, 7, []string{"a", "b"})
	want := "2 7\x02a\x03b\x03\n"
	if string(got) != want {
		t.Fatalf("Encode() = %q, want %q", got, want)
	}
}

func TestEncodeStringParam(t *testing.T) {
	got := Encode(StartInit, 4242, "some-agent")
	want := "6 4242\x02some-agent\n"
	if string(got) != want {
		t.Fatalf("Encode() = %q, want %q", got, want)
	}
}

func TestEncodeNoParams(t *testing.T) {
	got := Encode(EndInit, 0, nil)
	want := "5 0\x02\n"
	if string(got) != want {
		t.Fatalf("Encode() = %q, want %q", got, want)
	}
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		msgType MessageType
		numID   int
		params  []string
	}{
		{"msg-two-params", Msg, 7, []string{"a", "b"}},
		{"msg-no-params", Msg, 1, nil},
		{"add-regexp", AddRegexp, 3, []string{"^hello (.*)$"}},
		{"bye", Bye, 0, nil},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var params interface{}
			if c.params != nil {
				params = c.params
			}
			encoded := Encode(c.msgType, c.numID, params)
			line := string(encoded)
			line = line[:len(line)-1] // strip trailing \n, Decode takes one line
			gotType, gotID, gotParams, err := Decode(line)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if gotType != c.msgType || gotID != c.numID {
				t.Fatalf("Decode() = (%v, %v), want (%v, %v)", gotType, gotID, c.msgType, c.numID)
			}
			if len(c.params) == 0 && len(gotParams) == 0 {
				return
			}
			if !reflect.DeepEqual(gotParams, c.params) {
				t.Fatalf("Decode() params = %#v, want %#v", gotParams, c.params)
			}
		})
	}
}

func TestDecodeMsgMissingTrailingETX(t *testing.T) {
	// ivy-c tolerates a missing trailing ETX on MSG payloads: the payload
	// is still split, the caller is told it was malformed so it can log.
	_, _, params, err := Decode("2 1\x02hello\x03world")
	if err == nil {
		t.Fatal("expected a malformed-message error for missing trailing ETX")
	}
	want := []string{"hello", "world"}
	if !reflect.DeepEqual(params, want) {
		t.Fatalf("params = %#v, want %#v", params, want)
	}
}

func TestDecodeMsgSingleParamNoETX(t *testing.T) {
	_, _, params, err := Decode("2 1\x02hello")
	if err == nil {
		t.Fatal("expected a malformed-message error")
	}
	want := []string{"hello"}
	if !reflect.DeepEqual(params, want) {
		t.Fatalf("params = %#v, want %#v", params, want)
	}
}

func TestDecodeMissingSTX(t *testing.T) {
	if _, _, _, err := Decode("2 1 nostx"); err == nil {
		t.Fatal("expected error for missing STX separator")
	}
}

func TestDecodeNonIntegerType(t *testing.T) {
	if _, _, _, err := Decode("x 1\x02"); err == nil {
		t.Fatal("expected error for non-integer message type")
	}
}

func TestDecodeEmptyPayloadYieldsNoParams(t *testing.T) {
	_, _, params, err := Decode("5 0\x02")
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(params) != 0 {
		t.Fatalf("params = %#v, want empty", params)
	}
}
