package rtmp

import "testing"

func TestAMF0ScalarRoundTrip(t *testing.T) {
	var buf []byte
	buf = EncodeString(buf, "connect")
	buf = EncodeNumber(buf, 1)
	buf = EncodeBoolean(buf, true)
	buf = EncodeNull(buf)

	values, err := DecodeAll(buf)
	if err != nil {
		t.Fatalf("DecodeAll failed: %v", err)
	}
	if len(values) != 4 {
		t.Fatalf("expected 4 values, got %d", len(values))
	}
	if values[0].(string) != "connect" {
		t.Fatalf("value 0 = %v, want connect", values[0])
	}
	if values[1].(float64) != 1 {
		t.Fatalf("value 1 = %v, want 1", values[1])
	}
	if values[2].(bool) != true {
		t.Fatalf("value 2 = %v, want true", values[2])
	}
	if values[3] != nil {
		t.Fatalf("value 3 = %v, want nil", values[3])
	}
}

func TestAMF0ObjectRoundTrip(t *testing.T) {
	var buf []byte
	var appVal []byte
	appVal = EncodeString(appVal, "live")
	buf = EncodeObject(buf, ObjectField{Key: "app", Value: appVal})

	values, err := DecodeAll(buf)
	if err != nil {
		t.Fatalf("DecodeAll failed: %v", err)
	}
	obj, ok := values[0].(map[string]Value)
	if !ok {
		t.Fatalf("expected object, got %T", values[0])
	}
	if obj["app"] != "live" {
		t.Fatalf("app = %v, want live", obj["app"])
	}
}

func TestAMF0DecodeTruncatedErrors(t *testing.T) {
	if _, err := DecodeAll([]byte{amf0String, 0x00}); err == nil {
		t.Fatal("expected error decoding truncated string")
	}
}
