package postgres

import (
	"testing"

	"github.com/sharplines/odds-fabric/internal/domain/job"
)

func TestMarshalPayloadNil(t *testing.T) {
	t.Parallel()

	raw, err := marshalPayload(nil)
	if err != nil {
		t.Fatalf("marshalPayload: %v", err)
	}
	if raw != "{}" {
		t.Fatalf("raw = %q, want empty object", raw)
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	t.Parallel()

	in := job.Payload{"sport": "nba", "props_only": true}
	raw, err := marshalPayload(in)
	if err != nil {
		t.Fatalf("marshalPayload: %v", err)
	}

	out, err := unmarshalPayload(raw)
	if err != nil {
		t.Fatalf("unmarshalPayload: %v", err)
	}
	if out["sport"] != "nba" || out["props_only"] != true {
		t.Fatalf("payload = %v", out)
	}
}

func TestOptionalString(t *testing.T) {
	t.Parallel()

	if optionalString("   ") != nil {
		t.Fatal("blank string must map to nil")
	}
	got := optionalString(" boom ")
	if got == nil || *got != "boom" {
		t.Fatalf("got %v, want trimmed value", got)
	}
	if stringValue(nil) != "" {
		t.Fatal("nil must read back as empty")
	}
}
