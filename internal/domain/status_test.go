package domain

import (
	"encoding/json"
	"testing"
)

func TestStatusJSONRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		json   string
	}{
		{name: "applied", status: Applied(), json: `"applied"`},
		{name: "reverted", status: Reverted(3), json: `{"reverted":3}`},
		{name: "revert", status: Revert(2), json: `{"revert":2}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(tt.status)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(raw) != tt.json {
				t.Fatalf("expected %s, got %s", tt.json, raw)
			}

			var back Status
			if err := json.Unmarshal(raw, &back); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if back != tt.status {
				t.Errorf("round trip mismatch: %+v != %+v", back, tt.status)
			}
		})
	}
}

func TestStatusUnmarshalRejectsUnknown(t *testing.T) {
	for _, raw := range []string{`"deleted"`, `{"archived":1}`, `{"reverted":1,"revert":2}`, `42`} {
		var s Status
		if err := json.Unmarshal([]byte(raw), &s); err == nil {
			t.Errorf("expected error for %s", raw)
		}
	}
}
