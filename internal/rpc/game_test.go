package rpc

import "testing"

func TestResultFromMapReadsOkAndError(t *testing.T) {
	r := resultFromMap(map[string]interface{}{"ok": true})
	if !r.OK || r.Error != "" {
		t.Fatalf("expected ok=true, empty error; got %+v", r)
	}

	r = resultFromMap(map[string]interface{}{"ok": false, "error": "seat_taken"})
	if r.OK || r.Error != "seat_taken" {
		t.Fatalf("expected ok=false, error=seat_taken; got %+v", r)
	}
}

func TestResultFromMapToleratesMissingFields(t *testing.T) {
	r := resultFromMap(map[string]interface{}{})
	if r.OK || r.Error != "" {
		t.Fatalf("expected zero-value result; got %+v", r)
	}
}
