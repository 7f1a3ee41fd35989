package governance

import (
	"strings"
	"testing"
)

func newTestGate() *Gate {
	return NewGate(Config{
		MaxAmount:             1000000, // $10,000.00
		RefundRatifyThreshold: 50000,   // $500.00
	})
}

// TestCheckCreatePayment_Amounts tests the amount ceiling, currency, and
// sign checks.
func TestCheckCreatePayment_Amounts(t *testing.T) {
	gate := newTestGate()

	if d := gate.CheckCreatePayment(5000, "usd", nil); !d.Allowed {
		t.Errorf("normal amount blocked: %+v", d)
	}
	if d := gate.CheckCreatePayment(1000000, "usd", nil); !d.Allowed {
		t.Errorf("amount at ceiling blocked: %+v", d)
	}
	if d := gate.CheckCreatePayment(1000001, "usd", nil); d.Allowed {
		t.Error("amount above ceiling allowed")
	}
	if d := gate.CheckCreatePayment(0, "usd", nil); d.Allowed {
		t.Error("zero amount allowed")
	}
	if d := gate.CheckCreatePayment(-100, "usd", nil); d.Allowed {
		t.Error("negative amount allowed")
	}
	if d := gate.CheckCreatePayment(5000, "", nil); d.Allowed {
		t.Error("missing currency allowed")
	}
}

// TestCheckCreatePayment_PerCurrencyCeiling tests that a currency-specific
// ceiling overrides the default.
func TestCheckCreatePayment_PerCurrencyCeiling(t *testing.T) {
	gate := NewGate(Config{
		MaxAmount:           1000000,
		MaxAmountByCurrency: map[string]int64{"jpy": 150000},
	})

	if d := gate.CheckCreatePayment(200000, "usd", nil); !d.Allowed {
		t.Errorf("usd amount under default ceiling blocked: %+v", d)
	}
	if d := gate.CheckCreatePayment(200000, "jpy", nil); d.Allowed {
		t.Error("jpy amount above override allowed")
	}
	if d := gate.CheckCreatePayment(150000, "jpy", nil); !d.Allowed {
		t.Errorf("jpy amount at override blocked: %+v", d)
	}
}

// TestCheckCreatePayment_SensitiveMetadata tests format- and keyword-based
// detection of metadata that must not reach the processor.
func TestCheckCreatePayment_SensitiveMetadata(t *testing.T) {
	gate := newTestGate()

	blocked := []map[string]string{
		{"note": "customer SSN 123-45-6789"},
		{"ref": "987654321"},
		{"travel_doc": "AB123456"},
		{"card": "4242 4242 4242 4242"},
		{"ssn": "redacted"},
		{"note": "diagnosis code F41.1"},
		{"record": "medical history attached"},
	}
	for _, metadata := range blocked {
		d := gate.CheckCreatePayment(5000, "usd", metadata)
		if d.Allowed {
			t.Errorf("metadata %v allowed, want blocked", metadata)
			continue
		}
		if !strings.Contains(d.Reason, "sensitive") {
			t.Errorf("metadata %v reason = %q", metadata, d.Reason)
		}
	}

	allowed := []map[string]string{
		nil,
		{},
		{"order_note": "gift wrap"},
		{"sku": "A-1042"},
		{"ref": "12345678"}, // 8 digits, not an identifier format
	}
	for _, metadata := range allowed {
		if d := gate.CheckCreatePayment(5000, "usd", metadata); !d.Allowed {
			t.Errorf("metadata %v blocked: %s", metadata, d.Reason)
		}
	}
}

// TestCheckRefund tests that ratification targets full refunds above the
// threshold, leaving partial refunds unescalated.
func TestCheckRefund(t *testing.T) {
	gate := newTestGate()

	if d := gate.CheckRefund(10000, 10000); !d.Allowed || d.RequiredAction != ActionNone {
		t.Errorf("small full refund decision = %+v, want plain allow", d)
	}
	if d := gate.CheckRefund(50000, 50000); !d.Allowed || d.RequiredAction != ActionNone {
		t.Errorf("full refund at threshold decision = %+v, want plain allow", d)
	}

	d := gate.CheckRefund(80000, 80000)
	if !d.Allowed || d.RequiredAction != ActionRatify {
		t.Errorf("large full refund decision = %+v, want allow with ratify", d)
	}

	if d := gate.CheckRefund(80000, 100000); !d.Allowed || d.RequiredAction != ActionNone {
		t.Errorf("large partial refund decision = %+v, want plain allow", d)
	}
	if d := gate.CheckRefund(120000, 100000); d.Allowed {
		t.Error("refund above original amount allowed")
	}
	if d := gate.CheckRefund(0, 10000); d.Allowed {
		t.Error("zero refund allowed")
	}
}

// TestGate_DisabledThresholds tests that zero-valued thresholds disable
// their checks.
func TestGate_DisabledThresholds(t *testing.T) {
	gate := NewGate(Config{})

	if d := gate.CheckCreatePayment(1<<40, "usd", nil); !d.Allowed {
		t.Errorf("unlimited gate blocked large amount: %+v", d)
	}
	if d := gate.CheckRefund(1<<40, 1<<40); !d.Allowed || d.RequiredAction != ActionNone {
		t.Errorf("unlimited gate escalated refund: %+v", d)
	}
}
