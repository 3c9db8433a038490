package policy

import (
	"context"
	"testing"

	"nexus-wms/internal/service/reservation/domain"
)

func TestCELTTLPolicy(t *testing.T) {
	lines := []domain.Line{{Sequence: 1, Item: 7, Qty: 5}, {Sequence: 2, Item: 9, Qty: 20}}
	cases := []struct {
		name string
		expr string
		key  domain.BusinessKey
		want int
	}{
		{"constant", "30", domain.BusinessKey{Channel: "PDD"}, 30},
		{"by channel", `channel == "AMAZON" ? 120 : 30`, domain.BusinessKey{Channel: "AMAZON"}, 120},
		{"by channel fallback", `channel == "AMAZON" ? 120 : 30`, domain.BusinessKey{Channel: "PDD"}, 30},
		{"by quantity", `total_qty > 20 ? 60 : 15`, domain.BusinessKey{Channel: "PDD"}, 60},
		{"by item", `9 in items ? 0 : 30`, domain.BusinessKey{Channel: "PDD"}, 0},
		{"by warehouse", `warehouse == 3 ? -1 : 10`, domain.BusinessKey{Channel: "PDD", Warehouse: 3}, -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := NewCELTTLPolicy(tc.expr)
			if err != nil {
				t.Fatalf("NewCELTTLPolicy: %v", err)
			}
			got, err := p.TTLMinutes(context.Background(), tc.key, lines)
			if err != nil {
				t.Fatalf("TTLMinutes: %v", err)
			}
			if got != tc.want {
				t.Errorf("TTLMinutes = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestCELTTLPolicyRejectsBadExpressions(t *testing.T) {
	for _, expr := range []string{"", "channel +", `"thirty"`, "unknown_var > 1 ? 1 : 2"} {
		if _, err := NewCELTTLPolicy(expr); err == nil {
			t.Errorf("NewCELTTLPolicy(%q) should fail", expr)
		}
	}
}

func TestCELTTLPolicyUpdateKeepsOldOnFailure(t *testing.T) {
	p, err := NewCELTTLPolicy("30")
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Update("not valid ("); err == nil {
		t.Fatal("expected compile error")
	}
	if p.Expression() != "30" {
		t.Errorf("expression = %q, want the previous one", p.Expression())
	}
	if err := p.Update("45"); err != nil {
		t.Fatal(err)
	}
	got, _ := p.TTLMinutes(context.Background(), domain.BusinessKey{}, nil)
	if got != 45 {
		t.Errorf("TTLMinutes = %d, want 45", got)
	}
}
