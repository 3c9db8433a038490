package nacos

import "testing"

func TestParseServerConfigs(t *testing.T) {
	cfgs, err := ParseServerConfigs("10.0.0.1:8848, 10.0.0.2:8849")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfgs) != 2 {
		t.Fatalf("want 2 server configs, got %d", len(cfgs))
	}
	if cfgs[1].IpAddr != "10.0.0.2" || cfgs[1].Port != 8849 {
		t.Errorf("unexpected second config: %+v", cfgs[1])
	}
}

func TestParseServerConfigsRejectsBadInput(t *testing.T) {
	for _, in := range []string{"", "localhost", "host:port"} {
		if _, err := ParseServerConfigs(in); err == nil {
			t.Errorf("ParseServerConfigs(%q) should fail", in)
		}
	}
}
