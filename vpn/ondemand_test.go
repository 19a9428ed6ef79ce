package vpn

import (
	"fmt"
	"reflect"
	"testing"
)

func TestCompileOnDemand_Disabled(t *testing.T) {
	policies := []OnDemandPolicy{
		{},
		{TrustMobileNetwork: true},
		{TrustMobileNetwork: true, DisconnectsIfNotMatching: true, TrustedNetworks: map[string]bool{"home": true}},
	}
	for i, p := range policies {
		if rules := CompileOnDemand(p); len(rules) != 0 {
			t.Errorf("policy %d: CompileOnDemand() = %v, want no rules", i, rules)
		}
	}
}

func TestCompileOnDemand_MobileOnly(t *testing.T) {
	rules := CompileOnDemand(OnDemandPolicy{Enabled: true, TrustMobileNetwork: true})

	want := []OnDemandRule{{Action: ActionConnect, Interface: InterfaceCellular}}
	if !reflect.DeepEqual(rules, want) {
		t.Errorf("CompileOnDemand() = %+v, want %+v", rules, want)
	}
}

func TestCompileOnDemand_Ordering(t *testing.T) {
	policy := OnDemandPolicy{
		Enabled:            true,
		TrustMobileNetwork: true,
		TrustedNetworks: map[string]bool{
			"office":  true,
			"cafe":    false,
			"home":    true,
			"  ":      true,
			" attic ": true,
		},
		DisconnectsIfNotMatching: true,
	}

	want := []OnDemandRule{
		{Action: ActionConnect, Interface: InterfaceCellular},
		{Action: ActionConnect, Interface: InterfaceWiFi, SSIDs: []string{"attic"}},
		{Action: ActionConnect, Interface: InterfaceWiFi, SSIDs: []string{"home"}},
		{Action: ActionConnect, Interface: InterfaceWiFi, SSIDs: []string{"office"}},
		{Action: ActionDisconnect, Interface: InterfaceAny},
	}

	for i := 0; i < 20; i++ {
		if got := CompileOnDemand(policy); !reflect.DeepEqual(got, want) {
			t.Fatalf("run %d: CompileOnDemand() = %+v, want %+v", i, got, want)
		}
	}
}

func TestCompileOnDemand_CatchAllIsLast(t *testing.T) {
	for n := 0; n <= 8; n++ {
		for _, mobile := range []bool{false, true} {
			networks := make(map[string]bool)
			for i := 0; i < n; i++ {
				networks[fmt.Sprintf("ssid-%d", i)] = i%3 != 0
			}
			rules := CompileOnDemand(OnDemandPolicy{
				Enabled:                  true,
				TrustMobileNetwork:       mobile,
				TrustedNetworks:          networks,
				DisconnectsIfNotMatching: true,
			})
			if len(rules) == 0 {
				t.Fatalf("n=%d mobile=%v: no rules", n, mobile)
			}
			last := rules[len(rules)-1]
			if last.Action != ActionDisconnect || last.Interface != InterfaceAny || len(last.SSIDs) != 0 {
				t.Errorf("n=%d mobile=%v: last rule = %+v, want catch-all disconnect", n, mobile, last)
			}
			for _, r := range rules[:len(rules)-1] {
				if r.Action == ActionDisconnect {
					t.Errorf("n=%d mobile=%v: disconnect rule before the catch-all", n, mobile)
				}
			}
		}
	}
}

func TestCompileOnDemand_NoCatchAllWithoutDisconnect(t *testing.T) {
	rules := CompileOnDemand(OnDemandPolicy{
		Enabled:         true,
		TrustedNetworks: map[string]bool{"home": true},
	})
	if len(rules) != 1 || rules[0].Action != ActionConnect {
		t.Errorf("CompileOnDemand() = %+v, want a single connect rule", rules)
	}
}

func TestEvaluateOnDemand(t *testing.T) {
	rules := CompileOnDemand(OnDemandPolicy{
		Enabled:                  true,
		TrustedNetworks:          map[string]bool{"home": true, "cafe": false},
		DisconnectsIfNotMatching: true,
	})

	tests := []struct {
		name   string
		net    NetworkContext
		want   RuleAction
		wantOK bool
	}{
		{"trusted wifi", NetworkContext{Interface: InterfaceWiFi, SSID: "home"}, ActionConnect, true},
		{"untrusted wifi", NetworkContext{Interface: InterfaceWiFi, SSID: "cafe"}, ActionDisconnect, true},
		{"cellular not trusted", NetworkContext{Interface: InterfaceCellular}, ActionDisconnect, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := EvaluateOnDemand(rules, tt.net)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("EvaluateOnDemand() = %v, %v, want %v, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}

	if _, ok := EvaluateOnDemand(CompileOnDemand(OnDemandPolicy{Enabled: true, TrustMobileNetwork: true}),
		NetworkContext{Interface: InterfaceWiFi, SSID: "any"}); ok {
		t.Error("without a catch-all, unmatched networks should keep the tunnel state")
	}
}

func TestOnDemandRule_Matches(t *testing.T) {
	wifi := OnDemandRule{Action: ActionConnect, Interface: InterfaceWiFi, SSIDs: []string{"home"}}
	if wifi.Matches(NetworkContext{Interface: InterfaceCellular, SSID: "home"}) {
		t.Error("wifi rule should not match cellular")
	}
	if !wifi.Matches(NetworkContext{Interface: InterfaceWiFi, SSID: "home"}) {
		t.Error("wifi rule should match its SSID")
	}
	catchAll := OnDemandRule{Action: ActionDisconnect, Interface: InterfaceAny}
	if !catchAll.Matches(NetworkContext{Interface: InterfaceCellular}) {
		t.Error("catch-all should match everything")
	}
}
