package vpn

import (
	"strings"

	"github.com/yllada/vpn-ondemand/common"
)

// OnDemandPolicy decides when the tunnel connects on its own.
type OnDemandPolicy struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// TrustMobileNetwork marks cellular as a matching network.
	TrustMobileNetwork bool `json:"trust_mobile_network" yaml:"trust_mobile_network"`
	// TrustedNetworks maps a Wi-Fi SSID to whether it matches.
	// SSIDs mapped to false are kept for the UI but emit no rule.
	TrustedNetworks map[string]bool `json:"trusted_networks,omitempty" yaml:"trusted_networks,omitempty"`
	// DisconnectsIfNotMatching disconnects the tunnel on every network
	// that no earlier rule matched.
	DisconnectsIfNotMatching bool `json:"disconnects_if_not_matching" yaml:"disconnects_if_not_matching"`
}

func (p OnDemandPolicy) clone() OnDemandPolicy {
	if p.TrustedNetworks != nil {
		networks := make(map[string]bool, len(p.TrustedNetworks))
		for ssid, trusted := range p.TrustedNetworks {
			networks[ssid] = trusted
		}
		p.TrustedNetworks = networks
	}
	return p
}

// RuleAction is what the platform does when a rule matches.
type RuleAction string

const (
	ActionConnect    RuleAction = "connect"
	ActionDisconnect RuleAction = "disconnect"
	ActionIgnore     RuleAction = "ignore"
)

// InterfaceType restricts a rule to one kind of network interface.
type InterfaceType string

const (
	InterfaceAny      InterfaceType = "any"
	InterfaceCellular InterfaceType = "cellular"
	InterfaceWiFi     InterfaceType = "wifi"
)

// OnDemandRule is one platform-independent on-demand rule. Rules are
// evaluated in order and the first match wins.
type OnDemandRule struct {
	Action    RuleAction    `json:"action" yaml:"action"`
	Interface InterfaceType `json:"interface" yaml:"interface"`
	// SSIDs restricts a wifi rule to these networks.
	SSIDs []string `json:"ssids,omitempty" yaml:"ssids,omitempty"`
}

// NetworkContext describes the network the device is currently on.
type NetworkContext struct {
	Interface InterfaceType
	SSID      string
}

// Matches reports whether r applies to n.
func (r OnDemandRule) Matches(n NetworkContext) bool {
	if r.Interface != InterfaceAny && r.Interface != n.Interface {
		return false
	}
	if len(r.SSIDs) == 0 {
		return true
	}
	for _, ssid := range r.SSIDs {
		if ssid == n.SSID {
			return true
		}
	}
	return false
}

// EvaluateOnDemand returns the action of the first rule matching n.
// ok is false when no rule matches and the tunnel keeps its state.
func EvaluateOnDemand(rules []OnDemandRule, n NetworkContext) (action RuleAction, ok bool) {
	for _, r := range rules {
		if r.Matches(n) {
			return r.Action, true
		}
	}
	return "", false
}

// CompileOnDemand turns a policy into ordered on-demand rules:
// the cellular rule first, then one rule per trusted SSID in
// lexicographic order, then the catch-all disconnect rule when
// DisconnectsIfNotMatching is set. A disabled policy yields no rules.
//
// Cellular that is not explicitly trusted is never given its own rule,
// so with DisconnectsIfNotMatching it falls through to the catch-all.
func CompileOnDemand(policy OnDemandPolicy) []OnDemandRule {
	if !policy.Enabled {
		return nil
	}

	var rules []OnDemandRule
	if policy.TrustMobileNetwork {
		rules = append(rules, OnDemandRule{
			Action:    ActionConnect,
			Interface: InterfaceCellular,
		})
	}

	for _, ssid := range trustedSSIDs(policy.TrustedNetworks) {
		rules = append(rules, OnDemandRule{
			Action:    ActionConnect,
			Interface: InterfaceWiFi,
			SSIDs:     []string{ssid},
		})
	}

	if policy.DisconnectsIfNotMatching {
		rules = append(rules, OnDemandRule{
			Action:    ActionDisconnect,
			Interface: InterfaceAny,
		})
	}
	return rules
}

// trustedSSIDs returns the trimmed, non-blank SSIDs mapped to true, sorted.
func trustedSSIDs(networks map[string]bool) []string {
	trusted := make(map[string]bool, len(networks))
	for ssid, ok := range networks {
		ssid = strings.TrimSpace(ssid)
		if ssid == "" || !ok {
			continue
		}
		trusted[ssid] = true
	}
	return common.SortedKeys(trusted)
}
