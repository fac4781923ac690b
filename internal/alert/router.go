package alert

import "github.com/sofianedjerbi/rouse/internal/model"

// Rule maps alerts to an escalation policy by source and label matchers.
// A rule with no source and no matchers matches everything.
type Rule struct {
	Name     string            `json:"name" mapstructure:"name"`
	Source   string            `json:"source,omitempty" mapstructure:"source"`
	Matchers map[string]string `json:"matchers,omitempty" mapstructure:"matchers"`
	PolicyID string            `json:"policy_id" mapstructure:"policy_id"`
}

func (r Rule) matches(alert *model.Alert) bool {
	if r.Source != "" && r.Source != alert.Source {
		return false
	}
	for key, want := range r.Matchers {
		if alert.Labels[key] != want {
			return false
		}
	}
	return true
}

// Router picks the escalation policy for an incoming alert. Rules are
// evaluated in order and the first match wins; alerts matching no rule
// fall through to the default policy.
type Router struct {
	rules           []Rule
	defaultPolicyID string
}

// NewRouter creates a router. An empty defaultPolicyID means unmatched
// alerts are stored without escalation.
func NewRouter(rules []Rule, defaultPolicyID string) *Router {
	return &Router{
		rules:           rules,
		defaultPolicyID: defaultPolicyID,
	}
}

// Route returns the policy id for the alert, or "" when nothing applies.
func (r *Router) Route(alert *model.Alert) string {
	for _, rule := range r.rules {
		if rule.matches(alert) {
			return rule.PolicyID
		}
	}
	return r.defaultPolicyID
}
