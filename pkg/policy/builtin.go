package policy

import (
	"time"
)

// BuiltinPolicies returns the policies compiled into the binary. The risk
// ceiling policy ships disabled when the deployment opts out of it.
func BuiltinPolicies(denyVeryHighRisk bool) []Policy {
	riskCeiling := riskCeilingPolicy()
	riskCeiling.Enabled = denyVeryHighRisk

	return []Policy{
		riskCeiling,
		escalationGatePolicy(),
		convergedGuardPolicy(),
	}
}

// riskCeilingPolicy blocks very-high-risk methods unless the run has moved
// beyond the conservative strategies.
func riskCeilingPolicy() Policy {
	return Policy{
		Name:        "risk-ceiling",
		Description: "Blocks very-high-risk methods under conservative and balanced strategies",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"risk", "builtin"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package openmend.policies.risk

import rego.v1

# Very-high-risk methods need an aggressive or experimental strategy.
deny contains violation if {
	input.method.risk == "very_high"
	not strategy_permits_very_high
	violation := {
		"message": sprintf("Method %s has very_high risk, not permitted under %s strategy", [input.method.name, input.run.strategy]),
		"severity": "error",
		"method": input.method.name,
	}
}

strategy_permits_very_high if {
	input.run.strategy == "aggressive"
}

strategy_permits_very_high if {
	input.run.strategy == "experimental"
}
`,
	}
}

// escalationGatePolicy blocks escalation-only methods before any failures
// have accumulated. The registry already hides them until the set widens;
// this is a second fence for manifests that mislabel an escalation method.
func escalationGatePolicy() Policy {
	return Policy{
		Name:        "escalation-gate",
		Description: "Blocks escalation-only methods before any cycle has failed",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"escalation", "builtin"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package openmend.policies.escalation

import rego.v1

deny contains violation if {
	input.method.escalation == true
	input.run.consecutive_failures == 0
	input.run.cycle <= 1
	violation := {
		"message": sprintf("Escalation method %s blocked on first cycle with no failures", [input.method.name]),
		"severity": "error",
		"method": input.method.name,
	}
}
`,
	}
}

// convergedGuardPolicy blocks high-risk methods when the target is already
// partially converged, to avoid regressing observed progress.
func convergedGuardPolicy() Policy {
	return Policy{
		Name:        "converged-guard",
		Description: "Blocks high and very-high-risk methods on partially converged targets",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"risk", "builtin"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package openmend.policies.converged

import rego.v1

risky contains tier if {
	some tier in ["high", "very_high"]
}

deny contains violation if {
	input.run.state == "partially_converged"
	input.method.risk in risky
	input.run.strategy == "conservative"
	violation := {
		"message": sprintf("Method %s risk %s blocked on partially converged target", [input.method.name, input.method.risk]),
		"severity": "error",
		"method": input.method.name,
	}
}
`,
	}
}
