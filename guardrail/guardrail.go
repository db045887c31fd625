package guardrail

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/chainsentry/reactor/config"
	"github.com/chainsentry/reactor/model"
	"github.com/chainsentry/reactor/playbook"
	"github.com/chainsentry/reactor/utils"
)

type Verdict string

const (
	Allow           Verdict = "allow"
	Deny            Verdict = "deny"
	RequireApproval Verdict = "require_approval"
)

type Result struct {
	Verdict   Verdict
	Reason    string
	Simulated bool
}

func (r Result) String() string {
	if r.Reason == "" {
		return string(r.Verdict)
	}
	return fmt.Sprintf("%s: %s", r.Verdict, r.Reason)
}

type Policy struct {
	// Protected entities never have irreversible actions applied to them.
	Protected mapset.Set[string]
}

func NewPolicy(protected []string) Policy {
	set := mapset.NewSet[string]()
	for _, entity := range protected {
		set.Add(utils.NormalizeEntityRef(entity))
	}
	return Policy{Protected: set}
}

func PolicyFromConfig() Policy {
	return NewPolicy(config.Conf.GuardRail.ProtectedEntities)
}

// Evaluate is pure and deterministic: no side effects, same inputs always
// produce the same result. Rules apply in order, first match wins.
func Evaluate(step playbook.Step, ec *model.ExecutionContext, policy Policy) Result {
	if ec.Mode == model.ModeDryRun {
		return Result{Verdict: Allow, Reason: "dry run", Simulated: true}
	}
	if step.Irreversible && policy.Protected != nil && policy.Protected.Contains(ec.EntityRef) {
		return Result{Verdict: Deny, Reason: fmt.Sprintf("entity %s is protected", ec.EntityRef)}
	}
	if step.Irreversible && ec.ApprovalToken == "" {
		return Result{Verdict: RequireApproval, Reason: "irreversible step without approval token"}
	}
	return Result{Verdict: Allow}
}
