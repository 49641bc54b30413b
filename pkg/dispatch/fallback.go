package dispatch

import (
	"github.com/polis-labs/polis/pkg/engine"
	"github.com/polis-labs/polis/pkg/models"
)

// routineThreshold is the holding below which the routine executor sends
// the agent to work the matching job instead of idling.
const routineThreshold = 3

// RoutineAction is the deterministic stand-in decision when no provider
// can serve: work the job producing the scarcest resource under the
// threshold, food taking precedence on ties, otherwise idle.
func RoutineAction(inv models.Inventory) *engine.Action {
	jobs := []struct {
		resource models.ResourceType
		job      string
	}{
		{models.ResourceFood, "farm"},
		{models.ResourceEnergy, "generate"},
		{models.ResourceMaterials, "gather"},
	}
	job := ""
	lowest := routineThreshold
	for _, j := range jobs {
		if q := inv[j.resource]; q < lowest {
			job, lowest = j.job, q
		}
	}
	if job == "" {
		return &engine.Action{Type: engine.ActionIdle}
	}
	return &engine.Action{Type: engine.ActionWork, Job: job}
}
