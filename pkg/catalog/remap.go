package catalog

import (
	"github.com/menta2k/isp-configurator/internal/logging"
	"github.com/menta2k/isp-configurator/pkg/graph"
)

// remapOrder is the fixed priority in which base slots claim candidate sinks.
var remapOrder = []graph.Purpose{graph.PurposePreview, graph.PurposeVideo, graph.PurposePostProc}

// RemapSinks maps the purposes of candidate onto its sinks so that each
// purpose keeps the resolution it had in base. Slots are matched in the
// order preview, video, postproc; a sink claimed by one slot is not offered
// to the next. When several sinks match a slot the first in stage order wins
// and the tie is logged. A slot without a match keeps the candidate's own
// mapping. The resulting mapping is written to candidate.Sinks and returned.
func RemapSinks(base, candidate *graph.Graph) map[graph.Purpose]graph.StageID {
	claimed := make(map[graph.StageID]bool)
	remapped := make(map[graph.Purpose]graph.StageID, len(candidate.Sinks))
	for p, id := range candidate.Sinks {
		remapped[p] = id
	}

	sinks := candidate.ByRole(graph.RoleOutput)
	for _, purpose := range remapOrder {
		src := base.Sink(purpose)
		if src == nil {
			continue
		}
		var matches []*graph.StageDescriptor
		for _, s := range sinks {
			if !claimed[s.ID] && s.Baseline == src.Baseline {
				matches = append(matches, s)
			}
		}
		if len(matches) == 0 {
			logging.L().Debug("catalog: no sink matches slot, keeping mapping",
				"purpose", string(purpose), "resolution", src.Baseline.String())
			continue
		}
		if len(matches) > 1 {
			logging.L().Warn("catalog: several sinks match slot, taking the first",
				"purpose", string(purpose), "resolution", src.Baseline.String(),
				"chosen", matches[0].Name, "candidates", len(matches))
		}
		claimed[matches[0].ID] = true
		remapped[purpose] = matches[0].ID
	}

	for p, id := range remapped {
		candidate.Sinks[p] = id
	}
	return remapped
}
