package behavior

import (
	"sort"

	"github.com/nvandessel/charcoal/internal/constants"
	"github.com/nvandessel/charcoal/internal/models"
)

// DetectPileOn groups events by original post, then within each group slides
// a constants.PileOnWindow window over the chronologically sorted events:
// at each event, it counts distinct amplifier DIDs in [t, t+window). If that
// count ever reaches threshold, every distinct DID in that window joins the
// returned pile-on set. Same DID amplifying the same post multiple times
// counts once per window. Windows never combine across post URIs.
func DetectPileOn(events []models.AmplificationEvent, threshold int) map[string]bool {
	if threshold <= 0 {
		threshold = constants.DefaultPileOnThreshold
	}

	byPost := make(map[string][]models.AmplificationEvent)
	for _, e := range events {
		byPost[e.OriginalPostURI] = append(byPost[e.OriginalPostURI], e)
	}

	pileOn := make(map[string]bool)
	for _, group := range byPost {
		sort.Slice(group, func(i, j int) bool {
			return group[i].DetectedAt.Before(group[j].DetectedAt)
		})

		for i := range group {
			windowEnd := group[i].DetectedAt.Add(constants.PileOnWindow)
			distinct := make(map[string]bool)
			for j := i; j < len(group) && group[j].DetectedAt.Before(windowEnd); j++ {
				distinct[group[j].AmplifierDID] = true
			}
			if len(distinct) >= threshold {
				for did := range distinct {
					pileOn[did] = true
				}
			}
		}
	}

	return pileOn
}
