package emotion

import (
	"fmt"
	"strings"

	"github.com/pscheid92/crowdpulse/internal/domain"
)

var DefaultTypes = []domain.EmotionType{"hype", "joy", "tension", "anger", "sadness", "surprise"}

// ParseTypes normalizes a configured list of emotion names.
func ParseTypes(names []string) ([]domain.EmotionType, error) {
	seen := make(map[domain.EmotionType]struct{}, len(names))
	types := make([]domain.EmotionType, 0, len(names))
	for _, name := range names {
		t := domain.EmotionType(strings.ToLower(strings.TrimSpace(name)))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			return nil, fmt.Errorf("duplicate emotion type %q", t)
		}
		seen[t] = struct{}{}
		types = append(types, t)
	}
	if len(types) == 0 {
		return nil, fmt.Errorf("at least one emotion type is required")
	}
	return types, nil
}
