package decision

import (
	"strings"

	"github.com/ShayCichocki/choicesim/pkg/models"
)

// ResolveAlternative maps a chosen identifier to a known alternative. An
// exact ID match wins; otherwise the identifier is compared
// case-insensitively against alternative names, then IDs.
func ResolveAlternative(chosen string, alternatives []models.Alternative) (models.Alternative, bool) {
	for _, a := range alternatives {
		if a.ID == chosen {
			return a, true
		}
	}

	needle := strings.ToLower(strings.TrimSpace(chosen))
	if needle == "" {
		return models.Alternative{}, false
	}
	for _, a := range alternatives {
		if strings.ToLower(strings.TrimSpace(a.Name)) == needle {
			return a, true
		}
	}
	for _, a := range alternatives {
		if strings.ToLower(a.ID) == needle {
			return a, true
		}
	}
	return models.Alternative{}, false
}
