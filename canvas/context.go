package canvas

import (
	"encoding/json"
	"strings"

	"genui-canvas/core"
)

// ExtractContext returns the content of the selected cards, newline-joined
// and encoded as a JSON string, to prime a follow-up generation. It returns
// "" when no selected card has content yet.
func ExtractContext(r core.CanvasReader) string {
	var parts []string
	for _, id := range r.SelectedIDs() {
		ent, ok := r.GetEntity(id)
		if !ok {
			continue
		}
		if content := ent.Card().ContentString(); content != "" {
			parts = append(parts, content)
		}
	}
	if len(parts) == 0 {
		return ""
	}

	encoded, err := json.Marshal(strings.Join(parts, "\n"))
	if err != nil {
		return ""
	}
	return string(encoded)
}
