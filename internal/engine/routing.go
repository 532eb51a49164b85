package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Routing tells a visitor where to go. The model appends it to the answer as
// a trailing JSON object when asked with [RoutedSystemPrompt].
type Routing struct {
	Department string `json:"department"`
	Room       string `json:"room"`
	Floor      string `json:"floor"`
	Contact    string `json:"contact"`
}

// Empty reports whether no field is set.
func (r Routing) Empty() bool { return r == Routing{} }

var routingBlock = regexp.MustCompile(`(?s)\{\s*"department".*\}\s*$`)

// ExtractRouting splits a trailing routing block off answer. It returns the
// answer without the block and the decoded routing; ok is false, and text is
// answer unchanged, when there is no block or it is not valid JSON.
//
// Non-string values are formatted, so {"floor": 2} yields Floor "2". Null and
// missing fields stay empty.
func ExtractRouting(answer string) (text string, r Routing, ok bool) {
	loc := routingBlock.FindStringIndex(answer)
	if loc == nil {
		return answer, Routing{}, false
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(answer[loc[0]:loc[1]]), &raw); err != nil {
		return answer, Routing{}, false
	}
	r = Routing{
		Department: routingField(raw["department"]),
		Room:       routingField(raw["room"]),
		Floor:      routingField(raw["floor"]),
		Contact:    routingField(raw["contact"]),
	}
	return strings.TrimSpace(answer[:loc[0]]), r, true
}

func routingField(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
