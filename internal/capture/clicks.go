package capture

import "strings"

// Element models a node in the instrumented surface's element tree; enough of
// one for click attribution.
type Element struct {
	Parent     *Element
	Tag        string
	ID         string
	Class      string
	Text       string
	Attributes map[string]string
}

// ClickSource delivers click targets to a handler. OnClick returns a remove
// function so the agent can detach its listener on Close.
type ClickSource interface {
	OnClick(handler func(target *Element)) (remove func())
}

const clickTextLimit = 100

// HandleClick is the auto-instrumentation entry point. It walks upward from
// the click target looking for the nearest ancestor carrying the configured
// click attribute, stopping at the body; an empty attribute value tracks as
// "click".
func (a *Agent) HandleClick(target *Element) {
	attr := a.clickAttr
	for el := target; el != nil && !strings.EqualFold(el.Tag, "body"); el = el.Parent {
		value, ok := el.Attributes[attr]
		if !ok {
			continue
		}
		name := value
		if name == "" {
			name = "click"
		}
		a.Track(name, map[string]any{
			"elementId": orNil(el.ID),
			"tag":       orNil(el.Tag),
			"class":     orNil(el.Class),
			"text":      orNil(truncateRunes(el.Text, clickTextLimit)),
		})
		return
	}
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
