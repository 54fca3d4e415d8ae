package channel

import "sort"

// HandlerInfo describes one registered handler for display.
type HandlerInfo struct {
	ControllerID string `json:"controller_id" yaml:"controller_id"`
	Handler      string `json:"handler" yaml:"handler"`
}

// Report is a read-only snapshot of a channel.
type Report struct {
	Name     string        `json:"name" yaml:"name"`
	Owner    string        `json:"owner,omitempty" yaml:"owner,omitempty"`
	Reducer  string        `json:"reducer,omitempty" yaml:"reducer,omitempty"`
	Settings Settings      `json:"settings" yaml:"settings"`
	Handlers []HandlerInfo `json:"handlers" yaml:"handlers"`
}

// Report returns a snapshot of the channel's settings and handlers.
// Handlers are sorted by controller id, then handler name.
func (c *Channel) Report() Report {
	c.mu.RLock()
	settings := c.settings
	handlers := make([]HandlerInfo, 0, len(c.entries))
	for _, e := range c.entries {
		handlers = append(handlers, HandlerInfo{
			ControllerID: e.controllerID,
			Handler:      HandlerName(e.handler),
		})
	}
	c.mu.RUnlock()

	sort.SliceStable(handlers, func(i, j int) bool {
		if handlers[i].ControllerID != handlers[j].ControllerID {
			return handlers[i].ControllerID < handlers[j].ControllerID
		}
		return handlers[i].Handler < handlers[j].Handler
	})

	return Report{
		Name:     c.name,
		Owner:    settings.ControllerID,
		Reducer:  settings.Reducer.String(),
		Settings: settings,
		Handlers: handlers,
	}
}
