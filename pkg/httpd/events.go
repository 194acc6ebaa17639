package httpd

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sugar-network/node/pkg/document"
)

// subscribe opens a server-sent-events stream of the volume bus. The
// first frame is a handshake; commit events are withheld unless the
// subscriber asked for only them.
func (s *Server) subscribe(c echo.Context) error {
	onlyCommits := false
	switch c.QueryParam("only_commits") {
	case "1", "true":
		onlyCommits = true
	}
	condition := document.Condition{}
	for name, values := range c.QueryParams() {
		if name == "cmd" || name == "only_commits" {
			continue
		}
		if len(values) == 1 {
			condition[name] = values[0]
			continue
		}
		items := make([]any, len(values))
		for i, value := range values {
			items[i] = value
		}
		condition[name] = items
	}
	if len(condition) == 0 {
		condition = nil
	}

	events, cancel := s.volume.Subscribe(condition)
	defer cancel()

	w := c.Response()
	header := w.Header()
	header.Set(echo.HeaderContentType, "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := writeFrame(w, document.Event{Event: "handshake"}); err != nil {
		return nil
	}

	done := c.Request().Context().Done()
	for {
		select {
		case <-done:
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if (event.Event == "commit") != onlyCommits {
				continue
			}
			if err := writeFrame(w, event); err != nil {
				return nil
			}
		}
	}
}

func writeFrame(w *echo.Response, event document.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	w.Flush()
	return nil
}
