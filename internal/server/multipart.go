package server

import (
	"context"
	"io"
	"net/http"

	"github.com/hanpama/fedgate/internal/service"
)

const (
	multipartBoundary = "-"
	multipartType     = `multipart/mixed; boundary="-"; deferSpec=20220824`
)

type initialPayload struct {
	Data       map[string]any   `json:"data"`
	Errors     []map[string]any `json:"errors,omitempty"`
	Extensions map[string]any   `json:"extensions,omitempty"`
	HasNext    bool             `json:"hasNext"`
}

type incrementalItem struct {
	Path       []any            `json:"path"`
	Label      string           `json:"label,omitempty"`
	Data       map[string]any   `json:"data"`
	Errors     []map[string]any `json:"errors,omitempty"`
	Extensions map[string]any   `json:"extensions,omitempty"`
}

type subsequentPayload struct {
	Incremental []incrementalItem `json:"incremental,omitempty"`
	HasNext     bool              `json:"hasNext"`
}

// writeMultipart streams the initial payload and every incremental payload as
// parts of one multipart/mixed response, flushing after each part.
func (h *Handler) writeMultipart(ctx context.Context, w http.ResponseWriter, res *service.Result) {
	w.Header().Set("Content-Type", multipartType)
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	writePart(w, flusher, initialPayload{Data: res.Data, Errors: res.Errors, Extensions: res.Extensions, HasNext: true})
	for {
		select {
		case <-ctx.Done():
			h.opt.Logger.WithError(ctx.Err()).Warn("incremental delivery interrupted")
			_, _ = io.WriteString(w, "\r\n--"+multipartBoundary+"--\r\n")
			return
		case inc, ok := <-res.Incremental:
			if !ok {
				_, _ = io.WriteString(w, "\r\n--"+multipartBoundary+"--\r\n")
				return
			}
			next := subsequentPayload{HasNext: inc.HasNext}
			if inc.Data != nil || len(inc.Errors) > 0 {
				next.Incremental = []incrementalItem{{
					Path:       inc.Path,
					Label:      inc.Label,
					Data:       inc.Data,
					Errors:     inc.Errors,
					Extensions: inc.Extensions,
				}}
			}
			writePart(w, flusher, next)
			if !inc.HasNext {
				_, _ = io.WriteString(w, "\r\n--"+multipartBoundary+"--\r\n")
				return
			}
		}
	}
}

func writePart(w io.Writer, flusher http.Flusher, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		body = []byte(`{"errors":[{"message":"failed to encode payload"}],"hasNext":false}`)
	}
	_, _ = io.WriteString(w, "\r\n--"+multipartBoundary+"\r\nContent-Type: application/json; charset=utf-8\r\n\r\n")
	_, _ = w.Write(body)
	if flusher != nil {
		flusher.Flush()
	}
}
