// Package openai exposes the generation backend directly, for clients that
// render streamed text themselves instead of placing a card.
package openai

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"genui-canvas/canvas"
	"genui-canvas/core"
	"genui-canvas/generation"
	"genui-canvas/middleware"
	"genui-canvas/workspace"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type (
	AskRequest struct {
		Prompt           string `json:"prompt"`
		PreviousResponse string `json:"previousResponse,omitempty"`
		Context          string `json:"context,omitempty"`
		// BoardID takes the context from the board's current selection when
		// Context is empty.
		BoardID string `json:"boardId,omitempty"`
	}

	// DeltaEvent is one streamed event.
	DeltaEvent struct {
		Delta string `json:"delta,omitempty"`
		Error string `json:"error,omitempty"`
	}
)

// FlusherWriter is a helper to ensure that data is flushed to the client for streaming
type FlusherWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func (fw *FlusherWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if fw.f != nil {
		fw.f.Flush()
	}
	return n, err
}

func writeEvent(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// HandleAsk streams the completion for a prompt as server-sent events:
// one {"delta": ...} per fragment, then "[DONE]". A failure after the
// stream started is sent as an {"error": ...} event.
func HandleAsk(client *generation.Client, ws *workspace.Workspace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.Claims(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		if !client.Configured() {
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "OpenAI API key is not configured on the server"})
			return
		}

		var req AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid JSON in request body"})
			return
		}
		if req.Prompt == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Prompt is required"})
			return
		}

		genReq := core.GenerationRequest{
			Prompt:           req.Prompt,
			PreviousResponse: req.PreviousResponse,
			Context:          req.Context,
		}
		if genReq.Context == "" && req.BoardID != "" && ws != nil {
			if b, ok := ws.Lookup(workspace.Ref{UserID: claims.Subject, BoardID: req.BoardID}); ok {
				genReq.Context = canvas.ExtractContext(b.Editor)
			}
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		fw := &FlusherWriter{w: w, f: flusher}

		log := logrus.WithField("user_id", claims.Subject)
		err := client.Deltas(r.Context(), genReq, func(delta string) error {
			return writeEvent(fw, DeltaEvent{Delta: delta})
		})
		switch {
		case r.Context().Err() != nil:
			log.Debug("Client left before the completion finished")
			return
		case err != nil:
			log.WithError(err).Error("Error streaming completion")
			writeEvent(fw, DeltaEvent{Error: err.Error()})
			return
		}
		fmt.Fprint(fw, "data: [DONE]\n\n")
	}
}
