// Package boards serves the board API: stored board metadata, the live
// canvas of an opened board, and the card and connector operations on it.
package boards

import (
	"encoding/json"
	"errors"
	"net/http"

	"genui-canvas/canvas"
	"genui-canvas/core"
	"genui-canvas/middleware"
	"genui-canvas/workspace"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type (
	BoardResponse struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Dirty bool   `json:"dirty"`
		core.BoardSnapshot
		Streaming []core.EntityID `json:"streaming"`
	}

	SaveRequest struct {
		Name *string `json:"name,omitempty"`
	}

	CreateCardRequest struct {
		Prompt           string        `json:"prompt"`
		PreviousResponse string        `json:"previousResponse,omitempty"`
		OriginID         core.EntityID `json:"originId,omitempty"`
		Width            float64       `json:"width,omitempty"`
		Height           float64       `json:"height,omitempty"`
		KeepCamera       bool          `json:"keepCamera,omitempty"`
	}

	StreamResponse struct {
		CardID      core.EntityID       `json:"cardId"`
		State       canvas.SessionState `json:"state"`
		Content     string              `json:"content"`
		ConnectorID core.EntityID       `json:"connectorId,omitempty"`
		Error       string              `json:"error,omitempty"`
	}

	TerminalRequest struct {
		Anchor    *core.Vec `json:"anchor,omitempty"`
		IsExact   bool      `json:"isExact,omitempty"`
		IsPrecise bool      `json:"isPrecise,omitempty"`
	}

	ConnectRequest struct {
		StartID  core.EntityID   `json:"startId"`
		EndID    core.EntityID   `json:"endId"`
		ParentID core.EntityID   `json:"parentId,omitempty"`
		Start    TerminalRequest `json:"start"`
		End      TerminalRequest `json:"end"`
		Color    string          `json:"color,omitempty"`
	}

	SelectionRequest struct {
		IDs []core.EntityID `json:"ids"`
	}
)

func (t TerminalRequest) options() canvas.TerminalOptions {
	return canvas.TerminalOptions{NormalizedAnchor: t.Anchor, IsExact: t.IsExact, IsPrecise: t.IsPrecise}
}

func renderError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": msg})
}

func boardRef(w http.ResponseWriter, r *http.Request) (workspace.Ref, bool) {
	claims, ok := middleware.Claims(r.Context())
	if !ok {
		renderError(w, r, http.StatusUnauthorized, "User claims not found")
		return workspace.Ref{}, false
	}
	id := chi.URLParam(r, "board")
	if id == "" {
		renderError(w, r, http.StatusBadRequest, "Board id is required")
		return workspace.Ref{}, false
	}
	return workspace.Ref{UserID: claims.Subject, BoardID: id}, true
}

// open resolves the request's board, loading it if needed.
func open(ws *workspace.Workspace, w http.ResponseWriter, r *http.Request) (*workspace.Board, bool) {
	ref, ok := boardRef(w, r)
	if !ok {
		return nil, false
	}
	b, err := ws.Open(r.Context(), ref)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"error":    err,
			"user_id":  ref.UserID,
			"board_id": ref.BoardID,
		}).Error("Failed to open board")
		status := http.StatusInternalServerError
		if errors.Is(err, workspace.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		renderError(w, r, status, "Failed to open board")
		return nil, false
	}
	return b, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		renderError(w, r, http.StatusBadRequest, "Invalid JSON in request body")
		return false
	}
	return true
}

func HandleListBoards(store core.BoardStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.Claims(r.Context())
		if !ok {
			renderError(w, r, http.StatusUnauthorized, "User claims not found")
			return
		}

		boards, err := store.List(r.Context(), claims.Subject)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":   err,
				"user_id": claims.Subject,
			}).Error("Failed to list boards")
			renderError(w, r, http.StatusInternalServerError, "Failed to list boards")
			return
		}
		if boards == nil {
			boards = []*core.Board{}
		}
		render.JSON(w, r, boards)
	}
}

// HandleGetBoard returns the live canvas of a board.
func HandleGetBoard(ws *workspace.Workspace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, ok := open(ws, w, r)
		if !ok {
			return
		}
		streaming := b.Controller.Active()
		if streaming == nil {
			streaming = []core.EntityID{}
		}
		render.JSON(w, r, BoardResponse{
			ID:            b.BoardID,
			Name:          b.Name(),
			Dirty:         b.Dirty(),
			BoardSnapshot: b.Editor.Export(),
			Streaming:     streaming,
		})
	}
}

func HandleSaveBoard(ws *workspace.Workspace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, ok := open(ws, w, r)
		if !ok {
			return
		}
		var req SaveRequest
		if r.ContentLength != 0 && !decode(w, r, &req) {
			return
		}
		if req.Name != nil {
			b.Rename(*req.Name)
		}

		if err := ws.Save(r.Context(), b); err != nil {
			logrus.WithFields(logrus.Fields{
				"error":    err,
				"user_id":  b.UserID,
				"board_id": b.BoardID,
			}).Error("Failed to save board")
			renderError(w, r, http.StatusInternalServerError, "Failed to save board")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleDeleteBoard unloads the board and removes it from the store.
func HandleDeleteBoard(store core.BoardStore, ws *workspace.Workspace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, ok := boardRef(w, r)
		if !ok {
			return
		}
		wasLive := ws.Drop(ref)

		err := store.Delete(r.Context(), ref.UserID, ref.BoardID)
		switch {
		case errors.Is(err, core.ErrBoardNotFound) && !wasLive:
			renderError(w, r, http.StatusNotFound, "Board not found")
			return
		case err != nil && !errors.Is(err, core.ErrBoardNotFound):
			logrus.WithFields(logrus.Fields{
				"error":    err,
				"user_id":  ref.UserID,
				"board_id": ref.BoardID,
			}).Error("Failed to delete board")
			renderError(w, r, http.StatusInternalServerError, "Failed to delete board")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func HandleGetEntity(ws *workspace.Workspace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, ok := open(ws, w, r)
		if !ok {
			return
		}
		ent, ok := b.Editor.GetEntity(core.EntityID(chi.URLParam(r, "entity")))
		if !ok {
			renderError(w, r, http.StatusNotFound, "Entity not found")
			return
		}
		render.JSON(w, r, ent)
	}
}

// HandleCreateCard places a card and starts generating its content. The
// response is sent as soon as the card exists; content arrives over the
// socket or through HandleGetStream.
func HandleCreateCard(ws *workspace.Workspace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, ok := open(ws, w, r)
		if !ok {
			return
		}
		var req CreateCardRequest
		if !decode(w, r, &req) {
			return
		}
		if req.Prompt == "" {
			renderError(w, r, http.StatusBadRequest, "Prompt is required")
			return
		}
		if req.OriginID != "" {
			if _, ok := b.Editor.GetEntity(req.OriginID); !ok {
				renderError(w, r, http.StatusNotFound, "Origin card not found")
				return
			}
		}

		s, err := b.CreateCard(canvas.CreateOptions{
			Prompt:           req.Prompt,
			PreviousResponse: req.PreviousResponse,
			OriginID:         req.OriginID,
			Width:            req.Width,
			Height:           req.Height,
			KeepCamera:       req.KeepCamera,
		})
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":    err,
				"board_id": b.BoardID,
			}).Error("Failed to create card")
			renderError(w, r, http.StatusInternalServerError, "Failed to create card")
			return
		}

		render.Status(r, http.StatusAccepted)
		render.JSON(w, r, streamResponse(s))
	}
}

func streamResponse(s *canvas.Session) StreamResponse {
	resp := StreamResponse{
		CardID:      s.CardID(),
		State:       s.State(),
		Content:     s.Content(),
		ConnectorID: s.ConnectorID(),
	}
	if err := s.Err(); err != nil {
		resp.Error = err.Error()
	}
	return resp
}

// HandleGetStream reports an in-flight stream, or how it ended once it is
// over.
func HandleGetStream(ws *workspace.Workspace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, ok := open(ws, w, r)
		if !ok {
			return
		}
		id := core.EntityID(chi.URLParam(r, "entity"))
		if s, ok := b.Controller.Session(id); ok {
			render.JSON(w, r, streamResponse(s))
			return
		}
		if o, ok := b.Controller.Outcome(id); ok {
			resp := StreamResponse{
				CardID:      o.CardID,
				State:       o.State,
				Content:     o.Content,
				ConnectorID: o.ConnectorID,
			}
			if o.Err != nil {
				resp.Error = o.Err.Error()
			}
			render.JSON(w, r, resp)
			return
		}

		// Cards loaded from storage have no session history.
		ent, ok := b.Editor.GetEntity(id)
		if !ok || ent.Card() == nil {
			renderError(w, r, http.StatusNotFound, "Card not found")
			return
		}
		render.JSON(w, r, StreamResponse{
			CardID:  id,
			State:   canvas.StateCompleted,
			Content: ent.Card().ContentString(),
		})
	}
}

func HandleCancelStream(ws *workspace.Workspace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, ok := open(ws, w, r)
		if !ok {
			return
		}
		if !b.Controller.Cancel(core.EntityID(chi.URLParam(r, "entity"))) {
			renderError(w, r, http.StatusNotFound, "No stream for card")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func HandleConnect(ws *workspace.Workspace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, ok := open(ws, w, r)
		if !ok {
			return
		}
		var req ConnectRequest
		if !decode(w, r, &req) {
			return
		}

		id, err := canvas.Bind(b.Editor, req.StartID, req.EndID, canvas.BindOptions{
			ParentID: req.ParentID,
			Start:    req.Start.options(),
			End:      req.End.options(),
			Color:    req.Color,
		})
		switch {
		case errors.Is(err, canvas.ErrSameEndpoint):
			renderError(w, r, http.StatusBadRequest, err.Error())
			return
		case errors.Is(err, canvas.ErrParentNotFound):
			renderError(w, r, http.StatusNotFound, "Parent not found")
			return
		case err != nil:
			renderError(w, r, http.StatusInternalServerError, "Failed to create connector")
			return
		case id == "":
			renderError(w, r, http.StatusNotFound, "Endpoint not found")
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, map[string]core.EntityID{"id": id})
	}
}

// HandleSelect replaces the selection. Selected cards become the context of
// the next generated card.
func HandleSelect(ws *workspace.Workspace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, ok := open(ws, w, r)
		if !ok {
			return
		}
		var req SelectionRequest
		if !decode(w, r, &req) {
			return
		}

		err := b.Editor.Run(func(tx core.Tx) error {
			tx.Deselect(tx.SelectedIDs()...)
			for _, id := range req.IDs {
				if _, ok := tx.GetEntity(id); !ok {
					return core.ErrEntityNotFound
				}
			}
			tx.Select(req.IDs...)
			return nil
		})
		if err != nil {
			renderError(w, r, http.StatusNotFound, "Entity not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleFocus centres the camera on an entity.
func HandleFocus(ws *workspace.Workspace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, ok := open(ws, w, r)
		if !ok {
			return
		}
		id := core.EntityID(chi.URLParam(r, "entity"))
		if _, ok := b.Editor.GetEntity(id); !ok {
			renderError(w, r, http.StatusNotFound, "Entity not found")
			return
		}
		canvas.CenterCamera(b.Editor, id, canvas.DefaultCameraDuration)
		render.JSON(w, r, b.Editor.Camera())
	}
}

func HandleUndo(ws *workspace.Workspace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, ok := open(ws, w, r)
		if !ok {
			return
		}
		if !b.Editor.Undo() {
			renderError(w, r, http.StatusConflict, "Nothing to undo")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// Routes mounts the board API.
func Routes(r chi.Router, store core.BoardStore, ws *workspace.Workspace) {
	r.Get("/", HandleListBoards(store))
	r.Route("/{board}", func(r chi.Router) {
		r.Get("/", HandleGetBoard(ws))
		r.Put("/", HandleSaveBoard(ws))
		r.Delete("/", HandleDeleteBoard(store, ws))
		r.Post("/undo", HandleUndo(ws))
		r.Put("/selection", HandleSelect(ws))
		r.Post("/cards", HandleCreateCard(ws))
		r.Post("/connectors", HandleConnect(ws))
		r.Route("/entities/{entity}", func(r chi.Router) {
			r.Get("/", HandleGetEntity(ws))
			r.Post("/focus", HandleFocus(ws))
			r.Get("/stream", HandleGetStream(ws))
			r.Delete("/stream", HandleCancelStream(ws))
		})
	})
}
