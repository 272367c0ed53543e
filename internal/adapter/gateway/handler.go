package gateway

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"wasm-arena/internal/domain"
	"wasm-arena/internal/plugin"
	"wasm-arena/internal/usecase/match"
)

// gameView is the API representation of a loaded game.
type gameView struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Metadata    domain.GameMetadata `json:"metadata"`
	Digest      string              `json:"digest"`
	Size        int                 `json:"size"`
	LoadedAt    time.Time           `json:"loaded_at"`
}

func viewOf(g *plugin.LoadedGame) gameView {
	info := g.Info()
	return gameView{
		ID:          g.ID,
		Name:        info.Name,
		Description: info.Description,
		Metadata:    info.Metadata,
		Digest:      g.Digest,
		Size:        len(g.Module),
		LoadedAt:    g.LoadedAt,
	}
}

// handleLoadGame accepts a multipart form with a "module" file and a
// "metadata" JSON part (file or field).
func (s *Server) handleLoadGame(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		s.writeError(w, r, domain.NewSubSystemError("gateway", "LoadGame", domain.ErrInvalidInput, err.Error()))
		return
	}
	defer r.MultipartForm.RemoveAll()

	module, err := formPart(r, "module")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	meta, err := formPart(r, "metadata")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	g, err := s.games.LoadFromJSON(r.Context(), module, meta)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, viewOf(g))
}

// formPart returns an uploaded file, or the plain form value of the same name.
func formPart(r *http.Request, name string) ([]byte, error) {
	if f, _, err := r.FormFile(name); err == nil {
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, domain.NewSubSystemError("gateway", "LoadGame", domain.ErrInvalidInput, err.Error())
		}
		return data, nil
	}
	if v := r.FormValue(name); v != "" {
		return []byte(v), nil
	}
	return nil, domain.NewSubSystemError("gateway", "LoadGame", domain.ErrInvalidInput,
		fmt.Sprintf("missing form part %q", name))
}

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	games := s.games.Registry().List()
	out := make([]gameView, 0, len(games))
	for _, g := range games {
		out = append(out, viewOf(g))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	g, err := s.games.Registry().Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, viewOf(g))
}

func (s *Server) handleUnloadGame(w http.ResponseWriter, r *http.Request) {
	if err := s.games.Unload(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// createMatchRequest is the body of POST /api/matches. Players are specs
// such as "human" or "llm:openai:gpt-4o-mini", player one first.
type createMatchRequest struct {
	GameID  string   `json:"game_id"`
	Players []string `json:"players"`
}

func (s *Server) handleCreateMatch(w http.ResponseWriter, r *http.Request) {
	var req createMatchRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.GameID == "" {
		s.writeError(w, r, domain.NewSubSystemError("gateway", "CreateMatch", domain.ErrInvalidInput, "game_id is required"))
		return
	}

	specs := make([]match.PlayerSpec, 0, len(req.Players))
	for _, raw := range req.Players {
		spec, err := match.ParsePlayerSpec(raw)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		specs = append(specs, spec)
	}

	sum, err := s.matches.Create(r.Context(), req.GameID, specs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, sum)
}

func (s *Server) handleListMatches(w http.ResponseWriter, r *http.Request) {
	list := s.matches.List()
	if list == nil {
		list = []match.Summary{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	sum, err := s.matches.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sum)
}

// seatRequest is the body of the move and cancel routes. A move is either
// free-form notation or a board position.
type seatRequest struct {
	Player   string           `json:"player"`
	Move     string           `json:"move,omitempty"`
	Position *domain.Position `json:"position,omitempty"`
}

func seatMove(player domain.Player, notation string, pos *domain.Position) (domain.Move, error) {
	move := domain.Move{Player: player, Timestamp: time.Now(), Position: pos, Data: notation}
	if err := move.Validate(); err != nil {
		return domain.Move{}, err
	}
	return move, nil
}

func (s *Server) decodeSeat(r *http.Request) (seatRequest, domain.Player, error) {
	var req seatRequest
	if err := decodeJSON(r, &req); err != nil {
		return req, "", err
	}
	player, err := domain.ParsePlayer(req.Player)
	return req, player, err
}

func (s *Server) handleSubmitMove(w http.ResponseWriter, r *http.Request) {
	req, player, err := s.decodeSeat(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	move, err := seatMove(player, req.Move, req.Position)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.matches.SubmitMove(id, player, move); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleCancelMove(w http.ResponseWriter, r *http.Request) {
	_, player, err := s.decodeSeat(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.matches.CancelMove(chi.URLParam(r, "id"), player); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelled"})
}

func (s *Server) handleStopMatch(w http.ResponseWriter, r *http.Request) {
	if err := s.matches.Stop(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}
