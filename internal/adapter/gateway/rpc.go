package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"wasm-arena/internal/domain"
)

// RPCHandler handles a single RPC method call.
type RPCHandler func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (any, error)

// RegisterHandler adds an RPC handler for the given method name.
// Safe to call concurrently with active connections.
func (s *Server) RegisterHandler(method string, handler RPCHandler) {
	s.handlersMu.Lock()
	s.handlers[method] = handler
	s.handlersMu.Unlock()
}

// matchRequest addresses one seat of a match.
type matchRequest struct {
	MatchID  string           `json:"match_id"`
	Player   string           `json:"player,omitempty"`
	Move     string           `json:"move,omitempty"`
	Position *domain.Position `json:"position,omitempty"`
}

func decodeMatchRequest(payload json.RawMessage) (matchRequest, error) {
	var req matchRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return req, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if req.MatchID == "" {
		return req, fmt.Errorf("%w: match_id is required", domain.ErrInvalidInput)
	}
	return req, nil
}

func (s *Server) registerRPC() {
	s.RegisterHandler(MethodMatchGet, func(_ context.Context, _ *ClientInfo, payload json.RawMessage) (any, error) {
		req, err := decodeMatchRequest(payload)
		if err != nil {
			return nil, err
		}
		return s.matches.Get(req.MatchID)
	})

	s.RegisterHandler(MethodMatchMove, func(_ context.Context, _ *ClientInfo, payload json.RawMessage) (any, error) {
		req, err := decodeMatchRequest(payload)
		if err != nil {
			return nil, err
		}
		player, err := domain.ParsePlayer(req.Player)
		if err != nil {
			return nil, err
		}
		move, err := seatMove(player, req.Move, req.Position)
		if err != nil {
			return nil, err
		}
		if err := s.matches.SubmitMove(req.MatchID, player, move); err != nil {
			return nil, err
		}
		return map[string]string{"status": "accepted"}, nil
	})

	s.RegisterHandler(MethodMatchCancel, func(_ context.Context, _ *ClientInfo, payload json.RawMessage) (any, error) {
		req, err := decodeMatchRequest(payload)
		if err != nil {
			return nil, err
		}
		player, err := domain.ParsePlayer(req.Player)
		if err != nil {
			return nil, err
		}
		if err := s.matches.CancelMove(req.MatchID, player); err != nil {
			return nil, err
		}
		return map[string]string{"status": "cancelled"}, nil
	})

	s.RegisterHandler(MethodMatchStop, func(_ context.Context, _ *ClientInfo, payload json.RawMessage) (any, error) {
		req, err := decodeMatchRequest(payload)
		if err != nil {
			return nil, err
		}
		if err := s.matches.Stop(req.MatchID); err != nil {
			return nil, err
		}
		return map[string]string{"status": "stopping"}, nil
	})
}

func (s *Server) dispatchRPC(ctx context.Context, cc *clientConn, req Frame) {
	s.handlersMu.RLock()
	handler, ok := s.handlers[req.Method]
	s.handlersMu.RUnlock()
	if !ok {
		s.sendResponse(cc, req.ID, nil, fmt.Errorf("%w: unknown method %q", domain.ErrInvalidInput, req.Method))
		return
	}

	result, err := handler(ctx, cc.info, req.Payload)
	s.sendResponse(cc, req.ID, result, err)
}

func (s *Server) sendResponse(cc *clientConn, id uint64, result any, err error) {
	resp := Frame{Type: FrameTypeResponse, ID: id}
	if err != nil {
		resp.Error = err.Error()
		resp.Code = string(domain.ErrorCodeOf(err))
	} else if result != nil {
		raw, merr := json.Marshal(result)
		if merr != nil {
			resp.Error = merr.Error()
			resp.Code = string(domain.CodeUnknown)
		} else {
			resp.Payload = raw
		}
	}
	select {
	case cc.sendCh <- resp:
	default:
		s.logger.Warn("gateway: dropped RPC response for slow client", "frame_id", id)
	}
}
