package webhook

import (
	"errors"
	"net/http"

	"github.com/nexledger/ledgerd/internal/httputil"
	"github.com/nexledger/ledgerd/internal/interaction"
)

// callbackRequest is the wire shape of a POST /webhooks/cards body.
type callbackRequest struct {
	CardID            string                 `json:"card_id"`
	Token             string                 `json:"callback_token"`
	Action            string                 `json:"action"`
	ActorRole         string                 `json:"actor_role"`
	CallbackTimestamp int64                  `json:"callback_timestamp"`
	ExtraPayload      map[string]interface{} `json:"extra_payload"`
}

func handleCallback(hub Hub, nowFn func() int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req callbackRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
		if req.CardID == "" || req.Token == "" || req.Action == "" {
			httputil.BadRequest(w, "card_id, callback_token and action are required")
			return
		}

		cb := interaction.Callback{
			CardID:            req.CardID,
			Token:             req.Token,
			Action:            req.Action,
			ActorRole:         req.ActorRole,
			CallbackTimestamp: req.CallbackTimestamp,
			ExtraPayload:      req.ExtraPayload,
		}

		err := hub.HandleCallback(r.Context(), cb, nowFn())
		switch {
		case err == nil:
			httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "applied"})
		case errors.Is(err, interaction.ErrInvalidSignature):
			httputil.Unauthorized(w, "invalid callback signature")
		case errors.Is(err, interaction.ErrExpired):
			httputil.WriteError(w, http.StatusGone, "card or callback expired")
		case errors.Is(err, interaction.ErrReplay):
			httputil.WriteErrorWithCode(w, http.StatusConflict, "replay", "callback already processed")
		case errors.Is(err, interaction.ErrUnauthorizedRole):
			httputil.Unauthorized(w, "actor role not authorized for this card")
		case errors.Is(err, interaction.ErrInvalidTransition):
			httputil.WriteError(w, http.StatusConflict, "card not in a state that accepts this action")
		default:
			httputil.InternalError(w, "")
		}
	}
}
