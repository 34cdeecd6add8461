package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-dirchat/internal/auth"
	"github.com/npezzotti/go-dirchat/internal/server"
)

var validate = validator.New()

type LoginRequest struct {
	Username string `json:"username" validate:"required,max=100"`
	Password string `json:"password" validate:"required"`
}

type SendMessageRequest struct {
	RecipientId int    `json:"recipient_id" validate:"required,gt=0"`
	Content     string `json:"content" validate:"max=10000"`
	FileIds     []int  `json:"file_ids,omitempty" validate:"dive,gt=0"`
}

type UnreadCountResponse struct {
	Count int `json:"count"`
}

type MarkAllReadResponse struct {
	Updated int `json:"updated"`
}

func (s *GoChatApp) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("json encode")
	}
}

func (s *GoChatApp) writeError(w http.ResponseWriter, errResp *ApiError) {
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.log.Error().Err(errResp).Msg("request failed")
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

// decodeJson reads a JSON body into v and validates it.
func decodeJson(r *http.Request, v any) *ApiError {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return NewBadRequestError()
	}
	if err := validate.Struct(v); err != nil {
		return NewValidationError(err)
	}
	return nil
}

// pathId parses a positive integer URL parameter.
func pathId(r *http.Request, name string) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (s *GoChatApp) currentSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	sess, ok := SessionFrom(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
	}
	return sess, ok
}

func (s *GoChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *GoChatApp) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if errResp := decodeJson(r, &req); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	identity, err := s.authn.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.log.Info().Str("username", req.Username).Msg("login rejected")
			s.writeError(w, NewUnauthorizedError())
			return
		}
		s.writeError(w, NewInternalServerError(err))
		return
	}

	dbUser, err := s.db.UpsertDirectoryUser(r.Context(), auth.UpsertParams(identity))
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	sess := Session{UserId: dbUser.Id, IsAdmin: identity.IsAdmin}
	token, err := s.createJwtForSession(sess, s.sessionTTL)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	http.SetCookie(w, createJwtCookie(token, s.sessionTTL))

	u := server.ToUser(dbUser)
	u.IsAdmin = identity.IsAdmin
	s.writeJson(w, http.StatusOK, u)
}

func (s *GoChatApp) logout(w http.ResponseWriter, _ *http.Request) {
	// overwrite the cookie with an expired one so the browser drops it
	http.SetCookie(w, expiredJwtCookie())
	w.WriteHeader(http.StatusNoContent)
}

func (s *GoChatApp) session(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.currentSession(w, r)
	if !ok {
		return
	}

	u, err := s.cs.UserInfo(r.Context(), sess.UserId)
	if err != nil {
		s.writeError(w, errorFromCore(err))
		return
	}
	u.IsAdmin = sess.IsAdmin

	s.writeJson(w, http.StatusOK, u)
}

func (s *GoChatApp) inbox(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.currentSession(w, r)
	if !ok {
		return
	}

	convs, err := s.cs.Inbox(r.Context(), sess.authContext())
	if err != nil {
		s.writeError(w, errorFromCore(err))
		return
	}

	s.writeJson(w, http.StatusOK, convs)
}

func (s *GoChatApp) unreadCount(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.currentSession(w, r)
	if !ok {
		return
	}

	count, err := s.cs.UnreadCount(r.Context(), sess.authContext())
	if err != nil {
		s.writeError(w, errorFromCore(err))
		return
	}

	s.writeJson(w, http.StatusOK, UnreadCountResponse{Count: count})
}

func (s *GoChatApp) onlineUsers(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.cs.OnlineUsers(r.Context())
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, snapshot)
}

func (s *GoChatApp) userInfo(w http.ResponseWriter, r *http.Request) {
	id, ok := pathId(r, "id")
	if !ok {
		s.writeError(w, NewBadRequestError())
		return
	}

	u, err := s.cs.UserInfo(r.Context(), id)
	if err != nil {
		s.writeError(w, errorFromCore(err))
		return
	}

	s.writeJson(w, http.StatusOK, u)
}

func (s *GoChatApp) sendMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.currentSession(w, r)
	if !ok {
		return
	}

	var req SendMessageRequest
	if errResp := decodeJson(r, &req); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	msg, err := s.cs.Deliver(r.Context(), sess.authContext(), server.DeliveryRequest{
		RecipientId: req.RecipientId,
		Content:     req.Content,
		FileIds:     req.FileIds,
	})
	if err != nil {
		s.writeError(w, errorFromCore(err))
		return
	}

	s.writeJson(w, http.StatusCreated, msg)
}

func (s *GoChatApp) history(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.currentSession(w, r)
	if !ok {
		return
	}

	peerId, ok := pathId(r, "peerId")
	if !ok {
		s.writeError(w, NewBadRequestError())
		return
	}

	msgs, err := s.cs.History(r.Context(), sess.authContext(), peerId)
	if err != nil {
		s.writeError(w, errorFromCore(err))
		return
	}

	s.writeJson(w, http.StatusOK, msgs)
}

func (s *GoChatApp) markRead(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.currentSession(w, r)
	if !ok {
		return
	}

	id, ok := pathId(r, "id")
	if !ok {
		s.writeError(w, NewBadRequestError())
		return
	}

	if err := s.cs.MarkRead(r.Context(), sess.authContext(), id); err != nil {
		s.writeError(w, errorFromCore(err))
		return
	}

	s.writeJson(w, http.StatusOK, server.MessageRead{MessageId: id, IsRead: true})
}

func (s *GoChatApp) markAllRead(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.currentSession(w, r)
	if !ok {
		return
	}

	senderId, ok := pathId(r, "senderId")
	if !ok {
		s.writeError(w, NewBadRequestError())
		return
	}

	n, err := s.cs.MarkAllRead(r.Context(), sess.authContext(), senderId)
	if err != nil {
		s.writeError(w, errorFromCore(err))
		return
	}

	s.writeJson(w, http.StatusOK, MarkAllReadResponse{Updated: n})
}

func (s *GoChatApp) adminStats(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.currentSession(w, r)
	if !ok {
		return
	}

	st, err := s.cs.AdminStats(r.Context(), sess.authContext())
	if err != nil {
		s.writeError(w, errorFromCore(err))
		return
	}

	s.writeJson(w, http.StatusOK, st)
}

// serveWs upgrades the connection whether or not a session is present. A
// socket without one is told to reconnect by the chat server.
func (s *GoChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	var authCtx server.AuthContext
	if sess, err := s.sessionFromRequest(r); err == nil {
		authCtx = sess.authContext()
	} else {
		s.log.Debug().Err(err).Msg("websocket without valid session")
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("upgrade connection")
		return
	}

	client := server.NewClient(conn, s.cs, authCtx, s.log)
	if err := s.cs.Connect(r.Context(), client); err != nil {
		s.log.Warn().Err(err).Msg("connection refused")
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	go client.Write()
	go client.Read()
}
