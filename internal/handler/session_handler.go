package handler

import (
	"net/http"
	"time"

	"github.com/hitoshi/aidaily/internal/feed"
	"github.com/hitoshi/aidaily/internal/middleware"
	"github.com/hitoshi/aidaily/internal/model"
	"github.com/hitoshi/aidaily/internal/session"
)

// SessionReader はセッションの読み取り口。
type SessionReader interface {
	State() session.State
}

// SessionHandler はセッションとプロフィールのHTTPハンドラー。
type SessionHandler struct {
	sessions SessionReader
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(sessions SessionReader) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// userResponse はユーザー情報のAPIレスポンス。
type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// sessionResponse はセッション状態のAPIレスポンス。トークンは含まない。
type sessionResponse struct {
	Loading   bool          `json:"loading"`
	SignedIn  bool          `json:"signed_in"`
	User      *userResponse `json:"user"`
	ExpiresAt *time.Time    `json:"expires_at,omitempty"`
}

// GetSession は現在のセッション状態を返す。
// GET /api/session
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	st := h.sessions.State()

	resp := sessionResponse{Loading: st.Loading, SignedIn: st.SignedIn()}
	if u := st.User(); u != nil {
		resp.User = toUserResponse(u)
	}
	if st.Session != nil && !st.Session.ExpiresAt.IsZero() {
		exp := st.Session.ExpiresAt
		resp.ExpiresAt = &exp
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// GetProfile はサインイン中のユーザーのプロフィールを返す。
// GET /api/profile
func (h *SessionHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	u := h.sessions.State().User()
	if u == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthRequiredError())
		return
	}
	middleware.WriteJSON(w, http.StatusOK, feed.NewProfile(u))
}

func toUserResponse(u *model.User) *userResponse {
	return &userResponse{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		CreatedAt: u.CreatedAt,
	}
}
