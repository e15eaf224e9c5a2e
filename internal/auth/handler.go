package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-order-pipeline/internal/httpx"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

type Handler struct {
	Users  UserStore
	Tokens *Tokens
	Log    zerolog.Logger
	Cost   int // bcrypt cost; 0 = bcrypt.DefaultCost
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/register", h.register)
	r.Post("/login", h.login)
}

func decodeCredentials(r *http.Request) (credentials, bool) {
	var c credentials
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		return c, false
	}
	c.Username = strings.TrimSpace(c.Username)
	return c, c.Username != "" && c.Password != ""
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	c, ok := decodeCredentials(r)
	if !ok {
		httpx.WriteError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(c.Password), cost)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := h.Users.CreateUser(ctx, c.Username, string(hash)); err != nil {
		if errors.Is(err, ErrUserExists) {
			httpx.WriteError(w, http.StatusConflict, "username already taken")
			return
		}
		h.Log.Error().Err(err).Str("username", c.Username).Msg("register failed")
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.Log.Info().Str("username", c.Username).Msg("user registered")
	httpx.WriteJSON(w, http.StatusCreated, map[string]string{"username": c.Username})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	c, ok := decodeCredentials(r)
	if !ok {
		httpx.WriteError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	hash, err := h.Users.PasswordHash(ctx, c.Username)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		h.Log.Error().Err(err).Msg("login lookup failed")
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err != nil || bcrypt.CompareHashAndPassword([]byte(hash), []byte(c.Password)) != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	token, err := h.Tokens.Issue(c.Username)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"token": token})
}
