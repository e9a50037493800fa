package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pesio-ai/be-shop-accounts/internal/form"
	"github.com/pesio-ai/be-shop-accounts/internal/metrics"
	"github.com/pesio-ai/be-shop-accounts/internal/repository"
	"github.com/pesio-ai/be-shop-accounts/internal/service"
	jwtpkg "github.com/pesio-ai/be-shop-accounts/pkg/jwt"
	"github.com/pesio-ai/be-shop-accounts/pkg/logger"
)

const sessionCookie = "session"

// Flash categories
const (
	flashSuccess = "success"
	flashDanger  = "danger"
	flashInfo    = "info"
)

// HTTPHandler serves the shop's account pages as JSON
type HTTPHandler struct {
	accounts     *service.AccountService
	store        repository.Store
	sessions     *jwtpkg.Manager
	metrics      *metrics.Registry
	gatherer     prometheus.Gatherer
	secureCookie bool
	log          *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(
	accounts *service.AccountService,
	store repository.Store,
	sessions *jwtpkg.Manager,
	m *metrics.Registry,
	gatherer prometheus.Gatherer,
	secureCookie bool,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		accounts:     accounts,
		store:        store,
		sessions:     sessions,
		metrics:      m,
		gatherer:     gatherer,
		secureCookie: secureCookie,
		log:          log,
	}
}

// Routes wires every endpoint onto a chi router
func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(h.metrics.Middleware)
	r.Use(recoverer(h.log))
	r.Use(middleware.Timeout(30 * time.Second))

	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/", h.Home)
	r.Post("/register", h.Register)
	r.Post("/login", h.Login)
	r.Post("/logout", h.Logout)
	r.Get("/users/{id}", h.Profile)

	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	return r
}

type productView struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Price string `json:"price"`
}

type sessionView struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

type homeResponse struct {
	Greeting string        `json:"greeting"`
	Products []productView `json:"products"`
	Flash    *Flash        `json:"flash,omitempty"`
	User     *sessionView  `json:"user,omitempty"`
}

// Home shows the greeting, the catalog and any pending flash
func (h *HTTPHandler) Home(w http.ResponseWriter, r *http.Request) {
	products, err := h.store.Products().List(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list products")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := homeResponse{
		Greeting: Greeting(r.UserAgent()),
		Products: make([]productView, 0, len(products)),
		Flash:    h.popFlash(w, r),
	}
	for _, p := range products {
		resp.Products = append(resp.Products, productView{ID: p.ID, Name: p.Name, Price: p.Price})
	}
	if claims := h.currentSession(r); claims != nil {
		resp.User = &sessionView{UserID: claims.UserID, Email: claims.Email}
	}

	writeJSON(w, http.StatusOK, resp)
}

type validationResponse struct {
	Errors *form.FieldErrors `json:"errors"`
}

type userIDResponse struct {
	UserID string `json:"user_id"`
}

// Register handles the sign-up form
func (h *HTTPHandler) Register(w http.ResponseWriter, r *http.Request) {
	var f form.RegistrationForm
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := form.ValidateRegistration(&f); err != nil {
		h.metrics.Registration(metrics.StatusValidationFailed)
		h.writeFieldErrors(w, err)
		return
	}

	birthDate, err := f.ParsedBirthDate()
	if err != nil {
		h.metrics.Registration(metrics.StatusValidationFailed)
		fe := &form.FieldErrors{}
		fe.Add("birth_date", "Must be a date in YYYY-MM-DD format.")
		h.writeFieldErrors(w, fe)
		return
	}

	req := &service.RegisterRequest{
		Email:     f.Email,
		FullName:  f.FullName,
		BirthDate: birthDate,
		Gender:    repository.Gender(f.Gender),
		Password:  f.Password,
	}
	if f.Phone != "" {
		req.Phone = &f.Phone
	}

	userID, err := h.accounts.RegisterAccount(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrFieldValidation):
			h.writeFieldErrors(w, err)
		case errors.Is(err, service.ErrWeakPassword):
			fe := &form.FieldErrors{}
			fe.Add("password", "Must be at least 8 characters long.")
			h.writeFieldErrors(w, fe)
		case errors.Is(err, service.ErrEmailAlreadyExists):
			h.setFlash(w, flashDanger, "That email address is already registered.")
			writeError(w, http.StatusConflict, "email already registered")
		case errors.Is(err, service.ErrPhoneAlreadyExists):
			h.setFlash(w, flashDanger, "That phone number is already registered.")
			writeError(w, http.StatusConflict, "phone already registered")
		case errors.Is(err, service.ErrMissingDefaultRole):
			// details are in the service log; the visitor gets a plain 500
			writeError(w, http.StatusInternalServerError, "internal server error")
		default:
			h.log.Error().Err(err).Msg("Registration failed")
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	h.setFlash(w, flashSuccess, "Your account has been created. You can now log in.")
	writeJSON(w, http.StatusCreated, userIDResponse{UserID: userID})
}

// Login handles the sign-in form and sets the session cookie
func (h *HTTPHandler) Login(w http.ResponseWriter, r *http.Request) {
	var f form.LoginForm
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := form.ValidateLogin(&f); err != nil {
		h.metrics.Login(metrics.StatusValidationFailed)
		h.writeFieldErrors(w, err)
		return
	}

	userID, err := h.accounts.Authenticate(r.Context(), f.Email, f.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			h.setFlash(w, flashDanger, "Invalid email or password.")
			writeError(w, http.StatusUnauthorized, "invalid email or password")
			return
		}
		h.log.Error().Err(err).Msg("Login failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	token, err := h.sessions.IssueSession(userID, repository.NormalizeEmail(f.Email))
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to issue session")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.sessions.SessionTTL().Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	h.setFlash(w, flashSuccess, "Welcome back!")
	writeJSON(w, http.StatusOK, userIDResponse{UserID: userID})
}

// Logout clears the session cookie
func (h *HTTPHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	h.setFlash(w, flashInfo, "You have been logged out.")
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

type roleView struct {
	Name          string `json:"name"`
	IsSystemAdmin bool   `json:"is_system_admin"`
}

type profileResponse struct {
	ID        string     `json:"id"`
	FullName  string     `json:"full_name"`
	Roles     []roleView `json:"roles"`
	CreatedAt time.Time  `json:"created_at"`

	// owner-only fields
	Email       string     `json:"email,omitempty"`
	BirthDate   string     `json:"birth_date,omitempty"`
	Gender      string     `json:"gender,omitempty"`
	Phone       *string    `json:"phone,omitempty"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// Profile shows a user page. Contact details are only included when the
// viewer is that user.
func (h *HTTPHandler) Profile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	profile, err := h.accounts.GetProfile(r.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrAccountNotFound) {
			notFound(w, r)
			return
		}
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to load profile")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	u := profile.User
	resp := profileResponse{
		ID:        u.ID,
		FullName:  u.FullName,
		Roles:     make([]roleView, 0, len(profile.Roles)),
		CreatedAt: u.CreatedAt,
	}
	for _, role := range profile.Roles {
		resp.Roles = append(resp.Roles, roleView{Name: role.Name, IsSystemAdmin: role.IsSystemAdmin})
	}

	if claims := h.currentSession(r); claims != nil && claims.UserID == u.ID {
		resp.Email = u.Email
		resp.BirthDate = u.BirthDate.Format(form.DateLayout)
		resp.Gender = string(u.Gender)
		resp.Phone = u.Phone
		resp.LastLoginAt = u.LastLoginAt
	}

	writeJSON(w, http.StatusOK, resp)
}

// Health reports whether the store is reachable
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.log.Warn().Err(err).Msg("Health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) currentSession(r *http.Request) *jwtpkg.Claims {
	c, err := r.Cookie(sessionCookie)
	if err != nil || c.Value == "" {
		return nil
	}
	claims, err := h.sessions.ValidateToken(c.Value)
	if err != nil {
		return nil
	}
	return claims
}

func (h *HTTPHandler) writeFieldErrors(w http.ResponseWriter, err error) {
	var fe *form.FieldErrors
	if !errors.As(err, &fe) {
		h.log.Error().Err(err).Msg("Unexpected validation error")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusUnprocessableEntity, validationResponse{Errors: fe})
}
