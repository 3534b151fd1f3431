package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/vitisco/internal/auth"
	"github.com/dukerupert/vitisco/internal/email"
	"github.com/dukerupert/vitisco/internal/handler"
	"github.com/dukerupert/vitisco/internal/lesson"
	"github.com/dukerupert/vitisco/internal/middleware"
	"github.com/dukerupert/vitisco/internal/quiz"
	"github.com/dukerupert/vitisco/internal/store"
	ws "github.com/dukerupert/vitisco/internal/websocket"
)

const (
	authRateLimit  = 10
	authRateWindow = time.Minute
)

// Deps are the long-lived components the server is built from.
type Deps struct {
	DB          *sql.DB
	Tokens      *auth.TokenIssuer
	Catalog     *lesson.Catalog
	Quiz        *quiz.Manager
	Limiter     middleware.Limiter
	Mailer      email.Sender
	Development bool
	Logger      *slog.Logger
}

type Server struct {
	hub           *ws.Hub
	tokens        *auth.TokenIssuer
	limiter       middleware.Limiter
	userStore     *store.UserStore
	progressStore *store.ProgressStore
	notifier      *handler.Notifier
	authH         *handler.AuthHandler
	passwordH     *handler.PasswordHandler
	userH         *handler.UserHandler
	badgeH        *handler.BadgeHandler
	rewardH       *handler.RewardHandler
	voucherH      *handler.VoucherHandler
	lessonH       *handler.LessonHandler
	quizH         *handler.QuizHandler
	logger        *slog.Logger
}

func New(d Deps) *Server {
	logger := d.Logger
	hub := ws.NewHub(logger.With("component", "websocket"))

	userStore := store.NewUserStore(d.DB)
	followStore := store.NewFollowStore(d.DB)
	badgeStore := store.NewBadgeStore(d.DB)
	rewardStore := store.NewRewardStore(d.DB)
	voucherStore := store.NewVoucherStore(d.DB)
	progressStore := store.NewProgressStore(d.DB)
	notificationStore := store.NewNotificationStore(d.DB)

	mailer := d.Mailer
	if mailer == nil {
		mailer = email.LogSender{Logger: logger.With("component", "email")}
	}

	notifier := handler.NewNotifier(notificationStore, hub, logger.With("component", "notify"))

	s := &Server{
		hub:           hub,
		tokens:        d.Tokens,
		limiter:       d.Limiter,
		userStore:     userStore,
		progressStore: progressStore,
		notifier:      notifier,
		authH:         handler.NewAuthHandler(userStore, d.Tokens, logger.With("component", "auth"), d.Development),
		passwordH:     handler.NewPasswordHandler(userStore, store.NewPasswordResetStore(d.DB), mailer, logger.With("component", "password"), d.Development),
		userH:         handler.NewUserHandler(userStore, followStore, badgeStore, rewardStore, progressStore, notificationStore, notifier, logger.With("component", "user"), d.Development),
		badgeH:        handler.NewBadgeHandler(badgeStore, notifier, logger.With("component", "badge"), d.Development),
		rewardH:       handler.NewRewardHandler(rewardStore, notifier, logger.With("component", "reward"), d.Development),
		voucherH:      handler.NewVoucherHandler(voucherStore, userStore, notifier, logger.With("component", "voucher"), d.Development),
		lessonH:       handler.NewLessonHandler(d.Catalog, userStore, progressStore, notifier, logger.With("component", "lesson"), d.Development),
		quizH:         handler.NewQuizHandler(d.Catalog, d.Quiz, logger.With("component", "quiz"), d.Development),
		logger:        logger,
	}

	d.Quiz.OnComplete(s.quizCompleted)
	d.Quiz.OnChange(func(userID int64, v quiz.View) {
		hub.SendToUser(userID, ws.NewMessage("quiz", "state", 0, v))
	})

	return s
}

// Hub returns the websocket hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// quizCompleted credits the XP a finished quiz earned.
func (s *Server) quizCompleted(ctx context.Context, c quiz.Completion) error {
	if c.Result.XPEarned <= 0 {
		return nil
	}
	total, err := s.progressStore.CreditXP(ctx, c.UserID, c.Result.XPEarned, "Quiz: "+c.Title)
	if err != nil {
		return fmt.Errorf("credit quiz xp: %w", err)
	}

	s.logger.Info("quiz completed", "user_id", c.UserID, "lesson_id", c.LessonID, "correct", c.Result.Correct, "xp", c.Result.XPEarned)
	s.notifier.Notify(c.UserID, "xp", fmt.Sprintf("You earned %d XP in %s", c.Result.XPEarned, c.Title))
	if user, err := s.userStore.GetByID(c.UserID); err == nil && user != nil {
		s.notifier.PointsChanged(c.UserID, user.Points, total)
	}
	return nil
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("POST /api/auth/register", s.rateLimitedHandler(s.authH.Register))
	outerMux.HandleFunc("POST /api/auth/login", s.rateLimitedHandler(s.authH.Login))
	outerMux.HandleFunc("POST /api/auth/request-otp", s.rateLimitedHandler(s.passwordH.RequestCode))
	outerMux.HandleFunc("POST /api/auth/verify-otp", s.rateLimitedHandler(s.passwordH.VerifyCode))
	outerMux.HandleFunc("POST /api/auth/reset-password", s.rateLimitedHandler(s.passwordH.Reset))
	outerMux.HandleFunc("GET /api/lessons/languages", s.lessonH.Languages)
	outerMux.HandleFunc("GET /health", s.healthHandler)

	// Protected routes, wrapped with RequireAuth middleware
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.tokens, s.userStore)
	outerMux.Handle("/", authMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return "auth:" + middleware.RealIP(r)
	}
	return middleware.RateLimit(s.limiter, keyFunc, authRateLimit, authRateWindow)(h).ServeHTTP
}

func admin(h http.HandlerFunc) http.Handler {
	return middleware.RequireAdmin(h)
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	// Users
	mux.HandleFunc("GET /api/users/profile", s.userH.Profile)
	mux.HandleFunc("PUT /api/users/profile", s.userH.UpdateProfile)
	mux.HandleFunc("GET /api/users/xp", s.userH.XP)
	mux.HandleFunc("GET /api/users/notifications", s.userH.Notifications)
	mux.HandleFunc("POST /api/users/notifications/read", s.userH.MarkNotificationsRead)
	mux.HandleFunc("GET /api/users/followers", s.userH.Followers)
	mux.HandleFunc("GET /api/users/following", s.userH.Following)
	mux.HandleFunc("POST /api/users/follow/{userId}", s.userH.Follow)
	mux.HandleFunc("DELETE /api/users/follow/{userId}", s.userH.Unfollow)
	mux.HandleFunc("GET /api/users/vouchers/available", s.voucherH.Available)
	mux.HandleFunc("GET /api/users/vouchers/redeemed", s.voucherH.Redeemed)
	mux.HandleFunc("POST /api/users/vouchers/{id}/use", s.voucherH.MarkUsed)
	mux.Handle("POST /api/admin/users/{userId}/points", admin(s.userH.AdjustPoints))

	// Badges
	mux.HandleFunc("GET /api/badges", s.badgeH.List)
	mux.HandleFunc("GET /api/badges/user", s.badgeH.Mine)
	mux.HandleFunc("GET /api/badges/user/{userId}", s.badgeH.ForUser)
	mux.Handle("POST /api/badges", admin(s.badgeH.Create))
	mux.Handle("POST /api/badges/award", admin(s.badgeH.Award))

	// Rewards
	mux.HandleFunc("GET /api/rewards", s.rewardH.List)
	mux.HandleFunc("GET /api/rewards/user", s.rewardH.Mine)
	mux.HandleFunc("GET /api/rewards/user/{userId}", s.rewardH.ForUser)
	mux.Handle("POST /api/rewards", admin(s.rewardH.Create))
	mux.Handle("POST /api/rewards/award", admin(s.rewardH.Award))

	// Vouchers
	mux.HandleFunc("GET /api/vouchers", s.voucherH.List)
	mux.HandleFunc("GET /api/vouchers/user", s.voucherH.Redeemed)
	mux.HandleFunc("POST /api/vouchers/redeem", s.voucherH.Redeem)
	mux.Handle("POST /api/vouchers", admin(s.voucherH.Create))

	// Lessons
	mux.HandleFunc("GET /api/lessons", s.lessonH.List)
	mux.HandleFunc("GET /api/lessons/{id}", s.lessonH.Get)
	mux.HandleFunc("GET /api/lessons/{id}/quiz", s.lessonH.Quiz)
	mux.HandleFunc("POST /api/lessons/{id}/complete", s.lessonH.Complete)

	// Quiz sessions
	mux.HandleFunc("POST /api/quiz/sessions", s.quizH.Create)
	mux.HandleFunc("GET /api/quiz/sessions/{id}", s.quizH.Get)
	mux.HandleFunc("POST /api/quiz/sessions/{id}/start", s.quizH.Start)
	mux.HandleFunc("POST /api/quiz/sessions/{id}/answer", s.quizH.Answer)
	mux.HandleFunc("POST /api/quiz/sessions/{id}/exit", s.quizH.Exit)
	mux.HandleFunc("POST /api/quiz/sessions/{id}/retry", s.quizH.Retry)

	// WebSocket
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.logger.With("component", "websocket")))
}
