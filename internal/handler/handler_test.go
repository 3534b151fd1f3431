package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukerupert/vitisco/internal/auth"
	"github.com/dukerupert/vitisco/internal/database"
	"github.com/dukerupert/vitisco/internal/lesson"
	"github.com/dukerupert/vitisco/internal/quiz"
	"github.com/dukerupert/vitisco/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestUser(t *testing.T, db *sql.DB, name, email string) int64 {
	t.Helper()
	u, err := store.NewUserStore(db).Create(name, email, "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u.ID
}

func newTestNotifier(db *sql.DB) *Notifier {
	return NewNotifier(store.NewNotificationStore(db), nil, testLogger())
}

type response struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// call runs h for userID with an optional JSON body and path values.
func call(t *testing.T, h http.HandlerFunc, userID int64, body any, pathValues ...string) (int, response) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	for i := 0; i+1 < len(pathValues); i += 2 {
		req.SetPathValue(pathValues[i], pathValues[i+1])
	}
	if userID != 0 {
		req = req.WithContext(auth.WithAuth(req.Context(), auth.AuthContext{UserID: userID}))
	}

	rec := httptest.NewRecorder()
	h(rec, req)

	var resp response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response (status %d): %v", rec.Code, err)
	}
	return rec.Code, resp
}

func decodeData(t *testing.T, resp response, v any) {
	t.Helper()
	if err := json.Unmarshal(resp.Data, v); err != nil {
		t.Fatalf("decode data %s: %v", resp.Data, err)
	}
}

func TestHandle(t *testing.T) {
	tests := []struct {
		name string
		id   int64
		want string
	}{
		{"Nimal Perera", 7, "@nimalperera7"},
		{"ANU", 12, "@anu12"},
		{" Kamal\tSilva ", 3, "@kamalsilva3"},
	}
	for _, tt := range tests {
		if got := Handle(tt.name, tt.id); got != tt.want {
			t.Errorf("Handle(%q, %d) = %q, want %q", tt.name, tt.id, got, tt.want)
		}
	}
}

func TestErrorWriterMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		dev        bool
		wantStatus int
		wantMsg    string
		wantDetail bool
	}{
		{"rule error", store.ErrInsufficientPoints, false, http.StatusBadRequest, "Not enough points to redeem this voucher", false},
		{"wrapped rule error", fmt.Errorf("redeem: %w", store.ErrVoucherUnavailable), false, http.StatusBadRequest, "Voucher not available or expired", false},
		{"quiz session", quiz.ErrSessionNotFound, false, http.StatusNotFound, "Quiz session not found", false},
		{"quiz state", quiz.ErrWrongState, false, http.StatusBadRequest, "Action not allowed right now", false},
		{"internal", errors.New("disk on fire"), false, http.StatusInternalServerError, msgServerError, false},
		{"internal dev", errors.New("disk on fire"), true, http.StatusInternalServerError, msgServerError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ew := errorWriter{logger: testLogger(), dev: tt.dev}
			rec := httptest.NewRecorder()
			ew.fail(rec, tt.err, "test")

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var resp response
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Success {
				t.Error("success = true, want false")
			}
			if resp.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", resp.Message, tt.wantMsg)
			}
			if (resp.Error != "") != tt.wantDetail {
				t.Errorf("error detail = %q, want present=%v", resp.Error, tt.wantDetail)
			}
		})
	}
}

func TestAuthRegisterAndLogin(t *testing.T) {
	db := setupTestDB(t)
	tokens, err := auth.NewTokenIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}
	h := NewAuthHandler(store.NewUserStore(db), tokens, testLogger(), false)

	status, resp := call(t, h.Register, 0, map[string]string{
		"name": "Nimal", "email": "Nimal@Example.com", "password": "secret1",
	})
	if status != http.StatusCreated || !resp.Success {
		t.Fatalf("register = %d %+v, want 201 success", status, resp)
	}
	var session struct {
		Token string `json:"token"`
		User  struct {
			UserID         int64  `json:"userId"`
			Email          string `json:"email"`
			MembershipType string `json:"membershipType"`
			Followers      int    `json:"followers"`
		} `json:"user"`
	}
	decodeData(t, resp, &session)
	if session.Token == "" {
		t.Error("token is empty")
	}
	if session.User.Email != "nimal@example.com" {
		t.Errorf("email = %q, want lowercased", session.User.Email)
	}
	if session.User.MembershipType != "Bronze" {
		t.Errorf("membershipType = %q, want Bronze", session.User.MembershipType)
	}
	claims, err := tokens.Verify(session.Token)
	if err != nil || claims.UserID != session.User.UserID {
		t.Errorf("Verify(token) = %+v, %v", claims, err)
	}

	status, resp = call(t, h.Register, 0, map[string]string{
		"name": "Other", "email": "nimal@example.com", "password": "x",
	})
	if status != http.StatusBadRequest || resp.Message != "Email already in use" {
		t.Errorf("duplicate register = %d %q", status, resp.Message)
	}

	status, resp = call(t, h.Register, 0, map[string]string{"email": "a@b.c"})
	if status != http.StatusBadRequest {
		t.Errorf("incomplete register status = %d, want 400", status)
	}

	tests := []struct {
		name       string
		email      string
		password   string
		wantStatus int
	}{
		{"ok", "nimal@example.com", "secret1", http.StatusOK},
		{"wrong password", "nimal@example.com", "nope", http.StatusBadRequest},
		{"unknown email", "ghost@example.com", "secret1", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := call(t, h.Login, 0, map[string]string{"email": tt.email, "password": tt.password})
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusBadRequest && resp.Message != msgBadCredentials {
				t.Errorf("message = %q, want %q", resp.Message, msgBadCredentials)
			}
		})
	}
}

func TestFollowHandler(t *testing.T) {
	db := setupTestDB(t)
	a := createTestUser(t, db, "Alice", "alice@example.com")
	b := createTestUser(t, db, "Bob", "bob@example.com")
	ns := store.NewNotificationStore(db)
	h := NewUserHandler(store.NewUserStore(db), store.NewFollowStore(db), store.NewBadgeStore(db),
		store.NewRewardStore(db), store.NewProgressStore(db), ns, newTestNotifier(db), testLogger(), false)

	id := func(n int64) string { return fmt.Sprint(n) }

	tests := []struct {
		name       string
		handler    http.HandlerFunc
		target     string
		wantStatus int
		wantMsg    string
	}{
		{"missing target", h.Follow, "999", http.StatusNotFound, "User not found"},
		{"self", h.Follow, id(a), http.StatusBadRequest, "You cannot follow yourself"},
		{"follow", h.Follow, id(b), http.StatusOK, "User followed successfully"},
		{"again", h.Follow, id(b), http.StatusBadRequest, "Already following this user"},
		{"unfollow", h.Unfollow, id(b), http.StatusOK, "User unfollowed successfully"},
		{"unfollow again", h.Unfollow, id(b), http.StatusBadRequest, "Not following this user"},
		{"bad id", h.Follow, "abc", http.StatusBadRequest, "Invalid user id"},
	}
	for _, tt := range tests {
		status, resp := call(t, tt.handler, a, nil, "userId", tt.target)
		if status != tt.wantStatus || resp.Message != tt.wantMsg {
			t.Errorf("%s: got %d %q, want %d %q", tt.name, status, resp.Message, tt.wantStatus, tt.wantMsg)
		}
	}

	notes, err := ns.List(b, 10)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(notes) != 1 || notes[0].Kind != "follow" {
		t.Errorf("followee notifications = %+v, want one follow notification", notes)
	}
}

func TestProfileHandler(t *testing.T) {
	db := setupTestDB(t)
	a := createTestUser(t, db, "Nimal Perera", "nimal@example.com")
	b := createTestUser(t, db, "Bob", "bob@example.com")
	if err := store.NewFollowStore(db).Follow(b, a); err != nil {
		t.Fatalf("follow: %v", err)
	}
	h := NewUserHandler(store.NewUserStore(db), store.NewFollowStore(db), store.NewBadgeStore(db),
		store.NewRewardStore(db), store.NewProgressStore(db), store.NewNotificationStore(db), newTestNotifier(db), testLogger(), false)

	status, resp := call(t, h.Profile, a, nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	var p struct {
		Handle    string            `json:"handle"`
		Followers int               `json:"followers"`
		Badges    []json.RawMessage `json:"badges"`
	}
	decodeData(t, resp, &p)
	if want := fmt.Sprintf("@nimalperera%d", a); p.Handle != want {
		t.Errorf("handle = %q, want %q", p.Handle, want)
	}
	if p.Followers != 1 {
		t.Errorf("followers = %d, want 1", p.Followers)
	}
	if p.Badges == nil {
		t.Error("badges = null, want []")
	}
}

func TestAdjustPointsHandler(t *testing.T) {
	db := setupTestDB(t)
	a := createTestUser(t, db, "Alice", "alice@example.com")
	h := NewUserHandler(store.NewUserStore(db), store.NewFollowStore(db), store.NewBadgeStore(db),
		store.NewRewardStore(db), store.NewProgressStore(db), store.NewNotificationStore(db), newTestNotifier(db), testLogger(), false)

	status, resp := call(t, h.AdjustPoints, 1, map[string]int{"amount": 250}, "userId", fmt.Sprint(a))
	if status != http.StatusOK {
		t.Fatalf("credit = %d %q, want 200", status, resp.Message)
	}
	var data struct {
		Points int `json:"points"`
	}
	decodeData(t, resp, &data)
	if data.Points != 250 {
		t.Errorf("points = %d, want 250", data.Points)
	}

	status, resp = call(t, h.AdjustPoints, 1, map[string]int{"amount": -300}, "userId", fmt.Sprint(a))
	if status != http.StatusBadRequest || resp.Message != store.ErrNegativeBalance.Error() {
		t.Errorf("overdraw = %d %q", status, resp.Message)
	}

	status, _ = call(t, h.AdjustPoints, 1, map[string]int{"amount": 0}, "userId", fmt.Sprint(a))
	if status != http.StatusBadRequest {
		t.Errorf("zero amount status = %d, want 400", status)
	}
}

func TestVoucherRedeemHandler(t *testing.T) {
	db := setupTestDB(t)
	us := store.NewUserStore(db)
	vs := store.NewVoucherStore(db)
	ns := store.NewNotificationStore(db)
	h := NewVoucherHandler(vs, us, newTestNotifier(db), testLogger(), false)

	userID := createTestUser(t, db, "Alice", "alice@example.com")
	if _, err := us.AdjustPoints(context.Background(), userID, 150, "seed"); err != nil {
		t.Fatalf("seed points: %v", err)
	}

	create := func(title string, points int) int64 {
		status, resp := call(t, h.Create, 1, map[string]any{
			"title":          title,
			"pointsRequired": points,
			"expiryDate":     time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339),
		})
		if status != http.StatusCreated {
			t.Fatalf("create voucher = %d %q", status, resp.Message)
		}
		var v struct {
			ID int64 `json:"id"`
		}
		decodeData(t, resp, &v)
		return v.ID
	}
	cheap := create("Coffee", 100)
	dear := create("Dinner", 200)

	status, resp := call(t, h.Redeem, userID, map[string]int64{"voucherId": dear})
	if status != http.StatusBadRequest || resp.Message != "Not enough points to redeem this voucher" {
		t.Errorf("redeem dear = %d %q", status, resp.Message)
	}

	status, resp = call(t, h.Redeem, userID, map[string]int64{"voucherId": 9999})
	if status != http.StatusBadRequest || resp.Message != "Voucher not available or expired" {
		t.Errorf("redeem missing = %d %q", status, resp.Message)
	}

	status, resp = call(t, h.Redeem, userID, map[string]int64{"voucherId": cheap})
	if status != http.StatusOK || resp.Message != "Voucher redeemed successfully" {
		t.Fatalf("redeem cheap = %d %q", status, resp.Message)
	}
	var out struct {
		PointsDeducted  int    `json:"pointsDeducted"`
		Code            string `json:"code"`
		RemainingPoints int    `json:"remainingPoints"`
	}
	decodeData(t, resp, &out)
	if out.PointsDeducted != 100 || out.RemainingPoints != 50 || len(out.Code) != 8 {
		t.Errorf("redemption = %+v, want 100 deducted, 50 remaining, 8-char code", out)
	}

	status, resp = call(t, h.Redeemed, userID, nil)
	if status != http.StatusOK {
		t.Fatalf("redeemed status = %d", status)
	}
	var redeemed []struct {
		Code string `json:"code"`
	}
	decodeData(t, resp, &redeemed)
	if len(redeemed) != 1 || redeemed[0].Code != out.Code {
		t.Errorf("redeemed = %+v, want the new code", redeemed)
	}

	notes, err := ns.List(userID, 10)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(notes) != 1 || notes[0].Kind != "voucher" {
		t.Errorf("notifications = %+v, want one voucher notification", notes)
	}
}

func TestLessonHandler(t *testing.T) {
	db := setupTestDB(t)
	catalog, err := lesson.Load()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	h := NewLessonHandler(catalog, store.NewUserStore(db), store.NewProgressStore(db), newTestNotifier(db), testLogger(), false)
	userID := createTestUser(t, db, "Alice", "alice@example.com")

	status, resp := call(t, h.Complete, userID, map[string]int{"score": 80}, "id", "1")
	if status != http.StatusOK {
		t.Fatalf("complete = %d %q", status, resp.Message)
	}
	var res struct {
		XPEarned      int `json:"xpEarned"`
		TotalXP       int `json:"totalXp"`
		UnlockedLevel int `json:"unlockedLevel"`
	}
	decodeData(t, resp, &res)
	if res.XPEarned != 75 || res.TotalXP != 75 || res.UnlockedLevel != 2 {
		t.Errorf("first completion = %+v, want 75/75/2", res)
	}

	_, resp = call(t, h.Complete, userID, map[string]int{"score": 100}, "id", "1")
	decodeData(t, resp, &res)
	if res.XPEarned != 0 || res.TotalXP != 75 {
		t.Errorf("repeat completion = %+v, want 0 earned, 75 total", res)
	}

	status, _ = call(t, h.Complete, userID, map[string]int{"score": 101}, "id", "1")
	if status != http.StatusBadRequest {
		t.Errorf("score 101 status = %d, want 400", status)
	}
	status, _ = call(t, h.Complete, userID, map[string]int{"score": 50}, "id", "99")
	if status != http.StatusNotFound {
		t.Errorf("unknown lesson status = %d, want 404", status)
	}

	status, resp = call(t, h.Quiz, userID, nil, "id", "1")
	if status != http.StatusOK {
		t.Fatalf("quiz status = %d", status)
	}
	var q struct {
		Questions []struct {
			Options []struct {
				Correct bool `json:"correct"`
			} `json:"options"`
		} `json:"questions"`
	}
	decodeData(t, resp, &q)
	for i, question := range q.Questions {
		for _, o := range question.Options {
			if o.Correct {
				t.Errorf("question %d exposes the correct option", i)
			}
		}
	}
}

func TestQuizHandlerFlow(t *testing.T) {
	catalog, err := lesson.Load()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	m, err := quiz.NewManager(16, time.Second, testLogger())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	var completed []quiz.Completion
	m.OnComplete(func(_ context.Context, c quiz.Completion) error {
		completed = append(completed, c)
		return nil
	})
	h := NewQuizHandler(catalog, m, testLogger(), false)

	status, resp := call(t, h.Create, 5, map[string]int{"lessonId": 4})
	if status != http.StatusNotFound {
		t.Errorf("lesson without quiz status = %d, want 404", status)
	}

	status, resp = call(t, h.Create, 5, map[string]int{"lessonId": 1})
	if status != http.StatusCreated {
		t.Fatalf("create = %d %q", status, resp.Message)
	}
	var view quiz.View
	decodeData(t, resp, &view)
	if view.State != quiz.StateIntro || view.QuestionCount != 3 {
		t.Fatalf("view = %+v, want intro with 3 questions", view)
	}

	status, resp = call(t, h.Answer, 5, map[string]int{"optionId": 1}, "id", view.ID)
	if status != http.StatusBadRequest {
		t.Errorf("answer before start status = %d, want 400", status)
	}

	status, _ = call(t, h.Start, 6, nil, "id", view.ID)
	if status != http.StatusNotFound {
		t.Errorf("start by another user status = %d, want 404", status)
	}

	status, resp = call(t, h.Start, 5, nil, "id", view.ID)
	if status != http.StatusOK {
		t.Fatalf("start = %d %q", status, resp.Message)
	}
	decodeData(t, resp, &view)
	if view.State != quiz.StateQuestion || view.Question == nil {
		t.Fatalf("after start = %+v, want question", view)
	}

	status, resp = call(t, h.Answer, 5, map[string]int{"optionId": 1}, "id", view.ID)
	if status != http.StatusOK {
		t.Fatalf("answer = %d %q", status, resp.Message)
	}
	decodeData(t, resp, &view)
	if view.State != quiz.StateAnswered || view.LastAnswer == nil || !view.LastAnswer.Correct {
		t.Errorf("after answer = %+v, want answered correctly", view)
	}

	// Still on the first question, so leaving needs no confirmation.
	status, resp = call(t, h.Exit, 5, nil, "id", view.ID)
	if status != http.StatusOK {
		t.Fatalf("exit = %d %q", status, resp.Message)
	}
	decodeData(t, resp, &view)
	if view.ExitOutcome != quiz.ExitDone || view.State != quiz.StateAbandoned {
		t.Errorf("exit = %q/%q, want %q/%q", view.ExitOutcome, view.State, quiz.ExitDone, quiz.StateAbandoned)
	}

	status, _ = call(t, h.Get, 5, nil, "id", view.ID)
	if status != http.StatusNotFound {
		t.Errorf("get after exit status = %d, want 404", status)
	}
	if len(completed) != 0 {
		t.Errorf("completions = %d, want 0 after early exit", len(completed))
	}
}
