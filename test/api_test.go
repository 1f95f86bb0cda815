package test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/Kxd395/DoseTap-sub000/internal"
	"github.com/Kxd395/DoseTap-sub000/internal/api"
	"github.com/Kxd395/DoseTap-sub000/internal/auth"
	"github.com/Kxd395/DoseTap-sub000/internal/clock"
	"github.com/Kxd395/DoseTap-sub000/internal/config"
	"github.com/Kxd395/DoseTap-sub000/internal/notify"
	"github.com/Kxd395/DoseTap-sub000/internal/phase"
	"github.com/Kxd395/DoseTap-sub000/internal/service"
	"github.com/Kxd395/DoseTap-sub000/internal/session"
	"github.com/Kxd395/DoseTap-sub000/internal/storage"
	"github.com/Kxd395/DoseTap-sub000/internal/undo"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var apiNow = time.Date(2025, 6, 9, 21, 0, 0, 0, time.UTC)

type testApp struct {
	logger internal.Logger
	cfg    *config.Config
	clk    *clock.Fake
	store  *session.Store
	ledger *undo.Ledger
	repo   storage.SessionRepository
	meds   storage.MedicationRepository
	sched  *notify.MemoryScheduler
}

func (a *testApp) Logger() internal.Logger                      { return a.logger }
func (a *testApp) Config() *config.Config                       { return a.cfg }
func (a *testApp) Clock() clock.Clock                           { return a.clk }
func (a *testApp) Store() *session.Store                        { return a.store }
func (a *testApp) Ledger() *undo.Ledger                         { return a.ledger }
func (a *testApp) SessionRepo() storage.SessionRepository       { return a.repo }
func (a *testApp) MedicationRepo() storage.MedicationRepository { return a.meds }
func (a *testApp) Pending() *notify.MemoryScheduler             { return a.sched }

func testConfig() *config.Config {
	return &config.Config{
		Env:                   "development",
		AuthToken:             "MOCK-TOKEN",
		RolloverHour:          18,
		WindowOpenMinutes:     150,
		WindowCloseMinutes:    240,
		NearCloseLeadMinutes:  15,
		SnoozeMinutes:         10,
		MaxSnoozes:            3,
		GraceMinutes:          1,
		UndoWindowSeconds:     6,
		DuplicateGuardMinutes: 10,
		PreAlarmLeadMinutes:   5,
		FollowUpCount:         3,
		FollowUpSpacingMins:   2,
		AlertWindowOpen:       true,
		Alert15Min:            true,
		Alert5Min:             true,
	}
}

func setupRouter(t *testing.T) (*gin.Engine, *testApp) {
	t.Helper()
	testDir := "testdata"
	if _, err := os.Stat(testDir); os.IsNotExist(err) {
		_ = os.MkdirAll(testDir, 0755)
	}
	sessionsFile := testDir + "/test_sessions.json"
	medsFile := testDir + "/test_medication_entries.json"
	os.Remove(sessionsFile)
	os.Remove(medsFile)

	cfg := testConfig()
	logger := internal.NopLogger{}
	fileStorage, err := storage.NewFileStorage(sessionsFile, medsFile, logger)
	assert.NoError(t, err)
	t.Cleanup(func() { _ = fileStorage.Close() })

	clk := clock.NewFake(apiNow, time.UTC)
	sched := notify.NewMemoryScheduler()
	coord := notify.NewCoordinator(sched, clk, notify.Config{
		WindowOpenOffset:  time.Duration(cfg.WindowOpenMinutes) * time.Minute,
		WindowCloseOffset: time.Duration(cfg.WindowCloseMinutes) * time.Minute,
		NearCloseLead:     time.Duration(cfg.NearCloseLeadMinutes) * time.Minute,
		SnoozeStep:        time.Duration(cfg.SnoozeMinutes) * time.Minute,
		PreAlarmLead:      time.Duration(cfg.PreAlarmLeadMinutes) * time.Minute,
		FollowUpCount:     cfg.FollowUpCount,
		FollowUpSpacing:   time.Duration(cfg.FollowUpSpacingMins) * time.Minute,
		AlertWindowOpen:   cfg.AlertWindowOpen,
		Alert15Min:        cfg.Alert15Min,
		Alert5Min:         cfg.Alert5Min,
	}, logger)

	store, err := session.NewStore(fileStorage, clk, coord, nil, logger, session.Options{
		RolloverHour: cfg.RolloverHour,
		Phase: phase.Options{
			WindowOpenOffset:  time.Duration(cfg.WindowOpenMinutes) * time.Minute,
			WindowCloseOffset: time.Duration(cfg.WindowCloseMinutes) * time.Minute,
			NearCloseLead:     time.Duration(cfg.NearCloseLeadMinutes) * time.Minute,
			SnoozeStep:        time.Duration(cfg.SnoozeMinutes) * time.Minute,
			MaxSnoozes:        cfg.MaxSnoozes,
		},
		Grace: time.Duration(cfg.GraceMinutes) * time.Minute,
	})
	assert.NoError(t, err)
	t.Cleanup(store.Close)

	a := &testApp{
		logger: logger,
		cfg:    cfg,
		clk:    clk,
		store:  store,
		ledger: undo.NewLedger(store, clk, time.Duration(cfg.UndoWindowSeconds)*time.Second),
		repo:   fileStorage,
		meds:   fileStorage,
		sched:  sched,
	}

	provider := auth.NewLocalAuthProvider(cfg.AuthToken, logger)
	r := gin.New()
	r.Use(api.RequestIDMiddleware())
	r.Use(auth.AuthMiddleware(provider, cfg))
	r.GET("/tonight", api.GetTonight(a))
	r.POST("/tonight/dose1", api.PostDose1(a))
	r.POST("/tonight/dose2", api.PostDose2(a))
	r.POST("/tonight/snooze", api.PostSnooze(a))
	r.POST("/tonight/skip", api.PostSkip(a))
	r.POST("/tonight/wake", api.PostWake(a))
	r.POST("/tonight/checkin", api.PostCheckIn(a))
	r.POST("/tonight/presleep", api.PostPreSleep(a))
	r.POST("/tonight/foreground", api.PostForeground(a))
	r.DELETE("/tonight", api.DeleteTonight(a))
	r.POST("/undo", api.PostUndo(a))
	r.GET("/sessions/:key", api.GetSessionByKey(a))
	r.DELETE("/sessions/:key", api.DeleteSessionByKey(a))
	r.GET("/history", api.GetHistory(a))
	r.POST("/medications", api.PostMedication(a))
	r.GET("/medications", api.GetMedications(a))
	r.GET("/notifications/pending", api.GetPendingNotifications(a))
	r.POST("/signals/timechange", api.PostTimeChange(a))
	return r, a
}

func doRequest(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req, _ = http.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, _ = http.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer MOCK-TOKEN")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type statusEnvelope struct {
	Data service.Status `json:"data"`
	Meta map[string]any `json:"meta"`
}

func decodeStatus(t *testing.T, w *httptest.ResponseRecorder) statusEnvelope {
	t.Helper()
	var env statusEnvelope
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestUnauthorized(t *testing.T) {
	r, _ := setupRouter(t)
	req, _ := http.NewRequest("GET", "/tonight", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, 401, w.Code)

	req, _ = http.NewRequest("GET", "/tonight", nil)
	req.Header.Set("Authorization", "Bearer WRONG")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, 401, w.Code)
}

func TestDose1FlowAndStatus(t *testing.T) {
	r, _ := setupRouter(t)

	w := doRequest(t, r, "GET", "/tonight", "")
	assert.Equal(t, 200, w.Code)
	env := decodeStatus(t, w)
	assert.Equal(t, "2025-06-09", env.Data.SessionKey)
	assert.Equal(t, "no_dose1", env.Data.Phase)

	body := `{"at":"` + apiNow.Format(time.RFC3339) + `"}`
	w = doRequest(t, r, "POST", "/tonight/dose1", body)
	assert.Equal(t, 200, w.Code)
	env = decodeStatus(t, w)
	assert.Equal(t, "before_window", env.Data.Phase)
	assert.NotNil(t, env.Data.Facts.Dose1At)
	assert.NotNil(t, env.Data.WindowOpen)
	assert.NotNil(t, env.Data.WakeTarget)
	assert.NotNil(t, env.Data.PendingUndo)

	// A second recording is rejected, not overwritten.
	w = doRequest(t, r, "POST", "/tonight/dose1", body)
	assert.Equal(t, 409, w.Code)

	// Missing timestamp.
	w = doRequest(t, r, "POST", "/tonight/dose1", `{}`)
	assert.Equal(t, 400, w.Code)
}

func TestDose2AndExtraDose(t *testing.T) {
	r, a := setupRouter(t)
	doRequest(t, r, "POST", "/tonight/dose1", `{"at":"`+apiNow.Format(time.RFC3339)+`"}`)

	at := apiNow.Add(160 * time.Minute)
	a.clk.Set(at)
	body := `{"at":"` + at.Format(time.RFC3339) + `"}`
	w := doRequest(t, r, "POST", "/tonight/dose2", body)
	assert.Equal(t, 200, w.Code)
	env := decodeStatus(t, w)
	assert.Equal(t, "completed", env.Data.Phase)
	assert.Equal(t, 160, *env.Data.DoseIntervalMinutes)

	// A repeat lands in the audit trail and reports a conflict.
	w = doRequest(t, r, "POST", "/tonight/dose2", body)
	assert.Equal(t, 409, w.Code)

	w = doRequest(t, r, "GET", "/tonight", "")
	env = decodeStatus(t, w)
	assert.Len(t, env.Data.Facts.ExtraDoses, 1)
	assert.True(t, at.Equal(*env.Data.Facts.Dose2At), "original recording stands")
}

func TestSnoozeEndpoint(t *testing.T) {
	r, a := setupRouter(t)
	doRequest(t, r, "POST", "/tonight/dose1", `{"at":"`+apiNow.Format(time.RFC3339)+`"}`)

	// Window not open yet.
	w := doRequest(t, r, "POST", "/tonight/snooze", "")
	assert.Equal(t, 409, w.Code)

	a.clk.Set(apiNow.Add(160 * time.Minute))
	w = doRequest(t, r, "POST", "/tonight/snooze", "")
	assert.Equal(t, 200, w.Code)
	env := decodeStatus(t, w)
	assert.Equal(t, 1, env.Data.Facts.SnoozeCount)
	assert.Contains(t, env.Meta, "new_target")
}

func TestSkipEndpoint(t *testing.T) {
	r, a := setupRouter(t)
	doRequest(t, r, "POST", "/tonight/dose1", `{"at":"`+apiNow.Format(time.RFC3339)+`"}`)
	a.clk.Set(apiNow.Add(200 * time.Minute))

	w := doRequest(t, r, "POST", "/tonight/skip", `{"reason":"felt_like_it"}`)
	assert.Equal(t, 400, w.Code)

	w = doRequest(t, r, "POST", "/tonight/skip", `{"reason":"user"}`)
	assert.Equal(t, 200, w.Code)
	env := decodeStatus(t, w)
	assert.True(t, env.Data.Facts.Dose2Skipped)

	// Already resolved.
	w = doRequest(t, r, "POST", "/tonight/skip", `{"reason":"user"}`)
	assert.Equal(t, 409, w.Code)
}

func TestUndoEndpoint(t *testing.T) {
	r, _ := setupRouter(t)
	doRequest(t, r, "POST", "/tonight/dose1", `{"at":"`+apiNow.Format(time.RFC3339)+`"}`)

	w := doRequest(t, r, "POST", "/undo", "")
	assert.Equal(t, 200, w.Code)
	env := decodeStatus(t, w)
	assert.Equal(t, true, env.Meta["undone"])
	assert.Nil(t, env.Data.Facts.Dose1At)

	// Nothing left to undo.
	w = doRequest(t, r, "POST", "/undo", "")
	assert.Equal(t, 200, w.Code)
	env = decodeStatus(t, w)
	assert.Equal(t, false, env.Meta["undone"])
}

func TestForegroundExpiry(t *testing.T) {
	r, a := setupRouter(t)
	doRequest(t, r, "POST", "/tonight/dose1", `{"at":"`+apiNow.Format(time.RFC3339)+`"}`)

	a.clk.Set(apiNow.Add(241 * time.Minute))
	w := doRequest(t, r, "POST", "/tonight/foreground", "")
	assert.Equal(t, 200, w.Code)
	env := decodeStatus(t, w)
	assert.Equal(t, true, env.Meta["expired"])
	assert.True(t, env.Data.Facts.Dose2Skipped)
	assert.Equal(t, internal.SkipReasonSleptThrough, env.Data.Facts.SkipReason)
	assert.Empty(t, a.sched.Pending())
}

func TestWakeAndCheckIn(t *testing.T) {
	r, a := setupRouter(t)
	doRequest(t, r, "POST", "/tonight/dose1", `{"at":"`+apiNow.Format(time.RFC3339)+`"}`)
	at := apiNow.Add(160 * time.Minute)
	a.clk.Set(at)
	doRequest(t, r, "POST", "/tonight/dose2", `{"at":"`+at.Format(time.RFC3339)+`"}`)

	// Check-in before wake is rejected.
	w := doRequest(t, r, "POST", "/tonight/checkin", "")
	assert.Equal(t, 409, w.Code)

	wake := apiNow.Add(9 * time.Hour)
	a.clk.Set(wake)
	w = doRequest(t, r, "POST", "/tonight/wake", `{"at":"`+wake.Format(time.RFC3339)+`"}`)
	assert.Equal(t, 200, w.Code)
	env := decodeStatus(t, w)
	assert.Equal(t, "finalizing", env.Data.Phase)

	w = doRequest(t, r, "POST", "/tonight/checkin", "")
	assert.Equal(t, 200, w.Code)
	env = decodeStatus(t, w)
	assert.True(t, env.Data.Facts.CheckInCompleted)
	assert.Equal(t, "completed", env.Data.Phase)
}

func TestPreSleepEndpoint(t *testing.T) {
	r, _ := setupRouter(t)
	w := doRequest(t, r, "POST", "/tonight/presleep", `{"notes":"calm evening"}`)
	assert.Equal(t, 200, w.Code)
	env := decodeStatus(t, w)
	assert.Equal(t, "calm evening", env.Data.Facts.PreSleepNotes)
}

func TestMedicationsEndpoint(t *testing.T) {
	r, _ := setupRouter(t)
	body := `{"medication_id":"ibuprofen","dose_mg":200,"taken_at":"` + apiNow.Format(time.RFC3339) + `"}`
	w := doRequest(t, r, "POST", "/medications", body)
	assert.Equal(t, 200, w.Code)

	// Same medication three minutes later trips the guard.
	dup := `{"medication_id":"ibuprofen","dose_mg":200,"taken_at":"` + apiNow.Add(3*time.Minute).Format(time.RFC3339) + `"}`
	w = doRequest(t, r, "POST", "/medications", dup)
	assert.Equal(t, 409, w.Code)
	var conflict map[string]any
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &conflict))
	assert.Contains(t, conflict, "duplicate")

	// Confirmation forces it through.
	confirmed := `{"medication_id":"ibuprofen","dose_mg":200,"confirmed_duplicate":true,"taken_at":"` + apiNow.Add(3*time.Minute).Format(time.RFC3339) + `"}`
	w = doRequest(t, r, "POST", "/medications", confirmed)
	assert.Equal(t, 200, w.Code)

	w = doRequest(t, r, "GET", "/medications", "")
	assert.Equal(t, 200, w.Code)
	var list struct {
		Data []internal.MedicationEntry `json:"data"`
		Meta map[string]any             `json:"meta"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Data, 2)
	assert.Equal(t, "2025-06-09", list.Meta["session_date"])

	// Validation.
	w = doRequest(t, r, "POST", "/medications", `{"dose_mg":200}`)
	assert.Equal(t, 400, w.Code)
}

func TestSessionByKeyAndHistory(t *testing.T) {
	r, _ := setupRouter(t)
	doRequest(t, r, "POST", "/tonight/dose1", `{"at":"`+apiNow.Format(time.RFC3339)+`"}`)

	w := doRequest(t, r, "GET", "/sessions/2025-06-09", "")
	assert.Equal(t, 200, w.Code)

	w = doRequest(t, r, "GET", "/sessions/1999-01-01", "")
	assert.Equal(t, 404, w.Code)

	w = doRequest(t, r, "GET", "/history", "")
	assert.Equal(t, 200, w.Code)
	var hist struct {
		Data []internal.SessionFacts `json:"data"`
		Meta map[string]any          `json:"meta"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &hist))
	assert.Len(t, hist.Data, 1)
	assert.Equal(t, "2025-06-09", hist.Data[0].SessionKey)

	w = doRequest(t, r, "GET", "/history?n=bogus", "")
	assert.Equal(t, 400, w.Code)
}

func TestDeleteTonight(t *testing.T) {
	r, a := setupRouter(t)
	doRequest(t, r, "POST", "/tonight/dose1", `{"at":"`+apiNow.Format(time.RFC3339)+`"}`)
	assert.NotEmpty(t, a.sched.Pending())

	w := doRequest(t, r, "DELETE", "/tonight", "")
	assert.Equal(t, 200, w.Code)
	env := decodeStatus(t, w)
	assert.Nil(t, env.Data.Facts.Dose1At)
	assert.Empty(t, a.sched.Pending())
}

func TestPendingNotificationsEndpoint(t *testing.T) {
	r, _ := setupRouter(t)
	doRequest(t, r, "POST", "/tonight/dose1", `{"at":"`+apiNow.Format(time.RFC3339)+`"}`)

	w := doRequest(t, r, "GET", "/notifications/pending", "")
	assert.Equal(t, 200, w.Code)
	var list struct {
		Data []notify.Pending `json:"data"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Data, 8)
}

func TestTimeChangeSignal(t *testing.T) {
	r, a := setupRouter(t)

	// A zone shift drags local time back across the rollover boundary.
	a.clk.Set(time.Date(2025, 6, 9, 10, 0, 0, 0, time.UTC))
	w := doRequest(t, r, "POST", "/signals/timechange", "")
	assert.Equal(t, 200, w.Code)
	env := decodeStatus(t, w)
	assert.Equal(t, "2025-06-08", env.Data.SessionKey)
}
