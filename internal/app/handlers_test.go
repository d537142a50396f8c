package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/Spok95/school-roster/internal/lifecycle"
	"github.com/Spok95/school-roster/internal/memstore"
	"github.com/Spok95/school-roster/internal/models"
	"github.com/Spok95/school-roster/internal/policy"
	"github.com/Spok95/school-roster/internal/roster"
)

type fixture struct {
	st  *memstore.Store
	srv *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	h := NewHandler(Deps{
		Roster:    roster.NewEngine(st, st, nil),
		Lifecycle: lifecycle.NewService(policy.New(st, nil), st, nil),
		Classes:   st,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &fixture{st: st, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path, actor string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if actor != "" {
		req.Header.Set(headerActor, actor)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestPutRoster_PartialSuccessIs200(t *testing.T) {
	f := newFixture(t)
	classID := f.st.AddClass(models.ClassSection{Name: "5А", MaxStudents: 1})
	a, _ := f.st.AddStudent("", "А", nil)
	b, _ := f.st.AddStudent("", "Б", nil)

	resp := f.do(t, http.MethodPut, "/classes/"+classID+"/roster", "", rosterRequest{StudentIDs: []string{a, b}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", resp.StatusCode)
	}
	if resp.Header.Get(headerRequestID) == "" {
		t.Fatal("ожидали X-Request-ID в ответе")
	}
	var res models.ReconciliationResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if len(res.Added) != 1 || len(res.CapacityRejected) != 1 || res.EnrolledCount != 1 {
		t.Fatalf("ожидали одного добавленного и один отказ по местам: %+v", res)
	}
}

func TestPutRoster_Errors(t *testing.T) {
	f := newFixture(t)
	classID := f.st.AddClass(models.ClassSection{Name: "5А", MaxStudents: 1})

	cases := []struct {
		name string
		path string
		body any
		want int
	}{
		{"кривой id класса", "/classes/nope/roster", rosterRequest{}, http.StatusBadRequest},
		{"кривой id ученика", "/classes/" + classID + "/roster", rosterRequest{StudentIDs: []string{"x"}}, http.StatusBadRequest},
		{"нет класса", "/classes/" + uuid.NewString() + "/roster", rosterRequest{}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if resp := f.do(t, http.MethodPut, tc.path, "", tc.body); resp.StatusCode != tc.want {
				t.Fatalf("ожидали %d, получили %d", tc.want, resp.StatusCode)
			}
		})
	}
}

func TestPutRoster_XLSX(t *testing.T) {
	f := newFixture(t)
	classID := f.st.AddClass(models.ClassSection{Name: "5А", MaxStudents: 3})
	a, _ := f.st.AddStudent("", "А", nil)

	resp := f.do(t, http.MethodPut, "/classes/"+classID+"/roster?format=xlsx", "", rosterRequest{StudentIDs: []string{a}})
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != contentXLSX {
		t.Fatalf("ожидали xlsx, получили %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	wb, err := excelize.OpenReader(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = wb.Close() }()
	if len(wb.GetSheetList()) != 5 {
		t.Fatalf("ожидали пять листов, получили %v", wb.GetSheetList())
	}
}

func TestLifecycle_DenyThenArchiveThenDelete(t *testing.T) {
	f := newFixture(t)
	classID := f.st.AddClass(models.ClassSection{Name: "5А", MaxStudents: 3})
	a, err := f.st.AddStudent("", "А", &classID)
	if err != nil {
		t.Fatal(err)
	}

	resp := f.do(t, http.MethodGet, "/lifecycle/class/"+classID+"/policy?mode=soft", "", nil)
	var pr models.PolicyResult
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		t.Fatal(err)
	}
	if pr.Allowed || pr.Reasons["enrolled_students"] != 1 {
		t.Fatalf("ожидали отказ политики: %+v", pr)
	}

	if resp := f.do(t, http.MethodPost, "/lifecycle/class/"+classID+"/soft", "", nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("без актёра ожидали 400, получили %d", resp.StatusCode)
	}

	resp = f.do(t, http.MethodPost, "/lifecycle/class/"+classID+"/soft", "admin", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("ожидали 409, получили %d", resp.StatusCode)
	}
	var body struct {
		Error  string                   `json:"error"`
		Denial models.PolicyDeniedError `json:"denial"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Error != "policy_denied" || body.Denial.Recommended == nil || *body.Denial.Recommended != models.ModeArchive {
		t.Fatalf("ожидали рекомендацию archive: %+v", body)
	}

	if resp := f.do(t, http.MethodPost, "/classes/"+classID+"/status", "admin", statusRequest{Status: models.ClassInactive}); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("архивирование: ожидали 204, получили %d", resp.StatusCode)
	}

	// освобождаем класс и удаляем
	if resp := f.do(t, http.MethodPut, "/classes/"+classID+"/roster", "admin", rosterRequest{}); resp.StatusCode != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", resp.StatusCode)
	}
	if f.st.Student(a).CurrentClassID != nil {
		t.Fatal("ученик должен покинуть класс")
	}
	if resp := f.do(t, http.MethodPost, "/lifecycle/class/"+classID+"/soft", "admin", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("ожидали 204, получили %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodPost, "/lifecycle/class/"+classID+"/soft", "admin", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("повторное удаление: ожидали 404, получили %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodPost, "/lifecycle/class/"+classID+"/purge", "admin", nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("неизвестный режим: ожидали 400, получили %d", resp.StatusCode)
	}
}

type brokenClasses struct{}

func (brokenClasses) FindByID(context.Context, string) (*models.ClassSection, error) {
	return nil, errors.New("db down")
}

func (brokenClasses) SetStatus(context.Context, string, models.ClassStatus) (bool, error) {
	return false, errors.New("db down")
}

type brokenPing struct{}

func (brokenPing) PingContext(context.Context) error { return errors.New("refused") }

func TestSystemErrorsAre5xx(t *testing.T) {
	h := NewHandler(Deps{Classes: brokenClasses{}, Ping: brokenPing{}})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/classes/"+uuid.NewString(), nil))
	if rec.Code != http.StatusInternalServerError || strings.Contains(rec.Body.String(), "db down") {
		t.Fatalf("ожидали 500 без деталей, получили %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ожидали 503, получили %d", rec.Code)
	}
}
