package httpapi_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/crowdsense/crowdsense-worker/internal/db"
	"github.com/crowdsense/crowdsense-worker/internal/httpapi"
	"github.com/crowdsense/crowdsense-worker/internal/measurement"
	"github.com/crowdsense/crowdsense-worker/internal/memstore"
	"github.com/crowdsense/crowdsense-worker/internal/reward"
	"github.com/crowdsense/crowdsense-worker/internal/service"
	"github.com/crowdsense/crowdsense-worker/internal/validator"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const owner = "0xOwner"

type fakeArchive map[string][]byte

func (f fakeArchive) Fetch(_ context.Context, key string) ([]byte, error) {
	return f[key], nil
}

func newTestApp(t *testing.T, store *memstore.Store, archive httpapi.ArchiveReader) *fiber.App {
	t.Helper()
	logger := zap.NewNop()
	projects := service.NewProjectService(store, logger)
	submissions := service.NewSubmissionService(store, validator.NewValidator(60), nil, nil, nil, "", logger)
	completions := service.NewCompletionService(store, reward.NewAllocator(reward.DefaultPrecision),
		service.OwnerAuthorizer{}, nil, service.CompletionOptions{}, logger)
	return httpapi.NewApp(httpapi.NewHandler(projects, submissions, completions, archive, logger), "test")
}

func seededStore() *memstore.Store {
	return memstore.NewStore(db.Project{
		ID:          "p1",
		Title:       "Library light",
		RewardTotal: decimal.NewFromInt(100),
		Status:      db.ProjectStatusActive,
		CreatedBy:   owner,
		EndDate:     time.Now().Add(time.Hour),
		CreatedAt:   time.Now(),
	})
}

func do(t *testing.T, app *fiber.App, method, path, identity, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if identity != "" {
		req.Header.Set(httpapi.IdentityHeader, identity)
	}

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("invalid JSON response %q: %v", raw, err)
		}
	}
	return resp.StatusCode, out
}

func submissionBody(n int) string {
	ts := time.Now().UTC().Add(-time.Minute).Format(time.RFC3339)
	items := make([]string, n)
	for i := range items {
		items[i] = `{"type":"light","timestamp":"` + ts + `","data":{"level":350}}`
	}
	return `{"data":[` + strings.Join(items, ",") + `]}`
}

func TestCompleteFlow(t *testing.T) {
	store := seededStore()
	app := newTestApp(t, store, nil)

	if code, _ := do(t, app, http.MethodPost, "/projects/p1/submissions", "0xAlice", submissionBody(3)); code != http.StatusCreated {
		t.Fatalf("Expected 201 for alice submission, got %d", code)
	}
	if code, _ := do(t, app, http.MethodPost, "/projects/p1/submissions", "0xBob", submissionBody(1)); code != http.StatusCreated {
		t.Fatalf("Expected 201 for bob submission, got %d", code)
	}

	code, body := do(t, app, http.MethodPost, "/projects/p1/complete", owner, "")
	if code != http.StatusOK {
		t.Fatalf("Expected 200 on completion, got %d: %v", code, body)
	}
	if body["no_contributions"] != false || body["no_reward"] != false {
		t.Errorf("Unexpected flags %v", body)
	}

	code, body = do(t, app, http.MethodGet, "/projects/p1/distribution", "", "")
	if code != http.StatusOK {
		t.Fatalf("Expected 200 for distribution, got %d", code)
	}
	entries, _ := body["entries"].([]any)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %v", body["entries"])
	}
	first := entries[0].(map[string]any)
	if first["address"] != "0xAlice" || first["amount"] != "75" {
		t.Errorf("Unexpected first entry %v", first)
	}

	// completed projects no longer accept data
	if code, _ := do(t, app, http.MethodPost, "/projects/p1/submissions", "0xCarol", submissionBody(1)); code != http.StatusConflict {
		t.Errorf("Expected 409 for submission to completed project, got %d", code)
	}
}

func TestComplete_NoContributionsMessage(t *testing.T) {
	app := newTestApp(t, seededStore(), nil)

	code, body := do(t, app, http.MethodPost, "/projects/p1/complete", owner, "")
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if body["no_contributions"] != true {
		t.Errorf("Expected no_contributions flag, got %v", body)
	}
	if body["message"] != "Project completed. No contributions to reward" {
		t.Errorf("Unexpected message %v", body["message"])
	}
}

func TestComplete_ErrorStatuses(t *testing.T) {
	app := newTestApp(t, seededStore(), nil)

	tests := []struct {
		name     string
		path     string
		identity string
		want     int
	}{
		{"missing header", "/projects/p1/complete", "", http.StatusUnauthorized},
		{"not owner", "/projects/p1/complete", "0xMallory", http.StatusForbidden},
		{"unknown project", "/projects/nope/complete", owner, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, body := do(t, app, http.MethodPost, tt.path, tt.identity, ""); code != tt.want {
				t.Errorf("Expected %d, got %d: %v", tt.want, code, body)
			}
		})
	}
}

func TestDistribution_NotYetComputed(t *testing.T) {
	app := newTestApp(t, seededStore(), nil)

	if code, _ := do(t, app, http.MethodGet, "/projects/p1/distribution", "", ""); code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", code)
	}
}

func TestCreateProject(t *testing.T) {
	app := newTestApp(t, memstore.NewStore(), nil)
	end := time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339)
	payload := `{"title":"Street noise","reward_total":"20.5","data_kinds":["noise"],"end_date":"` + end + `"}`

	code, body := do(t, app, http.MethodPost, "/projects", owner, payload)
	if code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %v", code, body)
	}
	if body["status"] != "active" || body["created_by"] != owner || body["reward_total"] != "20.5" {
		t.Errorf("Unexpected project %v", body)
	}

	id, _ := body["id"].(string)
	if code, _ := do(t, app, http.MethodGet, "/projects/"+id, "", ""); code != http.StatusOK {
		t.Errorf("Expected created project to be readable, got %d", code)
	}

	if code, _ := do(t, app, http.MethodPost, "/projects", "", payload); code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without identity, got %d", code)
	}
	if code, _ := do(t, app, http.MethodPost, "/projects", owner, `{"title":""}`); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for blank title, got %d", code)
	}
}

func TestContributionHistoryRoute(t *testing.T) {
	store := seededStore()
	app := newTestApp(t, store, nil)

	do(t, app, http.MethodPost, "/projects/p1/submissions", "0xAlice", submissionBody(2))

	code, body := do(t, app, http.MethodGet, "/contributors/0xAlice/rewards", "", "")
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	contributions, _ := body["contributions"].([]any)
	if len(contributions) != 1 {
		t.Fatalf("Expected 1 contribution, got %v", body["contributions"])
	}
	if contributions[0].(map[string]any)["status"] != service.ContributionPending {
		t.Errorf("Expected pending contribution, got %v", contributions[0])
	}
}

func TestRawSubmission(t *testing.T) {
	store := seededStore()
	_ = store.InsertSubmission(context.Background(), &measurement.Submission{
		ID:         "s1",
		ProjectID:  "p1",
		ArchiveKey: "submissions/p1/abc.json",
	})
	_ = store.InsertSubmission(context.Background(), &measurement.Submission{ID: "s2", ProjectID: "p1"})

	app := newTestApp(t, store, fakeArchive{"submissions/p1/abc.json": []byte(`{"project_id":"p1"}`)})

	code, body := do(t, app, http.MethodGet, "/projects/p1/submissions/s1/raw", "", "")
	if code != http.StatusOK || body["project_id"] != "p1" {
		t.Errorf("Expected archived body, got %d %v", code, body)
	}
	if code, _ := do(t, app, http.MethodGet, "/projects/p1/submissions/s2/raw", "", ""); code != http.StatusNotFound {
		t.Errorf("Expected 404 for unarchived submission, got %d", code)
	}

	noArchive := newTestApp(t, store, nil)
	if code, _ := do(t, noArchive, http.MethodGet, "/projects/p1/submissions/s1/raw", "", ""); code != http.StatusNotFound {
		t.Errorf("Expected 404 with archive disabled, got %d", code)
	}
}

func storedContributors(t *testing.T, store *memstore.Store) []string {
	t.Helper()
	subs, err := store.ListSubmissions(context.Background(), "p1")
	if err != nil {
		t.Fatalf("ListSubmissions failed: %v", err)
	}
	out := make([]string, len(subs))
	for i, s := range subs {
		out[i] = s.ContributorAddress
	}
	return out
}

func TestSubmit_ContributorSurvivesLaterRequests(t *testing.T) {
	store := seededStore()
	app := newTestApp(t, store, nil)

	if code, _ := do(t, app, http.MethodPost, "/projects/p1/submissions", "0xAlice", submissionBody(1)); code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", code)
	}
	// reuses the pooled request context with a different header value of the same length
	if code, _ := do(t, app, http.MethodGet, "/healthz", "0xZZZZZ", ""); code != http.StatusOK {
		t.Fatalf("Expected 200 from healthz, got %d", code)
	}

	got := storedContributors(t, store)
	if len(got) != 1 || got[0] != "0xAlice" {
		t.Errorf("Expected stored contributor 0xAlice, got %v", got)
	}
}

func TestSubmit_ContributorFromBodyOrHeader(t *testing.T) {
	ts := time.Now().UTC().Add(-time.Minute).Format(time.RFC3339)
	body := `{"contributor_address":"0xBody","data":[{"type":"light","timestamp":"` + ts + `","data":{"level":350}}]}`

	tests := []struct {
		name     string
		identity string
		want     string
	}{
		{"body without header", "", "0xBody"},
		{"header overrides body", "0xHeader", "0xHeader"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := seededStore()
			app := newTestApp(t, store, nil)

			if code, resp := do(t, app, http.MethodPost, "/projects/p1/submissions", tt.identity, body); code != http.StatusCreated {
				t.Fatalf("Expected 201, got %d: %v", code, resp)
			}

			got := storedContributors(t, store)
			if len(got) != 1 || got[0] != tt.want {
				t.Errorf("Expected stored contributor %s, got %v", tt.want, got)
			}
		})
	}
}
