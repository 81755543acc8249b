package handler

import (
	"net/http"
	"testing"
)

func TestAnalyticsHandlers(t *testing.T) {
	env := setupTestAPI(t)
	id := createHabitViaAPI(t, env, map[string]any{"name": "喝水"})

	logs := map[string]string{
		"2024-05-06": "done",
		"2024-05-07": "skipped",
		"2024-05-08": "done",
		"2024-05-10": "done",
		"2024-04-30": "done",
	}
	for day, status := range logs {
		w := call(env.api.LogHabit, http.MethodPost, "/api/habits/1/logs", map[string]any{"log_date": day, "status": status}, env.user.ID, idParam("id", id))
		expectStatus(t, w, http.StatusOK)
	}

	w := call(env.api.GetHabitWeekly, http.MethodGet, "/api/habits/1/weekly", nil, env.user.ID, idParam("id", id))
	expectStatus(t, w, http.StatusOK)
	weekly := decode(t, w)["weekly"].(map[string]any)
	counts := weekly["stats"].(map[string]any)
	if weekly["start"] != "2024-05-06" || counts["done"] != float64(3) || counts["skipped"] != float64(1) {
		t.Fatalf("unexpected weekly stats: %+v", weekly)
	}

	w = call(env.api.GetHabitMonthly, http.MethodGet, "/api/habits/1/monthly?year=2024&month=4", nil, env.user.ID, idParam("id", id))
	expectStatus(t, w, http.StatusOK)
	monthly := decode(t, w)["monthly"].(map[string]any)
	if monthly["end"] != "2024-04-30" || monthly["stats"].(map[string]any)["done"] != float64(1) {
		t.Fatalf("unexpected monthly stats: %+v", monthly)
	}

	w = call(env.api.GetHabitHeatmap, http.MethodGet, "/api/habits/1/heatmap?year=2024", nil, env.user.ID, idParam("id", id))
	expectStatus(t, w, http.StatusOK)
	data := decode(t, w)["heatmap"].(map[string]any)["data"].(map[string]any)
	if len(data) != 4 || data["2024-05-10"] != float64(1) {
		t.Fatalf("unexpected heatmap data: %+v", data)
	}

	w = call(env.api.GetHabitTrend, http.MethodGet, "/api/habits/1/trend?days=abc", nil, env.user.ID, idParam("id", id))
	expectStatus(t, w, http.StatusBadRequest)

	w = call(env.api.GetDashboard, http.MethodGet, "/api/analytics/dashboard", nil, env.user.ID)
	expectStatus(t, w, http.StatusOK)
	dashboard := decode(t, w)["dashboard"].(map[string]any)
	if dashboard["total_habits"] != float64(1) || dashboard["today_completions"] != float64(1) {
		t.Fatalf("unexpected dashboard: %+v", dashboard)
	}
}

func TestAnalyticsUnknownHabit(t *testing.T) {
	env := setupTestAPI(t)

	w := call(env.api.GetHabitWeekly, http.MethodGet, "/api/habits/9/weekly", nil, env.user.ID, idParam("id", 9))
	expectStatus(t, w, http.StatusNotFound)
}
