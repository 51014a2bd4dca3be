package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
)

func TestHealthAndReadinessEndpoints(t *testing.T) {
	srv := newIdentityServer(t)

	t.Run("liveness is unconditional", func(t *testing.T) {
		resp, env := doJSON(t, srv.Client, http.MethodGet, srv.URL+"/healthz", "", nil)
		if resp.StatusCode != http.StatusOK || !env.Success {
			t.Fatalf("healthz: status=%d success=%v", resp.StatusCode, env.Success)
		}
		var data map[string]string
		if err := json.Unmarshal(env.Data, &data); err != nil {
			t.Fatalf("decode healthz: %v", err)
		}
		if data["status"] != "ok" {
			t.Fatalf("healthz data = %v", data)
		}
	})

	t.Run("readiness reports probe results", func(t *testing.T) {
		resp, env := doJSON(t, srv.Client, http.MethodGet, srv.URL+"/readyz", "", nil)
		if resp.StatusCode != http.StatusOK || !env.Success {
			t.Fatalf("readyz: status=%d success=%v", resp.StatusCode, env.Success)
		}
		var data struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			t.Fatalf("decode readyz: %v", err)
		}
		if data.Status != "ready" {
			t.Fatalf("readyz status = %s", data.Status)
		}
		if data.Checks["database"] != "ok" || data.Checks["redis"] != "ok" {
			t.Fatalf("readyz checks = %v", data.Checks)
		}
	})

	t.Run("redis outage flips readiness", func(t *testing.T) {
		srv.Redis.SetError("connection refused")
		defer srv.Redis.SetError("")

		srv.Readiness.RunOnce(context.Background())
		resp, env := doJSON(t, srv.Client, http.MethodGet, srv.URL+"/readyz", "", nil)
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Fatalf("readyz during outage: status=%d", resp.StatusCode)
		}
		if env.Error == nil || env.Error.Code != "DEPENDENCY_UNREADY" {
			t.Fatalf("error envelope = %+v", env.Error)
		}

		srv.Redis.SetError("")
		srv.Readiness.RunOnce(context.Background())
		resp, _ = doJSON(t, srv.Client, http.MethodGet, srv.URL+"/readyz", "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("readyz after recovery: status=%d", resp.StatusCode)
		}
	})
}
