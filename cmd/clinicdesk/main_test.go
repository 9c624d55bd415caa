package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"clinicdesk/internal/core"
	"clinicdesk/internal/infra/kv/memory"
	"clinicdesk/internal/query"
	"clinicdesk/internal/remote"
	"clinicdesk/internal/store"
	"clinicdesk/pkg/domain"
)

func setupEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("CLINICDESK_STORAGE_DRIVER", "sqlite")
	t.Setenv("CLINICDESK_SQLITE_PATH", filepath.Join(dir, "clinic.db"))
	t.Setenv("CLINICDESK_BLOB_DRIVER", "memory")
	t.Setenv("CLINICDESK_LOG_LEVEL", "error")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func decodeArray(t *testing.T, out string) []map[string]any {
	t.Helper()
	var items []map[string]any
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	return items
}

func TestSeedInspectAndReset(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "seed")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if !strings.Contains(out, "seeded 4 patients") {
		t.Fatalf("unexpected seed output %q", out)
	}
	if _, err := run(t, "seed"); err == nil {
		t.Fatalf("expected second seed to be refused")
	}

	out, err = run(t, "inspect", "patients")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if got := len(decodeArray(t, out)); got != 4 {
		t.Fatalf("expected 4 patients, got %d", got)
	}

	out, err = run(t, "inspect", "appointments")
	if err != nil {
		t.Fatalf("inspect appointments: %v", err)
	}
	followUps := 0
	for _, a := range decodeArray(t, out) {
		if a["type"] == domain.AppointmentTypeFollowUp {
			followUps++
		}
	}
	if followUps != 2 {
		t.Fatalf("expected two derived follow-ups, got %d", followUps)
	}

	out, err = run(t, "inspect", "prescriptions")
	if err != nil {
		t.Fatalf("inspect prescriptions: %v", err)
	}
	if got := len(decodeArray(t, out)); got != 3 {
		t.Fatalf("expected a prescription per medicated encounter, got %d", got)
	}

	if _, err := run(t, "inspect", "invoices"); err == nil {
		t.Fatalf("expected unknown collection error")
	}

	out, err = run(t, "stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	var stats query.Stats
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Patients != 4 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	if _, err := run(t, "reset", "appointments"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	out, _ = run(t, "inspect", "appointments")
	if got := len(decodeArray(t, out)); got != 0 {
		t.Fatalf("expected empty appointments, got %d", got)
	}
	if _, err := run(t, "reset"); err == nil {
		t.Fatalf("expected missing collection argument error")
	}
	if _, err := run(t, "reset", "--all"); err != nil {
		t.Fatalf("reset all: %v", err)
	}
	out, _ = run(t, "inspect", "patients")
	if got := len(decodeArray(t, out)); got != 0 {
		t.Fatalf("expected empty patients, got %d", got)
	}
}

func TestSyncPullAndPush(t *testing.T) {
	setupEnv(t)
	ctx := context.Background()

	remoteStore := store.New(memory.New().Client("remote"))
	if err := remoteStore.Init(ctx); err != nil {
		t.Fatalf("init remote: %v", err)
	}
	remoteSvc := core.NewService(remoteStore)
	if _, _, err := remoteSvc.RegisterPatient(ctx, domain.Patient{FirstName: "Neha", LastName: "Singh"}, nil); err != nil {
		t.Fatalf("register remote: %v", err)
	}
	srv := httptest.NewServer(remote.NewServer(remoteSvc).Handler())
	defer srv.Close()

	out, err := run(t, "sync", "pull", "--remote", srv.URL)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if !strings.Contains(out, "pulled 1 patients, 0 prescriptions") {
		t.Fatalf("unexpected pull output %q", out)
	}

	if _, err := run(t, "seed", "--force"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	out, err = run(t, "sync", "push", "--remote", srv.URL)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if !strings.Contains(out, "pushed 3 prescriptions") {
		t.Fatalf("unexpected push output %q", out)
	}
	rxs, err := remoteStore.Prescriptions().Read(ctx)
	if err != nil || len(rxs) != 3 {
		t.Fatalf("expected 3 remote prescriptions, got %d (%v)", len(rxs), err)
	}

	t.Setenv("CLINICDESK_REMOTE_URL", "")
	if _, err := run(t, "sync", "pull"); err == nil {
		t.Fatalf("expected missing remote url error")
	}
}

func TestSeedUsesServiceRules(t *testing.T) {
	ctx := context.Background()
	st := store.New(memory.New().Client("seed"))
	if err := st.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := core.NewService(st, core.WithClock(func() time.Time { return now }))
	if _, err := seed(ctx, svc, now); err != nil {
		t.Fatalf("seed: %v", err)
	}
	appts, _ := st.Appointments().Read(ctx)
	var followUp *domain.Appointment
	for i := range appts {
		if appts[i].Type == domain.AppointmentTypeFollowUp && appts[i].Date == "2024-03-31" {
			followUp = &appts[i]
		}
	}
	if followUp == nil {
		t.Fatalf("expected follow-up for the hypertension review, got %+v", appts)
	}
	if followUp.Department != "Cardiology" || followUp.Time != "10:00" {
		t.Fatalf("unexpected follow-up %+v", followUp)
	}
}
