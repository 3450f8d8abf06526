package e2e

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ayusman/gasketvision/internal/app"
	"github.com/ayusman/gasketvision/internal/capture"
	"github.com/ayusman/gasketvision/internal/config"
	"github.com/ayusman/gasketvision/internal/detector"
	"github.com/ayusman/gasketvision/internal/inspection"
	"github.com/ayusman/gasketvision/internal/metrics"
	"github.com/ayusman/gasketvision/internal/server"
	"github.com/ayusman/gasketvision/internal/store"
	"github.com/ayusman/gasketvision/pkg/geometry"
	"github.com/ayusman/gasketvision/testdata"
)

type analyzeResponse struct {
	OK       bool               `json:"ok"`
	Success  bool               `json:"analisis_exitoso"`
	Attempts int                `json:"attempts"`
	Error    string             `json:"error"`
	Data     *inspection.Result `json:"data"`
}

func TestE2E_CompleteWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	tmpDir := t.TempDir()

	s, err := store.New(filepath.Join(tmpDir, "data.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()

	// Four blue markers 60px apart; at 3 px/mm the extremes are 60mm apart.
	part := testdata.Row(4, 40, 60)
	imgPath := filepath.Join(tmpDir, "part.png")
	if err := part.Write(imgPath); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	cam, err := capture.LoadImage(imgPath)
	if err != nil {
		t.Fatalf("LoadImage() error = %v", err)
	}
	defer cam.Release()

	fiducial := detector.NewMockFiducialDetector()
	fiducial.SetScale(3.0, 0, geometry.Pt(500, 300))
	gasket := detector.NewMockObjectDetector()
	box := part.GasketBox()
	gasket.SetBox(&box)
	holes := detector.NewMockFeatureDetector()
	holes.SetBoxes(part.HoleBoxes())

	m, err := metrics.New()
	if err != nil {
		t.Fatalf("metrics.New() error = %v", err)
	}
	shared := capture.Shared(cam)
	events := server.NewEventHub(nil)

	application, err := app.New(app.Config{
		Settings:  config.Static(config.Defaults()),
		Store:     s,
		Detectors: &detector.Set{Fiducial: fiducial, Gasket: gasket, Holes: holes},
		Source:    capture.NewSource(shared, config.CameraConfig{}, nil),
		Metrics:   m,
		Observers: []inspection.Observer{events},
	})
	if err != nil {
		t.Fatalf("app.New() error = %v", err)
	}
	defer application.Close()

	srv := server.New(server.Config{
		Store:       s,
		Camera:      shared,
		Inspector:   application,
		Events:      events,
		Metrics:     m.Handler(),
		JPEGQuality: 80,
	})
	ts := httptest.NewServer(srv)
	defer ts.Close()
	defer events.Close()

	client := ts.Client()

	post := func(t *testing.T, path, body string) *http.Response {
		t.Helper()
		resp, err := client.Post(ts.URL+path, "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("POST %s error = %v", path, err)
		}
		return resp
	}

	var templateID string
	t.Run("CreateTemplate", func(t *testing.T) {
		resp := post(t, "/api/templates",
			`{"name": "JUNTA-4", "hole_count": 4, "expected_separation_mm": 60, "notches": [{"x": 0, "y": 10}]}`)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
		}
		var tpl store.Template
		if err := json.NewDecoder(resp.Body).Decode(&tpl); err != nil {
			t.Fatalf("decode error = %v", err)
		}
		templateID = tpl.ID
	})

	t.Run("SelectTemplate", func(t *testing.T) {
		resp := post(t, "/api/templates/"+templateID+"/select", "")
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
	})

	t.Run("AnalyzePasses", func(t *testing.T) {
		resp := post(t, "/api/analyze", "")
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
		var out analyzeResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode error = %v", err)
		}
		if !out.Success {
			t.Fatalf("analisis_exitoso = false, error = %q", out.Error)
		}
		if out.Attempts != 1 {
			t.Errorf("attempts = %d, want 1", out.Attempts)
		}
		d := out.Data.Holes.DistanceMM
		if d == nil || *d < 59.5 || *d > 60.5 {
			t.Errorf("distance = %v, want about 60mm", d)
		}
		if len(out.Data.Observations) != 4 {
			t.Errorf("refined holes = %d, want 4", len(out.Data.Observations))
		}
		for i, obs := range out.Data.Observations {
			if got := obs.Center.Distance(part.Holes[i]); got > 1.0 {
				t.Errorf("hole %d centre %v is %.2fpx from %v", i, obs.Center, got, part.Holes[i])
			}
		}
		if len(out.Data.Notches) != 1 {
			t.Errorf("notches = %d, want 1", len(out.Data.Notches))
		}
	})

	t.Run("OverlayImage", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/api/analyze/result")
		if err != nil {
			t.Fatalf("GET error = %v", err)
		}
		defer resp.Body.Close()
		if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Fatalf("Content-Type = %q, want image/jpeg", ct)
		}
		img, _ := io.ReadAll(resp.Body)
		if len(img) < 2 || img[0] != 0xFF || img[1] != 0xD8 {
			t.Error("overlay is not a JPEG")
		}
	})

	t.Run("RejectedOnHoleCount", func(t *testing.T) {
		resp := post(t, "/api/templates", `{"name": "JUNTA-6", "hole_count": 6}`)
		var tpl store.Template
		json.NewDecoder(resp.Body).Decode(&tpl)
		resp.Body.Close()
		post(t, "/api/templates/"+tpl.ID+"/select", "").Body.Close()

		resp = post(t, "/api/analyze", "")
		defer resp.Body.Close()
		var out analyzeResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode error = %v", err)
		}
		if out.Success {
			t.Fatal("analisis_exitoso = true, want false")
		}
		if out.Attempts != 3 {
			t.Errorf("attempts = %d, want 3", out.Attempts)
		}
		if out.Data == nil || out.Data.EarlyExit != inspection.ExitHoleCount {
			t.Errorf("early exit = %+v, want %q", out.Data, inspection.ExitHoleCount)
		}
	})

	t.Run("History", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/api/inspections")
		if err != nil {
			t.Fatalf("GET error = %v", err)
		}
		defer resp.Body.Close()
		var body struct {
			Inspections []store.Inspection `json:"inspections"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode error = %v", err)
		}
		rows := body.Inspections
		if len(rows) != 2 {
			t.Fatalf("inspections = %d, want 2", len(rows))
		}
		if rows[0].Success || !rows[1].Success {
			t.Errorf("history order = [%v %v], want newest (rejected) first", rows[0].Success, rows[1].Success)
		}

		tpl, err := s.Templates().Get(templateID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if tpl.LastObservedMM == nil || tpl.Inspections != 1 {
			t.Errorf("template stats = %v/%d, want recorded analysis", tpl.LastObservedMM, tpl.Inspections)
		}
	})
}
