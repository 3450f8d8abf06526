package store

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestInspectionRepository_CreateGet(t *testing.T) {
	s := newTestStore(t)
	tpl := sampleTemplate()
	s.Templates().Create(tpl)
	repo := s.Inspections()

	dist := 40.0
	in := &Inspection{
		TemplateID:   tpl.ID,
		TemplateName: tpl.Name,
		Success:      true,
		Attempts:     2,
		DistanceMM:   &dist,
		Data:         json.RawMessage(`{"muescas":[]}`),
	}
	if err := repo.Create(in); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if in.ID == "" {
		t.Fatal("Create() should generate an ID")
	}

	got, err := repo.Get(in.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !got.Success || got.Attempts != 2 || got.TemplateID != tpl.ID {
		t.Errorf("Get() = %+v", got)
	}
	if got.DistanceMM == nil || *got.DistanceMM != 40.0 {
		t.Errorf("DistanceMM = %v, want 40", got.DistanceMM)
	}
	if string(got.Data) != `{"muescas":[]}` {
		t.Errorf("Data = %s", got.Data)
	}

	if _, err := repo.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestInspectionRepository_ListNewestFirst(t *testing.T) {
	s := newTestStore(t)
	repo := s.Inspections()

	for _, reason := range []string{"first", "second", "third"} {
		if err := repo.Create(&Inspection{Reason: reason, Attempts: 3, EarlyExit: "cantidad_pistones"}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	all, err := repo.List(0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List(0) returned %d rows, want 3", len(all))
	}
	if all[0].Reason != "third" {
		t.Errorf("newest row = %q, want third", all[0].Reason)
	}
	if all[0].TemplateID != "" || all[0].DistanceMM != nil {
		t.Errorf("nullable columns should stay empty: %+v", all[0])
	}
	if string(all[0].Data) != "{}" {
		t.Errorf("Data = %s, want {}", all[0].Data)
	}

	two, _ := repo.List(2)
	if len(two) != 2 {
		t.Errorf("List(2) returned %d rows", len(two))
	}
}

func TestInspectionRepository_TemplateDeleteKeepsHistory(t *testing.T) {
	s := newTestStore(t)
	tpl := sampleTemplate()
	s.Templates().Create(tpl)

	in := &Inspection{TemplateID: tpl.ID, TemplateName: tpl.Name, Attempts: 1}
	s.Inspections().Create(in)
	if err := s.Templates().Delete(tpl.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	got, err := s.Inspections().Get(in.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.TemplateID != "" || got.TemplateName != tpl.Name {
		t.Errorf("history row = %+v", got)
	}
}
