package storage

import (
	"path/filepath"
	"testing"

	"github.com/dokzlo13/quntisd/internal/db"
	"github.com/dokzlo13/quntisd/internal/light"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "state.sqlite"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewStore(database.DB)
}

func TestLampRoundTrip(t *testing.T) {
	s := openStore(t)

	if _, ok, err := s.LoadLamp("desk"); err != nil || ok {
		t.Fatalf("LoadLamp() on empty store = ok %t, err %v", ok, err)
	}

	want := light.State{On: true, Brightness: 0.4, ColorTemp: 326}
	if err := s.SaveLamp("desk", want); err != nil {
		t.Fatalf("SaveLamp() error = %v", err)
	}
	got, ok, err := s.LoadLamp("desk")
	if err != nil || !ok {
		t.Fatalf("LoadLamp() = ok %t, err %v", ok, err)
	}
	if got != want {
		t.Errorf("LoadLamp() = %+v, want %+v", got, want)
	}
}

func TestSetIncrementsVersion(t *testing.T) {
	s := openStore(t)

	for i := 0; i < 3; i++ {
		if err := s.Set(KindLamp, "desk", []byte(`{}`)); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
	}
	_, version, err := s.Get(KindLamp, "desk")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if version != 3 {
		t.Errorf("version = %d, want 3", version)
	}

	if err := s.Delete(KindLamp, "desk"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if payload, _, _ := s.Get(KindLamp, "desk"); payload != nil {
		t.Errorf("payload after Delete = %s", payload)
	}
}

func TestLoadLampRejectsGarbage(t *testing.T) {
	s := openStore(t)
	if err := s.Set(KindLamp, "desk", []byte(`not json`)); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.LoadLamp("desk"); err == nil {
		t.Error("LoadLamp() accepted a corrupt payload")
	}
}
