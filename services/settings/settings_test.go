package settings

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadMissingFile(t *testing.T) {
	p, err := Load(filepath.Join(t.TempDir(), "settings.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if g := p.Current(); g.AllowExtension || g.AllowReduction || g.SessionLength != 0 {
		t.Fatalf("Current() = %+v, want zero settings", g)
	}
}

func TestReplacePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "settings.yaml")
	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	got, err := p.Replace(General{
		ArenaName:      "  Lockbox  ",
		TimeZone:       "Europe/Berlin",
		SessionLength:  45,
		SessionPresets: []int{60, 30, 60, 90},
		AllowExtension: true,
	})
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if got.ArenaName != "Lockbox" || !reflect.DeepEqual(got.SessionPresets, []int{30, 60, 90}) || got.UpdatedAt.IsZero() {
		t.Fatalf("Replace() = %+v", got)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload error = %v", err)
	}
	if g := reloaded.Current(); !g.AllowExtension || g.SessionLength != 45 || g.TimeZone != "Europe/Berlin" {
		t.Fatalf("reloaded = %+v", g)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		g       General
		wantErr bool
	}{
		{name: "zero", g: General{}},
		{name: "bad zone", g: General{TimeZone: "Mars/Olympus"}, wantErr: true},
		{name: "negative length", g: General{SessionLength: -1}, wantErr: true},
		{name: "zero preset", g: General{SessionPresets: []int{30, 0}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := tt.g
			if err := g.Validate(); (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("session_length: -5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("Load() accepted negative session_length")
	}
}

func TestCurrentReturnsCopy(t *testing.T) {
	p := NewProvider(General{SessionPresets: []int{30}})
	g := p.Current()
	g.SessionPresets[0] = 999
	if p.Current().SessionPresets[0] != 30 {
		t.Fatalf("Current() exposes internal slice")
	}
}
