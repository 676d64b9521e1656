package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAddAndRetrieveBuilds(t *testing.T) {
	tmp := t.TempDir()
	s := New(tmp)

	record := BuildRecord{
		Board:     "esp32s3_devkitc/esp32s3/procpu",
		App:       "apps/blink",
		Timestamp: time.Now(),
		Success:   true,
		Duration:  "12.5s",
		Artifacts: []string{"apps/blink/build/zephyr/zephyr.bin"},
	}

	if err := s.AddBuild(record); err != nil {
		t.Fatalf("AddBuild failed: %v", err)
	}

	builds, err := s.Builds()
	if err != nil {
		t.Fatalf("Builds failed: %v", err)
	}
	if len(builds) != 1 {
		t.Fatalf("expected 1 build, got %d", len(builds))
	}
	if builds[0].Board != "esp32s3_devkitc/esp32s3/procpu" {
		t.Errorf("unexpected board %s", builds[0].Board)
	}
	if builds[0].ID == "" {
		t.Error("expected an ID to be assigned")
	}
}

func TestAddMultipleRecords(t *testing.T) {
	tmp := t.TempDir()
	s := New(tmp)

	s.AddBuild(BuildRecord{Board: "board1", Timestamp: time.Now(), Success: true, Duration: "5s"})
	s.AddBuild(BuildRecord{Board: "board2", Timestamp: time.Now(), Success: false, Duration: "3s"})
	s.AddFlash(FlashRecord{Board: "board1", Port: "/dev/ttyUSB0", Timestamp: time.Now(), Success: true, Duration: "2s"})
	s.AddImage(ImageRecord{Target: "espressif", Tag: "zflow-espressif:latest", Success: true})
	s.AddSerialLog(SerialLog{Port: "/dev/ttyUSB0", BaudRate: 115200, Lines: 4})

	builds, _ := s.Builds()
	if len(builds) != 2 {
		t.Errorf("expected 2 builds, got %d", len(builds))
	}
	if builds[0].ID == builds[1].ID {
		t.Error("record IDs must be unique")
	}

	flashes, _ := s.Flashes()
	if len(flashes) != 1 {
		t.Errorf("expected 1 flash, got %d", len(flashes))
	}
	images, _ := s.Images()
	if len(images) != 1 {
		t.Errorf("expected 1 image, got %d", len(images))
	}
	logs, _ := s.SerialLogs()
	if len(logs) != 1 || logs[0].Lines != 4 {
		t.Errorf("unexpected serial logs: %+v", logs)
	}
}

func TestEmptyStore(t *testing.T) {
	tmp := t.TempDir()
	s := New(tmp)

	builds, err := s.Builds()
	if err != nil {
		t.Fatalf("Builds on empty store failed: %v", err)
	}
	if len(builds) != 0 {
		t.Errorf("expected 0 builds, got %d", len(builds))
	}
}

func TestStateRoundTrip(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), ".zflow"))

	var empty map[string]any
	found, err := s.LoadState(&empty)
	if err != nil || found {
		t.Fatalf("expected no state, got found=%v err=%v", found, err)
	}

	type snapshot struct {
		Stage      string `json:"stage"`
		Generation int    `json:"generation"`
	}
	if err := s.SaveState(snapshot{Stage: "FirmwareBuilt", Generation: 3}); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	var got snapshot
	found, err = s.LoadState(&got)
	if err != nil || !found {
		t.Fatalf("LoadState: found=%v err=%v", found, err)
	}
	if got.Stage != "FirmwareBuilt" || got.Generation != 3 {
		t.Errorf("state = %+v", got)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "state.json.tmp")); !os.IsNotExist(err) {
		t.Error("temporary state file left behind")
	}
}

func TestLogsDirCreated(t *testing.T) {
	s := New(t.TempDir())
	dir, err := s.LogsDir()
	if err != nil {
		t.Fatalf("LogsDir: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("logs dir missing: %v", err)
	}
}
