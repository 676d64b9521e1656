package workflow

import (
	"fmt"
	"time"

	"github.com/buckleypaul/zflow/internal/docker"
	"github.com/buckleypaul/zflow/internal/target"
)

// Stage is the position of a workflow in the build-flash-monitor chain.
type Stage int

const (
	NotBuilt Stage = iota
	ImageBuilt
	ContainerRunning
	FirmwareBuilt
	Flashed
	Monitoring
)

var stageNames = [...]string{
	NotBuilt:         "NotBuilt",
	ImageBuilt:       "ImageBuilt",
	ContainerRunning: "ContainerRunning",
	FirmwareBuilt:    "FirmwareBuilt",
	Flashed:          "Flashed",
	Monitoring:       "Monitoring",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

// MarshalText stores stages by name so state files stay readable.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Stage) UnmarshalText(b []byte) error {
	for i, name := range stageNames {
		if name == string(b) {
			*s = Stage(i)
			return nil
		}
	}
	return fmt.Errorf("unknown stage %q", b)
}

// ImageRef is a built toolchain image.
type ImageRef = docker.Image

// ContainerHandle is a running workspace container.
type ContainerHandle = docker.Container

// WorkspaceMount is a host directory bound into the container. An empty
// MountPoint means the target's default.
type WorkspaceMount struct {
	HostPath   string
	MountPoint string
}

// BuildArtifact is a firmware binary produced by one firmware build.
type BuildArtifact struct {
	Target     string    `json:"target"`
	Board      string    `json:"board"`
	Project    string    `json:"project"`
	Path       string    `json:"path"`      // Relative to the workspace mount
	HostPath   string    `json:"host_path"` // Same file seen from the host
	SHA256     string    `json:"sha256"`
	Size       int64     `json:"size"`
	Generation int       `json:"generation"`
	BuiltAt    time.Time `json:"built_at"`
}

// FlashResult confirms the flashing tool reported completion. The device
// contents are not read back.
type FlashResult struct {
	Port     string        `json:"port"`
	Artifact string        `json:"artifact"`
	Output   string        `json:"output"`
	Duration time.Duration `json:"duration"`
	Verified bool          `json:"verified"`
	Reset    bool          `json:"reset"`
}

// Snapshot is the persisted workflow state. Container is the last container
// started; it stays recorded after its stage is invalidated so it can still
// be torn down. Generation counts successful firmware builds and never
// decreases.
type Snapshot struct {
	RunID       string           `json:"run_id,omitempty"`
	Stage       Stage            `json:"stage"`
	Target      *target.Target   `json:"target,omitempty"`
	Image       *ImageRef        `json:"image,omitempty"`
	Container   *ContainerHandle `json:"container,omitempty"`
	Artifact    *BuildArtifact   `json:"artifact,omitempty"`
	Generation  int              `json:"generation"`
	MonitorPort string           `json:"monitor_port,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// reset moves the workflow back to stage and drops everything that
// depended on later stages.
func (s *Snapshot) reset(stage Stage) {
	if s.Stage > stage {
		s.Stage = stage
	}
	if stage < ImageBuilt {
		s.Target = nil
		s.Image = nil
	}
	if stage < FirmwareBuilt {
		s.Artifact = nil
	}
	if stage < Monitoring {
		s.MonitorPort = ""
	}
}

// ActiveContainer returns the container when the workflow is at or past
// ContainerRunning.
func (s Snapshot) ActiveContainer() (ContainerHandle, bool) {
	if s.Stage < ContainerRunning || s.Container == nil {
		return ContainerHandle{}, false
	}
	return *s.Container, true
}

func (s Snapshot) clone() Snapshot {
	c := s
	if s.Target != nil {
		t := *s.Target
		c.Target = &t
	}
	if s.Image != nil {
		i := *s.Image
		c.Image = &i
	}
	if s.Container != nil {
		ct := *s.Container
		c.Container = &ct
	}
	if s.Artifact != nil {
		a := *s.Artifact
		c.Artifact = &a
	}
	return c
}
