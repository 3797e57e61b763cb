package runner

import (
	"bytes"
	"context"
	"os"

	"github.com/dimiro1/banner"
)

// State describes where a Runner is in its lifecycle.
type State int

const (
	StateNew State = iota
	StateStarting
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Runner owns the start/drain/stop lifecycle of a long-lived component.
type Runner interface {
	Run(ctx context.Context) error
	Stop() error
	State() State
}

// Hooks are called at lifecycle edges. Either may be nil.
type Hooks struct {
	OnStart func()
	OnStop  func()
}

// Drainer lets the engine finish in-flight calls before shutdown.
type Drainer interface {
	Drain() error
}

const EngineVersion = "dev"

func PrintBanner() {
	tpl := "{{ .Title \"CALLUNA\" \"\" 0 }}\nVersion: " + EngineVersion + "\n"
	banner.Init(os.Stdout, true, true, bytes.NewBufferString(tpl))
}
