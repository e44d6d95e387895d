package detach

import (
	"os"
	"strings"
)

const (
	// EnvStage marks a re-executed process as a detaching child.
	EnvStage = "DAEMONIZE_STAGE"
	// EnvToken carries the per-launch handoff token.
	EnvToken = "DAEMONIZE_TOKEN"

	notifyFD = 3
)

// Stage identifies which process of the detachment sequence is running.
type Stage int

const (
	StageParent Stage = iota
	StageSession
	StageDaemon
)

func (s Stage) String() string {
	switch s {
	case StageSession:
		return "session"
	case StageDaemon:
		return "daemon"
	default:
		return "parent"
	}
}

func parseStage(value string) Stage {
	switch strings.TrimSpace(value) {
	case "session":
		return StageSession
	case "daemon":
		return StageDaemon
	default:
		return StageParent
	}
}

type launch struct {
	stage Stage
	token string
}

// Captured before main runs; Continue scrubs the environment afterwards.
var launched = launch{
	stage: parseStage(os.Getenv(EnvStage)),
	token: os.Getenv(EnvToken),
}

// CurrentStage reports the stage this process was launched as.
func CurrentStage() Stage {
	if launched.token == "" {
		return StageParent
	}
	return launched.stage
}

// IsChild reports whether this process is a re-executed detaching child.
func IsChild() bool {
	return CurrentStage() != StageParent
}

func stageEnv(environ []string, stage Stage, token string) []string {
	out := make([]string, 0, len(environ)+2)
	for _, kv := range environ {
		if strings.HasPrefix(kv, EnvStage+"=") || strings.HasPrefix(kv, EnvToken+"=") {
			continue
		}
		out = append(out, kv)
	}
	return append(out, EnvStage+"="+stage.String(), EnvToken+"="+token)
}
