//go:generate go run github.com/dmarkham/enumer -trimprefix=Phase -type=Phase -json -text -transform=snake

package pipeline

// Phase is the current step of the build-synth-deploy cycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseBuilding
	PhaseSynthing
	PhaseDeployable
	PhaseDeploying
)

// acceptsChange reports whether a file change starts a new build from p.
func (p Phase) acceptsChange() bool {
	return p == PhaseIdle || p == PhaseDeployable
}
