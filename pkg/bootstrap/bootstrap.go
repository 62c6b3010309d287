// Package bootstrap deploys the debug stack and the app before a session
// starts. Every failure here is fatal to startup.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/livefn/livefn/pkg/cdk"
	"github.com/livefn/livefn/pkg/logger"
	"github.com/livefn/livefn/pkg/pipeline"
	"github.com/livefn/livefn/pkg/syscode"
)

var (
	ErrDebugStackFailed = errors.New("failed to deploy debug stack")
	ErrMissingEndpoint  = errors.New("debug stack has no Endpoint output")
	ErrAppFailed        = errors.New("failed to deploy the app")
)

// Toolkit synthesizes and deploys a stack app.
type Toolkit interface {
	pipeline.Synthesizer
	pipeline.Deployer
}

// Outputs are the outputs of the debug stack.
type Outputs struct {
	// Endpoint is the channel URL the stub forwards invocations through.
	Endpoint   string `json:"Endpoint"`
	BucketArn  string `json:"BucketArn"`
	BucketName string `json:"BucketName"`
}

// StackName returns the debug stack name for an app stage.
func StackName(stage, app string) string {
	return fmt.Sprintf("%s-%s-debug-stack", stage, app)
}

// DeployDebugStack synthesizes and deploys the debug stack named name. It
// fails unless exactly one stack deployed and it has an Endpoint output.
func DeployDebugStack(ctx context.Context, tk Toolkit, name string) (Outputs, error) {
	l := logger.StdlibLogger(ctx).With("stack", name)
	l.Info("deploying debug stack")

	if _, err := tk.Synth(ctx); err != nil {
		return Outputs{}, syscode.Wrap(syscode.CodeDebugStackFailed, fmt.Errorf("%w %s: %w", ErrDebugStackFailed, name, err))
	}
	res, err := tk.Deploy(ctx)
	if err != nil {
		return Outputs{}, syscode.Wrap(syscode.CodeDebugStackFailed, fmt.Errorf("%w %s: %w", ErrDebugStackFailed, name, err))
	}
	l.Debug("debug stack deployed", "results", res)

	if len(res) != 1 || res[0].Status == cdk.StackFailed {
		return Outputs{}, syscode.Wrap(syscode.CodeDebugStackFailed, fmt.Errorf("%w %s", ErrDebugStackFailed, name))
	}
	if res[0].Outputs["Endpoint"] == "" {
		return Outputs{}, syscode.Wrap(syscode.CodeDebugStackNoOutput, fmt.Errorf("%w: %s", ErrMissingEndpoint, name))
	}

	out := res[0].Outputs
	return Outputs{
		Endpoint:   out["Endpoint"],
		BucketArn:  out["BucketArn"],
		BucketName: out["BucketName"],
	}, nil
}

// DeployApp synthesizes and deploys the app, returning the template
// checksums of what was deployed. When skipDeploy is set the app is only
// synthesized and no checksums are recorded, so the first change deploys.
func DeployApp(ctx context.Context, tk Toolkit, skipDeploy bool) ([]cdk.StackResult, pipeline.Checksums, error) {
	l := logger.StdlibLogger(ctx)
	l.Info("deploying app")

	m, err := tk.Synth(ctx)
	if err != nil {
		return nil, nil, appFailed(err)
	}
	if skipDeploy {
		return []cdk.StackResult{}, pipeline.Checksums{}, nil
	}

	sums, err := pipeline.Compute(m)
	if err != nil {
		return nil, nil, appFailed(err)
	}

	res, err := tk.Deploy(ctx)
	if err != nil {
		return nil, nil, appFailed(err)
	}
	if cdk.Failed(res) {
		return res, nil, syscode.Wrap(syscode.CodeAppDeployFailed, ErrAppFailed)
	}
	return res, sums, nil
}

func appFailed(err error) error {
	return syscode.Wrap(syscode.CodeAppDeployFailed, fmt.Errorf("%w: %w", ErrAppFailed, err))
}
