/*
Copyright 2026 The Runjob Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command runjobd wires one job instance's phase tree to its
// control-plane socket and event dispatchers. It is intentionally thin:
// it parses two flags, while configuration loading, a full CLI flag
// surface, and log sink setup belong to the embedding job process, not
// to this library.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/gravitational/runjob/lib/control"
	"github.com/gravitational/runjob/lib/dispatch"
	"github.com/gravitational/runjob/lib/job"
	"github.com/gravitational/runjob/lib/metrics"
	"github.com/gravitational/runjob/lib/phase"
	"github.com/gravitational/runjob/lib/phaser"
	"github.com/gravitational/runjob/lib/runtimedir"
	"github.com/gravitational/trace"
)

func main() {
	runtimeDir := flag.String("runtime-dir", "", "per-user runtime directory (default: $XDG_RUNTIME_DIR/runjob)")
	jobType := flag.String("job-type", "generic", "job type attribute attached to this instance")
	flag.Parse()

	log := logrus.WithField(trace.Component, "runjobd")

	if err := run(*runtimeDir, *jobType, log); err != nil {
		log.WithError(err).Error("runjobd exited with error.")
		os.Exit(1)
	}
}

func run(runtimeDirOverride, jobType string, log logrus.FieldLogger) error {
	metrics.MustRegister(prometheus.DefaultRegisterer)

	dir, err := runtimedir.New(runtimeDirOverride)
	if err != nil {
		return trace.Wrap(err)
	}

	registry := control.NewRegistry()
	server := control.NewServer(registry, log)
	socketPath := dir.NewControlSocketPath()
	if err := server.Listen(socketPath); err != nil {
		return trace.Wrap(err)
	}
	defer server.Close()
	log.WithField("socket", socketPath).Info("Control-plane listening.")

	exec := &noopExecutingPhase{}
	execPhase := phase.NewBase("execute", "exec", "execute", nil, phase.RunStateExecuting, nil, exec, nil)

	transitions := dispatch.NewTransitionDispatcher(dir, log)
	output := dispatch.NewOutputDispatcher(dir, log)

	// inst is filled in below, after the driver it's referenced by the
	// hook exists; the hook is only ever invoked once Run starts.
	var inst *job.Instance
	driver, err := phaser.New(phaser.Config{
		Phases: []phase.Phase{execPhase},
		Logger: log,
		TransitionHook: func(run phaser.PhaseRun) {
			if inst == nil {
				return
			}
			transitions.DispatchTransition(inst.Snapshot(), phase.UpdateEvent{
				Stage: phase.StageRunning,
				At:    run.EnteredAt,
				Detail: phase.Detail{
					ID:        run.PhaseID,
					RunState:  run.RunState,
					CreatedAt: run.EnteredAt,
				},
			})
		},
	})
	if err != nil {
		return trace.Wrap(err)
	}

	inst = job.New(uuid.NewString(), jobType, nil, execPhase, driver, 1000)
	registry.Register(inst)
	defer registry.Unregister(inst.ID())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("Received shutdown signal, stopping run.")
		inst.Stop()
		cancel()
	}()

	runErr := inst.Run(ctx)

	line := job.OutputLine{Text: "job run finished", At: time.Now()}
	inst.Output().Append(line)
	output.DispatchOutput(inst.Snapshot(), line)

	return runErr
}

// noopExecutingPhase is a placeholder Runnable: real job processes
// supply their own executing-phase implementation and construct the
// phase tree around it (coordination phases first, executing phase
// last) before handing it to this wiring.
type noopExecutingPhase struct{}

func (noopExecutingPhase) Execute(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}
