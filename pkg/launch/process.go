package launch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Server describes one external process a session depends on, typically a
// perception server or the PDF presenter. The orchestrator can run against
// already-running servers instead; spawning is optional.
type Server struct {
	Name    string
	Command []string
	Dir     string
}

// Group supervises a set of spawned server processes.
type Group struct {
	mu    sync.Mutex
	procs []*exec.Cmd
	done  sync.WaitGroup
}

// stopGrace is how long Stop waits after an interrupt before killing.
const stopGrace = 3 * time.Second

// StartAll spawns every server, inheriting the parent environment. Output
// goes to the process's own stdout/stderr. If any server fails to start, the
// ones already running are stopped and the error is returned.
func StartAll(ctx context.Context, servers []Server) (*Group, error) {
	g := &Group{}
	for _, srv := range servers {
		if len(srv.Command) == 0 {
			g.Stop()
			return nil, fmt.Errorf("launch: server %q has no command", srv.Name)
		}
		cmd := exec.CommandContext(ctx, srv.Command[0], srv.Command[1:]...)
		cmd.Dir = srv.Dir
		if err := cmd.Start(); err != nil {
			g.Stop()
			return nil, fmt.Errorf("launch: start %s: %w", srv.Name, err)
		}
		slog.Info("server started", "name", srv.Name, "pid", cmd.Process.Pid)

		g.mu.Lock()
		g.procs = append(g.procs, cmd)
		g.mu.Unlock()

		name := srv.Name
		g.done.Add(1)
		go func() {
			defer g.done.Done()
			err := cmd.Wait()
			if ctx.Err() != nil {
				return
			}
			// The session keeps running; adapters reconnect if the
			// server comes back by other means.
			slog.Warn("server exited", "name", name, "error", err)
		}()
	}
	return g, nil
}

// Stop interrupts every spawned process and kills stragglers after a grace
// period. Safe to call more than once.
func (g *Group) Stop() {
	g.mu.Lock()
	procs := g.procs
	g.procs = nil
	g.mu.Unlock()

	for _, cmd := range procs {
		if cmd.Process == nil {
			continue
		}
		// Interrupt is unsupported on some platforms; fall back to kill.
		if err := cmd.Process.Signal(os.Interrupt); err != nil {
			cmd.Process.Kill()
		}
	}

	waited := make(chan struct{})
	go func() {
		g.done.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(stopGrace):
		for _, cmd := range procs {
			if cmd.Process != nil {
				cmd.Process.Kill()
			}
		}
	}
}
