package econ

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/teeworlds-nats/bridge/internal/config"
)

// TaskRunner emits scheduled console commands into a sink channel.
// Cron tasks run on a shared scheduler in the host's local timezone;
// delay tasks each get a plain goroutine that emits their commands in
// order and then sleeps.
type TaskRunner struct {
	tasks     []config.TaskSpec
	sink      chan<- string
	scheduler gocron.Scheduler
	logger    *slog.Logger
}

// NewTaskRunner prepares a runner for the given task list. A scheduler
// is only created when at least one cron task exists.
func NewTaskRunner(tasks []config.TaskSpec, sink chan<- string, logger *slog.Logger) (*TaskRunner, error) {
	r := &TaskRunner{tasks: tasks, sink: sink, logger: logger}

	for _, t := range tasks {
		if !t.IsCron() {
			continue
		}
		if r.scheduler == nil {
			s, err := gocron.NewScheduler(gocron.WithLocation(time.Local))
			if err != nil {
				return nil, fmt.Errorf("create task scheduler: %w", err)
			}
			r.scheduler = s
		}
		if err := r.registerCron(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Start launches all tasks. Delay goroutines and the scheduler stop
// when ctx is cancelled.
func (r *TaskRunner) Start(ctx context.Context) {
	if r.scheduler != nil {
		r.scheduler.Start()
		go func() {
			<-ctx.Done()
			if err := r.scheduler.Shutdown(); err != nil {
				r.logger.Error("task scheduler shutdown", "error", err)
			}
		}()
	}
	for _, t := range r.tasks {
		if !t.IsCron() {
			go r.runDelay(ctx, t)
		}
	}
}

func (r *TaskRunner) registerCron(t config.TaskSpec) error {
	withSeconds := len(strings.Fields(t.Cron)) == 6

	var next atomic.Uint64
	job := func(ctx context.Context) {
		cmds := tickCommands(t.Type, t.Commands, &next)
		if len(cmds) == 0 {
			r.logger.Warn("cron task has no commands", "cron", t.Cron)
			return
		}
		if t.Type == "all" {
			for _, cmd := range cmds {
				go r.emit(ctx, cmd)
			}
			return
		}
		r.emit(ctx, cmds[0])
	}

	_, err := r.scheduler.NewJob(
		gocron.CronJob(t.Cron, withSeconds),
		gocron.NewTask(job),
	)
	if err != nil {
		return fmt.Errorf("schedule cron task %q: %w", t.Cron, err)
	}
	return nil
}

// tickCommands selects the commands one cron tick emits. Mode line
// walks the list round-robin with a persistent index, random picks
// uniformly, all returns every command.
func tickCommands(mode string, commands []string, next *atomic.Uint64) []string {
	if len(commands) == 0 {
		return nil
	}
	switch mode {
	case "random":
		return []string{commands[rand.IntN(len(commands))]}
	case "all":
		return commands
	default: // "line"
		idx := (next.Add(1) - 1) % uint64(len(commands))
		return []string{commands[idx]}
	}
}

// runDelay emits the task's commands in order, sleeps for the delay,
// and repeats until ctx is cancelled.
func (r *TaskRunner) runDelay(ctx context.Context, t config.TaskSpec) {
	delay := time.Duration(t.Delay) * time.Second
	timer := time.NewTimer(delay)
	defer timer.Stop()
	for {
		for _, cmd := range t.Commands {
			if !r.emit(ctx, cmd) {
				return
			}
		}
		timer.Reset(delay)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

func (r *TaskRunner) emit(ctx context.Context, cmd string) bool {
	select {
	case <-ctx.Done():
		return false
	case r.sink <- cmd:
		return true
	}
}

// AllCommands returns every command string any task can emit, for
// registration with the Supervisor's reconnect suppression.
func AllCommands(tasks []config.TaskSpec) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range tasks {
		for _, cmd := range t.Commands {
			if _, ok := seen[cmd]; ok {
				continue
			}
			seen[cmd] = struct{}{}
			out = append(out, cmd)
		}
	}
	return out
}
