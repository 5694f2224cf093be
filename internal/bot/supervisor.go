package bot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/coinpilot/coinpilot/internal/config"
	"github.com/coinpilot/coinpilot/internal/model"
	"github.com/coinpilot/coinpilot/internal/pkg/logger"
)

type BotStore interface {
	UpsertByName(ctx context.Context, bot *model.Bot) error
}

// Process is a running worker.
type Process interface {
	Wait() error
	Stop() error
}

type Launcher interface {
	Launch(bin string, args ...string) (Process, error)
}

// ExecLauncher starts workers as child OS processes sharing the supervisor's stdout and stderr.
type ExecLauncher struct{}

func (ExecLauncher) Launch(bin string, args ...string) (Process, error) {
	cmd := exec.Command(bin, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Wait() error { return p.cmd.Wait() }

func (p *execProcess) Stop() error {
	if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
		return p.cmd.Process.Kill()
	}
	return nil
}

type worker struct {
	name     string
	bin      string
	args     []string
	proc     Process
	done     chan error
	restarts int
	retired  bool
}

// Supervisor registers every configured bot and keeps one generator and one
// processor process alive per bot, restarting dead ones a bounded number of times.
type Supervisor struct {
	cfg      config.SupervisorConfig
	bots     []config.BotConfig
	store    BotStore
	launcher Launcher
	log      *slog.Logger

	mu      sync.Mutex
	workers []*worker
}

func NewSupervisor(cfg config.SupervisorConfig, bots []config.BotConfig, store BotStore, launcher Launcher, log *slog.Logger) *Supervisor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 10 * time.Second
	}
	if launcher == nil {
		launcher = ExecLauncher{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Supervisor{cfg: cfg, bots: bots, store: store, launcher: launcher, log: log.With("component", "supervisor")}
}

// Register upserts bot metadata by name and returns the stored bots in config order.
func (s *Supervisor) Register(ctx context.Context) ([]model.Bot, error) {
	out := make([]model.Bot, 0, len(s.bots))
	for _, bc := range s.bots {
		exchangeName := bc.Exchange
		if exchangeName == "" {
			exchangeName = "coinbase"
		}
		b := &model.Bot{
			Name:        bc.Name,
			Description: bc.Description,
			Exchange:    exchangeName,
			AssetTypes:  bc.AssetTypes,
		}
		if err := s.store.UpsertByName(ctx, b); err != nil {
			return nil, err
		}
		s.log.Info("bot registered", "bot", b.Name, "bot_id", b.ID)
		out = append(out, *b)
	}
	return out, nil
}

// Run registers bots, launches their workers and monitors them until ctx is done.
func (s *Supervisor) Run(ctx context.Context) error {
	bots, err := s.Register(ctx)
	if err != nil {
		return fmt.Errorf("register bots: %w", err)
	}
	s.mu.Lock()
	for _, b := range bots {
		args := []string{"--id", strconv.FormatInt(b.ID, 10)}
		s.workers = append(s.workers,
			&worker{name: b.Name + "/generator", bin: s.cfg.GeneratorBin, args: args},
			&worker{name: b.Name + "/processor", bin: s.cfg.ProcessorBin, args: args},
		)
	}
	for _, w := range s.workers {
		if err := s.start(w); err != nil {
			s.log.Error("worker failed to start", "worker", w.name, "error", err)
			w.retired = true
		}
	}
	s.mu.Unlock()

	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			return nil
		case <-ticker.C:
			s.check()
		}
	}
}

func (s *Supervisor) start(w *worker) error {
	proc, err := s.launcher.Launch(w.bin, w.args...)
	if err != nil {
		return err
	}
	w.proc = proc
	w.done = make(chan error, 1)
	go func(done chan<- error) { done <- proc.Wait() }(w.done)
	s.log.Info("worker started", "worker", w.name, "restarts", w.restarts)
	return nil
}

// check restarts workers that exited since the last poll.
func (s *Supervisor) check() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.workers {
		if w.retired {
			continue
		}
		select {
		case err := <-w.done:
			s.log.Warn("worker exited", "worker", w.name, "error", err)
			if w.restarts >= s.cfg.MaxRestarts {
				s.log.Error("worker restart limit reached", "worker", w.name, "restarts", w.restarts)
				w.retired = true
				continue
			}
			w.restarts++
			if err := s.start(w); err != nil {
				s.log.Error("worker restart failed", "worker", w.name, "error", err)
				w.retired = true
			}
		default:
		}
	}
}

func (s *Supervisor) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.workers {
		if w.retired || w.proc == nil {
			continue
		}
		if err := w.proc.Stop(); err != nil {
			s.log.Warn("worker stop failed", "worker", w.name, "error", err)
		}
	}
	deadline := time.After(10 * time.Second)
	for _, w := range s.workers {
		if w.retired || w.proc == nil {
			continue
		}
		select {
		case <-w.done:
		case <-deadline:
			s.log.Warn("worker did not exit in time", "worker", w.name)
			return
		}
	}
	s.log.Info("all workers stopped")
}

// Alive reports how many workers are still managed.
func (s *Supervisor) Alive() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, w := range s.workers {
		if !w.retired {
			n++
		}
	}
	return n
}
