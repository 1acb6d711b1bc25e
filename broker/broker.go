// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package broker implements the base loop shared by every broker and
// core node: a single-goroutine command dispatcher fed by a
// priority-aware queue, with a periodic tick used as a liveness
// watchdog.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/absmach/cosim/archive"
	"github.com/absmach/cosim/config"
	"github.com/absmach/cosim/core"
	"github.com/absmach/cosim/queue"
	"github.com/absmach/cosim/timecoord"
)

// dumpLogLevel is the level the dump record is emitted at.
const dumpLogLevel = -10

// Handlers are the polymorphic hooks the concrete broker or core
// supplies. The base guarantees they run only on the dispatch
// goroutine. A nil ProcessCommand falls back to routing time commands
// through the node's coordinator; nil ProcessPriorityCommand and
// ProcessDisconnect hooks do nothing.
type Handlers struct {
	ProcessCommand         func(core.ActionMessage)
	ProcessPriorityCommand func(core.ActionMessage)
	ProcessDisconnect      func()
}

// protector is the liveness cell shared with timer callbacks. It is
// flipped false before the timers are cancelled, so an in-flight
// callback observes inactive and enqueues nothing.
type protector struct {
	mu     sync.Mutex
	active bool
}

func (p *protector) get() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *protector) set(v bool) {
	p.mu.Lock()
	p.active = v
	p.mu.Unlock()
}

// Base owns the command queue, tick timer, logger, identity, and time
// coordinator of a broker or core node, and runs the dispatch loop.
type Base struct {
	identifier string
	globalID   core.GlobalID

	queue     *queue.CommandQueue
	timeCoord *timecoord.Coordinator
	handlers  Handlers
	service   Service
	dumpStore archive.Store
	stats     *Stats

	logger       *slog.Logger
	fileLogger   *slog.Logger
	logFile      *os.File
	loggerFunc   func(level int, name, msg string)
	consoleLevel int
	fileLevel    int
	maxLevel     int
	logMu        sync.RWMutex

	tick    time.Duration
	timeout time.Duration
	dumplog bool

	state             atomic.Int32
	mainLoopIsRunning atomic.Bool
	connected         atomic.Bool
	abnormal          atomic.Bool

	active    *protector
	tickTimer *time.Timer
	connTimer *time.Timer
	timerMu   sync.Mutex

	resetLimiter *rate.Limiter
	breaker      *gobreaker.CircuitBreaker

	wg sync.WaitGroup
}

// New creates a configured broker base. The identifier is taken from
// the configuration or generated as <pid>-<uuid>, the file logger is
// opened if configured, and the time coordinator is wired back into
// the command queue.
func New(cfg *config.Config, logger *slog.Logger, handlers Handlers) (*Base, error) {
	if logger == nil {
		logger = slog.Default()
	}

	b := &Base{
		identifier:   cfg.Broker.Identifier,
		globalID:     core.UnsetID,
		queue:        queue.New(),
		handlers:     handlers,
		stats:        NewStats(),
		logger:       logger,
		consoleLevel: cfg.Log.ConsoleLevel,
		fileLevel:    cfg.Log.FileLevel,
		tick:         cfg.Broker.Tick,
		timeout:      cfg.Broker.Timeout,
		dumplog:      cfg.Broker.DumpLog,
		active:       &protector{active: true},
		resetLimiter: rate.NewLimiter(rate.Every(time.Second), 2),
	}
	b.maxLevel = max(b.consoleLevel, b.fileLevel)

	if b.identifier == "" {
		b.identifier = generateID()
	}

	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		b.logFile = f
		b.fileLogger = slog.New(slog.NewTextHandler(f, nil))
	}

	b.timeCoord = timecoord.New(core.UnsetID, b.AddActionMessage)
	b.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: b.identifier + "-service",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	b.state.Store(int32(core.Configured))
	return b, nil
}

func generateID() string {
	return fmt.Sprintf("%d-%s", os.Getpid(), uuid.NewString())
}

// Identifier returns the node's identifier.
func (b *Base) Identifier() string {
	return b.identifier
}

// GenerateNewIdentifier replaces the identifier with a fresh
// generated one.
func (b *Base) GenerateNewIdentifier() {
	b.identifier = generateID()
}

// GlobalID returns the id assigned by the parent broker.
func (b *Base) GlobalID() core.GlobalID {
	return core.GlobalID(atomic.LoadInt32((*int32)(&b.globalID)))
}

// SetGlobalID records the id assigned during the handshake.
func (b *Base) SetGlobalID(id core.GlobalID) {
	atomic.StoreInt32((*int32)(&b.globalID), int32(id))
	b.timeCoord.SetID(id)
}

// State returns the current lifecycle state.
func (b *Base) State() core.BrokerState {
	return core.BrokerState(b.state.Load())
}

// TimeCoordinator returns the node's time coordinator. It must only
// be used from the dispatch goroutine.
func (b *Base) TimeCoordinator() *timecoord.Coordinator {
	return b.timeCoord
}

// Stats returns the dispatch-loop statistics.
func (b *Base) Stats() *Stats {
	return b.stats
}

// SetService installs the transport I/O service. Must be called
// before Start.
func (b *Base) SetService(s Service) {
	b.service = s
}

// SetDumpStore installs a persistent archive for the dump log. Must
// be called before Start.
func (b *Base) SetDumpStore(s archive.Store) {
	b.dumpStore = s
}

// SetHandlers replaces the processing hooks. Must be called before
// Start.
func (b *Base) SetHandlers(h Handlers) {
	b.handlers = h
}

// SetLoggerFunction installs a user logger. While set it takes
// precedence over the console and file loggers.
func (b *Base) SetLoggerFunction(fn func(level int, name, msg string)) {
	b.logMu.Lock()
	b.loggerFunc = fn
	b.logMu.Unlock()
}

// SetLogLevels changes the console and file logging levels. Messages
// above the larger of the two are dropped at source.
func (b *Base) SetLogLevels(consoleLevel, fileLevel int) {
	b.logMu.Lock()
	b.consoleLevel = consoleLevel
	b.fileLevel = fileLevel
	b.maxLevel = max(consoleLevel, fileLevel)
	b.logMu.Unlock()
}

// SetLogLevel changes both logging levels at once.
func (b *Base) SetLogLevel(level int) {
	b.SetLogLevels(level, level)
}

// SendToLogger emits a log message on behalf of a federate. Only
// messages for this node (fed id 0 or the node's own global id) are
// accepted; the return value reports whether the node owned the
// stream.
func (b *Base) SendToLogger(fedID core.GlobalID, level int, name, msg string) bool {
	if fedID != 0 && fedID != b.GlobalID() {
		return false
	}

	b.logMu.RLock()
	defer b.logMu.RUnlock()

	if level > b.maxLevel {
		// Dropped at source.
		return true
	}
	if b.loggerFunc != nil {
		b.loggerFunc(level, name, msg)
		return true
	}
	if level <= b.consoleLevel {
		b.logger.Log(context.Background(), slogLevel(level), msg, "name", name, "level", level)
	}
	if b.fileLogger != nil && level <= b.fileLevel {
		b.fileLogger.Log(context.Background(), slogLevel(level), name+"::"+msg)
	}
	return true
}

// slogLevel maps federation verbosity levels onto slog levels: the
// federation counts up for more detail, slog counts down.
func slogLevel(level int) slog.Level {
	if level <= 1 {
		return slog.LevelInfo
	}
	return slog.LevelDebug
}

// AddActionMessage routes a message into the matching queue lane.
// It never panics; transports and timer callbacks rely on that.
func (b *Base) AddActionMessage(m core.ActionMessage) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("panic in addActionMessage", "recovered", r)
		}
	}()

	if m.IsPriority() {
		b.queue.PushPriority(m)
	} else {
		b.queue.Push(m)
	}
}

// Start spawns the dispatch goroutine and begins the connection
// timeout countdown.
func (b *Base) Start() error {
	if !b.state.CompareAndSwap(int32(core.Configured), int32(core.Running)) {
		return fmt.Errorf("cannot start from state %s", b.State())
	}

	if b.service != nil {
		if err := b.service.Start(); err != nil {
			b.state.Store(int32(core.Configured))
			return fmt.Errorf("failed to start I/O service: %w", err)
		}
	}

	b.mainLoopIsRunning.Store(true)
	b.wg.Add(1)
	go b.queueProcessingLoop()

	if b.timeout > 0 {
		b.timerMu.Lock()
		b.connTimer = time.AfterFunc(b.timeout, b.connectionTimeout)
		b.timerMu.Unlock()
	}
	return nil
}

// Connected records that the parent broker connection completed and
// cancels the timeout.
func (b *Base) Connected() {
	b.connected.Store(true)
	b.timerMu.Lock()
	if b.connTimer != nil {
		b.connTimer.Stop()
	}
	b.timerMu.Unlock()
}

func (b *Base) connectionTimeout() {
	if b.connected.Load() || !b.active.get() {
		return
	}
	m := core.NewActionMessage(core.CmdError)
	m.Name = "broker connection timed out"
	m = m.SetFlag(core.ErrorFlag)
	b.AddActionMessage(m)
}

// Stop requests an orderly shutdown.
func (b *Base) Stop() {
	b.AddActionMessage(core.NewActionMessage(core.CmdStop))
}

// Terminate requests an immediate shutdown, bypassing the processors.
func (b *Base) Terminate() {
	b.AddActionMessage(core.NewActionMessage(core.CmdTerminateImmediately))
}

// JoinAllThreads terminates the dispatch loop if it is still running
// and waits for it to exit.
func (b *Base) JoinAllThreads() {
	if b.mainLoopIsRunning.Load() {
		b.Terminate()
	}
	b.wg.Wait()
}

// ExitCode reports the shutdown kind: 0 after an orderly stop,
// non-zero after an abrupt or error-driven termination.
func (b *Base) ExitCode() int {
	if b.abnormal.Load() {
		return 1
	}
	return 0
}

// armTick schedules the next watchdog tick. The callback only
// enqueues; all state changes happen on the dispatch goroutine.
func (b *Base) armTick() {
	b.timerMu.Lock()
	defer b.timerMu.Unlock()

	b.tickTimer = time.AfterFunc(b.tick, func() {
		if !b.active.get() {
			return
		}
		b.AddActionMessage(core.NewActionMessage(core.CmdTick))
	})
}

// shutdownTimers flips the liveness cell and cancels the timers, in
// that order, so racing callbacks observe inactive.
func (b *Base) shutdownTimers() {
	b.active.set(false)
	b.timerMu.Lock()
	if b.tickTimer != nil {
		b.tickTimer.Stop()
	}
	if b.connTimer != nil {
		b.connTimer.Stop()
	}
	b.timerMu.Unlock()

	if b.service != nil {
		if err := b.service.Stop(); err != nil {
			b.logger.Error("failed to stop I/O service", "error", err)
		}
	}
}

// queueProcessingLoop is the dispatcher. It is the only goroutine
// allowed to mutate coordinator or manager state in steady operation.
func (b *Base) queueProcessingLoop() {
	defer b.wg.Done()

	var dumpMessages []core.ActionMessage
	messagesSinceLastTick := 0
	haltOperations := false

	b.armTick()

	logDump := func() {
		if !b.dumplog {
			return
		}
		for _, act := range dumpMessages {
			b.SendToLogger(0, dumpLogLevel, b.identifier,
				fmt.Sprintf("|| dl cmd:%s from %d to %d", act, act.Source, act.Dest))
		}
		if b.dumpStore != nil {
			if err := b.dumpStore.Close(); err != nil {
				b.logger.Error("failed to close dump archive", "error", err)
			}
		}
	}

	finish := func() {
		b.mainLoopIsRunning.Store(false)
		b.state.Store(int32(core.Done))
		logDump()
		if b.logFile != nil {
			if err := b.logFile.Close(); err != nil {
				b.logger.Error("failed to close log file", "error", err)
			}
		}
	}

	for {
		command := b.queue.Pop()
		if b.dumplog {
			dumpMessages = append(dumpMessages, command)
			if b.dumpStore != nil {
				if err := b.dumpStore.Append(command); err != nil {
					b.logger.Error("failed to archive command", "error", err)
				}
			}
		}

		switch command.Action {
		case core.CmdTick:
			b.stats.ticksReceived.Add(1)
			if messagesSinceLastTick == 0 {
				b.stats.ticksForwarded.Add(1)
				b.processCommand(command)
			}
			if command.Flags.Has(core.ErrorFlag) {
				b.recoverService()
			}
			messagesSinceLastTick = 0
			b.armTick()

		case core.CmdIgnore:

		case core.CmdTerminateImmediately:
			b.state.Store(int32(core.Terminating))
			b.abnormal.Store(true)
			b.shutdownTimers()
			finish()
			return

		case core.CmdError:
			b.stats.errors.Add(1)
			b.SendToLogger(0, 0, b.identifier, "error: "+command.Name)
			if command.Flags.Has(core.ErrorFlag) {
				b.state.Store(int32(core.Terminating))
				b.abnormal.Store(true)
				b.shutdownTimers()
				finish()
				return
			}

		case core.CmdStop:
			b.state.Store(int32(core.Terminating))
			if !haltOperations {
				b.processCommand(command)
				b.processDisconnect()
			}
			b.shutdownTimers()
			finish()
			return

		default:
			if !haltOperations {
				messagesSinceLastTick++
				if command.IsPriority() {
					b.stats.priorityCommands.Add(1)
					b.processPriorityCommand(command)
				} else {
					b.stats.commandsProcessed.Add(1)
					b.processCommand(command)
				}
			}
		}
	}
}

func (b *Base) processCommand(m core.ActionMessage) {
	if b.handlers.ProcessCommand != nil {
		b.handlers.ProcessCommand(m)
		return
	}
	b.defaultProcessCommand(m)
}

func (b *Base) processPriorityCommand(m core.ActionMessage) {
	if b.handlers.ProcessPriorityCommand != nil {
		b.handlers.ProcessPriorityCommand(m)
	}
}

func (b *Base) processDisconnect() {
	if b.handlers.ProcessDisconnect != nil {
		b.handlers.ProcessDisconnect()
	}
}

// defaultProcessCommand routes time commands through the coordinator.
// A time violation is an internal invariant failure and terminates
// the node.
func (b *Base) defaultProcessCommand(m core.ActionMessage) {
	switch m.Action {
	case core.CmdTimeRequest, core.CmdTimeMessage,
		core.CmdAddDependency, core.CmdRemoveDependency,
		core.CmdAddDependent, core.CmdRemoveDependent:
		if err := b.timeCoord.ProcessCommand(m); err != nil {
			b.logger.Error("time coordination failure", "error", err)
			b.abnormal.Store(true)
			b.Terminate()
		}
	}
}

// recoverService resets the transport I/O loop after an error-flagged
// tick. Resets are rate limited; repeated failures trip the breaker
// and terminate the node.
func (b *Base) recoverService() {
	if b.service == nil {
		return
	}
	if !b.resetLimiter.Allow() {
		b.logger.Warn("service reset throttled")
		return
	}

	b.stats.serviceResets.Add(1)
	_, err := b.breaker.Execute(func() (any, error) {
		return nil, b.service.Reset()
	})
	if err == nil {
		return
	}

	b.logger.Error("service reset failed", "error", err)
	if err == gobreaker.ErrOpenState {
		b.abnormal.Store(true)
		b.Terminate()
	}
}
