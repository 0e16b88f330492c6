package turns

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNoActiveThread = errors.New("no active thread")
	ErrNotConfigured  = errors.New("turns service not configured")
)

const (
	defaultSendTimeout = 60 * time.Second
	// processingStartWatchdogTimeout covers the codex engine family, which occasionally
	// fails to emit a processing-start notification after accepting a send.
	processingStartWatchdogTimeout = 18 * time.Second
	memoryMergeWindow              = 10 * time.Minute
)

// Options configures a Service. Client and WorkspaceID are required; everything else
// degrades to a no-op when absent.
type Options struct {
	Log         *slog.Logger
	WorkspaceID string
	Client      EngineClient
	Callbacks   Callbacks

	// Memories, Summarizer and Classifier enable best-effort memory capture.
	Memories   MemoryStore
	Summarizer Summarizer
	Classifier Classifier

	// CanonicalEvents routes notifications through the adapter registry before the
	// legacy per-method table.
	CanonicalEvents bool
	// SteerEnabled allows sends to bypass the queue while a turn is processing.
	SteerEnabled bool

	// CommandHandler receives slash commands other than /new.
	CommandHandler func(command string, rest string)
}

// Service is the turn orchestration core: it routes raw engine notifications into
// canonical effects, tracks per-thread status, serializes outbound sends per thread
// and reconciles the two halves of memory writes.
//
// All shared state is guarded by mu; callbacks are always invoked with mu released.
type Service struct {
	log         *slog.Logger
	workspaceID string
	client      EngineClient
	cb          Callbacks
	adapters    *adapterRegistry

	canonicalEvents bool
	steerEnabled    bool
	commandHandler  func(string, string)

	memories   MemoryStore
	summarizer Summarizer
	classifier Classifier

	mu     sync.Mutex
	status *statusStore
	ids    *identityResolver

	deltaSeen     map[string]bool
	completedSeen map[string]bool
	interrupted   map[string]struct{}

	activeThreadID string

	queued    map[string][]QueuedMessage
	inflight  map[string]*QueuedMessage
	watchdogs map[string]*time.Timer

	captures    map[string]PendingMemoryCapture
	completions map[string]PendingAssistantCompletion

	now         func() time.Time
	sendTimeout time.Duration
	watchdogTO  time.Duration
	mergeWindow time.Duration
}

func New(opts Options) (*Service, error) {
	if opts.Client == nil {
		return nil, errors.New("missing engine client")
	}
	if strings.TrimSpace(opts.WorkspaceID) == "" {
		return nil, errors.New("missing workspace id")
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		log:             log,
		workspaceID:     strings.TrimSpace(opts.WorkspaceID),
		client:          opts.Client,
		cb:              opts.Callbacks,
		adapters:        newAdapterRegistry(),
		canonicalEvents: opts.CanonicalEvents,
		steerEnabled:    opts.SteerEnabled,
		commandHandler:  opts.CommandHandler,
		memories:        opts.Memories,
		summarizer:      opts.Summarizer,
		classifier:      opts.Classifier,
		ids:             newIdentityResolver(),
		deltaSeen:       make(map[string]bool),
		completedSeen:   make(map[string]bool),
		interrupted:     make(map[string]struct{}),
		queued:          make(map[string][]QueuedMessage),
		inflight:        make(map[string]*QueuedMessage),
		watchdogs:       make(map[string]*time.Timer),
		captures:        make(map[string]PendingMemoryCapture),
		completions:     make(map[string]PendingAssistantCompletion),
		now:             time.Now,
		sendTimeout:     defaultSendTimeout,
		watchdogTO:      processingStartWatchdogTimeout,
		mergeWindow:     memoryMergeWindow,
	}
	s.status = newStatusStore(func() time.Time { return s.now() })
	return s, nil
}

// effects collects callback invocations made while mu is held so they can fire after
// it is released. Callbacks must never run under the service mutex.
type effects struct {
	fns []func()
}

func (fx *effects) add(fn func()) {
	if fn != nil {
		fx.fns = append(fx.fns, fn)
	}
}

func (fx *effects) fire() {
	for _, fn := range fx.fns {
		fn()
	}
	fx.fns = nil
}

// SetActiveThread switches which thread may drain its outbound queue. The previous
// thread's in-flight send is untouched; only new dequeues pause.
func (s *Service) SetActiveThread(threadID string) {
	if s == nil {
		return
	}
	fx := &effects{}
	s.mu.Lock()
	s.activeThreadID = s.ids.ResolveCanonical(strings.TrimSpace(threadID))
	s.reconcileLocked(s.activeThreadID, fx)
	s.mu.Unlock()
	fx.fire()
}

// ActiveThread returns the currently focused thread id (canonical).
func (s *Service) ActiveThread() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeThreadID
}

// Status returns the per-thread status snapshot under the canonical id.
func (s *Service) Status(threadID string) ThreadStatus {
	if s == nil {
		return ThreadStatus{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.Snapshot(s.ids.ResolveCanonical(threadID))
}

// ThreadIdentities returns the canonical thread id followed by every id that
// renamed into it, sorted. Useful when records were written under a pending id
// before the backend confirmed the session.
func (s *Service) ThreadIdentities(threadID string) []string {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ids.CollectRelated(threadID)
}

// ResolveCanonicalThread follows alias edges to the stable thread identity.
func (s *Service) ResolveCanonicalThread(threadID string) string {
	if s == nil {
		return strings.TrimSpace(threadID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ids.ResolveCanonical(threadID)
}

func newMessageID() string {
	return "msg-" + uuid.NewString()
}

// NewPendingThreadID mints a client-side thread id for an engine, used until the
// backend confirms a canonical session id.
func NewPendingThreadID(engine Engine) string {
	if strings.TrimSpace(string(engine)) == "" {
		engine = EngineCodex
	}
	return string(engine) + pendingIDInfix + uuid.NewString()
}

// markProcessingLocked flips processing state, manages the start watchdog and runs
// queue reconciliation on the transition.
func (s *Service) markProcessingLocked(threadID string, processing bool, fx *effects) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return
	}
	before := s.status.Snapshot(threadID)
	s.status.MarkProcessing(threadID, processing)
	if processing {
		// The engine took over; the tracked send has served its purpose.
		s.cancelWatchdogLocked(threadID)
		delete(s.inflight, threadID)
	}
	if before.IsProcessing != processing {
		s.reconcileLocked(threadID, fx)
	}
}

func (s *Service) markReviewingLocked(threadID string, reviewing bool, fx *effects) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return
	}
	before := s.status.Snapshot(threadID)
	s.status.MarkReviewing(threadID, reviewing)
	if before.IsReviewing != reviewing {
		s.reconcileLocked(threadID, fx)
	}
}

// handleSessionRenamed records the alias edge and migrates every piece of per-thread
// state (status, seen flags, queue, watchdog, pending memory halves) to the canonical
// id, so late events under either identity land in one place.
func (s *Service) handleSessionRenamed(oldID string, newID string, fx *effects) {
	oldID = strings.TrimSpace(oldID)
	newID = strings.TrimSpace(newID)
	if oldID == "" || newID == "" || oldID == newID {
		return
	}
	s.ids.RememberAlias(oldID, newID)
	canonical := s.ids.ResolveCanonical(newID)

	s.status.Rename(oldID, canonical)
	if s.deltaSeen[oldID] {
		s.deltaSeen[canonical] = true
	}
	delete(s.deltaSeen, oldID)
	if s.completedSeen[oldID] {
		s.completedSeen[canonical] = true
	}
	delete(s.completedSeen, oldID)
	if _, ok := s.interrupted[oldID]; ok {
		s.interrupted[canonical] = struct{}{}
		delete(s.interrupted, oldID)
	}

	if msgs := s.queued[oldID]; len(msgs) > 0 {
		s.queued[canonical] = append(s.queued[canonical], msgs...)
	}
	delete(s.queued, oldID)
	if m := s.inflight[oldID]; m != nil && s.inflight[canonical] == nil {
		s.inflight[canonical] = m
	}
	delete(s.inflight, oldID)
	if t := s.watchdogs[oldID]; t != nil {
		if s.watchdogs[canonical] == nil {
			s.watchdogs[canonical] = t
		} else {
			t.Stop()
		}
		delete(s.watchdogs, oldID)
	}

	s.migratePendingMemoryLocked(oldID, canonical)

	if s.activeThreadID == oldID {
		s.activeThreadID = canonical
	}

	cb := s.cb.OnThreadSessionUpdated
	if cb != nil {
		fx.add(func() { cb(oldID, canonical) })
	}
}

// safeObserve invokes the observe-everything hook; a panicking diagnostics consumer
// must not take down the event loop.
func (s *Service) safeObserve(n Notification) {
	hook := s.cb.Observe
	if hook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Debug("observe hook panicked", "method", n.Method, "panic", r)
		}
	}()
	hook(n)
}
