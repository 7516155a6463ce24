// Package syncengine owns the periodic tick loop: for each configured
// Instance it validates the token, fetches the configured scope of open
// merge requests, reconciles the cache, purges closed/merged MRs, and
// drains the sync processor's queue. It is the only component that decides
// *when* internal/syncproc runs.
package syncengine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ultragitlab/ultragitlab/internal/apperror"
	"github.com/ultragitlab/ultragitlab/internal/applog"
	"github.com/ultragitlab/ultragitlab/internal/cachedb"
	"github.com/ultragitlab/ultragitlab/internal/cacheread"
	"github.com/ultragitlab/ultragitlab/internal/cachewrite"
	"github.com/ultragitlab/ultragitlab/internal/credential"
	"github.com/ultragitlab/ultragitlab/internal/eventbus"
	"github.com/ultragitlab/ultragitlab/internal/model"
	"github.com/ultragitlab/ultragitlab/internal/queue"
	"github.com/ultragitlab/ultragitlab/internal/remoteapi"
	"github.com/ultragitlab/ultragitlab/internal/syncproc"
)

// Config controls the tick loop.
type Config struct {
	IntervalSecs  int  // default 300
	SyncAuthored  bool // default true
	SyncReviewing bool // default true
	MaxMRsPerSync int  // default 100
}

func (c Config) withDefaults() Config {
	if c.IntervalSecs <= 0 {
		c.IntervalSecs = 300
	}
	if c.MaxMRsPerSync <= 0 {
		c.MaxMRsPerSync = 100
	}
	return c
}

// Engine runs the tick loop against every configured Instance.
type Engine struct {
	db      *cachedb.DB
	reader  *cacheread.Reader
	writer  *cachewrite.Writer
	queue   *queue.Queue
	bus     *eventbus.Bus
	creds   credential.Store
	cfg     Config
	status  statusRecord
	trigger chan struct{}
}

// New wires an Engine against the shared cache db, event bus, and
// credential store. cfg is completed with its defaults.
func New(db *cachedb.DB, bus *eventbus.Bus, creds credential.Store, cfg Config) *Engine {
	return &Engine{
		db:      db,
		reader:  cacheread.New(db),
		writer:  cachewrite.New(db),
		queue:   queue.New(db),
		bus:     bus,
		creds:   creds,
		cfg:     cfg.withDefaults(),
		trigger: make(chan struct{}, 1),
	}
}

// Status returns a snapshot of the engine's current sync state.
func (e *Engine) Status() Status { return e.status.get() }

// TriggerSync requests an out-of-band tick, fire-and-forget. A trigger
// arriving while one is already queued (or a tick is running) is coalesced
// into the same follow-up run.
func (e *Engine) TriggerSync() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is canceled, running one tick immediately and then
// one per configured interval, plus one per TriggerSync call. Only one tick
// ever executes at a time because both the ticker and the trigger channel
// are served by this single goroutine.
func (e *Engine) Run(ctx context.Context) error {
	interval := time.Duration(e.cfg.IntervalSecs) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.runTick(ctx)
		case <-e.trigger:
			e.runTick(ctx)
		}
	}
}

// RunOnce performs a single tick without starting the periodic loop, for
// one-shot callers like the `sync` CLI command.
func (e *Engine) RunOnce(ctx context.Context) { e.runTick(ctx) }

// runTick performs one full cycle over every configured instance.
func (e *Engine) runTick(ctx context.Context) {
	e.status.set(withIsSyncing(e.status.get(), true))
	e.bus.PublishSyncProgress(eventbus.SyncProgress{Phase: eventbus.PhaseStarting, Message: "sync starting"})

	instances, err := e.reader.ListInstances(ctx)
	if err != nil {
		applog.Error("syncengine: list instances: %v", err)
		e.finishTick(ctx, 0, err)
		return
	}

	var errMsgs []string
	totalMRs := 0
	for _, inst := range instances {
		n, err := e.syncInstance(ctx, inst)
		totalMRs += n
		if err != nil {
			applog.Warn("syncengine: instance %d (%s): %v", inst.ID, inst.URL, err)
			errMsgs = append(errMsgs, fmt.Sprintf("%s: %v", inst.URL, err))
		}
	}

	var tickErr error
	if len(errMsgs) > 0 {
		tickErr = fmt.Errorf("%s", strings.Join(errMsgs, "; "))
	}
	e.finishTick(ctx, totalMRs, tickErr)
}

func (e *Engine) finishTick(ctx context.Context, mrCount int, tickErr error) {
	// Purged MRs may have released their last reference to cached file
	// blobs; collect the orphans before measuring cache size.
	if n, err := e.writer.CollectOrphanBlobs(ctx); err != nil {
		applog.Warn("syncengine: collect orphan blobs: %v", err)
	} else if n > 0 {
		applog.Info("syncengine: collected %d orphan file blobs", n)
	}

	cacheSize, err := e.cacheSizeBytes(ctx)
	if err != nil {
		applog.Warn("syncengine: compute cache size: %v", err)
	}

	now := time.Now().Unix()
	status := Status{
		IsSyncing:        false,
		LastSyncTime:     &now,
		LastSyncMRCount:  mrCount,
		CacheSizeBytes:   cacheSize,
		CacheSizeWarning: cacheSize >= WarningCacheSizeBytes,
	}
	logStatus := model.LogSuccess
	phase := eventbus.PhaseComplete
	if tickErr != nil {
		msg := tickErr.Error()
		status.LastError = &msg
		logStatus = model.LogError
		phase = eventbus.PhaseFailed
	}
	e.status.set(status)

	logErr := e.writer.AppendSyncLog(ctx, cachewrite.AppendLogInput{
		Operation: "sync_complete",
		Status:    logStatus,
		Message:   status.LastError,
	})
	if logErr != nil {
		applog.Warn("syncengine: append sync log: %v", logErr)
	}

	e.bus.PublishSyncProgress(eventbus.SyncProgress{
		Phase:   phase,
		Message: "sync complete",
		IsError: tickErr != nil,
	})
}

func withIsSyncing(s Status, syncing bool) Status {
	s.IsSyncing = syncing
	return s
}

// cacheSizeBytes computes the on-disk size of the cache db from SQLite's
// own page accounting.
func (e *Engine) cacheSizeBytes(ctx context.Context) (int64, error) {
	var pageCount, pageSize int64
	if err := e.db.SQL().QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, apperror.NewDatabaseOp(err.Error(), "pragma page_count")
	}
	if err := e.db.SQL().QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, apperror.NewDatabaseOp(err.Error(), "pragma page_size")
	}
	return pageCount * pageSize, nil
}

// newClient builds a token-bound remote API client for inst.
func (e *Engine) newClient(inst *model.Instance, token string) *remoteapi.Client {
	return remoteapi.New(remoteapi.Config{BaseURL: inst.URL, Token: token})
}

// syncInstance runs one tick for a single instance, returning the count of
// MRs fetched (not necessarily changed) and an aggregated per-instance
// error, if any. A 401 from ValidateToken surfaces auth-expired and returns
// early *before* touching the queue: existing pending/syncing rows are left
// untouched rather than failed, since a re-auth lets them drain.
func (e *Engine) syncInstance(ctx context.Context, inst *model.Instance) (int, error) {
	account := credential.Normalize(inst.URL)
	token, err := e.creds.Get(ctx, credential.ServiceName, account)
	if err != nil {
		if apperror.Is(err, apperror.NotFound) {
			applog.Info("syncengine: instance %d has no stored token, skipping", inst.ID)
			return 0, nil
		}
		return 0, err
	}

	client := e.newClient(inst, token)

	user, err := client.ValidateToken(ctx)
	if err != nil {
		if apperror.Is(err, apperror.AuthenticationExpired) {
			e.bus.PublishAuthExpired(eventbus.AuthExpired{
				InstanceID:  inst.ID,
				InstanceURL: inst.URL,
				Message:     err.Error(),
			})
			return 0, err
		}
		return 0, err
	}
	if inst.AuthenticatedUsername != user.Username {
		if setErr := e.writer.SetAuthenticatedUsername(ctx, inst.ID, user.Username); setErr != nil {
			applog.Warn("syncengine: set authenticated username: %v", setErr)
		}
	}

	e.bus.PublishSyncProgress(eventbus.SyncProgress{Phase: eventbus.PhaseFetchingMRs, Message: "fetching merge requests"})
	fetched, err := e.fetchOpenMergeRequests(ctx, client, user.Username)
	if err != nil {
		return 0, err
	}

	var instErrs []string
	keepIDs := make([]int64, 0, len(fetched))
	projectNames := make(map[int64]string)
	for _, wireMR := range fetched {
		keepIDs = append(keepIDs, wireMR.ID)
		if err := e.reconcileMergeRequest(ctx, client, inst, wireMR, projectNames); err != nil {
			applog.Warn("syncengine: reconcile mr %d: %v", wireMR.ID, err)
			instErrs = append(instErrs, fmt.Sprintf("mr %d: %v", wireMR.ID, err))
		}
	}

	pendingIDs, err := e.queue.PendingMRIDs(ctx, inst.ID)
	if err != nil {
		applog.Warn("syncengine: pending mr ids: %v", err)
	}
	keepIDs = append(keepIDs, pendingIDs...)

	e.bus.PublishSyncProgress(eventbus.SyncProgress{Phase: eventbus.PhasePurging, Message: "purging closed merge requests"})
	purged, err := e.writer.PurgeMRsNotIn(ctx, inst.ID, keepIDs)
	if err != nil {
		applog.Warn("syncengine: purge: %v", err)
		instErrs = append(instErrs, fmt.Sprintf("purge: %v", err))
	}
	for _, mr := range purged {
		e.bus.PublishMRUpdated(eventbus.MRUpdated{
			MRID: mr.ID, UpdateType: eventbus.MRPurged, InstanceID: inst.ID, IID: mr.IID,
		})
	}

	e.bus.PublishSyncProgress(eventbus.SyncProgress{Phase: eventbus.PhasePushingActions, Message: "delivering queued actions"})
	proc := syncproc.New(client, e.queue, e.bus)
	if _, err := proc.ProcessPending(ctx); err != nil {
		instErrs = append(instErrs, fmt.Sprintf("processor: %v", err))
	}

	if len(instErrs) > 0 {
		return len(fetched), fmt.Errorf("%s", strings.Join(instErrs, "; "))
	}
	return len(fetched), nil
}

// fetchOpenMergeRequests fetches and deduplicates the configured scope(s)
// of open MRs, truncated to MaxMRsPerSync.
func (e *Engine) fetchOpenMergeRequests(ctx context.Context, client *remoteapi.Client, username string) ([]remoteapi.MergeRequest, error) {
	seen := make(map[int64]bool)
	var out []remoteapi.MergeRequest

	add := func(mrs []remoteapi.MergeRequest) {
		for _, mr := range mrs {
			if seen[mr.ID] {
				continue
			}
			seen[mr.ID] = true
			out = append(out, mr)
		}
	}

	if e.cfg.SyncAuthored {
		mrs, err := client.ListAllMergeRequests(ctx, remoteapi.MergeRequestsQuery{State: "opened", Scope: "created_by_me"})
		if err != nil {
			return nil, err
		}
		add(mrs)
	}
	if e.cfg.SyncReviewing {
		mrs, err := client.ListAllMergeRequests(ctx, remoteapi.MergeRequestsQuery{State: "opened", ReviewerUsername: username})
		if err != nil {
			return nil, err
		}
		add(mrs)
	}

	if len(out) > e.cfg.MaxMRsPerSync {
		out = out[:e.cfg.MaxMRsPerSync]
	}
	return out, nil
}
