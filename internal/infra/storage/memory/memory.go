package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/sentinel/internal/core/domain"
	"github.com/vietddude/sentinel/internal/infra/storage"
)

// MemoryStorage backs the full repository set for tests and
// credential-less dev runs. Now is a hook so lock-TTL behavior is
// testable without sleeping.
type MemoryStorage struct {
	ghosts      map[string]*domain.GhostTarget // keyed by id
	byInvoice   map[string]string              // invoice id -> ghost id
	jobs        map[string]*domain.ScanJob
	locks       map[string]*domain.JobLock
	syslog      []*domain.SystemLogEntry
	credentials map[string]*domain.MerchantCredential
	mu          sync.RWMutex

	Now func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		ghosts:      make(map[string]*domain.GhostTarget),
		byInvoice:   make(map[string]string),
		jobs:        make(map[string]*domain.ScanJob),
		locks:       make(map[string]*domain.JobLock),
		credentials: make(map[string]*domain.MerchantCredential),
		Now:         time.Now,
	}
}

// -----------------------------------------------------------------------------
// Ghost Repository
// -----------------------------------------------------------------------------

type GhostRepo struct {
	store *MemoryStorage
}

func NewGhostRepo(store *MemoryStorage) *GhostRepo {
	return &GhostRepo{store: store}
}

func copyGhost(g *domain.GhostTarget) *domain.GhostTarget {
	out := *g
	return &out
}

func (r *GhostRepo) Upsert(ctx context.Context, g *domain.GhostTarget) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if existingID, ok := r.store.byInvoice[g.InvoiceID]; ok {
		existing := r.store.ghosts[existingID]
		// Refresh classification and ciphertext only; bookkeeping and
		// the amount stay as written at creation.
		existing.SubscriptionID = g.SubscriptionID
		existing.DeclineCode = g.DeclineCode
		existing.DeclineType = g.DeclineType
		existing.Strategy = g.Strategy
		existing.Risk = g.Risk
		existing.EmailCipher, existing.EmailIV, existing.EmailTag = g.EmailCipher, g.EmailIV, g.EmailTag
		existing.NameCipher, existing.NameIV, existing.NameTag = g.NameCipher, g.NameIV, g.NameTag
		if existing.Status == domain.GhostStatusImpending {
			existing.Status = g.Status
		}
		return nil
	}

	stored := copyGhost(g)
	r.store.ghosts[stored.ID] = stored
	r.store.byInvoice[stored.InvoiceID] = stored.ID
	return nil
}

func (r *GhostRepo) GetByID(ctx context.Context, id string) (*domain.GhostTarget, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if g, ok := r.store.ghosts[id]; ok {
		return copyGhost(g), nil
	}
	return nil, nil
}

func (r *GhostRepo) GetByInvoiceID(ctx context.Context, invoiceID string) (*domain.GhostTarget, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if id, ok := r.store.byInvoice[invoiceID]; ok {
		return copyGhost(r.store.ghosts[id]), nil
	}
	return nil, nil
}

func (r *GhostRepo) GetByMerchant(ctx context.Context, merchantID string) ([]*domain.GhostTarget, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.GhostTarget
	for _, g := range r.store.ghosts {
		if g.MerchantID == merchantID {
			out = append(out, copyGhost(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FoundAt.After(out[j].FoundAt) })
	return out, nil
}

func (r *GhostRepo) ListDispatchCandidates(
	ctx context.Context,
	foundBefore time.Time,
	maxEmails int,
) ([]*domain.GhostTarget, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.GhostTarget
	for _, g := range r.store.ghosts {
		if g.Status == domain.GhostStatusPending &&
			!g.FoundAt.After(foundBefore) &&
			g.EmailCount < maxEmails {
			out = append(out, copyGhost(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FoundAt.Before(out[j].FoundAt) })
	return out, nil
}

func (r *GhostRepo) RecordEmail(ctx context.Context, id string, at time.Time) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	g, ok := r.store.ghosts[id]
	if !ok {
		return 0, fmt.Errorf("ghost %s not found", id)
	}
	g.EmailCount++
	t := at
	g.LastEmailAt = &t
	return g.EmailCount, nil
}

func (r *GhostRepo) SetStatus(ctx context.Context, id string, status domain.GhostStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if g, ok := r.store.ghosts[id]; ok {
		g.Status = status
	}
	return nil
}

func (r *GhostRepo) PromoteImpending(ctx context.Context, merchantID, subscriptionID string) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	promoted := 0
	for _, g := range r.store.ghosts {
		if g.MerchantID == merchantID &&
			g.SubscriptionID == subscriptionID &&
			g.Status == domain.GhostStatusImpending {
			g.Status = domain.GhostStatusPending
			promoted++
		}
	}
	return promoted, nil
}

func (r *GhostRepo) RecordClick(ctx context.Context, id string, expiry, at time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	g, ok := r.store.ghosts[id]
	if !ok {
		return false, nil
	}
	e, a := expiry, at
	g.AttribExpiry = &e
	g.ClickCount++
	g.LastClickAt = &a
	return true, nil
}

func (r *GhostRepo) MarkRecovered(
	ctx context.Context,
	id string,
	rtype domain.RecoveryType,
	at time.Time,
) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	g, ok := r.store.ghosts[id]
	if !ok || g.Status == domain.GhostStatusRecovered {
		return false, nil
	}
	g.Status = domain.GhostStatusRecovered
	g.RecoveryType = rtype
	t := at
	g.RecoveredAt = &t
	return true, nil
}

func (r *GhostRepo) RecoveryStats(
	ctx context.Context,
	merchantID string,
	bucket storage.StatsBucket,
) ([]storage.RecoveryStat, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	truncate := func(t time.Time) time.Time {
		if bucket == storage.BucketMonthly {
			return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
		}
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	}

	byBucket := make(map[time.Time]*storage.RecoveryStat)
	for _, g := range r.store.ghosts {
		if g.MerchantID != merchantID {
			continue
		}
		key := truncate(g.FoundAt)
		stat, ok := byBucket[key]
		if !ok {
			stat = &storage.RecoveryStat{Bucket: key}
			byBucket[key] = stat
		}
		stat.LeakedMinor += g.AmountMinor
		stat.Ghosts++
		if g.Status == domain.GhostStatusRecovered {
			stat.RecoveredMinor += g.AmountMinor
			stat.Recovered++
		}
	}

	out := make([]storage.RecoveryStat, 0, len(byBucket))
	for _, s := range byBucket {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bucket.Before(out[j].Bucket) })
	return out, nil
}

// -----------------------------------------------------------------------------
// Scan Job Repository
// -----------------------------------------------------------------------------

type ScanJobRepo struct {
	store *MemoryStorage
}

func NewScanJobRepo(store *MemoryStorage) *ScanJobRepo {
	return &ScanJobRepo{store: store}
}

func copyJob(j *domain.ScanJob) *domain.ScanJob {
	out := *j
	return &out
}

func (r *ScanJobRepo) Create(ctx context.Context, job *domain.ScanJob) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.jobs[job.ID]; ok {
		return fmt.Errorf("scan job %s already exists", job.ID)
	}
	r.store.jobs[job.ID] = copyJob(job)
	return nil
}

func (r *ScanJobRepo) Get(ctx context.Context, id string) (*domain.ScanJob, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if j, ok := r.store.jobs[id]; ok {
		return copyJob(j), nil
	}
	return nil, nil
}

func (r *ScanJobRepo) GetActiveByMerchant(ctx context.Context, merchantID string) (*domain.ScanJob, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var latest *domain.ScanJob
	for _, j := range r.store.jobs {
		if j.MerchantID == merchantID && j.Status.InFlight() {
			if latest == nil || j.CreatedAt.After(latest.CreatedAt) {
				latest = j
			}
		}
	}
	if latest == nil {
		return nil, nil
	}
	return copyJob(latest), nil
}

func (r *ScanJobRepo) Claim(ctx context.Context, id string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	j, ok := r.store.jobs[id]
	if !ok || j.Status != domain.ScanJobPending {
		return false, nil
	}
	j.Status = domain.ScanJobProcessing
	return true, nil
}

func (r *ScanJobRepo) UpdateProgress(ctx context.Context, id string, progress int) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	j, ok := r.store.jobs[id]
	if !ok || j.Status != domain.ScanJobProcessing {
		return nil
	}
	if progress > 99 {
		progress = 99
	}
	if progress > j.Progress {
		j.Progress = progress
	}
	return nil
}

func (r *ScanJobRepo) Complete(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	j, ok := r.store.jobs[id]
	if !ok || j.Status != domain.ScanJobProcessing {
		return nil
	}
	j.Status = domain.ScanJobCompleted
	j.Progress = 100
	t := r.store.Now()
	j.CompletedAt = &t
	return nil
}

func (r *ScanJobRepo) Fail(ctx context.Context, id string, errMsg string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	j, ok := r.store.jobs[id]
	if !ok || j.Status.Terminal() {
		return nil
	}
	j.Status = domain.ScanJobFailed
	j.Error = errMsg
	t := r.store.Now()
	j.CompletedAt = &t
	return nil
}

// -----------------------------------------------------------------------------
// Lock Repository
// -----------------------------------------------------------------------------

type LockRepo struct {
	store *MemoryStorage
}

func NewLockRepo(store *MemoryStorage) *LockRepo {
	return &LockRepo{store: store}
}

func (r *LockRepo) TryAcquire(
	ctx context.Context,
	jobName, holderID string,
	ttl time.Duration,
) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	now := r.store.Now()
	existing, ok := r.store.locks[jobName]
	if ok && !existing.Expired(ttl, now) {
		return false, nil
	}
	r.store.locks[jobName] = &domain.JobLock{
		JobName:    jobName,
		HolderID:   holderID,
		AcquiredAt: now,
	}
	return true, nil
}

func (r *LockRepo) Release(ctx context.Context, jobName, holderID string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	existing, ok := r.store.locks[jobName]
	if !ok || existing.HolderID != holderID {
		return false, nil
	}
	delete(r.store.locks, jobName)
	return true, nil
}

func (r *LockRepo) Get(ctx context.Context, jobName string) (*domain.JobLock, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if l, ok := r.store.locks[jobName]; ok {
		out := *l
		return &out, nil
	}
	return nil, nil
}

// -----------------------------------------------------------------------------
// System Log Repository
// -----------------------------------------------------------------------------

type SystemLogRepo struct {
	store *MemoryStorage
}

func NewSystemLogRepo(store *MemoryStorage) *SystemLogRepo {
	return &SystemLogRepo{store: store}
}

func (r *SystemLogRepo) Append(ctx context.Context, entry *domain.SystemLogEntry) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := *entry
	r.store.syslog = append(r.store.syslog, &out)
	return nil
}

// Entries returns a snapshot of the log, oldest first. Test helper.
func (r *SystemLogRepo) Entries() []*domain.SystemLogEntry {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.SystemLogEntry, len(r.store.syslog))
	copy(out, r.store.syslog)
	return out
}

// -----------------------------------------------------------------------------
// Credential Repository
// -----------------------------------------------------------------------------

type CredentialRepo struct {
	store *MemoryStorage
}

func NewCredentialRepo(store *MemoryStorage) *CredentialRepo {
	return &CredentialRepo{store: store}
}

func (r *CredentialRepo) Get(ctx context.Context, merchantID string) (*domain.MerchantCredential, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if c, ok := r.store.credentials[merchantID]; ok {
		out := *c
		return &out, nil
	}
	return nil, nil
}

func (r *CredentialRepo) Save(ctx context.Context, cred *domain.MerchantCredential) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := *cred
	r.store.credentials[cred.MerchantID] = &out
	return nil
}

func (r *CredentialRepo) ListMerchants(ctx context.Context) ([]string, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	ids := make([]string, 0, len(r.store.credentials))
	for id := range r.store.credentials {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
