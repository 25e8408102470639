package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"iconforge/internal/cache"
	"iconforge/internal/credits"
	"iconforge/internal/domain"
	"iconforge/internal/keypool"
	"iconforge/internal/provider/freepik"
)

// ---- in-memory stubs ----

type memGenRepo struct {
	mu   sync.Mutex
	gens map[string]domain.Generation

	createErr error
	updateErr error
}

func newMemGenRepo() *memGenRepo {
	return &memGenRepo{gens: make(map[string]domain.Generation)}
}

func (r *memGenRepo) Create(ctx context.Context, gen *domain.Generation) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gens[gen.ID] = *gen
	return nil
}

func (r *memGenRepo) FindByID(ctx context.Context, id string) (*domain.Generation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gens[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := g
	return &cp, nil
}

func (r *memGenRepo) FindByTaskID(ctx context.Context, taskID string) (*domain.Generation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.gens {
		if g.ProviderTaskID == taskID && taskID != "" {
			cp := g
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memGenRepo) FindByOwnerAndID(ctx context.Context, ownerID, id string) (*domain.Generation, error) {
	g, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if g.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	return g, nil
}

func (r *memGenRepo) BatchFindByOwner(ctx context.Context, ownerID string, ids []string) ([]domain.Generation, error) {
	var out []domain.Generation
	for _, id := range ids {
		if g, err := r.FindByOwnerAndID(ctx, ownerID, id); err == nil {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (r *memGenRepo) Update(ctx context.Context, id string, update domain.GenerationUpdate) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gens[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.gens[id] = update.Apply(g)
	return nil
}

func (r *memGenRepo) DeleteByID(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.gens[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.gens, id)
	return nil
}

func (r *memGenRepo) ListByOwner(ctx context.Context, ownerID string, page, limit int, status *domain.GenerationStatus) ([]domain.Generation, int, error) {
	var out []domain.Generation
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.gens {
		if g.OwnerID != ownerID {
			continue
		}
		if status != nil && g.Status != *status {
			continue
		}
		out = append(out, g)
	}
	return out, len(out), nil
}

func (r *memGenRepo) StatsByOwner(ctx context.Context, ownerID string) (*domain.GenerationStats, error) {
	stats := &domain.GenerationStats{}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.gens {
		if g.OwnerID != ownerID {
			continue
		}
		stats.Total++
		switch g.Status {
		case domain.GenerationStatusCompleted:
			stats.Completed++
		case domain.GenerationStatusFailed:
			stats.Failed++
		case domain.GenerationStatusGenerating:
			stats.Generating++
		case domain.GenerationStatusPending:
			stats.Pending++
		}
	}
	return stats, nil
}

type memCreditRepo struct {
	mu      sync.Mutex
	entries []domain.CreditEntry
}

func (r *memCreditRepo) Insert(ctx context.Context, entry *domain.CreditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := *entry
	e.ID = int64(len(r.entries) + 1)
	r.entries = append(r.entries, e)
	return nil
}

func (r *memCreditRepo) ListValid(ctx context.Context, ownerID string) ([]domain.CreditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.CreditEntry
	for _, e := range r.entries {
		if e.OwnerID == ownerID && !e.Expired(time.Now()) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memCreditRepo) FindByOrderNo(ctx context.Context, orderNo string) (*domain.CreditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.OrderNo == orderNo && e.Credits > 0 {
			cp := e
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memCreditRepo) balance(ownerID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, e := range r.entries {
		if e.OwnerID == ownerID {
			total += e.Credits
		}
	}
	return total
}

type memKeyRepo struct {
	mu   sync.Mutex
	keys []domain.APIKey
}

func (r *memKeyRepo) ListActive(ctx context.Context, provider string) ([]domain.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.APIKey
	for _, k := range r.keys {
		if k.Provider == provider && k.Status == domain.APIKeyStatusActive {
			out = append(out, k)
		}
	}
	return out, nil
}

func (r *memKeyRepo) SetStatus(ctx context.Context, id int64, status domain.APIKeyStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.keys {
		if r.keys[i].ID == id {
			r.keys[i].Status = status
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *memKeyRepo) Insert(ctx context.Context, key *domain.APIKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key.ID = int64(len(r.keys) + 1)
	r.keys = append(r.keys, *key)
	return nil
}

// memCache is a map-backed GenerationCache so tests can assert on
// cache-aside behavior without a running backend.
type memCache struct {
	mu      sync.Mutex
	entries map[string]domain.Generation
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]domain.Generation)}
}

func (c *memCache) Get(ctx context.Context, id string) *domain.Generation {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.entries[id]
	if !ok {
		return nil
	}
	cp := g
	return &cp
}

func (c *memCache) BatchGet(ctx context.Context, ids []string) map[string]domain.Generation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]domain.Generation)
	for _, id := range ids {
		if g, ok := c.entries[id]; ok {
			out[id] = g
		}
	}
	return out
}

func (c *memCache) Set(ctx context.Context, gen domain.Generation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[gen.ID] = gen
	return true
}

func (c *memCache) BatchSet(ctx context.Context, gens []domain.Generation) bool {
	for _, g := range gens {
		c.Set(ctx, g)
	}
	return true
}

func (c *memCache) Update(ctx context.Context, id string, update domain.GenerationUpdate, base *domain.Generation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[id]; ok {
		c.entries[id] = update.Apply(existing)
		return true
	}
	if base == nil || base.ID == "" || base.OwnerID == "" {
		return false
	}
	c.entries[id] = update.Apply(*base)
	return true
}

func (c *memCache) Delete(ctx context.Context, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	return true
}

func (c *memCache) BatchDelete(ctx context.Context, ids []string) bool {
	for _, id := range ids {
		c.Delete(ctx, id)
	}
	return true
}

var _ cache.GenerationCache = (*memCache)(nil)

type stubDispatcher struct {
	mu      sync.Mutex
	calls   int
	lastKey string
	lastReq freepik.DispatchRequest
	taskID  string
	err     error
}

func (d *stubDispatcher) Dispatch(ctx context.Context, apiKey string, req freepik.DispatchRequest) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.lastKey = apiKey
	d.lastReq = req
	if d.err != nil {
		return "", d.err
	}
	if d.taskID == "" {
		return fmt.Sprintf("task-%d", d.calls), nil
	}
	return d.taskID, nil
}

type memStore struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	uploads int

	downloadErr error
	uploadErr   error
}

func newMemStore() *memStore {
	return &memStore{blobs: make(map[string][]byte)}
}

func (s *memStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if s.uploadErr != nil {
		return "", s.uploadErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads++
	s.blobs[key] = append([]byte(nil), data...)
	return "https://cdn.test/" + key, nil
}

func (s *memStore) DownloadAndUpload(ctx context.Context, srcURL, key, contentType string) (string, int64, error) {
	if s.downloadErr != nil {
		return "", 0, s.downloadErr
	}
	data := []byte("artifact:" + srcURL)
	url, err := s.Upload(ctx, key, data, contentType)
	if err != nil {
		return "", 0, err
	}
	return url, int64(len(data)), nil
}

func (s *memStore) Open(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

type stubRenderer struct {
	err   error
	calls int
}

func (r *stubRenderer) RenderPNG(ctx context.Context, svg []byte, width, height int) ([]byte, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return []byte("png-of:" + string(svg)), nil
}

// fixture bundles a fully wired service over in-memory collaborators.
type fixture struct {
	svc      *Service
	gens     *memGenRepo
	creditDB *memCreditRepo
	keyDB    *memKeyRepo
	cache    *memCache
	dispatch *stubDispatcher
	store    *memStore
	renderer *stubRenderer
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		gens:     newMemGenRepo(),
		creditDB: &memCreditRepo{},
		keyDB:    &memKeyRepo{},
		cache:    newMemCache(),
		dispatch: &stubDispatcher{},
		store:    newMemStore(),
		renderer: &stubRenderer{},
		now:      time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.keyDB.keys = []domain.APIKey{
		{ID: 1, Provider: freepik.ProviderName, Key: "key-1", Status: domain.APIKeyStatusActive},
		{ID: 2, Provider: freepik.ProviderName, Key: "key-2", Status: domain.APIKeyStatusActive},
	}
	f.svc = NewService(Config{
		Generations: f.gens,
		Ledger:      credits.NewLedger(f.creditDB, zerolog.Nop()),
		Keys:        keypool.NewPool(f.keyDB, zerolog.Nop()),
		Cache:       f.cache,
		Provider:    f.dispatch,
		Store:       f.store,
		Renderer:    f.renderer,
		Logger:      zerolog.Nop(),
		WebhookBase: "https://api.test",
		Now:         func() time.Time { return f.now },
	})
	return f
}

func (f *fixture) fund(ownerID string, amount int) {
	_ = f.creditDB.Insert(context.Background(), &domain.CreditEntry{
		TransNo:   "seed-" + ownerID,
		OwnerID:   ownerID,
		TransType: domain.CreditTransNewUser,
		Credits:   amount,
		CreatedAt: time.Now(),
	})
}

func validRequest() SubmitRequest {
	return SubmitRequest{
		Prompt:            "a rocket ship",
		Style:             domain.IconStyleSolid,
		Format:            domain.IconFormatSVG,
		NumInferenceSteps: 20,
		GuidanceScale:     7,
	}
}

// ---- dispatch tests ----

func TestSubmitHappyPath(t *testing.T) {
	f := newFixture(t)
	f.fund("u1", 10)

	res, err := f.svc.Submit(context.Background(), "u1", validRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Status != domain.GenerationStatusGenerating {
		t.Fatalf("status = %s, want generating", res.Status)
	}
	if res.TaskID == "" || res.ID == "" {
		t.Fatalf("result missing identifiers: %+v", res)
	}
	if res.EstimatedWaitSeconds != EstimatedWaitSeconds {
		t.Fatalf("estimate = %d", res.EstimatedWaitSeconds)
	}

	stored, err := f.gens.FindByID(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.Status != domain.GenerationStatusGenerating || stored.ProviderTaskID != res.TaskID {
		t.Fatalf("stored record = %+v", stored)
	}
	if stored.StartedAt == nil {
		t.Fatal("StartedAt not set after dispatch")
	}
	if !strings.Contains(stored.WebhookURL, "/api/icon/webhook?uuid="+res.ID) {
		t.Fatalf("webhook url = %q", stored.WebhookURL)
	}
	if got := f.creditDB.balance("u1"); got != 10-CreditsPerGeneration {
		t.Fatalf("balance after submit = %d", got)
	}
	if cached := f.cache.Get(context.Background(), res.ID); cached == nil || cached.Status != domain.GenerationStatusGenerating {
		t.Fatalf("cache entry = %+v", cached)
	}
	if f.dispatch.lastKey != "key-1" {
		t.Fatalf("dispatched with key %q", f.dispatch.lastKey)
	}
}

func TestSubmitValidationHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	f.fund("u1", 10)

	bad := []SubmitRequest{
		{Prompt: "  ", Style: domain.IconStyleSolid, Format: domain.IconFormatSVG, NumInferenceSteps: 20, GuidanceScale: 7},
		{Prompt: "x", Style: "neon", Format: domain.IconFormatSVG, NumInferenceSteps: 20, GuidanceScale: 7},
		{Prompt: "x", Style: domain.IconStyleSolid, Format: "gif", NumInferenceSteps: 20, GuidanceScale: 7},
		{Prompt: "x", Style: domain.IconStyleSolid, Format: domain.IconFormatSVG, NumInferenceSteps: 5, GuidanceScale: 7},
		{Prompt: "x", Style: domain.IconStyleSolid, Format: domain.IconFormatSVG, NumInferenceSteps: 51, GuidanceScale: 7},
		{Prompt: "x", Style: domain.IconStyleSolid, Format: domain.IconFormatSVG, NumInferenceSteps: 20, GuidanceScale: 11},
	}
	for i, req := range bad {
		_, err := f.svc.Submit(context.Background(), "u1", req)
		if !errors.Is(err, domain.ErrInvalidRequest) {
			t.Fatalf("case %d: err = %v, want ErrInvalidRequest", i, err)
		}
	}
	if f.dispatch.calls != 0 {
		t.Fatal("invalid request reached the provider")
	}
	if len(f.gens.gens) != 0 {
		t.Fatal("invalid request persisted a record")
	}
	if got := f.creditDB.balance("u1"); got != 10 {
		t.Fatalf("balance touched by invalid request: %d", got)
	}
}

func TestSubmitInsufficientCredits(t *testing.T) {
	f := newFixture(t)
	f.fund("u1", MinCreditsRequired-1)

	_, err := f.svc.Submit(context.Background(), "u1", validRequest())
	var ice *domain.InsufficientCreditsError
	if !errors.As(err, &ice) {
		t.Fatalf("err = %v, want InsufficientCreditsError", err)
	}
	if ice.Current != MinCreditsRequired-1 || ice.Required != MinCreditsRequired {
		t.Fatalf("error payload = %+v", ice)
	}
	if f.dispatch.calls != 0 {
		t.Fatal("underfunded request reached the provider")
	}
}

func TestSubmitDispatchFailureCleansUp(t *testing.T) {
	f := newFixture(t)
	f.fund("u1", 10)
	f.dispatch.err = errors.New("upstream exploded")

	_, err := f.svc.Submit(context.Background(), "u1", validRequest())
	if !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("err = %v, want ErrProviderFailure", err)
	}
	if len(f.gens.gens) != 0 {
		t.Fatal("failed dispatch left a record behind")
	}
	if len(f.cache.entries) != 0 {
		t.Fatal("failed dispatch left a cache entry behind")
	}
	if got := f.creditDB.balance("u1"); got != 10 {
		t.Fatalf("failed dispatch touched the ledger: balance %d", got)
	}
	// A generic failure must not retire the credential.
	if f.keyDB.keys[0].Status != domain.APIKeyStatusActive {
		t.Fatal("credential disabled on non-auth failure")
	}
}

func TestSubmitAuthFailureDisablesKey(t *testing.T) {
	f := newFixture(t)
	f.fund("u1", 10)
	f.dispatch.err = &keypool.StatusError{StatusCode: 401, Message: "bad key"}

	_, err := f.svc.Submit(context.Background(), "u1", validRequest())
	if !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("err = %v, want ErrProviderFailure", err)
	}
	if f.keyDB.keys[0].Status != domain.APIKeyStatusDisabled {
		t.Fatal("credential not disabled on 401")
	}
	if f.keyDB.keys[1].Status != domain.APIKeyStatusActive {
		t.Fatal("unrelated credential disabled")
	}
}

func TestSubmitNoActiveCredential(t *testing.T) {
	f := newFixture(t)
	f.fund("u1", 10)
	f.keyDB.keys = nil

	_, err := f.svc.Submit(context.Background(), "u1", validRequest())
	if !errors.Is(err, domain.ErrNoActiveCredential) {
		t.Fatalf("err = %v, want ErrNoActiveCredential", err)
	}
	if len(f.gens.gens) != 0 {
		t.Fatal("record created before credential acquisition")
	}
}

func TestSubmitRotatesKeysAcrossCalls(t *testing.T) {
	f := newFixture(t)
	f.fund("u1", 10)

	var used []string
	for i := 0; i < 3; i++ {
		if _, err := f.svc.Submit(context.Background(), "u1", validRequest()); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		used = append(used, f.dispatch.lastKey)
	}
	want := []string{"key-1", "key-2", "key-1"}
	for i := range want {
		if used[i] != want[i] {
			t.Fatalf("key rotation = %v, want %v", used, want)
		}
	}
}
