// File: internal/usecase/mocks_test.go
package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"telegram-image-gen/internal/domain"
	"telegram-image-gen/internal/domain/model"
	"telegram-image-gen/internal/domain/ports/adapter"
	"telegram-image-gen/internal/domain/ports/repository"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// memUserRepo is a small in-memory implementation used by unit tests.
type memUserRepo struct {
	mu        sync.RWMutex
	store     map[string]*model.User // by ID
	adjustErr error
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{store: make(map[string]*model.User)}
}

func (m *memUserRepo) Save(ctx context.Context, _ repository.Tx, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user.ID == "" {
		user.ID = "user-" + time.Now().Format("150405.000000000")
	}
	cp := *user
	m.store[user.ID] = &cp
	return nil
}

func (m *memUserRepo) FindByID(ctx context.Context, _ repository.Tx, id string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUserRepo) FindByChatID(ctx context.Context, _ repository.Tx, chatID int64) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.store {
		if u.ChatID == chatID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memUserRepo) GetBalance(ctx context.Context, _ repository.Tx, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.store[userID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return u.BalanceCredits, nil
}

func (m *memUserRepo) AdjustBalance(ctx context.Context, _ repository.Tx, userID string, delta int) error {
	if m.adjustErr != nil {
		return m.adjustErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.store[userID]
	if !ok {
		return domain.ErrNotFound
	}
	u.BalanceCredits += delta
	if u.BalanceCredits < 0 {
		u.BalanceCredits = 0
	}
	return nil
}

func (m *memUserRepo) CountUsers(ctx context.Context, _ repository.Tx) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.store), nil
}

// memTaskRepo keeps tasks keyed by ID.
type memTaskRepo struct {
	mu         sync.RWMutex
	store      map[string]*model.Task
	saveErr    error
	updateErrs int // fail this many UpdateStatus calls before succeeding
}

func newMemTaskRepo() *memTaskRepo {
	return &memTaskRepo{store: make(map[string]*model.Task)}
}

func (m *memTaskRepo) Save(ctx context.Context, _ repository.Tx, task *model.Task) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if task.ID == "" {
		task.ID = "task-" + task.VendorTaskID
	}
	cp := *task
	m.store[task.ID] = &cp
	return nil
}

func (m *memTaskRepo) FindByVendorTaskID(ctx context.Context, _ repository.Tx, vendorTaskID string) (*model.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.store {
		if t.VendorTaskID == vendorTaskID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memTaskRepo) UpdateStatus(ctx context.Context, _ repository.Tx, taskID string, status model.TaskStatus, creditsUsed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErrs > 0 {
		m.updateErrs--
		return domain.ErrReadDatabaseRow
	}
	t, ok := m.store[taskID]
	if !ok {
		return domain.ErrNotFound
	}
	t.Status = status
	t.CreditsUsed = creditsUsed
	t.UpdatedAt = time.Now()
	return nil
}

func (m *memTaskRepo) MarkDelivered(ctx context.Context, _ repository.Tx, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.store[taskID]
	if !ok {
		return domain.ErrNotFound
	}
	t.Delivered = true
	return nil
}

func (m *memTaskRepo) CountByStatus(ctx context.Context, _ repository.Tx) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int)
	for _, t := range m.store {
		out[string(t.Status)]++
	}
	return out, nil
}

func (m *memTaskRepo) TotalCreditsUsed(ctx context.Context, _ repository.Tx) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sum int64
	for _, t := range m.store {
		sum += int64(t.CreditsUsed)
	}
	return sum, nil
}

func (m *memTaskRepo) get(taskID string) *model.Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t := m.store[taskID]
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

// mockTxManager runs the callback without a real transaction.
type mockTxManager struct {
	txErr error
}

func (m *mockTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.txErr != nil {
		return m.txErr
	}
	return fn(ctx, nil)
}

// memLocker simulates the redis lease with a plain map.
type memLocker struct {
	mu   sync.Mutex
	held map[string]string
}

func newMemLocker() *memLocker {
	return &memLocker{held: make(map[string]string)}
}

func (m *memLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.held[key]; busy {
		return "", domain.ErrLockNotAcquired
	}
	token := "tok-" + key
	m.held[key] = token
	return token, nil
}

func (m *memLocker) Unlock(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] == token {
		delete(m.held, key)
	}
	return nil
}

// memMarkers backs all three marker repositories.
type memMarkers struct {
	mu     sync.Mutex
	set    map[string]bool
	setErr error
}

func newMemMarkers() *memMarkers {
	return &memMarkers{set: make(map[string]bool)}
}

func (m *memMarkers) Set(ctx context.Context, id string) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set[id] = true
	return nil
}

func (m *memMarkers) Exists(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set[id], nil
}

func (m *memMarkers) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.set, id)
	return nil
}

func (m *memMarkers) Clear(ctx context.Context, id string) error { return m.Delete(ctx, id) }

func (m *memMarkers) MarkShown(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.set[id] {
		return false, nil
	}
	m.set[id] = true
	return true, nil
}

// memQueue is an unbounded in-memory generation queue.
type memQueue struct {
	mu    sync.Mutex
	items []*repository.GenerationRequest
}

func newMemQueue() *memQueue { return &memQueue{} }

func (m *memQueue) Enqueue(ctx context.Context, req *repository.GenerationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *req
	m.items = append(m.items, &cp)
	return nil
}

func (m *memQueue) Dequeue(ctx context.Context, timeout time.Duration) (*repository.GenerationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) == 0 {
		return nil, domain.ErrQueueEmpty
	}
	req := m.items[0]
	m.items = m.items[1:]
	return req, nil
}

func (m *memQueue) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// allowAllLimiter approves every submission unless told otherwise.
type allowAllLimiter struct {
	deny bool
}

func (l *allowAllLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return !l.deny, nil
}

// fakeGateway scripts vendor responses.
type fakeGateway struct {
	mu          sync.Mutex
	createID    string
	createErr   error
	createCalls int

	statusResult *adapter.TaskResult
	statusErr    error

	downloadPath string
	downloadErr  error
	downloads    int
}

func (g *fakeGateway) CreateTask(ctx context.Context, p adapter.CreateTaskParams) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	if g.createErr != nil {
		return "", g.createErr
	}
	return g.createID, nil
}

func (g *fakeGateway) GetStatus(ctx context.Context, vendorTaskID string) (*adapter.TaskResult, error) {
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	return g.statusResult, nil
}

func (g *fakeGateway) WaitUntilDone(ctx context.Context, vendorTaskID string, timeout time.Duration) (*adapter.TaskResult, error) {
	return g.GetStatus(ctx, vendorTaskID)
}

func (g *fakeGateway) DownloadArtifact(ctx context.Context, vendorTaskID, url, dir string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.downloads++
	if g.downloadErr != nil {
		return "", g.downloadErr
	}
	if g.downloadPath != "" {
		return g.downloadPath, nil
	}
	return dir + "/" + vendorTaskID + ".png", nil
}

// memNotifier records deliveries.
type memNotifier struct {
	mu        sync.Mutex
	results   []adapter.ResultNotification
	failures  []string
	resultErr error
}

func (n *memNotifier) NotifyResult(ctx context.Context, res adapter.ResultNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.resultErr != nil {
		return n.resultErr
	}
	n.results = append(n.results, res)
	return nil
}

func (n *memNotifier) NotifyFailure(ctx context.Context, chatID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, text)
	return nil
}

// fakeStager returns public URLs without touching the network.
type fakeStager struct {
	stageErr error
	cleaned  int
}

func (s *fakeStager) Stage(ctx context.Context, sourceURLs []string) ([]adapter.StagedAsset, error) {
	if s.stageErr != nil {
		return nil, s.stageErr
	}
	out := make([]adapter.StagedAsset, 0, len(sourceURLs))
	for range sourceURLs {
		out = append(out, adapter.StagedAsset{
			Name:      "asset.png",
			LocalPath: "/tmp/asset.png",
			PublicURL: "https://public.example/proxy/image/asset.png",
		})
	}
	return out, nil
}

func (s *fakeStager) Cleanup(assets []adapter.StagedAsset) { s.cleaned += len(assets) }

// fakeModerator flags prompts containing "forbidden".
type fakeModerator struct {
	err error
}

func (m *fakeModerator) Flagged(ctx context.Context, prompt string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return prompt == "forbidden", nil
}
