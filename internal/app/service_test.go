package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"brokerflow/api/internal/blob"
	"brokerflow/api/internal/config"
	"brokerflow/api/internal/email"
	"brokerflow/api/internal/llm"
	"brokerflow/api/internal/lock"
	"brokerflow/api/internal/search"
	"brokerflow/api/internal/store"
)

var fixedNow = time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)

type fakeStore struct {
	mu sync.Mutex

	pingFn                   func(context.Context) error
	insertTasksFn            func(context.Context, []store.Task) error
	deleteExpiredDocumentsFn func(context.Context, string, time.Time) ([]string, error)

	tenants      []store.Tenant
	aliases      map[string]store.InboundAlias
	assignments  map[string]store.Assignment
	documents    map[string]store.Document
	extractions  []store.Extraction
	generations  map[string]store.Generation
	tasks        []store.Task
	transactions map[string]store.Transaction
	audits       []store.AuditLog
	emailLogs    []store.EmailLog
	reminders    []store.ReminderCandidate
	purged       []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		aliases:      map[string]store.InboundAlias{},
		assignments:  map[string]store.Assignment{},
		documents:    map[string]store.Document{},
		generations:  map[string]store.Generation{},
		transactions: map[string]store.Transaction{},
	}
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) GetTenant(_ context.Context, tenantID string) (store.Tenant, error) {
	for _, tenant := range f.tenants {
		if tenant.ID == tenantID {
			return tenant, nil
		}
	}
	return store.Tenant{}, sql.ErrNoRows
}

func (f *fakeStore) ListActiveTenants(context.Context) ([]store.Tenant, error) {
	return f.tenants, nil
}

func (f *fakeStore) InsertAuditLog(_ context.Context, entry store.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, entry)
	return nil
}

func (f *fakeStore) GetActiveInboundAlias(_ context.Context, alias string) (store.InboundAlias, error) {
	record, ok := f.aliases[alias]
	if !ok || !record.IsActive {
		return store.InboundAlias{}, sql.ErrNoRows
	}
	return record, nil
}

func (f *fakeStore) InsertEmailLog(_ context.Context, entry store.EmailLog) error {
	f.emailLogs = append(f.emailLogs, entry)
	return nil
}

func (f *fakeStore) InsertAssignment(_ context.Context, item store.Assignment) error {
	item.CreatedAt = fixedNow
	f.assignments[item.ID] = item
	return nil
}

func (f *fakeStore) GetAssignment(_ context.Context, tenantID, id string) (store.Assignment, error) {
	item, ok := f.assignments[id]
	if !ok || item.TenantID != tenantID || item.DeletedAt != nil {
		return store.Assignment{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *fakeStore) ListAssignments(_ context.Context, tenantID string, filter store.AssignmentFilter) ([]store.Assignment, error) {
	out := []store.Assignment{}
	for _, item := range f.assignments {
		if item.TenantID != tenantID || item.DeletedAt != nil {
			continue
		}
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (f *fakeStore) UpdateAssignmentStatus(_ context.Context, tenantID, id, status string) error {
	item, ok := f.assignments[id]
	if !ok || item.TenantID != tenantID {
		return sql.ErrNoRows
	}
	item.Status = status
	f.assignments[id] = item
	return nil
}

func (f *fakeStore) UpdateConfirmedPropertyData(_ context.Context, tenantID, id string, data map[string]any) error {
	item, ok := f.assignments[id]
	if !ok || item.TenantID != tenantID {
		return sql.ErrNoRows
	}
	item.ConfirmedPropertyData = data
	f.assignments[id] = item
	return nil
}

func (f *fakeStore) SoftDeleteAssignment(_ context.Context, tenantID, id string) error {
	item, ok := f.assignments[id]
	if !ok || item.TenantID != tenantID || item.DeletedAt != nil {
		return sql.ErrNoRows
	}
	deleted := fixedNow
	item.DeletedAt = &deleted
	f.assignments[id] = item
	return nil
}

func (f *fakeStore) InsertDocument(_ context.Context, doc store.Document) error {
	f.documents[doc.ID] = doc
	return nil
}

func (f *fakeStore) GetDocument(_ context.Context, tenantID, id string) (store.Document, error) {
	doc, ok := f.documents[id]
	if !ok || doc.TenantID != tenantID || doc.DeletedAt != nil {
		return store.Document{}, sql.ErrNoRows
	}
	return doc, nil
}

func (f *fakeStore) ListDocuments(_ context.Context, tenantID, assignmentID string) ([]store.Document, error) {
	out := []store.Document{}
	for _, doc := range f.documents {
		if doc.TenantID == tenantID && derefString(doc.AssignmentID) == assignmentID && doc.DeletedAt == nil {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateDocumentProcessing(_ context.Context, id, status string, message *string) error {
	doc, ok := f.documents[id]
	if !ok {
		return sql.ErrNoRows
	}
	doc.ProcessingStatus = status
	doc.ProcessingError = message
	f.documents[id] = doc
	return nil
}

func (f *fakeStore) UpdateDocumentClassification(_ context.Context, id, docType string, confidence float64) error {
	doc, ok := f.documents[id]
	if !ok {
		return sql.ErrNoRows
	}
	doc.DocType = docType
	doc.DocTypeConfidence = &confidence
	f.documents[id] = doc
	return nil
}

func (f *fakeStore) SoftDeleteDocument(_ context.Context, tenantID, id string) error {
	doc, ok := f.documents[id]
	if !ok || doc.TenantID != tenantID {
		return sql.ErrNoRows
	}
	deleted := fixedNow
	doc.DeletedAt = &deleted
	f.documents[id] = doc
	return nil
}

func (f *fakeStore) SupersedeCompletedExtractions(_ context.Context, documentID string) (int64, error) {
	var n int64
	for i := range f.extractions {
		if f.extractions[i].DocumentID == documentID && f.extractions[i].Status == store.ExtractionCompleted {
			f.extractions[i].Status = store.ExtractionSuperseded
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) InsertExtraction(_ context.Context, row store.Extraction) error {
	f.extractions = append(f.extractions, row)
	return nil
}

func (f *fakeStore) ListCompletedExtractions(_ context.Context, tenantID, assignmentID string) ([]store.Extraction, error) {
	out := []store.Extraction{}
	for _, row := range f.extractions {
		if row.TenantID == tenantID && row.AssignmentID == assignmentID && row.Status == store.ExtractionCompleted {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertGeneration(_ context.Context, item store.Generation) error {
	item.CreatedAt = fixedNow
	f.generations[item.ID] = item
	return nil
}

func (f *fakeStore) GetGeneration(_ context.Context, tenantID, id string) (store.Generation, error) {
	item, ok := f.generations[id]
	if !ok || item.TenantID != tenantID {
		return store.Generation{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *fakeStore) ListGenerations(_ context.Context, tenantID, assignmentID string) ([]store.Generation, error) {
	out := []store.Generation{}
	for _, item := range f.generations {
		if item.TenantID == tenantID && item.AssignmentID == assignmentID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f *fakeStore) ApproveGeneration(_ context.Context, tenantID, id, userID string, at time.Time) error {
	item, ok := f.generations[id]
	if !ok || item.TenantID != tenantID {
		return sql.ErrNoRows
	}
	item.IsApproved = true
	item.ApprovedBy = &userID
	item.ApprovedAt = &at
	f.generations[id] = item
	return nil
}

func (f *fakeStore) UpdateGenerationEditedText(_ context.Context, tenantID, id, text string) error {
	item, ok := f.generations[id]
	if !ok || item.TenantID != tenantID {
		return sql.ErrNoRows
	}
	item.EditedText = &text
	f.generations[id] = item
	return nil
}

func (f *fakeStore) InsertTasks(ctx context.Context, tasks []store.Task) error {
	if f.insertTasksFn != nil {
		return f.insertTasksFn(ctx, tasks)
	}
	f.tasks = append(f.tasks, tasks...)
	return nil
}

func (f *fakeStore) ListTasks(_ context.Context, tenantID, assignmentID string) ([]store.Task, error) {
	out := []store.Task{}
	for _, task := range f.tasks {
		if task.TenantID == tenantID && task.AssignmentID == assignmentID {
			out = append(out, task)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateTask(_ context.Context, tenantID, id string, patch store.TaskPatch) (store.Task, error) {
	for i, task := range f.tasks {
		if task.ID != id || task.TenantID != tenantID {
			continue
		}
		if patch.Status != nil {
			task.Status = *patch.Status
		}
		if patch.AssignedTo != nil {
			task.AssignedTo = patch.AssignedTo
		}
		if patch.DueDate != nil {
			task.DueDate = patch.DueDate
		}
		f.tasks[i] = task
		return task, nil
	}
	return store.Task{}, sql.ErrNoRows
}

func (f *fakeStore) ListReminderCandidates(context.Context, time.Time, time.Time) ([]store.ReminderCandidate, error) {
	return f.reminders, nil
}

func (f *fakeStore) GetCurrentTransaction(_ context.Context, tenantID, assignmentID string) (store.Transaction, error) {
	tx, ok := f.transactions[assignmentID]
	if !ok || tx.TenantID != tenantID {
		return store.Transaction{}, sql.ErrNoRows
	}
	return tx, nil
}

func (f *fakeStore) InsertTransaction(_ context.Context, tx store.Transaction) error {
	f.transactions[tx.AssignmentID] = tx
	return nil
}

func (f *fakeStore) UpdateTransaction(_ context.Context, tx store.Transaction) error {
	f.transactions[tx.AssignmentID] = tx
	return nil
}

func (f *fakeStore) UpdateTransactionStatus(_ context.Context, tenantID, id, status string) error {
	for key, tx := range f.transactions {
		if tx.ID == id && tx.TenantID == tenantID {
			tx.Status = status
			f.transactions[key] = tx
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) DeleteExpiredDocuments(ctx context.Context, tenantID string, cutoff time.Time) ([]string, error) {
	if f.deleteExpiredDocumentsFn != nil {
		return f.deleteExpiredDocumentsFn(ctx, tenantID, cutoff)
	}
	return nil, nil
}

func (f *fakeStore) DeleteExpiredExtractions(context.Context, string, time.Time) (int, error) {
	return 0, nil
}

func (f *fakeStore) DeleteExpiredGenerations(context.Context, string, time.Time) (int, error) {
	return 0, nil
}

func (f *fakeStore) PurgeTenantData(_ context.Context, tenantID string) ([]string, error) {
	f.purged = append(f.purged, tenantID)
	paths := []string{}
	for id, doc := range f.documents {
		if doc.TenantID == tenantID {
			paths = append(paths, doc.StoragePath)
			delete(f.documents, id)
		}
	}
	return paths, nil
}

func (f *fakeStore) auditActions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.audits))
	for _, entry := range f.audits {
		out = append(out, entry.Action)
	}
	return out
}

func (f *fakeStore) lastAudit(action string) (store.AuditLog, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.audits) - 1; i >= 0; i-- {
		if f.audits[i].Action == action {
			return f.audits[i], true
		}
	}
	return store.AuditLog{}, false
}

type fakeLLM struct {
	calls      int
	completeFn func(context.Context, llm.Request) (llm.Response, error)
}

func (f *fakeLLM) Name() string  { return "fake" }
func (f *fakeLLM) Model() string { return "fake-1" }
func (f *fakeLLM) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	f.calls++
	if f.completeFn != nil {
		return f.completeFn(ctx, req)
	}
	return llm.Response{Text: "Ljus trea med balkong.", TokenCount: 42}, nil
}

type fakeBlobs struct {
	objects   map[string][]byte
	removed   []string
	uploadErr error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}}
}

func (f *fakeBlobs) Upload(_ context.Context, objectPath string, data []byte, _ string) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.objects[objectPath] = data
	return nil
}

func (f *fakeBlobs) Download(_ context.Context, objectPath string) ([]byte, error) {
	data, ok := f.objects[objectPath]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return data, nil
}

func (f *fakeBlobs) Remove(_ context.Context, paths []string) (int, error) {
	f.removed = append(f.removed, paths...)
	return len(paths), nil
}

func (f *fakeBlobs) SignedURL(_ context.Context, objectPath string, _ time.Duration) (string, error) {
	return "https://storage.test/" + objectPath + "?sig=1", nil
}

type fakeSearch struct {
	indexed []string
	deleted []string
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	return search.Response{Results: []search.Result{}, Query: q.Text, Engine: search.EngineFallback}
}

func (f *fakeSearch) IndexAssignment(record search.AssignmentRecord) {
	f.indexed = append(f.indexed, record.ID)
}

func (f *fakeSearch) DeleteAssignment(id string) {
	f.deleted = append(f.deleted, id)
}

type fakeMailer struct {
	configured bool
	sent       []email.ReminderData
	sendErr    map[string]error
}

func (f *fakeMailer) IsConfigured() bool { return f.configured }
func (f *fakeMailer) SendTaskReminder(data email.ReminderData) (string, error) {
	if err := f.sendErr[data.To]; err != nil {
		return "", err
	}
	f.sent = append(f.sent, data)
	return email.ReminderSubject(data.TaskTitle, data.DueDate), nil
}

type testEnv struct {
	svc    *Service
	store  *fakeStore
	llm    *fakeLLM
	blobs  *fakeBlobs
	search *fakeSearch
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:  newFakeStore(),
		llm:    &fakeLLM{},
		blobs:  newFakeBlobs(),
		search: &fakeSearch{},
	}
	env.svc = New(config.Config{
		AuthSecret:        "test-secret",
		CronSecret:        "cron-secret",
		AppURL:            "https://app.test",
		ExtractionLockTTL: time.Minute,
	}, Deps{
		Store:  env.store,
		LLM:    env.llm,
		Blobs:  env.blobs,
		Search: env.search,
	})
	env.svc.now = func() time.Time { return fixedNow }
	return env
}

func agentSession() Session {
	return Session{UserID: "user-1", TenantID: "tenant-1", Role: "agent", ExpiresAt: fixedNow.Add(time.Hour)}
}

func (e *testEnv) seedAssignment(id, status string) store.Assignment {
	item := store.Assignment{
		ID:           id,
		TenantID:     "tenant-1",
		CreatedBy:    "user-1",
		Status:       status,
		Address:      "Storgatan 1",
		City:         "Stockholm",
		PropertyType: "bostadsratt",
	}
	e.store.assignments[id] = item
	return item
}

func (e *testEnv) seedDocument(id, assignmentID, mimeType string, data []byte) store.Document {
	path := blob.ObjectPath("tenant-1", assignmentID, id+".bin")
	doc := store.Document{
		ID:               id,
		TenantID:         "tenant-1",
		AssignmentID:     optionalString(assignmentID),
		Filename:         id + ".bin",
		StoragePath:      path,
		MimeType:         mimeType,
		ProcessingStatus: store.ProcessingUploaded,
	}
	e.store.documents[id] = doc
	if data != nil {
		e.blobs.objects[path] = data
	}
	return doc
}

func requireCode(t *testing.T, err error, code string) *DomainError {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError %s, got %v", code, err)
	}
	if domainErr.Code != code {
		t.Fatalf("expected code %s, got %s (%s)", code, domainErr.Code, domainErr.Message)
	}
	return domainErr
}

func TestGenerateTasksForStatusCreatesTemplates(t *testing.T) {
	env := newTestEnv(t)
	env.seedAssignment("a-1", store.AssignmentActive)

	tasks, err := env.svc.GenerateTasksForStatus(context.Background(), "a-1", "tenant-1", store.AssignmentActive, "user-1")
	if err != nil {
		t.Fatalf("GenerateTasksForStatus failed: %v", err)
	}
	if len(tasks) != 5 {
		t.Fatalf("expected 5 tasks, got %d", len(tasks))
	}
	if len(env.store.tasks) != 5 {
		t.Fatalf("expected 5 stored tasks, got %d", len(env.store.tasks))
	}
	first := tasks[0]
	if !first.IsAutoGenerated || first.TriggerStatus == nil || *first.TriggerStatus != store.AssignmentActive {
		t.Fatalf("unexpected task metadata: %+v", first)
	}
	if first.DueDate == nil || !first.DueDate.Equal(time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected due date two days out, got %v", first.DueDate)
	}

	entry, ok := env.store.lastAudit("assignment.status_changed")
	if !ok {
		t.Fatal("expected assignment.status_changed audit")
	}
	if entry.Metadata["tasks_created"] != 5 || entry.Metadata["new_status"] != store.AssignmentActive {
		t.Fatalf("unexpected audit metadata: %v", entry.Metadata)
	}
}

func TestGenerateTasksForStatusWithoutTemplatesIsNoop(t *testing.T) {
	env := newTestEnv(t)

	tasks, err := env.svc.GenerateTasksForStatus(context.Background(), "a-1", "tenant-1", store.AssignmentDraft, "user-1")
	if err != nil {
		t.Fatalf("GenerateTasksForStatus failed: %v", err)
	}
	if len(tasks) != 0 || len(env.store.audits) != 0 {
		t.Fatalf("expected no tasks and no audit, got %d tasks %d audits", len(tasks), len(env.store.audits))
	}
}

func TestGenerateTasksForStatusRejectsUnknownStatus(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.GenerateTasksForStatus(context.Background(), "a-1", "tenant-1", "archived", "user-1")
	requireCode(t, err, CodeValidation)
}

func TestGenerateTasksForStatusAuditsInsertFailure(t *testing.T) {
	env := newTestEnv(t)
	env.store.insertTasksFn = func(context.Context, []store.Task) error {
		return errors.New("insert failed")
	}

	_, err := env.svc.GenerateTasksForStatus(context.Background(), "a-1", "tenant-1", store.AssignmentClosed, "user-1")
	if err == nil || !strings.Contains(err.Error(), "insert failed") {
		t.Fatalf("expected wrapped insert error, got %v", err)
	}
	entry, ok := env.store.lastAudit("assignment.status_changed")
	if !ok {
		t.Fatal("expected audit even when insert fails")
	}
	if entry.Metadata["tasks_created"] != 0 {
		t.Fatalf("expected tasks_created 0, got %v", entry.Metadata["tasks_created"])
	}
}

func TestChangeAssignmentStatusKeepsStatusWhenEngineFails(t *testing.T) {
	env := newTestEnv(t)
	env.seedAssignment("a-1", store.AssignmentDraft)
	env.store.insertTasksFn = func(context.Context, []store.Task) error {
		return errors.New("insert failed")
	}

	result, err := env.svc.ChangeAssignmentStatus(context.Background(), agentSession(), "a-1", store.AssignmentActive)
	if err != nil {
		t.Fatalf("ChangeAssignmentStatus failed: %v", err)
	}
	if result.Assignment.Status != store.AssignmentActive || result.TasksCreated != 0 {
		t.Fatalf("unexpected result: status=%s tasks=%d", result.Assignment.Status, result.TasksCreated)
	}
	if len(env.search.indexed) != 1 {
		t.Fatalf("expected reindex after status change, got %v", env.search.indexed)
	}
}

func TestChangeAssignmentStatusSameStatusIsNoop(t *testing.T) {
	env := newTestEnv(t)
	env.seedAssignment("a-1", store.AssignmentActive)

	result, err := env.svc.ChangeAssignmentStatus(context.Background(), agentSession(), "a-1", store.AssignmentActive)
	if err != nil {
		t.Fatalf("ChangeAssignmentStatus failed: %v", err)
	}
	if result.TasksCreated != 0 || len(env.store.tasks) != 0 {
		t.Fatalf("expected no tasks, got %d", len(env.store.tasks))
	}
}

func TestChangeAssignmentStatusIsTenantScoped(t *testing.T) {
	env := newTestEnv(t)
	env.seedAssignment("a-1", store.AssignmentDraft)
	other := agentSession()
	other.TenantID = "tenant-2"

	_, err := env.svc.ChangeAssignmentStatus(context.Background(), other, "a-1", store.AssignmentActive)
	requireCode(t, err, CodeNotFound)
	if env.store.assignments["a-1"].Status != store.AssignmentDraft {
		t.Fatal("assignment of another tenant must not change")
	}
}

func TestRunExtractionRejectsNonPDF(t *testing.T) {
	env := newTestEnv(t)
	env.seedAssignment("a-1", store.AssignmentActive)
	env.seedDocument("doc-1", "a-1", "text/plain", []byte("hello world"))

	_, err := env.svc.RunExtraction(context.Background(), agentSession(), "doc-1", "")
	requireCode(t, err, CodeUnsupportedFormat)

	doc := env.store.documents["doc-1"]
	if doc.ProcessingStatus != store.ProcessingError {
		t.Fatalf("expected document in error, got %s", doc.ProcessingStatus)
	}
	if doc.ProcessingError == nil || *doc.ProcessingError != msgOnlyPDF {
		t.Fatalf("unexpected processing error: %v", doc.ProcessingError)
	}
	if _, ok := env.store.lastAudit("extraction.failed"); !ok {
		t.Fatal("expected extraction.failed audit")
	}
	if env.llm.calls != 0 {
		t.Fatalf("model must not be called, got %d calls", env.llm.calls)
	}
}

func TestRunExtractionUnreadablePDF(t *testing.T) {
	env := newTestEnv(t)
	env.seedAssignment("a-1", store.AssignmentActive)
	env.seedDocument("doc-1", "a-1", "application/pdf", []byte("%PDF-1.4 not really"))

	_, err := env.svc.RunExtraction(context.Background(), agentSession(), "doc-1", "")
	domainErr := requireCode(t, err, CodeUnsupportedFormat)
	if domainErr.Message != msgUnreadablePDF {
		t.Fatalf("unexpected message %q", domainErr.Message)
	}
}

func TestRunExtractionMissingBlob(t *testing.T) {
	env := newTestEnv(t)
	env.seedAssignment("a-1", store.AssignmentActive)
	env.seedDocument("doc-1", "a-1", "application/pdf", nil)

	_, err := env.svc.RunExtraction(context.Background(), agentSession(), "doc-1", "")
	requireCode(t, err, CodeNotFound)
	if env.store.documents["doc-1"].ProcessingStatus != store.ProcessingError {
		t.Fatal("expected document in error after missing blob")
	}
}

func TestRunExtractionAssignmentMismatch(t *testing.T) {
	env := newTestEnv(t)
	env.seedAssignment("a-1", store.AssignmentActive)
	env.seedAssignment("a-2", store.AssignmentActive)
	env.seedDocument("doc-1", "a-1", "application/pdf", []byte("%PDF"))

	_, err := env.svc.RunExtraction(context.Background(), agentSession(), "doc-1", "a-2")
	requireCode(t, err, CodeNotFound)
	if env.store.documents["doc-1"].ProcessingStatus != store.ProcessingUploaded {
		t.Fatal("document must stay untouched on mismatch")
	}
}

func TestRunExtractionConflictsWhileLocked(t *testing.T) {
	env := newTestEnv(t)
	env.seedAssignment("a-1", store.AssignmentActive)
	env.seedDocument("doc-1", "a-1", "application/pdf", []byte("%PDF"))

	mr := miniredis.RunT(t)
	locker, err := lock.NewRedisLocker("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisLocker: %v", err)
	}
	t.Cleanup(func() { _ = locker.Close() })
	env.svc.locker = locker

	held, err := locker.Acquire(context.Background(), "doc-1", time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	_, err = env.svc.RunExtraction(context.Background(), agentSession(), "doc-1", "")
	domainErr := requireCode(t, err, CodeExtractionInProgress)
	if domainErr.Status != 409 {
		t.Fatalf("expected 409, got %d", domainErr.Status)
	}

	if err := held.Release(context.Background()); err != nil {
		t.Fatalf("Release: %v", err)
	}
	_, err = env.svc.RunExtraction(context.Background(), agentSession(), "doc-1", "")
	requireCode(t, err, CodeUnsupportedFormat)
	if mr.Exists("extraction-lock:doc-1") {
		t.Fatal("lock must be released after the run")
	}
}

func TestUploadDocumentStoresBlobAndRow(t *testing.T) {
	env := newTestEnv(t)
	env.seedAssignment("a-1", store.AssignmentActive)

	doc, err := env.svc.UploadDocument(context.Background(), agentSession(), "a-1", UploadInput{
		Filename: "arsredovisning.pdf",
		Data:     []byte("%PDF-1.7\n"),
	})
	if err != nil {
		t.Fatalf("UploadDocument failed: %v", err)
	}
	if doc.MimeType != "application/pdf" {
		t.Fatalf("expected sniffed pdf mime, got %s", doc.MimeType)
	}
	if !strings.HasPrefix(doc.StoragePath, "tenant-1/a-1/") {
		t.Fatalf("unexpected storage path %s", doc.StoragePath)
	}
	if _, ok := env.blobs.objects[doc.StoragePath]; !ok {
		t.Fatal("expected blob upload")
	}
	if doc.Source != store.SourceUpload || derefString(doc.UploadedBy) != "user-1" {
		t.Fatalf("unexpected source fields: %+v", doc)
	}
}

func TestRunGenerationRequiresTransaction(t *testing.T) {
	env := newTestEnv(t)
	env.seedAssignment("a-1", store.AssignmentUnderContract)

	_, err := env.svc.RunGeneration(context.Background(), agentSession(), "a-1", "settlement_draft", "")
	requireCode(t, err, CodeNotFound)
	if env.llm.calls != 0 {
		t.Fatal("model must not be called without a transaction")
	}
}

func TestRunGenerationStoresDraft(t *testing.T) {
	env := newTestEnv(t)
	env.seedAssignment("a-1", store.AssignmentActive)

	item, err := env.svc.RunGeneration(context.Background(), agentSession(), "a-1", "ad_copy", "shouting")
	if err != nil {
		t.Fatalf("RunGeneration failed: %v", err)
	}
	if item.Tone != "professional" {
		t.Fatalf("expected tone fallback to professional, got %s", item.Tone)
	}
	if item.OutputText != "Ljus trea med balkong." || item.TokenCount != 42 {
		t.Fatalf("unexpected output: %+v", item)
	}
	if item.IsApproved {
		t.Fatal("new generation must not be approved")
	}
	if item.InputDataSnapshot["address"] != "Storgatan 1" {
		t.Fatalf("snapshot missing address: %v", item.InputDataSnapshot)
	}
	if _, ok := env.store.lastAudit("generation.created"); !ok {
		t.Fatal("expected generation.created audit")
	}
}

func TestRunGenerationRejectsUnknownType(t *testing.T) {
	env := newTestEnv(t)
	env.seedAssignment("a-1", store.AssignmentActive)

	_, err := env.svc.RunGeneration(context.Background(), agentSession(), "a-1", "poem", "")
	requireCode(t, err, CodeValidation)
}

func TestRunGenerationUpstreamFailure(t *testing.T) {
	env := newTestEnv(t)
	env.seedAssignment("a-1", store.AssignmentActive)
	env.llm.completeFn = func(context.Context, llm.Request) (llm.Response, error) {
		return llm.Response{}, errors.New("rate limited")
	}

	_, err := env.svc.RunGeneration(context.Background(), agentSession(), "a-1", "ad_copy", "")
	requireCode(t, err, CodeUpstreamFailure)
	if len(env.store.generations) != 0 {
		t.Fatal("failed generation must not be stored")
	}
}

func TestApproveGenerationIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.store.generations["gen-1"] = store.Generation{ID: "gen-1", TenantID: "tenant-1", AssignmentID: "a-1", Type: "ad_copy"}

	for i := 0; i < 2; i++ {
		item, err := env.svc.ApproveGeneration(context.Background(), agentSession(), "gen-1")
		if err != nil {
			t.Fatalf("ApproveGeneration #%d failed: %v", i+1, err)
		}
		if !item.IsApproved {
			t.Fatalf("expected approved generation on call %d", i+1)
		}
	}

	count := 0
	for _, action := range env.store.auditActions() {
		if action == "generation.approved" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected one approval audit, got %d", count)
	}
}

func TestExportGenerationRequiresApproval(t *testing.T) {
	env := newTestEnv(t)
	env.store.generations["gen-1"] = store.Generation{ID: "gen-1", TenantID: "tenant-1", AssignmentID: "a-1", Type: "ad_copy"}

	_, err := env.svc.ExportGenerationPDF(context.Background(), agentSession(), "gen-1")
	requireCode(t, err, CodeValidation)
}

func TestExportGenerationWithoutExporterIsUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.store.generations["gen-1"] = store.Generation{ID: "gen-1", TenantID: "tenant-1", AssignmentID: "a-1", Type: "ad_copy", IsApproved: true}

	_, err := env.svc.ExportGenerationPDF(context.Background(), agentSession(), "gen-1")
	domainErr := requireCode(t, err, CodeServerError)
	if domainErr.Status != 503 {
		t.Fatalf("expected 503, got %d", domainErr.Status)
	}
}

func TestConfirmPropertyDataCoercesAndAudits(t *testing.T) {
	env := newTestEnv(t)
	env.seedAssignment("a-1", store.AssignmentActive)

	item, err := env.svc.ConfirmPropertyData(context.Background(), agentSession(), "a-1", map[string]any{
		"monthly_fee": "4 250 kr",
		"rooms":       3.0,
	}, true)
	if err != nil {
		t.Fatalf("ConfirmPropertyData failed: %v", err)
	}
	if item.ConfirmedPropertyData["rooms"] != 3.0 {
		t.Fatalf("unexpected confirmed data: %v", item.ConfirmedPropertyData)
	}
	entry, ok := env.store.lastAudit("assignment.data_confirmed")
	if !ok || entry.Metadata["edited"] != true || entry.Metadata["field_count"] != 2 {
		t.Fatalf("unexpected audit: %+v", entry)
	}
}

func TestUpdateTransactionStatusAudits(t *testing.T) {
	env := newTestEnv(t)
	env.seedAssignment("a-1", store.AssignmentUnderContract)
	env.store.transactions["a-1"] = store.Transaction{ID: "tx-1", TenantID: "tenant-1", AssignmentID: "a-1", Status: store.TransactionContractSigned}

	tx, err := env.svc.UpdateTransactionStatus(context.Background(), agentSession(), "a-1", store.TransactionDepositPaid)
	if err != nil {
		t.Fatalf("UpdateTransactionStatus failed: %v", err)
	}
	if tx.Status != store.TransactionDepositPaid {
		t.Fatalf("expected deposit_paid, got %s", tx.Status)
	}
	entry, ok := env.store.lastAudit("transaction.status_changed")
	if !ok || entry.Metadata["from"] != store.TransactionContractSigned {
		t.Fatalf("unexpected audit: %+v", entry)
	}

	_, err = env.svc.UpdateTransactionStatus(context.Background(), agentSession(), "a-1", "signed")
	requireCode(t, err, CodeValidation)
}

func TestAliasFromRecipient(t *testing.T) {
	cases := []struct {
		recipient string
		want      string
	}{
		{recipient: "maklarbyran@in.brokerflow.se", want: "maklarbyran"},
		{recipient: "Mäklarbyrån <Maklarbyran@in.brokerflow.se>", want: "Maklarbyran"},
		{recipient: "  kontor@in.brokerflow.se ", want: "kontor"},
		{recipient: "no-at-sign", want: ""},
	}
	for _, tc := range cases {
		if got := AliasFromRecipient(tc.recipient); got != tc.want {
			t.Errorf("AliasFromRecipient(%q) = %q, want %q", tc.recipient, got, tc.want)
		}
	}
}

func TestAssignmentIDFromSubject(t *testing.T) {
	cases := []struct {
		subject string
		want    string
	}{
		{subject: "Fwd: Årsredovisning [BF-1b4e28ba-2fa1-11d2-883f-0016d3cca427]", want: "1b4e28ba-2fa1-11d2-883f-0016d3cca427"},
		{subject: "[bf-1B4E28BA-2FA1-11D2-883F-0016D3CCA427] stadgar", want: "1b4e28ba-2fa1-11d2-883f-0016d3cca427"},
		{subject: "[BF-not-a-uuid]", want: ""},
		{subject: "Ingen tagg", want: ""},
	}
	for _, tc := range cases {
		if got := AssignmentIDFromSubject(tc.subject); got != tc.want {
			t.Errorf("AssignmentIDFromSubject(%q) = %q, want %q", tc.subject, got, tc.want)
		}
	}
}

func TestReceiveInboundEmailFilesAttachments(t *testing.T) {
	env := newTestEnv(t)
	const assignmentID = "1b4e28ba-2fa1-11d2-883f-0016d3cca427"
	env.seedAssignment(assignmentID, store.AssignmentActive)
	env.store.aliases["kontor"] = store.InboundAlias{ID: "alias-1", TenantID: "tenant-1", EmailAlias: "kontor", IsActive: true}

	result, err := env.svc.ReceiveInboundEmail(context.Background(), InboundEmail{
		From:      "seller@example.com",
		Subject:   "Stadgar [BF-" + assignmentID + "]",
		Recipient: "kontor@in.brokerflow.se",
		Attachments: []InboundAttachment{
			{Filename: "stadgar.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4")},
			{Filename: "tom.pdf", Data: nil},
		},
	})
	if err != nil {
		t.Fatalf("ReceiveInboundEmail failed: %v", err)
	}
	if derefString(result.AssignmentID) != assignmentID || len(result.DocumentIDs) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	doc := env.store.documents[result.DocumentIDs[0]]
	if doc.Source != store.SourceEmail || derefString(doc.SourceEmailFrom) != "seller@example.com" {
		t.Fatalf("unexpected document source: %+v", doc)
	}
	if !strings.HasPrefix(doc.StoragePath, "tenant-1/"+assignmentID+"/") {
		t.Fatalf("unexpected storage path %s", doc.StoragePath)
	}
	entry, ok := env.store.lastAudit("email.received")
	if !ok || entry.Metadata["attachment_count"] != 1 {
		t.Fatalf("unexpected audit: %+v", entry)
	}
}

func TestReceiveInboundEmailWithoutTagGoesToUnmatched(t *testing.T) {
	env := newTestEnv(t)
	env.store.aliases["kontor"] = store.InboundAlias{ID: "alias-1", TenantID: "tenant-1", EmailAlias: "kontor", IsActive: true}

	result, err := env.svc.ReceiveInboundEmail(context.Background(), InboundEmail{
		Recipient:   "kontor@in.brokerflow.se",
		Subject:     "[BF-1b4e28ba-2fa1-11d2-883f-0016d3cca427] okänt uppdrag",
		Attachments: []InboundAttachment{{Filename: "a.pdf", Data: []byte("%PDF-1.4")}},
	})
	if err != nil {
		t.Fatalf("ReceiveInboundEmail failed: %v", err)
	}
	if result.AssignmentID != nil {
		t.Fatalf("expected no assignment, got %v", *result.AssignmentID)
	}
	doc := env.store.documents[result.DocumentIDs[0]]
	if !strings.HasPrefix(doc.StoragePath, "tenant-1/unmatched/") {
		t.Fatalf("unexpected storage path %s", doc.StoragePath)
	}
}

func TestReceiveInboundEmailRejections(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.ReceiveInboundEmail(context.Background(), InboundEmail{Recipient: "okand@in.brokerflow.se"})
	requireCode(t, err, CodeNotFound)

	_, err = env.svc.ReceiveInboundEmail(context.Background(), InboundEmail{Recipient: "broken"})
	requireCode(t, err, CodeValidation)

	env.svc.cfg.MailgunSigningKey = "signing-key"
	_, err = env.svc.ReceiveInboundEmail(context.Background(), InboundEmail{
		Recipient: "kontor@in.brokerflow.se",
		Timestamp: "1700000000",
		Token:     "token",
		Signature: "bogus",
	})
	requireCode(t, err, CodeForbidden)
}

func TestReceiveInboundEmailWithoutAttachments(t *testing.T) {
	env := newTestEnv(t)
	env.store.aliases["kontor"] = store.InboundAlias{ID: "alias-1", TenantID: "tenant-1", EmailAlias: "kontor", IsActive: true}

	result, err := env.svc.ReceiveInboundEmail(context.Background(), InboundEmail{Recipient: "kontor@in.brokerflow.se"})
	if err != nil {
		t.Fatalf("ReceiveInboundEmail failed: %v", err)
	}
	if result.Message == "" || len(result.DocumentIDs) != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if _, ok := env.store.lastAudit("email.received_no_attachments"); !ok {
		t.Fatal("expected email.received_no_attachments audit")
	}
}

func TestRunRetentionContinuesPastTenantFailure(t *testing.T) {
	env := newTestEnv(t)
	env.store.tenants = []store.Tenant{
		{ID: "tenant-1", RetentionRawDays: 30},
		{ID: "tenant-2"},
	}
	var cutoffs []time.Time
	env.store.deleteExpiredDocumentsFn = func(_ context.Context, tenantID string, cutoff time.Time) ([]string, error) {
		cutoffs = append(cutoffs, cutoff)
		if tenantID == "tenant-1" {
			return nil, errors.New("deadlock detected")
		}
		return []string{"tenant-2/a/old.pdf"}, nil
	}

	report, err := env.svc.RunRetention(context.Background())
	if err != nil {
		t.Fatalf("RunRetention failed: %v", err)
	}
	if len(report.Tenants) != 2 {
		t.Fatalf("expected two tenant results, got %d", len(report.Tenants))
	}
	if report.Tenants[0].Error == "" {
		t.Fatal("expected first tenant error")
	}
	if report.Tenants[1].Deleted.Documents != 1 || report.Tenants[1].Deleted.StorageFiles != 1 {
		t.Fatalf("unexpected second tenant result: %+v", report.Tenants[1])
	}
	if !cutoffs[0].Equal(fixedNow.AddDate(0, 0, -30)) || !cutoffs[1].Equal(fixedNow.AddDate(0, 0, -365)) {
		t.Fatalf("unexpected cutoffs: %v", cutoffs)
	}
	entry, ok := env.store.lastAudit("data.retention_cleanup")
	if !ok || entry.TenantID != "tenant-2" {
		t.Fatalf("expected retention audit for tenant-2, got %+v", entry)
	}
}

func TestSendTaskRemindersSkipsWithoutMailer(t *testing.T) {
	env := newTestEnv(t)

	report, err := env.svc.SendTaskReminders(context.Background())
	if err != nil {
		t.Fatalf("SendTaskReminders failed: %v", err)
	}
	if !report.Skipped {
		t.Fatal("expected skipped report")
	}
}

func TestSendTaskRemindersCollectsFailures(t *testing.T) {
	env := newTestEnv(t)
	mailer := &fakeMailer{configured: true, sendErr: map[string]error{"b@example.com": errors.New("smtp down")}}
	env.svc.mailer = mailer
	due := fixedNow.AddDate(0, 0, 1)
	env.store.reminders = []store.ReminderCandidate{
		{Task: store.Task{ID: "task-1", TenantID: "tenant-1", AssignmentID: "a-1", Title: "Boka tillträde", DueDate: &due}, RecipientEmail: "a@example.com", RecipientName: "Anna", AssignmentAddress: "Storgatan 1", AssignmentCity: "Stockholm"},
		{Task: store.Task{ID: "task-2", TenantID: "tenant-1", AssignmentID: "a-1", Title: "Publicera annons", DueDate: &due}, RecipientEmail: "b@example.com", RecipientName: "Bo"},
	}

	report, err := env.svc.SendTaskReminders(context.Background())
	if err != nil {
		t.Fatalf("SendTaskReminders failed: %v", err)
	}
	if report.Sent != 1 || report.TotalTasks != 2 || len(report.Errors) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if !strings.HasPrefix(report.Errors[0], "Task task-2:") {
		t.Fatalf("unexpected error text %q", report.Errors[0])
	}
	if len(env.store.emailLogs) != 1 || env.store.emailLogs[0].TemplateName != "task_reminder" {
		t.Fatalf("unexpected email logs: %+v", env.store.emailLogs)
	}
	if got := mailer.sent[0].AssignmentURL; got != "https://app.test/assignments/a-1" {
		t.Fatalf("unexpected assignment url %q", got)
	}
}

func TestPurgeTenantRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.PurgeTenant(context.Background(), agentSession())
	requireCode(t, err, CodeForbidden)
	if len(env.store.purged) != 0 {
		t.Fatal("agent must not purge tenant data")
	}
}

func TestPurgeTenantRemovesBlobs(t *testing.T) {
	env := newTestEnv(t)
	env.seedAssignment("a-1", store.AssignmentActive)
	doc := env.seedDocument("doc-1", "a-1", "application/pdf", []byte("%PDF"))
	admin := agentSession()
	admin.Role = "admin"

	result, err := env.svc.PurgeTenant(context.Background(), admin)
	if err != nil {
		t.Fatalf("PurgeTenant failed: %v", err)
	}
	if result.DocumentsDeleted != 1 || result.StorageFilesRemoved != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(env.blobs.removed) != 1 || env.blobs.removed[0] != doc.StoragePath {
		t.Fatalf("unexpected removed blobs: %v", env.blobs.removed)
	}
	actions := strings.Join(env.store.auditActions(), ",")
	if actions != "tenant.data_deletion_requested,tenant.data_deleted" {
		t.Fatalf("unexpected audit sequence %s", actions)
	}
}
