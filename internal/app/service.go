package app

import (
	"context"
	"time"

	"brokerflow/api/internal/auth"
	"brokerflow/api/internal/config"
	"brokerflow/api/internal/email"
	"brokerflow/api/internal/export"
	"brokerflow/api/internal/llm"
	"brokerflow/api/internal/lock"
	"brokerflow/api/internal/logger"
	"brokerflow/api/internal/metrics"
	"brokerflow/api/internal/rbac"
	"brokerflow/api/internal/search"
	"brokerflow/api/internal/store"
	"brokerflow/api/internal/util"
)

// Session is the authenticated caller. Every query runs against Session.TenantID.
type Session struct {
	UserID    string
	TenantID  string
	Role      string
	ExpiresAt time.Time
}

type DataStore interface {
	Ping(context.Context) error
	GetTenant(context.Context, string) (store.Tenant, error)
	ListActiveTenants(context.Context) ([]store.Tenant, error)
	InsertAuditLog(context.Context, store.AuditLog) error
	GetActiveInboundAlias(context.Context, string) (store.InboundAlias, error)
	InsertEmailLog(context.Context, store.EmailLog) error

	InsertAssignment(context.Context, store.Assignment) error
	GetAssignment(context.Context, string, string) (store.Assignment, error)
	ListAssignments(context.Context, string, store.AssignmentFilter) ([]store.Assignment, error)
	UpdateAssignmentStatus(context.Context, string, string, string) error
	UpdateConfirmedPropertyData(context.Context, string, string, map[string]any) error
	SoftDeleteAssignment(context.Context, string, string) error

	InsertDocument(context.Context, store.Document) error
	GetDocument(context.Context, string, string) (store.Document, error)
	ListDocuments(context.Context, string, string) ([]store.Document, error)
	UpdateDocumentProcessing(context.Context, string, string, *string) error
	UpdateDocumentClassification(context.Context, string, string, float64) error
	SoftDeleteDocument(context.Context, string, string) error

	SupersedeCompletedExtractions(context.Context, string) (int64, error)
	InsertExtraction(context.Context, store.Extraction) error
	ListCompletedExtractions(context.Context, string, string) ([]store.Extraction, error)

	InsertGeneration(context.Context, store.Generation) error
	GetGeneration(context.Context, string, string) (store.Generation, error)
	ListGenerations(context.Context, string, string) ([]store.Generation, error)
	ApproveGeneration(context.Context, string, string, string, time.Time) error
	UpdateGenerationEditedText(context.Context, string, string, string) error

	InsertTasks(context.Context, []store.Task) error
	ListTasks(context.Context, string, string) ([]store.Task, error)
	UpdateTask(context.Context, string, string, store.TaskPatch) (store.Task, error)
	ListReminderCandidates(context.Context, time.Time, time.Time) ([]store.ReminderCandidate, error)

	GetCurrentTransaction(context.Context, string, string) (store.Transaction, error)
	InsertTransaction(context.Context, store.Transaction) error
	UpdateTransaction(context.Context, store.Transaction) error
	UpdateTransactionStatus(context.Context, string, string, string) error

	DeleteExpiredDocuments(context.Context, string, time.Time) ([]string, error)
	DeleteExpiredExtractions(context.Context, string, time.Time) (int, error)
	DeleteExpiredGenerations(context.Context, string, time.Time) (int, error)
	PurgeTenantData(context.Context, string) ([]string, error)
}

type BlobStore interface {
	Upload(ctx context.Context, objectPath string, data []byte, contentType string) error
	Download(ctx context.Context, objectPath string) ([]byte, error)
	Remove(ctx context.Context, paths []string) (int, error)
	SignedURL(ctx context.Context, objectPath string, expiry time.Duration) (string, error)
}

// Locker guards one extraction per document. Optional.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (*lock.Lease, error)
	Ping(ctx context.Context) error
}

type Searcher interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexAssignment(record search.AssignmentRecord)
	DeleteAssignment(id string)
}

type Mailer interface {
	IsConfigured() bool
	SendTaskReminder(data email.ReminderData) (string, error)
}

type Exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

// Deps are the collaborators of a Service. Locker, Mailer and Exporter may be nil.
type Deps struct {
	Store    DataStore
	LLM      llm.Provider
	Blobs    BlobStore
	Locker   Locker
	Search   Searcher
	Mailer   Mailer
	Exporter Exporter
	Logger   *logger.Logger
}

type Service struct {
	cfg      config.Config
	store    DataStore
	llm      llm.Provider
	blobs    BlobStore
	locker   Locker
	search   Searcher
	mailer   Mailer
	exporter Exporter
	log      *logger.Logger
	now      func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		cfg:      cfg,
		store:    deps.Store,
		llm:      deps.LLM,
		blobs:    deps.Blobs,
		locker:   deps.Locker,
		search:   deps.Search,
		mailer:   deps.Mailer,
		exporter: deps.Exporter,
		log:      log,
		now:      time.Now,
	}
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.AuthSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		UserID:    claims.Sub,
		TenantID:  claims.Tenant,
		Role:      string(rbac.Normalize(claims.Role)),
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// CronAuthorized reports whether a presented bearer matches CRON_SECRET.
func (s *Service) CronAuthorized(presented string) bool {
	return auth.SecretMatches(s.cfg.CronSecret, presented)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingLocker returns false when no Redis lock is configured.
func (s *Service) PingLocker(ctx context.Context) (bool, error) {
	if s.locker == nil {
		return false, nil
	}
	return true, s.locker.Ping(ctx)
}

// audit appends a log row. Failures are logged and counted, never returned.
func (s *Service) audit(ctx context.Context, tenantID, actorID, action, entityType, entityID string, metadata map[string]any) {
	entry := store.AuditLog{
		ID:          util.NewID("audit"),
		TenantID:    tenantID,
		ActorUserID: optionalString(actorID),
		Action:      action,
		EntityType:  entityType,
		EntityID:    optionalString(entityID),
		Metadata:    metadata,
	}
	if err := s.store.InsertAuditLog(context.WithoutCancel(ctx), entry); err != nil {
		metrics.AuditWriteFailures.Inc()
		s.log.Error("audit write failed", "action", action, "tenant_id", tenantID, "entity_id", entityID, "error", err)
	}
}

// llmContext bounds a model call by LLM_TIMEOUT_SECONDS.
func (s *Service) llmContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.LLMTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.LLMTimeout)
}

func (s *Service) today() time.Time {
	now := s.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
