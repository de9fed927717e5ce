package store

import "time"

const (
	AssignmentDraft         = "draft"
	AssignmentActive        = "active"
	AssignmentUnderContract = "under_contract"
	AssignmentClosed        = "closed"
)

const (
	ProcessingUploaded  = "uploaded"
	ProcessingRunning   = "processing"
	ProcessingExtracted = "extracted"
	ProcessingError     = "error"
)

const (
	ExtractionProcessing = "processing"
	ExtractionCompleted  = "completed"
	ExtractionFailed     = "failed"
	ExtractionSuperseded = "superseded"
)

const (
	TaskTodo       = "todo"
	TaskInProgress = "in_progress"
	TaskDone       = "done"
	TaskSkipped    = "skipped"
)

const (
	TransactionPending         = "pending"
	TransactionContractSigned  = "contract_signed"
	TransactionDepositPaid     = "deposit_paid"
	TransactionBRFApproved     = "brf_approved"
	TransactionAccessScheduled = "access_scheduled"
	TransactionCompleted       = "completed"
)

const (
	SourceUpload = "upload"
	SourceEmail  = "email"
)

type Tenant struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	RetentionRawDays     int        `json:"retention_raw_days"`
	RetentionDerivedDays int        `json:"retention_derived_days"`
	CreatedAt            time.Time  `json:"created_at"`
	DeletedAt            *time.Time `json:"deleted_at,omitempty"`
}

type User struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

type Assignment struct {
	ID                    string         `json:"id"`
	TenantID              string         `json:"tenant_id"`
	CreatedBy             string         `json:"created_by"`
	AssignedTo            *string        `json:"assigned_to"`
	Status                string         `json:"status"`
	Address               string         `json:"address"`
	City                  string         `json:"city"`
	PostalCode            *string        `json:"postal_code"`
	PropertyType          string         `json:"property_type"`
	Rooms                 *float64       `json:"rooms"`
	LivingAreaSqm         *float64       `json:"living_area_sqm"`
	Floor                 *int           `json:"floor"`
	TotalFloors           *int           `json:"total_floors"`
	BuildYear             *int           `json:"build_year"`
	MonthlyFee            *float64       `json:"monthly_fee"`
	AskingPrice           *float64       `json:"asking_price"`
	SellerName            *string        `json:"seller_name"`
	SellerEmail           *string        `json:"seller_email"`
	SellerPhone           *string        `json:"seller_phone"`
	AssociationName       *string        `json:"association_name"`
	AssociationOrgNumber  *string        `json:"association_org_number"`
	ConfirmedPropertyData map[string]any `json:"confirmed_property_data"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
	DeletedAt             *time.Time     `json:"deleted_at,omitempty"`
}

type Document struct {
	ID                 string     `json:"id"`
	TenantID           string     `json:"tenant_id"`
	AssignmentID       *string    `json:"assignment_id"`
	Filename           string     `json:"filename"`
	StoragePath        string     `json:"storage_path"`
	FileSizeBytes      int64      `json:"file_size_bytes"`
	MimeType           string     `json:"mime_type"`
	DocType            string     `json:"doc_type"`
	DocTypeConfidence  *float64   `json:"doc_type_confidence"`
	ProcessingStatus   string     `json:"processing_status"`
	ProcessingError    *string    `json:"processing_error"`
	Source             string     `json:"source"`
	SourceEmailFrom    *string    `json:"source_email_from"`
	SourceEmailSubject *string    `json:"source_email_subject"`
	UploadedBy         *string    `json:"uploaded_by"`
	CreatedAt          time.Time  `json:"created_at"`
	DeletedAt          *time.Time `json:"deleted_at,omitempty"`
}

type Extraction struct {
	ID               string         `json:"id"`
	TenantID         string         `json:"tenant_id"`
	AssignmentID     string         `json:"assignment_id"`
	DocumentID       string         `json:"document_id"`
	SchemaVersion    string         `json:"schema_version"`
	LLMProvider      string         `json:"llm_provider"`
	LLMModel         string         `json:"llm_model"`
	PromptVersion    string         `json:"prompt_version"`
	ExtractedJSON    map[string]any `json:"extracted_json"`
	ConfidenceJSON   map[string]any `json:"confidence_json"`
	SourceReferences map[string]any `json:"source_references"`
	Status           string         `json:"status"`
	ProcessingTimeMS int64          `json:"processing_time_ms"`
	TokenCount       int            `json:"token_count"`
	CreatedAt        time.Time      `json:"created_at"`
}

type Generation struct {
	ID                string         `json:"id"`
	TenantID          string         `json:"tenant_id"`
	AssignmentID      string         `json:"assignment_id"`
	Type              string         `json:"type"`
	PromptVersion     string         `json:"prompt_version"`
	LLMProvider       string         `json:"llm_provider"`
	LLMModel          string         `json:"llm_model"`
	OutputText        string         `json:"output_text"`
	OutputMetadata    map[string]any `json:"output_metadata"`
	EditedText        *string        `json:"edited_text"`
	Tone              string         `json:"tone"`
	InputDataSnapshot map[string]any `json:"input_data_snapshot"`
	TokenCount        int            `json:"token_count"`
	IsApproved        bool           `json:"is_approved"`
	ApprovedBy        *string        `json:"approved_by"`
	ApprovedAt        *time.Time     `json:"approved_at"`
	CreatedBy         *string        `json:"created_by"`
	CreatedAt         time.Time      `json:"created_at"`
}

// DisplayText prefers the human edit over the model output.
func (g Generation) DisplayText() string {
	if g.EditedText != nil && *g.EditedText != "" {
		return *g.EditedText
	}
	return g.OutputText
}

type Task struct {
	ID              string     `json:"id"`
	TenantID        string     `json:"tenant_id"`
	AssignmentID    string     `json:"assignment_id"`
	Title           string     `json:"title"`
	Description     *string    `json:"description"`
	Category        string     `json:"category"`
	Status          string     `json:"status"`
	AssignedTo      *string    `json:"assigned_to"`
	DueDate         *time.Time `json:"due_date"`
	SortOrder       int        `json:"sort_order"`
	IsAutoGenerated bool       `json:"is_auto_generated"`
	TriggerStatus   *string    `json:"trigger_status"`
	CreatedAt       time.Time  `json:"created_at"`
}

type Transaction struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	AssignmentID   string     `json:"assignment_id"`
	BuyerName      *string    `json:"buyer_name"`
	BuyerEmail     *string    `json:"buyer_email"`
	BuyerPhone     *string    `json:"buyer_phone"`
	SellerName     *string    `json:"seller_name"`
	SellerEmail    *string    `json:"seller_email"`
	SalePrice      *float64   `json:"sale_price"`
	DepositAmount  *float64   `json:"deposit_amount"`
	DepositDueDate *string    `json:"deposit_due_date"`
	ContractDate   *string    `json:"contract_date"`
	AccessDate     *string    `json:"access_date"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

type AuditLog struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	ActorUserID *string        `json:"actor_user_id"`
	Action      string         `json:"action"`
	EntityType  string         `json:"entity_type"`
	EntityID    *string        `json:"entity_id"`
	Metadata    map[string]any `json:"metadata_json"`
	CreatedAt   time.Time      `json:"created_at"`
}

type InboundAlias struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenant_id"`
	EmailAlias string `json:"email_alias"`
	IsActive   bool   `json:"is_active"`
}

type EmailLog struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	AssignmentID   *string   `json:"assignment_id"`
	RecipientEmail string    `json:"recipient_email"`
	RecipientName  string    `json:"recipient_name"`
	Subject        string    `json:"subject"`
	TemplateName   string    `json:"template_name"`
	Status         string    `json:"status"`
	SentAt         time.Time `json:"sent_at"`
}

// ReminderCandidate joins a due task with its assignee and assignment.
type ReminderCandidate struct {
	Task              Task
	RecipientEmail    string
	RecipientName     string
	AssignmentAddress string
	AssignmentCity    string
}

// AssignmentFilter narrows ListAssignments.
type AssignmentFilter struct {
	Status string
	Query  string
	Limit  int
}

// RetentionResult counts rows removed for one tenant.
type RetentionResult struct {
	Documents    int `json:"documents"`
	Extractions  int `json:"extractions"`
	Generations  int `json:"generations"`
	StorageFiles int `json:"storage_files"`
}

func (r RetentionResult) Total() int {
	return r.Documents + r.Extractions + r.Generations
}
