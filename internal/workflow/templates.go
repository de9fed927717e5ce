// Package workflow holds the task templates that fire when an assignment changes status.
package workflow

import (
	"sort"
	"time"

	"brokerflow/api/internal/store"
	"brokerflow/api/internal/util"
)

// TemplateVersion changes whenever the template table below changes.
const TemplateVersion = "1.1.0"

const (
	CategoryDocs        = "docs"
	CategoryMarketing   = "marketing"
	CategoryTransaction = "transaction"
	CategoryClosing     = "closing"
)

type Template struct {
	Title         string
	Description   string
	Category      string
	SortOrder     int
	DueDaysOffset *int
}

func days(n int) *int { return &n }

var templates = map[string][]Template{
	store.AssignmentActive: {
		{Title: "Beställ mäklarbild från BRF", Description: "Kontakta föreningen och beställ mäklarbild.", Category: CategoryDocs, SortOrder: 1, DueDaysOffset: days(2)},
		{Title: "Beställ fotografering", Description: "Boka fotograf för objektet.", Category: CategoryMarketing, SortOrder: 2, DueDaysOffset: days(5)},
		{Title: "Skapa annonstext", Description: "Generera och granska annonstext.", Category: CategoryMarketing, SortOrder: 3, DueDaysOffset: days(7)},
		{Title: "Publicera annons", Description: "Publicera annonsen på Hemnet och egen webbplats.", Category: CategoryMarketing, SortOrder: 4, DueDaysOffset: days(10)},
		{Title: "Beställ energideklaration", Description: "Kontrollera om giltig energideklaration finns.", Category: CategoryDocs, SortOrder: 5},
	},
	store.AssignmentUnderContract: {
		{Title: "Ladda upp köpekontrakt", Description: "Ladda upp det signerade köpekontraktet.", Category: CategoryTransaction, SortOrder: 1, DueDaysOffset: days(1)},
		{Title: "Skicka BRF-ansökan till förening", Description: "Skicka medlemskapsansökan för köparen.", Category: CategoryTransaction, SortOrder: 2, DueDaysOffset: days(3)},
		{Title: "Boka tillträde", Description: "Bekräfta datum och tid för tillträde med parterna.", Category: CategoryTransaction, SortOrder: 3, DueDaysOffset: days(14)},
		{Title: "Förbered likvidavräkning", Description: "Ta fram utkast till likvidavräkning.", Category: CategoryTransaction, SortOrder: 4, DueDaysOffset: days(21)},
		{Title: "Bekräfta handpenning mottagen", Description: "Kontrollera att handpenningen har betalats in.", Category: CategoryTransaction, SortOrder: 5, DueDaysOffset: days(10)},
	},
	store.AssignmentClosed: {
		{Title: "Arkivera dokument", Description: "Säkerställ att alla dokument är arkiverade.", Category: CategoryClosing, SortOrder: 1, DueDaysOffset: days(7)},
		{Title: "Skicka feedback-förfrågan till säljare", Description: "Be säljaren om omdöme.", Category: CategoryClosing, SortOrder: 2, DueDaysOffset: days(3)},
		{Title: "Granska retention-policy", Description: "Kontrollera gallringstider för objektets data.", Category: CategoryClosing, SortOrder: 3, DueDaysOffset: days(30)},
	},
}

// IsKnownStatus reports whether status is a valid assignment status.
func IsKnownStatus(status string) bool {
	switch status {
	case store.AssignmentDraft, store.AssignmentActive, store.AssignmentUnderContract, store.AssignmentClosed:
		return true
	default:
		return false
	}
}

// TemplatesFor returns a sorted copy of the templates for status, or nil.
func TemplatesFor(status string) []Template {
	source := templates[status]
	if len(source) == 0 {
		return nil
	}
	out := make([]Template, len(source))
	copy(out, source)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out
}

// BuildTasks expands the templates for status into unsaved task rows due relative to today.
func BuildTasks(status, assignmentID, tenantID string, today time.Time) []store.Task {
	list := TemplatesFor(status)
	if len(list) == 0 {
		return nil
	}

	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	trigger := status
	tasks := make([]store.Task, 0, len(list))
	for _, tpl := range list {
		task := store.Task{
			ID:              util.NewID("task"),
			TenantID:        tenantID,
			AssignmentID:    assignmentID,
			Title:           tpl.Title,
			Category:        tpl.Category,
			Status:          store.TaskTodo,
			SortOrder:       tpl.SortOrder,
			IsAutoGenerated: true,
			TriggerStatus:   &trigger,
		}
		if tpl.Description != "" {
			description := tpl.Description
			task.Description = &description
		}
		if tpl.DueDaysOffset != nil {
			due := day.AddDate(0, 0, *tpl.DueDaysOffset)
			task.DueDate = &due
		}
		tasks = append(tasks, task)
	}
	return tasks
}
