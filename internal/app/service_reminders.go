package app

import (
	"context"
	"fmt"
	"strings"

	"brokerflow/api/internal/email"
	"brokerflow/api/internal/store"
	"brokerflow/api/internal/util"
)

const (
	reminderWindowDays   = 3
	reminderTemplateName = "task_reminder"
)

type ReminderReport struct {
	Sent       int      `json:"sent"`
	TotalTasks int      `json:"total_tasks"`
	Skipped    bool     `json:"skipped,omitempty"`
	Errors     []string `json:"errors,omitempty"`
}

// SendTaskReminders mails the assignee of every open task due within three days.
// Failed sends are collected; they never stop the pass.
func (s *Service) SendTaskReminders(ctx context.Context) (ReminderReport, error) {
	if s.mailer == nil || !s.mailer.IsConfigured() {
		s.log.Warn("smtp not configured, skipping task reminders")
		return ReminderReport{Skipped: true}, nil
	}

	today := s.today()
	candidates, err := s.store.ListReminderCandidates(ctx, today, today.AddDate(0, 0, reminderWindowDays))
	if err != nil {
		return ReminderReport{}, err
	}

	report := ReminderReport{TotalTasks: len(candidates)}
	for _, candidate := range candidates {
		if err := s.sendReminder(ctx, candidate); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("Task %s: %v", candidate.Task.ID, err))
			continue
		}
		report.Sent++
	}
	s.log.Info("task reminders", "sent", report.Sent, "total", report.TotalTasks, "failed", len(report.Errors))
	return report, nil
}

func (s *Service) sendReminder(ctx context.Context, candidate store.ReminderCandidate) error {
	task := candidate.Task
	dueDate := ""
	if task.DueDate != nil {
		dueDate = task.DueDate.Format("2006-01-02")
	}
	subject, err := s.mailer.SendTaskReminder(email.ReminderData{
		To:                candidate.RecipientEmail,
		RecipientName:     candidate.RecipientName,
		TaskTitle:         task.Title,
		DueDate:           dueDate,
		AssignmentAddress: candidate.AssignmentAddress + ", " + candidate.AssignmentCity,
		AssignmentURL:     strings.TrimRight(s.cfg.AppURL, "/") + "/assignments/" + task.AssignmentID,
	})
	if err != nil {
		return err
	}

	entry := store.EmailLog{
		ID:             util.NewID("mail"),
		TenantID:       task.TenantID,
		AssignmentID:   optionalString(task.AssignmentID),
		RecipientEmail: candidate.RecipientEmail,
		RecipientName:  candidate.RecipientName,
		Subject:        subject,
		TemplateName:   reminderTemplateName,
		Status:         "sent",
		SentAt:         s.now().UTC(),
	}
	if err := s.store.InsertEmailLog(ctx, entry); err != nil {
		s.log.Warn("record email log", "task_id", task.ID, "error", err)
	}
	s.audit(ctx, task.TenantID, "", "email.sent", "task", task.ID, map[string]any{
		"type":       reminderTemplateName,
		"recipient":  candidate.RecipientEmail,
		"task_title": task.Title,
		"due_date":   dueDate,
	})
	return nil
}
