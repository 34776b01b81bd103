package main

import (
	"fmt"
	"html/template"
	"path/filepath"

	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/domain"
	"github.com/wneessen/go-mail"
)

type mailTemplate struct {
	file    string
	subject string
}

var mailTemplates = map[domain.MailType]mailTemplate{
	domain.MailTypeShiftAssigned: {
		file:    "shift_assigned_email.html",
		subject: "ECNC 排班系统 - 班次分配通知",
	},
	domain.MailTypeShiftAssignmentUpdated: {
		file:    "shift_assignment_updated_email.html",
		subject: "ECNC 排班系统 - 排班更新",
	},
	domain.MailTypeShiftReassigned: {
		file:    "shift_reassigned_email.html",
		subject: "ECNC 排班系统 - 班次调整通知",
	},
}

// buildMail 根据邮件类型选择模板并渲染正文
func buildMail(dir, from string, message *domain.MailMessage) (*mail.Msg, error) {
	t, ok := mailTemplates[message.Type]
	if !ok {
		return nil, fmt.Errorf("不支持的邮件类型: %s", message.Type)
	}

	m := mail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("无法设置邮件发件人: %w", err)
	}
	if err := m.To(message.To); err != nil {
		return nil, fmt.Errorf("无法设置邮件收件人: %w", err)
	}

	tmpl, err := template.ParseFiles(filepath.Join(dir, t.file))
	if err != nil {
		return nil, fmt.Errorf("无法解析邮件模板: %w", err)
	}
	if err := m.SetBodyHTMLTemplate(tmpl, message.Data); err != nil {
		return nil, fmt.Errorf("无法设置邮件正文: %w", err)
	}
	m.Subject(t.subject)

	return m, nil
}
