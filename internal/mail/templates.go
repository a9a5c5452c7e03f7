package mail

import (
	"bytes"
	"fmt"
	"html/template"

	"meshreg/internal/models"
)

// Шаблоны писем. Ключи data: nickname, hostname, mac, site, domain,
// last_seen, confirm_url, disable_url (в зависимости от типа).
var mailTemplates = map[models.MailType]struct {
	subject string
	body    string
}{
	models.MailMonitoringConfirmation: {
		subject: "Мониторинг узла {{.hostname}}: подтвердите адрес",
		body: `<p>Привет, {{.nickname}}!</p>
<p>Для узла <b>{{.hostname}}</b> ({{.mac}}) включён мониторинг.
Подтвердите, что этот адрес принадлежит вам:</p>
<p><a href="{{.confirm_url}}">{{.confirm_url}}</a></p>
<p>Если вы мониторинг не включали — отключите его:
<a href="{{.disable_url}}">{{.disable_url}}</a></p>`,
	},
	models.MailMonitoringOffline1: {
		subject: "Узел {{.hostname}} не в сети",
		body: `<p>Привет, {{.nickname}}!</p>
<p>Ваш узел <b>{{.hostname}}</b> ({{.mac}}) не появляется в сети
с {{.last_seen}}. Проверьте питание и связь.</p>
<p>Отключить уведомления: <a href="{{.disable_url}}">{{.disable_url}}</a></p>`,
	},
	models.MailMonitoringOffline2: {
		subject: "Узел {{.hostname}} всё ещё не в сети",
		body: `<p>Привет, {{.nickname}}!</p>
<p>Узел <b>{{.hostname}}</b> ({{.mac}}) оффлайн уже больше суток
(последний раз в сети {{.last_seen}}).</p>
<p>Отключить уведомления: <a href="{{.disable_url}}">{{.disable_url}}</a></p>`,
	},
	models.MailMonitoringOffline3: {
		subject: "Узел {{.hostname}} не в сети уже неделю",
		body: `<p>Привет, {{.nickname}}!</p>
<p>Узел <b>{{.hostname}}</b> ({{.mac}}) оффлайн больше недели
(последний раз в сети {{.last_seen}}). Узлы, не выходящие в сеть
слишком долго, удаляются из реестра автоматически.</p>
<p>Отключить уведомления: <a href="{{.disable_url}}">{{.disable_url}}</a></p>`,
	},
	models.MailMonitoringOnlineAgain: {
		subject: "Узел {{.hostname}} снова в сети",
		body: `<p>Привет, {{.nickname}}!</p>
<p>Узел <b>{{.hostname}}</b> ({{.mac}}) снова в сети. Хороших пакетов!</p>`,
	},
}

// TemplateRenderer — рендер писем на html/template; шаблоны парсятся
// один раз при старте.
type TemplateRenderer struct {
	subjects map[models.MailType]*template.Template
	bodies   map[models.MailType]*template.Template
}

func NewTemplateRenderer() (*TemplateRenderer, error) {
	r := &TemplateRenderer{
		subjects: make(map[models.MailType]*template.Template, len(mailTemplates)),
		bodies:   make(map[models.MailType]*template.Template, len(mailTemplates)),
	}
	for t, src := range mailTemplates {
		subj, err := template.New(string(t) + "-subject").Parse(src.subject)
		if err != nil {
			return nil, fmt.Errorf("template %s subject: %w", t, err)
		}
		body, err := template.New(string(t)).Parse(src.body)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", t, err)
		}
		r.subjects[t] = subj
		r.bodies[t] = body
	}
	return r, nil
}

func (r *TemplateRenderer) Render(t models.MailType, data map[string]any) (string, string, error) {
	subjTpl, ok := r.subjects[t]
	if !ok {
		return "", "", fmt.Errorf("unknown mail type %q", t)
	}
	var subj, body bytes.Buffer
	if err := subjTpl.Execute(&subj, data); err != nil {
		return "", "", err
	}
	if err := r.bodies[t].Execute(&body, data); err != nil {
		return "", "", err
	}
	return subj.String(), body.String(), nil
}
