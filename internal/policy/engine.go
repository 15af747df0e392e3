package policy

import (
	"fmt"

	"github.com/tourbase/tourbase/internal/domain"
)

// Decision — результат проверки (role, action). Без побочных эффектов:
// движок можно дергать спекулятивно (preview прав в UI), аудит не трогается.
type Decision struct {
	Allowed               bool   `json:"allowed"`
	RequiresOwnerApproval bool   `json:"requires_owner_approval"`
	Reason                string `json:"reason,omitempty"`
}

// Rule — статическая запись таблицы политик: какие роли допущены к действию
// и является ли действие high-risk (эскалация до OWNER-подтверждения).
type Rule struct {
	Action   domain.ActionName
	Roles    []domain.Role
	HighRisk bool
}

type compiledRule struct {
	roles    map[domain.Role]struct{}
	highRisk bool
}

// Engine — иммутабельная таблица политик. Собирается один раз на старте
// процесса и передается по ссылке; никакого скрытого мутабельного глобала.
type Engine struct {
	rules map[domain.ActionName]compiledRule
}

func NewEngine(rules []Rule) *Engine {
	compiled := make(map[domain.ActionName]compiledRule, len(rules))
	for _, r := range rules {
		cr := compiledRule{roles: make(map[domain.Role]struct{}, len(r.Roles)), highRisk: r.HighRisk}
		for _, role := range r.Roles {
			cr.roles[role] = struct{}{}
		}
		compiled[r.Action] = cr
	}
	return &Engine{rules: compiled}
}

// Check — детерминированный lookup. Неизвестное действие — Default Deny
// (Zero Trust). OWNER допущен ко всему и никогда не требует approval.
// High-risk действие для любой другой роли возвращает RequiresOwnerApproval,
// даже если роль есть в allow-list.
func (e *Engine) Check(role domain.Role, action domain.ActionName) Decision {
	rule, ok := e.rules[action]
	if !ok {
		return Decision{Reason: fmt.Sprintf("unknown action %s", action)}
	}

	if role == domain.RoleOwner {
		return Decision{Allowed: true}
	}

	if _, ok := rule.roles[role]; !ok {
		return Decision{Reason: fmt.Sprintf("role %s is not allowed to perform %s", role, action)}
	}

	if rule.highRisk {
		return Decision{
			Allowed:               true,
			RequiresOwnerApproval: true,
			Reason:                fmt.Sprintf("%s is a high-risk action and requires owner approval", action),
		}
	}

	return Decision{Allowed: true}
}

// Actions возвращает список известных действий (для health/debug ручек).
func (e *Engine) Actions() []domain.ActionName {
	out := make([]domain.ActionName, 0, len(e.rules))
	for a := range e.rules {
		out = append(out, a)
	}
	return out
}
