package claim

import (
	"fmt"
	"strings"
)

// Actor описывает субъект проверки прав: стабильный идентификатор,
// группы и транзиентный режим «игнорировать заявки».
type Actor struct {
	ID     string
	Groups []string
	// IgnoreClaims — явный административный режим, включаемый командой;
	// сбрасывается при переподключении.
	IgnoreClaims bool
}

// WorldMode определяет политику мира для позиций вне заявок.
type WorldMode int

const (
	// ModeSurvival — строительство вне заявок разрешено.
	ModeSurvival WorldMode = iota
	// ModeCreative — вне заявок запрещено всё, кроме bootstrap-исключения.
	ModeCreative
	// ModeSurvivalRequiringClaims — вне заявок запрещено без исключений.
	ModeSurvivalRequiringClaims
)

// ParseWorldMode разбирает режим мира из конфигурации
func ParseWorldMode(s string) WorldMode {
	switch strings.ToLower(s) {
	case "creative":
		return ModeCreative
	case "survival_requiring_claims":
		return ModeSurvivalRequiringClaims
	default:
		return ModeSurvival
	}
}

// PermissionResolver принимает решения о допуске действий.
// Правила (баны, обходной список) приходят из конфигурации и
// принадлежат вызывающему; резолвер их не мутирует.
type PermissionResolver struct {
	// bannedActions: ключ действия (нижний регистр) -> причина отказа.
	// Сопоставление по подстроке, как в конфигурации банов исходной системы.
	bannedActions map[string]string
	// alwaysIgnore — идентификаторы, для которых заявки всегда прозрачны.
	alwaysIgnore map[string]struct{}
}

// NewPermissionResolver создаёт резолвер с копиями правил
func NewPermissionResolver(bannedActions map[string]string, alwaysIgnore []string) *PermissionResolver {
	r := &PermissionResolver{
		bannedActions: make(map[string]string, len(bannedActions)),
		alwaysIgnore:  make(map[string]struct{}, len(alwaysIgnore)),
	}
	for key, reason := range bannedActions {
		r.bannedActions[strings.ToLower(key)] = reason
	}
	for _, id := range alwaysIgnore {
		r.alwaysIgnore[id] = struct{}{}
	}
	return r
}

// banReason возвращает причину запрета действия или "" если запрета нет.
// Ключи сравниваются по подстроке без учёта регистра.
func (r *PermissionResolver) banReason(action Action) string {
	key := strings.ToLower(string(action))
	for banned, reason := range r.bannedActions {
		if strings.Contains(key, banned) {
			return reason
		}
	}
	return ""
}

// entriesFor собирает записи доверия, под которые подходит актор:
// его идентификатор, группы и публичная запись.
func entriesFor(actor Actor) []string {
	entries := make([]string, 0, len(actor.Groups)+2)
	entries = append(entries, actor.ID)
	for _, g := range actor.Groups {
		entries = append(entries, GroupEntry(g))
	}
	entries = append(entries, PublicEntry)
	return entries
}

// Resolve решает, может ли актор выполнить действие внутри заявки.
// Возвращает nil при разрешении либо *DeniedError с причиной.
//
// Порядок проверок фиксирован, первый сработавший выигрывает:
//  1. административный обход / режим игнорирования заявок;
//  2. владелец заявки (включая подразделы);
//  3. сконфигурированный запрет действия — перекрывает любое доверие;
//  4. записи доверия требуемого уровня или выше (с наследованием от родителя);
//  5. отказ с указанием минимально недостающего уровня.
func (r *PermissionResolver) Resolve(c *Claim, actor Actor, action Action) error {
	if actor.IgnoreClaims {
		return nil
	}
	if _, ok := r.alwaysIgnore[actor.ID]; ok {
		return nil
	}

	if owner := c.OwnerID(); owner != "" && owner == actor.ID {
		return nil
	}

	if reason := r.banReason(action); reason != "" {
		return &DeniedError{Reason: reason, Banned: true}
	}

	required := action.RequiredTrust()
	if c.trustedAt(required, entriesFor(actor)) {
		return nil
	}

	return &DeniedError{
		Reason:       fmt.Sprintf("нет прав: требуется уровень доверия «%s»", required),
		MissingTrust: &required,
	}
}

// ResolveWilderness решает судьбу действия вне любых заявок.
// bootstrap истинно для исключения «новый игрок ставит стартовый блок заявки».
func (r *PermissionResolver) ResolveWilderness(mode WorldMode, actor Actor, bootstrap bool) error {
	if actor.IgnoreClaims {
		return nil
	}
	if _, ok := r.alwaysIgnore[actor.ID]; ok {
		return nil
	}

	switch mode {
	case ModeSurvival:
		return nil
	case ModeCreative:
		if bootstrap {
			return nil
		}
		return &DeniedError{Reason: "строительство вне заявок запрещено в этом мире"}
	case ModeSurvivalRequiringClaims:
		return &DeniedError{Reason: "в этом мире действия разрешены только внутри заявок"}
	default:
		return nil
	}
}
