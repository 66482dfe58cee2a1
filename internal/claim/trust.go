package claim

import (
	"fmt"
	"strings"
)

// TrustLevel определяет уровень доверия внутри заявки.
// Уровни строго упорядочены: более высокий уровень включает права всех нижних.
type TrustLevel int

const (
	// TrustAccess разрешает использование (двери, кнопки, кровати).
	TrustAccess TrustLevel = iota
	// TrustContainer добавляет доступ к инвентарям (сундуки, печи).
	TrustContainer
	// TrustBuild добавляет установку и разрушение блоков.
	TrustBuild
	// TrustManage добавляет выдачу доверия другим; не участвует в передаче владения.
	TrustManage
)

// String возвращает строковое представление уровня доверия
func (t TrustLevel) String() string {
	switch t {
	case TrustAccess:
		return "access"
	case TrustContainer:
		return "container"
	case TrustBuild:
		return "build"
	case TrustManage:
		return "manage"
	default:
		return "unknown"
	}
}

// Covers сообщает, покрывает ли уровень t требуемый уровень required
func (t TrustLevel) Covers(required TrustLevel) bool {
	return t >= required
}

// AllTrustLevels перечисляет уровни от младшего к старшему
var AllTrustLevels = []TrustLevel{TrustAccess, TrustContainer, TrustBuild, TrustManage}

// PublicEntry — специальная запись в списке доверия, означающая «все игроки».
const PublicEntry = "public"

// IsGroupEntry сообщает, является ли запись списка доверия групповой.
// Групповые записи имеют вид "[groupname]".
func IsGroupEntry(entry string) bool {
	return len(entry) > 2 && entry[0] == '[' && entry[len(entry)-1] == ']'
}

// GroupEntry формирует групповую запись для списка доверия
func GroupEntry(group string) string {
	return "[" + group + "]"
}

// Action определяет защищаемое действие внутри заявки.
type Action string

const (
	ActionBuild     Action = "build"
	ActionBreak     Action = "break"
	ActionContainer Action = "container"
	ActionAccess    Action = "access"
	ActionManage    Action = "manage"
)

// ParseTrustLevel разбирает уровень доверия из строки
func ParseTrustLevel(s string) (TrustLevel, error) {
	switch strings.ToLower(s) {
	case "access":
		return TrustAccess, nil
	case "container":
		return TrustContainer, nil
	case "build":
		return TrustBuild, nil
	case "manage":
		return TrustManage, nil
	default:
		return TrustAccess, fmt.Errorf("неизвестный уровень доверия %q", s)
	}
}

// ParseAction разбирает действие из строки
func ParseAction(s string) (Action, error) {
	switch Action(strings.ToLower(s)) {
	case ActionBuild, ActionBreak, ActionContainer, ActionAccess, ActionManage:
		return Action(strings.ToLower(s)), nil
	default:
		return "", fmt.Errorf("неизвестное действие %q", s)
	}
}

// RequiredTrust возвращает минимальный уровень доверия для действия
func (a Action) RequiredTrust() TrustLevel {
	switch a {
	case ActionBuild, ActionBreak:
		return TrustBuild
	case ActionContainer:
		return TrustContainer
	case ActionManage:
		return TrustManage
	default:
		return TrustAccess
	}
}
