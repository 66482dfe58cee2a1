package claim

import (
	"errors"
	"fmt"
)

// Нарушения инвариантов возвращаются вызывающему как типизированные ошибки;
// частичная мутация при этом не применяется.

// ErrClaimNotFound возвращается при поиске несуществующей заявки.
var ErrClaimNotFound = errors.New("заявка не найдена")

// ErrNoTransferSubdivision: передача владения возможна только для заявок верхнего уровня.
var ErrNoTransferSubdivision = errors.New("нельзя передать владение подразделом: передайте родительскую заявку")

// ErrSubdivisionDepth: подразделы не могут иметь собственных подразделов.
var ErrSubdivisionDepth = errors.New("подраздел не может содержать собственные подразделы")

// OverlapError означает, что новая геометрия пересекает существующую заявку верхнего уровня.
type OverlapError struct {
	ClaimID int64
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("пересекается с заявкой #%d", e.ClaimID)
}

// EscapeError означает, что подраздел выходит за границы родительской заявки.
type EscapeError struct {
	ParentID int64
}

func (e *EscapeError) Error() string {
	return fmt.Sprintf("подраздел выходит за границы родительской заявки #%d", e.ParentID)
}

// HasChildrenError означает попытку удалить родителя с живыми подразделами без каскада.
type HasChildrenError struct {
	ClaimID  int64
	Children int
}

func (e *HasChildrenError) Error() string {
	return fmt.Sprintf("заявка #%d содержит %d подразделов: удаление требует явного каскада", e.ClaimID, e.Children)
}

// DeniedError несёт человекочитаемую причину отказа в действии.
type DeniedError struct {
	Reason string
	// MissingTrust заполняется, когда отказ вызван нехваткой уровня доверия.
	MissingTrust *TrustLevel
	// Banned истинно, когда действие запрещено конфигурацией независимо от доверия.
	Banned bool
}

func (e *DeniedError) Error() string {
	return e.Reason
}
