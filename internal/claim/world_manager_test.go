package claim

import (
	"errors"
	"sync"
	"testing"

	"github.com/annel0/mmo-claims/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingPersister фиксирует вызовы записи и удаления
type recordingPersister struct {
	written []int64
	deleted []int64
}

func (p *recordingPersister) PersistClaim(c *Claim) error {
	p.written = append(p.written, c.ID)
	return nil
}

func (p *recordingPersister) PersistClaimDeletion(worldID string, claimID int64) error {
	p.deleted = append(p.deleted, claimID)
	return nil
}

func newTopLevel(t *testing.T, m *ClaimWorldManager, owner string, a, b vec.Vec3) *Claim {
	t.Helper()
	c := NewClaim(m.WorldID(), owner, a, b)
	require.NoError(t, m.AddClaim(c, true))
	return c
}

func TestWorldManager_AddClaimOverlap(t *testing.T) {
	m := NewClaimWorldManager("overworld", nil)
	first := newTopLevel(t, m, "owner-1", vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 20, Y: 255, Z: 20})

	overlapping := NewClaim("overworld", "owner-2", vec.Vec3{X: 15, Y: 0, Z: 15}, vec.Vec3{X: 40, Y: 255, Z: 40})
	err := m.AddClaim(overlapping, true)

	var overlap *OverlapError
	require.ErrorAs(t, err, &overlap)
	assert.Equal(t, first.ID, overlap.ClaimID)

	// Отклонённая заявка не попадает ни в индекс, ни в реестр
	assert.False(t, overlapping.InDataStore())
	assert.Equal(t, 1, m.ClaimCount())
	assert.Nil(t, m.GetClaimAt(vec.Vec3{X: 35, Y: 64, Z: 35}, false, nil))
}

func TestWorldManager_GetClaimAt(t *testing.T) {
	m := NewClaimWorldManager("overworld", nil)
	c := newTopLevel(t, m, "owner-1", vec.Vec3{X: 0, Y: 10, Z: 0}, vec.Vec3{X: 30, Y: 100, Z: 30})

	assert.Same(t, c, m.GetClaimAt(vec.Vec3{X: 15, Y: 50, Z: 15}, false, nil))
	assert.Nil(t, m.GetClaimAt(vec.Vec3{X: 31, Y: 50, Z: 15}, false, nil))

	// Ниже заявки: учитывая высоту — мимо, игнорируя — попадание
	deep := vec.Vec3{X: 15, Y: 5, Z: 15}
	assert.Nil(t, m.GetClaimAt(deep, false, nil))
	assert.Same(t, c, m.GetClaimAt(deep, true, nil))
}

func TestWorldManager_SubdivisionWinsAtPosition(t *testing.T) {
	m := NewClaimWorldManager("overworld", nil)
	parent := newTopLevel(t, m, "owner-1", vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 50, Y: 255, Z: 50})

	sub := NewSubdivision("overworld", vec.Vec3{X: 10, Y: 0, Z: 10}, vec.Vec3{X: 20, Y: 255, Z: 20})
	require.NoError(t, m.AddSubdivision(parent, sub, true))

	// Внутри подраздела возвращается подраздел, включая общую границу
	assert.Same(t, sub, m.GetClaimAt(vec.Vec3{X: 15, Y: 64, Z: 15}, false, nil))
	assert.Same(t, sub, m.GetClaimAt(vec.Vec3{X: 10, Y: 64, Z: 10}, false, nil))
	assert.Same(t, parent, m.GetClaimAt(vec.Vec3{X: 5, Y: 64, Z: 5}, false, nil))
}

func TestWorldManager_GetClaimAtHint(t *testing.T) {
	m := NewClaimWorldManager("overworld", nil)
	parent := newTopLevel(t, m, "owner-1", vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 50, Y: 255, Z: 50})

	sub := NewSubdivision("overworld", vec.Vec3{X: 10, Y: 0, Z: 10}, vec.Vec3{X: 20, Y: 255, Z: 20})
	require.NoError(t, m.AddSubdivision(parent, sub, false))

	// Подсказка-родитель всё равно спускается к подразделу
	assert.Same(t, sub, m.GetClaimAt(vec.Vec3{X: 15, Y: 64, Z: 15}, false, parent))

	// Удалённая заявка как подсказка игнорируется
	require.NoError(t, m.DeleteClaim(sub, false))
	assert.Same(t, parent, m.GetClaimAt(vec.Vec3{X: 15, Y: 64, Z: 15}, false, sub))
}

func TestWorldManager_SubdivisionEscape(t *testing.T) {
	m := NewClaimWorldManager("overworld", nil)
	parent := newTopLevel(t, m, "owner-1", vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 20, Y: 255, Z: 20})

	escaping := NewSubdivision("overworld", vec.Vec3{X: 10, Y: 0, Z: 10}, vec.Vec3{X: 30, Y: 255, Z: 30})
	err := m.AddSubdivision(parent, escaping, true)

	var escape *EscapeError
	require.ErrorAs(t, err, &escape)
	assert.Equal(t, parent.ID, escape.ParentID)
	assert.Empty(t, parent.Children())
}

func TestWorldManager_SubdivisionDepthLimit(t *testing.T) {
	m := NewClaimWorldManager("overworld", nil)
	parent := newTopLevel(t, m, "owner-1", vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 50, Y: 255, Z: 50})

	sub := NewSubdivision("overworld", vec.Vec3{X: 10, Y: 0, Z: 10}, vec.Vec3{X: 30, Y: 255, Z: 30})
	require.NoError(t, m.AddSubdivision(parent, sub, false))

	nested := NewSubdivision("overworld", vec.Vec3{X: 15, Y: 0, Z: 15}, vec.Vec3{X: 20, Y: 255, Z: 20})
	assert.ErrorIs(t, m.AddSubdivision(sub, nested, false), ErrSubdivisionDepth)
}

func TestWorldManager_DeleteRequiresCascade(t *testing.T) {
	persister := &recordingPersister{}
	m := NewClaimWorldManager("overworld", persister)
	parent := newTopLevel(t, m, "owner-1", vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 50, Y: 255, Z: 50})

	sub := NewSubdivision("overworld", vec.Vec3{X: 10, Y: 0, Z: 10}, vec.Vec3{X: 20, Y: 255, Z: 20})
	require.NoError(t, m.AddSubdivision(parent, sub, true))

	// Без каскада родитель с подразделами не удаляется
	err := m.DeleteClaim(parent, false)
	var hasChildren *HasChildrenError
	require.ErrorAs(t, err, &hasChildren)
	assert.Equal(t, 1, hasChildren.Children)
	assert.True(t, parent.InDataStore())

	// Каскад сносит родителя вместе с подразделами и чистит хранилище
	require.NoError(t, m.DeleteClaim(parent, true))
	assert.False(t, parent.InDataStore())
	assert.False(t, sub.InDataStore())
	assert.Equal(t, 0, m.ClaimCount())
	assert.ElementsMatch(t, []int64{parent.ID, sub.ID}, persister.deleted)
}

func TestWorldManager_DeleteSubdivisionBumpsParentVersion(t *testing.T) {
	m := NewClaimWorldManager("overworld", nil)
	parent := newTopLevel(t, m, "owner-1", vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 50, Y: 255, Z: 50})

	sub := NewSubdivision("overworld", vec.Vec3{X: 10, Y: 0, Z: 10}, vec.Vec3{X: 20, Y: 255, Z: 20})
	require.NoError(t, m.AddSubdivision(parent, sub, false))

	before := parent.Version()
	require.NoError(t, m.DeleteClaim(sub, false))

	assert.Empty(t, parent.Children())
	assert.Greater(t, parent.Version(), before, "кэшированные ссылки должны инвалидироваться")
	assert.Same(t, parent, m.GetClaimAt(vec.Vec3{X: 15, Y: 64, Z: 15}, false, nil))
}

func TestWorldManager_ResizeTopLevel(t *testing.T) {
	m := NewClaimWorldManager("overworld", nil)
	a := newTopLevel(t, m, "owner-1", vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 20, Y: 255, Z: 20})
	newTopLevel(t, m, "owner-2", vec.Vec3{X: 40, Y: 0, Z: 0}, vec.Vec3{X: 60, Y: 255, Z: 20})

	// Расширение в сторону соседа — конфликт
	err := m.ResizeClaim(a, NewBounds(vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 45, Y: 255, Z: 20}))
	var overlap *OverlapError
	require.ErrorAs(t, err, &overlap)

	// Геометрия не изменилась
	assert.Equal(t, 20, a.Bounds().Greater.X)

	// Допустимое расширение обновляет пространственный индекс
	require.NoError(t, m.ResizeClaim(a, NewBounds(vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 35, Y: 255, Z: 20})))
	assert.Same(t, a, m.GetClaimAt(vec.Vec3{X: 34, Y: 64, Z: 10}, false, nil))
	assert.Nil(t, m.GetClaimAt(vec.Vec3{X: 36, Y: 64, Z: 10}, false, nil))
}

func TestWorldManager_ResizeKeepsChildrenContained(t *testing.T) {
	m := NewClaimWorldManager("overworld", nil)
	parent := newTopLevel(t, m, "owner-1", vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 50, Y: 255, Z: 50})

	sub := NewSubdivision("overworld", vec.Vec3{X: 30, Y: 0, Z: 30}, vec.Vec3{X: 40, Y: 255, Z: 40})
	require.NoError(t, m.AddSubdivision(parent, sub, false))

	// Сжатие, выталкивающее подраздел наружу, отклоняется
	err := m.ResizeClaim(parent, NewBounds(vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 20, Y: 255, Z: 20}))
	var escape *EscapeError
	require.ErrorAs(t, err, &escape)

	// Сжатие подраздела внутри родителя допустимо
	require.NoError(t, m.ResizeClaim(sub, NewBounds(vec.Vec3{X: 32, Y: 0, Z: 32}, vec.Vec3{X: 38, Y: 255, Z: 38})))
}

func TestWorldManager_TransferOwner(t *testing.T) {
	m := NewClaimWorldManager("overworld", nil)
	parent := newTopLevel(t, m, "owner-1", vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 50, Y: 255, Z: 50})

	sub := NewSubdivision("overworld", vec.Vec3{X: 10, Y: 0, Z: 10}, vec.Vec3{X: 20, Y: 255, Z: 20})
	require.NoError(t, m.AddSubdivision(parent, sub, false))

	assert.ErrorIs(t, m.TransferClaimOwner(sub, "owner-2"), ErrNoTransferSubdivision)

	require.NoError(t, m.TransferClaimOwner(parent, "owner-2"))
	assert.Equal(t, "owner-2", parent.OwnerID())
	assert.Equal(t, "owner-2", sub.OwnerID(), "подраздел следует за владельцем родителя")
}

func TestWorldManager_OwnedArea(t *testing.T) {
	m := NewClaimWorldManager("overworld", nil)
	newTopLevel(t, m, "owner-1", vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 9, Y: 255, Z: 9})     // 100
	newTopLevel(t, m, "owner-1", vec.Vec3{X: 50, Y: 0, Z: 50}, vec.Vec3{X: 54, Y: 255, Z: 59}) // 50
	newTopLevel(t, m, "owner-2", vec.Vec3{X: 100, Y: 0, Z: 0}, vec.Vec3{X: 119, Y: 255, Z: 19})

	assert.Equal(t, 150, m.OwnedArea("owner-1"))
	assert.Equal(t, 400, m.OwnedArea("owner-2"))
	assert.Equal(t, 0, m.OwnedArea(""), "административные заявки не имеют владельца")
}

func TestWorldManager_IDsNeverReused(t *testing.T) {
	m := NewClaimWorldManager("overworld", nil)
	first := newTopLevel(t, m, "owner-1", vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 10, Y: 255, Z: 10})
	require.NoError(t, m.DeleteClaim(first, false))

	second := newTopLevel(t, m, "owner-1", vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 10, Y: 255, Z: 10})
	assert.Greater(t, second.ID, first.ID)

	_, ok := m.LookupByID(first.ID)
	assert.False(t, ok)
}

func TestWorldManager_SeedNextClaimID(t *testing.T) {
	m := NewClaimWorldManager("overworld", nil)
	m.SeedNextClaimID(100)

	c := newTopLevel(t, m, "owner-1", vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 10, Y: 255, Z: 10})
	assert.Equal(t, int64(100), c.ID)

	// Меньшее значение счётчик не опускает
	m.SeedNextClaimID(5)
	assert.Equal(t, int64(101), m.NextClaimID())
}

func TestWorldManager_ResizeDetachedClaim(t *testing.T) {
	m := NewClaimWorldManager("overworld", nil)
	c := NewClaim("overworld", "owner-1", vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 10, Y: 255, Z: 10})

	err := m.ResizeClaim(c, NewBounds(vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 5, Y: 255, Z: 5}))
	assert.True(t, errors.Is(err, ErrClaimNotFound))
}

func TestWorldManager_ConcurrentLookupDuringDelete(t *testing.T) {
	// Две заявки делят одну ячейку индекса: удаление второй сдвигает
	// элементы списка ячейки, поиск первой идёт параллельно.
	m := NewClaimWorldManager("overworld", nil)
	stable := newTopLevel(t, m, "owner-1", vec.Vec3{X: 0, Y: 0, Z: 0}, vec.Vec3{X: 5, Y: 255, Z: 5})

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pos := vec.Vec3{X: 2, Y: 64, Z: 2}
			for {
				select {
				case <-done:
					return
				default:
				}
				if got := m.GetClaimAt(pos, false, nil); got != stable {
					t.Errorf("поиск вернул %v вместо стабильной заявки", got)
					return
				}
			}
		}()
	}

	for i := 0; i < 500; i++ {
		churn := NewClaim("overworld", "owner-2", vec.Vec3{X: 10, Y: 0, Z: 10}, vec.Vec3{X: 15, Y: 255, Z: 15})
		require.NoError(t, m.AddClaim(churn, false))
		require.NoError(t, m.DeleteClaim(churn, false))
	}
	close(done)
	wg.Wait()
}
