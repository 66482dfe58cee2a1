package claim

import (
	"fmt"

	"github.com/annel0/mmo-claims/internal/vec"
)

// Bounds описывает осеориентированный параллелепипед заявки.
// Инвариант: Lesser <= Greater по каждой оси (гарантируется NewBounds).
type Bounds struct {
	Lesser  vec.Vec3
	Greater vec.Vec3
}

// NewBounds строит нормализованные границы по двум противоположным углам
func NewBounds(a, b vec.Vec3) Bounds {
	return Bounds{
		Lesser:  a.Min(b),
		Greater: a.Max(b),
	}
}

// Contains проверяет, лежит ли позиция внутри границ (границы включительно).
// При ignoreHeight высота (Y) не учитывается.
func (b Bounds) Contains(pos vec.Vec3, ignoreHeight bool) bool {
	if pos.X < b.Lesser.X || pos.X > b.Greater.X {
		return false
	}
	if pos.Z < b.Lesser.Z || pos.Z > b.Greater.Z {
		return false
	}
	if !ignoreHeight && (pos.Y < b.Lesser.Y || pos.Y > b.Greater.Y) {
		return false
	}
	return true
}

// ContainsBounds проверяет, что other целиком лежит внутри b (по всем осям)
func (b Bounds) ContainsBounds(other Bounds) bool {
	return b.Contains(other.Lesser, false) && b.Contains(other.Greater, false)
}

// Intersects проверяет пересечение горизонтальных проекций двух границ.
// Заявки занимают столб от дна до неба, поэтому пересечение считается в плоскости X/Z.
func (b Bounds) Intersects(other Bounds) bool {
	if b.Greater.X < other.Lesser.X || other.Greater.X < b.Lesser.X {
		return false
	}
	if b.Greater.Z < other.Lesser.Z || other.Greater.Z < b.Lesser.Z {
		return false
	}
	return true
}

// Area возвращает площадь горизонтальной проекции в блоках
func (b Bounds) Area() int {
	return (b.Greater.X - b.Lesser.X + 1) * (b.Greater.Z - b.Lesser.Z + 1)
}

// ChunkCells возвращает координаты чанков, которые покрывает проекция границ.
// Используется пространственным индексом менеджера мира.
func (b Bounds) ChunkCells() []vec.Vec2 {
	minCell := b.Lesser.ToVec2().ToChunkCoords()
	maxCell := b.Greater.ToVec2().ToChunkCoords()

	cells := make([]vec.Vec2, 0, (maxCell.X-minCell.X+1)*(maxCell.Z-minCell.Z+1))
	for x := minCell.X; x <= maxCell.X; x++ {
		for z := minCell.Z; z <= maxCell.Z; z++ {
			cells = append(cells, vec.Vec2{X: x, Z: z})
		}
	}
	return cells
}

// String возвращает краткое представление границ для логов
func (b Bounds) String() string {
	return fmt.Sprintf("(%d,%d,%d)-(%d,%d,%d)",
		b.Lesser.X, b.Lesser.Y, b.Lesser.Z,
		b.Greater.X, b.Greater.Y, b.Greater.Z)
}
