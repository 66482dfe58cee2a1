package vec

// Vec2 представляет 2D координаты в горизонтальной плоскости мира (X, Z)
type Vec2 struct {
	X, Z int
}

// ToChunkCoords преобразует глобальные координаты в координаты чанка
func (v Vec2) ToChunkCoords() Vec2 {
	return Vec2{X: v.X >> 4, Z: v.Z >> 4} // Деление на 16
}

// Min возвращает покомпонентный минимум двух векторов
func (v Vec2) Min(other Vec2) Vec2 {
	if other.X < v.X {
		v.X = other.X
	}
	if other.Z < v.Z {
		v.Z = other.Z
	}
	return v
}

// Max возвращает покомпонентный максимум двух векторов
func (v Vec2) Max(other Vec2) Vec2 {
	if other.X > v.X {
		v.X = other.X
	}
	if other.Z > v.Z {
		v.Z = other.Z
	}
	return v
}
