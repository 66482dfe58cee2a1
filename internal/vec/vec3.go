package vec

// Vec3 представляет позицию блока в сетке мира.
// Y — высота; X и Z — горизонтальная плоскость.
type Vec3 struct {
	X int
	Y int
	Z int
}

// ToVec2 проецирует позицию на горизонтальную плоскость, отбрасывая высоту
func (v Vec3) ToVec2() Vec2 {
	return Vec2{X: v.X, Z: v.Z}
}

// Equals проверяет равенство векторов
func (v Vec3) Equals(other Vec3) bool {
	return v.X == other.X && v.Y == other.Y && v.Z == other.Z
}

// Add складывает два вектора
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{
		X: v.X + other.X,
		Y: v.Y + other.Y,
		Z: v.Z + other.Z,
	}
}

// Min возвращает покомпонентный минимум двух векторов
func (v Vec3) Min(other Vec3) Vec3 {
	if other.X < v.X {
		v.X = other.X
	}
	if other.Y < v.Y {
		v.Y = other.Y
	}
	if other.Z < v.Z {
		v.Z = other.Z
	}
	return v
}

// Max возвращает покомпонентный максимум двух векторов
func (v Vec3) Max(other Vec3) Vec3 {
	if other.X > v.X {
		v.X = other.X
	}
	if other.Y > v.Y {
		v.Y = other.Y
	}
	if other.Z > v.Z {
		v.Z = other.Z
	}
	return v
}
