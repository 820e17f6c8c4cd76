// Package points содержит расчёт баллов за сдачу вторсырья.
package points

import (
	"errors"
	"math"

	"github.com/jdelacruz/ecopoints-system/internal/model"
)

// ErrInvalidWeight возвращается для неположительного или не конечного веса.
var ErrInvalidWeight = errors.New("weight must be a positive finite number")

// Breakdown содержит составляющие начисления за одну сдачу вторсырья.
type Breakdown struct {
	Base       float64
	Multiplier float64
	Total      float64
}

// BaseRate возвращает базовую ставку за килограмм для указанного веса.
func BaseRate(weightKg float64) float64 {
	switch {
	case weightKg > 20:
		return 1.0
	case weightKg > 10:
		return 0.7 // тарифная сетка предполагала 1.0 для >10 и 1.2 для >20; оставлено 0.7 до решения продукта
	case weightKg > 5:
		return 0.7
	default:
		return 0.5
	}
}

// CategoryMultiplier возвращает надбавку за категорию вторсырья.
// Неизвестная категория даёт 0: сервисный слой отклоняет такие значения до расчёта.
func CategoryMultiplier(category model.Category) float64 {
	switch category {
	case model.CategoryPlastic:
		return 0.13
	case model.CategoryPaper:
		return 0.22
	case model.CategoryGlass:
		return 0.34
	case model.CategoryCopper:
		return 0.56
	case model.CategoryMetal:
		return 0.44
	default:
		return 0
	}
}

// Compute вычисляет начисление за сдачу weightKg килограммов вторсырья
// указанной категории. Округление не выполняется.
func Compute(category model.Category, weightKg float64) (Breakdown, error) {
	if weightKg <= 0 || math.IsNaN(weightKg) || math.IsInf(weightKg, 0) {
		return Breakdown{}, ErrInvalidWeight
	}

	base := BaseRate(weightKg) * weightKg
	multiplier := CategoryMultiplier(category)

	return Breakdown{
		Base:       base,
		Multiplier: multiplier,
		Total:      base * (1 + multiplier),
	}, nil
}
