// Package validation содержит функции валидации входных данных.
package validation

import (
	"github.com/jdelacruz/ecopoints-system/internal/model"
)

// IsValidAccountNumber проверяет, что номер счёта состоит ровно из 11 цифр ASCII.
func IsValidAccountNumber(number string) bool {
	if len(number) != 11 {
		return false
	}

	for i := 0; i < len(number); i++ {
		if number[i] < '0' || number[i] > '9' {
			return false
		}
	}

	return true
}

// IsValidProvider проверяет, что провайдер входит в закрытый список кошельков.
func IsValidProvider(provider model.WalletProvider) bool {
	switch provider {
	case model.WalletProviderGcash, model.WalletProviderMaya:
		return true
	default:
		return false
	}
}

// IsValidCategory проверяет, что категория входит в закрытый список вторсырья.
func IsValidCategory(category model.Category) bool {
	switch category {
	case model.CategoryPlastic, model.CategoryPaper, model.CategoryGlass,
		model.CategoryCopper, model.CategoryMetal:
		return true
	default:
		return false
	}
}
