// Package model содержит доменные сущности сервиса ecopoints.
package model

import "time"

// Role описывает роль пользователя в системе.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// User представляет зарегистрированного жителя или администратора.
type User struct {
	ID           int64      `json:"id"`
	Email        string     `json:"email"`
	PasswordHash []byte     `json:"-"`
	FirstName    string     `json:"firstName"`
	LastName     string     `json:"lastName"`
	Phone        *string    `json:"phone"`
	Birthdate    *time.Time `json:"birthdate"`
	Role         Role       `json:"role"`
	Points       float64    `json:"points"`
	IsActive     bool       `json:"isActive"`
	AvatarPath   *string    `json:"avatarPath"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// Category описывает категорию принимаемого вторсырья.
type Category string

const (
	CategoryPlastic Category = "PLASTIC"
	CategoryPaper   Category = "PAPER"
	CategoryGlass   Category = "GLASS"
	CategoryCopper  Category = "COPPER"
	CategoryMetal   Category = "METAL"
)

// RecycleTransaction описывает один факт сдачи вторсырья и начисленные баллы.
// Запись неизменяема: создаётся одной транзакцией вместе с увеличением баланса.
type RecycleTransaction struct {
	ID               int64     `json:"id"`
	UserID           int64     `json:"userId"`
	Category         Category  `json:"category"`
	WeightKg         float64   `json:"weightKg"`
	PointsBase       float64   `json:"pointsBase"`
	PointsMultiplier float64   `json:"pointsMultiplier"`
	PointsTotal      float64   `json:"pointsTotal"`
	CreatedAt        time.Time `json:"createdAt"`
	User             *User     `json:"user,omitempty"`
}

// Reward описывает позицию каталога денежных вознаграждений.
type Reward struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	AmountCash float64   `json:"amountCash"`
	PointsCost float64   `json:"pointsCost"`
	IsActive   bool      `json:"isActive"`
	CreatedAt  time.Time `json:"createdAt"`
}

// RedemptionStatus описывает статус обработки заявки на выплату.
type RedemptionStatus string

const (
	RedemptionStatusPending RedemptionStatus = "PENDING"
	RedemptionStatusPaid    RedemptionStatus = "PAID"
)

// Redemption описывает заявку пользователя на обмен баллов на выплату.
type Redemption struct {
	ID             int64            `json:"id"`
	UserID         int64            `json:"userId"`
	RewardID       int64            `json:"rewardId"`
	PayoutMethodID *int64           `json:"payoutMethodId"`
	Status         RedemptionStatus `json:"status"`
	ProcessedAt    *time.Time       `json:"processedAt"`
	CreatedAt      time.Time        `json:"createdAt"`
	User           *User            `json:"user,omitempty"`
	Reward         *Reward          `json:"reward,omitempty"`
	PayoutMethod   *PayoutMethod    `json:"payoutMethod,omitempty"`
}

// WalletProvider описывает провайдера мобильного кошелька для выплат.
type WalletProvider string

const (
	WalletProviderGcash WalletProvider = "GCASH"
	WalletProviderMaya  WalletProvider = "MAYA"
)

// PayoutMethod описывает способ выплаты пользователя.
// Инвариант: не более одного способа с IsDefault = true на пользователя.
type PayoutMethod struct {
	ID            int64          `json:"id"`
	UserID        int64          `json:"userId"`
	Provider      WalletProvider `json:"provider"`
	AccountNumber string         `json:"accountNumber"`
	IsDefault     bool           `json:"isDefault"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// CollectionSchedule описывает событие выездного приёма вторсырья.
type CollectionSchedule struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description *string    `json:"description"`
	Location    string     `json:"location"`
	StartAt     time.Time  `json:"startAt"`
	EndAt       *time.Time `json:"endAt"`
	IsActive    bool       `json:"isActive"`
	CreatedAt   time.Time  `json:"createdAt"`
}
