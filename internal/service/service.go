// Package service реализует бизнес-логику сервиса ecopoints.
package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/jdelacruz/ecopoints-system/internal/model"
	"github.com/jdelacruz/ecopoints-system/internal/points"
	"github.com/jdelacruz/ecopoints-system/internal/repository"
	"github.com/jdelacruz/ecopoints-system/internal/validation"
)

// ErrInvalidCategory возвращается для категории вне закрытого списка вторсырья.
var (
	ErrInvalidCategory = errors.New("unknown recycling category")
	// ErrInvalidProvider возвращается для провайдера вне списка кошельков.
	ErrInvalidProvider = errors.New("unknown wallet provider")
	// ErrInvalidAccountNumber возвращается, если номер счёта не состоит из 11 цифр.
	ErrInvalidAccountNumber = errors.New("account number must be 11 digits")
	// ErrInvalidCredentials возвращается при неверной паре email/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrWrongPassword возвращается, если текущий пароль при смене не совпал.
	ErrWrongPassword = errors.New("current password is incorrect")
)

// RegisterInput содержит данные регистрации нового пользователя.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Phone     *string
	Birthdate *time.Time
}

// ProfileUpdate содержит правку профиля пользователя.
type ProfileUpdate struct {
	FirstName string
	LastName  string
	Phone     *string
	Birthdate *time.Time
}

// AdminUserUpdate описывает административную правку пользователя.
// Points перезаписывает баланс абсолютным значением, не добавляет к нему.
type AdminUserUpdate struct {
	Points   *float64
	IsActive *bool
	Password string
}

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateUser(ctx context.Context, email string, passwordHash []byte, firstName, lastName string, phone *string, birthdate *time.Time) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	UpdateUserProfile(ctx context.Context, id int64, firstName, lastName string, phone *string, birthdate *time.Time) (*model.User, error)
	UpdateUserPassword(ctx context.Context, id int64, passwordHash []byte) error
	UpdateUserAvatar(ctx context.Context, id int64, avatarPath string) (*model.User, error)
	SearchActiveUsers(ctx context.Context, query string, limit int) ([]model.User, error)
	AdminUpdateUser(ctx context.Context, id int64, upd repository.AdminUserUpdate) (*model.User, error)

	CreateRecycleTransaction(ctx context.Context, userID int64, category model.Category, weightKg, pointsBase, pointsMultiplier, pointsTotal float64) (*model.RecycleTransaction, error)
	GetTransactionsByUser(ctx context.Context, userID int64) ([]model.RecycleTransaction, error)
	GetAllTransactions(ctx context.Context) ([]model.RecycleTransaction, error)

	GetActiveRewards(ctx context.Context) ([]model.Reward, error)
	CreateRedemption(ctx context.Context, userID, rewardID int64, payoutMethodID *int64) (*model.Redemption, error)
	GetRedemptionsByUser(ctx context.Context, userID int64) ([]model.Redemption, error)
	GetAllRedemptions(ctx context.Context) ([]model.Redemption, error)
	UpdateRedemptionStatus(ctx context.Context, id int64, status model.RedemptionStatus) (*model.Redemption, error)

	GetPayoutMethodsByUser(ctx context.Context, userID int64) ([]model.PayoutMethod, error)
	CreatePayoutMethod(ctx context.Context, userID int64, provider model.WalletProvider, accountNumber string, isDefault bool) (*model.PayoutMethod, error)
	SetDefaultPayoutMethod(ctx context.Context, methodID int64) (*model.PayoutMethod, error)

	GetActiveSchedules(ctx context.Context) ([]model.CollectionSchedule, error)
	GetNextSchedule(ctx context.Context, now time.Time) (*model.CollectionSchedule, error)
	CreateSchedule(ctx context.Context, title string, description *string, location string, startAt time.Time, endAt *time.Time) (*model.CollectionSchedule, error)
	UpdateSchedule(ctx context.Context, id int64, upd repository.ScheduleUpdate) (*model.CollectionSchedule, error)
}

// Service содержит бизнес-логику сервиса ecopoints.
type Service struct {
	repo Repository
}

// NewService создаёт новый сервис с указанным репозиторием.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, in RegisterInput) (*model.User, error) {
	if in.Email == "" || in.Password == "" || in.FirstName == "" || in.LastName == "" {
		return nil, errors.New("email, password, first and last name are required")
	}

	hashed := hashPassword(in.Email, in.Password)
	return s.repo.CreateUser(ctx, in.Email, hashed, in.FirstName, in.LastName, in.Phone, in.Birthdate)
}

// AuthenticateUser проверяет email и пароль и возвращает пользователя.
func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (*model.User, error) {
	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	hashed := hashPassword(email, password)
	if subtle.ConstantTimeCompare(hashed, u.PasswordHash) != 1 {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

func hashPassword(email, password string) []byte {
	sum := sha256.Sum256([]byte(email + ":" + password))
	return sum[:]
}

// GetUser возвращает пользователя по идентификатору.
func (s *Service) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// UpdateProfile обновляет профильные поля пользователя.
func (s *Service) UpdateProfile(ctx context.Context, id int64, upd ProfileUpdate) (*model.User, error) {
	return s.repo.UpdateUserProfile(ctx, id, upd.FirstName, upd.LastName, upd.Phone, upd.Birthdate)
}

// ChangePassword меняет пароль пользователя после проверки текущего.
func (s *Service) ChangePassword(ctx context.Context, id int64, currentPassword, newPassword string) error {
	if currentPassword == "" || newPassword == "" {
		return errors.New("current and new passwords are required")
	}

	u, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return err
	}

	hashed := hashPassword(u.Email, currentPassword)
	if subtle.ConstantTimeCompare(hashed, u.PasswordHash) != 1 {
		return ErrWrongPassword
	}

	return s.repo.UpdateUserPassword(ctx, id, hashPassword(u.Email, newPassword))
}

// UpdateAvatar сохраняет путь к загруженному аватару пользователя.
func (s *Service) UpdateAvatar(ctx context.Context, id int64, avatarPath string) (*model.User, error) {
	return s.repo.UpdateUserAvatar(ctx, id, avatarPath)
}

// SearchUsers ищет активных пользователей по подстроке email или имени.
func (s *Service) SearchUsers(ctx context.Context, query string) ([]model.User, error) {
	return s.repo.SearchActiveUsers(ctx, query, 10)
}

// AdminAdjustUser выполняет административную правку пользователя:
// прямую перезапись баланса, статуса активности или пароля.
func (s *Service) AdminAdjustUser(ctx context.Context, id int64, upd AdminUserUpdate) (*model.User, error) {
	repoUpd := repository.AdminUserUpdate{
		Points:   upd.Points,
		IsActive: upd.IsActive,
	}

	if upd.Password != "" {
		u, err := s.repo.GetUserByID(ctx, id)
		if err != nil {
			return nil, err
		}
		repoUpd.PasswordHash = hashPassword(u.Email, upd.Password)
	}

	return s.repo.AdminUpdateUser(ctx, id, repoUpd)
}

// RecordEarn начисляет баллы за сдачу вторсырья: рассчитывает начисление и
// атомарно создаёт запись о сдаче вместе с увеличением баланса.
func (s *Service) RecordEarn(ctx context.Context, userID int64, category model.Category, weightKg float64) (*model.RecycleTransaction, error) {
	if !validation.IsValidCategory(category) {
		return nil, ErrInvalidCategory
	}

	breakdown, err := points.Compute(category, weightKg)
	if err != nil {
		return nil, err
	}

	return s.repo.CreateRecycleTransaction(ctx, userID, category, weightKg,
		breakdown.Base, breakdown.Multiplier, breakdown.Total)
}

// TransactionsByUser возвращает историю сдач пользователя.
func (s *Service) TransactionsByUser(ctx context.Context, userID int64) ([]model.RecycleTransaction, error) {
	return s.repo.GetTransactionsByUser(ctx, userID)
}

// AllTransactions возвращает все сдачи с данными пользователей.
func (s *Service) AllTransactions(ctx context.Context) ([]model.RecycleTransaction, error) {
	return s.repo.GetAllTransactions(ctx)
}

// ListRewards возвращает активные вознаграждения.
func (s *Service) ListRewards(ctx context.Context) ([]model.Reward, error) {
	return s.repo.GetActiveRewards(ctx)
}

// Redeem создаёт заявку на выплату: атомарно списывает стоимость вознаграждения
// с баланса пользователя и создаёт заявку в статусе PENDING.
func (s *Service) Redeem(ctx context.Context, userID, rewardID int64, payoutMethodID *int64) (*model.Redemption, error) {
	return s.repo.CreateRedemption(ctx, userID, rewardID, payoutMethodID)
}

// RedemptionsByUser возвращает заявки пользователя с данными вознаграждений.
func (s *Service) RedemptionsByUser(ctx context.Context, userID int64) ([]model.Redemption, error) {
	return s.repo.GetRedemptionsByUser(ctx, userID)
}

// AllRedemptions возвращает все заявки для административного списка.
func (s *Service) AllRedemptions(ctx context.Context) ([]model.Redemption, error) {
	return s.repo.GetAllRedemptions(ctx)
}

// SetRedemptionStatus переводит заявку в указанный статус. Переходы не
// ограничиваются: допускается и возврат PAID -> PENDING.
func (s *Service) SetRedemptionStatus(ctx context.Context, id int64, status model.RedemptionStatus) (*model.Redemption, error) {
	if status == "" {
		return nil, errors.New("status is required")
	}
	return s.repo.UpdateRedemptionStatus(ctx, id, status)
}

// PayoutMethodsByUser возвращает способы выплат пользователя.
func (s *Service) PayoutMethodsByUser(ctx context.Context, userID int64) ([]model.PayoutMethod, error) {
	return s.repo.GetPayoutMethodsByUser(ctx, userID)
}

// AddPayoutMethod добавляет способ выплаты после валидации провайдера и номера
// счёта. Первый способ пользователя становится основным.
func (s *Service) AddPayoutMethod(ctx context.Context, userID int64, provider model.WalletProvider, accountNumber string, isDefault bool) (*model.PayoutMethod, error) {
	if !validation.IsValidProvider(provider) {
		return nil, ErrInvalidProvider
	}
	if !validation.IsValidAccountNumber(accountNumber) {
		return nil, ErrInvalidAccountNumber
	}

	return s.repo.CreatePayoutMethod(ctx, userID, provider, accountNumber, isDefault)
}

// SetDefaultPayoutMethod делает указанный способ выплаты основным.
func (s *Service) SetDefaultPayoutMethod(ctx context.Context, methodID int64) (*model.PayoutMethod, error) {
	return s.repo.SetDefaultPayoutMethod(ctx, methodID)
}

// ActiveSchedules возвращает активные расписания приёма.
func (s *Service) ActiveSchedules(ctx context.Context) ([]model.CollectionSchedule, error) {
	return s.repo.GetActiveSchedules(ctx)
}

// NextSchedule возвращает ближайшее будущее расписание приёма или nil.
func (s *Service) NextSchedule(ctx context.Context) (*model.CollectionSchedule, error) {
	return s.repo.GetNextSchedule(ctx, time.Now())
}

// CreateSchedule создаёт расписание приёма.
func (s *Service) CreateSchedule(ctx context.Context, title string, description *string, location string, startAt time.Time, endAt *time.Time) (*model.CollectionSchedule, error) {
	if title == "" || location == "" {
		return nil, errors.New("title and location are required")
	}
	return s.repo.CreateSchedule(ctx, title, description, location, startAt, endAt)
}

// UpdateSchedule обновляет расписание приёма.
func (s *Service) UpdateSchedule(ctx context.Context, id int64, upd repository.ScheduleUpdate) (*model.CollectionSchedule, error) {
	return s.repo.UpdateSchedule(ctx, id, upd)
}
