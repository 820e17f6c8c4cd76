package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jdelacruz/ecopoints-system/internal/model"
	"github.com/jdelacruz/ecopoints-system/internal/points"
	"github.com/jdelacruz/ecopoints-system/internal/repository"
)

// memRepo — потокобезопасный репозиторий в памяти для тестов сервиса.
// Мьютекс играет роль транзакции БД: каждая операция-единица атомарна.
type memRepo struct {
	mu sync.Mutex

	users         map[int64]*model.User
	transactions  []model.RecycleTransaction
	rewards       map[int64]*model.Reward
	redemptions   map[int64]*model.Redemption
	payoutMethods map[int64]*model.PayoutMethod
	schedules     map[int64]*model.CollectionSchedule

	nextID int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		users:         make(map[int64]*model.User),
		rewards:       make(map[int64]*model.Reward),
		redemptions:   make(map[int64]*model.Redemption),
		payoutMethods: make(map[int64]*model.PayoutMethod),
		schedules:     make(map[int64]*model.CollectionSchedule),
	}
}

func (m *memRepo) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memRepo) addUser(u model.User) *model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == 0 {
		u.ID = m.id()
	}
	m.users[u.ID] = &u
	return &u
}

func (m *memRepo) addReward(rw model.Reward) *model.Reward {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rw.ID == 0 {
		rw.ID = m.id()
	}
	m.rewards[rw.ID] = &rw
	return &rw
}

func (m *memRepo) Close() error { return nil }

func (m *memRepo) CreateUser(ctx context.Context, email string, passwordHash []byte, firstName, lastName string, phone *string, birthdate *time.Time) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Email == email {
			return nil, repository.ErrUserExists
		}
	}

	u := &model.User{
		ID:           m.id(),
		Email:        email,
		PasswordHash: passwordHash,
		FirstName:    firstName,
		LastName:     lastName,
		Phone:        phone,
		Birthdate:    birthdate,
		Role:         model.RoleUser,
		IsActive:     true,
		CreatedAt:    time.Now(),
	}
	m.users[u.ID] = u
	return u, nil
}

func (m *memRepo) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *memRepo) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (m *memRepo) UpdateUserProfile(ctx context.Context, id int64, firstName, lastName string, phone *string, birthdate *time.Time) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	u.FirstName, u.LastName, u.Phone, u.Birthdate = firstName, lastName, phone, birthdate
	copied := *u
	return &copied, nil
}

func (m *memRepo) UpdateUserPassword(ctx context.Context, id int64, passwordHash []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (m *memRepo) UpdateUserAvatar(ctx context.Context, id int64, avatarPath string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	u.AvatarPath = &avatarPath
	copied := *u
	return &copied, nil
}

func (m *memRepo) SearchActiveUsers(ctx context.Context, query string, limit int) ([]model.User, error) {
	return nil, nil
}

func (m *memRepo) AdminUpdateUser(ctx context.Context, id int64, upd repository.AdminUserUpdate) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	if upd.Points != nil {
		u.Points = *upd.Points
	}
	if upd.IsActive != nil {
		u.IsActive = *upd.IsActive
	}
	if len(upd.PasswordHash) > 0 {
		u.PasswordHash = upd.PasswordHash
	}
	copied := *u
	return &copied, nil
}

func (m *memRepo) CreateRecycleTransaction(ctx context.Context, userID int64, category model.Category, weightKg, pointsBase, pointsMultiplier, pointsTotal float64) (*model.RecycleTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	if !u.IsActive {
		return nil, repository.ErrUserInactive
	}

	rt := model.RecycleTransaction{
		ID:               m.id(),
		UserID:           userID,
		Category:         category,
		WeightKg:         weightKg,
		PointsBase:       pointsBase,
		PointsMultiplier: pointsMultiplier,
		PointsTotal:      pointsTotal,
		CreatedAt:        time.Now(),
	}
	m.transactions = append(m.transactions, rt)
	u.Points += pointsTotal
	return &rt, nil
}

func (m *memRepo) GetTransactionsByUser(ctx context.Context, userID int64) ([]model.RecycleTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []model.RecycleTransaction
	for _, t := range m.transactions {
		if t.UserID == userID {
			res = append(res, t)
		}
	}
	return res, nil
}

func (m *memRepo) GetAllTransactions(ctx context.Context) ([]model.RecycleTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.RecycleTransaction(nil), m.transactions...), nil
}

func (m *memRepo) GetActiveRewards(ctx context.Context) ([]model.Reward, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []model.Reward
	for _, rw := range m.rewards {
		if rw.IsActive {
			res = append(res, *rw)
		}
	}
	return res, nil
}

func (m *memRepo) CreateRedemption(ctx context.Context, userID, rewardID int64, payoutMethodID *int64) (*model.Redemption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	rw, ok := m.rewards[rewardID]
	if !ok {
		return nil, repository.ErrRewardNotFound
	}
	if payoutMethodID != nil {
		if _, ok := m.payoutMethods[*payoutMethodID]; !ok {
			return nil, repository.ErrPayoutMethodNotFound
		}
	}
	if u.Points < rw.PointsCost {
		return nil, repository.ErrInsufficientBalance
	}

	rd := &model.Redemption{
		ID:             m.id(),
		UserID:         userID,
		RewardID:       rewardID,
		PayoutMethodID: payoutMethodID,
		Status:         model.RedemptionStatusPending,
		CreatedAt:      time.Now(),
	}
	m.redemptions[rd.ID] = rd
	u.Points -= rw.PointsCost

	copied := *rd
	rwCopy := *rw
	copied.Reward = &rwCopy
	return &copied, nil
}

func (m *memRepo) GetRedemptionsByUser(ctx context.Context, userID int64) ([]model.Redemption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []model.Redemption
	for _, rd := range m.redemptions {
		if rd.UserID == userID {
			res = append(res, *rd)
		}
	}
	return res, nil
}

func (m *memRepo) GetAllRedemptions(ctx context.Context) ([]model.Redemption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []model.Redemption
	for _, rd := range m.redemptions {
		res = append(res, *rd)
	}
	return res, nil
}

func (m *memRepo) UpdateRedemptionStatus(ctx context.Context, id int64, status model.RedemptionStatus) (*model.Redemption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rd, ok := m.redemptions[id]
	if !ok {
		return nil, repository.ErrRedemptionNotFound
	}
	rd.Status = status
	if status == model.RedemptionStatusPaid {
		now := time.Now()
		rd.ProcessedAt = &now
	} else {
		rd.ProcessedAt = nil
	}
	copied := *rd
	return &copied, nil
}

func (m *memRepo) GetPayoutMethodsByUser(ctx context.Context, userID int64) ([]model.PayoutMethod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []model.PayoutMethod
	for _, pm := range m.payoutMethods {
		if pm.UserID == userID {
			res = append(res, *pm)
		}
	}
	return res, nil
}

func (m *memRepo) CreatePayoutMethod(ctx context.Context, userID int64, provider model.WalletProvider, accountNumber string, isDefault bool) (*model.PayoutMethod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[userID]; !ok {
		return nil, repository.ErrUserNotFound
	}

	existing := 0
	for _, pm := range m.payoutMethods {
		if pm.UserID == userID {
			existing++
		}
	}

	shouldBeDefault := isDefault || existing == 0
	if shouldBeDefault {
		for _, pm := range m.payoutMethods {
			if pm.UserID == userID {
				pm.IsDefault = false
			}
		}
	}

	pm := &model.PayoutMethod{
		ID:            m.id(),
		UserID:        userID,
		Provider:      provider,
		AccountNumber: accountNumber,
		IsDefault:     shouldBeDefault,
		CreatedAt:     time.Now(),
	}
	m.payoutMethods[pm.ID] = pm
	copied := *pm
	return &copied, nil
}

func (m *memRepo) SetDefaultPayoutMethod(ctx context.Context, methodID int64) (*model.PayoutMethod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	target, ok := m.payoutMethods[methodID]
	if !ok {
		return nil, repository.ErrPayoutMethodNotFound
	}

	for _, pm := range m.payoutMethods {
		if pm.UserID == target.UserID {
			pm.IsDefault = false
		}
	}
	target.IsDefault = true

	copied := *target
	return &copied, nil
}

func (m *memRepo) GetActiveSchedules(ctx context.Context) ([]model.CollectionSchedule, error) {
	return nil, nil
}

func (m *memRepo) GetNextSchedule(ctx context.Context, now time.Time) (*model.CollectionSchedule, error) {
	return nil, nil
}

func (m *memRepo) CreateSchedule(ctx context.Context, title string, description *string, location string, startAt time.Time, endAt *time.Time) (*model.CollectionSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &model.CollectionSchedule{
		ID:          m.id(),
		Title:       title,
		Description: description,
		Location:    location,
		StartAt:     startAt,
		EndAt:       endAt,
		IsActive:    true,
		CreatedAt:   time.Now(),
	}
	m.schedules[s.ID] = s
	copied := *s
	return &copied, nil
}

func (m *memRepo) UpdateSchedule(ctx context.Context, id int64, upd repository.ScheduleUpdate) (*model.CollectionSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return nil, repository.ErrScheduleNotFound
	}
	if upd.IsActive != nil {
		s.IsActive = *upd.IsActive
	}
	copied := *s
	return &copied, nil
}

func TestHashPasswordDeterministic(t *testing.T) {
	a := hashPassword("user@example.com", "pass")
	b := hashPassword("user@example.com", "pass")
	c := hashPassword("user@example.com", "other")

	if string(a) != string(b) {
		t.Fatalf("hashPassword must be deterministic, got %x and %x", a, b)
	}
	if string(a) == string(c) {
		t.Fatalf("different passwords must produce different hashes")
	}
}

func TestRegisterUser_MissingFields(t *testing.T) {
	svc := NewService(newMemRepo())

	_, err := svc.RegisterUser(context.Background(), RegisterInput{Email: "a@b.c"})
	if err == nil {
		t.Fatalf("expected error for missing fields")
	}
}

func TestRegisterUser_DuplicateEmail(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)

	in := RegisterInput{Email: "a@b.c", Password: "pass", FirstName: "Ana", LastName: "Cruz"}
	if _, err := svc.RegisterUser(context.Background(), in); err != nil {
		t.Fatalf("first register error: %v", err)
	}

	_, err := svc.RegisterUser(context.Background(), in)
	if !errors.Is(err, repository.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestAuthenticateUser_InvalidCredentials(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)

	_, err := svc.RegisterUser(context.Background(), RegisterInput{
		Email: "a@b.c", Password: "correct", FirstName: "Ana", LastName: "Cruz",
	})
	if err != nil {
		t.Fatalf("register error: %v", err)
	}

	if _, err := svc.AuthenticateUser(context.Background(), "a@b.c", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := svc.AuthenticateUser(context.Background(), "missing@b.c", "correct"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
	if _, err := svc.AuthenticateUser(context.Background(), "a@b.c", "correct"); err != nil {
		t.Fatalf("expected success for valid credentials, got %v", err)
	}
}

func TestChangePassword_WrongCurrent(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)

	u, err := svc.RegisterUser(context.Background(), RegisterInput{
		Email: "a@b.c", Password: "old", FirstName: "Ana", LastName: "Cruz",
	})
	if err != nil {
		t.Fatalf("register error: %v", err)
	}

	if err := svc.ChangePassword(context.Background(), u.ID, "wrong", "new"); !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("expected ErrWrongPassword, got %v", err)
	}

	if err := svc.ChangePassword(context.Background(), u.ID, "old", "new"); err != nil {
		t.Fatalf("change password error: %v", err)
	}
	if _, err := svc.AuthenticateUser(context.Background(), "a@b.c", "new"); err != nil {
		t.Fatalf("authenticate with new password: %v", err)
	}
}

func TestRecordEarn_InvalidCategory(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	u := repo.addUser(model.User{IsActive: true})

	_, err := svc.RecordEarn(context.Background(), u.ID, model.Category("WOOD"), 5)
	if !errors.Is(err, ErrInvalidCategory) {
		t.Fatalf("expected ErrInvalidCategory, got %v", err)
	}
}

func TestRecordEarn_InvalidWeight(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	u := repo.addUser(model.User{IsActive: true})

	for _, w := range []float64{0, -3} {
		_, err := svc.RecordEarn(context.Background(), u.ID, model.CategoryPlastic, w)
		if !errors.Is(err, points.ErrInvalidWeight) {
			t.Fatalf("RecordEarn(weight=%v) error = %v, want ErrInvalidWeight", w, err)
		}
	}

	if len(repo.transactions) != 0 {
		t.Fatalf("no transactions must be created on validation failure")
	}
}

func TestRecordEarn_UserChecks(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)

	if _, err := svc.RecordEarn(context.Background(), 999, model.CategoryPlastic, 5); !errors.Is(err, repository.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	inactive := repo.addUser(model.User{IsActive: false})
	if _, err := svc.RecordEarn(context.Background(), inactive.ID, model.CategoryPlastic, 5); !errors.Is(err, repository.ErrUserInactive) {
		t.Fatalf("expected ErrUserInactive, got %v", err)
	}
}

func TestRecordEarn_IncrementsBalance(t *testing.T) {
	tests := []struct {
		name     string
		category model.Category
		weightKg float64
		want     float64
	}{
		{name: "plastic mid tier", category: model.CategoryPlastic, weightKg: 6, want: 0.7 * 6 * 1.13},
		{name: "metal heavy tier", category: model.CategoryMetal, weightKg: 25, want: 36.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemRepo()
			svc := NewService(repo)
			u := repo.addUser(model.User{IsActive: true})

			rt, err := svc.RecordEarn(context.Background(), u.ID, tt.category, tt.weightKg)
			if err != nil {
				t.Fatalf("RecordEarn error: %v", err)
			}
			if rt.PointsTotal != tt.want {
				t.Fatalf("PointsTotal = %v, want %v", rt.PointsTotal, tt.want)
			}

			got, err := svc.GetUser(context.Background(), u.ID)
			if err != nil {
				t.Fatalf("GetUser error: %v", err)
			}
			if got.Points != tt.want {
				t.Fatalf("user points = %v, want %v", got.Points, tt.want)
			}
		})
	}
}

func TestRecordEarn_ConcurrentNoLostUpdates(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	u := repo.addUser(model.User{IsActive: true})

	const n = 10
	perCall := 0.5 * 2 * 1.13 // PLASTIC, 2 kg

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordEarn(context.Background(), u.ID, model.CategoryPlastic, 2)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("RecordEarn error: %v", err)
		}
	}

	got, err := svc.GetUser(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("GetUser error: %v", err)
	}
	want := float64(n) * perCall
	if got.Points != want {
		t.Fatalf("final balance = %v, want %v (lost update)", got.Points, want)
	}
	if len(repo.transactions) != n {
		t.Fatalf("transactions = %d, want %d", len(repo.transactions), n)
	}
}

func TestRedeem_InsufficientBalance(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	u := repo.addUser(model.User{IsActive: true, Points: 5})
	rw := repo.addReward(model.Reward{Title: "PHP 100", AmountCash: 100, PointsCost: 10, IsActive: true})

	_, err := svc.Redeem(context.Background(), u.ID, rw.ID, nil)
	if !errors.Is(err, repository.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	got, _ := svc.GetUser(context.Background(), u.ID)
	if got.Points != 5 {
		t.Fatalf("balance changed on failed redeem: %v", got.Points)
	}
	if len(repo.redemptions) != 0 {
		t.Fatalf("redemption created on failed redeem")
	}
}

func TestRedeem_Success(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	u := repo.addUser(model.User{IsActive: true, Points: 25})
	rw := repo.addReward(model.Reward{Title: "PHP 100", AmountCash: 100, PointsCost: 10, IsActive: true})

	rd, err := svc.Redeem(context.Background(), u.ID, rw.ID, nil)
	if err != nil {
		t.Fatalf("Redeem error: %v", err)
	}

	if rd.Status != model.RedemptionStatusPending {
		t.Fatalf("status = %q, want PENDING", rd.Status)
	}
	if rd.Reward == nil || rd.Reward.Title != "PHP 100" {
		t.Fatalf("redemption must include the reward")
	}

	got, _ := svc.GetUser(context.Background(), u.ID)
	if got.Points != 15 {
		t.Fatalf("balance = %v, want 15", got.Points)
	}
	if len(repo.redemptions) != 1 {
		t.Fatalf("redemptions = %d, want 1", len(repo.redemptions))
	}
}

func TestRedeem_NotFound(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	u := repo.addUser(model.User{IsActive: true, Points: 100})
	rw := repo.addReward(model.Reward{PointsCost: 10, IsActive: true})

	if _, err := svc.Redeem(context.Background(), 999, rw.ID, nil); !errors.Is(err, repository.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := svc.Redeem(context.Background(), u.ID, 999, nil); !errors.Is(err, repository.ErrRewardNotFound) {
		t.Fatalf("expected ErrRewardNotFound, got %v", err)
	}

	missing := int64(999)
	if _, err := svc.Redeem(context.Background(), u.ID, rw.ID, &missing); !errors.Is(err, repository.ErrPayoutMethodNotFound) {
		t.Fatalf("expected ErrPayoutMethodNotFound, got %v", err)
	}
}

func TestAddPayoutMethod_Validation(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	u := repo.addUser(model.User{IsActive: true})

	if _, err := svc.AddPayoutMethod(context.Background(), u.ID, "PAYPAL", "09171234567", false); !errors.Is(err, ErrInvalidProvider) {
		t.Fatalf("expected ErrInvalidProvider, got %v", err)
	}
	if _, err := svc.AddPayoutMethod(context.Background(), u.ID, model.WalletProviderGcash, "123", false); !errors.Is(err, ErrInvalidAccountNumber) {
		t.Fatalf("expected ErrInvalidAccountNumber, got %v", err)
	}
}

func countDefaults(methods []model.PayoutMethod) int {
	n := 0
	for _, m := range methods {
		if m.IsDefault {
			n++
		}
	}
	return n
}

func TestAddPayoutMethod_FirstIsDefault(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	u := repo.addUser(model.User{IsActive: true})

	// isDefault=false, но первый способ всё равно становится основным
	m, err := svc.AddPayoutMethod(context.Background(), u.ID, model.WalletProviderGcash, "09171234567", false)
	if err != nil {
		t.Fatalf("AddPayoutMethod error: %v", err)
	}
	if !m.IsDefault {
		t.Fatalf("first payout method must be default")
	}
}

func TestPayoutMethods_AtMostOneDefault(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	u := repo.addUser(model.User{IsActive: true})
	ctx := context.Background()

	check := func(step string) {
		t.Helper()
		methods, err := svc.PayoutMethodsByUser(ctx, u.ID)
		if err != nil {
			t.Fatalf("%s: list error: %v", step, err)
		}
		if n := countDefaults(methods); n > 1 {
			t.Fatalf("%s: %d default methods, want at most 1", step, n)
		}
	}

	first, _ := svc.AddPayoutMethod(ctx, u.ID, model.WalletProviderGcash, "09171111111", false)
	check("after first add")

	second, err := svc.AddPayoutMethod(ctx, u.ID, model.WalletProviderMaya, "09172222222", true)
	if err != nil {
		t.Fatalf("AddPayoutMethod error: %v", err)
	}
	check("after add with isDefault")
	if !second.IsDefault {
		t.Fatalf("second method requested as default must be default")
	}

	if _, err := svc.AddPayoutMethod(ctx, u.ID, model.WalletProviderGcash, "09173333333", false); err != nil {
		t.Fatalf("AddPayoutMethod error: %v", err)
	}
	check("after add without isDefault")

	if _, err := svc.SetDefaultPayoutMethod(ctx, first.ID); err != nil {
		t.Fatalf("SetDefaultPayoutMethod error: %v", err)
	}
	check("after set default")

	methods, _ := svc.PayoutMethodsByUser(ctx, u.ID)
	for _, m := range methods {
		if m.ID == first.ID && !m.IsDefault {
			t.Fatalf("method %d must be default after SetDefaultPayoutMethod", first.ID)
		}
	}
}

func TestSetDefaultPayoutMethod_NotFound(t *testing.T) {
	svc := NewService(newMemRepo())

	_, err := svc.SetDefaultPayoutMethod(context.Background(), 999)
	if !errors.Is(err, repository.ErrPayoutMethodNotFound) {
		t.Fatalf("expected ErrPayoutMethodNotFound, got %v", err)
	}
}

func TestSetRedemptionStatus_ProcessedAt(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	u := repo.addUser(model.User{IsActive: true, Points: 10})
	rw := repo.addReward(model.Reward{PointsCost: 10, IsActive: true})

	rd, err := svc.Redeem(context.Background(), u.ID, rw.ID, nil)
	if err != nil {
		t.Fatalf("Redeem error: %v", err)
	}

	paid, err := svc.SetRedemptionStatus(context.Background(), rd.ID, model.RedemptionStatusPaid)
	if err != nil {
		t.Fatalf("SetRedemptionStatus error: %v", err)
	}
	if paid.ProcessedAt == nil {
		t.Fatalf("processedAt must be set for PAID")
	}

	// Обратный переход допустим, processedAt сбрасывается
	pending, err := svc.SetRedemptionStatus(context.Background(), rd.ID, model.RedemptionStatusPending)
	if err != nil {
		t.Fatalf("SetRedemptionStatus error: %v", err)
	}
	if pending.ProcessedAt != nil {
		t.Fatalf("processedAt must be cleared for non-PAID status")
	}

	if _, err := svc.SetRedemptionStatus(context.Background(), rd.ID, ""); err == nil {
		t.Fatalf("expected error for empty status")
	}
}

func TestAdminAdjustUser_OverwritesPoints(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	u := repo.addUser(model.User{IsActive: true, Points: 50})

	newPoints := 12.5
	got, err := svc.AdminAdjustUser(context.Background(), u.ID, AdminUserUpdate{Points: &newPoints})
	if err != nil {
		t.Fatalf("AdminAdjustUser error: %v", err)
	}
	if got.Points != 12.5 {
		t.Fatalf("points = %v, want 12.5 (absolute overwrite)", got.Points)
	}

	// Повторный вызов с тем же значением не прибавляет
	got, err = svc.AdminAdjustUser(context.Background(), u.ID, AdminUserUpdate{Points: &newPoints})
	if err != nil {
		t.Fatalf("AdminAdjustUser error: %v", err)
	}
	if got.Points != 12.5 {
		t.Fatalf("points = %v, want 12.5 after repeated call", got.Points)
	}

	inactive := false
	got, err = svc.AdminAdjustUser(context.Background(), u.ID, AdminUserUpdate{IsActive: &inactive})
	if err != nil {
		t.Fatalf("AdminAdjustUser error: %v", err)
	}
	if got.IsActive {
		t.Fatalf("user must be inactive after adjustment")
	}
}
