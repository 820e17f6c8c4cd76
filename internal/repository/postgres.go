// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jdelacruz/ecopoints-system/internal/model"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке регистрации с уже занятым email.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserInactive возвращается при операции над деактивированным пользователем.
	ErrUserInactive = errors.New("user is not active")
	// ErrRewardNotFound возвращается, если вознаграждение не найдено.
	ErrRewardNotFound = errors.New("reward not found")
	// ErrPayoutMethodNotFound возвращается, если способ выплаты не найден.
	ErrPayoutMethodNotFound = errors.New("payout method not found")
	// ErrRedemptionNotFound возвращается, если заявка на выплату не найдена.
	ErrRedemptionNotFound = errors.New("redemption not found")
	// ErrScheduleNotFound возвращается, если расписание приёма не найдено.
	ErrScheduleNotFound = errors.New("collection schedule not found")
	// ErrInsufficientBalance возвращается при попытке списания баллов сверх баланса.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// AdminUserUpdate описывает административную правку пользователя.
// Nil-поля не изменяются; Points перезаписывает баланс абсолютным значением.
type AdminUserUpdate struct {
	Points       *float64
	IsActive     *bool
	PasswordHash []byte
}

// ScheduleUpdate описывает правку расписания приёма. Nil-поля не изменяются.
type ScheduleUpdate struct {
	Title       *string
	Description *string
	Location    *string
	StartAt     *time.Time
	EndAt       *time.Time
	IsActive    *bool
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи полезны для Serialization Failure или Deadlocks.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

const userColumns = `id, email, password_hash, first_name, last_name, phone, birthdate, role, points, is_active, avatar_path, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName,
		&u.Phone, &u.Birthdate, &u.Role, &u.Points, &u.IsActive, &u.AvatarPath, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, email string, passwordHash []byte, firstName, lastName string, phone *string, birthdate *time.Time) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx,
		`INSERT INTO users (email, password_hash, first_name, last_name, phone, birthdate)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+userColumns,
		email, passwordHash, firstName, lastName, phone, birthdate,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrUserExists, email)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// GetUserByEmail возвращает пользователя по email.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return u, nil
}

// UpdateUserProfile обновляет профильные поля пользователя.
func (r *PostgresRepository) UpdateUserProfile(ctx context.Context, id int64, firstName, lastName string, phone *string, birthdate *time.Time) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx,
		`UPDATE users
		 SET first_name = $2, last_name = $3, phone = $4, birthdate = $5
		 WHERE id = $1
		 RETURNING `+userColumns,
		id, firstName, lastName, phone, birthdate,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return u, nil
}

// UpdateUserPassword заменяет хэш пароля пользователя.
func (r *PostgresRepository) UpdateUserPassword(ctx context.Context, id int64, passwordHash []byte) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE users SET password_hash = $2 WHERE id = $1`, id, passwordHash,
	)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdateUserAvatar сохраняет путь к загруженному аватару пользователя.
func (r *PostgresRepository) UpdateUserAvatar(ctx context.Context, id int64, avatarPath string) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx,
		`UPDATE users SET avatar_path = $2 WHERE id = $1 RETURNING `+userColumns,
		id, avatarPath,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("update avatar: %w", err)
	}
	return u, nil
}

// SearchActiveUsers ищет активных пользователей по подстроке email или имени.
func (r *PostgresRepository) SearchActiveUsers(ctx context.Context, query string, limit int) ([]model.User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+userColumns+`
		 FROM users
		 WHERE is_active AND (email ILIKE '%' || $1 || '%' OR first_name ILIKE '%' || $1 || '%')
		 ORDER BY first_name
		 LIMIT $2`,
		query, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return users, nil
}

// AdminUpdateUser выполняет административную правку пользователя.
// Баланс перезаписывается абсолютным значением без проверок бизнес-правил.
func (r *PostgresRepository) AdminUpdateUser(ctx context.Context, id int64, upd AdminUserUpdate) (*model.User, error) {
	set := make([]string, 0, 3)
	args := []any{id}

	if upd.Points != nil {
		args = append(args, *upd.Points)
		set = append(set, fmt.Sprintf("points = $%d", len(args)))
	}
	if upd.IsActive != nil {
		args = append(args, *upd.IsActive)
		set = append(set, fmt.Sprintf("is_active = $%d", len(args)))
	}
	if len(upd.PasswordHash) > 0 {
		args = append(args, upd.PasswordHash)
		set = append(set, fmt.Sprintf("password_hash = $%d", len(args)))
	}

	if len(set) == 0 {
		return r.GetUserByID(ctx, id)
	}

	u, err := scanUser(r.pool.QueryRow(ctx,
		`UPDATE users SET `+strings.Join(set, ", ")+` WHERE id = $1 RETURNING `+userColumns,
		args...,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("admin update user: %w", err)
	}
	return u, nil
}

// lockUser блокирует строку пользователя для сериализации операций над его
// балансом и связанными записями. Возвращает признак активности и текущий
// баланс, чтобы не перечитывать строку отдельным запросом.
func lockUser(ctx context.Context, tx pgx.Tx, userID int64) (isActive bool, points float64, err error) {
	err = tx.QueryRow(ctx, `SELECT is_active, points FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&isActive, &points)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, 0, ErrUserNotFound
		}
		return false, 0, fmt.Errorf("lock user for update: %w", err)
	}
	return isActive, points, nil
}

// CreateRecycleTransaction атомарно создаёт запись о сдаче вторсырья и
// увеличивает баланс пользователя на pointsTotal.
func (r *PostgresRepository) CreateRecycleTransaction(ctx context.Context, userID int64, category model.Category, weightKg, pointsBase, pointsMultiplier, pointsTotal float64) (*model.RecycleTransaction, error) {
	var result *model.RecycleTransaction

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		isActive, _, err := lockUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if !isActive {
			return ErrUserInactive
		}

		var rt model.RecycleTransaction
		err = tx.QueryRow(ctx,
			`INSERT INTO recycle_transactions (user_id, category, weight_kg, points_base, points_multiplier, points_total)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id, user_id, category, weight_kg, points_base, points_multiplier, points_total, created_at`,
			userID, string(category), weightKg, pointsBase, pointsMultiplier, pointsTotal,
		).Scan(&rt.ID, &rt.UserID, &rt.Category, &rt.WeightKg, &rt.PointsBase, &rt.PointsMultiplier, &rt.PointsTotal, &rt.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE users SET points = points + $2 WHERE id = $1`,
			userID, pointsTotal,
		)
		if err != nil {
			return fmt.Errorf("increment points: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		result = &rt
		return nil
	})

	return result, err
}

const transactionColumns = `id, user_id, category, weight_kg, points_base, points_multiplier, points_total, created_at`

// GetTransactionsByUser возвращает историю сдач пользователя по возрастанию времени.
func (r *PostgresRepository) GetTransactionsByUser(ctx context.Context, userID int64) ([]model.RecycleTransaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+transactionColumns+`
		 FROM recycle_transactions
		 WHERE user_id = $1
		 ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var res []model.RecycleTransaction
	for rows.Next() {
		var rt model.RecycleTransaction
		if err := rows.Scan(&rt.ID, &rt.UserID, &rt.Category, &rt.WeightKg, &rt.PointsBase, &rt.PointsMultiplier, &rt.PointsTotal, &rt.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		res = append(res, rt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetAllTransactions возвращает все сдачи с данными пользователей по возрастанию времени.
func (r *PostgresRepository) GetAllTransactions(ctx context.Context) ([]model.RecycleTransaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT t.id, t.user_id, t.category, t.weight_kg, t.points_base, t.points_multiplier, t.points_total, t.created_at,
		        u.email, u.first_name, u.last_name
		 FROM recycle_transactions t
		 JOIN users u ON u.id = t.user_id
		 ORDER BY t.created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("select all transactions: %w", err)
	}
	defer rows.Close()

	var res []model.RecycleTransaction
	for rows.Next() {
		var rt model.RecycleTransaction
		var u model.User
		if err := rows.Scan(&rt.ID, &rt.UserID, &rt.Category, &rt.WeightKg, &rt.PointsBase, &rt.PointsMultiplier, &rt.PointsTotal, &rt.CreatedAt,
			&u.Email, &u.FirstName, &u.LastName); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		u.ID = rt.UserID
		rt.User = &u
		res = append(res, rt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetActiveRewards возвращает активные вознаграждения по возрастанию стоимости.
func (r *PostgresRepository) GetActiveRewards(ctx context.Context) ([]model.Reward, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, amount_cash, points_cost, is_active, created_at
		 FROM rewards
		 WHERE is_active
		 ORDER BY points_cost`,
	)
	if err != nil {
		return nil, fmt.Errorf("select rewards: %w", err)
	}
	defer rows.Close()

	var res []model.Reward
	for rows.Next() {
		var rw model.Reward
		if err := rows.Scan(&rw.ID, &rw.Title, &rw.AmountCash, &rw.PointsCost, &rw.IsActive, &rw.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reward: %w", err)
		}
		res = append(res, rw)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateRedemption атомарно создаёт заявку на выплату и списывает стоимость
// вознаграждения с баланса пользователя. Строка пользователя блокируется,
// чтобы параллельные списания не превысили баланс.
func (r *PostgresRepository) CreateRedemption(ctx context.Context, userID, rewardID int64, payoutMethodID *int64) (*model.Redemption, error) {
	var result *model.Redemption

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		_, points, err := lockUser(ctx, tx, userID)
		if err != nil {
			return err
		}

		var reward model.Reward
		err = tx.QueryRow(ctx,
			`SELECT id, title, amount_cash, points_cost, is_active, created_at FROM rewards WHERE id = $1`,
			rewardID,
		).Scan(&reward.ID, &reward.Title, &reward.AmountCash, &reward.PointsCost, &reward.IsActive, &reward.CreatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrRewardNotFound
			}
			return fmt.Errorf("select reward: %w", err)
		}

		if payoutMethodID != nil {
			var dummy int
			err = tx.QueryRow(ctx, `SELECT 1 FROM payout_methods WHERE id = $1`, *payoutMethodID).Scan(&dummy)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return ErrPayoutMethodNotFound
				}
				return fmt.Errorf("select payout method: %w", err)
			}
		}

		if points < reward.PointsCost {
			return ErrInsufficientBalance
		}

		var rd model.Redemption
		err = tx.QueryRow(ctx,
			`INSERT INTO redemptions (user_id, reward_id, payout_method_id, status)
			 VALUES ($1, $2, $3, $4)
			 RETURNING id, user_id, reward_id, payout_method_id, status, processed_at, created_at`,
			userID, rewardID, payoutMethodID, string(model.RedemptionStatusPending),
		).Scan(&rd.ID, &rd.UserID, &rd.RewardID, &rd.PayoutMethodID, &rd.Status, &rd.ProcessedAt, &rd.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert redemption: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE users SET points = points - $2 WHERE id = $1`,
			userID, reward.PointsCost,
		)
		if err != nil {
			return fmt.Errorf("decrement points: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		rd.Reward = &reward
		result = &rd
		return nil
	})

	return result, err
}

// GetRedemptionsByUser возвращает заявки пользователя с данными вознаграждений,
// новые первыми.
func (r *PostgresRepository) GetRedemptionsByUser(ctx context.Context, userID int64) ([]model.Redemption, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT d.id, d.user_id, d.reward_id, d.payout_method_id, d.status, d.processed_at, d.created_at,
		        w.title, w.amount_cash, w.points_cost
		 FROM redemptions d
		 JOIN rewards w ON w.id = d.reward_id
		 WHERE d.user_id = $1
		 ORDER BY d.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select redemptions: %w", err)
	}
	defer rows.Close()

	var res []model.Redemption
	for rows.Next() {
		var rd model.Redemption
		var rw model.Reward
		if err := rows.Scan(&rd.ID, &rd.UserID, &rd.RewardID, &rd.PayoutMethodID, &rd.Status, &rd.ProcessedAt, &rd.CreatedAt,
			&rw.Title, &rw.AmountCash, &rw.PointsCost); err != nil {
			return nil, fmt.Errorf("scan redemption: %w", err)
		}
		rw.ID = rd.RewardID
		rd.Reward = &rw
		res = append(res, rd)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetAllRedemptions возвращает все заявки с пользователем, вознаграждением и
// способом выплаты, новые первыми.
func (r *PostgresRepository) GetAllRedemptions(ctx context.Context) ([]model.Redemption, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT d.id, d.user_id, d.reward_id, d.payout_method_id, d.status, d.processed_at, d.created_at,
		        u.email, u.first_name, u.last_name,
		        w.title, w.amount_cash, w.points_cost,
		        p.provider, p.account_number, p.is_default
		 FROM redemptions d
		 JOIN users u ON u.id = d.user_id
		 JOIN rewards w ON w.id = d.reward_id
		 LEFT JOIN payout_methods p ON p.id = d.payout_method_id
		 ORDER BY d.created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select all redemptions: %w", err)
	}
	defer rows.Close()

	var res []model.Redemption
	for rows.Next() {
		var rd model.Redemption
		var u model.User
		var rw model.Reward
		var provider, accountNumber *string
		var isDefault *bool

		if err := rows.Scan(&rd.ID, &rd.UserID, &rd.RewardID, &rd.PayoutMethodID, &rd.Status, &rd.ProcessedAt, &rd.CreatedAt,
			&u.Email, &u.FirstName, &u.LastName,
			&rw.Title, &rw.AmountCash, &rw.PointsCost,
			&provider, &accountNumber, &isDefault); err != nil {
			return nil, fmt.Errorf("scan redemption: %w", err)
		}

		u.ID = rd.UserID
		rw.ID = rd.RewardID
		rd.User = &u
		rd.Reward = &rw

		if rd.PayoutMethodID != nil && provider != nil {
			rd.PayoutMethod = &model.PayoutMethod{
				ID:            *rd.PayoutMethodID,
				UserID:        rd.UserID,
				Provider:      model.WalletProvider(*provider),
				AccountNumber: *accountNumber,
				IsDefault:     *isDefault,
			}
		}

		res = append(res, rd)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdateRedemptionStatus устанавливает статус заявки. processed_at выставляется
// только для статуса PAID, иначе сбрасывается в NULL.
func (r *PostgresRepository) UpdateRedemptionStatus(ctx context.Context, id int64, status model.RedemptionStatus) (*model.Redemption, error) {
	var rd model.Redemption
	err := r.pool.QueryRow(ctx,
		`UPDATE redemptions
		 SET status = $2,
		     processed_at = CASE WHEN $2 = 'PAID' THEN now() ELSE NULL END
		 WHERE id = $1
		 RETURNING id, user_id, reward_id, payout_method_id, status, processed_at, created_at`,
		id, string(status),
	).Scan(&rd.ID, &rd.UserID, &rd.RewardID, &rd.PayoutMethodID, &rd.Status, &rd.ProcessedAt, &rd.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRedemptionNotFound
		}
		return nil, fmt.Errorf("update redemption status: %w", err)
	}
	return &rd, nil
}

const payoutMethodColumns = `id, user_id, provider, account_number, is_default, created_at`

func scanPayoutMethod(row pgx.Row) (*model.PayoutMethod, error) {
	var m model.PayoutMethod
	err := row.Scan(&m.ID, &m.UserID, &m.Provider, &m.AccountNumber, &m.IsDefault, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetPayoutMethodsByUser возвращает способы выплат пользователя, основной первым.
func (r *PostgresRepository) GetPayoutMethodsByUser(ctx context.Context, userID int64) ([]model.PayoutMethod, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+payoutMethodColumns+`
		 FROM payout_methods
		 WHERE user_id = $1
		 ORDER BY is_default DESC, created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select payout methods: %w", err)
	}
	defer rows.Close()

	var res []model.PayoutMethod
	for rows.Next() {
		m, err := scanPayoutMethod(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payout method: %w", err)
		}
		res = append(res, *m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreatePayoutMethod атомарно добавляет способ выплаты. Первый способ
// пользователя становится основным независимо от isDefault; при установке
// основного флаги остальных способов сбрасываются в той же транзакции.
func (r *PostgresRepository) CreatePayoutMethod(ctx context.Context, userID int64, provider model.WalletProvider, accountNumber string, isDefault bool) (*model.PayoutMethod, error) {
	var result *model.PayoutMethod

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		// Блокировка владельца сериализует параллельные добавления: две
		// одновременные вставки не могут обе увидеть "способов ещё нет".
		if _, _, err := lockUser(ctx, tx, userID); err != nil {
			return err
		}

		var existing int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM payout_methods WHERE user_id = $1`, userID,
		).Scan(&existing); err != nil {
			return fmt.Errorf("count payout methods: %w", err)
		}

		shouldBeDefault := isDefault || existing == 0

		if shouldBeDefault {
			if _, err := tx.Exec(ctx,
				`UPDATE payout_methods SET is_default = FALSE WHERE user_id = $1`, userID,
			); err != nil {
				return fmt.Errorf("clear defaults: %w", err)
			}
		}

		m, err := scanPayoutMethod(tx.QueryRow(ctx,
			`INSERT INTO payout_methods (user_id, provider, account_number, is_default)
			 VALUES ($1, $2, $3, $4)
			 RETURNING `+payoutMethodColumns,
			userID, string(provider), accountNumber, shouldBeDefault,
		))
		if err != nil {
			return fmt.Errorf("insert payout method: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		result = m
		return nil
	})

	return result, err
}

// SetDefaultPayoutMethod атомарно делает указанный способ выплаты основным,
// сбрасывая флаг у остальных способов владельца.
func (r *PostgresRepository) SetDefaultPayoutMethod(ctx context.Context, methodID int64) (*model.PayoutMethod, error) {
	var result *model.PayoutMethod

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var userID int64
		err = tx.QueryRow(ctx,
			`SELECT user_id FROM payout_methods WHERE id = $1 FOR UPDATE`, methodID,
		).Scan(&userID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrPayoutMethodNotFound
			}
			return fmt.Errorf("select payout method: %w", err)
		}

		if _, _, err := lockUser(ctx, tx, userID); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE payout_methods SET is_default = FALSE WHERE user_id = $1`, userID,
		); err != nil {
			return fmt.Errorf("clear defaults: %w", err)
		}

		m, err := scanPayoutMethod(tx.QueryRow(ctx,
			`UPDATE payout_methods SET is_default = TRUE WHERE id = $1 RETURNING `+payoutMethodColumns,
			methodID,
		))
		if err != nil {
			return fmt.Errorf("set default: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		result = m
		return nil
	})

	return result, err
}

const scheduleColumns = `id, title, description, location, start_at, end_at, is_active, created_at`

func scanSchedule(row pgx.Row) (*model.CollectionSchedule, error) {
	var s model.CollectionSchedule
	err := row.Scan(&s.ID, &s.Title, &s.Description, &s.Location, &s.StartAt, &s.EndAt, &s.IsActive, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetActiveSchedules возвращает активные расписания приёма по возрастанию начала.
func (r *PostgresRepository) GetActiveSchedules(ctx context.Context) ([]model.CollectionSchedule, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+scheduleColumns+`
		 FROM collection_schedules
		 WHERE is_active
		 ORDER BY start_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("select schedules: %w", err)
	}
	defer rows.Close()

	var res []model.CollectionSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		res = append(res, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetNextSchedule возвращает ближайшее будущее активное расписание или nil.
func (r *PostgresRepository) GetNextSchedule(ctx context.Context, now time.Time) (*model.CollectionSchedule, error) {
	s, err := scanSchedule(r.pool.QueryRow(ctx,
		`SELECT `+scheduleColumns+`
		 FROM collection_schedules
		 WHERE is_active AND start_at > $1
		 ORDER BY start_at
		 LIMIT 1`,
		now,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select next schedule: %w", err)
	}
	return s, nil
}

// CreateSchedule создаёт расписание приёма.
func (r *PostgresRepository) CreateSchedule(ctx context.Context, title string, description *string, location string, startAt time.Time, endAt *time.Time) (*model.CollectionSchedule, error) {
	s, err := scanSchedule(r.pool.QueryRow(ctx,
		`INSERT INTO collection_schedules (title, description, location, start_at, end_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+scheduleColumns,
		title, description, location, startAt, endAt,
	))
	if err != nil {
		return nil, fmt.Errorf("insert schedule: %w", err)
	}
	return s, nil
}

// UpdateSchedule обновляет поля расписания приёма. Nil-поля не изменяются.
func (r *PostgresRepository) UpdateSchedule(ctx context.Context, id int64, upd ScheduleUpdate) (*model.CollectionSchedule, error) {
	set := make([]string, 0, 6)
	args := []any{id}

	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.Title != nil {
		add("title", *upd.Title)
	}
	if upd.Description != nil {
		add("description", *upd.Description)
	}
	if upd.Location != nil {
		add("location", *upd.Location)
	}
	if upd.StartAt != nil {
		add("start_at", *upd.StartAt)
	}
	if upd.EndAt != nil {
		add("end_at", *upd.EndAt)
	}
	if upd.IsActive != nil {
		add("is_active", *upd.IsActive)
	}

	if len(set) == 0 {
		s, err := scanSchedule(r.pool.QueryRow(ctx,
			`SELECT `+scheduleColumns+` FROM collection_schedules WHERE id = $1`, id,
		))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrScheduleNotFound
			}
			return nil, fmt.Errorf("select schedule: %w", err)
		}
		return s, nil
	}

	s, err := scanSchedule(r.pool.QueryRow(ctx,
		`UPDATE collection_schedules SET `+strings.Join(set, ", ")+` WHERE id = $1 RETURNING `+scheduleColumns,
		args...,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScheduleNotFound
		}
		return nil, fmt.Errorf("update schedule: %w", err)
	}
	return s, nil
}
