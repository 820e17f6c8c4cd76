// Package handler содержит HTTP-обработчики API сервиса ecopoints.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"
	"github.com/jdelacruz/ecopoints-system/internal/middleware"
	"github.com/jdelacruz/ecopoints-system/internal/model"
	"github.com/jdelacruz/ecopoints-system/internal/points"
	"github.com/jdelacruz/ecopoints-system/internal/repository"
	"github.com/jdelacruz/ecopoints-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, in service.RegisterInput) (*model.User, error)
	AuthenticateUser(ctx context.Context, email, password string) (*model.User, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	UpdateProfile(ctx context.Context, id int64, upd service.ProfileUpdate) (*model.User, error)
	ChangePassword(ctx context.Context, id int64, currentPassword, newPassword string) error
	UpdateAvatar(ctx context.Context, id int64, avatarPath string) (*model.User, error)
	SearchUsers(ctx context.Context, query string) ([]model.User, error)
	AdminAdjustUser(ctx context.Context, id int64, upd service.AdminUserUpdate) (*model.User, error)

	RecordEarn(ctx context.Context, userID int64, category model.Category, weightKg float64) (*model.RecycleTransaction, error)
	TransactionsByUser(ctx context.Context, userID int64) ([]model.RecycleTransaction, error)
	AllTransactions(ctx context.Context) ([]model.RecycleTransaction, error)

	ListRewards(ctx context.Context) ([]model.Reward, error)
	Redeem(ctx context.Context, userID, rewardID int64, payoutMethodID *int64) (*model.Redemption, error)
	RedemptionsByUser(ctx context.Context, userID int64) ([]model.Redemption, error)
	AllRedemptions(ctx context.Context) ([]model.Redemption, error)
	SetRedemptionStatus(ctx context.Context, id int64, status model.RedemptionStatus) (*model.Redemption, error)

	PayoutMethodsByUser(ctx context.Context, userID int64) ([]model.PayoutMethod, error)
	AddPayoutMethod(ctx context.Context, userID int64, provider model.WalletProvider, accountNumber string, isDefault bool) (*model.PayoutMethod, error)
	SetDefaultPayoutMethod(ctx context.Context, methodID int64) (*model.PayoutMethod, error)

	ActiveSchedules(ctx context.Context) ([]model.CollectionSchedule, error)
	NextSchedule(ctx context.Context) (*model.CollectionSchedule, error)
	CreateSchedule(ctx context.Context, title string, description *string, location string, startAt time.Time, endAt *time.Time) (*model.CollectionSchedule, error)
	UpdateSchedule(ctx context.Context, id int64, upd repository.ScheduleUpdate) (*model.CollectionSchedule, error)
}

// Handler реализует HTTP-обработчики API сервиса ecopoints.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	avatarsDir     string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, avatarsDir string) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		avatarsDir:     avatarsDir,
	}
}

type errorResponse struct {
	Message string `json:"message"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Message: message})
}

// mapError переводит доменные ошибки в HTTP-статусы.
func (h *Handler) mapError(w http.ResponseWriter, err error, context string) {
	switch {
	case errors.Is(err, repository.ErrUserNotFound),
		errors.Is(err, repository.ErrRewardNotFound),
		errors.Is(err, repository.ErrPayoutMethodNotFound),
		errors.Is(err, repository.ErrRedemptionNotFound),
		errors.Is(err, repository.ErrScheduleNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, repository.ErrInsufficientBalance):
		h.writeError(w, http.StatusBadRequest, "Insufficient points")
	case errors.Is(err, repository.ErrUserExists):
		h.writeError(w, http.StatusConflict, "Email already registered")
	case errors.Is(err, service.ErrInvalidCredentials):
		h.writeError(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, service.ErrWrongPassword):
		h.writeError(w, http.StatusUnauthorized, "Current password is incorrect")
	default:
		h.logger.Error(context, zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func idParam(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

// Health сообщает о готовности сервиса.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registerRequest struct {
	FirstName string     `json:"firstName"`
	LastName  string     `json:"lastName"`
	Email     string     `json:"email"`
	Phone     *string    `json:"phone"`
	Birthdate *time.Time `json:"birthdate"`
	Password  string     `json:"password"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Email == "" || req.Password == "" || req.FirstName == "" || req.LastName == "" {
		h.writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	u, err := h.service.RegisterUser(r.Context(), service.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Birthdate: req.Birthdate,
	})
	if err != nil {
		h.mapError(w, err, "register user error")
		return
	}

	h.authMiddleware.SetAuthCookie(w, u.ID)
	h.writeJSON(w, http.StatusCreated, u)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Email == "" || req.Password == "" {
		h.writeError(w, http.StatusBadRequest, "Email and password required")
		return
	}

	u, err := h.service.AuthenticateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		h.mapError(w, err, "login user error")
		return
	}

	h.authMiddleware.SetAuthCookie(w, u.ID)
	h.writeJSON(w, http.StatusOK, u)
}

// GetUser возвращает пользователя по идентификатору.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "userID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	u, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		h.mapError(w, err, "get user error")
		return
	}

	h.writeJSON(w, http.StatusOK, u)
}

type profileRequest struct {
	FirstName string     `json:"firstName"`
	LastName  string     `json:"lastName"`
	Phone     *string    `json:"phone"`
	Birthdate *time.Time `json:"birthdate"`
}

// UpdateProfile обновляет профильные поля пользователя.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "userID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	u, err := h.service.UpdateProfile(r.Context(), id, service.ProfileUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Birthdate: req.Birthdate,
	})
	if err != nil {
		h.mapError(w, err, "update profile error")
		return
	}

	h.writeJSON(w, http.StatusOK, u)
}

type passwordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// ChangePassword меняет пароль пользователя.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "userID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	var req passwordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.CurrentPassword == "" || req.NewPassword == "" {
		h.writeError(w, http.StatusBadRequest, "Current and new passwords are required")
		return
	}

	if err := h.service.ChangePassword(r.Context(), id, req.CurrentPassword, req.NewPassword); err != nil {
		h.mapError(w, err, "change password error")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]int64{"id": id})
}

// UploadAvatar принимает multipart-файл аватара и сохраняет его на диск.
func (h *Handler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	userID, err := strconv.ParseInt(r.FormValue("userId"), 10, 64)
	if err != nil || userID == 0 {
		h.writeError(w, http.StatusBadRequest, "Missing userId or file")
		return
	}

	file, header, err := r.FormFile("avatar")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Missing userId or file")
		return
	}
	defer file.Close()

	filename, err := h.saveAvatar(file, header)
	if err != nil {
		h.logger.Error("save avatar error", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	u, err := h.service.UpdateAvatar(r.Context(), userID, "/avatars/"+filename)
	if err != nil {
		h.mapError(w, err, "update avatar error")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]*string{"avatarPath": u.AvatarPath})
}

func (h *Handler) saveAvatar(file multipart.File, header *multipart.FileHeader) (string, error) {
	if err := os.MkdirAll(h.avatarsDir, 0o755); err != nil {
		return "", fmt.Errorf("create avatars dir: %w", err)
	}

	ext := filepath.Ext(header.Filename)
	base := "avatar"
	if header.Filename != "" {
		base = header.Filename[:len(header.Filename)-len(ext)]
	}
	filename := fmt.Sprintf("%s-%d%s", filepath.Base(base), time.Now().UnixMilli(), ext)

	dst, err := os.Create(filepath.Join(h.avatarsDir, filename))
	if err != nil {
		return "", fmt.Errorf("create avatar file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		return "", fmt.Errorf("write avatar file: %w", err)
	}

	return filename, nil
}

// SearchUsers ищет активных пользователей по запросу q.
func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.SearchUsers(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.mapError(w, err, "search users error")
		return
	}

	if users == nil {
		users = []model.User{}
	}
	h.writeJSON(w, http.StatusOK, users)
}

type adminUserRequest struct {
	Points   *float64 `json:"points"`
	IsActive *bool    `json:"isActive"`
	Password string   `json:"password"`
}

// AdminAdjustUser выполняет административную правку пользователя.
func (h *Handler) AdminAdjustUser(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	var req adminUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	u, err := h.service.AdminAdjustUser(r.Context(), id, service.AdminUserUpdate{
		Points:   req.Points,
		IsActive: req.IsActive,
		Password: req.Password,
	})
	if err != nil {
		h.mapError(w, err, "admin adjust user error")
		return
	}

	h.writeJSON(w, http.StatusOK, u)
}

type earnRequest struct {
	UserID   int64    `json:"userId"`
	Category string   `json:"category"`
	WeightKg *float64 `json:"weightKg"`
}

// RecordEarn создаёт запись о сдаче вторсырья и начисляет баллы.
func (h *Handler) RecordEarn(w http.ResponseWriter, r *http.Request) {
	var req earnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.UserID == 0 || req.Category == "" || req.WeightKg == nil {
		h.writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	rt, err := h.service.RecordEarn(r.Context(), req.UserID, model.Category(req.Category), *req.WeightKg)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCategory) {
			h.writeError(w, http.StatusBadRequest, "Unknown category")
			return
		}
		if errors.Is(err, repository.ErrUserInactive) {
			h.writeError(w, http.StatusBadRequest, "User is not active")
			return
		}
		if errors.Is(err, points.ErrInvalidWeight) {
			h.writeError(w, http.StatusBadRequest, "Invalid weight")
			return
		}
		h.mapError(w, err, "record earn error")
		return
	}

	h.writeJSON(w, http.StatusCreated, rt)
}

// AllTransactions возвращает все сдачи вторсырья с данными пользователей.
func (h *Handler) AllTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.service.AllTransactions(r.Context())
	if err != nil {
		h.mapError(w, err, "list transactions error")
		return
	}

	if txs == nil {
		txs = []model.RecycleTransaction{}
	}
	h.writeJSON(w, http.StatusOK, txs)
}

// UserTransactions возвращает историю сдач пользователя.
func (h *Handler) UserTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "userID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	txs, err := h.service.TransactionsByUser(r.Context(), id)
	if err != nil {
		h.mapError(w, err, "list user transactions error")
		return
	}

	if txs == nil {
		txs = []model.RecycleTransaction{}
	}
	h.writeJSON(w, http.StatusOK, txs)
}

// ListRewards возвращает активные вознаграждения.
func (h *Handler) ListRewards(w http.ResponseWriter, r *http.Request) {
	rewards, err := h.service.ListRewards(r.Context())
	if err != nil {
		h.mapError(w, err, "list rewards error")
		return
	}

	if rewards == nil {
		rewards = []model.Reward{}
	}
	h.writeJSON(w, http.StatusOK, rewards)
}

type redeemRequest struct {
	UserID         int64  `json:"userId"`
	RewardID       int64  `json:"rewardId"`
	PayoutMethodID *int64 `json:"payoutMethodId"`
}

// Redeem создаёт заявку на обмен баллов на выплату.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.UserID == 0 || req.RewardID == 0 {
		h.writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	rd, err := h.service.Redeem(r.Context(), req.UserID, req.RewardID, req.PayoutMethodID)
	if err != nil {
		h.mapError(w, err, "redeem error")
		return
	}

	h.writeJSON(w, http.StatusCreated, rd)
}

// UserRedemptions возвращает заявки пользователя на выплаты.
func (h *Handler) UserRedemptions(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "userID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	rds, err := h.service.RedemptionsByUser(r.Context(), id)
	if err != nil {
		h.mapError(w, err, "list user redemptions error")
		return
	}

	if rds == nil {
		rds = []model.Redemption{}
	}
	h.writeJSON(w, http.StatusOK, rds)
}

// AllRedemptions возвращает все заявки на выплаты для администратора.
func (h *Handler) AllRedemptions(w http.ResponseWriter, r *http.Request) {
	rds, err := h.service.AllRedemptions(r.Context())
	if err != nil {
		h.mapError(w, err, "list redemptions error")
		return
	}

	if rds == nil {
		rds = []model.Redemption{}
	}
	h.writeJSON(w, http.StatusOK, rds)
}

type redemptionStatusRequest struct {
	Status string `json:"status"`
}

// SetRedemptionStatus переводит заявку в указанный статус.
func (h *Handler) SetRedemptionStatus(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid redemption id")
		return
	}

	var req redemptionStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Status == "" {
		h.writeError(w, http.StatusBadRequest, "Status is required")
		return
	}

	rd, err := h.service.SetRedemptionStatus(r.Context(), id, model.RedemptionStatus(req.Status))
	if err != nil {
		h.mapError(w, err, "set redemption status error")
		return
	}

	h.writeJSON(w, http.StatusOK, rd)
}

// UserPayoutMethods возвращает способы выплат пользователя.
func (h *Handler) UserPayoutMethods(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "userID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	methods, err := h.service.PayoutMethodsByUser(r.Context(), id)
	if err != nil {
		h.mapError(w, err, "list payout methods error")
		return
	}

	if methods == nil {
		methods = []model.PayoutMethod{}
	}
	h.writeJSON(w, http.StatusOK, methods)
}

type payoutMethodRequest struct {
	UserID        int64  `json:"userId"`
	Provider      string `json:"provider"`
	AccountNumber string `json:"accountNumber"`
	IsDefault     bool   `json:"isDefault"`
}

// AddPayoutMethod добавляет способ выплаты пользователю.
func (h *Handler) AddPayoutMethod(w http.ResponseWriter, r *http.Request) {
	var req payoutMethodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.UserID == 0 || req.Provider == "" || req.AccountNumber == "" {
		h.writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	m, err := h.service.AddPayoutMethod(r.Context(), req.UserID, model.WalletProvider(req.Provider), req.AccountNumber, req.IsDefault)
	if err != nil {
		if errors.Is(err, service.ErrInvalidProvider) {
			h.writeError(w, http.StatusBadRequest, "Invalid provider")
			return
		}
		if errors.Is(err, service.ErrInvalidAccountNumber) {
			h.writeError(w, http.StatusBadRequest, "Account number must be 11 digits")
			return
		}
		h.mapError(w, err, "add payout method error")
		return
	}

	h.writeJSON(w, http.StatusCreated, m)
}

// SetDefaultPayoutMethod делает способ выплаты основным.
func (h *Handler) SetDefaultPayoutMethod(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid payout method id")
		return
	}

	m, err := h.service.SetDefaultPayoutMethod(r.Context(), id)
	if err != nil {
		h.mapError(w, err, "set default payout method error")
		return
	}

	h.writeJSON(w, http.StatusOK, m)
}

// ListSchedules возвращает активные расписания приёма.
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.service.ActiveSchedules(r.Context())
	if err != nil {
		h.mapError(w, err, "list schedules error")
		return
	}

	if schedules == nil {
		schedules = []model.CollectionSchedule{}
	}
	h.writeJSON(w, http.StatusOK, schedules)
}

// NextSchedule возвращает ближайшее будущее расписание или null.
func (h *Handler) NextSchedule(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.NextSchedule(r.Context())
	if err != nil {
		h.mapError(w, err, "next schedule error")
		return
	}

	h.writeJSON(w, http.StatusOK, s)
}

type scheduleRequest struct {
	Title       string     `json:"title"`
	Description *string    `json:"description"`
	Location    string     `json:"location"`
	StartAt     *time.Time `json:"startAt"`
	EndAt       *time.Time `json:"endAt"`
	IsActive    *bool      `json:"isActive"`
}

// CreateSchedule создаёт расписание приёма.
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Title == "" || req.Location == "" || req.StartAt == nil {
		h.writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	s, err := h.service.CreateSchedule(r.Context(), req.Title, req.Description, req.Location, *req.StartAt, req.EndAt)
	if err != nil {
		h.mapError(w, err, "create schedule error")
		return
	}

	h.writeJSON(w, http.StatusCreated, s)
}

// UpdateSchedule обновляет расписание приёма.
func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid schedule id")
		return
	}

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	upd := repository.ScheduleUpdate{
		StartAt:  req.StartAt,
		EndAt:    req.EndAt,
		IsActive: req.IsActive,
	}
	if req.Title != "" {
		upd.Title = &req.Title
	}
	if req.Description != nil {
		upd.Description = req.Description
	}
	if req.Location != "" {
		upd.Location = &req.Location
	}

	s, err := h.service.UpdateSchedule(r.Context(), id, upd)
	if err != nil {
		h.mapError(w, err, "update schedule error")
		return
	}

	h.writeJSON(w, http.StatusOK, s)
}
