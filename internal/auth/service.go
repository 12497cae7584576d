// Package auth はユーザー登録・ログイン・セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/plateful/internal/database"
	"github.com/hitoshi/plateful/internal/model"
	"github.com/hitoshi/plateful/internal/repository"
)

const (
	// MinPasswordLength はパスワードの最小文字数。
	MinPasswordLength = 3
	// maxPasswordBytes はbcryptが扱えるパスワードの最大バイト数。
	maxPasswordBytes = 72
	// MaxOrganizationLength は団体名の最大文字数。
	MaxOrganizationLength = 100
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,50}$`)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
	BcryptCost    int // パスワードハッシュのコスト。0の場合はbcrypt.DefaultCost
}

// RegisterInput はユーザー登録の入力値。
type RegisterInput struct {
	Username         string
	Password         string
	Role             model.Role
	OrganizationName string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig
	now         func() time.Time

	dummyOnce sync.Once
	dummyHash []byte
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		config:      config,
		now:         database.Now,
	}
}

// Register はユーザーを登録し、そのままログイン状態のセッションを発行する。
// 管理者ロールは登録できない。団体名は企業・慈善団体の場合のみ保存する。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, *model.Session, error) {
	username := strings.TrimSpace(in.Username)
	if !usernamePattern.MatchString(username) {
		return nil, nil, model.NewInvalidInputError("ユーザー名は3〜50文字の英数字と _ . - で入力してください")
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, nil, err
	}

	role := in.Role
	if role == "" {
		role = model.RoleUser
	}
	if !role.Valid() || role == model.RoleAdmin {
		return nil, nil, model.NewInvalidInputError(fmt.Sprintf("登録できないロールです: %s", role))
	}

	org := ""
	if role.RequiresOrganization() {
		org = strings.TrimSpace(in.OrganizationName)
		if org == "" {
			return nil, nil, model.NewInvalidInputError("企業・慈善団体は団体名が必須です")
		}
		if utf8.RuneCountInString(org) > MaxOrganizationLength {
			return nil, nil, model.NewInvalidInputError(fmt.Sprintf("団体名は%d文字以内で入力してください", MaxOrganizationLength))
		}
	}

	existing, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}
	if existing != nil {
		return nil, nil, model.NewUsernameTakenError(username)
	}

	user, err := s.createUser(ctx, username, in.Password, role, org)
	if err != nil {
		return nil, nil, err
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("new user registered",
		slog.Int64("user_id", user.ID),
		slog.String("role", string(user.Role)),
	)
	return user, session, nil
}

// Login はユーザー名とパスワードを検証し、セッションを発行する。
// ユーザーが存在しない場合とパスワード不一致の場合は同じエラーを返す。
func (s *Service) Login(ctx context.Context, username, password string) (*model.User, *model.Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, nil, model.NewInvalidInputError("ユーザー名とパスワードは必須です")
	}

	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		// 存在しないユーザーでも比較を行い、応答時間からユーザーの有無を推測させない
		_ = bcrypt.CompareHashAndPassword(s.dummyPasswordHash(), []byte(password))
		return nil, nil, model.NewInvalidCredentialsError()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, nil, model.NewInvalidCredentialsError()
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("user logged in", slog.Int64("user_id", user.ID))
	return user, session, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out")
	return nil
}

// CurrentUser はセッションから現在のユーザーを取得する。
// セッションが無いか期限切れの場合はUNAUTHORIZEDエラーを返す。
func (s *Service) CurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, model.NewUnauthorizedError()
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, model.NewUnauthorizedError()
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUnauthorizedError()
	}

	return user, nil
}

// FindIdentity はセッションIDから身元情報を解決する。
// 未ログイン・期限切れの場合はnilを返す。セッションミドルウェアから呼ばれる。
func (s *Service) FindIdentity(ctx context.Context, sessionID string) (*model.Identity, error) {
	if sessionID == "" {
		return nil, nil
	}
	return s.sessionRepo.FindIdentity(ctx, sessionID)
}

// EnsureAdmin は管理者ユーザーが存在しなければ作成する。
// 既に同名の管理者が存在する場合は何もせず、createdにfalseを返す。
// 同名の管理者以外のユーザーが存在する場合はエラーを返す。
func (s *Service) EnsureAdmin(ctx context.Context, username, password, organization string) (user *model.User, created bool, err error) {
	username = strings.TrimSpace(username)
	if !usernamePattern.MatchString(username) {
		return nil, false, model.NewInvalidInputError("管理者のユーザー名が不正です")
	}

	existing, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, false, fmt.Errorf("failed to find user: %w", err)
	}
	if existing != nil {
		if existing.Role != model.RoleAdmin {
			return nil, false, fmt.Errorf("user %q already exists with role %s", username, existing.Role)
		}
		return existing, false, nil
	}

	if err := validatePassword(password); err != nil {
		return nil, false, err
	}

	user, err = s.createUser(ctx, username, password, model.RoleAdmin, strings.TrimSpace(organization))
	if err != nil {
		return nil, false, err
	}

	slog.Info("admin user created", slog.Int64("user_id", user.ID))
	return user, true, nil
}

func (s *Service) createUser(ctx context.Context, username, password string, role model.Role, org string) (*model.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		Username:         username,
		PasswordHash:     string(hash),
		Role:             role,
		OrganizationName: org,
		CreatedAt:        s.now(),
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, database.ErrDuplicateKey) {
			return nil, model.NewUsernameTakenError(username)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID int64) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

func (s *Service) dummyPasswordHash() []byte {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("plateful-dummy-password"), s.config.BcryptCost)
	})
	return s.dummyHash
}

func validatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return model.NewInvalidInputError(fmt.Sprintf("パスワードは%d文字以上で入力してください", MinPasswordLength))
	}
	if len(password) > maxPasswordBytes {
		return model.NewInvalidInputError(fmt.Sprintf("パスワードは%dバイト以内で入力してください", maxPasswordBytes))
	}
	return nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
