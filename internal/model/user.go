// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーの種別を表す。
type Role string

const (
	// RoleUser は個人ユーザー。
	RoleUser Role = "user"
	// RoleCompany は食品を提供する企業。
	RoleCompany Role = "company"
	// RoleCharity は食品を受け取る慈善団体。
	RoleCharity Role = "charity"
	// RoleAdmin は全アイテムを操作できる管理者。
	RoleAdmin Role = "admin"
)

// Valid はロールが定義済みの値かどうかを返す。
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleCompany, RoleCharity, RoleAdmin:
		return true
	default:
		return false
	}
}

// RequiresOrganization は団体名が必須のロールかどうかを返す。
func (r Role) RequiresOrganization() bool {
	return r == RoleCompany || r == RoleCharity
}

// User はサービス利用ユーザーを表す。
type User struct {
	ID               int64     `db:"id"`
	Username         string    `db:"username"`
	PasswordHash     string    `db:"password_hash"`
	Role             Role      `db:"role"`
	OrganizationName string    `db:"organization_name"`
	CreatedAt        time.Time `db:"created_at"`
}

// DisplayName は画面表示用の名前を返す。団体名があれば団体名を優先する。
func (u *User) DisplayName() string {
	if u.OrganizationName != "" {
		return u.OrganizationName
	}
	return u.Username
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string    `db:"id"`
	UserID    int64     `db:"user_id"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}

// Identity はセッションから解決されたリクエスト元の身元情報。
// ゼロ値は未ログイン（匿名）を表す。
type Identity struct {
	ID               int64  `db:"id"`
	Username         string `db:"username"`
	Role             Role   `db:"role"`
	OrganizationName string `db:"organization_name"`
}

// Actor はドメイン操作を呼び出した主体を表す。
// サービス層は暗黙のグローバル状態ではなく、常にこの値を引数で受け取る。
type Actor struct {
	UserID int64
	Role   Role
}

// Anonymous は未ログインの呼び出しかどうかを返す。
func (a Actor) Anonymous() bool {
	return a.UserID == 0
}

// IsAdmin は管理者かどうかを返す。
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Actor はIdentityをドメイン操作用のActorに変換する。
func (i Identity) Actor() Actor {
	return Actor{UserID: i.ID, Role: i.Role}
}
