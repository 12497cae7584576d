// Package model はドメインモデルを定義する。
package model

import "time"

// ItemStatus は寄付アイテムのライフサイクル状態を表す。
type ItemStatus string

const (
	// ItemStatusAvailable は誰も申請していない状態。
	ItemStatusAvailable ItemStatus = "Available"
	// ItemStatusPending は申請済みで提供者の承認待ちの状態。
	ItemStatusPending ItemStatus = "Pending"
	// ItemStatusClaimed は承認済みの状態。
	ItemStatusClaimed ItemStatus = "Claimed"
)

// Valid は状態が定義済みの値かどうかを返す。
func (s ItemStatus) Valid() bool {
	switch s {
	case ItemStatusAvailable, ItemStatusPending, ItemStatusClaimed:
		return true
	default:
		return false
	}
}

// HasClaimant はこの状態で申請者が設定されているべきかを返す。
func (s ItemStatus) HasClaimant() bool {
	return s == ItemStatusPending || s == ItemStatusClaimed
}

// FoodItem は提供者が登録した寄付食品を表す。
// DonorIDがnilの行は提供者記録導入前のレガシーアイテム。
type FoodItem struct {
	ID             int64      `db:"id"`
	Name           string     `db:"name"`
	Quantity       int        `db:"quantity"`
	ExpirationDate *time.Time `db:"expiration_date"`
	Status         ItemStatus `db:"status"`
	ImageURL       string     `db:"image_url"`
	DonorID        *int64     `db:"donor_id"`
	ClaimantID     *int64     `db:"claimant_id"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

// IsLegacy は提供者が記録されていないアイテムかどうかを返す。
func (i *FoodItem) IsLegacy() bool {
	return i.DonorID == nil
}

// IsDonor は指定ユーザーが提供者かどうかを返す。
func (i *FoodItem) IsDonor(userID int64) bool {
	return i.DonorID != nil && *i.DonorID == userID
}

// IsClaimant は指定ユーザーが申請者かどうかを返す。
func (i *FoodItem) IsClaimant(userID int64) bool {
	return i.ClaimantID != nil && *i.ClaimantID == userID
}

// FoodItemView はアイテムに提供者名・申請者名を結合した一覧表示用モデル。
// usersテーブルとLEFT JOINして1クエリで取得される。
type FoodItemView struct {
	FoodItem
	DonorName    string `db:"donor_name"`
	ClaimantName string `db:"claimant_name"`
}

// ItemFilter はアイテム一覧の絞り込み条件。
type ItemFilter struct {
	Status *ItemStatus
}
