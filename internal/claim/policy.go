package claim

import "github.com/hitoshi/plateful/internal/model"

// Action はアイテムに対する変更操作の種類。
type Action string

const (
	ActionCreate  Action = "create"
	ActionClaim   Action = "claim"
	ActionApprove Action = "approve"
	ActionCancel  Action = "cancel"
	ActionDelete  Action = "delete"
)

// Relation は操作者とアイテムの関係。
type Relation int

const (
	// RelationDonor はアイテムの提供者。
	RelationDonor Relation = iota
	// RelationClaimant はアイテムの現在の申請者。
	RelationClaimant
	// RelationAdmin は管理者ロール。
	RelationAdmin
	// RelationOther は上記のいずれにも該当しないログインユーザー。
	RelationOther
)

// Grant は関係ごとの許可種別。
type Grant int

const (
	// GrantNone はこの関係による許可を与えない。
	GrantNone Grant = iota
	// GrantAllow は常に許可する。
	GrantAllow
	// GrantAllowWhenClaimed はアイテムがClaimedの場合のみ許可する。
	GrantAllowWhenClaimed
	// GrantProhibit は他の関係による許可があっても拒否する。
	GrantProhibit
)

// permissions は操作ごとの権限表。
// 該当する関係のいずれかがGrantProhibitなら拒否し、それ以外は満たされた許可が1つでもあれば許可する。
var permissions = map[Action]map[Relation]Grant{
	ActionClaim: {
		RelationDonor:    GrantProhibit,
		RelationClaimant: GrantAllow,
		RelationAdmin:    GrantAllow,
		RelationOther:    GrantAllow,
	},
	ActionApprove: {
		RelationDonor: GrantAllow,
		RelationAdmin: GrantAllow,
	},
	ActionCancel: {
		RelationDonor:    GrantAllow,
		RelationClaimant: GrantAllow,
		RelationAdmin:    GrantAllow,
	},
	ActionDelete: {
		RelationDonor:    GrantAllow,
		RelationClaimant: GrantAllowWhenClaimed,
		RelationAdmin:    GrantAllow,
	},
}

// Relations は操作者とアイテムの関係を列挙する。
// 提供者・申請者・管理者のいずれにも該当しない場合はRelationOtherのみを返す。
// 提供者が記録されていないレガシーアイテムでは誰もRelationDonorにならない。
func Relations(actor model.Actor, item *model.FoodItem) []Relation {
	var rels []Relation
	if item.IsDonor(actor.UserID) {
		rels = append(rels, RelationDonor)
	}
	if item.IsClaimant(actor.UserID) {
		rels = append(rels, RelationClaimant)
	}
	if actor.IsAdmin() {
		rels = append(rels, RelationAdmin)
	}
	if len(rels) == 0 {
		rels = append(rels, RelationOther)
	}
	return rels
}

// Authorize は操作者がアイテムに対してactionを実行できるかを判定する。
// 匿名の操作者は常に拒否する。
func Authorize(action Action, actor model.Actor, item *model.FoodItem) bool {
	if actor.Anonymous() {
		return false
	}
	grants, ok := permissions[action]
	if !ok {
		return false
	}

	allowed := false
	for _, rel := range Relations(actor, item) {
		switch grants[rel] {
		case GrantProhibit:
			return false
		case GrantAllow:
			allowed = true
		case GrantAllowWhenClaimed:
			if item.Status == model.ItemStatusClaimed {
				allowed = true
			}
		}
	}
	return allowed
}
