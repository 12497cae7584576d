package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/plateful/internal/database"
	"github.com/hitoshi/plateful/internal/model"
)

func int64Ptr(v int64) *int64 { return &v }

func newTestUser(t *testing.T, repo *SQLUserRepo, username string, role model.Role, org string) *model.User {
	t.Helper()
	u := &model.User{Username: username, PasswordHash: "hash", Role: role, OrganizationName: org}
	if err := repo.Create(context.Background(), u); err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return u
}

func newTestItem(t *testing.T, repo *SQLFoodItemRepo, name string, donorID *int64) *model.FoodItem {
	t.Helper()
	item := &model.FoodItem{Name: name, Quantity: 3, Status: model.ItemStatusAvailable, DonorID: donorID}
	if err := repo.Create(context.Background(), item); err != nil {
		t.Fatalf("create item %s: %v", name, err)
	}
	return item
}

func TestSQLUserRepo_CreateAndFind(t *testing.T) {
	db := database.NewTestDB(t)
	repo := NewSQLUserRepo(db)
	ctx := context.Background()

	u := newTestUser(t, repo, "foodbank", model.RoleCharity, "City Food Bank")
	if u.ID == 0 {
		t.Fatal("expected ID to be assigned")
	}

	got, err := repo.FindByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got == nil || got.Username != "foodbank" || got.Role != model.RoleCharity || got.OrganizationName != "City Food Bank" {
		t.Errorf("FindByID = %+v", got)
	}

	byName, err := repo.FindByUsername(ctx, "foodbank")
	if err != nil {
		t.Fatalf("FindByUsername: %v", err)
	}
	if byName == nil || byName.ID != u.ID {
		t.Errorf("FindByUsername = %+v", byName)
	}
}

func TestSQLUserRepo_FindReturnsNilWhenMissing(t *testing.T) {
	db := database.NewTestDB(t)
	repo := NewSQLUserRepo(db)
	ctx := context.Background()

	u, err := repo.FindByID(ctx, 999)
	if err != nil || u != nil {
		t.Errorf("FindByID(999) = %v, %v; want nil, nil", u, err)
	}
	u, err = repo.FindByUsername(ctx, "nobody")
	if err != nil || u != nil {
		t.Errorf("FindByUsername(nobody) = %v, %v; want nil, nil", u, err)
	}
}

func TestSQLUserRepo_CreateDuplicateUsername(t *testing.T) {
	db := database.NewTestDB(t)
	repo := NewSQLUserRepo(db)

	newTestUser(t, repo, "alice", model.RoleUser, "")
	err := repo.Create(context.Background(), &model.User{Username: "alice", PasswordHash: "x", Role: model.RoleUser})
	if !errors.Is(err, database.ErrDuplicateKey) {
		t.Errorf("err = %v, want ErrDuplicateKey", err)
	}
}

func TestSQLUserRepo_FindByIDs(t *testing.T) {
	db := database.NewTestDB(t)
	repo := NewSQLUserRepo(db)
	ctx := context.Background()

	a := newTestUser(t, repo, "a", model.RoleUser, "")
	b := newTestUser(t, repo, "b", model.RoleUser, "")

	users, err := repo.FindByIDs(ctx, []int64{a.ID, b.ID, 999})
	if err != nil {
		t.Fatalf("FindByIDs: %v", err)
	}
	if len(users) != 2 || users[a.ID].Username != "a" || users[b.ID].Username != "b" {
		t.Errorf("FindByIDs = %+v", users)
	}

	empty, err := repo.FindByIDs(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("FindByIDs(nil) = %v, %v", empty, err)
	}
}

func TestSQLSessionRepo_FindIdentityAndExpiry(t *testing.T) {
	db := database.NewTestDB(t)
	users := NewSQLUserRepo(db)
	sessions := NewSQLSessionRepo(db)
	ctx := context.Background()

	u := newTestUser(t, users, "acme", model.RoleCompany, "Acme Foods")
	now := database.Now()

	live := &model.Session{ID: "live", UserID: u.ID, ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	expired := &model.Session{ID: "expired", UserID: u.ID, ExpiresAt: now.Add(-time.Hour), CreatedAt: now.Add(-2 * time.Hour)}
	for _, s := range []*model.Session{live, expired} {
		if err := sessions.Create(ctx, s); err != nil {
			t.Fatalf("create session: %v", err)
		}
	}

	identity, err := sessions.FindIdentity(ctx, "live")
	if err != nil {
		t.Fatalf("FindIdentity: %v", err)
	}
	if identity == nil || identity.ID != u.ID || identity.Role != model.RoleCompany || identity.OrganizationName != "Acme Foods" {
		t.Errorf("FindIdentity = %+v", identity)
	}

	if got, err := sessions.FindIdentity(ctx, "expired"); err != nil || got != nil {
		t.Errorf("FindIdentity(expired) = %v, %v; want nil, nil", got, err)
	}
	if got, err := sessions.FindByID(ctx, "expired"); err != nil || got != nil {
		t.Errorf("FindByID(expired) = %v, %v; want nil, nil", got, err)
	}

	n, err := sessions.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteExpired = %d, want 1", n)
	}

	if err := sessions.DeleteByID(ctx, "live"); err != nil {
		t.Fatalf("DeleteByID: %v", err)
	}
	if got, _ := sessions.FindByID(ctx, "live"); got != nil {
		t.Error("session should be deleted")
	}
}

func TestSQLFoodItemRepo_CreateAndFindView(t *testing.T) {
	db := database.NewTestDB(t)
	users := NewSQLUserRepo(db)
	items := NewSQLFoodItemRepo(db)
	ctx := context.Background()

	donor := newTestUser(t, users, "acme", model.RoleCompany, "Acme Foods")
	claimant := newTestUser(t, users, "carol", model.RoleUser, "")

	exp := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	item := &model.FoodItem{
		Name: "Bread", Quantity: 10, ExpirationDate: &exp,
		Status: model.ItemStatusAvailable, DonorID: &donor.ID,
	}
	if err := items.Create(ctx, item); err != nil {
		t.Fatalf("Create: %v", err)
	}

	ok, err := items.ConditionalUpdateStatus(ctx, item.ID, model.ItemStatusAvailable, nil, model.ItemStatusPending, &claimant.ID)
	if err != nil || !ok {
		t.Fatalf("ConditionalUpdateStatus = %v, %v", ok, err)
	}

	view, err := items.FindViewByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("FindViewByID: %v", err)
	}
	if view.DonorName != "Acme Foods" {
		t.Errorf("DonorName = %q, want organization name", view.DonorName)
	}
	if view.ClaimantName != "carol" {
		t.Errorf("ClaimantName = %q, want username", view.ClaimantName)
	}
	if view.Quantity != 10 || view.Status != model.ItemStatusPending {
		t.Errorf("view = %+v", view.FoodItem)
	}
	if view.ExpirationDate == nil || !view.ExpirationDate.Equal(exp) {
		t.Errorf("ExpirationDate = %v, want %v", view.ExpirationDate, exp)
	}

	if got, err := items.FindViewByID(ctx, 999); err != nil || got != nil {
		t.Errorf("FindViewByID(999) = %v, %v", got, err)
	}
}

func TestSQLFoodItemRepo_ConditionalUpdateStatusGuards(t *testing.T) {
	db := database.NewTestDB(t)
	users := NewSQLUserRepo(db)
	items := NewSQLFoodItemRepo(db)
	ctx := context.Background()

	donor := newTestUser(t, users, "donor", model.RoleUser, "")
	c1 := newTestUser(t, users, "c1", model.RoleUser, "")
	c2 := newTestUser(t, users, "c2", model.RoleUser, "")
	item := newTestItem(t, items, "Rice", &donor.ID)

	if ok, _ := items.ConditionalUpdateStatus(ctx, item.ID, model.ItemStatusAvailable, nil, model.ItemStatusPending, &c1.ID); !ok {
		t.Fatal("first claim should apply")
	}
	// 既にPendingのため2人目の申請は適用されない
	if ok, _ := items.ConditionalUpdateStatus(ctx, item.ID, model.ItemStatusAvailable, nil, model.ItemStatusPending, &c2.ID); ok {
		t.Error("second claim should not apply")
	}
	// 申請者が異なる期待値では承認されない
	if ok, _ := items.ConditionalUpdateStatus(ctx, item.ID, model.ItemStatusPending, &c2.ID, model.ItemStatusClaimed, &c2.ID); ok {
		t.Error("approve with wrong claimant should not apply")
	}
	if ok, _ := items.ConditionalUpdateStatus(ctx, item.ID, model.ItemStatusPending, &c1.ID, model.ItemStatusClaimed, &c1.ID); !ok {
		t.Error("approve with matching claimant should apply")
	}

	got, _ := items.FindByID(ctx, item.ID)
	if got.Status != model.ItemStatusClaimed || !got.IsClaimant(c1.ID) {
		t.Errorf("item = %+v", got)
	}
}

func TestSQLFoodItemRepo_ConstraintRejectsSelfClaim(t *testing.T) {
	db := database.NewTestDB(t)
	users := NewSQLUserRepo(db)
	items := NewSQLFoodItemRepo(db)

	donor := newTestUser(t, users, "donor", model.RoleUser, "")
	item := newTestItem(t, items, "Rice", &donor.ID)

	_, err := items.ConditionalUpdateStatus(context.Background(), item.ID, model.ItemStatusAvailable, nil, model.ItemStatusPending, &donor.ID)
	if err == nil {
		t.Error("expected CHECK constraint error for self-claim")
	}
}

func TestSQLFoodItemRepo_ListOrderingAndFilter(t *testing.T) {
	db := database.NewTestDB(t)
	users := NewSQLUserRepo(db)
	items := NewSQLFoodItemRepo(db)
	ctx := context.Background()

	donor := newTestUser(t, users, "donor", model.RoleUser, "")
	other := newTestUser(t, users, "other", model.RoleUser, "")
	claimant := newTestUser(t, users, "claimant", model.RoleUser, "")

	first := newTestItem(t, items, "first", &donor.ID)
	second := newTestItem(t, items, "second", &other.ID)
	legacy := newTestItem(t, items, "legacy", nil)

	if ok, _ := items.ConditionalUpdateStatus(ctx, second.ID, model.ItemStatusAvailable, nil, model.ItemStatusPending, &donor.ID); !ok {
		t.Fatal("claim should apply")
	}

	all, err := items.ListAll(ctx, model.ItemFilter{})
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 3 || all[0].ID != legacy.ID || all[1].ID != second.ID || all[2].ID != first.ID {
		t.Errorf("ListAll order = %v", ids(all))
	}
	if all[0].DonorName != "" {
		t.Errorf("legacy DonorName = %q, want empty", all[0].DonorName)
	}

	pending := model.ItemStatusPending
	filtered, err := items.ListAll(ctx, model.ItemFilter{Status: &pending})
	if err != nil {
		t.Fatalf("ListAll(pending): %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != second.ID {
		t.Errorf("ListAll(pending) = %v", ids(filtered))
	}

	mine, err := items.ListByParticipant(ctx, donor.ID)
	if err != nil {
		t.Fatalf("ListByParticipant: %v", err)
	}
	if len(mine) != 2 || mine[0].ID != second.ID || mine[1].ID != first.ID {
		t.Errorf("ListByParticipant = %v", ids(mine))
	}

	none, err := items.ListByParticipant(ctx, claimant.ID)
	if err != nil || len(none) != 0 {
		t.Errorf("ListByParticipant(no items) = %v, %v", ids(none), err)
	}
}

func TestSQLFoodItemRepo_DeleteIfUnchanged(t *testing.T) {
	db := database.NewTestDB(t)
	users := NewSQLUserRepo(db)
	items := NewSQLFoodItemRepo(db)
	ctx := context.Background()

	donor := newTestUser(t, users, "donor", model.RoleUser, "")
	c := newTestUser(t, users, "c", model.RoleUser, "")
	item := newTestItem(t, items, "Milk", &donor.ID)

	if ok, _ := items.DeleteIfUnchanged(ctx, item.ID, model.ItemStatusPending, &c.ID); ok {
		t.Error("delete with stale status should not apply")
	}
	if ok, err := items.DeleteIfUnchanged(ctx, item.ID, model.ItemStatusAvailable, nil); err != nil || !ok {
		t.Fatalf("DeleteIfUnchanged = %v, %v", ok, err)
	}
	if got, _ := items.FindByID(ctx, item.ID); got != nil {
		t.Error("item should be deleted")
	}
}

func TestSQLMessageRepo_ThreadReadAndConversations(t *testing.T) {
	db := database.NewTestDB(t)
	users := NewSQLUserRepo(db)
	items := NewSQLFoodItemRepo(db)
	messages := NewSQLMessageRepo(db)
	ctx := context.Background()

	d := newTestUser(t, users, "donor", model.RoleUser, "")
	c := newTestUser(t, users, "claimant", model.RoleUser, "")
	x := newTestUser(t, users, "x", model.RoleUser, "")
	item := newTestItem(t, items, "Soup", &d.ID)

	base := database.Now()
	send := func(from, to int64, content string, offset time.Duration, itemID *int64) {
		t.Helper()
		m := &model.Message{SenderID: from, ReceiverID: to, Content: content, ItemID: itemID, CreatedAt: base.Add(offset)}
		if err := messages.Create(ctx, m); err != nil {
			t.Fatalf("create message: %v", err)
		}
	}
	send(c.ID, d.ID, "hi", 0, &item.ID)
	send(d.ID, c.ID, "hello", time.Second, &item.ID)
	send(c.ID, d.ID, "pickup at 5?", 2*time.Second, nil)
	send(x.ID, d.ID, "is the soup still there?", 3*time.Second, nil)

	thread, err := messages.ListThread(ctx, d.ID, c.ID)
	if err != nil {
		t.Fatalf("ListThread: %v", err)
	}
	if len(thread) != 3 || thread[0].Content != "hi" || thread[2].Content != "pickup at 5?" {
		t.Errorf("thread = %+v", thread)
	}
	if thread[0].ItemID == nil || *thread[0].ItemID != item.ID {
		t.Errorf("ItemID = %v, want %d", thread[0].ItemID, item.ID)
	}

	unread, err := messages.CountUnread(ctx, d.ID)
	if err != nil || unread != 3 {
		t.Errorf("CountUnread = %d, %v; want 3", unread, err)
	}

	convs, err := messages.ListConversationPartners(ctx, d.ID)
	if err != nil {
		t.Fatalf("ListConversationPartners: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("conversations = %+v", convs)
	}
	if convs[0].PartnerID != x.ID || convs[0].UnreadCount != 1 {
		t.Errorf("latest conversation = %+v", convs[0])
	}
	if convs[1].PartnerID != c.ID || convs[1].LastMessage != "pickup at 5?" || convs[1].UnreadCount != 2 {
		t.Errorf("second conversation = %+v", convs[1])
	}

	n, err := messages.MarkRead(ctx, d.ID, c.ID)
	if err != nil || n != 2 {
		t.Errorf("MarkRead = %d, %v; want 2", n, err)
	}
	if unread, _ := messages.CountUnread(ctx, d.ID); unread != 1 {
		t.Errorf("CountUnread after MarkRead = %d, want 1", unread)
	}

	deleted, err := messages.DeleteByItem(ctx, item.ID)
	if err != nil || deleted != 2 {
		t.Errorf("DeleteByItem = %d, %v; want 2", deleted, err)
	}
}

func TestSQLTxRunner_RollsBackOnError(t *testing.T) {
	db := database.NewTestDB(t)
	users := NewSQLUserRepo(db)
	items := NewSQLFoodItemRepo(db)
	messages := NewSQLMessageRepo(db)
	runner := NewSQLTxRunner(db)
	ctx := context.Background()

	d := newTestUser(t, users, "donor", model.RoleUser, "")
	c := newTestUser(t, users, "c", model.RoleUser, "")
	item := newTestItem(t, items, "Soup", &d.ID)
	if err := messages.Create(ctx, &model.Message{SenderID: c.ID, ReceiverID: d.ID, ItemID: &item.ID, Content: "hi"}); err != nil {
		t.Fatalf("create message: %v", err)
	}

	abort := errors.New("abort")
	err := runner.RunInTx(ctx, func(s TxStores) error {
		if _, err := s.Messages.DeleteByItem(ctx, item.ID); err != nil {
			return err
		}
		return abort
	})
	if !errors.Is(err, abort) {
		t.Fatalf("err = %v, want abort", err)
	}

	thread, _ := messages.ListThread(ctx, c.ID, d.ID)
	if len(thread) != 1 {
		t.Errorf("messages after rollback = %d, want 1", len(thread))
	}
}

func ids(views []model.FoodItemView) []int64 {
	out := make([]int64, len(views))
	for i, v := range views {
		out[i] = v.ID
	}
	return out
}
