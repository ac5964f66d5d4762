package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"taskdesk/internal/config"
	"taskdesk/internal/db"
	"taskdesk/internal/engine"
	"taskdesk/internal/engine/auth"
	"taskdesk/internal/migrate"
	"taskdesk/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("co-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitCompany(ctx, "co-1", "test", "tester"); err != nil {
		t.Fatalf("init company: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

// addMember gives a user the member role and an active company membership.
func addMember(t *testing.T, env testEnv, userID string) {
	t.Helper()
	if _, err := env.Engine.UpsertMembership(env.Ctx, "co-1", nil, userID, true); err != nil {
		t.Fatalf("membership %s: %v", userID, err)
	}
	if err := env.Engine.GrantRole(env.Ctx, "co-1", "tester", userID, "member"); err != nil {
		t.Fatalf("grant role %s: %v", userID, err)
	}
}

func TestStatusMovesAreFree(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		CompanyID: "co-1",
		Title:     "Do work",
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	// any valid status is reachable from any other
	task, err = env.Engine.ChangeStatus(env.Ctx, task.ID, "done", "tester")
	if err != nil || task.Status != "done" {
		t.Fatalf("todo->done: %v", err)
	}
	task, err = env.Engine.ChangeStatus(env.Ctx, task.ID, "in_progress", "tester")
	if err != nil || task.Status != "in_progress" {
		t.Fatalf("done->in_progress: %v", err)
	}
	// unknown status rejected
	_, err = env.Engine.ChangeStatus(env.Ctx, task.ID, "banana", "tester")
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStatusNoOpLeavesHistoryAlone(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		CompanyID: "co-1",
		Title:     "idempotent",
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	before, err := env.Engine.Repo.CountHistory(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.ChangeStatus(env.Ctx, task.ID, task.Status, "tester")
	if err != nil {
		t.Fatalf("no-op change: %v", err)
	}
	if res.Status != task.Status {
		t.Fatalf("status changed on no-op")
	}
	after, err := env.Engine.Repo.CountHistory(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if after != before {
		t.Fatalf("history grew on no-op: %d -> %d", before, after)
	}
}

func TestHistoryGrowsOnMutations(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		CompanyID: "co-1",
		Title:     "audited",
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	newTitle := "audited v2"
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Title: &newTitle, ActorID: "tester"}); err != nil {
		t.Fatalf("update title: %v", err)
	}
	if _, err := env.Engine.ChangeStatus(env.Ctx, task.ID, "in_progress", "tester"); err != nil {
		t.Fatalf("status: %v", err)
	}
	items, err := env.Engine.Repo.ListHistory(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) < 3 {
		t.Fatalf("expected created+title+status rows, got %d", len(items))
	}
	if items[0].Action != "created" {
		t.Fatalf("first row should be created, got %s", items[0].Action)
	}
	sawStatus := false
	for _, h := range items {
		if h.Action == "status_changed" {
			sawStatus = true
			if h.OldValue == nil || *h.OldValue != "todo" {
				t.Fatalf("status row missing old value")
			}
			if h.NewValue == nil || *h.NewValue != "in_progress" {
				t.Fatalf("status row missing new value")
			}
		}
	}
	if !sawStatus {
		t.Fatalf("no status_changed row recorded")
	}
}

func TestTimerRoundsHalfUp(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		CompanyID: "co-1",
		Title:     "timed",
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	env.Engine.Now = func() time.Time { return start }
	if _, err := env.Engine.StartTimer(env.Ctx, task.ID, "tester", "first"); err != nil {
		t.Fatalf("start: %v", err)
	}
	// 90s rounds up to 2 minutes
	env.Engine.Now = func() time.Time { return start.Add(90 * time.Second) }
	res, err := env.Engine.StopTimer(env.Ctx, task.ID, "tester", "")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if res.TotalTimeMinutes != 2 {
		t.Fatalf("90s should round to 2 minutes, got %d", res.TotalTimeMinutes)
	}

	// 89s rounds down to 1 minute; totals accumulate
	env.Engine.Now = func() time.Time { return start.Add(10 * time.Minute) }
	if _, err := env.Engine.StartTimer(env.Ctx, task.ID, "tester", "second"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	env.Engine.Now = func() time.Time { return start.Add(10*time.Minute + 89*time.Second) }
	res, err = env.Engine.StopTimer(env.Ctx, task.ID, "tester", "")
	if err != nil {
		t.Fatalf("stop again: %v", err)
	}
	if res.TotalTimeMinutes != 3 {
		t.Fatalf("expected 2+1=3 minutes, got %d", res.TotalTimeMinutes)
	}
	if res.IsTimerRunning {
		t.Fatalf("timer flag should be cleared")
	}
	logs, err := env.Engine.Repo.ListTimeLogs(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 time logs, got %d", len(logs))
	}
}

func TestTimerStopOnlyByStarter(t *testing.T) {
	env := newTestEnv(t)
	addMember(t, env, "bob")
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		CompanyID: "co-1",
		Title:     "mine to time",
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.StartTimer(env.Ctx, task.ID, "tester", ""); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.StopTimer(env.Ctx, task.ID, "bob", "")
	var se engine.StateError
	if !errors.As(err, &se) {
		t.Fatalf("stopping someone else's timer should fail, got %v", err)
	}
	got, err := env.Engine.StopTimer(env.Ctx, task.ID, "tester", "")
	if err != nil {
		t.Fatalf("starter stop: %v", err)
	}
	if got.IsTimerRunning {
		t.Fatalf("timer should be stopped")
	}
}

func TestTimerStartConflict(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		CompanyID: "co-1",
		Title:     "busy",
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.StartTimer(env.Ctx, task.ID, "tester", ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err = env.Engine.StartTimer(env.Ctx, task.ID, "tester", "")
	var ce engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected conflict on double start, got %v", err)
	}
}

func TestTimerStopWithoutStart(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		CompanyID: "co-1",
		Title:     "idle",
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.StopTimer(env.Ctx, task.ID, "tester", "")
	var se engine.StateError
	if !errors.As(err, &se) {
		t.Fatalf("expected state error, got %v", err)
	}
}

func TestTransferAcceptMovesAssignment(t *testing.T) {
	env := newTestEnv(t)
	addMember(t, env, "bob")
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		CompanyID: "co-1",
		Title:     "handoff",
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	tr, err := env.Engine.CreateTransfer(env.Ctx, engine.TransferCreateOptions{
		TaskID:   task.ID,
		ToUserID: "bob",
		Kind:     "transfer",
		Reason:   "vacation",
		ActorID:  "tester",
	})
	if err != nil {
		t.Fatalf("create transfer: %v", err)
	}
	if tr.Status != "pending" {
		t.Fatalf("new transfer should be pending, got %s", tr.Status)
	}
	res, err := env.Engine.RespondToTransfer(env.Ctx, tr.ID, true, "", "bob")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if res.Status != "accepted" {
		t.Fatalf("expected accepted, got %s", res.Status)
	}
	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AssigneeID == nil || *got.AssigneeID != "bob" {
		t.Fatalf("assignee not moved to bob")
	}
	if got.PreviousAssigneeID == nil || *got.PreviousAssigneeID != "tester" {
		t.Fatalf("previous assignee not recorded")
	}
}

func TestDelegationKeepsOwner(t *testing.T) {
	env := newTestEnv(t)
	addMember(t, env, "bob")
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		CompanyID: "co-1",
		Title:     "lend",
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	tr, err := env.Engine.CreateTransfer(env.Ctx, engine.TransferCreateOptions{
		TaskID:   task.ID,
		ToUserID: "bob",
		Kind:     "delegation",
		ActorID:  "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RespondToTransfer(env.Ctx, tr.ID, true, "", "bob"); err != nil {
		t.Fatalf("accept delegation: %v", err)
	}
	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AssigneeID == nil || *got.AssigneeID != "tester" {
		t.Fatalf("delegation must not change the assignee")
	}
	if got.DelegateID == nil || *got.DelegateID != "bob" {
		t.Fatalf("delegate not recorded")
	}
	if got.DelegatedBy == nil || *got.DelegatedBy != "tester" {
		t.Fatalf("delegator not recorded")
	}
}

func TestTransferRejectNeedsReason(t *testing.T) {
	env := newTestEnv(t)
	addMember(t, env, "bob")
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		CompanyID: "co-1",
		Title:     "declined",
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	tr, err := env.Engine.CreateTransfer(env.Ctx, engine.TransferCreateOptions{
		TaskID:   task.ID,
		ToUserID: "bob",
		Kind:     "transfer",
		ActorID:  "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.RespondToTransfer(env.Ctx, tr.ID, false, "", "bob")
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("reject without reason should fail validation, got %v", err)
	}
	res, err := env.Engine.RespondToTransfer(env.Ctx, tr.ID, false, "too busy", "bob")
	if err != nil {
		t.Fatalf("reject with reason: %v", err)
	}
	if res.Status != "rejected" {
		t.Fatalf("expected rejected, got %s", res.Status)
	}
	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AssigneeID == nil || *got.AssigneeID != "tester" {
		t.Fatalf("rejection must leave the task untouched")
	}
}

func TestTransferIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	addMember(t, env, "bob")
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		CompanyID: "co-1",
		Title:     "once",
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	tr, err := env.Engine.CreateTransfer(env.Ctx, engine.TransferCreateOptions{
		TaskID:   task.ID,
		ToUserID: "bob",
		Kind:     "transfer",
		ActorID:  "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RespondToTransfer(env.Ctx, tr.ID, true, "", "bob"); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.RespondToTransfer(env.Ctx, tr.ID, false, "changed my mind", "bob")
	var ce engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("second response should conflict, got %v", err)
	}
}

func TestTransferOnlyRecipientResponds(t *testing.T) {
	env := newTestEnv(t)
	addMember(t, env, "bob")
	addMember(t, env, "eve")
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		CompanyID: "co-1",
		Title:     "addressed",
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	tr, err := env.Engine.CreateTransfer(env.Ctx, engine.TransferCreateOptions{
		TaskID:   task.ID,
		ToUserID: "bob",
		Kind:     "transfer",
		ActorID:  "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.RespondToTransfer(env.Ctx, tr.ID, true, "", "eve")
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("non-recipient response should be forbidden, got %v", err)
	}
}

func TestDuplicatePendingTransferRejected(t *testing.T) {
	env := newTestEnv(t)
	addMember(t, env, "bob")
	addMember(t, env, "carol")
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		CompanyID: "co-1",
		Title:     "contested",
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateTransfer(env.Ctx, engine.TransferCreateOptions{
		TaskID: task.ID, ToUserID: "bob", Kind: "transfer", ActorID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.CreateTransfer(env.Ctx, engine.TransferCreateOptions{
		TaskID: task.ID, ToUserID: "carol", Kind: "transfer", ActorID: "tester",
	})
	var ce engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("second pending transfer should conflict, got %v", err)
	}
}

func TestClaimHasExactlyOneWinner(t *testing.T) {
	env := newTestEnv(t)
	claimants := []string{"u1", "u2", "u3", "u4"}
	for _, u := range claimants {
		addMember(t, env, u)
	}
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		CompanyID: "co-1",
		Type:      "company",
		Title:     "up for grabs",
		IsPublic:  true,
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	results := make([]error, len(claimants))
	for i, u := range claimants {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			_, results[i] = env.Engine.AcceptPublicTask(env.Ctx, task.ID, u)
		}(i, u)
	}
	wg.Wait()

	winners := 0
	for i, err := range results {
		if err == nil {
			winners++
			continue
		}
		var ce engine.ConflictError
		if !errors.As(err, &ce) {
			t.Fatalf("loser %s got unexpected error: %v", claimants[i], err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AssigneeID == nil || got.AcceptedBy == nil {
		t.Fatalf("claimed task must record assignee and accepted_by")
	}
	if got.Status != "in_progress" {
		t.Fatalf("claimed task should be in_progress, got %s", got.Status)
	}
}

func TestClaimRequiresOpenTask(t *testing.T) {
	env := newTestEnv(t)
	addMember(t, env, "bob")
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		CompanyID: "co-1",
		Type:      "company",
		Title:     "closed",
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.AcceptPublicTask(env.Ctx, task.ID, "bob")
	var se engine.StateError
	if !errors.As(err, &se) {
		t.Fatalf("claiming a non-public task should be a state error, got %v", err)
	}
}

func TestClaimRequiresMembership(t *testing.T) {
	env := newTestEnv(t)
	// outsider holds the member role but no active membership
	if err := env.Engine.GrantRole(env.Ctx, "co-1", "tester", "outsider", "member"); err != nil {
		t.Fatal(err)
	}
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		CompanyID: "co-1",
		Type:      "company",
		Title:     "members only",
		IsPublic:  true,
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.AcceptPublicTask(env.Ctx, task.ID, "outsider")
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("non-member claim should be forbidden, got %v", err)
	}
}

func TestDeactivatedMemberCannotClaim(t *testing.T) {
	env := newTestEnv(t)
	addMember(t, env, "bob")
	// deactivation must replace the active row, not sit beside it
	if _, err := env.Engine.UpsertMembership(env.Ctx, "co-1", nil, "bob", false); err != nil {
		t.Fatal(err)
	}
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		CompanyID: "co-1",
		Type:      "company",
		Title:     "members only",
		IsPublic:  true,
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.AcceptPublicTask(env.Ctx, task.ID, "bob")
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("deactivated member claim should be forbidden, got %v", err)
	}
	members, err := env.Engine.Repo.ListMemberships(env.Ctx, "co-1")
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range members {
		if m.UserID == "bob" && m.Active {
			t.Fatalf("stale active membership row survived deactivation")
		}
	}
}

func TestPermissionGateBlocksStrangers(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		CompanyID: "co-1",
		Title:     "nope",
		ActorID:   "stranger",
	})
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if fe.Permission != "task.create" {
		t.Fatalf("unexpected permission in error: %s", fe.Permission)
	}
}

func TestViewerCannotMutate(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.UpsertMembership(env.Ctx, "co-1", nil, "watcher", true); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.GrantRole(env.Ctx, "co-1", "tester", "watcher", "viewer"); err != nil {
		t.Fatal(err)
	}
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		CompanyID: "co-1",
		Title:     "read only",
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.ChangeStatus(env.Ctx, task.ID, "done", "watcher")
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("viewer status change should be forbidden, got %v", err)
	}
}

func TestPublicToggleGuards(t *testing.T) {
	env := newTestEnv(t)
	// personal tasks can never be public
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		CompanyID: "co-1",
		Type:      "personal",
		Title:     "mine",
		IsPublic:  true,
		ActorID:   "tester",
	})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("public personal task should fail validation, got %v", err)
	}

	// an assigned company task cannot be opened for claims
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		CompanyID:  "co-1",
		Type:       "company",
		Title:      "taken",
		AssigneeID: "tester",
		ActorID:    "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	public := true
	_, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, IsPublic: &public, ActorID: "tester"})
	var se engine.StateError
	if !errors.As(err, &se) {
		t.Fatalf("opening an assigned task should be a state error, got %v", err)
	}
}

func TestDeleteTaskCascades(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		CompanyID: "co-1",
		Title:     "doomed",
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddComment(env.Ctx, task.ID, "tester", "goodbye"); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteTask(env.Ctx, task.ID, "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err = env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}
