package task

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/parley-io/parley/internal/db"
	"github.com/parley-io/parley/internal/models"
	"github.com/parley-io/parley/internal/queue"
	"github.com/parley-io/parley/internal/session"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return gdb
}

func testDispatcher(t *testing.T) (*Dispatcher, *gorm.DB, queue.Queue) {
	t.Helper()
	gdb := testDB(t)
	q := queue.NewMemory()
	sessions := session.NewManager(gdb, session.Options{})
	d := NewDispatcher(gdb, q, sessions, Options{MaxInactive: 2 * time.Hour})
	return d, gdb, q
}

func TestCreateSessionTask(t *testing.T) {
	d, gdb, q := testDispatcher(t)
	ctx := context.Background()

	res, err := d.CreateSessionTask(ctx, CreateRequest{
		AccountID:        "acct-1",
		ShopName:         "Shop A",
		TaskType:         models.TaskAutoBargain,
		ExternalTaskType: "bargain",
		ExternalTaskID:   "9001",
		SendContent:      "您好，关于您的议价",
	})
	if err != nil {
		t.Fatalf("CreateSessionTask: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Level != "level3" {
		t.Fatalf("auto_bargain dispatches at level3, got %s", res.Level)
	}

	var sess models.Session
	if err := gdb.Where("session_id = ?", res.SessionID).First(&sess).Error; err != nil {
		t.Fatalf("load session: %v", err)
	}
	if sess.State != models.StatePending || sess.CreatedBy != models.OwnerRobot {
		t.Fatalf("expected pending/robot session, got %s/%s", sess.State, sess.CreatedBy)
	}

	n, err := q.Len(ctx, "level3")
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 queued id at level3, got %d", n)
	}

	// Creation ensures the owners exist before admitting the session.
	var account models.Account
	if err := gdb.Where("account_id = ?", "acct-1").First(&account).Error; err != nil {
		t.Fatalf("expected the account row to be created: %v", err)
	}
	var shop models.Shop
	if err := gdb.Where("shop_name = ?", "Shop A").First(&shop).Error; err != nil {
		t.Fatalf("expected the shop row to be created: %v", err)
	}
}

func TestCreateSessionTask_DuplicateExternalID(t *testing.T) {
	d, _, _ := testDispatcher(t)
	ctx := context.Background()

	req := CreateRequest{
		AccountID: "acct-1", ShopName: "Shop A",
		TaskType: models.TaskAutoBargain, ExternalTaskType: "bargain",
		ExternalTaskID: "9001",
	}
	if res, err := d.CreateSessionTask(ctx, req); err != nil || !res.Success {
		t.Fatalf("first create: res=%+v err=%v", res, err)
	}

	res, err := d.CreateSessionTask(ctx, req)
	if err != nil {
		t.Fatalf("duplicate create: %v", err)
	}
	if res.Success {
		t.Fatal("expected rejection of a duplicate external id")
	}
	if res.ErrorCode != session.CodeCreateFailed {
		t.Fatalf("expected %s, got %s", session.CodeCreateFailed, res.ErrorCode)
	}
}

func TestCreateSessionTask_AdmissionDenied(t *testing.T) {
	d, _, q := testDispatcher(t)
	ctx := context.Background()

	first, err := d.CreateSessionTask(ctx, CreateRequest{
		AccountID: "acct-1", ShopName: "Shop A",
		TaskType: models.TaskAutoBargain, ExternalTaskType: "bargain",
		ExternalTaskID: "9001",
	})
	if err != nil || !first.Success {
		t.Fatalf("first create: res=%+v err=%v", first, err)
	}

	// The pending session occupies the pair immediately.
	second, err := d.CreateSessionTask(ctx, CreateRequest{
		AccountID: "acct-1", ShopName: "Shop A",
		TaskType: models.TaskAutoFollowUp, ExternalTaskType: "follow_up",
		ExternalTaskID: "9002",
	})
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if second.Success {
		t.Fatal("expected admission denial for the occupied pair")
	}
	if second.ConflictSessionID != first.SessionID {
		t.Fatalf("expected conflict %s, got %s", first.SessionID, second.ConflictSessionID)
	}

	// The denied task must not reach any queue.
	for _, level := range queue.Levels {
		n, _ := q.Len(ctx, level)
		var want int64
		if level == first.Level {
			want = 1
		}
		if n != want {
			t.Fatalf("level %s: expected %d queued, got %d", level, want, n)
		}
	}
}

func TestCreateSessionTask_LevelOverride(t *testing.T) {
	d, _, q := testDispatcher(t)
	ctx := context.Background()

	res, err := d.CreateSessionTask(ctx, CreateRequest{
		AccountID: "acct-1", ShopName: "Shop A",
		TaskType: models.TaskAutoBargain, ExternalTaskType: "bargain",
		ExternalTaskID: "9001", Level: "level1",
	})
	if err != nil || !res.Success {
		t.Fatalf("create: res=%+v err=%v", res, err)
	}
	n, _ := q.Len(ctx, "level1")
	if n != 1 {
		t.Fatalf("expected queued at the overridden level, got %d", n)
	}
}

func TestDequeueNext_PriorityOrder(t *testing.T) {
	d, _, _ := testDispatcher(t)
	ctx := context.Background()

	low, err := d.CreateSessionTask(ctx, CreateRequest{
		AccountID: "acct-1", ShopName: "Shop A",
		TaskType: models.TaskAutoFollowUp, ExternalTaskType: "follow_up",
		ExternalTaskID: "9001",
	})
	if err != nil || !low.Success {
		t.Fatalf("create low: res=%+v err=%v", low, err)
	}
	high, err := d.CreateSessionTask(ctx, CreateRequest{
		AccountID: "acct-2", ShopName: "Shop B",
		TaskType: models.TaskAutoBargain, ExternalTaskType: "bargain",
		ExternalTaskID: "9002",
	})
	if err != nil || !high.Success {
		t.Fatalf("create high: res=%+v err=%v", high, err)
	}

	first, err := d.DequeueNext(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if first == nil || first.ID != high.TaskID {
		t.Fatalf("expected the level3 task first, got %+v", first)
	}

	second, err := d.DequeueNext(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if second == nil || second.ID != low.TaskID {
		t.Fatalf("expected the level4 task second, got %+v", second)
	}

	third, err := d.DequeueNext(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if third != nil {
		t.Fatalf("expected empty queues, got %+v", third)
	}
}

func TestCompleteSessionTask_Delivered(t *testing.T) {
	d, gdb, _ := testDispatcher(t)
	ctx := context.Background()

	res, _ := d.CreateSessionTask(ctx, CreateRequest{
		AccountID: "acct-1", ShopName: "Shop A",
		TaskType: models.TaskAutoBargain, ExternalTaskType: "bargain",
		ExternalTaskID: "9001",
	})
	found, err := d.CompleteSessionTask(res.SessionID, true, "")
	if err != nil {
		t.Fatalf("CompleteSessionTask: %v", err)
	}
	if !found {
		t.Fatal("expected the session's task to be found")
	}

	row, _ := d.GetTask(res.TaskID)
	if row.TaskStatus != models.TaskStatusDone {
		t.Fatalf("expected status done, got %d", row.TaskStatus)
	}
	if row.TaskFinishedAt == nil {
		t.Fatal("expected task_finished_at to be set")
	}

	var sess models.Session
	gdb.Where("session_id = ?", res.SessionID).First(&sess)
	if sess.State != models.StateActive {
		t.Fatalf("delivered task leaves the session active, got %s", sess.State)
	}
}

func TestCompleteSessionTask_Skipped(t *testing.T) {
	d, gdb, _ := testDispatcher(t)
	ctx := context.Background()

	res, _ := d.CreateSessionTask(ctx, CreateRequest{
		AccountID: "acct-1", ShopName: "Shop A",
		TaskType: models.TaskAutoBargain, ExternalTaskType: "bargain",
		ExternalTaskID: "9001",
	})
	if _, err := d.CompleteSessionTask(res.SessionID, false, "buyer went silent"); err != nil {
		t.Fatalf("CompleteSessionTask: %v", err)
	}

	row, _ := d.GetTask(res.TaskID)
	if row.TaskStatus != models.TaskStatusSkipped {
		t.Fatalf("expected status skipped, got %d", row.TaskStatus)
	}

	var sess models.Session
	gdb.Where("session_id = ?", res.SessionID).First(&sess)
	if sess.State != models.StateCancelled {
		t.Fatalf("skipped task cancels the session, got %s", sess.State)
	}

	var op models.SessionOperation
	if err := gdb.Where("session_id = ? AND operation_type = ?", res.SessionID, "task_skipped").
		First(&op).Error; err != nil {
		t.Fatalf("expected a task_skipped operation row: %v", err)
	}
	if op.OperationData == nil || !strings.Contains(*op.OperationData, "buyer went silent") {
		t.Fatalf("expected the error message in the operation data, got %v", op.OperationData)
	}
}

func TestCompleteSessionTask_Idempotent(t *testing.T) {
	d, gdb, _ := testDispatcher(t)
	ctx := context.Background()

	res, _ := d.CreateSessionTask(ctx, CreateRequest{
		AccountID: "acct-1", ShopName: "Shop A",
		TaskType: models.TaskAutoBargain, ExternalTaskType: "bargain",
		ExternalTaskID: "9001",
	})
	if _, err := d.CompleteSessionTask(res.SessionID, true, ""); err != nil {
		t.Fatalf("first complete: %v", err)
	}
	// The second completion with the opposite outcome is a no-op.
	found, err := d.CompleteSessionTask(res.SessionID, false, "")
	if err != nil {
		t.Fatalf("second complete: %v", err)
	}
	if !found {
		t.Fatal("repeated completion still reports the task as found")
	}

	row, _ := d.GetTask(res.TaskID)
	if row.TaskStatus != models.TaskStatusDone {
		t.Fatalf("completion must be idempotent, got %d", row.TaskStatus)
	}

	var sess models.Session
	gdb.Where("session_id = ?", res.SessionID).First(&sess)
	if sess.State != models.StateActive {
		t.Fatalf("settled session must not flip, got %s", sess.State)
	}
}

func TestCompleteSessionTask_UnknownSession(t *testing.T) {
	d, _, _ := testDispatcher(t)
	found, err := d.CompleteSessionTask("sess_missing", true, "")
	if err != nil {
		t.Fatalf("CompleteSessionTask: %v", err)
	}
	if found {
		t.Fatal("expected no task for an unknown session")
	}
}

// stubResolver returns a fixed SendInfo.
type stubResolver struct {
	info *SendInfo
	err  error
}

func (s *stubResolver) Resolve(_ context.Context, task *models.SessionTask) (*SendInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := *s.info
	out.TaskID = task.ID
	return &out, nil
}

func TestDispatchInfo_WithResolver(t *testing.T) {
	gdb := testDB(t)
	q := queue.NewMemory()
	sessions := session.NewManager(gdb, session.Options{})
	d := NewDispatcher(gdb, q, sessions, Options{
		Resolver: &stubResolver{info: &SendInfo{
			SendURL:  "https://chat.example.com/t/1",
			ShopName: "Shop A",
		}},
	})

	res, err := d.CreateSessionTask(context.Background(), CreateRequest{
		AccountID: "acct-1", ShopName: "Shop A",
		TaskType: models.TaskAutoBargain, ExternalTaskType: "bargain",
		ExternalTaskID: "9001",
	})
	if err != nil || !res.Success {
		t.Fatalf("create: res=%+v err=%v", res, err)
	}

	info, err := d.DispatchInfo(context.Background(), res.TaskID)
	if err != nil {
		t.Fatalf("DispatchInfo: %v", err)
	}
	if info.SendURL != "https://chat.example.com/t/1" || info.TaskID != res.TaskID {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestDispatchInfo_WithoutResolver(t *testing.T) {
	d, _, _ := testDispatcher(t)

	res, _ := d.CreateSessionTask(context.Background(), CreateRequest{
		AccountID: "acct-1", ShopName: "Shop A",
		TaskType: models.TaskAutoBargain, ExternalTaskType: "bargain",
		ExternalTaskID: "9001", SendContent: "您好",
	})

	info, err := d.DispatchInfo(context.Background(), res.TaskID)
	if err != nil {
		t.Fatalf("DispatchInfo: %v", err)
	}
	if info.SendContent != "您好" || info.ShopName != "Shop A" || info.SendURL != "" {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestPendingTasks(t *testing.T) {
	d, _, _ := testDispatcher(t)
	ctx := context.Background()

	sessionIDs := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		res, err := d.CreateSessionTask(ctx, CreateRequest{
			AccountID: "acct-" + strconv.Itoa(i), ShopName: "Shop " + strconv.Itoa(i),
			TaskType: models.TaskAutoBargain, ExternalTaskType: "bargain",
			ExternalTaskID: strconv.Itoa(9000 + i),
		})
		if err != nil || !res.Success {
			t.Fatalf("create %d: res=%+v err=%v", i, res, err)
		}
		sessionIDs = append(sessionIDs, res.SessionID)
	}
	if _, err := d.CompleteSessionTask(sessionIDs[0], true, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}

	pending, err := d.PendingTasks(10)
	if err != nil {
		t.Fatalf("PendingTasks: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending tasks, got %d", len(pending))
	}

	limited, err := d.PendingTasks(1)
	if err != nil {
		t.Fatalf("PendingTasks limited: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit respected, got %d", len(limited))
	}
}

func TestQueueDepths(t *testing.T) {
	d, _, _ := testDispatcher(t)
	ctx := context.Background()

	if res, err := d.CreateSessionTask(ctx, CreateRequest{
		AccountID: "acct-1", ShopName: "Shop A",
		TaskType: models.TaskAutoBargain, ExternalTaskType: "bargain",
		ExternalTaskID: "9001",
	}); err != nil || !res.Success {
		t.Fatalf("create: res=%+v err=%v", res, err)
	}

	depths, err := d.QueueDepths(ctx)
	if err != nil {
		t.Fatalf("QueueDepths: %v", err)
	}
	if depths["level3"] != 1 {
		t.Fatalf("expected level3 depth 1, got %+v", depths)
	}
	if depths["level1"] != 0 {
		t.Fatalf("expected level1 empty, got %+v", depths)
	}
}
