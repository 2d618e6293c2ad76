package session

import (
	"context"
	"testing"
	"time"

	"github.com/parley-io/parley/internal/models"
	"github.com/parley-io/parley/internal/notify"
)

// recordingNotifier captures every hand-off delivered to it.
type recordingNotifier struct {
	handOffs []notify.HandOff
	err      error
}

func (n *recordingNotifier) Notify(_ context.Context, h notify.HandOff) error {
	if n.err != nil {
		return n.err
	}
	n.handOffs = append(n.handOffs, h)
	return nil
}

func containsOp(ops []string, op string) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}

func TestProcessBatch_NewConversation(t *testing.T) {
	gdb := testDB(t)
	rec := &recordingNotifier{}
	m := NewManager(gdb, Options{Notifier: rec})

	now := time.Now()
	batch := []MessageData{
		msg("m1", "在吗", "shop", "buyer-1", now),
		msg("m2", "这个能便宜点吗", "shop", "buyer-1", now.Add(time.Second)),
		msg("m3", "急等回复", "shop", "buyer-1", now.Add(2*time.Second)),
	}

	res := m.ProcessBatch(context.Background(), batch, "acct-1", "Shop A", 2*time.Hour)
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	if res.Processed != 3 || res.Skipped != 0 {
		t.Fatalf("expected 3 processed / 0 skipped, got %d/%d", res.Processed, res.Skipped)
	}
	if !containsOp(res.Operations, "create_session") {
		t.Fatalf("expected create_session operation, got %v", res.Operations)
	}
	if !containsOp(res.Operations, "notify_human") {
		t.Fatalf("expected notify_human operation, got %v", res.Operations)
	}

	sess, err := m.GetSession(res.ActiveSessionID)
	if err != nil || sess == nil {
		t.Fatalf("load session: sess=%v err=%v", sess, err)
	}
	if sess.State != models.StateTransferred || sess.CreatedBy != models.OwnerHuman {
		t.Fatalf("a fresh inbound conversation is human-owned, got %s/%s", sess.State, sess.CreatedBy)
	}
	if sess.TaskType != models.TaskManualUrgent || sess.Priority != models.PriorityEmergency {
		t.Fatalf("expected manual_urgent/emergency, got %s/%d", sess.TaskType, sess.Priority)
	}
	if sess.MessageCount != 3 {
		t.Fatalf("expected message_count 3, got %d", sess.MessageCount)
	}

	if len(rec.handOffs) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(rec.handOffs))
	}
	if rec.handOffs[0].SessionID != res.ActiveSessionID {
		t.Fatalf("notification names session %s, batch created %s",
			rec.handOffs[0].SessionID, res.ActiveSessionID)
	}
	if len(rec.handOffs[0].Messages) != 3 {
		t.Fatalf("expected 3 message contents in hand-off, got %d", len(rec.handOffs[0].Messages))
	}
}

func TestProcessBatch_IdempotentRedelivery(t *testing.T) {
	gdb := testDB(t)
	m := NewManager(gdb, Options{})

	batch := []MessageData{
		msg("m1", "在吗", "shop", "buyer-1", time.Now()),
		msg("m2", "有货吗", "shop", "buyer-1", time.Now()),
	}

	first := m.ProcessBatch(context.Background(), batch, "acct-1", "Shop A", 2*time.Hour)
	if first.Processed != 2 {
		t.Fatalf("first delivery: expected 2 processed, got %d", first.Processed)
	}

	second := m.ProcessBatch(context.Background(), batch, "acct-1", "Shop A", 2*time.Hour)
	if second.Processed != 0 || second.Skipped != 2 {
		t.Fatalf("redelivery: expected 0 processed / 2 skipped, got %d/%d",
			second.Processed, second.Skipped)
	}

	sess, _ := m.GetSession(first.ActiveSessionID)
	if sess.MessageCount != 2 {
		t.Fatalf("redelivery must not inflate message_count, got %d", sess.MessageCount)
	}

	var msgCount int64
	gdb.Model(&models.Message{}).Count(&msgCount)
	if msgCount != 2 {
		t.Fatalf("expected 2 stored messages, got %d", msgCount)
	}
}

func TestProcessBatch_PartialRedelivery(t *testing.T) {
	m := NewManager(testDB(t), Options{})

	first := m.ProcessBatch(context.Background(), []MessageData{
		msg("m1", "在吗", "shop", "buyer-1", time.Now()),
	}, "acct-1", "Shop A", 2*time.Hour)
	if first.Processed != 1 {
		t.Fatalf("expected 1 processed, got %d", first.Processed)
	}

	mixed := m.ProcessBatch(context.Background(), []MessageData{
		msg("m1", "在吗", "shop", "buyer-1", time.Now()),
		msg("m2", "新消息", "shop", "buyer-1", time.Now()),
	}, "acct-1", "Shop A", 2*time.Hour)
	if mixed.Processed != 1 || mixed.Skipped != 1 {
		t.Fatalf("expected 1 processed / 1 skipped, got %d/%d", mixed.Processed, mixed.Skipped)
	}
	if mixed.ActiveSessionID != first.ActiveSessionID {
		t.Fatalf("partial redelivery must join session %s, got %s",
			first.ActiveSessionID, mixed.ActiveSessionID)
	}
}

func TestProcessBatch_JoinsLiveRobotSession(t *testing.T) {
	m := NewManager(testDB(t), Options{})

	res, err := m.CreateRobotSession("acct-1", "Shop A", models.TaskAutoBargain, "task-1", 2*time.Hour)
	if err != nil || !res.Success {
		t.Fatalf("seed robot session: res=%+v err=%v", res, err)
	}
	// The robot's opening send activates the pending session; only then
	// does it occupy the pair's slot for continuity.
	if _, err := m.AttachMessage(res.SessionID, msg("m0", "hi 您好，关于议价", "account", "bot", time.Now())); err != nil {
		t.Fatalf("activate: %v", err)
	}

	out := m.ProcessBatch(context.Background(), []MessageData{
		msg("m1", "可以便宜吗", "shop", "buyer-1", time.Now()),
	}, "acct-1", "Shop A", 2*time.Hour)
	if len(out.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", out.Errors)
	}
	if out.ActiveSessionID != res.SessionID {
		t.Fatalf("expected join of %s, got %s", res.SessionID, out.ActiveSessionID)
	}
	if !containsOp(out.Operations, "join_session") {
		t.Fatalf("expected join_session, got %v", out.Operations)
	}

	sess, _ := m.GetSession(res.SessionID)
	if sess.State != models.StateActive || sess.CreatedBy != models.OwnerRobot {
		t.Fatalf("robot session should stay robot-owned, got %s/%s", sess.State, sess.CreatedBy)
	}
}

func TestProcessBatch_InterventionHandsOff(t *testing.T) {
	gdb := testDB(t)
	rec := &recordingNotifier{}
	m := NewManager(gdb, Options{
		Detector: NewPrefixDetector("", []string{"旺旺客服1"}),
		Notifier: rec,
	})

	res, _ := m.CreateRobotSession("acct-1", "Shop A", models.TaskAutoBargain, "task-1", 2*time.Hour)
	if _, err := m.AttachMessage(res.SessionID, msg("m0", "hi 您好，关于议价", "account", "旺旺客服1", time.Now())); err != nil {
		t.Fatalf("activate: %v", err)
	}

	// A marker-prefixed operator reply joins without tripping the detector.
	m.ProcessBatch(context.Background(), []MessageData{
		msg("m1", "hi 自动回复：您好", "account", "旺旺客服1", time.Now()),
	}, "acct-1", "Shop A", 2*time.Hour)

	sess, _ := m.GetSession(res.SessionID)
	if sess.State != models.StateActive {
		t.Fatalf("marker-prefixed reply must not hand off, got %s", sess.State)
	}

	out := m.ProcessBatch(context.Background(), []MessageData{
		msg("m2", "您好，人工处理", "account", "旺旺客服1", time.Now()),
	}, "acct-1", "Shop A", 2*time.Hour)
	if !containsOp(out.Operations, "switch_to_human") {
		t.Fatalf("expected switch_to_human, got %v", out.Operations)
	}

	sess, _ = m.GetSession(res.SessionID)
	if sess.State != models.StateTransferred || sess.CreatedBy != models.OwnerHuman {
		t.Fatalf("expected transferred/human after intervention, got %s/%s", sess.State, sess.CreatedBy)
	}
	if len(rec.handOffs) != 1 {
		t.Fatalf("expected one hand-off notification, got %d", len(rec.handOffs))
	}

	var transfer models.SessionTransfer
	if err := gdb.Where("session_id = ?", res.SessionID).First(&transfer).Error; err != nil {
		t.Fatalf("expected a transfer record: %v", err)
	}
	if transfer.ToType != models.OwnerHuman {
		t.Fatalf("expected transfer to human, got %s", transfer.ToType)
	}
}

func TestProcessBatch_TransferredSessionRenotifies(t *testing.T) {
	rec := &recordingNotifier{}
	m := NewManager(testDB(t), Options{Notifier: rec})

	first := m.ProcessBatch(context.Background(), []MessageData{
		msg("m1", "在吗", "shop", "buyer-1", time.Now()),
	}, "acct-1", "Shop A", 2*time.Hour)

	second := m.ProcessBatch(context.Background(), []MessageData{
		msg("m2", "还在吗", "shop", "buyer-1", time.Now()),
	}, "acct-1", "Shop A", 2*time.Hour)

	if second.ActiveSessionID != first.ActiveSessionID {
		t.Fatalf("expected join of %s, got %s", first.ActiveSessionID, second.ActiveSessionID)
	}
	if len(rec.handOffs) != 2 {
		t.Fatalf("expected a notification per batch on a transferred session, got %d", len(rec.handOffs))
	}
}

func TestProcessBatch_StaleSessionSuperseded(t *testing.T) {
	gdb := testDB(t)
	m := NewManager(gdb, Options{})

	res, _ := m.CreateRobotSession("acct-1", "Shop A", models.TaskAutoBargain, "task-1", 2*time.Hour)
	if _, err := m.AttachMessage(res.SessionID, msg("m1", "hi 您好", "account", "bot", time.Now())); err != nil {
		t.Fatalf("activate: %v", err)
	}

	stale := time.Now().Add(-3 * time.Hour)
	gdb.Model(&models.Session{}).
		Where("session_id = ?", res.SessionID).
		Update("last_activity", stale)

	out := m.ProcessBatch(context.Background(), []MessageData{
		msg("m2", "还有优惠吗", "shop", "buyer-1", time.Now()),
	}, "acct-1", "Shop A", 2*time.Hour)
	if out.ActiveSessionID == res.SessionID {
		t.Fatal("a stale session must not be joined")
	}

	old, _ := m.GetSession(res.SessionID)
	if old.State != models.StateTimeout {
		t.Fatalf("expected stale session timed out, got %s", old.State)
	}
}

func TestProcessBatch_NotifierFailureDoesNotLoseMessages(t *testing.T) {
	rec := &recordingNotifier{err: context.DeadlineExceeded}
	m := NewManager(testDB(t), Options{Notifier: rec})

	out := m.ProcessBatch(context.Background(), []MessageData{
		msg("m1", "在吗", "shop", "buyer-1", time.Now()),
	}, "acct-1", "Shop A", 2*time.Hour)

	if out.Processed != 1 {
		t.Fatalf("message must be stored despite notifier failure, got %d processed", out.Processed)
	}
	if len(out.Errors) == 0 {
		t.Fatal("expected the notification failure to surface in Errors")
	}
	if containsOp(out.Operations, "notify_human") {
		t.Fatal("notify_human must not be recorded on failure")
	}

	sess, _ := m.GetSession(out.ActiveSessionID)
	if sess == nil || sess.MessageCount != 1 {
		t.Fatalf("expected a stored message on the new session, got %+v", sess)
	}
}

func TestProcessBatch_EmptyAfterDedup(t *testing.T) {
	m := NewManager(testDB(t), Options{})

	batch := []MessageData{msg("m1", "在吗", "shop", "buyer-1", time.Now())}
	m.ProcessBatch(context.Background(), batch, "acct-1", "Shop A", 2*time.Hour)

	out := m.ProcessBatch(context.Background(), batch, "acct-1", "Shop A", 2*time.Hour)
	if out.Processed != 0 || out.Skipped != 1 {
		t.Fatalf("expected 0/1, got %d/%d", out.Processed, out.Skipped)
	}
	if len(out.Operations) != 0 {
		t.Fatalf("a fully deduplicated batch performs no operations, got %v", out.Operations)
	}
}
