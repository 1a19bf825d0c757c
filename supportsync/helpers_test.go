package supportsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"bitbucket.org/gigvora/support_backend/config"
	"bitbucket.org/gigvora/support_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testBase = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

func seedUser(t *testing.T, db *gorm.DB, id int, name, email, phone string) {
	t.Helper()
	u := models.User{ID: id, Name: name, Phone: phone, Status: "active"}
	if email != "" {
		u.Email = &email
	}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("seed user %d: %v", id, err)
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recordingCache struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (c *recordingCache) Invalidate(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, append([]string(nil), keys...))
	return c.err
}

func (c *recordingCache) last() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.calls) == 0 {
		return nil
	}
	return c.calls[len(c.calls)-1]
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []EscalationNotice
	err     error
}

func (n *recordingNotifier) Notify(_ context.Context, notice EscalationNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notices)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testSettings() config.SupportSettings {
	s := config.SupportSettings{
		Enabled:      true,
		BaseURL:      "https://chat.example.com",
		WebsiteToken: "web-token",
	}
	s.ApplyDefaults()
	return s
}

type testEngine struct {
	*Engine
	db       *gorm.DB
	clock    *fakeClock
	cache    *recordingCache
	notifier *recordingNotifier
}

// newTestEngine seeds the owner (7) and agent (3) used by most scenarios.
func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	db := newTestDB(t)
	seedUser(t, db, 7, "Ada Customer", "ada@gigvora.test", "")
	seedUser(t, db, 3, "Sam Agent", "agent@gigvora.test", "")

	clock := &fakeClock{now: testBase}
	cache := &recordingCache{}
	notifier := &recordingNotifier{}
	engine := NewEngine(db, testSettings(),
		WithCache(cache),
		WithNotifier(notifier),
		WithClock(clock.Now),
		WithLogger(quietLogger()),
	)
	return &testEngine{Engine: engine, db: db, clock: clock, cache: cache, notifier: notifier}
}

type convFixture struct {
	id        int
	status    string
	priority  string
	updatedAt time.Time
	// contactAttrs replaces the default gigvora_user_id=7 contact attributes.
	contactAttrs map[string]interface{}
	assignee     map[string]interface{}
}

func conversationObject(c convFixture) map[string]interface{} {
	attrs := c.contactAttrs
	if attrs == nil {
		attrs = map[string]interface{}{"gigvora_user_id": 7}
	}
	conv := map[string]interface{}{
		"id":         c.id,
		"inbox_id":   5,
		"account_id": 1,
		"status":     c.status,
		"priority":   c.priority,
		"meta": map[string]interface{}{
			"sender": map[string]interface{}{
				"id":                900,
				"type":              "contact",
				"name":              "Ada",
				"custom_attributes": attrs,
			},
		},
		"additional_attributes": map[string]interface{}{},
	}
	if c.assignee != nil {
		conv["meta"].(map[string]interface{})["assignee"] = c.assignee
	}
	if !c.updatedAt.IsZero() {
		conv["updated_at"] = c.updatedAt.Unix()
	}
	return conv
}

func conversationBody(t *testing.T, event string, c convFixture) []byte {
	t.Helper()
	obj := conversationObject(c)
	obj["event"] = event
	b, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

type msgFixture struct {
	id          string
	messageType string
	content     interface{}
	sender      map[string]interface{}
	createdAt   time.Time
	private     bool
}

func contactSender() map[string]interface{} {
	return map[string]interface{}{"id": 900, "type": "contact", "name": "Ada"}
}

func agentSender() map[string]interface{} {
	return map[string]interface{}{"id": 31, "type": "user", "name": "Sam", "email": "Agent@Gigvora.test"}
}

func messageBody(t *testing.T, c convFixture, m msgFixture) []byte {
	t.Helper()
	obj := map[string]interface{}{
		"event":        "message_created",
		"id":           m.id,
		"message_type": m.messageType,
		"content":      m.content,
		"content_type": "text",
		"private":      m.private,
		"conversation": conversationObject(c),
	}
	if m.sender != nil {
		obj["sender"] = m.sender
	}
	if !m.createdAt.IsZero() {
		obj["created_at"] = m.createdAt.Unix()
	}
	b, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func mustNormalize(t *testing.T, event string, body []byte) Event {
	t.Helper()
	ev, err := Normalize(event, body)
	if err != nil {
		t.Fatalf("Normalize(%s): %v", event, err)
	}
	return ev
}

func (te *testEngine) deliver(t *testing.T, event string, body []byte) *Result {
	t.Helper()
	res, err := te.Reconcile(context.Background(), mustNormalize(t, event, body))
	if err != nil {
		t.Fatalf("Reconcile(%s): %v", event, err)
	}
	return res
}

func (te *testEngine) supportCase(t *testing.T, threadId int) models.SupportCase {
	t.Helper()
	var sc models.SupportCase
	if err := te.db.Where("thread_id = ?", threadId).Take(&sc).Error; err != nil {
		t.Fatalf("load case: %v", err)
	}
	return sc
}

func (te *testEngine) thread(t *testing.T, id int) models.Thread {
	t.Helper()
	var th models.Thread
	if err := te.db.Where("id = ?", id).Take(&th).Error; err != nil {
		t.Fatalf("load thread: %v", err)
	}
	return th
}

func (te *testEngine) messageCount(t *testing.T, threadId int) int64 {
	t.Helper()
	var n int64
	if err := te.db.Model(&models.ThreadMessage{}).Where("thread_id = ?", threadId).Count(&n).Error; err != nil {
		t.Fatalf("count messages: %v", err)
	}
	return n
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

type failingDirectory struct{}

func (failingDirectory) FindByID(context.Context, int) (*models.User, error) {
	return nil, errors.New("connection reset")
}

func (failingDirectory) FindByEmail(context.Context, string) (*models.User, error) {
	return nil, errors.New("connection reset")
}

func (failingDirectory) FindByPhone(context.Context, string) (*models.User, error) {
	return nil, errors.New("connection reset")
}
