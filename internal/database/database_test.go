package database

import (
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB points the package global at an in-memory SQLite database.
func setupTestDB(t *testing.T) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := db.AutoMigrate(&Host{}, &CommandArchive{}, &AuditLog{}, &Setting{}); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	prev := DB
	DB = db
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		DB = prev
	})
}

func TestSettingRoundTrip(t *testing.T) {
	setupTestDB(t)

	if err := SetSetting("fernet_key", "abc123"); err != nil {
		t.Fatalf("set setting: %v", err)
	}
	val, err := GetSetting("fernet_key")
	if err != nil {
		t.Fatalf("get setting: %v", err)
	}
	if val != "abc123" {
		t.Errorf("got %q, want %q", val, "abc123")
	}

	// Overwrite keeps a single row
	if err := SetSetting("fernet_key", "xyz789"); err != nil {
		t.Fatalf("overwrite setting: %v", err)
	}
	val, _ = GetSetting("fernet_key")
	if val != "xyz789" {
		t.Errorf("after overwrite got %q, want %q", val, "xyz789")
	}

	if err := DeleteSetting("fernet_key"); err != nil {
		t.Fatalf("delete setting: %v", err)
	}
	if _, err := GetSetting("fernet_key"); err == nil {
		t.Error("expected error reading deleted setting")
	}
}

func TestHostDefaults(t *testing.T) {
	setupTestDB(t)

	h := Host{Alias: "web1", Hostname: "web1.example.com"}
	if err := DB.Create(&h).Error; err != nil {
		t.Fatalf("create host: %v", err)
	}

	loaded, err := GetHostByAlias("web1")
	if err != nil {
		t.Fatalf("load host: %v", err)
	}
	if loaded.Port != 22 {
		t.Errorf("expected Port default 22, got %d", loaded.Port)
	}
}

func TestUpsertHost(t *testing.T) {
	setupTestDB(t)

	h := &Host{Alias: "db1", Hostname: "10.0.0.5", Port: 2222, Username: "admin"}
	if err := UpsertHost(h); err != nil {
		t.Fatalf("insert host: %v", err)
	}

	// Update the same alias: row count stays 1, fields change
	h2 := &Host{Alias: "db1", Hostname: "10.0.0.6", Port: 22, Username: "root"}
	if err := UpsertHost(h2); err != nil {
		t.Fatalf("update host: %v", err)
	}

	hosts, err := ListHosts()
	if err != nil {
		t.Fatalf("list hosts: %v", err)
	}
	if len(hosts) != 1 {
		t.Fatalf("expected 1 host after upsert, got %d", len(hosts))
	}
	if hosts[0].Hostname != "10.0.0.6" || hosts[0].Username != "root" {
		t.Errorf("upsert did not update fields: %+v", hosts[0])
	}
}

func TestDeleteHost(t *testing.T) {
	setupTestDB(t)

	if err := UpsertHost(&Host{Alias: "gone", Hostname: "x"}); err != nil {
		t.Fatalf("insert host: %v", err)
	}
	if err := DeleteHost("gone"); err != nil {
		t.Fatalf("delete host: %v", err)
	}
	if err := DeleteHost("gone"); !IsNotFoundErr(err) {
		t.Errorf("second delete should report record not found, got %v", err)
	}
}

func TestArchiveQueryOrderAndLimit(t *testing.T) {
	setupTestDB(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		a := CommandArchive{
			CommandID:  "cmd-" + string(rune('a'+i)),
			SessionKey: "root@web1:22",
			Command:    "uptime",
			Status:     "completed",
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := SaveArchive(&a); err != nil {
			t.Fatalf("save archive: %v", err)
		}
	}

	rows, err := QueryArchive("root@web1:22", 3)
	if err != nil {
		t.Fatalf("query archive: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}

	rows, err = QueryArchive("other@host:22", 10)
	if err != nil {
		t.Fatalf("query archive (other key): %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no rows for unknown session key, got %d", len(rows))
	}
}
