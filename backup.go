package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// backupRetention is how many backup files are kept before the oldest get
// trimmed.
const backupRetention = 14

var backupScheduler *cron.Cron

func init() {
	RegisterDaemon("backup", LogBackup, StartBackupScheduler)
}

// StartBackupScheduler runs the daily VACUUM INTO backup on the configured
// cron schedule.
func StartBackupScheduler(ctx context.Context) (bool, func(), func()) {
	if GlobalConfig == nil || GlobalConfig.BackupSchedule == "" {
		return false, nil, nil
	}

	backupScheduler = cron.New()
	_, err := backupScheduler.AddFunc(GlobalConfig.BackupSchedule, func() {
		if err := BackupDatabase(ctx); err != nil {
			LogBackup(MsgDatabaseBackupFailed, err)
		}
	})
	if err != nil {
		LogBackup(MsgDatabaseBackupFailed, err)
		return false, nil, nil
	}

	return true, func() {
			backupScheduler.Start()
			<-ctx.Done()
		}, func() {
			LogBackup(MsgDaemonShuttingDown, "Backup Scheduler")
			stopCtx := backupScheduler.Stop()
			<-stopCtx.Done()
		}
}

// BackupDatabase writes a consistent snapshot with VACUUM INTO and trims
// backups beyond the retention window.
func BackupDatabase(ctx context.Context) error {
	if err := os.MkdirAll(GlobalConfig.BackupDir, 0755); err != nil {
		return err
	}

	name := fmt.Sprintf("%s-%s.db", GetProjectName(), time.Now().UTC().Format("20060102-150405"))
	target := filepath.Join(GlobalConfig.BackupDir, name)

	start := time.Now()
	if _, err := DB.ExecContext(ctx, "VACUUM INTO ?", target); err != nil {
		return err
	}
	LogBackup(MsgDatabaseBackupDone, target, time.Since(start).Round(time.Millisecond))

	return trimOldBackups(GlobalConfig.BackupDir)
}

func trimOldBackups(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var backups []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".db") {
			backups = append(backups, e.Name())
		}
	}
	if len(backups) <= backupRetention {
		return nil
	}

	// Timestamped names sort chronologically.
	sort.Strings(backups)
	for _, name := range backups[:len(backups)-backupRetention] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}
