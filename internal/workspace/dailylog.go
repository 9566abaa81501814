package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// dailyLogDir is the workspace subtree append-only daily logs live under:
// daily/YYYY-MM-DD.md.
const dailyLogDir = "daily"

// DailyLogPath returns the path to the append-only log for date within
// root's daily/ subtree.
func DailyLogPath(root string, date time.Time) string {
	return filepath.Join(root, dailyLogDir, date.Format("2006-01-02")+".md")
}

// SessionSnapshotPath returns the path a saved thread snapshot is written
// to: daily/YYYY-MM-DD-session-HHMMSS.md.
func SessionSnapshotPath(root string, at time.Time) string {
	name := fmt.Sprintf("%s-session-%s.md", at.Format("2006-01-02"), at.Format("150405"))
	return filepath.Join(root, dailyLogDir, name)
}

// TaskArchivePath returns the path a task-archive summary is written to:
// daily/YYYY-MM-DD-task-archive.md.
func TaskArchivePath(root string, at time.Time) string {
	return filepath.Join(root, dailyLogDir, at.Format("2006-01-02")+"-task-archive.md")
}

// LoadDailyLog reads the daily log for date, returning "" if it has not
// been written yet.
func LoadDailyLog(root string, date time.Time) (string, error) {
	return readOptionalFile(DailyLogPath(root, date))
}

// TodayAndYesterday loads today's and yesterday's daily logs relative to
// now, in the order the system prompt assembles them: persona, then user
// profile, then today's daily log, then yesterday's.
func TodayAndYesterday(root string, now time.Time) (today, yesterday string, err error) {
	today, err = LoadDailyLog(root, now)
	if err != nil {
		return "", "", err
	}
	yesterday, err = LoadDailyLog(root, now.AddDate(0, 0, -1))
	if err != nil {
		return "", "", err
	}
	return today, yesterday, nil
}

// AppendDailyLog appends entry, newline-terminated, to today's daily log,
// creating the daily/ directory and file if needed. Appends are not
// routed through DedupWriter: daily logs are append-only by design, so
// the same entry appearing twice (e.g. a retried submission) is expected
// to produce two lines, unlike MEMORY.md or IDENTITY.md which are
// overwritten wholesale.
func AppendDailyLog(root string, at time.Time, entry string) error {
	path := DailyLogPath(root, at)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteString(entry); err != nil {
		return err
	}
	if len(entry) == 0 || entry[len(entry)-1] != '\n' {
		if _, err := f.WriteString("\n"); err != nil {
			return err
		}
	}
	return nil
}
