package database

import "time"

// FileRecord is one row in the files table, one per logical upload.
// BlobURL, BlobPathname and Size stay empty until the physical upload
// completes; DownloadedAt and DeletedAt are set on first download.
type FileRecord struct {
	ID            string
	Filename      string
	BlobURL       string
	BlobPathname  string
	Size          int64
	IPAddress     string
	UserAgent     string
	UploadedAt    time.Time
	ExpiresAt     time.Time
	DownloadCount int
	DownloadedAt  *time.Time
	DeletedAt     *time.Time
}

// IPBan is one row in the ip_bans table. A nil ExpiresAt means permanent.
type IPBan struct {
	IPAddress string
	Reason    string
	BannedAt  time.Time
	ExpiresAt *time.Time
	CreatedBy string
}

// LoginAttempt is one row in the append-only admin_login_attempts log.
type LoginAttempt struct {
	ID          int64
	IPAddress   string
	AttemptedAt time.Time
	Success     bool
	UserAgent   string
}

// Stats holds the public aggregate counters.
type Stats struct {
	TotalUploads   int64
	ActiveUploads  int64
	TotalDownloads int64
	StorageUsed    int64
}

// AdminStats holds the counters shown on the admin dashboard.
type AdminStats struct {
	TotalFiles   int64
	TotalSize    int64
	TodayUploads int64
	ExpiringSoon int64
}
