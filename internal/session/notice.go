package session

import (
	"fmt"

	"github.com/stemsi/exstem-examroom/internal/model"
)

// NoticeLevel is the severity a client uses to render a notice.
type NoticeLevel string

const (
	LevelInfo    NoticeLevel = "info"
	LevelSuccess NoticeLevel = "success"
	LevelWarning NoticeLevel = "warning"
	LevelError   NoticeLevel = "error"
)

// NoticeCode identifies a user-visible notice.
type NoticeCode string

const (
	NoticeExamStarted      NoticeCode = "EXAM_STARTED"
	NoticeFullscreenExit   NoticeCode = "FULLSCREEN_EXIT"
	NoticeTabSwitch        NoticeCode = "TAB_SWITCH"
	NoticePasteBlocked     NoticeCode = "PASTE_BLOCKED"
	NoticeMaxViolations    NoticeCode = "MAX_VIOLATIONS_REACHED"
	NoticePhotoUploaded    NoticeCode = "PHOTO_UPLOADED"
	NoticePhotoFailed      NoticeCode = "PHOTO_UPLOAD_FAILED"
	NoticeResultSaved      NoticeCode = "RESULT_SAVED"
	NoticeResultSaveFailed NoticeCode = "RESULT_SAVE_FAILED"
)

// Notice is a toast-style message for the student.
type Notice struct {
	Code    NoticeCode     `json:"code"`
	Level   NoticeLevel    `json:"level"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func newNotice(code NoticeCode, data map[string]any) Notice {
	level, msg := noticeText(code)
	return Notice{Code: code, Level: level, Message: msg, Data: data}
}

func noticeText(code NoticeCode) (NoticeLevel, string) {
	switch code {
	case NoticeExamStarted:
		return LevelSuccess, "Ujian dimulai dalam mode fullscreen."
	case NoticeFullscreenExit:
		return LevelError, "Mohon tetap dalam mode fullscreen selama ujian!"
	case NoticeTabSwitch:
		return LevelWarning, "Terdeteksi perpindahan tab. Tetap fokus pada ujian!"
	case NoticePasteBlocked:
		return LevelError, "Menempel teks tidak diizinkan selama ujian."
	case NoticeMaxViolations:
		return LevelError, "Terlalu banyak pelanggaran terdeteksi!"
	case NoticePhotoUploaded:
		return LevelSuccess, "Foto berhasil diunggah."
	case NoticePhotoFailed:
		return LevelError, "Gagal mengunggah foto."
	case NoticeResultSaved:
		return LevelSuccess, "Ujian berhasil dikumpulkan!"
	case NoticeResultSaveFailed:
		return LevelWarning, "Gagal menyimpan hasil ujian, namun skor Anda telah direkam lokal."
	default:
		return LevelInfo, string(code)
	}
}

func violationNotice(kind model.ViolationKind, count, limit int) Notice {
	data := map[string]any{"violation_count": count, "max_violations": limit}
	switch kind {
	case model.ViolationFullscreenExit:
		return newNotice(NoticeFullscreenExit, data)
	case model.ViolationTabSwitch:
		return newNotice(NoticeTabSwitch, data)
	default:
		return newNotice(NoticePasteBlocked, data)
	}
}

// FormatRemaining renders seconds as mm:ss, or h:mm:ss from one hour up.
func FormatRemaining(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h, m, s := seconds/3600, (seconds%3600)/60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
