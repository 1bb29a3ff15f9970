package controller

import "fmt"

// 本地提交校验的阈值，与源站接口约束一致。
const (
	MinDescriptionLen = 3
	MaxPhotoBytes     = 1 << 20 // 1 MiB
)

// ValidationError 表示本地前置校验失败，Constraint 指明被违反的约束。
// 校验失败的提交不会发起任何网络调用。
type ValidationError struct {
	Constraint string
	Message    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Constraint, e.Message)
}

func validateSubmission(description string, photo []byte) error {
	if len([]rune(description)) < MinDescriptionLen {
		return &ValidationError{
			Constraint: "description_min_length",
			Message:    fmt.Sprintf("Deskripsi minimal %d karakter", MinDescriptionLen),
		}
	}
	if len(photo) == 0 {
		return &ValidationError{
			Constraint: "photo_required",
			Message:    "Foto wajib ada",
		}
	}
	if len(photo) > MaxPhotoBytes {
		return &ValidationError{
			Constraint: "photo_max_size",
			Message:    "Foto maksimal 1MB",
		}
	}
	return nil
}
