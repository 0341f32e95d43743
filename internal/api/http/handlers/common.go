package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/marketplace-support/internal/auth"
	"github.com/spec-kit/marketplace-support/internal/domain"
	apperrors "github.com/spec-kit/marketplace-support/pkg/util/errorutil"
)

const defaultPageSize = 20

// AttachmentChecker confirms that a storage key refers to an uploaded file
// and tells who uploaded it.
type AttachmentChecker interface {
	Exists(key string) bool
	OwnedBy(key, ownerID string) bool
}

func currentPrincipal(c *fiber.Ctx) (domain.Principal, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return domain.Principal{}, apperrors.NewUnauthorized("authentication required")
	}
	return principal, nil
}

// pagination turns page/page_size into limit/offset.
func pagination(c *fiber.Ctx) (limit, offset int) {
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), defaultPageSize)
	return pageSize, (page - 1) * pageSize
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func optionalQuery(c *fiber.Ctx, key string) *string {
	val := strings.TrimSpace(c.Query(key))
	if val == "" {
		return nil
	}
	return &val
}

// checkStorageKeys accepts keys of existing uploads made by the caller. Admins
// may reference any upload. Other owners' keys are reported like missing ones.
func checkStorageKeys(checker AttachmentChecker, p domain.Principal, field string, keys []string) error {
	if checker == nil {
		return nil
	}
	for _, key := range keys {
		if !checker.Exists(key) || (!p.IsAdmin() && !checker.OwnedBy(key, p.UserID)) {
			return apperrors.NewValidationError("unknown upload", map[string]any{field: key})
		}
	}
	return nil
}
