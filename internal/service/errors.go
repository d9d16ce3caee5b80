package service

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain"
	"github.com/google/uuid"
)

var ErrForbidden = errors.New("forbidden: insufficient permissions")

// Caller is the authenticated actor behind a request.
type Caller struct {
	UserID     uuid.UUID
	Role       domain.Role
	ProviderID *uuid.UUID
	IPAddress  string
	RequestID  string
}

// CanActFor reports whether the caller may read or change providerID's data.
// Staff and admins act on behalf of any provider.
func (c Caller) CanActFor(providerID uuid.UUID) bool {
	switch c.Role {
	case domain.RoleAdmin, domain.RoleStaff:
		return true
	case domain.RoleProvider:
		return c.ProviderID != nil && *c.ProviderID == providerID
	}
	return false
}

type AuditEntry struct {
	UserID       uuid.UUID
	UserRole     domain.Role
	Action       domain.AuditAction
	ResourceType string
	ResourceID   string
	IPAddress    string
	RequestID    string
	Changes      string
}

func (c Caller) auditEntry(action domain.AuditAction, resourceType, resourceID string, changes any) AuditEntry {
	entry := AuditEntry{
		UserID:       c.UserID,
		UserRole:     c.Role,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IPAddress:    c.IPAddress,
		RequestID:    c.RequestID,
	}
	if changes != nil {
		if raw, err := json.Marshal(changes); err == nil {
			entry.Changes = string(raw)
		}
	}
	return entry
}

// passOrWrap returns business rejections untouched and wraps infrastructure
// failures with the operation that hit them.
func passOrWrap(err error, op string) error {
	if err == nil || domain.KindOf(err) != "" {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
