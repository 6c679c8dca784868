package logging

import (
	"log/slog"
	"time"
)

// Common field names.
const (
	FieldService     = "service"
	FieldComponent   = "component"
	FieldRequestID   = "request_id"
	FieldOperationID = "operation_id"
	FieldLinkID      = "link_id"
	FieldTechnique   = "technique"
	FieldTier        = "tier"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldStatus      = "status"
	FieldDuration    = "duration_ms"
	FieldError       = "error"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Component returns a slog attribute for a component within the service.
func Component(name string) slog.Attr {
	return slog.String(FieldComponent, name)
}

// OperationID returns a slog attribute for an emulation operation id.
func OperationID(id string) slog.Attr {
	return slog.String(FieldOperationID, id)
}

// LinkID returns a slog attribute for a chain link id.
func LinkID(id string) slog.Attr {
	return slog.String(FieldLinkID, id)
}

// Technique returns a slog attribute for a MITRE technique id.
func Technique(id string) slog.Attr {
	return slog.String(FieldTechnique, id)
}

// Tier returns a slog attribute for the correlation tier.
func Tier(tier string) slog.Attr {
	return slog.String(FieldTier, tier)
}

func Method(method string) slog.Attr {
	return slog.String(FieldMethod, method)
}

func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Duration returns a slog attribute for an elapsed duration in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Int64(FieldDuration, d.Milliseconds())
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}
