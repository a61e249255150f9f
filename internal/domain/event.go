package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Field names carried by control-plane event records.
const (
	FieldThrottleKey     = "throttleKey"
	FieldIsThrottled     = "isThrottled"
	FieldExpiryTimestamp = "expiryTimestamp"

	FieldBlockingCondition = "blockingCondition"
	FieldConditionValue    = "conditionValue"
	FieldConditionState    = "state"
	FieldTenantDomain      = "domain"

	FieldKeyTemplateValue = "keyTemplateValue"
	FieldKeyTemplateState = "keyTemplateState"
)

// KeyTemplateAdd is the only keyTemplateState value that activates a template.
const KeyTemplateAdd = "add"

// EventFamily is the classification of an incoming record.
type EventFamily string

const (
	FamilyThrottle    EventFamily = "throttle"
	FamilyBlocking    EventFamily = "blocking"
	FamilyKeyTemplate EventFamily = "key_template"
	FamilyUnsupported EventFamily = "unsupported"
)

func (f EventFamily) String() string { return string(f) }

// ParseFlag parses a "true"/"false" field value, ignoring case and surrounding spaces.
func ParseFlag(field, value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("%w: %s must be true or false, got %q", ErrValidation, field, value)
}

// ParseEpochMillis converts an epoch-milliseconds field value to a time.
func ParseEpochMillis(field, value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", ErrValidation, field)
	}
	millis, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s is not an epoch millisecond value: %v", ErrValidation, field, err)
	}
	return time.UnixMilli(millis), nil
}
