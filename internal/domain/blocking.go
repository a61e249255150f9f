package domain

import (
	"fmt"
	"strings"
)

// BlockingCategory scopes an administrative blocking condition.
type BlockingCategory string

const (
	BlockingApplication BlockingCategory = "application"
	BlockingAPI         BlockingCategory = "api"
	BlockingUser        BlockingCategory = "user"
	// BlockingAddress is published on the bus as "ip".
	BlockingAddress BlockingCategory = "ip"
)

// BlockingCategories lists every category in a stable order.
var BlockingCategories = []BlockingCategory{
	BlockingApplication,
	BlockingAPI,
	BlockingUser,
	BlockingAddress,
}

func (c BlockingCategory) String() string { return string(c) }

func (c BlockingCategory) IsValid() bool {
	switch c {
	case BlockingApplication, BlockingAPI, BlockingUser, BlockingAddress:
		return true
	}
	return false
}

func ParseBlockingCategory(s string) (BlockingCategory, error) {
	c := BlockingCategory(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("%w: unknown blocking condition %q", ErrValidation, s)
	}
	return c, nil
}
