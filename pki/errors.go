package pki

import (
	"errors"
	"fmt"
)

var (
	// ErrSigning is returned on cryptographic or internal failures during
	// certificate construction. It is not user-correctable; callers should
	// log it with full context and surface an opaque internal failure.
	ErrSigning = errors.New("certificate signing failed")

	// ErrInvalidPEM is returned when PEM input cannot be decoded or parsed.
	ErrInvalidPEM = errors.New("invalid PEM data")

	// ErrCANotInitialized is returned when CA material is absent from the
	// key store.
	ErrCANotInitialized = errors.New("certificate authority is not initialized")

	// ErrCAAlreadyInitialized is returned when InitCA is called while CA
	// material already exists.
	ErrCAAlreadyInitialized = errors.New("certificate authority is already initialized")
)

// Constraint rule identifiers reported in violations.
const (
	RulePrincipalMissing     = "principal missing"
	RuleOrganizationMissing  = "organization missing"
	RuleOrganizationMismatch = "organization mismatch"
	RuleEmailMissing         = "email missing"
	RuleEmailMismatch        = "email mismatch"
	RuleCommonNameMismatch   = "common name mismatch"
)

// ConstraintViolation is a policy rejection of a signing request. It is
// user-correctable and identifies the violated rule.
type ConstraintViolation struct {
	Rule   string
	Detail string
}

func (v *ConstraintViolation) Error() string {
	if v.Detail == "" {
		return fmt.Sprintf("constraint violation: %s", v.Rule)
	}
	return fmt.Sprintf("constraint violation: %s: %s", v.Rule, v.Detail)
}

// IsConstraintViolation reports whether err is (or wraps) a
// ConstraintViolation.
func IsConstraintViolation(err error) bool {
	var v *ConstraintViolation
	return errors.As(err, &v)
}
