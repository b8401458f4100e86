package pki

import (
	"context"
	"crypto/x509/pkix"
	"fmt"

	"github.com/AnathPKI/anath-server-sub001/directory"
)

// Constraint validates a signing request's subject against policy before any
// certificate is built. Implementations read the caller's identity from the
// context where needed but have no other side effects.
type Constraint interface {
	Validate(ctx context.Context, subject, issuer pkix.Name) error
}

// ConstraintChain holds an ordered sequence of constraints. Validation
// short-circuits on the first failure.
type ConstraintChain struct {
	constraints []Constraint
}

// NewConstraintChain builds a chain from the given constraints, evaluated in
// order.
func NewConstraintChain(constraints ...Constraint) *ConstraintChain {
	return &ConstraintChain{constraints: constraints}
}

// Append adds a constraint to the end of the chain.
func (c *ConstraintChain) Append(constraint Constraint) {
	c.constraints = append(c.constraints, constraint)
}

// Validate runs every constraint in order and returns the first violation.
func (c *ConstraintChain) Validate(ctx context.Context, subject, issuer pkix.Name) error {
	for _, constraint := range c.constraints {
		if err := constraint.Validate(ctx, subject, issuer); err != nil {
			return err
		}
	}
	return nil
}

// OrganizationMatch is the base policy rule: the subject's organization
// attribute must be present and equal to the issuer's.
type OrganizationMatch struct{}

var _ Constraint = OrganizationMatch{}

func (OrganizationMatch) Validate(_ context.Context, subject, issuer pkix.Name) error {
	subjectOrg := subjectOrganization(subject)
	if subjectOrg == "" {
		return &ConstraintViolation{Rule: RuleOrganizationMissing}
	}
	if issuerOrg := subjectOrganization(issuer); subjectOrg != issuerOrg {
		return &ConstraintViolation{
			Rule:   RuleOrganizationMismatch,
			Detail: fmt.Sprintf("subject organization %q does not match issuer organization %q", subjectOrg, issuerOrg),
		}
	}
	return nil
}

// PrincipalBinding binds the certificate identity to the authenticated
// caller: the subject's email must equal the caller's on-record email and
// the common name must equal the caller's display name. This prevents
// identity spoofing in self-service issuance.
type PrincipalBinding struct {
	Directory directory.Directory
}

var _ Constraint = PrincipalBinding{}

func (p PrincipalBinding) Validate(ctx context.Context, subject, _ pkix.Name) error {
	principal, ok := directory.PrincipalFrom(ctx)
	if !ok {
		return &ConstraintViolation{Rule: RulePrincipalMissing, Detail: "no authenticated principal in context"}
	}
	user, err := p.Directory.Lookup(ctx, principal)
	if err != nil {
		return fmt.Errorf("looking up principal %q: %w", principal, err)
	}

	email := SubjectEmail(subject, nil)
	if email == "" {
		return &ConstraintViolation{Rule: RuleEmailMissing}
	}
	if email != user.Email {
		return &ConstraintViolation{
			Rule:   RuleEmailMismatch,
			Detail: fmt.Sprintf("subject email %q does not match caller email %q", email, user.Email),
		}
	}
	if display := user.DisplayName(); subject.CommonName != display {
		return &ConstraintViolation{
			Rule:   RuleCommonNameMismatch,
			Detail: fmt.Sprintf("subject common name %q does not match caller name %q", subject.CommonName, display),
		}
	}
	return nil
}
